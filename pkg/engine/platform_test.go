package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsCompatible(t *testing.T) {
	tests := []struct {
		target    Platform
		operation Platform
		want      bool
	}{
		{PlatformFedora, "", true},
		{PlatformWindows, "", true},
		{PlatformFedora, PlatformFedora, true},
		{PlatformFedora, PlatformLinux, true},
		{PlatformRHEL, PlatformLinux, true},
		{PlatformMac, PlatformLinux, false},
		{PlatformMac, PlatformUnix, true},
		{PlatformUbuntu, PlatformUnix, true},
		{PlatformWindows, PlatformUnix, false},
		{PlatformLinux, PlatformFedora, false},
		{PlatformUbuntu, PlatformFedora, false},
		{PlatformLinux, PlatformLinux, true},
		{PlatformUnix, PlatformLinux, false},
		{PlatformWindows, PlatformWindows, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.target)+"/"+string(tt.operation), func(t *testing.T) {
			assert.Equal(t, tt.want, IsCompatible(tt.target, tt.operation))
		})
	}
}

func TestFamily(t *testing.T) {
	assert.ElementsMatch(t,
		[]Platform{PlatformFedora, PlatformUbuntu, PlatformDebian, PlatformCentOS, PlatformRHEL},
		Family(PlatformLinux))
	assert.Contains(t, Family(PlatformUnix), PlatformMac)
	assert.Equal(t, []Platform{PlatformWindows}, Family(PlatformWindows))

	// Callers must not be able to mutate the shared family table.
	fam := Family(PlatformLinux)
	fam[0] = PlatformWindows
	assert.Equal(t, PlatformFedora, Family(PlatformLinux)[0])
}

func TestParsePlatform(t *testing.T) {
	p, err := ParsePlatform(" Fedora ")
	require.NoError(t, err)
	assert.Equal(t, PlatformFedora, p)

	_, err = ParsePlatform("beos")
	assert.Error(t, err)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Red Hat Enterprise Linux", PlatformRHEL.DisplayName())
	assert.Equal(t, "macOS", PlatformMac.DisplayName())
	assert.Equal(t, "Unix-like", PlatformUnix.DisplayName())
	assert.Equal(t, "plan9", Platform("plan9").DisplayName())
	for _, p := range Platforms() {
		assert.NoError(t, p.Validate())
	}
}

func TestFilterByPlatform(t *testing.T) {
	steps := []*Step{
		NewStep("a", "A", "echo a", WithPlatform(PlatformFedora)),
		NewStep("b", "B", "echo b", WithPlatform(PlatformUbuntu)),
		NewStep("c", "C", "echo c"),
		NewStep("d", "D", "echo d", WithPlatform(PlatformLinux)),
	}

	filtered := FilterByPlatform(steps, PlatformFedora)
	ids := make([]string, 0, len(filtered))
	for _, s := range filtered {
		ids = append(ids, s.ID())
	}
	assert.Equal(t, []string{"a", "c", "d"}, ids)
}
