package engine

import (
	"fmt"
	"slices"
	"strings"
)

// Platform identifies a target operating system or family of systems.
type Platform string

const (
	PlatformFedora  Platform = "fedora"
	PlatformUbuntu  Platform = "ubuntu"
	PlatformDebian  Platform = "debian"
	PlatformCentOS  Platform = "centos"
	PlatformRHEL    Platform = "rhel"
	PlatformMac     Platform = "mac"
	PlatformWindows Platform = "windows"
	PlatformLinux   Platform = "linux"
	PlatformUnix    Platform = "unix"
)

var linuxFamily = []Platform{
	PlatformFedora,
	PlatformUbuntu,
	PlatformDebian,
	PlatformCentOS,
	PlatformRHEL,
}

var displayNames = map[Platform]string{
	PlatformFedora:  "Fedora",
	PlatformUbuntu:  "Ubuntu",
	PlatformDebian:  "Debian",
	PlatformCentOS:  "CentOS",
	PlatformRHEL:    "Red Hat Enterprise Linux",
	PlatformMac:     "macOS",
	PlatformWindows: "Windows",
	PlatformLinux:   "Linux",
	PlatformUnix:    "Unix-like",
}

// Platforms returns every known platform value.
func Platforms() []Platform {
	return []Platform{
		PlatformFedora, PlatformUbuntu, PlatformDebian, PlatformCentOS, PlatformRHEL,
		PlatformMac, PlatformWindows, PlatformLinux, PlatformUnix,
	}
}

// ParsePlatform converts a string into a known Platform.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	if err := p.Validate(); err != nil {
		return "", err
	}
	return p, nil
}

// Validate returns an error if p is not a known platform.
func (p Platform) Validate() error {
	if _, ok := displayNames[p]; !ok {
		return fmt.Errorf("unknown platform: %q", string(p))
	}
	return nil
}

// DisplayName returns the human readable name of the platform.
func (p Platform) DisplayName() string {
	if name, ok := displayNames[p]; ok {
		return name
	}
	return string(p)
}

func (p Platform) String() string {
	return string(p)
}

// Family returns the concrete platforms an operation declared for p may run on.
// Specific distributions, mac and windows only cover themselves.
func Family(p Platform) []Platform {
	switch p {
	case PlatformLinux:
		return slices.Clone(linuxFamily)
	case PlatformUnix:
		return append(slices.Clone(linuxFamily), PlatformMac)
	default:
		return []Platform{p}
	}
}

// IsCompatible reports whether an operation declared for operation may run
// when the run targets target. The check is directional: an operation for
// "linux" runs on "fedora", but an operation for "fedora" does not run when
// the target is "linux". An empty operation platform matches everything.
func IsCompatible(target, operation Platform) bool {
	if operation == "" || operation == target {
		return true
	}
	return slices.Contains(Family(operation), target)
}

// FilterByPlatform returns the operations applicable to target, preserving order.
func FilterByPlatform[T Operation](ops []T, target Platform) []T {
	filtered := make([]T, 0, len(ops))
	for _, op := range ops {
		if IsCompatible(target, op.Platform()) {
			filtered = append(filtered, op)
		}
	}
	return filtered
}
