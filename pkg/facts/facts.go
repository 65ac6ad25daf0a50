// Package facts detects the platform a pipeline runs on.
//
// Detection is kept out of the engine: callers resolve a platform here and
// pass it to engine.Executor.ExecuteRun explicitly.
package facts

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/ruivieira/cheshire/pkg/engine"
)

// OSReleasePath is the standard location of the os-release file.
const OSReleasePath = "/etc/os-release"

// OSRelease holds the fields of an os-release file used for detection.
type OSRelease struct {
	ID         string   `json:"id"`
	IDLike     []string `json:"id_like,omitempty"`
	Name       string   `json:"name,omitempty"`
	Version    string   `json:"version,omitempty"`
	PrettyName string   `json:"pretty_name,omitempty"`
}

// ParseOSRelease parses KEY=value lines, ignoring comments and quotes.
func ParseOSRelease(content string) OSRelease {
	var rel OSRelease
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.Trim(value, `"'`)
		switch key {
		case "ID":
			rel.ID = strings.ToLower(value)
		case "ID_LIKE":
			rel.IDLike = strings.Fields(strings.ToLower(value))
		case "NAME":
			rel.Name = value
		case "VERSION":
			rel.Version = value
		case "PRETTY_NAME":
			rel.PrettyName = value
		}
	}
	return rel
}

var distributions = map[string]engine.Platform{
	"fedora": engine.PlatformFedora,
	"ubuntu": engine.PlatformUbuntu,
	"debian": engine.PlatformDebian,
	"centos": engine.PlatformCentOS,
	"rhel":   engine.PlatformRHEL,
}

// Platform maps the release to a distribution, falling back to ID_LIKE for
// derivatives and to generic linux when nothing matches.
func (r OSRelease) Platform() engine.Platform {
	if p, ok := distributions[r.ID]; ok {
		return p
	}
	for _, like := range r.IDLike {
		if p, ok := distributions[like]; ok {
			return p
		}
	}
	return engine.PlatformLinux
}

// PlatformFor resolves the platform from a GOOS value (or uname -s output)
// and the contents of os-release. It performs no I/O.
func PlatformFor(goos, osRelease string) engine.Platform {
	switch strings.ToLower(strings.TrimSpace(goos)) {
	case "darwin":
		return engine.PlatformMac
	case "windows":
		return engine.PlatformWindows
	case "linux":
		if osRelease == "" {
			return engine.PlatformLinux
		}
		return ParseOSRelease(osRelease).Platform()
	default:
		return engine.PlatformUnix
	}
}

// DetectLocal returns the platform of the current host.
func DetectLocal() engine.Platform {
	var content string
	if runtime.GOOS == "linux" {
		if data, err := os.ReadFile(OSReleasePath); err == nil {
			content = string(data)
		}
	}
	return PlatformFor(runtime.GOOS, content)
}

// Detect returns the platform of the host behind runner.
func Detect(ctx context.Context, runner engine.CommandRunner) (engine.Platform, error) {
	uname := runner.Run(ctx, "uname -s", 0)
	if !uname.Success {
		return "", fmt.Errorf("uname failed: %s", strings.TrimSpace(uname.Error))
	}
	kernel := strings.TrimSpace(uname.Output)

	var release string
	if strings.EqualFold(kernel, "linux") {
		res := runner.Run(ctx, "cat "+OSReleasePath, 0)
		if res.Success {
			release = res.Output
		}
	}
	return PlatformFor(kernel, release), nil
}

// Facts describes a host.
type Facts struct {
	Platform engine.Platform `json:"platform"`
	Release  OSRelease       `json:"release"`
	Kernel   string          `json:"kernel,omitempty"`
	Arch     string          `json:"arch,omitempty"`
	Hostname string          `json:"hostname,omitempty"`
}

// Collect gathers facts through runner. Only the platform is mandatory;
// other fields are left empty when their command fails.
func Collect(ctx context.Context, runner engine.CommandRunner) (*Facts, error) {
	platform, err := Detect(ctx, runner)
	if err != nil {
		return nil, err
	}
	f := &Facts{Platform: platform}

	if res := runner.Run(ctx, "cat "+OSReleasePath, 0); res.Success {
		f.Release = ParseOSRelease(res.Output)
	}
	for cmd, dst := range map[string]*string{
		"uname -r": &f.Kernel,
		"uname -m": &f.Arch,
		"hostname": &f.Hostname,
	} {
		if res := runner.Run(ctx, cmd, 0); res.Success {
			*dst = strings.TrimSpace(res.Output)
		}
	}
	return f, nil
}
