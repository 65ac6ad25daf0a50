package engine

import (
	"fmt"
	"slices"
	"strings"

	"github.com/kballard/go-shellquote"
)

// PackageManager names a supported system package manager.
type PackageManager string

const (
	PackageManagerDNF  PackageManager = "dnf"
	PackageManagerYum  PackageManager = "yum"
	PackageManagerApt  PackageManager = "apt"
	PackageManagerBrew PackageManager = "brew"
)

// PackageInstallCommand returns the install command for pkg. An empty
// version installs whatever the repository provides.
func PackageInstallCommand(manager PackageManager, pkg, version string) (string, error) {
	target := pkg
	if version != "" {
		target = pkg + "==" + version
	}
	switch manager {
	case PackageManagerDNF, PackageManagerYum:
		return fmt.Sprintf("sudo %s install -y %s", manager, target), nil
	case PackageManagerApt:
		return "sudo apt-get install -y " + target, nil
	case PackageManagerBrew:
		return "brew install " + target, nil
	default:
		return "", fmt.Errorf("unsupported package manager: %q", string(manager))
	}
}

// NewPackageInstallStep creates a step installing pkg with manager.
func NewPackageInstallStep(id, name string, manager PackageManager, pkg, version string, opts ...Option) (*Step, error) {
	command, err := PackageInstallCommand(manager, pkg, version)
	if err != nil {
		return nil, err
	}
	return newLiteralStep(id, name, command, opts...), nil
}

// DockerRun describes a docker run invocation.
type DockerRun struct {
	Image     string
	Tag       string
	Name      string
	Ports     []string
	Env       map[string]string
	Volumes   []string
	Command   string
	Detach    bool
	ExtraArgs []string
}

// CommandLine renders the docker run command.
func (d DockerRun) CommandLine() string {
	args := []string{"docker", "run"}
	if d.Detach {
		args = append(args, "-d")
	}
	if d.Name != "" {
		args = append(args, "--name", d.Name)
	}
	for _, p := range d.Ports {
		if !strings.Contains(p, ":") {
			p = p + ":" + p
		}
		args = append(args, "-p", p)
	}
	for _, k := range sortedKeys(d.Env) {
		args = append(args, "-e", k+"="+d.Env[k])
	}
	for _, v := range d.Volumes {
		args = append(args, "-v", v)
	}
	args = append(args, d.ExtraArgs...)

	image := d.Image
	if d.Tag != "" {
		image += ":" + d.Tag
	}
	args = append(args, image)

	line := shellquote.Join(args...)
	if d.Command != "" {
		line += " " + d.Command
	}
	return line
}

// NewDockerStep creates a step that runs a container.
func NewDockerStep(id, name string, run DockerRun, opts ...Option) (*Step, error) {
	if run.Image == "" {
		return nil, fmt.Errorf("docker step %s: image is required", id)
	}
	return newLiteralStep(id, name, run.CommandLine(), opts...), nil
}

// EnvCommand prefixes command with KEY=value assignments, quoting values
// for the shell.
func EnvCommand(command string, env map[string]string) string {
	if len(env) == 0 {
		return command
	}
	parts := make([]string, 0, len(env)+1)
	for _, k := range sortedKeys(env) {
		parts = append(parts, k+"="+shellquote.Join(env[k]))
	}
	parts = append(parts, command)
	return strings.Join(parts, " ")
}

// NewShellStep creates a step running command with extra environment. The
// command is passed to the shell as written.
func NewShellStep(id, name, command string, env map[string]string, opts ...Option) *Step {
	return newLiteralStep(id, name, EnvCommand(command, env), opts...)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
