package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Step types accepted in a definition.
const (
	StepTypeCommand  = "command"
	StepTypeShell    = "shell"
	StepTypePackage  = "package"
	StepTypeDocker   = "docker"
	StepTypeScript   = "script"
	StepTypeParallel = "parallel"
)

// Pipeline is the on-disk form of a run. Field names follow the YAML and
// CUE documents; json tags are used by the CUE decoder.
type Pipeline struct {
	// ID is optional; a random one is generated when empty.
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name" validate:"required"`
	Description string `yaml:"description" json:"description"`

	// Parameters are defaults shared by every operation.
	Parameters map[string]any `yaml:"parameters" json:"parameters"`

	PreConditions []CheckDef `yaml:"pre_conditions" json:"pre_conditions" validate:"dive"`
	Steps         []StepDef  `yaml:"steps" json:"steps" validate:"dive"`
	Tests         []CheckDef `yaml:"tests" json:"tests" validate:"dive"`

	// BaseDir resolves relative script files. Set by Load.
	BaseDir string `yaml:"-" json:"-"`
}

// CheckDef defines a pre-condition or a test.
type CheckDef struct {
	ID          string         `yaml:"id" json:"id" validate:"required"`
	Name        string         `yaml:"name" json:"name" validate:"required"`
	Description string         `yaml:"description" json:"description"`
	Command     string         `yaml:"command" json:"command" validate:"required"`
	Platform    string         `yaml:"platform" json:"platform" validate:"omitempty,platform"`
	Timeout     Duration       `yaml:"timeout" json:"timeout"`
	Retries     int            `yaml:"retries" json:"retries" validate:"gte=0"`
	Parameters  map[string]any `yaml:"parameters" json:"parameters"`
	Defaults    map[string]any `yaml:"defaults" json:"defaults"`
	// Template makes Command a template even without own parameters.
	Template bool `yaml:"template" json:"template"`
}

// IsTemplate reports whether Command is resolved against parameters.
func (c CheckDef) IsTemplate() bool {
	return c.Template || c.Parameters != nil || c.Defaults != nil
}

// StepDef defines a step. Which fields apply depends on Type.
type StepDef struct {
	ID                string         `yaml:"id" json:"id" validate:"required"`
	Name              string         `yaml:"name" json:"name" validate:"required"`
	Description       string         `yaml:"description" json:"description"`
	Type              string         `yaml:"type" json:"type" validate:"omitempty,oneof=command shell package docker script parallel"`
	Command           string         `yaml:"command" json:"command"`
	Platform          string         `yaml:"platform" json:"platform" validate:"omitempty,platform"`
	Timeout           Duration       `yaml:"timeout" json:"timeout"`
	Retries           int            `yaml:"retries" json:"retries" validate:"gte=0"`
	ContinueOnFailure bool           `yaml:"continue_on_failure" json:"continue_on_failure"`
	Parameters        map[string]any `yaml:"parameters" json:"parameters"`
	Defaults          map[string]any `yaml:"defaults" json:"defaults"`
	Template          bool           `yaml:"template" json:"template"`

	// Env is exported before a shell command.
	Env map[string]string `yaml:"env" json:"env"`

	Package *PackageDef `yaml:"package" json:"package"`
	Docker  *DockerDef  `yaml:"docker" json:"docker"`

	// Script is inline Starlark source; ScriptFile is read relative to the
	// definition file.
	Script     string `yaml:"script" json:"script"`
	ScriptFile string `yaml:"script_file" json:"script_file"`

	// Steps are the children of a parallel step.
	Steps []StepDef `yaml:"steps" json:"steps" validate:"dive"`
}

// StepType returns Type, defaulting to command.
func (s StepDef) StepType() string {
	if s.Type == "" {
		return StepTypeCommand
	}
	return s.Type
}

// IsTemplate reports whether Command is resolved against parameters. Only
// command steps can be templates; shell, docker and package commands are
// passed on as written.
func (s StepDef) IsTemplate() bool {
	if s.StepType() != StepTypeCommand {
		return false
	}
	return s.Template || s.Parameters != nil || s.Defaults != nil
}

// PackageDef installs a system package.
type PackageDef struct {
	Manager string `yaml:"manager" json:"manager" validate:"required,oneof=dnf yum apt brew"`
	Name    string `yaml:"name" json:"name" validate:"required"`
	Version string `yaml:"version" json:"version"`
}

// DockerDef runs a container.
type DockerDef struct {
	Image   string            `yaml:"image" json:"image" validate:"required"`
	Tag     string            `yaml:"tag" json:"tag"`
	Name    string            `yaml:"name" json:"name"`
	Ports   []string          `yaml:"ports" json:"ports"`
	Env     map[string]string `yaml:"env" json:"env"`
	Volumes []string          `yaml:"volumes" json:"volumes"`
	Command string            `yaml:"command" json:"command"`
	Detach  bool              `yaml:"detach" json:"detach"`
	Args    []string          `yaml:"args" json:"args"`
}

// Duration accepts either a Go duration string ("90s", "5m") or a number
// of seconds.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	parsed, err := parseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = parsed
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*d = 0
	case float64:
		*d = Duration(v * float64(time.Second))
	case string:
		parsed, err := parseDuration(v)
		if err != nil {
			return err
		}
		*d = parsed
	default:
		return fmt.Errorf("invalid duration: %s", string(data))
	}
	return nil
}

func parseDuration(s string) (Duration, error) {
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("negative duration: %s", s)
		}
		return Duration(secs * float64(time.Second)), nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed < 0 {
		return 0, fmt.Errorf("negative duration: %s", s)
	}
	return Duration(parsed), nil
}
