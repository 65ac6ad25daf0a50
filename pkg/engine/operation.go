package engine

import (
	"context"
	"fmt"
	"time"
)

// Kind distinguishes the three phases an operation can belong to.
type Kind string

const (
	KindPreCondition Kind = "pre-condition"
	KindStep         Kind = "step"
	KindTest         Kind = "test"
)

// Label returns the capitalised name used in run error messages.
func (k Kind) Label() string {
	switch k {
	case KindPreCondition:
		return "Pre-condition"
	case KindStep:
		return "Step"
	case KindTest:
		return "Test"
	default:
		return string(k)
	}
}

// ExecutionMode tells the executor how a step performs one attempt.
type ExecutionMode int

const (
	// ModeShellCommand runs the resolved command through the CommandRunner.
	ModeShellCommand ExecutionMode = iota
	// ModeParallelComposite runs child steps concurrently.
	ModeParallelComposite
	// ModeInProcessRoutine calls a Go routine instead of spawning a shell.
	ModeInProcessRoutine
)

func (m ExecutionMode) String() string {
	switch m {
	case ModeShellCommand:
		return "shell"
	case ModeParallelComposite:
		return "parallel"
	case ModeInProcessRoutine:
		return "routine"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// CommandResult is the outcome of a single attempt.
type CommandResult struct {
	Success  bool   `json:"success"`
	Output   string `json:"output"`
	Error    string `json:"error,omitempty"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

// Routine performs an in-process step attempt. It should honour ctx.
type Routine func(ctx context.Context) CommandResult

// Operation is the common surface of pre-conditions, steps and tests.
type Operation interface {
	ID() string
	Name() string
	Description() string
	Kind() Kind
	Mode() ExecutionMode
	Platform() Platform
	Timeout() time.Duration
	MaxRetries() int
	// Command returns the fully substituted command text.
	Command() string
	// MissingParameters lists placeholders that cannot be resolved.
	MissingParameters() []string
}

// Option configures an operation at construction time.
type Option func(*operationConfig)

type operationConfig struct {
	description       string
	platform          Platform
	timeout           time.Duration
	maxRetries        int
	continueOnFailure bool
	parameters        Parameters
	defaults          Parameters
	template          bool
}

// WithDescription sets a free-form description.
func WithDescription(description string) Option {
	return func(c *operationConfig) { c.description = description }
}

// WithPlatform restricts the operation to a platform or platform family.
func WithPlatform(p Platform) Option {
	return func(c *operationConfig) { c.platform = p }
}

// WithTimeout bounds each attempt. Zero means unbounded.
func WithTimeout(d time.Duration) Option {
	return func(c *operationConfig) { c.timeout = d }
}

// WithRetries sets how many times a failed attempt is retried.
func WithRetries(n int) Option {
	return func(c *operationConfig) { c.maxRetries = max(n, 0) }
}

// WithContinueOnFailure lets the run proceed past a failed step.
// It has no effect on pre-conditions and tests.
func WithContinueOnFailure() Option {
	return func(c *operationConfig) { c.continueOnFailure = true }
}

// WithParameters sets the values substituted into the command and makes
// the command a template.
func WithParameters(params Parameters) Option {
	return func(c *operationConfig) {
		c.parameters = Merge(params, c.parameters)
		c.template = true
	}
}

// WithDefaults sets fallback values used when a parameter is not provided
// and makes the command a template.
func WithDefaults(defaults Parameters) Option {
	return func(c *operationConfig) {
		c.defaults = Merge(defaults, c.defaults)
		c.template = true
	}
}

// WithTemplate marks the command as a template even without parameters, so
// that every placeholder it references must be supplied.
func WithTemplate() Option {
	return func(c *operationConfig) { c.template = true }
}

// operation holds the state shared by all kinds. It is never mutated after
// construction. Only template commands are substituted and checked for
// missing parameters; other commands reach the shell verbatim.
type operation struct {
	id          string
	name        string
	description string
	platform    Platform
	timeout     time.Duration
	maxRetries  int
	command     string
	template    bool
	parameters  Parameters
	defaults    Parameters
}

func newOperation(id, name, command string, cfg operationConfig) operation {
	return operation{
		id:          id,
		name:        name,
		description: cfg.description,
		platform:    cfg.platform,
		timeout:     cfg.timeout,
		maxRetries:  cfg.maxRetries,
		command:     command,
		template:    cfg.template,
		parameters:  cfg.parameters,
		defaults:    cfg.defaults,
	}
}

func buildConfig(opts []Option) operationConfig {
	var cfg operationConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func (o *operation) ID() string             { return o.id }
func (o *operation) Name() string           { return o.name }
func (o *operation) Description() string    { return o.description }
func (o *operation) Platform() Platform     { return o.platform }
func (o *operation) Timeout() time.Duration { return o.timeout }
func (o *operation) MaxRetries() int        { return o.maxRetries }

// IsTemplate reports whether the command is resolved against parameters.
func (o *operation) IsTemplate() bool { return o.template }

func (o *operation) Command() string {
	if !o.template {
		return o.command
	}
	return Substitute(o.command, o.parameters, o.defaults)
}

func (o *operation) MissingParameters() []string {
	if !o.template {
		return nil
	}
	return MissingParameters(o.command, o.parameters, o.defaults)
}

// PreCondition is a check that must pass before any step runs.
type PreCondition struct {
	operation
}

// NewPreCondition creates a pre-condition running command.
func NewPreCondition(id, name, command string, opts ...Option) *PreCondition {
	return &PreCondition{operation: newOperation(id, name, command, buildConfig(opts))}
}

// NewTemplatePreCondition creates a pre-condition whose command is resolved
// against params and defaults.
func NewTemplatePreCondition(id, name, template string, params, defaults Parameters, opts ...Option) *PreCondition {
	return NewPreCondition(id, name, template, templateOptions(params, defaults, opts)...)
}

func (p *PreCondition) Kind() Kind          { return KindPreCondition }
func (p *PreCondition) Mode() ExecutionMode { return ModeShellCommand }

// Test verifies the outcome of the steps.
type Test struct {
	operation
}

// NewTest creates a test running command.
func NewTest(id, name, command string, opts ...Option) *Test {
	return &Test{operation: newOperation(id, name, command, buildConfig(opts))}
}

// NewTemplateTest creates a test whose command is resolved against params
// and defaults.
func NewTemplateTest(id, name, template string, params, defaults Parameters, opts ...Option) *Test {
	return NewTest(id, name, template, templateOptions(params, defaults, opts)...)
}

func (t *Test) Kind() Kind          { return KindTest }
func (t *Test) Mode() ExecutionMode { return ModeShellCommand }

// Step is the main unit of work in a run.
type Step struct {
	operation
	continueOnFailure bool
	mode              ExecutionMode
	routine           Routine
	children          []*Step
}

// NewStep creates a step running command through the shell.
func NewStep(id, name, command string, opts ...Option) *Step {
	cfg := buildConfig(opts)
	return &Step{
		operation:         newOperation(id, name, command, cfg),
		continueOnFailure: cfg.continueOnFailure,
		mode:              ModeShellCommand,
	}
}

// NewTemplateStep creates a step whose command is resolved against params
// and defaults.
func NewTemplateStep(id, name, template string, params, defaults Parameters, opts ...Option) *Step {
	return NewStep(id, name, template, templateOptions(params, defaults, opts)...)
}

// newLiteralStep creates a shell step that is never substituted, whatever
// the options say. Generated commands (env, docker, package) use it.
func newLiteralStep(id, name, command string, opts ...Option) *Step {
	s := NewStep(id, name, command, opts...)
	s.template = false
	return s
}

func templateOptions(params, defaults Parameters, opts []Option) []Option {
	return append([]Option{WithParameters(params), WithDefaults(defaults)}, opts...)
}

// NewRoutineStep creates a step that calls routine in-process. description
// stands in for the command text in results and events.
func NewRoutineStep(id, name, description string, routine Routine, opts ...Option) *Step {
	cfg := buildConfig(opts)
	op := newOperation(id, name, description, cfg)
	op.template = false
	return &Step{
		operation:         op,
		continueOnFailure: cfg.continueOnFailure,
		mode:              ModeInProcessRoutine,
		routine:           routine,
	}
}

// NewParallelStep creates a step that runs children concurrently as one unit.
// Children keep their own timeouts and retry budgets; platform filtering is
// not applied to them.
func NewParallelStep(id, name string, children []*Step, opts ...Option) *Step {
	cfg := buildConfig(opts)
	command := fmt.Sprintf("parallel execution of %d steps", len(children))
	op := newOperation(id, name, command, cfg)
	op.template = false
	return &Step{
		operation:         op,
		continueOnFailure: cfg.continueOnFailure,
		mode:              ModeParallelComposite,
		children:          append([]*Step(nil), children...),
	}
}

func (s *Step) Kind() Kind              { return KindStep }
func (s *Step) Mode() ExecutionMode     { return s.mode }
func (s *Step) ContinueOnFailure() bool { return s.continueOnFailure }

// Children returns the child steps of a parallel step.
func (s *Step) Children() []*Step {
	return append([]*Step(nil), s.children...)
}

func (s *Step) Command() string {
	if s.mode != ModeShellCommand {
		return s.command
	}
	return s.operation.Command()
}

// MissingParameters returns the unresolved placeholders of the step. For a
// parallel step this is the union over its children.
func (s *Step) MissingParameters() []string {
	switch s.mode {
	case ModeShellCommand:
		return s.operation.MissingParameters()
	case ModeParallelComposite:
		var missing []string
		seen := make(map[string]bool)
		for _, child := range s.children {
			for _, name := range child.MissingParameters() {
				if !seen[name] {
					seen[name] = true
					missing = append(missing, name)
				}
			}
		}
		return missing
	default:
		return nil
	}
}

var (
	_ Operation = (*PreCondition)(nil)
	_ Operation = (*Step)(nil)
	_ Operation = (*Test)(nil)
)
