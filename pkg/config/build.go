package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ruivieira/cheshire/pkg/engine"
	"github.com/ruivieira/cheshire/pkg/script"
)

// BuildOption configures Build.
type BuildOption func(*builder)

type builder struct {
	overrides engine.Parameters
	runner    engine.CommandRunner
	logger    zerolog.Logger
	baseDir   string
	shared    engine.Parameters
}

// WithOverrides sets parameters that take precedence over everything in
// the definition.
func WithOverrides(params engine.Parameters) BuildOption {
	return func(b *builder) { b.overrides = params }
}

// WithRunner sets the runner exposed to script steps through run().
func WithRunner(runner engine.CommandRunner) BuildOption {
	return func(b *builder) { b.runner = runner }
}

// WithLogger sets the logger handed to script steps.
func WithLogger(logger zerolog.Logger) BuildOption {
	return func(b *builder) { b.logger = logger }
}

// Build turns a definition into an executable run. Parameter precedence,
// highest first: overrides, operation parameters, operation defaults,
// pipeline parameters.
func Build(p *Pipeline, opts ...BuildOption) (*engine.Run, error) {
	b := &builder{
		logger:  zerolog.Nop(),
		baseDir: p.BaseDir,
		shared:  engine.Parameters(p.Parameters),
	}
	for _, opt := range opts {
		opt(b)
	}

	run := &engine.Run{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	for _, def := range p.PreConditions {
		run.PreConditions = append(run.PreConditions,
			engine.NewPreCondition(def.ID, def.Name, def.Command, b.checkOptions(def)...))
	}
	for _, def := range p.Steps {
		step, err := b.step(def)
		if err != nil {
			return nil, err
		}
		run.Steps = append(run.Steps, step)
	}
	for _, def := range p.Tests {
		run.Tests = append(run.Tests,
			engine.NewTest(def.ID, def.Name, def.Command, b.checkOptions(def)...))
	}

	if err := run.Validate(); err != nil {
		return nil, err
	}
	return run, nil
}

func (b *builder) params(own map[string]any) engine.Parameters {
	return engine.Merge(b.overrides, engine.Parameters(own))
}

func (b *builder) defaults(own map[string]any) engine.Parameters {
	return engine.Merge(engine.Parameters(own), b.shared)
}

// platformOf normalizes a platform that Validate already accepted.
func platformOf(s string) engine.Platform {
	if s == "" {
		return ""
	}
	p, err := engine.ParsePlatform(s)
	if err != nil {
		return engine.Platform(s)
	}
	return p
}

// templateOptions feeds overrides and pipeline parameters to template
// commands only. Anything else is handed to the shell untouched.
func (b *builder) templateOptions(template bool, own, defaults map[string]any) []engine.Option {
	if !template {
		return nil
	}
	return []engine.Option{
		engine.WithTemplate(),
		engine.WithParameters(b.params(own)),
		engine.WithDefaults(b.defaults(defaults)),
	}
}

func (b *builder) checkOptions(def CheckDef) []engine.Option {
	opts := []engine.Option{
		engine.WithDescription(def.Description),
		engine.WithPlatform(platformOf(def.Platform)),
		engine.WithTimeout(def.Timeout.Std()),
		engine.WithRetries(def.Retries),
	}
	return append(opts, b.templateOptions(def.IsTemplate(), def.Parameters, def.Defaults)...)
}

func (b *builder) stepOptions(def StepDef) []engine.Option {
	opts := []engine.Option{
		engine.WithDescription(def.Description),
		engine.WithPlatform(platformOf(def.Platform)),
		engine.WithTimeout(def.Timeout.Std()),
		engine.WithRetries(def.Retries),
	}
	opts = append(opts, b.templateOptions(def.IsTemplate(), def.Parameters, def.Defaults)...)
	if def.ContinueOnFailure {
		opts = append(opts, engine.WithContinueOnFailure())
	}
	return opts
}

func (b *builder) step(def StepDef) (*engine.Step, error) {
	opts := b.stepOptions(def)

	switch def.StepType() {
	case StepTypeCommand:
		return engine.NewStep(def.ID, def.Name, def.Command, opts...), nil

	case StepTypeShell:
		return engine.NewShellStep(def.ID, def.Name, def.Command, def.Env, opts...), nil

	case StepTypePackage:
		pkg := def.Package
		return engine.NewPackageInstallStep(def.ID, def.Name,
			engine.PackageManager(pkg.Manager), pkg.Name, pkg.Version, opts...)

	case StepTypeDocker:
		d := def.Docker
		return engine.NewDockerStep(def.ID, def.Name, engine.DockerRun{
			Image:     d.Image,
			Tag:       d.Tag,
			Name:      d.Name,
			Ports:     d.Ports,
			Env:       d.Env,
			Volumes:   d.Volumes,
			Command:   d.Command,
			Detach:    d.Detach,
			ExtraArgs: d.Args,
		}, opts...)

	case StepTypeScript:
		return b.scriptStep(def, opts)

	case StepTypeParallel:
		children := make([]*engine.Step, 0, len(def.Steps))
		for _, childDef := range def.Steps {
			child, err := b.step(childDef)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		return engine.NewParallelStep(def.ID, def.Name, children, opts...), nil

	default:
		return nil, engine.NewValidationError(fmt.Sprintf("unknown step type %q", def.Type), nil).
			WithOperation(def.ID)
	}
}

func (b *builder) scriptStep(def StepDef, opts []engine.Option) (*engine.Step, error) {
	source, label := def.Script, "inline"
	if def.ScriptFile != "" {
		path := def.ScriptFile
		if !filepath.IsAbs(path) && b.baseDir != "" {
			path = filepath.Join(b.baseDir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, engine.NewValidationError("failed to read script", err).WithOperation(def.ID)
		}
		source, label = string(data), def.ScriptFile
	}

	params := engine.Merge(b.params(def.Parameters), b.defaults(def.Defaults))
	s, err := script.New(def.ID, source, params,
		script.WithRunner(b.runner),
		script.WithLogger(b.logger),
	)
	if err != nil {
		return nil, engine.NewValidationError("invalid script", err).WithOperation(def.ID)
	}
	return engine.NewRoutineStep(def.ID, def.Name, "starlark: "+label, s.Routine(), opts...), nil
}
