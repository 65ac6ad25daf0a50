// Package script runs Starlark programs as in-process pipeline steps.
//
// A script sees its parameters as the predeclared dict `params` and may call
// `run(cmd)` to execute a shell command through the pipeline's runner.
// `log(msg, level="info")` writes to the pipeline log. The step result is taken from the globals the script leaves behind:
//
//	output  = "..."   # step output (defaults to everything printed)
//	success = False   # optional, defaults to True
//	error   = "..."   # optional failure message
//
// Calling fail("msg") or raising any Starlark error fails the attempt.
package script

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/ruivieira/cheshire/pkg/engine"
)

const ctxLocal = "cheshire.ctx"

// Script is a parsed Starlark program bound to its parameters.
type Script struct {
	name   string
	source string
	params engine.Parameters
	runner engine.CommandRunner
	logger zerolog.Logger
}

// Option configures a Script.
type Option func(*Script)

// WithRunner enables the run() builtin.
func WithRunner(runner engine.CommandRunner) Option {
	return func(s *Script) { s.runner = runner }
}

// WithLogger sets the logger used for script debug output.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Script) { s.logger = logger }
}

// New parses source and returns a Script. Syntax errors are reported here
// rather than on first execution.
func New(name, source string, params engine.Parameters, opts ...Option) (*Script, error) {
	if _, err := syntax.Parse(name+".star", source, 0); err != nil {
		return nil, fmt.Errorf("script %s: %w", name, err)
	}
	s := &Script{
		name:   name,
		source: source,
		params: params,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Routine adapts the script to an engine step routine.
func (s *Script) Routine() engine.Routine {
	return s.Execute
}

// Execute runs the script once. Cancelling ctx interrupts the interpreter.
func (s *Script) Execute(ctx context.Context) engine.CommandResult {
	var (
		mu      sync.Mutex
		printed strings.Builder
	)
	thread := &starlark.Thread{
		Name: s.name,
		Print: func(_ *starlark.Thread, msg string) {
			mu.Lock()
			defer mu.Unlock()
			printed.WriteString(msg)
			printed.WriteByte('\n')
		},
	}
	thread.SetLocal(ctxLocal, ctx)

	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(context.Cause(ctx).Error())
	})
	defer stop()

	params, err := toStarlark(map[string]any(s.params))
	if err != nil {
		return engine.CommandResult{Error: fmt.Sprintf("invalid parameters: %v", err)}
	}

	predeclared := starlark.StringDict{
		"params": params,
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"run":    starlark.NewBuiltin("run", s.builtinRun),
		"log":    starlark.NewBuiltin("log", s.builtinLog),
	}

	globals, err := starlark.ExecFile(thread, s.name+".star", s.source, predeclared)

	mu.Lock()
	result := engine.CommandResult{Output: printed.String()}
	mu.Unlock()

	if err != nil {
		s.logger.Debug().Str("script", s.name).Err(err).Msg("Script failed")
		result.Error = scriptError(err)
		if ctx.Err() != nil {
			result.TimedOut = errors.Is(ctx.Err(), context.DeadlineExceeded)
		}
		return result
	}

	if v, ok := globals["output"]; ok {
		result.Output = valueString(v)
	}
	result.Success = true
	if v, ok := globals["success"]; ok {
		result.Success = bool(v.Truth())
	}
	if v, ok := globals["error"]; ok && v != starlark.None {
		result.Error = valueString(v)
	}
	if !result.Success && result.Error == "" {
		result.Error = fmt.Sprintf("script %s reported failure", s.name)
	}
	return result
}

// builtinRun executes a shell command and returns
// struct(success, output, error).
func (s *Script) builtinRun(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var command string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &command); err != nil {
		return nil, err
	}
	if s.runner == nil {
		return nil, fmt.Errorf("%s: no command runner available", b.Name())
	}

	ctx, _ := thread.Local(ctxLocal).(context.Context)
	if ctx == nil {
		ctx = context.Background()
	}

	res := s.runner.Run(ctx, command, 0)
	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"success": starlark.Bool(res.Success),
		"output":  starlark.String(res.Output),
		"error":   starlark.String(res.Error),
	}), nil
}

var scriptLogLevels = map[string]zerolog.Level{
	"debug": zerolog.DebugLevel,
	"info":  zerolog.InfoLevel,
	"warn":  zerolog.WarnLevel,
	"error": zerolog.ErrorLevel,
}

// builtinLog writes msg to the script logger.
func (s *Script) builtinLog(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		msg   starlark.Value
		level = "info"
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "msg", &msg, "level?", &level); err != nil {
		return nil, err
	}
	lvl, ok := scriptLogLevels[level]
	if !ok {
		return nil, fmt.Errorf("%s: unknown level %q", b.Name(), level)
	}
	s.logger.WithLevel(lvl).Str("script", s.name).Msg(valueString(msg))
	return starlark.None, nil
}

func scriptError(err error) string {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return evalErr.Msg
	}
	return err.Error()
}

func valueString(v starlark.Value) string {
	if s, ok := starlark.AsString(v); ok {
		return s
	}
	return v.String()
}

// toStarlark converts parameter values into Starlark values.
func toStarlark(v any) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case uint64:
		return starlark.MakeUint64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlark(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			sv, err := toStarlark(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case engine.Parameters:
		return toStarlark(map[string]any(val))
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}
