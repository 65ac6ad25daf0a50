// Package local runs pipeline commands as subprocesses on the current host.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ruivieira/cheshire/pkg/engine"
)

// Runner executes commands through the system shell.
type Runner struct {
	shell   string
	workDir string
	env     map[string]string
	stream  io.Writer
	logger  zerolog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithShell overrides the shell used to run commands.
func WithShell(shell string) Option {
	return func(r *Runner) { r.shell = shell }
}

// WithWorkDir sets the working directory for every command.
func WithWorkDir(dir string) Option {
	return func(r *Runner) { r.workDir = dir }
}

// WithEnv adds environment variables on top of the current process
// environment.
func WithEnv(env map[string]string) Option {
	return func(r *Runner) {
		if r.env == nil {
			r.env = make(map[string]string, len(env))
		}
		for k, v := range env {
			r.env[k] = v
		}
	}
}

// WithStream copies command output to w as it is produced. Output is still
// captured in the result.
func WithStream(w io.Writer) Option {
	return func(r *Runner) { r.stream = w }
}

// WithLogger sets the debug logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// NewRunner creates a local Runner. Commands run through /bin/sh -c, or
// cmd /C on Windows.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		shell:  defaultShell(),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func defaultShell() string {
	if runtime.GOOS == "windows" {
		return "cmd"
	}
	return "/bin/sh"
}

func (r *Runner) shellArgs(command string) []string {
	if r.shell == "cmd" || r.shell == "cmd.exe" {
		return []string{"/C", command}
	}
	return []string{"-c", command}
}

// Run implements engine.CommandRunner. Stdout becomes the output; on failure
// the error is stderr, or the exit code when stderr is empty.
func (r *Runner) Run(ctx context.Context, command string, timeout time.Duration) engine.CommandResult {
	if command == "" {
		return engine.CommandResult{Error: "command is required"}
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.shell, r.shellArgs(command)...)
	cmd.WaitDelay = time.Second
	if r.workDir != "" {
		cmd.Dir = r.workDir
	}
	if len(r.env) > 0 {
		cmd.Env = append(os.Environ(), r.envList()...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if r.stream != nil {
		stream := &lockedWriter{w: r.stream}
		cmd.Stdout = io.MultiWriter(&stdout, stream)
		cmd.Stderr = io.MultiWriter(&stderr, stream)
	}

	start := time.Now()
	err := cmd.Run()
	r.logger.Debug().
		Str("command", command).
		Dur("duration", time.Since(start)).
		Err(err).
		Msg("Local command finished")

	result := engine.CommandResult{Output: stdout.String()}
	if err == nil {
		result.Success = true
		return result
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		result.Error = "command timed out"
		if timeout > 0 {
			result.Error = fmt.Sprintf("command timed out after %s", timeout)
		}
		return result
	}

	result.Error = stderr.String()
	if result.Error == "" {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.Error = fmt.Sprintf("command exited with code %d", exitErr.ExitCode())
		} else {
			result.Error = fmt.Sprintf("failed to execute command: %v", err)
		}
	}
	return result
}

func (r *Runner) envList() []string {
	keys := make([]string, 0, len(r.env))
	for k := range r.env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+r.env[k])
	}
	return env
}

// lockedWriter serialises the stdout and stderr copy goroutines.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

var _ engine.CommandRunner = (*Runner)(nil)
