package script

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruivieira/cheshire/pkg/engine"
)

func mustScript(t *testing.T, source string, params engine.Parameters, opts ...Option) *Script {
	t.Helper()
	s, err := New("test", source, params, opts...)
	require.NoError(t, err)
	return s
}

func TestExecuteOutput(t *testing.T) {
	s := mustScript(t, `
greeting = "hello " + params["name"]
output = greeting.upper()
`, engine.Parameters{"name": "alice"})

	res := s.Execute(context.Background())

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "HELLO ALICE", res.Output)
}

func TestExecutePrintedOutput(t *testing.T) {
	s := mustScript(t, `
def emit(n):
    for i in range(n):
        print("line", i)

emit(params["count"])
`, engine.Parameters{"count": 2})

	res := s.Execute(context.Background())

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "line 0\nline 1\n", res.Output)
}

func TestExecuteReportedFailure(t *testing.T) {
	tests := []struct {
		name      string
		source    string
		wantError string
	}{
		{"success false with error", `success = False
error = "disk full"`, "disk full"},
		{"success false without error", `success = False`, "script test reported failure"},
		{"fail builtin", `fail("nope")`, "nope"},
		{"runtime error", `x = 1 // 0`, "division by zero"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := mustScript(t, tt.source, nil).Execute(context.Background())
			assert.False(t, res.Success)
			assert.Contains(t, res.Error, tt.wantError)
		})
	}
}

func TestNewRejectsSyntaxErrors(t *testing.T) {
	_, err := New("broken", "def (:", nil)
	assert.Error(t, err)
}

func TestExecuteCancellation(t *testing.T) {
	s := mustScript(t, `
def spin():
    n = 0
    for i in range(100000000):
        n += i
    return n
output = str(spin())
`, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	res := s.Execute(ctx)

	assert.False(t, res.Success)
	assert.True(t, res.TimedOut)
	assert.Contains(t, res.Error, "cancel")
	assert.Less(t, time.Since(start), 5*time.Second)
}

type echoRunner struct{}

func (echoRunner) Run(ctx context.Context, command string, timeout time.Duration) engine.CommandResult {
	if strings.HasPrefix(command, "false") {
		return engine.CommandResult{Error: "exit 1"}
	}
	return engine.CommandResult{Success: true, Output: "ran " + command}
}

func TestRunBuiltin(t *testing.T) {
	s := mustScript(t, `
ok = run("echo " + params["word"])
bad = run("false")
output = ok.output
success = ok.success and not bad.success
`, engine.Parameters{"word": "grin"}, WithRunner(echoRunner{}))

	res := s.Execute(context.Background())

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "ran echo grin", res.Output)
}

func TestRunBuiltinWithoutRunner(t *testing.T) {
	res := mustScript(t, `run("ls")`, nil).Execute(context.Background())
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "no command runner")
}

func TestLogBuiltin(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.InfoLevel)
	s := mustScript(t, `
log("deploying " + params["version"])
log("disk almost full", level="warn")
log("noise", level="debug")
log(42)
`, engine.Parameters{"version": "1.2"}, WithLogger(logger))

	res := s.Execute(context.Background())

	require.True(t, res.Success, res.Error)
	assert.Empty(t, res.Output)
	out := buf.String()
	assert.Contains(t, out, `{"level":"info","script":"test","message":"deploying 1.2"}`)
	assert.Contains(t, out, `{"level":"warn","script":"test","message":"disk almost full"}`)
	assert.Contains(t, out, `"message":"42"`)
	assert.NotContains(t, out, "noise")
}

func TestLogBuiltinRejectsUnknownLevel(t *testing.T) {
	res := mustScript(t, `log("hi", level="loud")`, nil).Execute(context.Background())
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, `unknown level "loud"`)
}

func TestRoutineInEngine(t *testing.T) {
	s := mustScript(t, `output = "checked " + str(params["port"])`, engine.Parameters{"port": 8080})
	step := engine.NewRoutineStep("check", "Check port", "starlark: check", s.Routine())

	res := engine.NewExecutor(nil).ExecuteStep(context.Background(), step)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "checked 8080", res.Output)
}
