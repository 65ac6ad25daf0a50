package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruivieira/cheshire/pkg/engine"
	"github.com/ruivieira/cheshire/pkg/telemetry"
)

func init() {
	color.NoColor = true
}

func writePipeline(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand("test", "none", "today")
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

const passingPipeline = `
name: greet
parameters:
  who: world
pre_conditions:
  - id: shell
    name: Shell available
    command: "true"
steps:
  - id: hello
    name: Say hello
    command: echo hello ${who}
    template: true
  - id: group
    name: Group
    type: parallel
    steps:
      - id: a
        name: A
        command: echo a
      - id: b
        name: B
        command: echo b
tests:
  - id: check
    name: Check
    command: "true"
`

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"a=1", "b='two words' c=x=y"})
	require.NoError(t, err)
	assert.Equal(t, engine.Parameters{"a": "1", "b": "two words", "c": "x=y"}, params)

	_, err = parseParams([]string{"novalue"})
	assert.Error(t, err)

	_, err = parseParams([]string{"=1"})
	assert.Error(t, err)

	_, err = parseParams([]string{"a='unterminated"})
	assert.Error(t, err)
}

func TestReporter(t *testing.T) {
	var out bytes.Buffer
	r := newReporter(&out)
	ctx := context.Background()

	events := []*engine.Event{
		{Type: engine.EventTypeRunStarted, OperationName: "deploy", Platform: engine.PlatformUbuntu},
		{Type: engine.EventTypeOperationStarted, OperationName: "ignored", Kind: engine.KindStep},
		{Type: engine.EventTypeOperationSucceeded, OperationName: "install", Kind: engine.KindStep, Duration: 1500 * time.Microsecond},
		{Type: engine.EventTypeOperationRetrying, OperationName: "fetch", Kind: engine.KindStep, Attempt: 1, MaxRetries: 2, Delay: time.Second},
		{Type: engine.EventTypeOperationFailed, OperationName: "child", Kind: engine.KindStep, ParentID: "group", Error: "exit status 1"},
	}
	for _, ev := range events {
		require.NoError(t, r.HandleEvent(ctx, ev))
	}

	got := out.String()
	assert.Contains(t, got, "==> deploy on Ubuntu\n")
	assert.Contains(t, got, "  ✔ Step: install (2ms)\n")
	assert.Contains(t, got, "  ↻ fetch: attempt 1/3 failed, retrying in 1s\n")
	assert.Contains(t, got, "    ✘ Step: child")
	assert.Contains(t, got, "        exit status 1\n")
	assert.NotContains(t, got, "ignored")
}

func TestReporterSummary(t *testing.T) {
	var out bytes.Buffer
	r := newReporter(&out)

	r.summary(&engine.RunResult{
		Success:       false,
		Error:         "Step 'b' failed",
		StepResults:   []engine.OperationResult{{Success: true}, {Success: false}},
		TotalDuration: 2 * time.Second,
	})
	assert.Contains(t, out.String(), "FAILED: 1 passed, 1 failed, 2 total in 2s")
	assert.Contains(t, out.String(), "Error: Step 'b' failed")
}

func TestRunCommand(t *testing.T) {
	path := writePipeline(t, passingPipeline)

	out, err := execute(t, "run", path, "--platform", "linux", "--param", "who=cheshire")
	require.NoError(t, err)
	assert.Contains(t, out, "==> greet on Linux")
	assert.Contains(t, out, "✔ Pre-condition: Shell available")
	assert.Contains(t, out, "✔ Step: Say hello")
	assert.Contains(t, out, "    ✔ Step: A")
	assert.Contains(t, out, "✔ Test: Check")
	assert.Contains(t, out, "PASSED: 4 passed, 0 failed, 4 total")
}

func TestRunCommandAsyncEvents(t *testing.T) {
	path := writePipeline(t, passingPipeline)

	out, err := execute(t, "run", path, "--platform", "linux", "--async-events")
	require.NoError(t, err)

	last := strings.Index(out, "✔ Test: Check")
	summary := strings.Index(out, "PASSED: 4 passed")
	require.NotEqual(t, -1, last)
	require.NotEqual(t, -1, summary)
	assert.Less(t, last, summary)
}

func TestWatchLogsThroughContextLogger(t *testing.T) {
	var logs bytes.Buffer
	logger := telemetry.NewLoggerTo(telemetry.LoggingConfig{Level: "info", Format: "json"}, &logs)
	ctx, cancel := context.WithCancel(logger.WithContext(context.Background()))
	defer cancel()

	path := writePipeline(t, passingPipeline)
	runs := 0
	err := watchPipeline(ctx, path, func() (*engine.RunResult, error) {
		runs++
		cancel()
		return nil, errors.New("definition unreadable")
	})

	require.NoError(t, err)
	assert.Equal(t, 1, runs)
	assert.Contains(t, logs.String(), `"component":"watch"`)
	assert.Contains(t, logs.String(), `"error":"definition unreadable"`)
	assert.Contains(t, logs.String(), "Watching for changes")
}

func TestRunCommandJSON(t *testing.T) {
	path := writePipeline(t, passingPipeline)

	out, err := execute(t, "run", path, "--platform", "fedora", "--json", "--param", "who=json")
	require.NoError(t, err)

	var result engine.RunResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.Success)
	assert.Equal(t, engine.PlatformFedora, result.Platform)
	require.Len(t, result.StepResults, 2)
	assert.Equal(t, "hello json\n", result.StepResults[0].Output)
}

func TestRunCommandKeepsShellVariables(t *testing.T) {
	t.Setenv("HOME", "/home/alice")
	path := writePipeline(t, `
name: shell variables
parameters:
  who: world
steps:
  - id: home
    name: Home
    command: echo $HOME
  - id: greet
    name: Greet
    type: shell
    command: printenv GREETING
    env: {GREETING: hi}
  - id: loop
    name: Loop
    command: for f in x y; do printf "$f"; done
  - id: quiet
    name: Quiet
    type: parallel
    steps:
      - {id: q1, name: Q1, command: "true"}
      - {id: q2, name: Q2, command: "true"}
`)

	out, err := execute(t, "run", path, "--platform", "linux", "--json")
	require.NoError(t, err)

	var result engine.RunResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.True(t, result.Success)
	require.Len(t, result.StepResults, 4)
	assert.Equal(t, "/home/alice\n", result.StepResults[0].Output)
	assert.Equal(t, "hi\n", result.StepResults[1].Output)
	assert.Equal(t, "xy", result.StepResults[2].Output)
	assert.Equal(t, "[Q1] ok\n[Q2] ok\n", result.StepResults[3].Output)
}

func TestRunCommandFailure(t *testing.T) {
	path := writePipeline(t, `
name: broken
steps:
  - id: fail
    name: Fails
    command: "false"
  - id: never
    name: Never runs
    command: echo never
`)

	out, err := execute(t, "run", path, "--platform", "linux")
	assert.ErrorIs(t, err, ErrRunFailed)
	assert.Contains(t, out, "✘ Step: Fails")
	assert.NotContains(t, out, "Never runs")
	assert.Contains(t, out, "FAILED: 0 passed, 1 failed, 1 total")
}

func TestRunCommandInvalidDefinition(t *testing.T) {
	path := writePipeline(t, "steps: []\n")

	_, err := execute(t, "run", path, "--platform", "linux")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRunFailed)
	assert.True(t, engine.IsValidation(err))
}

func TestRunCommandUnknownPlatform(t *testing.T) {
	path := writePipeline(t, passingPipeline)

	_, err := execute(t, "run", path, "--platform", "plan9")
	assert.Error(t, err)
}

func TestValidateCommand(t *testing.T) {
	good := writePipeline(t, passingPipeline)

	out, err := execute(t, "validate", good, "--param", "who=x")
	require.NoError(t, err)
	assert.Contains(t, out, "OK (1 pre-conditions, 2 steps, 1 tests)")

	missing := writePipeline(t, `
name: missing
steps:
  - id: deploy
    name: Deploy
    command: ./deploy.sh ${version}
    template: true
`)
	out, err = execute(t, "validate", missing)
	assert.ErrorIs(t, err, ErrRunFailed)
	assert.Contains(t, out, "INVALID")
	assert.Contains(t, out, `step "deploy": missing parameters version`)
}

func TestValidateCommandJSON(t *testing.T) {
	bad := writePipeline(t, `
name: bad
steps:
  - id: x
    name: X
    type: package
`)

	out, err := execute(t, "validate", bad, "--json")
	assert.ErrorIs(t, err, ErrRunFailed)

	var results []validateResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.False(t, results[0].Valid)
	require.NotEmpty(t, results[0].Errors)
	assert.Contains(t, results[0].Errors[0], "package step requires package")
}

func TestPlatformList(t *testing.T) {
	out, err := execute(t, "platform", "--list", "--json")
	require.NoError(t, err)

	var infos []platformInfo
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	require.Len(t, infos, len(engine.Platforms()))
	for _, info := range infos {
		if info.Platform == engine.PlatformUnix {
			assert.Contains(t, info.Family, engine.PlatformMac)
			assert.Contains(t, info.Family, engine.PlatformDebian)
		}
	}
}
