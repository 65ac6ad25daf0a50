package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ruivieira/cheshire/pkg/engine"
)

func mustParse(t *testing.T, src string) *Pipeline {
	t.Helper()
	p, err := Parse([]byte(src), FormatYAML, "test.yaml")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return p
}

func TestBuildParameterPrecedence(t *testing.T) {
	p := mustParse(t, `
name: params
parameters:
  host: shared.example
  port: 80
steps:
  - id: pipeline-default
    name: Uses pipeline parameters
    command: curl ${host}:${port}
    template: true
  - id: step-defaults
    name: Step default beats pipeline
    command: curl ${host}:${port}
    defaults:
      port: 8080
  - id: step-params
    name: Step parameter beats default
    command: curl ${host}:${port}
    parameters:
      port: 9000
    defaults:
      port: 8080
`)

	run, err := Build(p)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	want := []string{
		"curl shared.example:80",
		"curl shared.example:8080",
		"curl shared.example:9000",
	}
	for i, step := range run.Steps {
		if got := step.Command(); got != want[i] {
			t.Errorf("step %s command = %q, want %q", step.ID(), got, want[i])
		}
	}

	run, err = Build(p, WithOverrides(engine.Parameters{"port": 443}))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	for _, step := range run.Steps {
		if got := step.Command(); got != "curl shared.example:443" {
			t.Errorf("step %s command = %q, want override to win", step.ID(), got)
		}
	}
}

func TestBuildLeavesPlainCommandsToTheShell(t *testing.T) {
	p := mustParse(t, `
name: shell variables
parameters:
  PATH: /ignored
steps:
  - id: path
    name: Print path
    command: echo $PATH
  - id: loop
    name: Loop
    command: for f in *.log; do gzip "$f"; done
  - id: env
    name: Env
    type: shell
    command: printenv GREETING
    env: {GREETING: hi}
    parameters: {GREETING: ignored}
tests:
  - id: home
    name: Home is set
    command: test -n "${HOME}"
`)

	run, err := Build(p, WithOverrides(engine.Parameters{"f": "overridden"}))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	want := map[string]string{
		"path": "echo $PATH",
		"loop": `for f in *.log; do gzip "$f"; done`,
		"env":  "GREETING=hi printenv GREETING",
	}
	for _, step := range run.Steps {
		if got := step.Command(); got != want[step.ID()] {
			t.Errorf("step %s command = %q, want %q", step.ID(), got, want[step.ID()])
		}
		if missing := step.MissingParameters(); len(missing) != 0 {
			t.Errorf("step %s missing = %v, want none", step.ID(), missing)
		}
	}
	if got := run.Tests[0].Command(); got != `test -n "${HOME}"` {
		t.Errorf("test command = %q", got)
	}
	if missing := run.Tests[0].MissingParameters(); len(missing) != 0 {
		t.Errorf("test missing = %v, want none", missing)
	}
}

func TestBuildTemplateFlagRequiresParameters(t *testing.T) {
	p := mustParse(t, `
name: templated
steps:
  - id: deploy
    name: Deploy
    command: ./deploy.sh ${version}
    template: true
`)

	run, err := Build(p)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if got := run.Steps[0].MissingParameters(); len(got) != 1 || got[0] != "version" {
		t.Errorf("missing = %v, want [version]", got)
	}

	run, err = Build(p, WithOverrides(engine.Parameters{"version": "1.2"}))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if got := run.Steps[0].Command(); got != "./deploy.sh 1.2" {
		t.Errorf("command = %q", got)
	}
}

func TestBuildGeneratesRunID(t *testing.T) {
	run, err := Build(mustParse(t, "name: anonymous\n"))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if _, err := uuid.Parse(run.ID); err != nil {
		t.Errorf("run ID %q is not a UUID: %v", run.ID, err)
	}
}

func TestBuildStepTypes(t *testing.T) {
	p := mustParse(t, `
name: types
steps:
  - id: pkg
    name: Install
    type: package
    platform: Ubuntu
    package: {manager: apt, name: nginx, version: "1.24"}
  - id: ctr
    name: Container
    type: docker
    docker:
      image: redis
      tag: "7"
      name: cache
      ports: ["6379"]
      detach: true
  - id: sh
    name: Shell
    type: shell
    command: ./deploy.sh
    env: {STAGE: "blue green"}
  - id: both
    name: Both
    type: parallel
    continue_on_failure: true
    steps:
      - {id: a, name: A, command: echo a}
      - {id: b, name: B, command: echo b, timeout: 5s}
`)

	run, err := Build(p)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	steps := run.Steps
	if len(steps) != 4 {
		t.Fatalf("got %d steps, want 4", len(steps))
	}

	if got := steps[0].Command(); got != "sudo apt-get install -y nginx==1.24" {
		t.Errorf("package command = %q", got)
	}
	if steps[0].Platform() != engine.PlatformUbuntu {
		t.Errorf("platform = %q, want ubuntu", steps[0].Platform())
	}
	if got := steps[1].Command(); got != "docker run -d --name cache -p 6379:6379 redis:7" {
		t.Errorf("docker command = %q", got)
	}
	if got := steps[2].Command(); got != "STAGE='blue green' ./deploy.sh" {
		t.Errorf("shell command = %q", got)
	}

	par := steps[3]
	if par.Mode() != engine.ModeParallelComposite || !par.ContinueOnFailure() {
		t.Errorf("parallel step mode=%v continue=%v", par.Mode(), par.ContinueOnFailure())
	}
	children := par.Children()
	if len(children) != 2 || children[1].Timeout() != 5*time.Second {
		t.Errorf("unexpected children: %d", len(children))
	}
}

func TestBuildRejectsDuplicateIDs(t *testing.T) {
	p := mustParse(t, `
name: dupes
steps:
  - id: same
    name: First
    command: echo 1
  - id: outer
    name: Outer
    type: parallel
    steps:
      - {id: same, name: Child, command: echo 2}
`)
	_, err := Build(p)
	if err == nil || !engine.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), `duplicate id "same"`) {
		t.Errorf("error = %v", err)
	}
}

func TestBuildScriptSteps(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "check.star"), []byte(`
res = run("probe " + str(params["port"]))
success = res.success
output = res.output
`), 0o644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "pipeline.yaml")
	if err := os.WriteFile(path, []byte(`
name: scripted
parameters:
  port: 5432
steps:
  - id: inline
    name: Inline script
    type: script
    script: |
      output = "hello " + params["who"]
    parameters:
      who: world
  - id: file
    name: Script file
    type: script
    script_file: check.star
`), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	var mu sync.Mutex
	var commands []string
	runner := engine.CommandRunnerFunc(func(_ context.Context, command string, _ time.Duration) engine.CommandResult {
		mu.Lock()
		defer mu.Unlock()
		commands = append(commands, command)
		return engine.CommandResult{Success: true, Output: "open"}
	})

	run, err := Build(p, WithRunner(runner))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if got := run.Steps[1].Command(); got != "starlark: check.star" {
		t.Errorf("script description = %q", got)
	}

	result := engine.NewExecutor(runner).ExecuteRun(context.Background(), run, engine.PlatformLinux)
	if !result.Success {
		t.Fatalf("run failed: %s", result.Error)
	}
	if got := result.StepResults[0].Output; got != "hello world" {
		t.Errorf("inline output = %q", got)
	}
	if got := result.StepResults[1].Output; got != "open" {
		t.Errorf("file output = %q", got)
	}
	if len(commands) != 1 || commands[0] != "probe 5432" {
		t.Errorf("commands = %v", commands)
	}
}

func TestBuildScriptErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"syntax error", `
name: x
steps:
  - {id: s, name: s, type: script, script: "def (:"}`},
		{"missing file", `
name: x
steps:
  - {id: s, name: s, type: script, script_file: /nonexistent/script.star}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(mustParse(t, tt.yaml))
			if err == nil || !engine.IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}
