package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ruivieira/cheshire/pkg/engine"
)

const sampleYAML = `
id: deploy
name: Deploy web
parameters:
  port: 8080
pre_conditions:
  - id: docker
    name: Docker available
    command: docker info
    platform: linux
steps:
  - id: install
    name: Install curl
    type: package
    package:
      manager: dnf
      name: curl
    platform: fedora
  - id: fanout
    name: Warm caches
    type: parallel
    timeout: 2m
    steps:
      - id: warm-a
        name: Warm A
        command: warm a
      - id: warm-b
        name: Warm B
        command: warm b
        retries: 2
tests:
  - id: http
    name: Responds
    command: curl -fsS http://localhost:${port}/
    timeout: 30
`

func TestParseYAML(t *testing.T) {
	p, err := Parse([]byte(sampleYAML), FormatYAML, "deploy.yaml")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if p.ID != "deploy" || p.Name != "Deploy web" {
		t.Errorf("unexpected header: %q %q", p.ID, p.Name)
	}
	if got := p.Parameters["port"]; got != 8080 {
		t.Errorf("port = %#v, want 8080", got)
	}
	if len(p.Steps) != 2 || len(p.Steps[1].Steps) != 2 {
		t.Fatalf("unexpected steps: %+v", p.Steps)
	}
	if got := p.Steps[1].Timeout.Std(); got != 2*time.Minute {
		t.Errorf("parallel timeout = %v, want 2m", got)
	}
	if got := p.Tests[0].Timeout.Std(); got != 30*time.Second {
		t.Errorf("numeric timeout = %v, want 30s", got)
	}
	if p.Steps[1].Steps[1].Retries != 2 {
		t.Errorf("child retries = %d, want 2", p.Steps[1].Steps[1].Retries)
	}
}

func TestParseYAMLRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("name: x\nstepz: []\n"), FormatYAML, "bad.yaml")
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
	if !engine.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestParseYAMLEmpty(t *testing.T) {
	if _, err := Parse(nil, FormatYAML, "empty.yaml"); err == nil {
		t.Fatal("expected error for empty definition")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "steps: []",
			wantErr: "name is required",
		},
		{
			name: "missing step id",
			yaml: `name: x
steps:
  - name: no id
    command: echo ok`,
			wantErr: "steps[0].id is required",
		},
		{
			name: "unknown platform",
			yaml: `name: x
tests:
  - id: t
    name: t
    command: echo ok
    platform: beos`,
			wantErr: `unknown platform "beos"`,
		},
		{
			name: "unknown step type",
			yaml: `name: x
steps:
  - id: s
    name: s
    type: ansible`,
			wantErr: "steps[0].type must be one of",
		},
		{
			name: "command step without command",
			yaml: `name: x
steps:
  - id: s
    name: s`,
			wantErr: "command step requires command",
		},
		{
			name: "parallel without children",
			yaml: `name: x
steps:
  - id: p
    name: p
    type: parallel`,
			wantErr: "parallel step requires steps",
		},
		{
			name: "children on non-parallel step",
			yaml: `name: x
steps:
  - id: s
    name: s
    command: echo ok
    steps:
      - id: c
        name: c
        command: echo ok`,
			wantErr: "only parallel steps may have child steps",
		},
		{
			name: "bad package manager",
			yaml: `name: x
steps:
  - id: s
    name: s
    type: package
    package:
      manager: pacman
      name: curl`,
			wantErr: "steps[0].package.manager must be one of",
		},
		{
			name: "negative retries",
			yaml: `name: x
tests:
  - id: t
    name: t
    command: echo ok
    retries: -1`,
			wantErr: "tests[0].retries failed gte",
		},
		{
			name: "bad duration",
			yaml: `name: x
tests:
  - id: t
    name: t
    command: echo ok
    timeout: soon`,
			wantErr: "invalid duration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), FormatYAML, "test.yaml")
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

const sampleCUE = `
package pipelines

_port: 8080

pipeline: {
	name: "Deploy web"
	parameters: port: _port
	steps: [
		{
			id:   "run"
			name: "Start container"
			type: "docker"
			docker: {
				image: "nginx"
				ports: ["\(_port):80"]
			}
		},
		{
			id:      "flaky"
			name:    "Flaky thing"
			command: "might fail"
			retries: 3
			timeout: "45s"
			continue_on_failure: true
		},
	]
	tests: [{
		id:      "http"
		name:    "Responds"
		command: "curl -fsS http://localhost:${port}/"
	}]
}
`

func TestParseCUE(t *testing.T) {
	p, err := Parse([]byte(sampleCUE), FormatCUE, "deploy.cue")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if p.Name != "Deploy web" {
		t.Errorf("name = %q", p.Name)
	}
	if got := p.Parameters["port"]; got != 8080 {
		t.Errorf("port = %#v, want int 8080", got)
	}
	if len(p.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(p.Steps))
	}
	if p.Steps[0].Docker == nil || p.Steps[0].Docker.Ports[0] != "8080:80" {
		t.Errorf("docker def = %+v", p.Steps[0].Docker)
	}
	flaky := p.Steps[1]
	if flaky.Retries != 3 || flaky.Timeout.Std() != 45*time.Second || !flaky.ContinueOnFailure {
		t.Errorf("flaky step = %+v", flaky)
	}
}

func TestParseCUESchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		cue  string
	}{
		{"bad platform", `name: "x", tests: [{id: "t", name: "t", command: "c", platform: "beos"}]`},
		{"misspelled field", `name: "x", steps: [{id: "s", name: "s", comand: "c"}]`},
		{"negative retries", `name: "x", tests: [{id: "t", name: "t", command: "c", retries: -2}]`},
		{"missing name", `steps: []`},
		{"syntax error", `name: "x`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.cue), FormatCUE, "bad.cue")
			if err == nil {
				t.Fatal("expected error")
			}
			if !engine.IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deploy.yml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if p.BaseDir != dir {
		t.Errorf("BaseDir = %q, want %q", p.BaseDir, dir)
	}

	if _, err := Load(filepath.Join(dir, "deploy.toml")); err == nil {
		t.Error("expected error for unsupported extension")
	}
	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
