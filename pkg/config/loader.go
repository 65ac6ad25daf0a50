package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ruivieira/cheshire/pkg/engine"
)

// Format is a definition file format.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatCUE  Format = "cue"
)

// FormatFor infers the format from a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".cue":
		return FormatCUE, nil
	default:
		return "", fmt.Errorf("unsupported definition format: %s", path)
	}
}

// Load reads, parses and validates the definition at path.
func Load(path string) (*Pipeline, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition: %w", err)
	}
	p, err := Parse(data, format, path)
	if err != nil {
		return nil, err
	}
	p.BaseDir = filepath.Dir(path)
	return p, nil
}

// Parse decodes and validates a definition. name is used in error
// positions.
func Parse(data []byte, format Format, name string) (*Pipeline, error) {
	var (
		p   *Pipeline
		err error
	)
	switch format {
	case FormatYAML:
		p, err = parseYAML(data)
	case FormatCUE:
		p, err = parseCUE(data, name)
	default:
		return nil, fmt.Errorf("unsupported definition format: %q", string(format))
	}
	if err != nil {
		return nil, engine.NewValidationError(fmt.Sprintf("failed to parse %s", name), err)
	}
	normalizePipeline(p)
	if err := Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

func parseYAML(data []byte) (*Pipeline, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var p Pipeline
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("definition is empty")
		}
		return nil, err
	}
	return &p, nil
}

// parseCUE accepts either a top-level `pipeline` field or a document that
// is itself the pipeline. The value is checked against the built-in schema
// before decoding.
func parseCUE(data []byte, name string) (*Pipeline, error) {
	ctx := cuecontext.New()
	val := ctx.CompileBytes(data, cue.Filename(name))
	if err := val.Err(); err != nil {
		return nil, cueError(err)
	}
	if v := val.LookupPath(cue.ParsePath("pipeline")); v.Exists() {
		val = v
	}

	schema, err := pipelineDefinition(ctx)
	if err != nil {
		return nil, err
	}
	val = schema.Unify(val)
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return nil, cueError(err)
	}

	raw, err := val.MarshalJSON()
	if err != nil {
		return nil, cueError(err)
	}
	var p Pipeline
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// cueError flattens CUE errors into one error per position.
func cueError(err error) error {
	var errs []error
	for _, e := range cueerrors.Errors(err) {
		msg := cueerrors.Details(e, nil)
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			msg = fmt.Sprintf("%s:%d:%d: %s", pos[0].Filename(), pos[0].Line(), pos[0].Column(), strings.TrimSpace(msg))
		}
		errs = append(errs, errors.New(strings.TrimSpace(msg)))
	}
	if len(errs) == 0 {
		return err
	}
	return errors.Join(errs...)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// Registration only fails for empty tags or nil functions.
	_ = v.RegisterValidation("platform", func(fl validator.FieldLevel) bool {
		_, err := engine.ParsePlatform(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks field constraints and per-type requirements.
func Validate(p *Pipeline) error {
	var errs []error
	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return engine.NewValidationError("invalid pipeline definition", err)
		}
		for _, fe := range verrs {
			errs = append(errs, fieldError(fe))
		}
	}
	for i, s := range p.Steps {
		errs = append(errs, checkStep(fmt.Sprintf("steps[%d]", i), s)...)
	}
	if len(errs) > 0 {
		return engine.NewValidationError("invalid pipeline definition", errors.Join(errs...))
	}
	return nil
}

func fieldError(fe validator.FieldError) error {
	field := strings.TrimPrefix(fe.Namespace(), "Pipeline.")
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", field)
	case "oneof":
		return fmt.Errorf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value())
	case "platform":
		return fmt.Errorf("%s: unknown platform %q", field, fe.Value())
	default:
		return fmt.Errorf("%s failed %s=%s", field, fe.Tag(), fe.Param())
	}
}

func checkStep(path string, s StepDef) []error {
	var errs []error
	need := func(ok bool, what string) {
		if !ok {
			errs = append(errs, fmt.Errorf("%s (%s): %s step requires %s", path, s.ID, s.StepType(), what))
		}
	}
	switch s.StepType() {
	case StepTypeCommand, StepTypeShell:
		need(s.Command != "", "command")
	case StepTypePackage:
		need(s.Package != nil, "package")
	case StepTypeDocker:
		need(s.Docker != nil, "docker")
	case StepTypeScript:
		need(s.Script != "" || s.ScriptFile != "", "script or script_file")
	case StepTypeParallel:
		need(len(s.Steps) > 0, "steps")
	}
	if s.StepType() != StepTypeParallel && len(s.Steps) > 0 {
		errs = append(errs, fmt.Errorf("%s (%s): only parallel steps may have child steps", path, s.ID))
	}
	for i, child := range s.Steps {
		errs = append(errs, checkStep(fmt.Sprintf("%s.steps[%d]", path, i), child)...)
	}
	return errs
}

// normalizePipeline turns integral float64 parameter values, produced by the
// JSON round trip of CUE documents, back into ints.
func normalizePipeline(p *Pipeline) {
	p.Parameters = normalizeMap(p.Parameters)
	for i := range p.PreConditions {
		normalizeCheck(&p.PreConditions[i])
	}
	for i := range p.Tests {
		normalizeCheck(&p.Tests[i])
	}
	normalizeSteps(p.Steps)
}

func normalizeCheck(c *CheckDef) {
	c.Parameters = normalizeMap(c.Parameters)
	c.Defaults = normalizeMap(c.Defaults)
}

func normalizeSteps(steps []StepDef) {
	for i := range steps {
		steps[i].Parameters = normalizeMap(steps[i].Parameters)
		steps[i].Defaults = normalizeMap(steps[i].Defaults)
		normalizeSteps(steps[i].Steps)
	}
}

func normalizeMap(m map[string]any) map[string]any {
	for k, v := range m {
		m[k] = normalizeValue(v)
	}
	return m
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
			return int(val)
		}
		return val
	case []any:
		for i := range val {
			val[i] = normalizeValue(val[i])
		}
		return val
	case map[string]any:
		return normalizeMap(val)
	default:
		return v
	}
}
