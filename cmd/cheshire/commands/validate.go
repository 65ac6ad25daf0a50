package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ruivieira/cheshire/pkg/config"
	"github.com/ruivieira/cheshire/pkg/engine"
)

type validateResult struct {
	File          string   `json:"file"`
	Valid         bool     `json:"valid"`
	Name          string   `json:"name,omitempty"`
	PreConditions int      `json:"pre_conditions"`
	Steps         int      `json:"steps"`
	Tests         int      `json:"tests"`
	Errors        []string `json:"errors,omitempty"`
}

func newValidateCommand(global *globalOptions) *cobra.Command {
	var params []string

	cmd := &cobra.Command{
		Use:   "validate <pipeline>...",
		Short: "Check pipeline definitions without running them",
		Long: `Parse each definition, check it against the schema and build the run
without executing anything. Parameters referenced by commands but not
supplied are reported as errors.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := parseParams(params)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			results := make([]validateResult, 0, len(args))
			failed := false
			for _, path := range args {
				res := validateFile(path, overrides)
				failed = failed || !res.Valid
				results = append(results, res)

				if global.jsonOutput {
					continue
				}
				if res.Valid {
					fmt.Fprintf(out, "%s: OK (%d pre-conditions, %d steps, %d tests)\n",
						path, res.PreConditions, res.Steps, res.Tests)
					continue
				}
				fmt.Fprintf(out, "%s: INVALID\n", path)
				for _, msg := range res.Errors {
					fmt.Fprintf(out, "  - %s\n", msg)
				}
			}

			if global.jsonOutput {
				if err := writeJSON(out, results); err != nil {
					return err
				}
			}
			if failed {
				return ErrRunFailed
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "parameter override key=value (repeatable)")
	return cmd
}

func validateFile(path string, overrides engine.Parameters) validateResult {
	res := validateResult{File: path}

	p, err := config.Load(path)
	if err != nil {
		res.Errors = errorLines(err)
		return res
	}
	res.Name = p.Name

	run, err := config.Build(p, config.WithOverrides(overrides))
	if err != nil {
		res.Errors = errorLines(err)
		return res
	}
	res.PreConditions = len(run.PreConditions)
	res.Steps = len(run.Steps)
	res.Tests = len(run.Tests)
	res.Errors = missingParameters(run)
	res.Valid = len(res.Errors) == 0
	return res
}

func missingParameters(run *engine.Run) []string {
	var msgs []string
	check := func(op engine.Operation) {
		if missing := op.MissingParameters(); len(missing) > 0 {
			msgs = append(msgs, fmt.Sprintf("%s %q: missing parameters %s",
				op.Kind(), op.ID(), strings.Join(missing, ", ")))
		}
	}
	for _, pc := range run.PreConditions {
		check(pc)
	}
	for _, s := range run.Steps {
		check(s)
	}
	for _, t := range run.Tests {
		check(t)
	}
	return msgs
}

// errorLines expands joined errors so each problem is reported on its own.
func errorLines(err error) []string {
	var joined interface{ Unwrap() []error }
	var ee *engine.EngineError
	if errors.As(err, &ee) && ee.Err != nil && errors.As(ee.Err, &joined) {
		lines := []string{}
		for _, e := range joined.Unwrap() {
			lines = append(lines, ee.Message+": "+e.Error())
		}
		return lines
	}
	return []string{err.Error()}
}
