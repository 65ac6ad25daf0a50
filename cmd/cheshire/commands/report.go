package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/ruivieira/cheshire/pkg/engine"
)

// reporter prints engine events as they happen and a summary at the end.
type reporter struct {
	out io.Writer

	head *color.Color
	pass *color.Color
	fail *color.Color
	warn *color.Color
	dim  *color.Color
}

func newReporter(out io.Writer) *reporter {
	return &reporter{
		out:  out,
		head: color.New(color.Bold),
		pass: color.New(color.FgGreen),
		fail: color.New(color.FgRed),
		warn: color.New(color.FgYellow),
		dim:  color.New(color.Faint),
	}
}

// HandleEvent implements telemetry.Subscriber.
func (r *reporter) HandleEvent(_ context.Context, ev *engine.Event) error {
	indent := "  "
	if ev.ParentID != "" {
		indent = "    "
	}

	switch ev.Type {
	case engine.EventTypeRunStarted:
		r.head.Fprintf(r.out, "==> %s on %s\n", ev.OperationName, ev.Platform.DisplayName())

	case engine.EventTypeOperationSucceeded:
		r.pass.Fprintf(r.out, "%s✔ %s: %s", indent, ev.Kind.Label(), ev.OperationName)
		r.dim.Fprintf(r.out, " (%s)\n", round(ev.Duration))

	case engine.EventTypeOperationFailed:
		r.fail.Fprintf(r.out, "%s✘ %s: %s", indent, ev.Kind.Label(), ev.OperationName)
		r.dim.Fprintf(r.out, " (%s)\n", round(ev.Duration))
		if ev.Error != "" {
			r.fail.Fprintf(r.out, "%s    %s\n", indent, ev.Error)
		}

	case engine.EventTypeOperationRetrying:
		r.warn.Fprintf(r.out, "%s↻ %s: attempt %d/%d failed, retrying in %s\n",
			indent, ev.OperationName, ev.Attempt, ev.MaxRetries+1, ev.Delay)
	}
	return nil
}

// summary prints pass/fail counts and the run error, if any.
func (r *reporter) summary(result *engine.RunResult) {
	s := result.Summary()
	line := fmt.Sprintf("%d passed, %d failed, %d total in %s", s.Passed, s.Failed, s.Total, round(result.TotalDuration))

	fmt.Fprintln(r.out)
	if result.Success {
		r.pass.Fprintf(r.out, "PASSED: %s\n", line)
		return
	}
	r.fail.Fprintf(r.out, "FAILED: %s\n", line)
	if result.Error != "" {
		r.fail.Fprintf(r.out, "Error: %s\n", result.Error)
	}
}

func round(d time.Duration) time.Duration {
	if d < time.Second {
		return d.Round(time.Millisecond)
	}
	return d.Round(10 * time.Millisecond)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
