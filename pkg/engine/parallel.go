package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// runParallel performs one attempt of a parallel step: every child runs its
// own retry loop concurrently and the attempt ends once all of them have
// reached a terminal result. The step's timeout bounds the whole fan-out.
func (e *Executor) runParallel(ctx context.Context, step *Step) CommandResult {
	fanCtx, cancel := withOptionalTimeout(ctx, step.Timeout())
	defer cancel()
	fanCtx = withParent(fanCtx, step.ID())

	children := step.children
	results := make([]OperationResult, len(children))

	var wg sync.WaitGroup
	for i, child := range children {
		wg.Add(1)
		go func(i int, child *Step) {
			defer wg.Done()
			results[i] = e.ExecuteStep(fanCtx, child)
		}(i, child)
	}
	wg.Wait()

	var output strings.Builder
	var failures []string
	for i, res := range results {
		// Silent children still get a line so the output shows who ran.
		line := strings.TrimRight(res.Output, "\n")
		if line == "" {
			line = "ok"
			if !res.Success {
				line = "failed"
			}
		}
		fmt.Fprintf(&output, "[%s] %s\n", children[i].Name(), line)
		if !res.Success {
			failures = append(failures, fmt.Sprintf("%s (%s): %s", children[i].Name(), children[i].ID(), res.Error))
		}
	}

	combined := CommandResult{
		Success: len(failures) == 0,
		Output:  output.String(),
	}

	timedOut := len(failures) > 0 && ctx.Err() == nil && errors.Is(fanCtx.Err(), context.DeadlineExceeded)
	combined.TimedOut = timedOut

	if !combined.Success {
		msg := fmt.Sprintf("%d of %d parallel steps failed: %s",
			len(failures), len(children), strings.Join(failures, "; "))
		if timedOut {
			msg = fmt.Sprintf("parallel step timed out after %s; %s", step.Timeout(), msg)
		}
		combined.Error = msg
	}
	return combined
}
