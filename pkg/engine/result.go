package engine

import "time"

// OperationResult is the terminal outcome of one operation.
type OperationResult struct {
	OperationID string        `json:"operation_id"`
	Name        string        `json:"name"`
	Kind        Kind          `json:"kind"`
	Success     bool          `json:"success"`
	Output      string        `json:"output"`
	Error       string        `json:"error,omitempty"`
	ErrorClass  ErrorClass    `json:"error_class,omitempty"`
	Duration    time.Duration `json:"duration"`
	RetryCount  int           `json:"retry_count"`
}

// Err returns the failure as a classified error, or nil on success.
func (r OperationResult) Err() error {
	if r.Success {
		return nil
	}
	var err *EngineError
	switch r.ErrorClass {
	case ErrorClassValidation:
		err = NewValidationError(r.Error, nil)
	case ErrorClassTimeout:
		err = NewTimeoutError(r.Error, nil)
	case ErrorClassAbort:
		err = NewAbortError(r.Error, nil)
	default:
		err = NewExecutionError(r.Error, nil)
	}
	return err.WithOperation(r.OperationID).WithKind(r.Kind)
}

// RunResult aggregates the outcome of a run. It is fully populated when
// returned by ExecuteRun and not modified afterwards.
type RunResult struct {
	RunID               string            `json:"run_id"`
	Platform            Platform          `json:"platform"`
	Success             bool              `json:"success"`
	PreConditionResults []OperationResult `json:"pre_condition_results"`
	StepResults         []OperationResult `json:"step_results"`
	TestResults         []OperationResult `json:"test_results"`
	TotalDuration       time.Duration     `json:"total_duration"`
	StartTime           time.Time         `json:"start_time"`
	EndTime             time.Time         `json:"end_time"`
	Error               string            `json:"error,omitempty"`
}

// Err returns an abort error describing the first failure, or nil.
func (r *RunResult) Err() error {
	if r.Success {
		return nil
	}
	var cause error
	for _, group := range [][]OperationResult{r.PreConditionResults, r.StepResults, r.TestResults} {
		for _, res := range group {
			if !res.Success {
				cause = res.Err()
				break
			}
		}
		if cause != nil {
			break
		}
	}
	msg := r.Error
	if msg == "" {
		msg = "run failed"
	}
	return NewAbortError(msg, cause).WithOperation(r.RunID)
}

// Summary counts passed and failed operations across all phases.
type Summary struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// Summary returns per-run pass/fail counts.
func (r *RunResult) Summary() Summary {
	var s Summary
	for _, group := range [][]OperationResult{r.PreConditionResults, r.StepResults, r.TestResults} {
		for _, res := range group {
			s.Total++
			if res.Success {
				s.Passed++
			} else {
				s.Failed++
			}
		}
	}
	return s
}
