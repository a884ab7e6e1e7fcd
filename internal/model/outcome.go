package model

// FailureKind classifies why a dataset query failed. Timeouts are terminal
// for a request; execution failures feed the correction loop.
type FailureKind string

const (
	FailureTimeout   FailureKind = "timeout"
	FailureExecution FailureKind = "execution"
)

type ExecutionFailure struct {
	Kind    FailureKind
	Message string
}

func (f *ExecutionFailure) Error() string {
	return f.Message
}

// ExecutionOutcome is the result of running SQL against a dataset. It is a
// value, not an error: the orchestrator branches on Failure so the
// correction loop never depends on panic/recover.
type ExecutionOutcome struct {
	Columns []string
	Rows    []map[string]interface{}
	Failure *ExecutionFailure
}

func (o ExecutionOutcome) OK() bool {
	return o.Failure == nil
}

func (o ExecutionOutcome) TimedOut() bool {
	return o.Failure != nil && o.Failure.Kind == FailureTimeout
}
