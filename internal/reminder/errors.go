package reminder

// Pipeline stages that can abort a run.
const (
	StageAuthorize = "authorize"
	StageAudience  = "audience"
	StageSuppress  = "suppress"
	StageDeliver   = "deliver"
	StagePanic     = "panic"
)

// StageError records where a run was aborted.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return e.Stage + ": " + e.Err.Error() }

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage string, err error) error {
	return &StageError{Stage: stage, Err: err}
}
