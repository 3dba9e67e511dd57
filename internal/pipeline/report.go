package pipeline

// Stage termination outcomes.
const (
	// OutcomeCompleted means the stage drained its input before any stop
	// was requested.
	OutcomeCompleted = "completed"
	// OutcomeStopped means the stage observed the stop signal in time.
	OutcomeStopped = "stopped"
	// OutcomeFailed means the stage returned an error.
	OutcomeFailed = "failed"
	// OutcomeForced means the stage outlived the grace period and was
	// abandoned.
	OutcomeForced = "forced"
)

// StageReport describes how one stage ended.
type StageReport struct {
	Name    string `json:"name"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// ShutdownReport summarizes a pipeline shutdown.
type ShutdownReport struct {
	Stages      []StageReport  `json:"stages"`
	QueueDepths map[string]int `json:"queue_depths"`
	Delivered   uint64         `json:"transcripts_delivered"`
	Forced      bool           `json:"forced"`
	Failed      bool           `json:"failed"`
}

// Clean reports whether every stage ended on its own.
func (r ShutdownReport) Clean() bool {
	return !r.Forced && !r.Failed
}

// ExitCode maps the report to a process exit status.
func (r ShutdownReport) ExitCode() int {
	if r.Clean() {
		return 0
	}
	return 1
}

func (r ShutdownReport) outcome(stageName string) string {
	for _, s := range r.Stages {
		if s.Name == stageName {
			return s.Outcome
		}
	}
	return ""
}
