package metrics

import "time"

// Run and policy status label values.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"

	PolicyScanned = "scanned"
	PolicySkipped = "skipped"
)

// Recorder receives the events of a compliance run. The orchestrator only
// depends on this interface so tests can pass Nop.
type Recorder interface {
	// RunFinished records the end of a run and how long it took.
	RunFinished(status string, duration time.Duration)

	// PolicyFinished records one policy iteration.
	PolicyFinished(refID, result string, duration time.Duration)

	// TailoringOutcome counts a tailoring download outcome.
	TailoringOutcome(outcome string)

	// ResultRepaired counts a repaired results file.
	ResultRepaired()
}

// Nop discards every event.
type Nop struct{}

func (Nop) RunFinished(string, time.Duration)            {}
func (Nop) PolicyFinished(string, string, time.Duration) {}
func (Nop) TailoringOutcome(string)                      {}
func (Nop) ResultRepaired()                              {}

var (
	_ Recorder = Nop{}
	_ Recorder = (*PrometheusMetrics)(nil)
)
