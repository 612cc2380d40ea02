package replay

import "time"

// Task statuses. Completed, failed and canceled are terminal.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

// AllStatuses in reporting order.
var AllStatuses = []string{StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCanceled}

// Task is the persisted record of one replay run.
type Task struct {
	TaskID      string     `json:"task_id"`
	ReplayID    string     `json:"replay_id"`
	Status      string     `json:"status"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`

	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	SourceStream string    `json:"source_stream"`
	TargetStream string    `json:"target_stream"`
	MaxScan      int       `json:"max_scan"`
	MaxPublish   int       `json:"max_publish"`
	DryRun       bool      `json:"dry_run"`

	Scanned   int `json:"scanned"`
	Matched   int `json:"matched"`
	Published int `json:"published"`
}

// Active reports whether the task may still make progress.
func (t *Task) Active() bool {
	return t.Status == StatusPending || t.Status == StatusRunning
}

// Terminal reports whether the task reached a final status.
func (t *Task) Terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed || t.Status == StatusCanceled
}

// DurationSec returns the run time in seconds, or false before the
// task has both started and finished.
func (t *Task) DurationSec() (float64, bool) {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0, false
	}
	d := t.CompletedAt.Sub(*t.StartedAt).Seconds()
	if d < 0 {
		d = 0
	}
	return d, true
}
