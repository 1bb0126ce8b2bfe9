package job

import "time"

// Status is the lifecycle state of a job. Transitions only move forward:
// queued -> running -> done|error.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

func (s Status) rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusRunning:
		return 1
	case StatusDone, StatusError:
		return 2
	default:
		return -1
	}
}

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool { return s == StatusDone || s == StatusError }

// Record is the state of one job execution.
type Record struct {
	ID        string    `json:"-"`
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
	Progress  int       `json:"progress"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// Patch carries a partial update. Nil fields are left untouched.
type Patch struct {
	Status   *Status
	Message  *string
	Progress *int
}

func (p Patch) WithStatus(s Status) Patch  { p.Status = &s; return p }
func (p Patch) WithMessage(m string) Patch { p.Message = &m; return p }
func (p Patch) WithProgress(v int) Patch   { p.Progress = &v; return p }

// Event types published on the bus.
const (
	EventCreated = "job.created"
	EventUpdated = "job.updated"
)

// Event is the payload of EventCreated/EventUpdated.
type Event struct {
	Record   Record
	Previous Status
}
