package downloader

// Status is the lifecycle state of a Task.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusFailed     Status = "failed"
)

func (s Status) String() string {
	return string(s)
}

// IsActive reports whether a download is queued or running.
func (s Status) IsActive() bool {
	return s == StatusScheduled || s == StatusInProgress
}

// IsTerminal reports whether no further transition happens for the current invocation.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// Outcome is the terminal result of one Download call.
type Outcome string

const (
	OutcomeAlreadyPresent Outcome = "already_present"
	OutcomeCompleted      Outcome = "completed"
	OutcomeCancelled      Outcome = "cancelled"
	OutcomeFailed         Outcome = "failed"
)

func (o Outcome) String() string {
	return string(o)
}

// status maps an outcome onto the task state it leaves behind.
func (o Outcome) status() Status {
	switch o {
	case OutcomeAlreadyPresent, OutcomeCompleted:
		return StatusCompleted
	case OutcomeCancelled:
		return StatusCancelled
	default:
		return StatusFailed
	}
}
