package types

// SessionType identifies what produced a session's work list.
type SessionType string

const (
	SessionFull  SessionType = "full"
	SessionFresh SessionType = "fresh"
	SessionURLs  SessionType = "urls"
)

// Valid reports whether t is a known session type.
func (t SessionType) Valid() bool {
	switch t {
	case SessionFull, SessionFresh, SessionURLs:
		return true
	}
	return false
}

// SessionStatus is the lifecycle state of a scraping session.
type SessionStatus string

const (
	SessionStarting      SessionStatus = "starting"
	SessionRunning       SessionStatus = "running"
	SessionPaused        SessionStatus = "paused"
	SessionTimeoutPaused SessionStatus = "timeout_paused"
	SessionCompleting    SessionStatus = "completing"
	SessionCompleted     SessionStatus = "completed"
	SessionCancelled     SessionStatus = "cancelled"
	SessionInterrupted   SessionStatus = "interrupted"
)

// IsTerminal reports whether no further work will happen in the session
// without an explicit resume.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionCancelled
}

// IsLive reports whether a process was driving the session when it was last written.
func (s SessionStatus) IsLive() bool {
	switch s {
	case SessionStarting, SessionRunning, SessionPaused, SessionTimeoutPaused, SessionCompleting:
		return true
	}
	return false
}

// ItemStatus is the outcome of a single work item.
type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemRunning   ItemStatus = "running"
	ItemSucceeded ItemStatus = "succeeded"
	ItemFailed    ItemStatus = "failed"
	ItemSkipped   ItemStatus = "skipped"
	ItemCancelled ItemStatus = "cancelled"
)

// IsTerminal reports whether the item has reached a final outcome.
func (s ItemStatus) IsTerminal() bool {
	switch s {
	case ItemSucceeded, ItemFailed, ItemSkipped, ItemCancelled:
		return true
	}
	return false
}

// IsDone reports whether a resumed session must not run the item again.
// Cancelled items are re-queued on resume.
func (s ItemStatus) IsDone() bool {
	return s == ItemSucceeded || s == ItemFailed || s == ItemSkipped
}

// Phase is a work item's current pipeline stage.
type Phase string

const (
	PhaseQueued               Phase = "queued"
	PhaseNavigation           Phase = "navigation"
	PhaseExtraction           Phase = "extraction"
	PhaseScreenshotCapture    Phase = "screenshot_capture"
	PhaseScreenshotProcessing Phase = "screenshot_processing"
	PhaseDone                 Phase = "done"
)
