// Package events carries orchestrator lifecycle events and log lines to
// subscribers such as the admin API and external streams.
package events

import (
	"time"

	"github.com/IshaanNene/templatescout/internal/types"
)

// Type identifies an event.
type Type string

const (
	SessionStarted       Type = "session_started"
	SessionPaused        Type = "session_paused"
	SessionResumed       Type = "session_resumed"
	SessionTimeoutPaused Type = "session_timeout_paused"
	SessionCompleted     Type = "session_completed"
	SessionCancelled     Type = "session_cancelled"
	SessionInterrupted   Type = "session_interrupted"
	SessionFailed        Type = "session_failed"

	BatchStarted   Type = "batch_started"
	BatchCompleted Type = "batch_completed"

	ItemStarted       Type = "item_started"
	ItemPhase         Type = "item_phase"
	ItemCompleted     Type = "item_completed"
	ItemSkipRequested Type = "item_skip_requested"

	ConfigPending   Type = "config_pending"
	ConfigApplied   Type = "config_applied"
	ConfigCancelled Type = "config_cancelled"

	PoolStats        Type = "pool_stats"
	PersistenceError Type = "persistence_error"
	Log              Type = "log"
)

// Event is one orchestrator notification.
type Event struct {
	Type        Type           `json:"type"`
	SessionID   string         `json:"session_id,omitempty"`
	BatchNumber int            `json:"batch_number,omitempty"`
	ItemID      string         `json:"item_id,omitempty"`
	Phase       types.Phase    `json:"phase,omitempty"`
	Status      string         `json:"status,omitempty"`
	Message     string         `json:"message,omitempty"`
	Time        time.Time      `json:"time"`
	Data        map[string]any `json:"data,omitempty"`
}
