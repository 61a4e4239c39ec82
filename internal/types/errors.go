package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Sentinel errors for common failure modes.
var (
	ErrNavigationTimeout  = errors.New("navigation timed out")
	ErrNavigationFailed   = errors.New("navigation failed")
	ErrNoMatchingFields   = errors.New("no matching fields on page")
	ErrCaptureFailed      = errors.New("screenshot capture failed")
	ErrWorkerLaunchFailed = errors.New("browser launch failed")
	ErrItemTimeout        = errors.New("item timed out")
	ErrPersistence        = errors.New("state persistence failed")
	ErrSessionActive      = errors.New("a session is already active")
	ErrNoSession          = errors.New("no active session")
	ErrSessionNotFound    = errors.New("session not found")
	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrPoolClosed         = errors.New("browser pool is closed")
	ErrItemNotFound       = errors.New("item not found in session")
)

// ExtractionKind classifies a connector failure.
type ExtractionKind string

const (
	NavigationTimeout ExtractionKind = "navigation_timeout"
	NavigationFailed  ExtractionKind = "navigation_failed"
	NoMatchingFields  ExtractionKind = "no_matching_fields"
)

// ExtractionError wraps errors that occur while loading or parsing a template page.
type ExtractionError struct {
	Kind ExtractionKind
	URL  string
	Err  error
}

func (e *ExtractionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("extraction error for %s: %s", e.URL, e.Kind)
	}
	return fmt.Sprintf("extraction error for %s (%s): %v", e.URL, e.Kind, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Is matches the sentinel that corresponds to the error kind.
func (e *ExtractionError) Is(target error) bool {
	switch e.Kind {
	case NavigationTimeout:
		return target == ErrNavigationTimeout
	case NavigationFailed:
		return target == ErrNavigationFailed
	case NoMatchingFields:
		return target == ErrNoMatchingFields
	}
	return false
}

// CaptureError wraps errors from the screenshot capture unit.
type CaptureError struct {
	Stage string
	Err   error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture error at %s: %v", e.Stage, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

func (e *CaptureError) Is(target error) bool { return target == ErrCaptureFailed }

// WorkerLaunchError is returned by the browser pool once relaunching a
// crashed browser has failed Attempts times in a row.
type WorkerLaunchError struct {
	Attempts int
	Err      error
}

func (e *WorkerLaunchError) Error() string {
	return fmt.Sprintf("browser launch failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *WorkerLaunchError) Unwrap() error { return e.Err }

func (e *WorkerLaunchError) Is(target error) bool { return target == ErrWorkerLaunchFailed }

// TimeoutError marks an item that ran past its per-item deadline.
type TimeoutError struct {
	ItemID string
	Phase  Phase
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("item %s timed out after %s during %s", e.ItemID, e.After, e.Phase)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrItemTimeout }

// PersistenceError wraps state store write failures.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error (%s): %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

const maxErrorMessage = 1000

// ErrorMessage truncates an error for storage in a status column. The
// result is valid UTF-8 and at most 1000 bytes long.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToValidUTF8(err.Error(), "\uFFFD")
	if len(msg) <= maxErrorMessage {
		return msg
	}
	cut := maxErrorMessage
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
