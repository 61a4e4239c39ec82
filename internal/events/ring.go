package events

import (
	"sync"
	"time"
)

// LogLine is one human-readable log entry kept for the admin UI.
type LogLine struct {
	Time      time.Time `json:"time"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	SessionID string    `json:"session_id,omitempty"`
}

// LogRing is a fixed-size circular buffer of log lines. Once full, each
// write overwrites the oldest line.
type LogRing struct {
	mu        sync.RWMutex
	entries   []LogLine
	size      int
	head      int // oldest entry
	count     int
	lineCount int
}

// NewLogRing creates a ring holding at most size lines.
func NewLogRing(size int) *LogRing {
	if size <= 0 {
		size = 500
	}
	return &LogRing{
		entries: make([]LogLine, size),
		size:    size,
	}
}

// Write appends a line.
func (r *LogRing) Write(line LogLine) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count < r.size {
		r.entries[(r.head+r.count)%r.size] = line
		r.count++
	} else {
		r.entries[r.head] = line
		r.head = (r.head + 1) % r.size
	}
	r.lineCount++
}

// ReadAll returns buffered lines oldest first.
func (r *LogRing) ReadAll() []LogLine {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]LogLine, r.count)
	for i := range r.count {
		out[i] = r.entries[(r.head+i)%r.size]
	}
	return out
}

// ReadSince returns buffered lines at or after since, oldest first.
func (r *LogRing) ReadSince(since time.Time) []LogLine {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]LogLine, 0, r.count)
	for i := range r.count {
		e := r.entries[(r.head+i)%r.size]
		if !e.Time.Before(since) {
			out = append(out, e)
		}
	}
	return out
}

// Tail returns the newest n lines, oldest first.
func (r *LogRing) Tail(n int) []LogLine {
	all := r.ReadAll()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Size returns the number of buffered lines.
func (r *LogRing) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// LineCount returns the total number of lines ever written.
func (r *LogRing) LineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lineCount
}
