package types

import (
	"time"
)

// Counts tracks item outcomes. Processed is always the sum of the four
// terminal buckets.
type Counts struct {
	Processed int `db:"processed" json:"processed"`
	Succeeded int `db:"succeeded" json:"succeeded"`
	Failed    int `db:"failed"    json:"failed"`
	Skipped   int `db:"skipped"   json:"skipped"`
	Cancelled int `db:"cancelled" json:"cancelled"`
}

// Record adds one terminal outcome. Non-terminal statuses are ignored.
func (c *Counts) Record(s ItemStatus) {
	switch s {
	case ItemSucceeded:
		c.Succeeded++
	case ItemFailed:
		c.Failed++
	case ItemSkipped:
		c.Skipped++
	case ItemCancelled:
		c.Cancelled++
	default:
		return
	}
	c.Processed++
}

// Add accumulates another set of counts.
func (c *Counts) Add(o Counts) {
	c.Processed += o.Processed
	c.Succeeded += o.Succeeded
	c.Failed += o.Failed
	c.Skipped += o.Skipped
	c.Cancelled += o.Cancelled
}

// Balanced reports whether Processed equals the sum of outcome buckets.
func (c Counts) Balanced() bool {
	return c.Processed == c.Succeeded+c.Failed+c.Skipped+c.Cancelled
}

// Session is one full scraping run.
type Session struct {
	ID           string        `db:"id"            json:"id"`
	Type         SessionType   `db:"type"          json:"type"`
	Status       SessionStatus `db:"status"        json:"status"`
	TotalItems   int           `db:"total_items"   json:"total_items"`
	TotalBatches int           `db:"total_batches" json:"total_batches"`
	BatchSize    int           `db:"batch_size"    json:"batch_size"`
	CurrentBatch int           `db:"current_batch" json:"current_batch"`
	Counts
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"    json:"updated_at"`
	StartedAt    *time.Time `db:"started_at"    json:"started_at,omitempty"`
	CompletedAt  *time.Time `db:"completed_at"  json:"completed_at,omitempty"`
}

// BatchStatus is the lifecycle state of a batch.
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchCancelled BatchStatus = "cancelled"
)

// Batch is an ordered, fixed-size partition of a session's work items.
type Batch struct {
	SessionID   string      `db:"session_id"   json:"session_id"`
	Number      int         `db:"batch_number" json:"batch_number"`
	Status      BatchStatus `db:"status"       json:"status"`
	Size        int         `db:"size"         json:"size"`
	Counts
	StartedAt   *time.Time `db:"started_at"   json:"started_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`

	Items []WorkItem `db:"-" json:"items,omitempty"`
}

// ItemResult is the persisted per-item outcome within a batch.
type ItemResult struct {
	ItemID       string     `db:"item_id"       json:"item_id"`
	SessionID    string     `db:"session_id"    json:"session_id"`
	BatchNumber  int        `db:"batch_number"  json:"batch_number"`
	Position     int        `db:"position"      json:"position"`
	URL          string     `db:"url"           json:"url"`
	Slug         string     `db:"slug"          json:"slug"`
	Name         string     `db:"name"          json:"name,omitempty"`
	Status       ItemStatus `db:"status"        json:"status"`
	Phase        Phase      `db:"phase"         json:"phase"`
	PreviewURL   *string    `db:"preview_url"   json:"preview_url,omitempty"`
	ThumbnailURL *string    `db:"thumbnail_url" json:"thumbnail_url,omitempty"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	DurationMS   int64      `db:"duration_ms"   json:"duration_ms"`
	UpdatedAt    time.Time  `db:"updated_at"    json:"updated_at"`
}

// WorkItem reconstructs the work item an ItemResult row describes.
func (r ItemResult) WorkItem() WorkItem {
	return WorkItem{ID: r.ItemID, URL: r.URL, Slug: r.Slug, Name: r.Name, Position: r.Position}
}

// Partition splits items into ordered batches of at most size items.
// Batches are numbered from 1.
func Partition(sessionID string, items []WorkItem, size int) []*Batch {
	if size < 1 {
		size = 1
	}
	batches := make([]*Batch, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		batches = append(batches, &Batch{
			SessionID: sessionID,
			Number:    len(batches) + 1,
			Status:    BatchPending,
			Size:      end - start,
			Items:     items[start:end:end],
		})
	}
	return batches
}
