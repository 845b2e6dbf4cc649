package database

import (
	"database/sql"
	"time"
)

// Message represents a single message observed in a group chat.
// Content is immutable once stored; processed, vectorized_at, and recalled
// are each set at most once and never revert.
type Message struct {
	ID        int64     `db:"id"`
	GroupID   int64     `db:"group_id"`
	UserID    int64     `db:"user_id"`
	Username  string    `db:"username"`
	Content   string    `db:"content"`
	Type      string    `db:"type"`
	Processed bool      `db:"processed"`
	Recalled  bool      `db:"recalled"`
	CreatedAt time.Time `db:"created_at"`

	VectorizedAt sql.NullTime `db:"vectorized_at"`
}

// MessageVector stores the embedding computed for a message. Rows are written
// only by the vectorization job and never mutated afterwards. The embedding is
// serialized as a JSON array of floats; ExtraData carries opaque metadata such
// as the embedding model used.
type MessageVector struct {
	ID        int64     `db:"id"`
	MessageID int64     `db:"message_id"`
	Embedding string    `db:"embedding"`
	ExtraData string    `db:"extra_data"`
	CreatedAt time.Time `db:"created_at"`
}

// Vectorization job statuses. A job moves pending -> running -> completed or
// failed; the unique date column guarantees at most one job row per calendar day.
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// VectorizationJob is the per-day ledger row for the vectorization batch job.
// ProcessedMessages is the resumable checkpoint: it only ever advances, and a
// failed or crashed run leaves it at the last completed batch.
type VectorizationJob struct {
	ID                int64        `db:"id"`
	Date              string       `db:"date"`
	Status            string       `db:"status"`
	TotalMessages     int          `db:"total_messages"`
	ProcessedMessages int          `db:"processed_messages"`
	StartedAt         sql.NullTime `db:"started_at"`
	CompletedAt       sql.NullTime `db:"completed_at"`
	ResultValue       string       `db:"result_value"`
	ErrorMessage      string       `db:"error_message"`
	CreatedAt         time.Time    `db:"created_at"`
}
