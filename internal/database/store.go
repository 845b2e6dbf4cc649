package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrValidation indicates a message event was rejected at the boundary
// because of malformed input. Events failing this way are dropped with a
// logged reason and never reach the pipeline.
var ErrValidation = errors.New("validation failed")

// Store defines the interface for database operations.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// SaveMessage inserts a new message record and fills in its generated ID.
	// Malformed input is rejected with an error wrapping ErrValidation.
	SaveMessage(ctx context.Context, message *Message) error

	// GetRecentMessagesInChat retrieves the most recent 'limit' non-recalled
	// messages for a group, newest first.
	GetRecentMessagesInChat(ctx context.Context, groupID int64, limit int) ([]Message, error)

	// MarkProcessed marks a message as processed. Idempotent no-op if already set.
	MarkProcessed(ctx context.Context, id int64) error

	// MarkRecalled marks a message as recalled. Idempotent no-op if already set.
	MarkRecalled(ctx context.Context, id int64) error

	// MarkVectorized records the vectorization timestamp for a message.
	// Idempotent no-op if already set.
	MarkVectorized(ctx context.Context, id int64, at time.Time) error

	// GetUnvectorizedMessages returns messages with vectorized_at null and
	// recalled false, created before 'before', oldest first, bounded by limit.
	GetUnvectorizedMessages(ctx context.Context, before time.Time, limit int) ([]*Message, error)

	// CountUnvectorized counts the messages GetUnvectorizedMessages would return.
	CountUnvectorized(ctx context.Context, before time.Time) (int, error)

	// SaveVector inserts a new message vector row.
	SaveVector(ctx context.Context, vector *MessageVector) error

	// GetOrCreateJob atomically fetches the vectorization job for a calendar
	// date, inserting a pending row first if none exists. The unique date key
	// guarantees concurrent callers converge on a single row.
	GetOrCreateJob(ctx context.Context, date string) (*VectorizationJob, error)

	// GetJobByDate fetches the job for a date. Returns nil, nil if not found.
	GetJobByDate(ctx context.Context, date string) (*VectorizationJob, error)

	// MarkJobRunning transitions a job to running, recording its start time
	// and the total number of messages in scope for this run.
	MarkJobRunning(ctx context.Context, id int64, startedAt time.Time, totalMessages int) error

	// UpdateJobProgress advances the processed_messages checkpoint.
	UpdateJobProgress(ctx context.Context, id int64, processedMessages int) error

	// CompleteJob transitions a job to completed with its result value.
	CompleteJob(ctx context.Context, id int64, completedAt time.Time, resultValue string) error

	// FailJob transitions a job to failed, preserving the progress checkpoint.
	FailJob(ctx context.Context, id int64, errorMessage string) error

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveMessage inserts a new message record.
func (s *sqlxStore) SaveMessage(ctx context.Context, message *Message) error {
	if message == nil {
		return fmt.Errorf("%w: nil message", ErrValidation)
	}
	// Telegram group and supergroup chat IDs are negative, so only zero is
	// invalid here.
	if message.GroupID == 0 {
		return fmt.Errorf("%w: message must have a group_id", ErrValidation)
	}
	if message.UserID <= 0 {
		return fmt.Errorf("%w: message must have a positive user_id", ErrValidation)
	}
	if message.Content == "" {
		return fmt.Errorf("%w: message must have non-empty content", ErrValidation)
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	if message.Type == "" {
		message.Type = "text"
	}

	query := `
        INSERT INTO group_messages (group_id, user_id, username, content, type, processed, vectorized_at, recalled, created_at)
        VALUES (:group_id, :user_id, :username, :content, :type, :processed, :vectorized_at, :recalled, :created_at);
    `

	result, err := s.db.NamedExecContext(ctx, query, message)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error saving message", "group_id", message.GroupID, "user_id", message.UserID, "error", err)
		return fmt.Errorf("failed to save message (group %d, user %d): %w", message.GroupID, message.UserID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		s.logger.WarnContext(ctx, "Could not retrieve last insert ID after saving message",
			"group_id", message.GroupID, "user_id", message.UserID, "error", err)
	} else {
		message.ID = id
	}

	s.logger.DebugContext(ctx, "Message saved successfully",
		"group_id", message.GroupID, "user_id", message.UserID, "message_id", message.ID)
	return nil
}

// GetRecentMessagesInChat retrieves the most recent 'limit' non-recalled
// messages for a group, ordered newest first.
func (s *sqlxStore) GetRecentMessagesInChat(ctx context.Context, groupID int64, limit int) ([]Message, error) {
	if groupID == 0 {
		return nil, fmt.Errorf("%w: group_id is required", ErrValidation)
	}
	if limit <= 0 {
		limit = 20
		s.logger.DebugContext(ctx, "Invalid limit provided, using default", "group_id", groupID, "default_limit", limit)
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var messages []Message
	query := `
        SELECT id, group_id, user_id, username, content, type, processed, vectorized_at, recalled, created_at
        FROM group_messages
        WHERE group_id = ? AND recalled = 0
        ORDER BY created_at DESC, id DESC
        LIMIT ?;
    `

	err := s.db.SelectContext(ctx, &messages, query, groupID, limit)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error getting recent messages", "group_id", groupID, "limit", limit, "error", err)
		return nil, fmt.Errorf("failed to get recent messages for group %d: %w", groupID, err)
	}

	s.logger.DebugContext(ctx, "Fetched recent messages successfully", "group_id", groupID, "count", len(messages))
	return messages, nil
}

// MarkProcessed marks a message as processed. The guarded WHERE clause makes
// repeated calls no-ops.
func (s *sqlxStore) MarkProcessed(ctx context.Context, id int64) error {
	query := `UPDATE group_messages SET processed = 1 WHERE id = ? AND processed = 0`
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		s.logger.ErrorContext(ctx, "Error marking message as processed", "message_id", id, "error", err)
		return fmt.Errorf("failed to mark message %d as processed: %w", id, err)
	}
	return nil
}

// MarkRecalled marks a message as recalled. Recall never reverts.
func (s *sqlxStore) MarkRecalled(ctx context.Context, id int64) error {
	query := `UPDATE group_messages SET recalled = 1 WHERE id = ? AND recalled = 0`
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		s.logger.ErrorContext(ctx, "Error marking message as recalled", "message_id", id, "error", err)
		return fmt.Errorf("failed to mark message %d as recalled: %w", id, err)
	}
	return nil
}

// MarkVectorized records the vectorization timestamp. Monotonic: once set it
// is never overwritten, so re-embedding after a torn write is harmless.
func (s *sqlxStore) MarkVectorized(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE group_messages SET vectorized_at = ? WHERE id = ? AND vectorized_at IS NULL`
	if _, err := s.db.ExecContext(ctx, query, at.UTC(), id); err != nil {
		s.logger.ErrorContext(ctx, "Error marking message as vectorized", "message_id", id, "error", err)
		return fmt.Errorf("failed to mark message %d as vectorized: %w", id, err)
	}
	return nil
}

// GetUnvectorizedMessages returns outstanding vectorization work in
// chronological order. "vectorized_at IS NULL" is the sole source of truth,
// which is what makes crashed runs resumable.
func (s *sqlxStore) GetUnvectorizedMessages(ctx context.Context, before time.Time, limit int) ([]*Message, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrValidation)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var messages []*Message
	query := `
        SELECT id, group_id, user_id, username, content, type, processed, vectorized_at, recalled, created_at
        FROM group_messages
        WHERE vectorized_at IS NULL AND recalled = 0 AND created_at < ?
        ORDER BY created_at ASC, id ASC
        LIMIT ?;
    `

	err := s.db.SelectContext(ctx, &messages, query, before.UTC(), limit)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error getting unvectorized messages", "error", err)
		return nil, fmt.Errorf("failed to get unvectorized messages: %w", err)
	}

	s.logger.DebugContext(ctx, "Fetched unvectorized messages", "count", len(messages))
	return messages, nil
}

// CountUnvectorized counts outstanding vectorization work.
func (s *sqlxStore) CountUnvectorized(ctx context.Context, before time.Time) (int, error) {
	var count int
	query := `
        SELECT COUNT(*) FROM group_messages
        WHERE vectorized_at IS NULL AND recalled = 0 AND created_at < ?;
    `
	if err := s.db.GetContext(ctx, &count, query, before.UTC()); err != nil {
		s.logger.ErrorContext(ctx, "Error counting unvectorized messages", "error", err)
		return 0, fmt.Errorf("failed to count unvectorized messages: %w", err)
	}
	return count, nil
}

// SaveVector inserts a new message vector row.
func (s *sqlxStore) SaveVector(ctx context.Context, vector *MessageVector) error {
	if vector == nil {
		return fmt.Errorf("%w: nil vector", ErrValidation)
	}
	if vector.MessageID <= 0 {
		return fmt.Errorf("%w: vector must reference a message", ErrValidation)
	}
	if vector.CreatedAt.IsZero() {
		vector.CreatedAt = time.Now().UTC()
	}
	if vector.ExtraData == "" {
		vector.ExtraData = "{}"
	}

	query := `
        INSERT INTO message_vectors (message_id, embedding, extra_data, created_at)
        VALUES (:message_id, :embedding, :extra_data, :created_at);
    `
	result, err := s.db.NamedExecContext(ctx, query, vector)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error saving message vector", "message_id", vector.MessageID, "error", err)
		return fmt.Errorf("failed to save vector for message %d: %w", vector.MessageID, err)
	}

	if id, err := result.LastInsertId(); err == nil {
		vector.ID = id
	}
	return nil
}

const jobColumns = `id, date, status, total_messages, processed_messages, started_at, completed_at, result_value, error_message, created_at`

// GetOrCreateJob fetches the job row for a date, inserting a pending row if
// none exists. INSERT OR IGNORE on the unique date key makes this an atomic
// conditional insert rather than a racy check-then-insert.
func (s *sqlxStore) GetOrCreateJob(ctx context.Context, date string) (*VectorizationJob, error) {
	if date == "" {
		return nil, fmt.Errorf("%w: job date is empty", ErrValidation)
	}

	insert := `
        INSERT OR IGNORE INTO vectorization_jobs (date, status, created_at)
        VALUES (?, ?, ?);
    `
	result, err := s.db.ExecContext(ctx, insert, date, JobStatusPending, time.Now().UTC())
	if err != nil {
		s.logger.ErrorContext(ctx, "Error inserting vectorization job", "date", date, "error", err)
		return nil, fmt.Errorf("failed to insert vectorization job for %s: %w", date, err)
	}

	if affected, err := result.RowsAffected(); err == nil && affected == 1 {
		s.logger.InfoContext(ctx, "Created vectorization job", "date", date)
	}

	job, err := s.GetJobByDate(ctx, date)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("vectorization job for %s missing after insert", date)
	}
	return job, nil
}

// GetJobByDate fetches the job for a date. Returns nil, nil if not found.
func (s *sqlxStore) GetJobByDate(ctx context.Context, date string) (*VectorizationJob, error) {
	var job VectorizationJob
	query := `SELECT ` + jobColumns + ` FROM vectorization_jobs WHERE date = ?`

	err := s.db.GetContext(ctx, &job, query, date)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.logger.DebugContext(ctx, "No vectorization job found", "date", date)
		return nil, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting vectorization job", "date", date, "error", err)
		return nil, fmt.Errorf("failed to get vectorization job for %s: %w", date, err)
	}
	return &job, nil
}

// MarkJobRunning transitions a job to running. Clears any previous error so a
// resumed run starts from a clean slate while keeping the progress checkpoint.
func (s *sqlxStore) MarkJobRunning(ctx context.Context, id int64, startedAt time.Time, totalMessages int) error {
	query := `
        UPDATE vectorization_jobs
        SET status = ?, started_at = ?, total_messages = ?, error_message = ''
        WHERE id = ?;
    `
	if _, err := s.db.ExecContext(ctx, query, JobStatusRunning, startedAt.UTC(), totalMessages, id); err != nil {
		s.logger.ErrorContext(ctx, "Error marking job as running", "job_id", id, "error", err)
		return fmt.Errorf("failed to mark job %d as running: %w", id, err)
	}
	return nil
}

// UpdateJobProgress advances the processed_messages checkpoint. The MAX guard
// keeps the checkpoint monotonic even if a stale run reports late.
func (s *sqlxStore) UpdateJobProgress(ctx context.Context, id int64, processedMessages int) error {
	query := `
        UPDATE vectorization_jobs
        SET processed_messages = MAX(processed_messages, ?)
        WHERE id = ?;
    `
	if _, err := s.db.ExecContext(ctx, query, processedMessages, id); err != nil {
		s.logger.ErrorContext(ctx, "Error updating job progress", "job_id", id, "error", err)
		return fmt.Errorf("failed to update progress for job %d: %w", id, err)
	}
	return nil
}

// CompleteJob transitions a job to completed with its result value.
func (s *sqlxStore) CompleteJob(ctx context.Context, id int64, completedAt time.Time, resultValue string) error {
	query := `
        UPDATE vectorization_jobs
        SET status = ?, completed_at = ?, result_value = ?
        WHERE id = ?;
    `
	if _, err := s.db.ExecContext(ctx, query, JobStatusCompleted, completedAt.UTC(), resultValue, id); err != nil {
		s.logger.ErrorContext(ctx, "Error completing job", "job_id", id, "error", err)
		return fmt.Errorf("failed to complete job %d: %w", id, err)
	}
	s.logger.InfoContext(ctx, "Vectorization job completed", "job_id", id, "result", resultValue)
	return nil
}

// FailJob transitions a job to failed. processed_messages is left untouched so
// a future run can resume from the checkpoint.
func (s *sqlxStore) FailJob(ctx context.Context, id int64, errorMessage string) error {
	query := `
        UPDATE vectorization_jobs
        SET status = ?, error_message = ?
        WHERE id = ?;
    `
	if _, err := s.db.ExecContext(ctx, query, JobStatusFailed, errorMessage, id); err != nil {
		s.logger.ErrorContext(ctx, "Error failing job", "job_id", id, "error", err)
		return fmt.Errorf("failed to mark job %d as failed: %w", id, err)
	}
	s.logger.WarnContext(ctx, "Vectorization job failed", "job_id", id, "error_message", errorMessage)
	return nil
}

// RunSQLMaintenance executes a VACUUM command on the SQLite database.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	// VACUUM must run outside a transaction in SQLite.
	_, err := s.db.ExecContext(ctx, "VACUUM;")

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)
	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)
	}

	s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	return nil
}
