// Package vectorizer implements the daily batch job that computes embeddings
// for stored group messages. Runs are idempotent per calendar day and resume
// from the last completed batch after a crash or timeout.
package vectorizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fayev1t/qqautochatbot/internal/ai"
	"github.com/fayev1t/qqautochatbot/internal/config"
	"github.com/fayev1t/qqautochatbot/internal/database"
)

// ErrEmbeddingFailure indicates a batch could not be embedded after all
// retries. The job row is marked failed but keeps its checkpoint, so the next
// day's run picks the backlog up.
var ErrEmbeddingFailure = errors.New("embedding failure")

// Vectorizer runs the daily vectorization job against the message store.
type Vectorizer struct {
	store  database.Store
	client ai.Client
	cfg    config.VectorizerConfig
	aiCfg  config.AIConfig
	logger *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewVectorizer creates a vectorizer bound to the given store and embedding
// client.
func NewVectorizer(store database.Store, client ai.Client, cfg config.VectorizerConfig, aiCfg config.AIConfig, logger *slog.Logger) *Vectorizer {
	return &Vectorizer{
		store:  store,
		client: client,
		cfg:    cfg,
		aiCfg:  aiCfg,
		logger: logger.With("component", "vectorizer"),
		now:    time.Now,
	}
}

// RunDaily executes the vectorization job for the given day. The day is
// normalized to a UTC date key, and the job ledger guarantees at most one
// logical run per key: a completed job is a no-op, a fresh running job is
// assumed to belong to a live run elsewhere, and a stale running, failed, or
// pending job is (re)started from its checkpoint.
func (v *Vectorizer) RunDaily(ctx context.Context, day time.Time) error {
	date := day.UTC().Format("2006-01-02")
	log := v.logger.With("date", date)

	job, err := v.store.GetOrCreateJob(ctx, date)
	if err != nil {
		return fmt.Errorf("failed to open vectorization job for %s: %w", date, err)
	}

	switch job.Status {
	case database.JobStatusCompleted:
		log.InfoContext(ctx, "Vectorization already completed, skipping")
		return nil
	case database.JobStatusRunning:
		if job.StartedAt.Valid && v.now().Sub(job.StartedAt.Time) < v.cfg.StaleAfter {
			log.InfoContext(ctx, "Vectorization already in progress, skipping",
				"started_at", job.StartedAt.Time)
			return nil
		}
		log.WarnContext(ctx, "Resuming stale vectorization run",
			"checkpoint", job.ProcessedMessages)
	case database.JobStatusFailed:
		log.InfoContext(ctx, "Retrying failed vectorization run",
			"checkpoint", job.ProcessedMessages, "previous_error", job.ErrorMessage)
	}

	runStart := v.now().UTC()

	// The cutoff freezes the work set: messages arriving during the run
	// belong to a later day's job.
	remaining, err := v.store.CountUnvectorized(ctx, runStart)
	if err != nil {
		return fmt.Errorf("failed to count unvectorized messages: %w", err)
	}

	total := job.ProcessedMessages + remaining
	if err := v.store.MarkJobRunning(ctx, job.ID, runStart, total); err != nil {
		return fmt.Errorf("failed to mark job %d running: %w", job.ID, err)
	}

	log.InfoContext(ctx, "Vectorization run started",
		"total", total, "checkpoint", job.ProcessedMessages, "batch_size", v.cfg.BatchSize)

	processed := job.ProcessedMessages
	for {
		if err := ctx.Err(); err != nil {
			// Leave the job running; the stale check lets the next run
			// resume from the checkpoint.
			log.WarnContext(ctx, "Vectorization interrupted", "processed", processed)
			return fmt.Errorf("vectorization interrupted: %w", err)
		}
		if v.cfg.MaxRunDuration > 0 && v.now().Sub(runStart) > v.cfg.MaxRunDuration {
			log.WarnContext(ctx, "Vectorization run budget exhausted, deferring remainder",
				"processed", processed, "total", total)
			return nil
		}

		batch, err := v.store.GetUnvectorizedMessages(ctx, runStart, v.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("failed to load unvectorized batch: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		if err := v.processBatch(ctx, batch); err != nil {
			if failErr := v.store.FailJob(ctx, job.ID, err.Error()); failErr != nil {
				log.ErrorContext(ctx, "Failed to record job failure", "error", failErr)
			}
			log.ErrorContext(ctx, "Vectorization run failed",
				"processed", processed, "error", err)
			return err
		}

		processed += len(batch)
		if err := v.store.UpdateJobProgress(ctx, job.ID, processed); err != nil {
			return fmt.Errorf("failed to checkpoint job %d at %d: %w", job.ID, processed, err)
		}
		log.DebugContext(ctx, "Vectorization batch committed", "processed", processed, "total", total)
	}

	result := fmt.Sprintf("embedded %d messages", processed)
	if err := v.store.CompleteJob(ctx, job.ID, v.now().UTC(), result); err != nil {
		return fmt.Errorf("failed to complete job %d: %w", job.ID, err)
	}

	log.InfoContext(ctx, "Vectorization run completed", "processed", processed)
	return nil
}

// processBatch embeds one batch and persists each vector before marking its
// message vectorized, so every marked message has a stored embedding.
func (v *Vectorizer) processBatch(ctx context.Context, batch []*database.Message) error {
	texts := make([]string, len(batch))
	for i, msg := range batch {
		texts[i] = msg.Content
	}

	embeddings, err := v.embedWithRetries(ctx, texts)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEmbeddingFailure, err)
	}
	if len(embeddings) != len(batch) {
		return fmt.Errorf("%w: got %d embeddings for %d messages", ErrEmbeddingFailure, len(embeddings), len(batch))
	}

	for i, msg := range batch {
		embedding, err := json.Marshal(embeddings[i])
		if err != nil {
			return fmt.Errorf("failed to encode embedding for message %d: %w", msg.ID, err)
		}
		extra, err := json.Marshal(map[string]any{
			"model": v.aiCfg.EmbeddingModel,
			"dim":   len(embeddings[i]),
		})
		if err != nil {
			return fmt.Errorf("failed to encode vector metadata for message %d: %w", msg.ID, err)
		}

		if err := v.store.SaveVector(ctx, &database.MessageVector{
			MessageID: msg.ID,
			Embedding: string(embedding),
			ExtraData: string(extra),
		}); err != nil {
			return fmt.Errorf("failed to save vector for message %d: %w", msg.ID, err)
		}
		if err := v.store.MarkVectorized(ctx, msg.ID, v.now().UTC()); err != nil {
			return fmt.Errorf("failed to mark message %d vectorized: %w", msg.ID, err)
		}
	}
	return nil
}

// embedWithRetries calls the embedding provider, retrying transient failures
// up to the configured limit.
func (v *Vectorizer) embedWithRetries(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= v.aiCfg.MaxRetries; attempt++ {
		if attempt > 0 {
			v.logger.WarnContext(ctx, "Retrying embedding batch",
				"attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(v.aiCfg.RetryDelay):
			}
		}

		embeddings, err := v.client.Embed(ctx, texts)
		if err == nil {
			return embeddings, nil
		}

		lastErr = err
		if !errors.Is(err, ai.ErrTimeout) && !errors.Is(err, ai.ErrRateLimited) && !errors.Is(err, ai.ErrUnavailable) {
			break
		}
	}
	return nil, lastErr
}
