// Package ai provides the model capability used by the message pipeline:
// a cheap judge signal, reply generation, and batch embedding, with
// interchangeable provider backends.
package ai

import (
	"context"
	"errors"
)

// Sentinel errors classifying provider failures. Callers decide retry policy
// with errors.Is; the providers themselves never retry.
var (
	// ErrTimeout indicates the provider call did not complete in time.
	ErrTimeout = errors.New("ai: request timed out")

	// ErrRateLimited indicates the provider rejected the call due to quota.
	ErrRateLimited = errors.New("ai: rate limited")

	// ErrUnavailable indicates a transient server-side failure.
	ErrUnavailable = errors.New("ai: provider unavailable")

	// ErrInvalidResponse indicates the provider returned output that could
	// not be used (empty, malformed, or unparseable).
	ErrInvalidResponse = errors.New("ai: invalid response")
)

// Signal is the parsed output of a judge call.
type Signal struct {
	ShouldReply bool   `json:"should_reply"`
	Reason      string `json:"reason"`

	// UserComplainingTooMuch is set when the message complains about the bot
	// talking too much; the pipeline suppresses the group in response.
	UserComplainingTooMuch bool `json:"user_complaining_too_much"`
}

// JudgeRequest carries the compact prompt for the decision layer.
type JudgeRequest struct {
	// Context is the formatted recent conversation, oldest first.
	Context string

	// CurrentMessage is the formatted triggering message.
	CurrentMessage string
}

// GenerateRequest carries the prompt for the reply layer.
type GenerateRequest struct {
	// Persona is the system preamble describing the bot's character.
	Persona string

	// Context is the formatted recent conversation, oldest first.
	Context string

	// CurrentMessage is the formatted triggering message.
	CurrentMessage string
}

// Client is the outbound model capability. All methods are safe for
// concurrent use and honor context cancellation.
type Client interface {
	// Judge decides whether the bot should respond to the current message.
	Judge(ctx context.Context, req JudgeRequest) (*Signal, error)

	// Generate produces reply text for the current message.
	Generate(ctx context.Context, req GenerateRequest) (string, error)

	// Embed converts a batch of texts into embedding vectors, one per input,
	// in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
