// Package chat implements the message intelligence pipeline: the silence
// gate, per-group conversational context, the two-layer respond decision
// (judge, then generate), and the per-group processing units that serialize
// all of it.
package chat

import "time"

// Event is the normalized inbound message contract delivered by the
// transport adapter. The pipeline never parses wire format directly.
type Event struct {
	GroupID   int64
	UserID    int64
	Username  string
	Content   string
	Type      string
	Timestamp time.Time

	// IsRecall marks a recall event: the referenced message must be
	// excluded from all future prompts. MessageID is the store id of the
	// recalled message and is only set on recall events.
	IsRecall  bool
	MessageID int64
}
