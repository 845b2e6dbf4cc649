package chat

import (
	"log/slog"
	"sync"
	"time"
)

type silenceState struct {
	permanent bool
	expiresAt time.Time
}

// SilenceGate tracks per-group response suppression. Suppression is either
// permanent-until-released or time-boxed; time-boxed entries clear lazily on
// the next check, so no background sweep is needed.
//
// State is process-local, matching the restart semantics operators get from
// the rest of the in-memory pipeline state.
type SilenceGate struct {
	mu     sync.Mutex
	states map[int64]silenceState
	logger *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewSilenceGate creates an empty gate.
func NewSilenceGate(logger *slog.Logger) *SilenceGate {
	return &SilenceGate{
		states: make(map[int64]silenceState),
		logger: logger.With("component", "silence_gate"),
		now:    time.Now,
	}
}

// IsSuppressed reports whether the group is currently silenced. An expired
// time-boxed suppression is cleared as a side effect.
func (g *SilenceGate) IsSuppressed(groupID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	state, ok := g.states[groupID]
	if !ok {
		return false
	}
	if state.permanent {
		return true
	}
	if g.now().Before(state.expiresAt) {
		return true
	}

	delete(g.states, groupID)
	g.logger.Debug("Silence expired, gate cleared", "group_id", groupID)
	return false
}

// Suppress silences a group. A non-positive duration suppresses until
// Release is called. Idempotent: repeated calls just refresh the deadline.
func (g *SilenceGate) Suppress(groupID int64, duration time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if duration <= 0 {
		g.states[groupID] = silenceState{permanent: true}
		g.logger.Info("Group silenced until released", "group_id", groupID)
		return
	}

	expires := g.now().Add(duration)
	g.states[groupID] = silenceState{expiresAt: expires}
	g.logger.Info("Group silenced", "group_id", groupID, "until", expires)
}

// Release clears suppression for a group. Idempotent.
func (g *SilenceGate) Release(groupID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.states[groupID]; !ok {
		return
	}
	delete(g.states, groupID)
	g.logger.Info("Group silence released", "group_id", groupID)
}
