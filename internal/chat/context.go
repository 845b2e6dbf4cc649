package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fayev1t/qqautochatbot/internal/config"
	"github.com/fayev1t/qqautochatbot/internal/database"
)

// Turn roles within a conversation window.
const (
	RoleUser = "user"
	RoleBot  = "bot"
)

// Turn is a single entry in a group's conversation window.
type Turn struct {
	MessageID int64
	UserID    int64
	Username  string
	Role      string
	Content   string
	Timestamp time.Time

	// Truncated is set when the entry exceeded the configured budget and
	// its oldest content was dropped, so the generator can adapt.
	Truncated bool
}

// MessageHistory is the slice of the store the context manager needs for
// backfilling a window on cache miss.
type MessageHistory interface {
	GetRecentMessagesInChat(ctx context.Context, groupID int64, limit int) ([]database.Message, error)
}

// ContextManager maintains a bounded, per-group sliding window of recent
// turns for prompt assembly. The cache is in-memory and backfilled from the
// message store on miss. All mutation for one group happens inside that
// group's processing unit, but the maps are still guarded for cross-group
// access.
type ContextManager struct {
	mu      sync.Mutex
	windows map[int64][]Turn

	history MessageHistory
	cfg     config.ChatConfig
	botID   int64
	logger  *slog.Logger

	now func() time.Time
}

// NewContextManager creates a context manager backed by the given history.
// botID identifies which stored messages were the bot's own turns.
func NewContextManager(history MessageHistory, cfg config.ChatConfig, botID int64, logger *slog.Logger) *ContextManager {
	return &ContextManager{
		windows: make(map[int64][]Turn),
		history: history,
		cfg:     cfg,
		botID:   botID,
		logger:  logger.With("component", "context_manager"),
		now:     time.Now,
	}
}

// Assemble returns the group's context turns ordered oldest to newest. On
// cache miss it backfills from the message store, bounded by the configured
// window size and maximum age, whichever is reached first.
func (m *ContextManager) Assemble(ctx context.Context, groupID int64) ([]Turn, error) {
	m.mu.Lock()
	window, ok := m.windows[groupID]
	if ok {
		out := make([]Turn, len(window))
		copy(out, window)
		m.mu.Unlock()
		return out, nil
	}
	m.mu.Unlock()

	messages, err := m.history.GetRecentMessagesInChat(ctx, groupID, m.cfg.ContextWindow)
	if err != nil {
		return nil, err
	}

	oldest := m.now().Add(-m.cfg.ContextMaxAge)
	window = make([]Turn, 0, len(messages))

	// Store returns newest first; walk backwards to build oldest-first,
	// dropping anything beyond the age bound.
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if msg.CreatedAt.Before(oldest) {
			continue
		}
		window = append(window, m.newTurn(msg))
	}

	m.mu.Lock()
	m.windows[groupID] = window
	out := make([]Turn, len(window))
	copy(out, window)
	m.mu.Unlock()

	m.logger.DebugContext(ctx, "Backfilled context window", "group_id", groupID, "turns", len(out))
	return out, nil
}

// Append pushes a new turn onto the group's window, evicting the oldest turn
// when capacity is exceeded. It reports whether the entry was truncated to
// fit the per-entry budget.
func (m *ContextManager) Append(groupID int64, turn Turn) bool {
	turn.Content, turn.Truncated = m.fitBudget(turn.Content)

	m.mu.Lock()
	defer m.mu.Unlock()

	window := append(m.windows[groupID], turn)
	if len(window) > m.cfg.ContextWindow {
		window = window[len(window)-m.cfg.ContextWindow:]
	}
	m.windows[groupID] = window

	return turn.Truncated
}

// Forget removes a recalled message from the live window so its content can
// never surface in a future prompt. Recall is a hard exclusion.
func (m *ContextManager) Forget(groupID, messageID int64) {
	if messageID <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	window, ok := m.windows[groupID]
	if !ok {
		return
	}

	kept := window[:0]
	for _, t := range window {
		if t.MessageID != messageID {
			kept = append(kept, t)
		}
	}
	if len(kept) != len(window) {
		m.logger.Debug("Dropped recalled message from context", "group_id", groupID, "message_id", messageID)
	}
	m.windows[groupID] = kept
}

func (m *ContextManager) newTurn(msg database.Message) Turn {
	role := RoleUser
	if msg.UserID == m.botID {
		role = RoleBot
	}
	content, truncated := m.fitBudget(msg.Content)
	return Turn{
		MessageID: msg.ID,
		UserID:    msg.UserID,
		Username:  msg.Username,
		Role:      role,
		Content:   content,
		Timestamp: msg.CreatedAt,
		Truncated: truncated,
	}
}

// fitBudget enforces the per-entry character budget, dropping the oldest
// (leading) content when a single entry alone exceeds it.
func (m *ContextManager) fitBudget(content string) (string, bool) {
	budget := m.cfg.EntryBudget
	if budget <= 0 {
		return content, false
	}

	runes := []rune(content)
	if len(runes) <= budget {
		return content, false
	}
	return string(runes[len(runes)-budget:]), true
}
