package chat

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/fayev1t/qqautochatbot/internal/config"
	"github.com/fayev1t/qqautochatbot/internal/database"
)

type fakeHistory struct {
	messages []database.Message
	calls    int
	err      error
}

func (f *fakeHistory) GetRecentMessagesInChat(_ context.Context, _ int64, limit int) ([]database.Message, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.messages) > limit {
		return f.messages[:limit], nil
	}
	return f.messages, nil
}

func testChatConfig() config.ChatConfig {
	return config.ChatConfig{
		ContextWindow: 5,
		ContextMaxAge: time.Hour,
		EntryBudget:   100,
	}
}

func TestContextManagerAssemble(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("backfills oldest first", func(t *testing.T) {
		t.Parallel()

		// Store contract: newest first.
		history := &fakeHistory{messages: []database.Message{
			{ID: 3, GroupID: 1, UserID: 10, Content: "third", CreatedAt: base.Add(-1 * time.Minute)},
			{ID: 2, GroupID: 1, UserID: 11, Content: "second", CreatedAt: base.Add(-2 * time.Minute)},
			{ID: 1, GroupID: 1, UserID: 10, Content: "first", CreatedAt: base.Add(-3 * time.Minute)},
		}}

		m := NewContextManager(history, testChatConfig(), 99, testLogger())
		m.now = func() time.Time { return base }

		turns, err := m.Assemble(context.Background(), 1)
		if err != nil {
			t.Fatalf("Assemble returned error: %v", err)
		}
		if len(turns) != 3 {
			t.Fatalf("expected 3 turns, got %d", len(turns))
		}
		for i, want := range []string{"first", "second", "third"} {
			if turns[i].Content != want {
				t.Errorf("turn %d content = %q, want %q", i, turns[i].Content, want)
			}
		}
	})

	t.Run("age bound filters old messages", func(t *testing.T) {
		t.Parallel()

		history := &fakeHistory{messages: []database.Message{
			{ID: 2, GroupID: 1, UserID: 10, Content: "recent", CreatedAt: base.Add(-5 * time.Minute)},
			{ID: 1, GroupID: 1, UserID: 10, Content: "stale", CreatedAt: base.Add(-2 * time.Hour)},
		}}

		m := NewContextManager(history, testChatConfig(), 99, testLogger())
		m.now = func() time.Time { return base }

		turns, err := m.Assemble(context.Background(), 1)
		if err != nil {
			t.Fatalf("Assemble returned error: %v", err)
		}
		if len(turns) != 1 || turns[0].Content != "recent" {
			t.Fatalf("expected only the recent turn, got %+v", turns)
		}
	})

	t.Run("second assemble hits the cache", func(t *testing.T) {
		t.Parallel()

		history := &fakeHistory{messages: []database.Message{
			{ID: 1, GroupID: 1, UserID: 10, Content: "hello", CreatedAt: base},
		}}

		m := NewContextManager(history, testChatConfig(), 99, testLogger())
		m.now = func() time.Time { return base }

		if _, err := m.Assemble(context.Background(), 1); err != nil {
			t.Fatalf("first Assemble returned error: %v", err)
		}
		if _, err := m.Assemble(context.Background(), 1); err != nil {
			t.Fatalf("second Assemble returned error: %v", err)
		}
		if history.calls != 1 {
			t.Errorf("expected a single store backfill, got %d", history.calls)
		}
	})

	t.Run("bot messages get the bot role", func(t *testing.T) {
		t.Parallel()

		history := &fakeHistory{messages: []database.Message{
			{ID: 2, GroupID: 1, UserID: 99, Content: "my reply", CreatedAt: base},
			{ID: 1, GroupID: 1, UserID: 10, Content: "a question", CreatedAt: base.Add(-time.Minute)},
		}}

		m := NewContextManager(history, testChatConfig(), 99, testLogger())
		m.now = func() time.Time { return base }

		turns, err := m.Assemble(context.Background(), 1)
		if err != nil {
			t.Fatalf("Assemble returned error: %v", err)
		}
		if turns[0].Role != RoleUser {
			t.Errorf("turn 0 role = %q, want %q", turns[0].Role, RoleUser)
		}
		if turns[1].Role != RoleBot {
			t.Errorf("turn 1 role = %q, want %q", turns[1].Role, RoleBot)
		}
	})
}

func TestContextManagerAppend(t *testing.T) {
	t.Parallel()

	t.Run("evicts oldest beyond window", func(t *testing.T) {
		t.Parallel()

		m := NewContextManager(&fakeHistory{}, testChatConfig(), 99, testLogger())
		for i := range 8 {
			m.Append(1, Turn{Content: fmt.Sprintf("msg-%d", i)})
		}

		window := m.windows[1]
		if len(window) != 5 {
			t.Fatalf("expected window of 5 after eviction, got %d", len(window))
		}
		if window[0].Content != "msg-3" || window[4].Content != "msg-7" {
			t.Errorf("unexpected window contents: first %q, last %q", window[0].Content, window[4].Content)
		}
	})

	t.Run("truncates oversized entries keeping the tail", func(t *testing.T) {
		t.Parallel()

		m := NewContextManager(&fakeHistory{}, testChatConfig(), 99, testLogger())
		long := strings.Repeat("a", 90) + strings.Repeat("b", 90)

		truncated := m.Append(1, Turn{Content: long})
		if !truncated {
			t.Fatal("expected oversized entry to report truncation")
		}

		got := m.windows[1][0]
		if len([]rune(got.Content)) != 100 {
			t.Errorf("truncated content length = %d, want 100", len([]rune(got.Content)))
		}
		if !strings.HasSuffix(got.Content, "b") || strings.HasPrefix(got.Content, "a"+strings.Repeat("a", 89)) {
			t.Errorf("expected the oldest (leading) content to be dropped, got prefix %q", got.Content[:10])
		}
		if !got.Truncated {
			t.Error("expected stored turn to be flagged truncated")
		}
	})
}

func TestContextManagerForget(t *testing.T) {
	t.Parallel()

	m := NewContextManager(&fakeHistory{}, testChatConfig(), 99, testLogger())
	m.Append(1, Turn{MessageID: 1, Content: "keep me"})
	m.Append(1, Turn{MessageID: 2, Content: "secret"})
	m.Append(1, Turn{MessageID: 3, Content: "also keep"})

	m.Forget(1, 2)

	window := m.windows[1]
	if len(window) != 2 {
		t.Fatalf("expected 2 turns after Forget, got %d", len(window))
	}
	for _, turn := range window {
		if turn.MessageID == 2 {
			t.Error("recalled message still present in window")
		}
	}

	// Unknown ids and groups are no-ops.
	m.Forget(1, 42)
	m.Forget(7, 1)
	if len(m.windows[1]) != 2 {
		t.Error("Forget with unknown id changed the window")
	}
}
