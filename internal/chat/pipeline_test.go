package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fayev1t/qqautochatbot/internal/ai"
	"github.com/fayev1t/qqautochatbot/internal/database"
)

// fakeStore is an in-memory database.Store for pipeline tests.
type fakeStore struct {
	mu        sync.Mutex
	messages  []*database.Message
	nextID    int64
	processed map[int64]bool
	recalled  map[int64]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		nextID:    1,
		processed: make(map[int64]bool),
		recalled:  make(map[int64]bool),
	}
}

func (s *fakeStore) Ping(context.Context) error { return nil }

func (s *fakeStore) SaveMessage(_ context.Context, message *database.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	message.ID = s.nextID
	s.nextID++
	saved := *message
	s.messages = append(s.messages, &saved)
	if message.Processed {
		s.processed[message.ID] = true
	}
	return nil
}

func (s *fakeStore) GetRecentMessagesInChat(_ context.Context, groupID int64, limit int) ([]database.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []database.Message
	for i := len(s.messages) - 1; i >= 0 && len(out) < limit; i-- {
		msg := s.messages[i]
		if msg.GroupID == groupID && !s.recalled[msg.ID] {
			out = append(out, *msg)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkProcessed(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[id] = true
	return nil
}

func (s *fakeStore) MarkRecalled(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recalled[id] = true
	return nil
}

func (s *fakeStore) MarkVectorized(context.Context, int64, time.Time) error { return nil }

func (s *fakeStore) GetUnvectorizedMessages(context.Context, time.Time, int) ([]*database.Message, error) {
	return nil, nil
}

func (s *fakeStore) CountUnvectorized(context.Context, time.Time) (int, error) { return 0, nil }

func (s *fakeStore) SaveVector(context.Context, *database.MessageVector) error { return nil }

func (s *fakeStore) GetOrCreateJob(context.Context, string) (*database.VectorizationJob, error) {
	return nil, nil
}

func (s *fakeStore) GetJobByDate(context.Context, string) (*database.VectorizationJob, error) {
	return nil, nil
}

func (s *fakeStore) MarkJobRunning(context.Context, int64, time.Time, int) error { return nil }

func (s *fakeStore) UpdateJobProgress(context.Context, int64, int) error { return nil }

func (s *fakeStore) CompleteJob(context.Context, int64, time.Time, string) error { return nil }

func (s *fakeStore) FailJob(context.Context, int64, string) error { return nil }

func (s *fakeStore) RunSQLMaintenance(context.Context) error { return nil }

type sentMessage struct {
	groupID int64
	text    string
}

type fakeResponder struct {
	mu      sync.Mutex
	sendErr error
	sent    []sentMessage
}

func (r *fakeResponder) SendGroupMessage(_ context.Context, groupID int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sendErr != nil {
		return r.sendErr
	}
	r.sent = append(r.sent, sentMessage{groupID: groupID, text: text})
	return nil
}

func newTestPipeline(t *testing.T, store database.Store, client ai.Client, responder Responder) (*Pipeline, *ContextManager) {
	t.Helper()

	cfg := testChatConfig()
	cfg.QueueSize = 16
	cfg.SilenceDuration = time.Hour

	gate := NewSilenceGate(testLogger())
	cm := NewContextManager(store, cfg, 99, testLogger())
	judge, err := NewMessageJudge(gate, client, cfg, testLogger())
	if err != nil {
		t.Fatalf("NewMessageJudge returned error: %v", err)
	}
	gen := NewConversationGenerator(client, cfg, generatorAIConfig(), testLogger())

	p := NewPipeline(store, cm, judge, gen, responder, cfg, testLogger())
	p.Start(context.Background())
	return p, cm
}

func TestPipelineRepliesWhenJudgeApproves(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	responder := &fakeResponder{}
	client := &fakeAIClient{
		judgeSignal:     &ai.Signal{ShouldReply: true},
		generateReplies: []string{"sure thing"},
	}

	p, _ := newTestPipeline(t, store, client, responder)
	p.Submit(Event{GroupID: 1, UserID: 10, Username: "alice", Content: "can you help?", Timestamp: time.Now()})
	p.Close()

	if len(responder.sent) != 1 {
		t.Fatalf("expected 1 sent message, got %d", len(responder.sent))
	}
	if responder.sent[0].text != "sure thing" {
		t.Errorf("sent text = %q, want %q", responder.sent[0].text, "sure thing")
	}

	// User message saved and marked processed, bot reply saved as processed.
	if len(store.messages) != 2 {
		t.Fatalf("expected 2 stored messages, got %d", len(store.messages))
	}
	if !store.processed[store.messages[0].ID] {
		t.Error("replied-to message not marked processed")
	}
	if store.messages[1].UserID != 99 {
		t.Errorf("bot reply stored with user id %d, want 99", store.messages[1].UserID)
	}
}

func TestPipelineAcceptsNegativeGroupIDs(t *testing.T) {
	t.Parallel()

	// Telegram supergroup chat IDs look like -100xxxxxxxxxx.
	const groupID = int64(-1001234567890)

	store := newFakeStore()
	responder := &fakeResponder{}
	client := &fakeAIClient{
		judgeSignal:     &ai.Signal{ShouldReply: true},
		generateReplies: []string{"hello supergroup"},
	}

	p, _ := newTestPipeline(t, store, client, responder)
	p.Submit(Event{GroupID: groupID, UserID: 10, Username: "alice", Content: "anyone here?", Timestamp: time.Now()})
	p.Close()

	if len(responder.sent) != 1 || responder.sent[0].groupID != groupID {
		t.Fatalf("expected one reply to group %d, got %+v", groupID, responder.sent)
	}
	if len(store.messages) != 2 {
		t.Fatalf("expected 2 stored messages, got %d", len(store.messages))
	}
}

func TestPipelineAppendsBotTurnOnlyAfterDelivery(t *testing.T) {
	t.Parallel()

	t.Run("delivered reply joins the window", func(t *testing.T) {
		t.Parallel()

		store := newFakeStore()
		client := &fakeAIClient{
			judgeSignal:     &ai.Signal{ShouldReply: true},
			generateReplies: []string{"sure thing"},
		}

		p, cm := newTestPipeline(t, store, client, &fakeResponder{})
		p.Submit(Event{GroupID: 1, UserID: 10, Username: "alice", Content: "can you help?", Timestamp: time.Now()})
		p.Close()

		window := cm.windows[1]
		if len(window) != 2 {
			t.Fatalf("expected user and bot turns in window, got %d", len(window))
		}
		if window[1].Role != RoleBot || window[1].Content != "sure thing" {
			t.Errorf("unexpected bot turn: %+v", window[1])
		}
	})

	t.Run("failed delivery leaves no bot turn", func(t *testing.T) {
		t.Parallel()

		store := newFakeStore()
		responder := &fakeResponder{sendErr: errors.New("flood control")}
		client := &fakeAIClient{
			judgeSignal:     &ai.Signal{ShouldReply: true},
			generateReplies: []string{"sure thing"},
		}

		p, cm := newTestPipeline(t, store, client, responder)
		p.Submit(Event{GroupID: 1, UserID: 10, Username: "alice", Content: "can you help?", Timestamp: time.Now()})
		p.Close()

		for _, turn := range cm.windows[1] {
			if turn.Role == RoleBot {
				t.Fatalf("undelivered reply leaked into the window: %+v", turn)
			}
		}
		if len(store.messages) != 1 {
			t.Fatalf("expected only the user message stored, got %d", len(store.messages))
		}
		if store.processed[store.messages[0].ID] {
			t.Error("message must stay unprocessed when delivery fails")
		}
	})
}

func TestPipelineStaysQuietWhenJudgeDeclines(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	responder := &fakeResponder{}
	client := &fakeAIClient{judgeSignal: &ai.Signal{ShouldReply: false}}

	p, _ := newTestPipeline(t, store, client, responder)
	p.Submit(Event{GroupID: 1, UserID: 10, Username: "alice", Content: "just chatting", Timestamp: time.Now()})
	p.Close()

	if len(responder.sent) != 0 {
		t.Fatalf("expected no sent messages, got %d", len(responder.sent))
	}
	if len(store.messages) != 1 {
		t.Fatalf("expected 1 stored message, got %d", len(store.messages))
	}
	if store.processed[store.messages[0].ID] {
		t.Error("unreplied message must not be marked processed")
	}
}

func TestPipelineKeepsMessageUnprocessedOnGenerationFailure(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	responder := &fakeResponder{}
	client := &fakeAIClient{
		judgeSignal:  &ai.Signal{ShouldReply: true},
		generateErrs: []error{ai.ErrTimeout, ai.ErrTimeout, ai.ErrTimeout},
	}

	p, _ := newTestPipeline(t, store, client, responder)
	p.Submit(Event{GroupID: 1, UserID: 10, Username: "alice", Content: "hello?", Timestamp: time.Now()})
	p.Close()

	if len(responder.sent) != 0 {
		t.Fatalf("expected no sent messages after generation failure, got %d", len(responder.sent))
	}
	if store.processed[store.messages[0].ID] {
		t.Error("message must stay unprocessed when generation fails")
	}
}

func TestPipelineHandlesRecall(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	responder := &fakeResponder{}
	client := &fakeAIClient{judgeSignal: &ai.Signal{ShouldReply: false}}

	p, _ := newTestPipeline(t, store, client, responder)
	p.Submit(Event{GroupID: 1, UserID: 10, Username: "alice", Content: "delete this later", Timestamp: time.Now()})
	p.Close()

	storedID := store.messages[0].ID

	p2, _ := newTestPipeline(t, store, client, responder)
	p2.Submit(Event{GroupID: 1, UserID: 10, IsRecall: true, MessageID: storedID})
	p2.Close()

	if !store.recalled[storedID] {
		t.Error("recalled message not marked in store")
	}

	recent, err := store.GetRecentMessagesInChat(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("GetRecentMessagesInChat returned error: %v", err)
	}
	if len(recent) != 0 {
		t.Errorf("recalled message still visible in history: %+v", recent)
	}
}

func TestPipelineSerializesEventsPerGroup(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	responder := &fakeResponder{}
	client := &fakeAIClient{judgeSignal: &ai.Signal{ShouldReply: false}}

	p, _ := newTestPipeline(t, store, client, responder)
	for i := range 10 {
		p.Submit(Event{
			GroupID:   1,
			UserID:    10,
			Username:  "alice",
			Content:   string(rune('a' + i)),
			Timestamp: time.Now(),
		})
	}
	p.Close()

	if len(store.messages) != 10 {
		t.Fatalf("expected 10 stored messages, got %d", len(store.messages))
	}
	for i, msg := range store.messages {
		if msg.Content != string(rune('a'+i)) {
			t.Fatalf("message %d out of order: got %q", i, msg.Content)
		}
	}
}

func TestPipelineProcessesGroupsIndependently(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	responder := &fakeResponder{}
	client := &fakeAIClient{judgeSignal: &ai.Signal{ShouldReply: false}}

	p, _ := newTestPipeline(t, store, client, responder)
	for i := range 5 {
		p.Submit(Event{GroupID: 1, UserID: 10, Username: "alice", Content: string(rune('a' + i)), Timestamp: time.Now()})
		p.Submit(Event{GroupID: 2, UserID: 20, Username: "bob", Content: string(rune('v' + i)), Timestamp: time.Now()})
	}
	p.Close()

	counts := map[int64]int{}
	for _, msg := range store.messages {
		counts[msg.GroupID]++
	}
	if counts[1] != 5 || counts[2] != 5 {
		t.Fatalf("expected 5 messages per group, got %v", counts)
	}
}

func TestPipelineDropsEventsWithoutGroup(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	p, _ := newTestPipeline(t, store, &fakeAIClient{}, &fakeResponder{})
	p.Submit(Event{GroupID: 0, UserID: 10, Content: "orphan"})
	p.Close()

	if len(store.messages) != 0 {
		t.Errorf("expected orphan event to be dropped, stored %d messages", len(store.messages))
	}
}
