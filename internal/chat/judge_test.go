package chat

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fayev1t/qqautochatbot/internal/ai"
	"github.com/fayev1t/qqautochatbot/internal/config"
)

// fakeAIClient scripts judge, generate, and embed behavior for tests.
type fakeAIClient struct {
	mu sync.Mutex

	judgeSignal *ai.Signal
	judgeErr    error
	judgeCalls  int

	generateReplies []string
	generateErrs    []error
	generateCalls   int

	embedFn    func(texts []string) ([][]float32, error)
	embedCalls int
}

func (f *fakeAIClient) Judge(_ context.Context, _ ai.JudgeRequest) (*ai.Signal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.judgeCalls++
	if f.judgeErr != nil {
		return nil, f.judgeErr
	}
	if f.judgeSignal == nil {
		return &ai.Signal{}, nil
	}
	return f.judgeSignal, nil
}

func (f *fakeAIClient) Generate(_ context.Context, _ ai.GenerateRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.generateCalls
	f.generateCalls++
	if call < len(f.generateErrs) && f.generateErrs[call] != nil {
		return "", f.generateErrs[call]
	}
	if call < len(f.generateReplies) {
		return f.generateReplies[call], nil
	}
	if len(f.generateReplies) > 0 {
		return f.generateReplies[len(f.generateReplies)-1], nil
	}
	return "ok", nil
}

func (f *fakeAIClient) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embedCalls++
	if f.embedFn != nil {
		return f.embedFn(texts)
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 2, 3}
	}
	return out, nil
}

func judgeTestConfig() config.ChatConfig {
	cfg := testChatConfig()
	cfg.ForceTriggerPatterns = []string{`(?i)\bhey bot\b`}
	cfg.ReleaseTriggerPatterns = []string{`(?i)\bspeak up\b`}
	cfg.SilenceDuration = time.Hour
	return cfg
}

func TestMessageJudgeDecide(t *testing.T) {
	t.Parallel()

	event := Event{GroupID: 1, UserID: 10, Username: "alice", Content: "what do you think?"}

	t.Run("suppressed group skips the model entirely", func(t *testing.T) {
		t.Parallel()

		gate := NewSilenceGate(testLogger())
		gate.Suppress(1, 0)
		client := &fakeAIClient{judgeSignal: &ai.Signal{ShouldReply: true}}

		judge, err := NewMessageJudge(gate, client, judgeTestConfig(), testLogger())
		if err != nil {
			t.Fatalf("NewMessageJudge returned error: %v", err)
		}

		decision := judge.Decide(context.Background(), event, nil)
		if decision.Respond {
			t.Error("expected no response while suppressed")
		}
		if client.judgeCalls != 0 {
			t.Errorf("expected zero judge calls while suppressed, got %d", client.judgeCalls)
		}
	})

	t.Run("force trigger decides without model call", func(t *testing.T) {
		t.Parallel()

		client := &fakeAIClient{judgeSignal: &ai.Signal{ShouldReply: false}}
		judge, err := NewMessageJudge(NewSilenceGate(testLogger()), client, judgeTestConfig(), testLogger())
		if err != nil {
			t.Fatalf("NewMessageJudge returned error: %v", err)
		}

		ev := event
		ev.Content = "Hey Bot, are you there?"
		decision := judge.Decide(context.Background(), ev, nil)
		if !decision.Respond || !decision.Forced {
			t.Errorf("expected forced respond decision, got %+v", decision)
		}
		if client.judgeCalls != 0 {
			t.Errorf("expected zero judge calls for force trigger, got %d", client.judgeCalls)
		}
	})

	t.Run("model decision is honored", func(t *testing.T) {
		t.Parallel()

		client := &fakeAIClient{judgeSignal: &ai.Signal{ShouldReply: true, Reason: "asked directly"}}
		judge, err := NewMessageJudge(NewSilenceGate(testLogger()), client, judgeTestConfig(), testLogger())
		if err != nil {
			t.Fatalf("NewMessageJudge returned error: %v", err)
		}

		decision := judge.Decide(context.Background(), event, nil)
		if !decision.Respond || decision.Forced || decision.Degraded {
			t.Errorf("unexpected decision: %+v", decision)
		}
		if decision.Reason != "asked directly" {
			t.Errorf("reason = %q, want %q", decision.Reason, "asked directly")
		}
	})

	t.Run("unusable signal degrades to no response", func(t *testing.T) {
		t.Parallel()

		client := &fakeAIClient{judgeErr: ai.ErrInvalidResponse}
		judge, err := NewMessageJudge(NewSilenceGate(testLogger()), client, judgeTestConfig(), testLogger())
		if err != nil {
			t.Fatalf("NewMessageJudge returned error: %v", err)
		}

		decision := judge.Decide(context.Background(), event, nil)
		if decision.Respond {
			t.Error("expected conservative no-response on judge failure")
		}
		if !decision.Degraded {
			t.Error("expected decision to be flagged degraded")
		}
	})

	t.Run("complaint suppresses the group", func(t *testing.T) {
		t.Parallel()

		gate := NewSilenceGate(testLogger())
		client := &fakeAIClient{judgeSignal: &ai.Signal{ShouldReply: false, UserComplainingTooMuch: true}}
		judge, err := NewMessageJudge(gate, client, judgeTestConfig(), testLogger())
		if err != nil {
			t.Fatalf("NewMessageJudge returned error: %v", err)
		}

		judge.Decide(context.Background(), event, nil)
		if !gate.IsSuppressed(1) {
			t.Error("expected complaint to suppress the group")
		}
	})

	t.Run("release trigger lifts silence and judges normally", func(t *testing.T) {
		t.Parallel()

		gate := NewSilenceGate(testLogger())
		gate.Suppress(1, 0)
		client := &fakeAIClient{judgeSignal: &ai.Signal{ShouldReply: true, Reason: "urged to speak"}}
		judge, err := NewMessageJudge(gate, client, judgeTestConfig(), testLogger())
		if err != nil {
			t.Fatalf("NewMessageJudge returned error: %v", err)
		}

		ev := event
		ev.Content = "come on, speak up already"
		decision := judge.Decide(context.Background(), ev, nil)
		if gate.IsSuppressed(1) {
			t.Error("expected release trigger to lift the silence")
		}
		if !decision.Respond {
			t.Errorf("expected respond decision after release, got %+v", decision)
		}
		if client.judgeCalls != 1 {
			t.Errorf("expected one judge call after release, got %d", client.judgeCalls)
		}
	})

	t.Run("suppressed group stays silent without a release trigger", func(t *testing.T) {
		t.Parallel()

		gate := NewSilenceGate(testLogger())
		gate.Suppress(1, 0)
		client := &fakeAIClient{judgeSignal: &ai.Signal{ShouldReply: true}}
		judge, err := NewMessageJudge(gate, client, judgeTestConfig(), testLogger())
		if err != nil {
			t.Fatalf("NewMessageJudge returned error: %v", err)
		}

		ev := event
		ev.Content = "anyone around?"
		decision := judge.Decide(context.Background(), ev, nil)
		if decision.Respond {
			t.Error("expected no response while suppressed")
		}
		if !gate.IsSuppressed(1) {
			t.Error("expected group to stay suppressed")
		}
		if client.judgeCalls != 0 {
			t.Errorf("expected zero judge calls, got %d", client.judgeCalls)
		}
	})
}

func TestNewMessageJudgeRejectsInvalidPattern(t *testing.T) {
	t.Parallel()

	t.Run("force trigger", func(t *testing.T) {
		t.Parallel()

		cfg := judgeTestConfig()
		cfg.ForceTriggerPatterns = []string{`([unclosed`}

		_, err := NewMessageJudge(NewSilenceGate(testLogger()), &fakeAIClient{}, cfg, testLogger())
		if err == nil {
			t.Fatal("expected error for invalid force trigger pattern")
		}
		if !strings.Contains(err.Error(), "force trigger") {
			t.Errorf("error %q does not name the invalid pattern", err)
		}
	})

	t.Run("release trigger", func(t *testing.T) {
		t.Parallel()

		cfg := judgeTestConfig()
		cfg.ReleaseTriggerPatterns = []string{`([unclosed`}

		_, err := NewMessageJudge(NewSilenceGate(testLogger()), &fakeAIClient{}, cfg, testLogger())
		if err == nil {
			t.Fatal("expected error for invalid release trigger pattern")
		}
		if !strings.Contains(err.Error(), "release trigger") {
			t.Errorf("error %q does not name the invalid pattern", err)
		}
	})
}
