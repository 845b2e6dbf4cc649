package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/fayev1t/qqautochatbot/internal/config"
	"github.com/fayev1t/qqautochatbot/internal/database"
)

// Responder delivers an outbound reply to a group on the platform.
type Responder interface {
	SendGroupMessage(ctx context.Context, groupID int64, text string) error
}

// Pipeline owns event intake and per-group processing. Each group gets its
// own worker goroutine with a bounded queue, so events within a group are
// handled strictly in arrival order while groups never block each other.
type Pipeline struct {
	store     database.Store
	context   *ContextManager
	judge     *MessageJudge
	generator *ConversationGenerator
	responder Responder
	cfg       config.ChatConfig
	logger    *slog.Logger

	mu      sync.Mutex
	workers map[int64]chan Event
	closed  bool

	ctx context.Context
	wg  sync.WaitGroup
}

// NewPipeline wires the processing stages together. Start must be called
// before Submit.
func NewPipeline(store database.Store, contextManager *ContextManager, judge *MessageJudge, generator *ConversationGenerator, responder Responder, cfg config.ChatConfig, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		store:     store,
		context:   contextManager,
		judge:     judge,
		generator: generator,
		responder: responder,
		cfg:       cfg,
		logger:    logger.With("component", "pipeline"),
		workers:   make(map[int64]chan Event),
	}
}

// Start binds the pipeline to its lifecycle context. Workers inherit this
// context and drain when it is cancelled.
func (p *Pipeline) Start(ctx context.Context) {
	p.ctx = ctx
}

// Submit enqueues an event for its group's worker, spawning the worker on
// first use. When the group's queue is full the event is dropped with a
// warning rather than blocking the transport.
func (p *Pipeline) Submit(ev Event) {
	if ev.GroupID == 0 {
		p.logger.Warn("Dropping event without group id", "user_id", ev.UserID)
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.logger.Warn("Dropping event, pipeline closed", "group_id", ev.GroupID)
		return
	}

	queue, ok := p.workers[ev.GroupID]
	if !ok {
		queue = make(chan Event, p.cfg.QueueSize)
		p.workers[ev.GroupID] = queue
		p.wg.Add(1)
		go p.runWorker(ev.GroupID, queue)
	}
	p.mu.Unlock()

	select {
	case queue <- ev:
	default:
		p.logger.Warn("Group queue full, dropping event",
			"group_id", ev.GroupID, "queue_size", p.cfg.QueueSize)
	}
}

// Close stops intake, drains all queued events, and waits for the workers to
// finish.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, queue := range p.workers {
		close(queue)
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("Pipeline stopped")
}

func (p *Pipeline) runWorker(groupID int64, queue chan Event) {
	defer p.wg.Done()

	p.logger.Debug("Group worker started", "group_id", groupID)
	for ev := range queue {
		p.process(p.ctx, ev)
	}
	p.logger.Debug("Group worker stopped", "group_id", groupID)
}

// process handles one event end to end: persist, assemble context, judge,
// and when warranted, generate and deliver a reply.
func (p *Pipeline) process(ctx context.Context, ev Event) {
	if ev.IsRecall {
		p.handleRecall(ctx, ev)
		return
	}
	if ev.Content == "" {
		return
	}

	// Assemble before persisting so the triggering message never shows up
	// in its own context window, cached or backfilled.
	turns, err := p.context.Assemble(ctx, ev.GroupID)
	if err != nil {
		p.logger.Error("Failed to assemble context", "group_id", ev.GroupID, "error", err)
		turns = nil
	}

	msg := database.Message{
		GroupID:   ev.GroupID,
		UserID:    ev.UserID,
		Username:  ev.Username,
		Content:   ev.Content,
		Type:      ev.Type,
		CreatedAt: ev.Timestamp,
	}
	if err := p.store.SaveMessage(ctx, &msg); err != nil {
		if errors.Is(err, database.ErrValidation) {
			p.logger.Warn("Rejected invalid event", "group_id", ev.GroupID, "error", err)
			return
		}
		p.logger.Error("Failed to persist message", "group_id", ev.GroupID, "error", err)
		return
	}

	p.context.Append(ev.GroupID, Turn{
		MessageID: msg.ID,
		UserID:    ev.UserID,
		Username:  ev.Username,
		Role:      RoleUser,
		Content:   ev.Content,
		Timestamp: msg.CreatedAt,
	})

	decision := p.judge.Decide(ctx, ev, turns)
	if !decision.Respond {
		return
	}

	reply, err := p.generator.Generate(ctx, ev, turns)
	if err != nil {
		// Leave the message unprocessed so the failure stays visible.
		p.logger.Error("Skipping reply", "group_id", ev.GroupID, "error", err)
		return
	}

	if err := p.responder.SendGroupMessage(ctx, ev.GroupID, reply); err != nil {
		p.logger.Error("Failed to deliver reply", "group_id", ev.GroupID, "error", err)
		return
	}

	if err := p.store.MarkProcessed(ctx, msg.ID); err != nil {
		p.logger.Error("Failed to mark message processed", "message_id", msg.ID, "error", err)
	}

	botMsg := database.Message{
		GroupID:   ev.GroupID,
		UserID:    p.context.botID,
		Username:  "bot",
		Content:   reply,
		Type:      "text",
		Processed: true,
	}
	if err := p.store.SaveMessage(ctx, &botMsg); err != nil {
		p.logger.Error("Failed to persist bot reply", "group_id", ev.GroupID, "error", err)
	}

	// The reply joins the context window only after it has reached the
	// group, so a failed delivery never appears in future prompts.
	p.context.Append(ev.GroupID, Turn{
		MessageID: botMsg.ID,
		UserID:    p.context.botID,
		Username:  botMsg.Username,
		Role:      RoleBot,
		Content:   reply,
		Timestamp: botMsg.CreatedAt,
	})
}

// handleRecall removes the recalled message from persistence-visible prompts
// and the live context window.
func (p *Pipeline) handleRecall(ctx context.Context, ev Event) {
	if ev.MessageID <= 0 {
		p.logger.Warn("Recall event without message id", "group_id", ev.GroupID)
		return
	}

	if err := p.store.MarkRecalled(ctx, ev.MessageID); err != nil {
		p.logger.Error("Failed to mark message recalled",
			"group_id", ev.GroupID, "message_id", ev.MessageID, "error", err)
		return
	}
	p.context.Forget(ev.GroupID, ev.MessageID)
	p.logger.Info("Message recalled", "group_id", ev.GroupID, "message_id", ev.MessageID)
}
