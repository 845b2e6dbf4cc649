package chat

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/fayev1t/qqautochatbot/internal/ai"
	"github.com/fayev1t/qqautochatbot/internal/config"
)

// Decision is the outcome of the first-layer respond decision.
type Decision struct {
	Respond bool
	Reason  string

	// Forced is set when a deterministic trigger decided without a model call.
	Forced bool

	// Degraded is set when the model signal was unusable and the judge
	// defaulted to non-response.
	Degraded bool
}

// MessageJudge is the first-layer AI: it decides whether the bot should
// respond at all, before any expensive generation happens.
type MessageJudge struct {
	gate            *SilenceGate
	client          ai.Client
	forceTriggers   []*regexp.Regexp
	releaseTriggers []*regexp.Regexp
	cfg             config.ChatConfig
	logger          *slog.Logger
}

// NewMessageJudge compiles the configured force- and release-trigger patterns
// and returns a judge. Invalid patterns fail construction rather than being
// silently dropped.
func NewMessageJudge(gate *SilenceGate, client ai.Client, cfg config.ChatConfig, logger *slog.Logger) (*MessageJudge, error) {
	force, err := compilePatterns("force trigger", cfg.ForceTriggerPatterns)
	if err != nil {
		return nil, err
	}
	release, err := compilePatterns("release trigger", cfg.ReleaseTriggerPatterns)
	if err != nil {
		return nil, err
	}

	return &MessageJudge{
		gate:            gate,
		client:          client,
		forceTriggers:   force,
		releaseTriggers: release,
		cfg:             cfg,
		logger:          logger.With("component", "message_judge"),
	}, nil
}

func compilePatterns(kind string, patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern %q: %w", kind, pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func matchesAny(res []*regexp.Regexp, content string) bool {
	for _, re := range res {
		if re.MatchString(content) {
			return true
		}
	}
	return false
}

// Decide runs the decision sequence: silence gate first (no model call when
// suppressed), then deterministic force triggers, then the model judge.
// A release trigger is the one way a suppressed group wakes the bot before
// /speak or expiry, checked without any model call. Unusable model output
// degrades to a non-response instead of failing the pipeline.
func (j *MessageJudge) Decide(ctx context.Context, ev Event, turns []Turn) Decision {
	if j.gate.IsSuppressed(ev.GroupID) {
		if !matchesAny(j.releaseTriggers, ev.Content) {
			j.logger.DebugContext(ctx, "Group suppressed, skipping judgment", "group_id", ev.GroupID)
			return Decision{Respond: false, Reason: "group is in silence mode"}
		}
		j.gate.Release(ev.GroupID)
		j.logger.InfoContext(ctx, "Release trigger matched, lifting silence", "group_id", ev.GroupID)
	}

	for _, re := range j.forceTriggers {
		if re.MatchString(ev.Content) {
			j.logger.DebugContext(ctx, "Force trigger matched", "group_id", ev.GroupID, "pattern", re.String())
			return Decision{Respond: true, Forced: true, Reason: "force trigger matched"}
		}
	}

	signal, err := j.client.Judge(ctx, ai.JudgeRequest{
		Context:        formatTurns(turns),
		CurrentMessage: formatEvent(ev),
	})
	if err != nil {
		j.logger.WarnContext(ctx, "Judge degraded, defaulting to no response",
			"group_id", ev.GroupID, "error", err)
		return Decision{Respond: false, Degraded: true, Reason: "judge signal unusable"}
	}

	// Feedback-driven suppression: complaints about the bot talking too
	// much silence the group for the configured duration.
	if signal.UserComplainingTooMuch {
		j.gate.Suppress(ev.GroupID, j.cfg.SilenceDuration)
	}

	j.logger.DebugContext(ctx, "Judge decision",
		"group_id", ev.GroupID, "respond", signal.ShouldReply, "reason", signal.Reason)
	return Decision{Respond: signal.ShouldReply, Reason: signal.Reason}
}
