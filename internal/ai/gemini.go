package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"

	"github.com/fayev1t/qqautochatbot/internal/config"
)

// geminiClient implements Client on top of Google's Gemini API.
type geminiClient struct {
	genaiClient    *genai.Client
	log            *slog.Logger
	model          string
	embeddingModel string
	judgeTemp      float32
	replyTemp      float32
	timeout        time.Duration
}

func newGeminiClient(ctx context.Context, cfg config.AIConfig, log *slog.Logger) (*geminiClient, error) {
	gi, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	logger := log.With("component", "gemini_client")
	logger.Info("Gemini client initialized successfully", "model", cfg.Model, "embedding_model", cfg.EmbeddingModel)
	return &geminiClient{
		genaiClient:    gi,
		log:            logger,
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		judgeTemp:      cfg.JudgeTemperature,
		replyTemp:      cfg.ReplyTemperature,
		timeout:        cfg.Timeout,
	}, nil
}

func (c *geminiClient) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *geminiClient) generate(ctx context.Context, system, user string, temperature float32) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:       &temperature,
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: system}}},
		SafetySettings: []*genai.SafetySetting{
			{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockNone},
		},
	}

	contents := []*genai.Content{genai.NewContentFromText(user, genai.RoleUser)}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := c.genaiClient.Models.GenerateContent(callCtx, c.model, contents, cfg)
	if err != nil {
		return "", classifyGeminiError(err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("%w: gemini returned no text candidates", ErrInvalidResponse)
	}
	return text, nil
}

// Judge implements Client.
func (c *geminiClient) Judge(ctx context.Context, req JudgeRequest) (*Signal, error) {
	system, user := buildJudgePrompt(req)

	raw, err := c.generate(ctx, system, user, c.judgeTemp)
	if err != nil {
		c.log.WarnContext(ctx, "Gemini judge call failed", "error", err)
		return nil, err
	}

	signal, err := parseSignal(raw)
	if err != nil {
		c.log.WarnContext(ctx, "Gemini judge output unparseable", "error", err)
		return nil, err
	}
	return signal, nil
}

// Generate implements Client.
func (c *geminiClient) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	system, user := buildGeneratePrompt(req)

	text, err := c.generate(ctx, system, user, c.replyTemp)
	if err != nil {
		c.log.WarnContext(ctx, "Gemini reply generation failed", "error", err)
		return "", err
	}
	return text, nil
}

// Embed implements Client.
func (c *geminiClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		contents = append(contents, genai.NewContentFromText(t, genai.RoleUser))
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := c.genaiClient.Models.EmbedContent(callCtx, c.embeddingModel, contents, nil)
	if err != nil {
		c.log.WarnContext(ctx, "Gemini embedding call failed", "error", err, "batch_size", len(texts))
		return nil, classifyGeminiError(err)
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrInvalidResponse, len(texts), len(resp.Embeddings))
	}

	vectors := make([][]float32, 0, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at index %d", ErrInvalidResponse, i)
		}
		vectors = append(vectors, emb.Values)
	}
	return vectors, nil
}

// classifyGeminiError maps genai errors onto the package's sentinel errors.
func classifyGeminiError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 429:
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		case 500, 502, 503:
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return fmt.Errorf("gemini API call failed: %w", err)
}
