package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/fayev1t/qqautochatbot/internal/config"
)

// openaiClient implements Client against any OpenAI-compatible endpoint
// (including DeepSeek-style providers via base_url).
type openaiClient struct {
	client         *openai.Client
	log            *slog.Logger
	model          string
	embeddingModel string
	judgeTemp      float64
	replyTemp      float64
	timeout        time.Duration
}

func newOpenAIClient(cfg config.AIConfig, log *slog.Logger) (*openaiClient, error) {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	logger := log.With("component", "openai_client")
	logger.Info("OpenAI client initialized successfully", "model", cfg.Model, "embedding_model", cfg.EmbeddingModel, "base_url", cfg.BaseURL)
	return &openaiClient{
		client:         openai.NewClient(opts...),
		log:            logger,
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		judgeTemp:      float64(cfg.JudgeTemperature),
		replyTemp:      float64(cfg.ReplyTemperature),
		timeout:        cfg.Timeout,
	}, nil
}

func (c *openaiClient) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *openaiClient) chat(ctx context.Context, system, user string, temperature float64) (string, error) {
	params := openai.ChatCompletionNewParams{
		Messages: openai.F([]openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		}),
		Model:       openai.F(c.model),
		Temperature: openai.F(temperature),
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := c.client.Chat.Completions.New(callCtx, params)
	if err != nil {
		return "", classifyOpenAIError(err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("%w: chat completion returned no choices", ErrInvalidResponse)
	}
	return resp.Choices[0].Message.Content, nil
}

// Judge implements Client.
func (c *openaiClient) Judge(ctx context.Context, req JudgeRequest) (*Signal, error) {
	system, user := buildJudgePrompt(req)

	raw, err := c.chat(ctx, system, user, c.judgeTemp)
	if err != nil {
		c.log.WarnContext(ctx, "OpenAI judge call failed", "error", err)
		return nil, err
	}

	signal, err := parseSignal(raw)
	if err != nil {
		c.log.WarnContext(ctx, "OpenAI judge output unparseable", "error", err)
		return nil, err
	}
	return signal, nil
}

// Generate implements Client.
func (c *openaiClient) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	system, user := buildGeneratePrompt(req)

	text, err := c.chat(ctx, system, user, c.replyTemp)
	if err != nil {
		c.log.WarnContext(ctx, "OpenAI reply generation failed", "error", err)
		return "", err
	}
	return text, nil
}

// Embed implements Client.
func (c *openaiClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := c.client.Embeddings.New(callCtx, openai.EmbeddingNewParams{
		Input: openai.F[openai.EmbeddingNewParamsInputUnion](openai.EmbeddingNewParamsInputArrayOfStrings(texts)),
		Model: openai.F(c.embeddingModel),
	})
	if err != nil {
		c.log.WarnContext(ctx, "OpenAI embedding call failed", "error", err, "batch_size", len(texts))
		return nil, classifyOpenAIError(err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrInvalidResponse, len(texts), len(resp.Data))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		idx := int(item.Index)
		if idx < 0 || idx >= len(texts) || len(item.Embedding) == 0 {
			return nil, fmt.Errorf("%w: bad embedding item at index %d", ErrInvalidResponse, idx)
		}
		vec := make([]float32, len(item.Embedding))
		for i, v := range item.Embedding {
			vec[i] = float32(v)
		}
		vectors[idx] = vec
	}
	return vectors, nil
}

// classifyOpenAIError maps openai-go errors onto the package's sentinel errors.
func classifyOpenAIError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		case apiErr.StatusCode >= 500:
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return fmt.Errorf("openai API call failed: %w", err)
}
