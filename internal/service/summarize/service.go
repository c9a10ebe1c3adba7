package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"meetscribe/internal/config"
	"meetscribe/internal/logging"
	"meetscribe/internal/models"

	"github.com/cenkalti/backoff/v5"
	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"
)

// Summarizer produces a structured summary from a transcript.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (*models.StructuredSummary, error)
}

// Service calls a remote chat model with a fixed instruction template and
// retries transient failures with exponential backoff.
type Service struct {
	chat           model.BaseChatModel
	maxAttempts    uint
	initialBackoff time.Duration
	maxBackoff     time.Duration
	callTimeout    time.Duration
}

type chatModelFactory func(ctx context.Context, cfg config.SummarizeConfig) (model.BaseChatModel, error)

var newChatModel chatModelFactory = NewChatModel

// New builds the chat model for the configured provider.
func New(ctx context.Context, cfg config.SummarizeConfig) (*Service, error) {
	chat, err := newChatModel(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewWithModel(chat, cfg)
}

// NewWithModel wraps an existing chat model.
func NewWithModel(chat model.BaseChatModel, cfg config.SummarizeConfig) (*Service, error) {
	if chat == nil {
		return nil, errors.New("chat model is required")
	}
	s := &Service{
		chat:           chat,
		maxAttempts:    uint(max(cfg.MaxAttempts, 1)),
		initialBackoff: cfg.InitialBackoff(),
		maxBackoff:     cfg.MaxBackoff(),
		callTimeout:    cfg.Timeout(),
	}
	if s.initialBackoff <= 0 {
		s.initialBackoff = 500 * time.Millisecond
	}
	if s.maxBackoff < s.initialBackoff {
		s.maxBackoff = s.initialBackoff
	}
	if s.callTimeout <= 0 {
		s.callTimeout = time.Minute
	}
	return s, nil
}

// NewChatModel selects the provider client.
func NewChatModel(ctx context.Context, cfg config.SummarizeConfig) (model.BaseChatModel, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: api key is empty", models.ErrSummarizationAuth)
	}
	switch cfg.Provider {
	case "", "gemini":
		modelName := cfg.Model
		if modelName == "" {
			modelName = "gemini-2.5-flash"
		}
		clientCfg := &genai.ClientConfig{
			APIKey:  cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		}
		if cfg.BaseURL != "" {
			clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
		}
		client, err := genai.NewClient(ctx, clientCfg)
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		return gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  modelName,
		})
	case "openai":
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			APIKey:  cfg.APIKey,
			Timeout: cfg.Timeout(),
		})
	case "claude":
		var baseURLPtr *string
		if cfg.BaseURL != "" {
			baseURLPtr = &cfg.BaseURL
		}
		return claude.NewChatModel(ctx, &claude.Config{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: 3000,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", cfg.Provider)
	}
}

func (s *Service) Summarize(ctx context.Context, transcript string) (*models.StructuredSummary, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, fmt.Errorf("%w: empty transcript", models.ErrMalformedOutput)
	}
	messages := buildMessages(transcript)
	log := logging.Named("summarize")

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initialBackoff
	b.MaxInterval = s.maxBackoff

	attempt := 0
	sum, err := backoff.Retry(ctx, func() (*models.StructuredSummary, error) {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		defer cancel()

		resp, err := s.chat.Generate(callCtx, messages)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(fmt.Errorf("%w: %w", models.ErrSummarizationNetwork, ctx.Err()))
			}
			return nil, classify(err)
		}
		if resp == nil {
			return nil, backoff.Permanent(fmt.Errorf("%w: no message returned", models.ErrMalformedOutput))
		}
		parsed, err := Parse(resp.Content)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return parsed, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.maxAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.Warnw("summarization attempt failed, retrying", "attempt", attempt, "wait", wait, "error", err)
		}),
	)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		if !errors.Is(err, models.ErrSummarizationNetwork) &&
			!errors.Is(err, models.ErrSummarizationAuth) &&
			!errors.Is(err, models.ErrMalformedOutput) {
			err = fmt.Errorf("%w: %w", models.ErrSummarizationNetwork, err)
		}
		return nil, err
	}
	return sum, nil
}
