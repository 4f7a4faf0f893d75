package refine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/repoctx/internal/redact"
)

// Role identifies a transcript message's author.
type Role string

// Roles.
const (
	RoleSystem     Role = "system"
	RoleUser       Role = "user"
	RoleController Role = "controller"
)

// Message is one transcript entry.
type Message struct {
	Role    Role
	Content string
}

// Controller proposes the next tool calls given the transcript so far.
type Controller interface {
	Propose(ctx context.Context, transcript []Message) (string, error)
}

// ErrScriptExhausted is returned by a ScriptedController with no replies left.
var ErrScriptExhausted = errors.New("scripted controller exhausted")

// ScriptedController replays canned replies in order. A reply of the form
// Fail(err) makes that call fail.
type ScriptedController struct {
	mu      sync.Mutex
	replies []Reply
	calls   int
	seen    [][]Message
}

// Reply is one scripted controller turn.
type Reply struct {
	Text string
	Err  error
}

// Say is a reply with text.
func Say(text string) Reply { return Reply{Text: text} }

// Fail is a reply that fails with err.
func Fail(err error) Reply { return Reply{Err: err} }

// NewScriptedController creates a controller that returns replies in order.
func NewScriptedController(replies ...Reply) *ScriptedController {
	return &ScriptedController{replies: replies}
}

// Propose implements Controller.
func (s *ScriptedController) Propose(ctx context.Context, transcript []Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, append([]Message(nil), transcript...))
	if s.calls >= len(s.replies) {
		s.calls++
		return "", ErrScriptExhausted
	}
	r := s.replies[s.calls]
	s.calls++
	return r.Text, r.Err
}

// Calls returns how many times Propose ran.
func (s *ScriptedController) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Transcripts returns the transcript passed to each call.
func (s *ScriptedController) Transcripts() [][]Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]Message(nil), s.seen...)
}

// Scrubber removes secrets from outbound text.
type Scrubber interface {
	Redact(content string) (string, []redact.Finding)
}

// Default LLM controller settings.
const (
	DefaultRateLimit   = 50.0 / 60.0
	DefaultBurst       = 5
	DefaultTemperature = 0.2
	DefaultMaxTokens   = 4096
)

// LLMConfig configures an LLMController.
type LLMConfig struct {
	// RateLimit is requests per second.
	RateLimit   float64
	Burst       int
	Temperature float64
	MaxTokens   int
}

// LLMController asks a langchaingo model for tool calls. Outbound text is
// scrubbed of secrets and requests are rate limited.
type LLMController struct {
	model    llms.Model
	cfg      LLMConfig
	limiter  *rate.Limiter
	scrubber Scrubber
	logger   *zap.Logger
}

// NewLLMController wraps model. scrubber may be nil.
func NewLLMController(model llms.Model, cfg LLMConfig, scrubber Scrubber, logger *zap.Logger) *LLMController {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	return &LLMController{
		model:    model,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		scrubber: scrubber,
		logger:   logger,
	}
}

// OpenAIConfig selects an OpenAI-compatible chat model.
type OpenAIConfig struct {
	Model   string
	BaseURL string
	APIKey  string
}

// NewOpenAIController builds an LLMController on an OpenAI-compatible
// endpoint.
func NewOpenAIController(oc OpenAIConfig, cfg LLMConfig, scrubber Scrubber, logger *zap.Logger) (*LLMController, error) {
	if oc.Model == "" {
		return nil, fmt.Errorf("controller model required")
	}
	opts := []openai.Option{openai.WithModel(oc.Model)}
	if oc.APIKey != "" {
		opts = append(opts, openai.WithToken(oc.APIKey))
	}
	if oc.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(oc.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}
	return NewLLMController(llm, cfg, scrubber, logger), nil
}

// Propose implements Controller.
func (c *LLMController) Propose(ctx context.Context, transcript []Message) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	msgs := make([]llms.MessageContent, 0, len(transcript))
	redacted := 0
	for _, m := range transcript {
		text := m.Content
		if c.scrubber != nil {
			var findings []redact.Finding
			text, findings = c.scrubber.Redact(text)
			redacted += len(findings)
		}
		msgs = append(msgs, llms.TextParts(chatRole(m.Role), text))
	}
	if redacted > 0 {
		c.logger.Info("redacted secrets from controller prompt", zap.Int("count", redacted))
	}

	resp, err := c.model.GenerateContent(ctx, msgs,
		llms.WithTemperature(c.cfg.Temperature),
		llms.WithMaxTokens(c.cfg.MaxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", errors.New("empty response from model")
	}
	return resp.Choices[0].Content, nil
}

func chatRole(r Role) schema.ChatMessageType {
	switch r {
	case RoleSystem:
		return schema.ChatMessageTypeSystem
	case RoleController:
		return schema.ChatMessageTypeAI
	default:
		return schema.ChatMessageTypeHuman
	}
}
