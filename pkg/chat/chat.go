// Package chat wraps a chat-completion provider with the behavior the
// conversation loop relies on: streaming partial text, retrying transient
// failures, spotting a user who repeats themselves, and always producing a
// reply string even when the provider fails.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chriscow/simon-go/pkg/ai"
	"github.com/chriscow/simon-go/pkg/ai/llm"
)

// Fixed replies.
const (
	RepeatReply   = "Creo que ya respondí a eso. ¿Te gustaría que lo aclare o explique de otra manera?"
	ThinkingReply = "Un momento... estoy pensando."
	ApologyReply  = "Lo siento, ha ocurrido un error. Por favor, inténtalo de nuevo."
	EmptyReply    = "Lo siento, no tengo una respuesta en este momento."
)

// DefaultSystemPrompt is the persona sent as the first message of every request.
const DefaultSystemPrompt = "Eres Simón, un asistente virtual de Nexa Digital. " +
	"Respondes siempre en español, de forma breve, cálida y natural, " +
	"como en una conversación hablada. Evita listas, enlaces y formato markdown; " +
	"tus respuestas se convierten en voz."

// Request defaults.
const (
	DefaultModel            = "gpt-4o"
	DefaultMaxTokens        = 150
	DefaultTemperature      = 0.3
	DefaultPresencePenalty  = 0.2
	DefaultFrequencyPenalty = 0.3

	DefaultMaxRetries    = 2
	DefaultRetryBase     = time.Second
	DefaultThinkingAfter = time.Second
)

// PartialFunc receives the cumulative reply text as it streams in.
type PartialFunc func(text string)

// Config holds Client settings. Zero values take the package defaults.
type Config struct {
	LLM llm.LLM

	Model            string
	MaxTokens        int
	Temperature      float32
	PresencePenalty  float32
	FrequencyPenalty float32

	MaxRetries    int
	RetryBase     time.Duration // delay grows as RetryBase * retry
	ThinkingAfter time.Duration

	// Sleep waits between attempts; tests replace it to count backoffs.
	Sleep ai.Sleeper
	// Now drives the repetition window.
	Now func() time.Time

	Logger *slog.Logger
}

// Client produces assistant replies. One Client serves one conversation.
type Client struct {
	llm      llm.LLM
	req      llm.ChatRequest
	retries  int
	base     time.Duration
	thinking time.Duration
	sleep    ai.Sleeper
	repeats  *RepetitionDetector
	logger   *slog.Logger
}

// New creates a chat client.
func New(cfg Config) (*Client, error) {
	if cfg.LLM == nil {
		return nil, fmt.Errorf("LLM is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.PresencePenalty == 0 {
		cfg.PresencePenalty = DefaultPresencePenalty
	}
	if cfg.FrequencyPenalty == 0 {
		cfg.FrequencyPenalty = DefaultFrequencyPenalty
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultRetryBase
	}
	if cfg.ThinkingAfter <= 0 {
		cfg.ThinkingAfter = DefaultThinkingAfter
	}
	if cfg.Sleep == nil {
		cfg.Sleep = ai.Sleep
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Client{
		llm: cfg.LLM,
		req: llm.ChatRequest{
			Model:            cfg.Model,
			MaxTokens:        cfg.MaxTokens,
			Temperature:      cfg.Temperature,
			PresencePenalty:  cfg.PresencePenalty,
			FrequencyPenalty: cfg.FrequencyPenalty,
		},
		retries:  cfg.MaxRetries,
		base:     cfg.RetryBase,
		thinking: cfg.ThinkingAfter,
		sleep:    cfg.Sleep,
		repeats:  NewRepetitionDetector(cfg.Now),
		logger:   cfg.Logger.With(slog.String("component", "chat")),
	}, nil
}

// Respond returns the assistant reply for msgs. It never fails: provider
// errors turn into ApologyReply and an empty completion into EmptyReply.
// onPartial may be nil.
func (c *Client) Respond(ctx context.Context, msgs []llm.Message, onPartial PartialFunc) string {
	last := llm.LastUser(msgs)
	if c.repeats.Observe(last) {
		c.logger.Info("repeated question, skipping provider call", slog.String("message", last))
		return RepeatReply
	}

	out := &partials{fn: onPartial}
	placeholder := time.AfterFunc(c.thinking, out.placeholder)
	defer func() {
		placeholder.Stop()
		out.close()
	}()

	req := c.req
	req.Messages = msgs

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			delay := ai.LinearDelay(c.base, attempt)
			c.logger.Warn("retrying chat request",
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", delay),
				slog.String("error", lastErr.Error()))
			if err := c.sleep(ctx, delay); err != nil {
				return ApologyReply
			}
		}

		text, err := c.stream(ctx, req, out)
		if err == nil {
			if strings.TrimSpace(text) == "" {
				c.logger.Warn("chat completion was empty")
				return EmptyReply
			}
			return text
		}

		lastErr = err
		if ctx.Err() != nil || ai.IsFatal(err) {
			break
		}
	}

	c.logger.Error("chat request failed", slog.String("error", lastErr.Error()))
	return ApologyReply
}

// ResetRepetitions forgets the recorded user messages.
func (c *Client) ResetRepetitions() {
	c.repeats.Reset()
}

// stream runs one attempt. Identical adjacent deltas are dropped.
func (c *Client) stream(ctx context.Context, req llm.ChatRequest, out *partials) (string, error) {
	s, err := c.llm.ChatStream(ctx, req)
	if err != nil {
		return "", err
	}
	defer s.Close()

	var (
		b    strings.Builder
		prev string
	)
	for {
		delta, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return "", err
		}
		if delta == "" || delta == prev {
			continue
		}
		prev = delta
		b.WriteString(delta)
		out.emit(b.String())
	}
}

// partials serializes callback delivery between the stream and the
// placeholder timer, and stops delivery once Respond returns.
type partials struct {
	mu     sync.Mutex
	fn     PartialFunc
	got    bool
	closed bool
}

func (p *partials) emit(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = true
	if p.fn != nil && !p.closed {
		p.fn(text)
	}
}

func (p *partials) placeholder() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.got || p.closed || p.fn == nil {
		return
	}
	p.fn(ThinkingReply)
}

func (p *partials) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}
