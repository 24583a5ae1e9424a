package fake

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/chriscow/simon-go/pkg/ai/llm"
)

// FakeLLM is a fake LLM implementation for testing.
type FakeLLM struct {
	mu        sync.Mutex
	responses []string
	deltas    []string
	callCount int

	failures int
	failErr  error

	firstChunkDelay time.Duration
	inFlight        int
	maxInFlight     int
	requests        []llm.ChatRequest
}

// NewFakeLLM creates a new fake LLM provider with predefined responses.
func NewFakeLLM(responses ...string) *FakeLLM {
	if len(responses) == 0 {
		responses = []string{
			"Hola, soy Simón. ¿En qué puedo ayudarte?",
			"Claro, con gusto te explico.",
			"Esta es otra respuesta de prueba.",
		}
	}
	return &FakeLLM{responses: responses}
}

// WithDeltas makes every stream emit exactly these deltas, in order.
func (f *FakeLLM) WithDeltas(deltas ...string) *FakeLLM {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deltas = deltas
	return f
}

// FailNext makes the next n calls fail with err.
func (f *FakeLLM) FailNext(n int, err error) *FakeLLM {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
	f.failErr = err
	return f
}

// SetFirstChunkDelay delays the first delta of every stream.
func (f *FakeLLM) SetFirstChunkDelay(d time.Duration) *FakeLLM {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.firstChunkDelay = d
	return f
}

// Calls returns how many requests reached the fake, failed ones included.
func (f *FakeLLM) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount
}

// MaxInFlight returns the largest number of concurrently open calls observed.
func (f *FakeLLM) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

// Requests returns copies of the received requests.
func (f *FakeLLM) Requests() []llm.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.ChatRequest(nil), f.requests...)
}

// begin records a call and returns the scripted deltas or the injected failure.
func (f *FakeLLM) begin(req llm.ChatRequest) ([]string, time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.callCount++
	f.requests = append(f.requests, req)

	if f.failures > 0 {
		f.failures--
		return nil, 0, f.failErr
	}

	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}

	if f.deltas != nil {
		return append([]string(nil), f.deltas...), f.firstChunkDelay, nil
	}

	response := f.responses[(f.callCount-1)%len(f.responses)]
	if last := llm.LastUser(req.Messages); last != "" && strings.Contains(response, "%s") {
		response = fmt.Sprintf(response, last)
	}
	return splitWords(response), f.firstChunkDelay, nil
}

func (f *FakeLLM) end() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
}

// Chat returns the next scripted response in one piece.
func (f *FakeLLM) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	deltas, delay, err := f.begin(req)
	if err != nil {
		return llm.ChatResponse{}, err
	}
	defer f.end()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return llm.ChatResponse{}, ctx.Err()
		}
	}

	content := strings.Join(deltas, "")
	return llm.ChatResponse{
		Message: llm.Message{
			Role:    llm.RoleAssistant,
			Content: content,
		},
		TokensUsed:   len(strings.Fields(content)) + 10,
		FinishReason: "stop",
	}, nil
}

// ChatStream returns a stream over the next scripted response.
func (f *FakeLLM) ChatStream(ctx context.Context, req llm.ChatRequest) (llm.ChatStream, error) {
	deltas, delay, err := f.begin(req)
	if err != nil {
		return nil, err
	}
	return &fakeStream{ctx: ctx, deltas: deltas, delay: delay, done: f.end}, nil
}

// Capabilities returns the fake LLM capabilities.
func (f *FakeLLM) Capabilities() llm.LLMCapabilities {
	return llm.LLMCapabilities{
		SupportsStreaming:  true,
		MaxTokens:          4096,
		SupportedModels:    []string{"fake-model-1", "fake-model-2"},
		SupportsSystemRole: true,
	}
}

type fakeStream struct {
	ctx    context.Context
	deltas []string
	idx    int
	delay  time.Duration
	once   sync.Once
	done   func()
}

func (s *fakeStream) Recv() (string, error) {
	if s.idx == 0 && s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-s.ctx.Done():
			return "", s.ctx.Err()
		}
	}
	if s.idx >= len(s.deltas) {
		return "", io.EOF
	}
	d := s.deltas[s.idx]
	s.idx++
	return d, nil
}

func (s *fakeStream) Close() error {
	s.once.Do(s.done)
	return nil
}

// splitWords breaks text into deltas that keep their trailing spaces.
func splitWords(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if r == ' ' {
			out = append(out, text[start:i+1])
			start = i + 1
		}
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}
