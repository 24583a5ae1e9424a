package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chriscow/simon-go/pkg/ai"
	"github.com/chriscow/simon-go/pkg/ai/llm"
	"github.com/chriscow/simon-go/pkg/ai/llm/fake"
	"github.com/matryer/is"
)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func (r *sleepRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.delays)
}

func newTestClient(t *testing.T, provider llm.LLM) (*Client, *sleepRecorder) {
	t.Helper()
	rec := &sleepRecorder{}
	c, err := New(Config{
		LLM:           provider,
		RetryBase:     10 * time.Millisecond,
		ThinkingAfter: time.Hour,
		Sleep:         rec.Sleep,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c, rec
}

func conversation(user string) []llm.Message {
	ctx := llm.NewContext(DefaultSystemPrompt, llm.DefaultMaxTurns)
	ctx.AppendUser(user)
	return ctx.Messages()
}

func TestNewRequiresLLM(t *testing.T) {
	is := is.New(t)
	_, err := New(Config{})
	is.True(err != nil)
}

func TestRespondStreamsCumulativeText(t *testing.T) {
	is := is.New(t)
	provider := fake.NewFakeLLM().WithDeltas("Hola", "Hola", ", ", "¿qué tal?")
	c, _ := newTestClient(t, provider)

	var partials []string
	reply := c.Respond(context.Background(), conversation("Hola"), func(text string) {
		partials = append(partials, text)
	})

	// the second "Hola" is an adjacent duplicate and is dropped
	is.Equal(reply, "Hola, ¿qué tal?")
	is.Equal(partials, []string{"Hola", "Hola, ", "Hola, ¿qué tal?"})
}

func TestRespondOnlyDropsAdjacentDuplicates(t *testing.T) {
	is := is.New(t)
	provider := fake.NewFakeLLM().WithDeltas("sí", " y ", "sí")
	c, _ := newTestClient(t, provider)

	reply := c.Respond(context.Background(), conversation("¿Seguro?"), nil)
	is.Equal(reply, "sí y sí")
}

func TestRespondSendsRequestParameters(t *testing.T) {
	is := is.New(t)
	provider := fake.NewFakeLLM("Claro.")
	c, _ := newTestClient(t, provider)

	msgs := conversation("Hola, ¿cómo estás?")
	c.Respond(context.Background(), msgs, nil)

	reqs := provider.Requests()
	is.Equal(len(reqs), 1)
	is.Equal(reqs[0].Model, DefaultModel)
	is.Equal(reqs[0].MaxTokens, DefaultMaxTokens)
	is.Equal(reqs[0].Temperature, float32(DefaultTemperature))
	is.Equal(reqs[0].PresencePenalty, float32(DefaultPresencePenalty))
	is.Equal(reqs[0].FrequencyPenalty, float32(DefaultFrequencyPenalty))
	is.Equal(reqs[0].Messages, msgs)
}

func TestRespondRetries(t *testing.T) {
	transient := ai.NewRecoverableError(errors.New("503"), "provider request failed")
	fatal := ai.NewFatalError(errors.New("401"), "provider rejected request")

	tests := []struct {
		name      string
		failures  int
		err       error
		want      string
		wantCalls int
		wantSleep []time.Duration
	}{
		{
			name:      "succeeds after two failures",
			failures:  2,
			err:       transient,
			want:      "Respuesta final.",
			wantCalls: 3,
			wantSleep: []time.Duration{10 * time.Millisecond, 20 * time.Millisecond},
		},
		{
			name:      "gives up after retries",
			failures:  3,
			err:       transient,
			want:      ApologyReply,
			wantCalls: 3,
			wantSleep: []time.Duration{10 * time.Millisecond, 20 * time.Millisecond},
		},
		{
			name:      "fatal error stops early",
			failures:  1,
			err:       fatal,
			want:      ApologyReply,
			wantCalls: 1,
		},
		{
			name:      "unclassified errors are retried",
			failures:  1,
			err:       errors.New("connection reset"),
			want:      "Respuesta final.",
			wantCalls: 2,
			wantSleep: []time.Duration{10 * time.Millisecond},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			provider := fake.NewFakeLLM("Respuesta final.").FailNext(tt.failures, tt.err)
			c, rec := newTestClient(t, provider)

			reply := c.Respond(context.Background(), conversation("Pregunta"), nil)

			is.Equal(reply, tt.want)
			is.Equal(provider.Calls(), tt.wantCalls)
			is.Equal(rec.delays, tt.wantSleep)
		})
	}
}

func TestRespondEmptyCompletion(t *testing.T) {
	is := is.New(t)
	provider := fake.NewFakeLLM().WithDeltas("")
	c, _ := newTestClient(t, provider)

	is.Equal(c.Respond(context.Background(), conversation("Hola"), nil), EmptyReply)
}

func TestRespondThinkingPlaceholder(t *testing.T) {
	is := is.New(t)
	provider := fake.NewFakeLLM("Ya está.").SetFirstChunkDelay(100 * time.Millisecond)
	c, err := New(Config{LLM: provider, ThinkingAfter: 5 * time.Millisecond})
	is.NoErr(err)

	var (
		mu       sync.Mutex
		partials []string
	)
	reply := c.Respond(context.Background(), conversation("Hola"), func(text string) {
		mu.Lock()
		defer mu.Unlock()
		partials = append(partials, text)
	})

	mu.Lock()
	defer mu.Unlock()
	is.Equal(reply, "Ya está.")
	is.True(len(partials) >= 2)
	is.Equal(partials[0], ThinkingReply)
	is.Equal(partials[len(partials)-1], "Ya está.")
}

func TestRespondShortCircuitsRepeats(t *testing.T) {
	is := is.New(t)
	provider := fake.NewFakeLLM("Respuesta.")
	c, _ := newTestClient(t, provider)

	msg := "¿Cuál es el horario de atención?"
	is.Equal(c.Respond(context.Background(), conversation(msg), nil), "Respuesta.")
	is.Equal(c.Respond(context.Background(), conversation(msg), nil), "Respuesta.") // 2nd still goes out
	is.Equal(c.Respond(context.Background(), conversation(msg), nil), RepeatReply)
	is.Equal(provider.Calls(), 2)

	c.ResetRepetitions()
	is.Equal(c.Respond(context.Background(), conversation(msg), nil), "Respuesta.")
}

func TestRespondCancelledContext(t *testing.T) {
	is := is.New(t)
	provider := fake.NewFakeLLM().FailNext(1, errors.New("boom"))
	c, _ := newTestClient(t, provider)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	is.Equal(c.Respond(ctx, conversation("Hola"), nil), ApologyReply)
	is.Equal(provider.Calls(), 1)
}
