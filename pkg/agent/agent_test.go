package agent

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/chriscow/simon-go/pkg/ai"
	"github.com/chriscow/simon-go/pkg/ai/llm"
	llmfake "github.com/chriscow/simon-go/pkg/ai/llm/fake"
	"github.com/chriscow/simon-go/pkg/ai/stt"
	sttfake "github.com/chriscow/simon-go/pkg/ai/stt/fake"
	ttsfake "github.com/chriscow/simon-go/pkg/ai/tts/fake"
	"github.com/chriscow/simon-go/pkg/chat"
	playfake "github.com/chriscow/simon-go/pkg/playback/fake"
	"github.com/chriscow/simon-go/pkg/session"
	"github.com/chriscow/simon-go/pkg/speech"
)

const waitTimeout = 2 * time.Second

func noSleep(context.Context, time.Duration) error { return nil }

// scriptedMic answers permission prompts from a list; once exhausted it
// grants access.
type scriptedMic struct {
	mu      sync.Mutex
	results []error
	calls   int
}

func (m *scriptedMic) Request(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.results) == 0 {
		return nil
	}
	err := m.results[0]
	m.results = m.results[1:]
	return err
}

func (m *scriptedMic) push(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, errs...)
}

func (m *scriptedMic) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type harness struct {
	t      *testing.T
	agent  *Agent
	rec    stt.Recognizer
	llm    *llmfake.FakeLLM
	tts    *ttsfake.FakeTTS
	speech *speech.Client
	player *playfake.FakePlayer
	mic    *scriptedMic
	levels chan float64
	states chan State
	replies chan string
	errc   chan error
	cancel context.CancelFunc
}

type harnessOption func(*harness, *Config)

func withRecognizer(r stt.Recognizer) harnessOption {
	return func(h *harness, cfg *Config) {
		h.rec = r
		cfg.Recognizer = r
	}
}

func withLLM(l *llmfake.FakeLLM) harnessOption {
	return func(h *harness, cfg *Config) { h.llm = l }
}

func withMic(errs ...error) harnessOption {
	return func(h *harness, cfg *Config) { h.mic.push(errs...) }
}

func withConfig(fn func(*Config)) harnessOption {
	return func(h *harness, cfg *Config) { fn(cfg) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	rec := sttfake.NewFakeRecognizer()
	h := &harness{
		t:       t,
		rec:     rec,
		llm:     llmfake.NewFakeLLM("Hola, soy Simón.", "Claro, con gusto te explico.", "Con mucho gusto."),
		tts:     ttsfake.NewFakeTTS(),
		player:  playfake.NewFakePlayer(5 * time.Second),
		mic:     &scriptedMic{},
		levels:  make(chan float64),
		states:  make(chan State, 1024),
		replies: make(chan string, 64),
		errc:    make(chan error, 1),
	}

	cfg := Config{
		Recognizer:              rec,
		Player:                  h.player,
		Levels:                  h.levels,
		ListenDebounce:          5 * time.Millisecond,
		NoSpeechRestart:         5 * time.Millisecond,
		ErrorRestart:            20 * time.Millisecond,
		ListenTimeout:           time.Second,
		DeferredPlaybackTimeout: 200 * time.Millisecond,
		OnState:                 func(s State) { h.states <- s },
		OnReply: func(text string, final bool) {
			if final {
				h.replies <- text
			}
		},
	}
	for _, opt := range opts {
		opt(h, &cfg)
	}

	chatClient, err := chat.New(chat.Config{LLM: h.llm, ThinkingAfter: 5 * time.Second, Sleep: noSleep})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	h.speech, err = speech.New(speech.Config{TTS: h.tts, Sleep: noSleep})
	if err != nil {
		t.Fatalf("speech: %v", err)
	}
	sess, err := session.New(session.Config{
		Microphone: h.mic,
		Unlocker:   h.player,
		Cooldown:   50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	cfg.Chat = chatClient
	cfg.Speech = h.speech
	cfg.Session = sess

	h.agent, err = New(cfg)
	if err != nil {
		t.Fatalf("agent: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.errc <- h.agent.Start(ctx) }()
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.cancel()
	select {
	case <-h.errc:
	case <-time.After(waitTimeout):
		h.t.Errorf("agent did not stop")
	}
}

// expectStates consumes state notifications and requires them in order.
func (h *harness) expectStates(want ...State) {
	h.t.Helper()
	for _, w := range want {
		select {
		case got := <-h.states:
			if got != w {
				h.t.Fatalf("state = %s, want %s", got, w)
			}
		case <-time.After(waitTimeout):
			h.t.Fatalf("timed out waiting for state %s", w)
		}
	}
}

// waitState skips notifications until s arrives.
func (h *harness) waitState(s State) {
	h.t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case got := <-h.states:
			if got == s {
				return
			}
		case <-deadline:
			h.t.Fatalf("timed out waiting for state %s (now %s)", s, h.agent.GetState())
		}
	}
}

// quiet requires that no state change happens for d.
func (h *harness) quiet(d time.Duration) {
	h.t.Helper()
	select {
	case got := <-h.states:
		h.t.Fatalf("unexpected transition to %s", got)
	case <-time.After(d):
	}
}

func (h *harness) clip() *playfake.FakePlayback {
	h.t.Helper()
	select {
	case c := <-h.player.Started():
		return c
	case <-time.After(waitTimeout):
		h.t.Fatalf("no clip started")
		return nil
	}
}

func (h *harness) reply() string {
	h.t.Helper()
	select {
	case r := <-h.replies:
		return r
	case <-time.After(waitTimeout):
		h.t.Fatalf("no reply")
		return ""
	}
}

func (h *harness) say(text string) {
	h.t.Helper()
	if !h.rec.(*sttfake.FakeRecognizer).Say(text) {
		h.t.Fatalf("recognizer not listening")
	}
}

func (h *harness) fail(code stt.ErrorCode) {
	h.t.Helper()
	if !h.rec.(*sttfake.FakeRecognizer).Fail(code) {
		h.t.Fatalf("recognizer not listening")
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out: %s", msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAgent_New(t *testing.T) {
	valid := func() Config {
		chatClient, _ := chat.New(chat.Config{LLM: llmfake.NewFakeLLM()})
		speechClient, _ := speech.New(speech.Config{TTS: ttsfake.NewFakeTTS()})
		sess, _ := session.New(session.Config{Microphone: &scriptedMic{}})
		return Config{
			Recognizer: sttfake.NewFakeRecognizer(),
			Chat:       chatClient,
			Speech:     speechClient,
			Player:     playfake.NewFakePlayer(time.Second),
			Session:    sess,
		}
	}

	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "missing recognizer", mutate: func(c *Config) { c.Recognizer = nil }, expectError: true},
		{name: "missing chat", mutate: func(c *Config) { c.Chat = nil }, expectError: true},
		{name: "missing speech", mutate: func(c *Config) { c.Speech = nil }, expectError: true},
		{name: "missing player", mutate: func(c *Config) { c.Player = nil }, expectError: true},
		{name: "missing session", mutate: func(c *Config) { c.Session = nil }, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			agent, err := New(cfg)
			if tt.expectError {
				if err == nil {
					t.Errorf("expected error, got nil")
				}
				if agent != nil {
					t.Errorf("expected nil agent, got %v", agent)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if agent.GetState() != StateIdle {
				t.Errorf("expected initial state idle, got %s", agent.GetState())
			}
			if agent.cfg.Language != DefaultLanguage {
				t.Errorf("expected default language, got %q", agent.cfg.Language)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
		anim  string
	}{
		{StateIdle, "idle", "idle"},
		{StateListening, "listening", "listening"},
		{StateProcessing, "processing", "thinking"},
		{StateSpeaking, "speaking", "talking"},
		{State(42), "unknown(42)", "idle"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
		if got := tt.state.Animation(); got != tt.anim {
			t.Errorf("State(%d).Animation() = %q, want %q", tt.state, got, tt.anim)
		}
	}
}

func TestStartTwice(t *testing.T) {
	h := newHarness(t)
	h.expectStates(StateListening)
	if err := h.agent.Start(context.Background()); err == nil {
		t.Fatal("expected error starting a running agent")
	}
}

func TestConversationTurn(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)

	h.expectStates(StateListening)
	is.Equal(h.rec.(*sttfake.FakeRecognizer).Config().Language, "es-ES")

	h.say("hola Simón")
	h.expectStates(StateProcessing)
	is.Equal(h.reply(), "Hola, soy Simón.")

	clip := h.clip()
	h.expectStates(StateSpeaking)
	is.Equal(h.agent.Metrics().Turns.Value(), int64(1))

	clip.Finish()
	h.expectStates(StateIdle, StateListening)

	history := h.agent.History()
	is.Equal(len(history), 3)
	is.Equal(history[0].Role, llm.RoleSystem)
	is.Equal(history[1], llm.Message{Role: llm.RoleUser, Content: "hola Simón"})
	is.Equal(history[2], llm.Message{Role: llm.RoleAssistant, Content: "Hola, soy Simón."})

	reqs := h.tts.Requests()
	is.Equal(len(reqs), 1)
	is.Equal(reqs[0].Text, "Hola, soy Simón.")
	_, cached := h.speech.Cache().Get("Hola, soy Simón.")
	is.True(cached)

	// the chat request carried the system prompt and the user message
	chatReqs := h.llm.Requests()
	is.Equal(len(chatReqs), 1)
	is.Equal(llm.LastUser(chatReqs[0].Messages), "hola Simón")
}

func TestShortTranscriptIgnored(t *testing.T) {
	h := newHarness(t)
	h.expectStates(StateListening)

	h.say("a")
	h.quiet(50 * time.Millisecond)
	if h.llm.Calls() != 0 {
		t.Fatalf("expected no chat calls, got %d", h.llm.Calls())
	}
}

func TestBargeIn(t *testing.T) {
	tests := []struct {
		name         string
		position     time.Duration
		continuation bool
	}{
		{name: "mid reply", position: 2 * time.Second, continuation: true},
		{name: "late but under threshold", position: 4 * time.Second, continuation: true},
		{name: "barely started", position: 500 * time.Millisecond, continuation: false},
		{name: "nearly finished", position: 4500 * time.Millisecond, continuation: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			h := newHarness(t)
			h.expectStates(StateListening)

			h.say("cuéntame de Nexa Digital")
			h.expectStates(StateProcessing)
			h.reply()
			clip := h.clip()
			h.expectStates(StateSpeaking)

			clip.SetPosition(tt.position)
			for range DefaultBargeInSamples {
				h.levels <- 0.5
			}
			h.expectStates(StateListening)
			is.True(clip.Paused())
			is.Equal(h.agent.Metrics().BargeIns.Value(), int64(1))

			h.say("y cuánto cuesta")
			h.expectStates(StateProcessing)
			second := h.reply()
			is.Equal(strings.HasPrefix(second, ContinuationPhrase), tt.continuation)
			h.clip()
			h.expectStates(StateSpeaking)

			// the context keeps what the model said, without the marker
			history := h.agent.History()
			is.Equal(history[len(history)-1].Content, "Claro, con gusto te explico.")

			reqs := h.tts.Requests()
			is.Equal(strings.HasPrefix(reqs[len(reqs)-1].Text, ContinuationPhrase), tt.continuation)
		})
	}
}

func TestQuietLevelsDoNotInterrupt(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)
	h.expectStates(StateListening)
	h.say("hola Simón")
	h.expectStates(StateProcessing)
	clip := h.clip()
	h.expectStates(StateSpeaking)

	// a loud sample between quiet ones resets the run
	for _, level := range []float64{0.5, 0.5, 0.05, 0.5, 0.5, 0.1} {
		h.levels <- level
	}
	h.quiet(30 * time.Millisecond)
	is.True(!clip.Paused())
	is.Equal(h.agent.GetState(), StateSpeaking)
}

func TestInterruptWhileProcessing(t *testing.T) {
	is := is.New(t)
	slow := llmfake.NewFakeLLM("Respuesta tardía.").SetFirstChunkDelay(150 * time.Millisecond)
	h := newHarness(t, withLLM(slow))
	h.expectStates(StateListening)

	h.say("una pregunta larga")
	h.expectStates(StateProcessing)
	h.agent.Interrupt()
	h.expectStates(StateListening)

	// the late reply is dropped
	h.quiet(300 * time.Millisecond)
	is.Equal(len(h.player.Clips()), 0)
	is.Equal(len(h.replies), 0)
	history := h.agent.History()
	is.Equal(history[len(history)-1].Role, llm.RoleUser)
}

func TestRecognitionRestarts(t *testing.T) {
	tests := []struct {
		name string
		code stt.ErrorCode
	}{
		{name: "no speech", code: stt.CodeNoSpeech},
		{name: "network", code: stt.CodeOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			h := newHarness(t)
			h.expectStates(StateListening)

			h.fail(tt.code)
			h.expectStates(StateIdle, StateListening)
			is.Equal(h.rec.(*sttfake.FakeRecognizer).Starts(), 2)
			is.Equal(h.mic.Calls(), 1)

			errs := h.agent.Metrics().RecognitionErrors.Get(string(tt.code))
			is.True(errs != nil)
			is.Equal(errs.String(), "1")
		})
	}
}

func TestPermissionRevokedAndRequestedAgain(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)
	h.expectStates(StateListening)

	h.mic.push(session.ErrPermissionDenied)
	revoked := time.Now()
	h.fail(stt.CodeNotAllowed)
	h.expectStates(StateIdle)

	// one denied prompt after the cooldown, then a granted one after another
	h.expectStates(StateListening)
	is.True(time.Since(revoked) >= 100*time.Millisecond)
	is.Equal(h.mic.Calls(), 3)
	is.Equal(h.rec.(*sttfake.FakeRecognizer).Starts(), 2)
}

func TestPermissionDeniedAtStartup(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, withMic(session.ErrPermissionDenied))

	h.expectStates(StateListening)
	is.Equal(h.mic.Calls(), 2)
}

func TestListenWatchdog(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, withConfig(func(cfg *Config) {
		cfg.ListenTimeout = 50 * time.Millisecond
	}))

	h.expectStates(StateListening, StateIdle, StateListening)
	is.True(h.rec.(*sttfake.FakeRecognizer).Starts() >= 2)
}

func TestMute(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)
	h.expectStates(StateListening)
	h.say("hola Simón")
	h.expectStates(StateProcessing)
	clip := h.clip()
	h.expectStates(StateSpeaking)

	h.agent.SetMuted(true)
	h.expectStates(StateIdle)
	is.True(clip.Paused())
	h.quiet(50 * time.Millisecond)
	is.True(!h.rec.(*sttfake.FakeRecognizer).Listening())

	h.agent.SetMuted(false)
	h.expectStates(StateListening)
}

func TestStopAndStartListening(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)
	h.expectStates(StateListening)

	h.agent.StopListening()
	h.expectStates(StateIdle)
	h.quiet(50 * time.Millisecond)
	is.True(!h.rec.(*sttfake.FakeRecognizer).Listening())

	h.agent.StartListening()
	h.expectStates(StateListening)
}

func TestAutoplayBlockedWaitsForGesture(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)
	h.player.BlockAutoplay()
	h.expectStates(StateListening)

	h.say("hola Simón")
	h.expectStates(StateProcessing)
	h.reply()
	h.quiet(30 * time.Millisecond)
	is.Equal(len(h.player.Clips()), 0)

	h.agent.UserGesture()
	clip := h.clip()
	h.expectStates(StateSpeaking)
	is.Equal(len(clip.Audio) > 0, true)
}

func TestAutoplayBlockedGivesUp(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)
	h.player.BlockAutoplay()
	h.expectStates(StateListening)

	h.say("hola Simón")
	h.expectStates(StateProcessing)
	h.reply()
	h.expectStates(StateIdle, StateListening)
	is.Equal(len(h.player.Clips()), 0)
}

// chanRecognizer lets a test deliver arbitrary recognition events.
type chanRecognizer struct {
	events chan stt.Event
}

func (r *chanRecognizer) Start(ctx context.Context, cfg stt.Config) error { return nil }
func (r *chanRecognizer) Stop() error                                     { return nil }
func (r *chanRecognizer) Events() <-chan stt.Event                        { return r.events }

func TestFinalsQueueBehindOneChatCall(t *testing.T) {
	is := is.New(t)
	rec := &chanRecognizer{events: make(chan stt.Event, 8)}
	l := llmfake.NewFakeLLM("Primera respuesta.", "Segunda respuesta.").SetFirstChunkDelay(50 * time.Millisecond)
	h := newHarness(t, withRecognizer(rec), withLLM(l))
	h.expectStates(StateListening)

	rec.events <- stt.Event{Type: stt.EventResult, Text: "primera pregunta", Final: true}
	rec.events <- stt.Event{Type: stt.EventResult, Text: "segunda pregunta", Final: true}
	h.expectStates(StateProcessing)
	is.Equal(h.reply(), "Primera respuesta.")

	h.clip().Finish()
	h.expectStates(StateSpeaking, StateIdle, StateProcessing)
	is.Equal(h.reply(), "Segunda respuesta.")
	h.clip()
	h.expectStates(StateSpeaking)

	is.Equal(l.MaxInFlight(), 1)
	is.Equal(l.Calls(), 2)
}

func TestSynthesisFailureUsesFallback(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)
	is.NoErr(h.speech.Prime(context.Background(), speech.FallbackPhrase))
	h.tts.FailNext(10, ai.NewRecoverableError(context.DeadlineExceeded, "timeout"))
	h.expectStates(StateListening)

	h.say("hola Simón")
	h.expectStates(StateProcessing)
	clip := h.clip()
	h.expectStates(StateSpeaking)
	is.Equal(clip.Audio, h.speech.Fallback())
}

func TestSynthesisFailureWithoutFallbackReturnsToIdle(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)
	h.tts.FailNext(10, ai.NewRecoverableError(context.DeadlineExceeded, "timeout"))
	h.expectStates(StateListening)

	h.say("hola Simón")
	h.expectStates(StateProcessing, StateIdle, StateListening)
	is.Equal(len(h.player.Clips()), 0)
}

func TestClearCache(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)
	h.expectStates(StateListening)
	h.say("hola Simón")
	h.expectStates(StateProcessing)
	h.clip().Finish()
	h.expectStates(StateSpeaking, StateIdle, StateListening)
	is.Equal(h.speech.Cache().Len(), 1)

	h.agent.ClearCache()
	is.Equal(h.speech.Cache().Len(), 0)
}

func TestStateTransitionMetrics(t *testing.T) {
	h := newHarness(t)
	h.expectStates(StateListening)
	h.say("hola Simón")
	h.expectStates(StateProcessing)

	eventually(t, func() bool {
		v := h.agent.Metrics().StateTransitions.Get("listening_to_processing")
		return v != nil && v.String() == "1"
	}, "listening_to_processing recorded")
}
