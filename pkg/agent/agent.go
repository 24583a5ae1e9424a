// Package agent implements the conversation turn-taking state machine that
// moves a voice assistant through Idle → Listening → Processing → Speaking.
//
// All state lives on a single event loop. Recognizer events, microphone
// levels, timer fires, async chat/synthesis results, playback completion and
// host commands are all delivered to that loop, so no two turns can ever be
// in flight for the same conversation.
package agent

import (
	"context"
	"expvar"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chriscow/simon-go/pkg/ai/llm"
	"github.com/chriscow/simon-go/pkg/ai/stt"
	"github.com/chriscow/simon-go/pkg/avatar"
	"github.com/chriscow/simon-go/pkg/chat"
	"github.com/chriscow/simon-go/pkg/playback"
	"github.com/chriscow/simon-go/pkg/speech"
	"github.com/chriscow/simon-go/pkg/voice"
)

// ContinuationPhrase prefixes the reply that follows an interrupted one.
const ContinuationPhrase = "Como te decía, "

// State represents the current conversation phase.
type State int32

const (
	StateIdle State = iota
	StateListening
	StateProcessing
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Animation returns the avatar animation played on entering s.
func (s State) Animation() string {
	switch s {
	case StateListening:
		return avatar.AnimListening
	case StateProcessing:
		return avatar.AnimThinking
	case StateSpeaking:
		return avatar.AnimTalking
	default:
		return avatar.AnimIdle
	}
}

// Responder produces assistant replies. *chat.Client implements it.
type Responder interface {
	Respond(ctx context.Context, msgs []llm.Message, onPartial chat.PartialFunc) string
}

// Synthesizer turns reply text into audio. *speech.Client implements it.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string, onProgress speech.ProgressFunc) []byte
	ClearCache()
}

// Permissions gates microphone use. *session.Session implements it.
type Permissions interface {
	Granted() bool
	Request(ctx context.Context) error
	Revoke(reason error)
	Cooldown() time.Duration
	UnlockAudio(ctx context.Context) error
}

// Animator receives conversation phase animations. *avatar.Bridge
// implements it.
type Animator interface {
	Enter(anim string)
}

// Observer is notified of every state transition.
type Observer func(State)

// TextFunc receives transcripts or reply text; final is false for interim
// transcripts and streaming partial replies.
type TextFunc func(text string, final bool)

// Config holds configuration for creating an Agent.
type Config struct {
	Recognizer stt.Recognizer
	Chat       Responder
	Speech     Synthesizer
	Player     playback.Player
	Session    Permissions

	// Optional collaborators.
	Avatar Animator
	Levels <-chan float64 // microphone levels in 0..1, one per ~50ms

	OnState      Observer
	OnTranscript TextFunc
	OnReply      TextFunc

	SystemPrompt string
	MaxTurns     int
	Voice        string
	Language     string

	ListenDebounce          time.Duration
	NoSpeechRestart         time.Duration
	ErrorRestart            time.Duration
	ListenTimeout           time.Duration
	DeferredPlaybackTimeout time.Duration
	MinTranscriptChars      int

	BargeInThreshold     float64
	BargeInSamples       int
	InterruptMinPlayed   time.Duration
	InterruptMaxProgress float64

	Logger *slog.Logger
}

// Defaults applied by New to zero Config fields.
const (
	DefaultListenDebounce          = 300 * time.Millisecond
	DefaultNoSpeechRestart         = 300 * time.Millisecond
	DefaultErrorRestart            = 1500 * time.Millisecond
	DefaultListenTimeout           = 15 * time.Second
	DefaultDeferredPlaybackTimeout = 10 * time.Second
	DefaultMinTranscriptChars      = 2
	DefaultBargeInThreshold        = 0.15
	DefaultBargeInSamples          = 3
	DefaultInterruptMinPlayed      = time.Second
	DefaultInterruptMaxProgress    = 0.85
	DefaultLanguage                = "es-ES"
)

// Agent runs one conversation.
type Agent struct {
	cfg    Config
	rec    stt.Recognizer
	chat   Responder
	speech Synthesizer
	player playback.Player
	perms  Permissions
	logger *slog.Logger

	// State management
	state   atomic.Int32
	history *llm.Context

	// Control channels
	events       chan event
	done         chan struct{}
	shutdownOnce sync.Once
	running      atomic.Bool

	// Loop-owned state; only the run goroutine touches these.
	loop loopState

	metrics *AgentMetrics
}

// AgentMetrics holds conversation metrics.
type AgentMetrics struct {
	ReplyLatency      *expvar.Float // ms from final transcript to playback start, last turn
	Turns             *expvar.Int
	BargeIns          *expvar.Int
	StateTransitions  *expvar.Map
	RecognitionErrors *expvar.Map
}

// New creates a new Agent with the given configuration.
func New(cfg Config) (*Agent, error) {
	if cfg.Recognizer == nil {
		return nil, fmt.Errorf("recognizer is required")
	}
	if cfg.Chat == nil {
		return nil, fmt.Errorf("chat client is required")
	}
	if cfg.Speech == nil {
		return nil, fmt.Errorf("speech client is required")
	}
	if cfg.Player == nil {
		return nil, fmt.Errorf("player is required")
	}
	if cfg.Session == nil {
		return nil, fmt.Errorf("session is required")
	}
	applyDefaults(&cfg)

	a := &Agent{
		cfg:     cfg,
		rec:     cfg.Recognizer,
		chat:    cfg.Chat,
		speech:  cfg.Speech,
		player:  cfg.Player,
		perms:   cfg.Session,
		logger:  cfg.Logger.With(slog.String("component", "agent")),
		history: llm.NewContext(cfg.SystemPrompt, cfg.MaxTurns),
		events:  make(chan event, 64),
		done:    make(chan struct{}),
		metrics: newAgentMetrics(),
	}
	a.loop.timers = newTimerSet(a.post)
	a.loop.bargeIn = voice.NewBargeInDetector(cfg.BargeInThreshold, cfg.BargeInSamples)
	a.state.Store(int32(StateIdle))
	return a, nil
}

func applyDefaults(cfg *Config) {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = chat.DefaultSystemPrompt
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = llm.DefaultMaxTurns
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.ListenDebounce <= 0 {
		cfg.ListenDebounce = DefaultListenDebounce
	}
	if cfg.NoSpeechRestart <= 0 {
		cfg.NoSpeechRestart = DefaultNoSpeechRestart
	}
	if cfg.ErrorRestart <= 0 {
		cfg.ErrorRestart = DefaultErrorRestart
	}
	if cfg.ListenTimeout <= 0 {
		cfg.ListenTimeout = DefaultListenTimeout
	}
	if cfg.DeferredPlaybackTimeout <= 0 {
		cfg.DeferredPlaybackTimeout = DefaultDeferredPlaybackTimeout
	}
	if cfg.MinTranscriptChars <= 0 {
		cfg.MinTranscriptChars = DefaultMinTranscriptChars
	}
	if cfg.BargeInThreshold <= 0 {
		cfg.BargeInThreshold = DefaultBargeInThreshold
	}
	if cfg.BargeInSamples <= 0 {
		cfg.BargeInSamples = DefaultBargeInSamples
	}
	if cfg.InterruptMinPlayed <= 0 {
		cfg.InterruptMinPlayed = DefaultInterruptMinPlayed
	}
	if cfg.InterruptMaxProgress <= 0 {
		cfg.InterruptMaxProgress = DefaultInterruptMaxProgress
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
}

// Start runs the event loop until ctx is cancelled or Close is called.
func (a *Agent) Start(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return fmt.Errorf("agent already started")
	}
	return a.run(ctx)
}

// Close shuts the agent down.
func (a *Agent) Close() error {
	a.shutdownOnce.Do(func() {
		close(a.done)
	})
	return nil
}

// GetState returns the current state of the agent.
func (a *Agent) GetState() State {
	return State(a.state.Load())
}

// History returns the conversation window sent with every chat request.
func (a *Agent) History() []llm.Message {
	return a.history.Messages()
}

// Metrics returns the agent's metrics.
func (a *Agent) Metrics() *AgentMetrics {
	return a.metrics
}

// Interrupt stops the current reply and listens again. Processing and
// speaking turns are superseded; a late reply is dropped.
func (a *Agent) Interrupt() { a.post(event{kind: evInterrupt}) }

// StartListening re-enables automatic listening and listens right away
// when idle.
func (a *Agent) StartListening() { a.post(event{kind: evStartListening}) }

// StopListening stops recognition and suppresses automatic listening until
// StartListening.
func (a *Agent) StopListening() { a.post(event{kind: evStopListening}) }

// SetMuted mutes or unmutes the assistant. Muting stops playback and
// recognition and keeps the agent idle.
func (a *Agent) SetMuted(muted bool) { a.post(event{kind: evMute, muted: muted}) }

// UserGesture reports a user interaction. It unlocks audio output and
// plays a reply that autoplay policy held back.
func (a *Agent) UserGesture() { a.post(event{kind: evGesture}) }

// ClearCache empties the synthesized audio cache.
func (a *Agent) ClearCache() { a.speech.ClearCache() }

// post hands an event to the loop. It gives up once the agent is closed.
func (a *Agent) post(e event) {
	select {
	case a.events <- e:
	case <-a.done:
	}
}

// Publish registers the metrics in the global expvar namespace under prefix.
// Call it at most once per process for a given prefix.
func (m *AgentMetrics) Publish(prefix string) {
	expvar.Publish(prefix+".reply_latency_ms", m.ReplyLatency)
	expvar.Publish(prefix+".turns", m.Turns)
	expvar.Publish(prefix+".barge_ins", m.BargeIns)
	expvar.Publish(prefix+".state_transitions", m.StateTransitions)
	expvar.Publish(prefix+".recognition_errors", m.RecognitionErrors)
}

// newAgentMetrics creates metrics without global registration so tests can
// build many agents.
func newAgentMetrics() *AgentMetrics {
	transitions := &expvar.Map{}
	transitions.Init()
	recErrors := &expvar.Map{}
	recErrors.Init()

	return &AgentMetrics{
		ReplyLatency:      &expvar.Float{},
		Turns:             &expvar.Int{},
		BargeIns:          &expvar.Int{},
		StateTransitions:  transitions,
		RecognitionErrors: recErrors,
	}
}
