package agent

import (
	"context"
	"errors"
	"expvar"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/chriscow/simon-go/pkg/ai/stt"
	"github.com/chriscow/simon-go/pkg/playback"
	"github.com/chriscow/simon-go/pkg/session"
	"github.com/chriscow/simon-go/pkg/voice"
)

type eventKind int

const (
	evTimer eventKind = iota
	evPartial
	evReply
	evPlaybackDone
	evPermission
	evInterrupt
	evStartListening
	evStopListening
	evMute
	evGesture
)

type event struct {
	kind eventKind

	timer timerKind
	gen   uint64

	turn  uint64
	text  string // transcript, partial or spoken reply
	reply string // reply as produced by the chat client
	audio []byte
	err   error
	muted bool
}

// loopState is owned by the run goroutine.
type loopState struct {
	timers  *timerSet
	bargeIn *voice.BargeInDetector

	// turn numbers chat/playback work; bumping it supersedes whatever is
	// in flight so late results are dropped.
	turn        uint64
	turnID      string
	turnStarted time.Time
	inflight    bool
	queue       []string
	marker      string

	playback    playback.Playback
	pending     []byte
	pendingTurn uint64

	recRunning bool
	expectEnd  int

	muted          bool
	stopped        bool
	requesting     bool
	permissionWait time.Duration
}

// run is the main agent loop that processes events and manages state transitions.
func (a *Agent) run(ctx context.Context) error {
	defer a.Close()
	defer a.teardown()

	a.logger.Info("conversation started", slog.String("language", a.cfg.Language))
	a.scheduleListen(a.cfg.ListenDebounce)

	recEvents := a.rec.Events()
	levels := a.cfg.Levels
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.done:
			return nil
		case e := <-a.events:
			a.handleEvent(ctx, e)
		case re, ok := <-recEvents:
			if !ok {
				recEvents = nil
				continue
			}
			a.handleRecognition(ctx, re)
		case level, ok := <-levels:
			if !ok {
				levels = nil
				continue
			}
			a.handleLevel(ctx, level)
		}
	}
}

func (a *Agent) teardown() {
	l := &a.loop
	l.timers.cancelAll()
	if l.playback != nil {
		l.playback.Pause()
		l.playback = nil
	}
	a.stopRecognizer()
	a.logger.Info("conversation ended")
}

func (a *Agent) handleEvent(ctx context.Context, e event) {
	l := &a.loop
	switch e.kind {
	case evTimer:
		a.handleTimer(ctx, e)
	case evPartial:
		if e.turn == l.turn && a.GetState() == StateProcessing && a.cfg.OnReply != nil {
			a.cfg.OnReply(e.text, false)
		}
	case evReply:
		a.handleReply(ctx, e)
	case evPlaybackDone:
		a.handlePlaybackDone(ctx, e)
	case evPermission:
		a.handlePermission(e.err)
	case evInterrupt:
		a.interrupt(ctx)
	case evStartListening:
		l.stopped = false
		if a.GetState() == StateIdle {
			a.listen(ctx)
		}
	case evStopListening:
		l.stopped = true
		l.timers.stop(timerListen)
		if a.GetState() == StateListening {
			a.enterIdle(ctx, 0)
		}
	case evMute:
		a.setMuted(ctx, e.muted)
	case evGesture:
		a.handleGesture(ctx)
	}
}

// setState records a transition and, when the state actually changes,
// cancels every pending timer before notifying the avatar and observer.
func (a *Agent) setState(s State) {
	old := State(a.state.Swap(int32(s)))
	if old == s {
		return
	}
	a.loop.timers.cancelAll()

	transitionKey := old.String() + "_to_" + s.String()
	if counter := a.metrics.StateTransitions.Get(transitionKey); counter != nil {
		counter.(*expvar.Int).Add(1)
	} else {
		newCounter := &expvar.Int{}
		newCounter.Set(1)
		a.metrics.StateTransitions.Set(transitionKey, newCounter)
	}

	a.logger.Debug("state transition",
		slog.String("from", old.String()),
		slog.String("to", s.String()))

	if a.cfg.Avatar != nil {
		a.cfg.Avatar.Enter(s.Animation())
	}
	if a.cfg.OnState != nil {
		a.cfg.OnState(s)
	}
}

// scheduleListen arms the idle → listening transition, or a permission
// prompt when the microphone is not available.
func (a *Agent) scheduleListen(d time.Duration) {
	l := &a.loop
	switch {
	case l.muted || l.stopped:
	case !a.perms.Granted():
		if !l.requesting && !l.timers.armed(timerPermission) {
			l.timers.arm(timerPermission, l.permissionWait)
		}
	default:
		l.timers.arm(timerListen, d)
	}
}

// enterIdle ends whatever was happening. Queued transcripts are processed
// right away; otherwise listening resumes after d.
func (a *Agent) enterIdle(ctx context.Context, d time.Duration) {
	a.stopRecognizer()
	a.setState(StateIdle)
	if len(a.loop.queue) > 0 && !a.loop.muted {
		a.beginProcessing(ctx)
		return
	}
	a.scheduleListen(d)
}

// listen starts recognition. It is reached from idle or, on barge-in,
// from speaking.
func (a *Agent) listen(ctx context.Context) {
	l := &a.loop
	if l.muted || l.stopped || !a.perms.Granted() {
		a.enterIdle(ctx, a.cfg.ListenDebounce)
		return
	}
	if err := a.startRecognizer(ctx); err != nil {
		a.logger.Warn("failed to start recognizer", slog.String("error", err.Error()))
		a.enterIdle(ctx, a.cfg.ErrorRestart)
		return
	}
	a.setState(StateListening)
	l.timers.arm(timerWatchdog, a.cfg.ListenTimeout)
}

func (a *Agent) startRecognizer(ctx context.Context) error {
	l := &a.loop
	if l.recRunning {
		return nil
	}
	err := a.rec.Start(ctx, stt.Config{
		Language:       a.cfg.Language,
		InterimResults: true,
	})
	if err != nil && !errors.Is(err, stt.ErrAlreadyStarted) {
		return err
	}
	l.recRunning = true
	return nil
}

func (a *Agent) stopRecognizer() {
	l := &a.loop
	if !l.recRunning {
		return
	}
	l.recRunning = false
	l.expectEnd++
	if err := a.rec.Stop(); err != nil {
		a.logger.Warn("failed to stop recognizer", slog.String("error", err.Error()))
	}
}

func (a *Agent) handleRecognition(ctx context.Context, e stt.Event) {
	l := &a.loop
	state := a.GetState()

	switch e.Type {
	case stt.EventStart:
		if state == StateListening {
			l.timers.arm(timerWatchdog, a.cfg.ListenTimeout)
		}

	case stt.EventResult:
		if state == StateListening {
			l.timers.arm(timerWatchdog, a.cfg.ListenTimeout)
		}
		text := strings.TrimSpace(e.Text)
		if a.cfg.OnTranscript != nil {
			a.cfg.OnTranscript(text, e.Final)
		}
		if !e.Final {
			return
		}
		if utf8.RuneCountInString(text) < a.cfg.MinTranscriptChars {
			a.logger.Debug("ignoring short transcript", slog.String("text", text))
			return
		}
		if l.muted {
			return
		}
		l.queue = append(l.queue, text)
		if state == StateListening || state == StateIdle {
			a.beginProcessing(ctx)
		} else {
			a.logger.Debug("transcript queued", slog.Int("queued", len(l.queue)))
		}

	case stt.EventError:
		if l.recRunning {
			l.recRunning = false
			l.expectEnd++
		}
		a.metrics.RecognitionErrors.Add(string(e.Code), 1)
		if state != StateListening {
			return
		}
		a.handleRecognitionError(ctx, e)

	case stt.EventEnd:
		if l.expectEnd > 0 {
			l.expectEnd--
			return
		}
		l.recRunning = false
		if state == StateListening {
			a.logger.Debug("recognition session ended, restarting")
			a.enterIdle(ctx, a.cfg.ListenDebounce)
		}
	}
}

func (a *Agent) handleRecognitionError(ctx context.Context, e stt.Event) {
	l := &a.loop
	logger := a.logger.With(slog.String("code", string(e.Code)))

	switch {
	case e.Code.IsPermission():
		reason := session.ErrPermissionDenied
		if e.Code == stt.CodeAudioCapture {
			reason = session.ErrMicrophoneUnavailable
		}
		logger.Error("microphone unavailable, pausing recognition")
		a.perms.Revoke(reason)
		l.permissionWait = a.perms.Cooldown()
		a.enterIdle(ctx, 0)
	case e.Code == stt.CodeNoSpeech:
		logger.Debug("no speech detected")
		a.enterIdle(ctx, a.cfg.NoSpeechRestart)
	default:
		logger.Warn("recognition error", slog.Any("error", e.Err))
		a.enterIdle(ctx, a.cfg.ErrorRestart)
	}
}

func (a *Agent) beginProcessing(ctx context.Context) {
	a.stopRecognizer()
	a.setState(StateProcessing)
	a.pump(ctx)
}

// pump starts the next queued turn unless a chat call is still out.
func (a *Agent) pump(ctx context.Context) {
	l := &a.loop
	if l.inflight || len(l.queue) == 0 {
		return
	}
	text := l.queue[0]
	l.queue = l.queue[1:]

	l.turn++
	turn := l.turn
	l.turnID = uuid.NewString()
	l.turnStarted = time.Now()
	l.inflight = true
	prefix := l.marker
	l.marker = ""
	a.metrics.Turns.Add(1)

	a.history.AppendUser(text)
	msgs := a.history.Messages()

	a.turnLogger().Info("processing transcript",
		slog.String("text", text),
		slog.Bool("continuation", prefix != ""))

	go func() {
		reply := a.chat.Respond(ctx, msgs, func(partial string) {
			a.post(event{kind: evPartial, turn: turn, text: prefix + partial})
		})
		spoken := prefix + reply
		audio := a.speech.Synthesize(ctx, spoken, a.cfg.Voice, nil)
		a.post(event{kind: evReply, turn: turn, text: spoken, reply: reply, audio: audio})
	}()
}

func (a *Agent) handleReply(ctx context.Context, e event) {
	l := &a.loop
	l.inflight = false
	logger := a.turnLogger()

	if e.turn != l.turn || a.GetState() != StateProcessing {
		logger.Info("dropping superseded reply", slog.Uint64("turn", e.turn))
		if a.GetState() == StateProcessing {
			a.pump(ctx)
		}
		return
	}

	a.history.AppendAssistant(e.reply)
	if a.cfg.OnReply != nil {
		a.cfg.OnReply(e.text, true)
	}
	if e.audio == nil {
		logger.Warn("reply has no audio")
		a.enterIdle(ctx, a.cfg.ListenDebounce)
		return
	}
	a.play(ctx, e.turn, e.audio)
}

func (a *Agent) play(ctx context.Context, turn uint64, audio []byte) {
	l := &a.loop
	logger := a.turnLogger()

	pb, err := a.player.Play(ctx, audio)
	switch {
	case errors.Is(err, playback.ErrAutoplayBlocked):
		logger.Warn("autoplay blocked, waiting for a user gesture")
		l.pending = audio
		l.pendingTurn = turn
		l.timers.arm(timerDeferred, a.cfg.DeferredPlaybackTimeout)
		return
	case err != nil:
		logger.Error("playback failed", slog.String("error", err.Error()))
		l.pending = nil
		a.enterIdle(ctx, a.cfg.ListenDebounce)
		return
	}

	l.pending = nil
	l.playback = pb
	l.bargeIn.Reset()
	a.metrics.ReplyLatency.Set(float64(time.Since(l.turnStarted).Milliseconds()))
	a.setState(StateSpeaking)
	logger.Info("speaking", slog.Duration("duration", pb.Duration()))

	go func() {
		select {
		case err := <-pb.Done():
			a.post(event{kind: evPlaybackDone, turn: turn, err: err})
		case <-a.done:
		}
	}()
}

func (a *Agent) handlePlaybackDone(ctx context.Context, e event) {
	l := &a.loop
	if e.turn != l.turn || a.GetState() != StateSpeaking {
		return
	}
	l.playback = nil
	if e.err != nil && !errors.Is(e.err, playback.ErrStopped) {
		a.turnLogger().Warn("playback ended with error", slog.String("error", e.err.Error()))
	}
	a.enterIdle(ctx, a.cfg.ListenDebounce)
}

func (a *Agent) handleLevel(ctx context.Context, level float64) {
	l := &a.loop
	switch a.GetState() {
	case StateListening:
		if level > l.bargeIn.Threshold() {
			l.timers.arm(timerWatchdog, a.cfg.ListenTimeout)
		}
	case StateSpeaking:
		if l.bargeIn.Observe(level) {
			a.metrics.BargeIns.Add(1)
			a.turnLogger().Info("barge-in detected", slog.Float64("level", level))
			a.interrupt(ctx)
		}
	}
}

// interrupt cuts the current reply short and listens again.
func (a *Agent) interrupt(ctx context.Context) {
	l := &a.loop
	switch a.GetState() {
	case StateSpeaking:
		a.pausePlayback()
	case StateProcessing:
		l.pending = nil
		l.queue = nil
	default:
		return
	}
	l.turn++
	a.listen(ctx)
}

// pausePlayback stops the current clip and sets the continuation marker
// when the clip was cut off in the middle.
func (a *Agent) pausePlayback() {
	l := &a.loop
	pb := l.playback
	if pb == nil {
		return
	}
	l.playback = nil

	pos := pb.Position()
	progress := playback.Progress(pb)
	pb.Pause()

	if pos > a.cfg.InterruptMinPlayed && progress < a.cfg.InterruptMaxProgress {
		l.marker = ContinuationPhrase
	}
	a.turnLogger().Info("playback interrupted",
		slog.Duration("position", pos),
		slog.Float64("progress", progress),
		slog.Bool("continuation", l.marker != ""))
}

func (a *Agent) setMuted(ctx context.Context, muted bool) {
	l := &a.loop
	if l.muted == muted {
		return
	}
	l.muted = muted
	a.logger.Info("mute changed", slog.Bool("muted", muted))

	if !muted {
		if a.GetState() == StateIdle {
			a.scheduleListen(a.cfg.ListenDebounce)
		}
		return
	}

	if l.playback != nil {
		l.playback.Pause()
		l.playback = nil
	}
	if s := a.GetState(); s == StateProcessing || s == StateSpeaking {
		l.turn++
	}
	l.pending = nil
	l.queue = nil
	l.timers.stop(timerListen)
	a.enterIdle(ctx, 0)
}

func (a *Agent) handleGesture(ctx context.Context) {
	l := &a.loop
	if err := a.perms.UnlockAudio(ctx); err != nil {
		a.logger.Warn("audio unlock failed", slog.String("error", err.Error()))
		return
	}
	if l.pending == nil || l.pendingTurn != l.turn || a.GetState() != StateProcessing {
		return
	}
	audio := l.pending
	l.pending = nil
	a.play(ctx, l.pendingTurn, audio)
}

func (a *Agent) handleTimer(ctx context.Context, e event) {
	l := &a.loop
	if !l.timers.fired(e) {
		return
	}

	switch e.timer {
	case timerListen:
		if a.GetState() == StateIdle {
			a.listen(ctx)
		}
	case timerWatchdog:
		if a.GetState() == StateListening {
			a.logger.Info("no recognizer activity, restarting",
				slog.Duration("timeout", a.cfg.ListenTimeout))
			a.enterIdle(ctx, a.cfg.NoSpeechRestart)
		}
	case timerPermission:
		a.requestPermission(ctx)
	case timerDeferred:
		if l.pending != nil {
			a.turnLogger().Warn("no user gesture, dropping reply audio")
			l.pending = nil
			a.enterIdle(ctx, a.cfg.ListenDebounce)
		}
	}
}

func (a *Agent) requestPermission(ctx context.Context) {
	l := &a.loop
	if l.requesting {
		return
	}
	l.requesting = true
	go func() {
		err := a.perms.Request(ctx)
		a.post(event{kind: evPermission, err: err})
	}()
}

func (a *Agent) handlePermission(err error) {
	l := &a.loop
	l.requesting = false
	if err != nil {
		l.permissionWait = a.perms.Cooldown()
	} else {
		l.permissionWait = 0
	}
	if a.GetState() == StateIdle {
		a.scheduleListen(a.cfg.ListenDebounce)
	}
}

func (a *Agent) turnLogger() *slog.Logger {
	if a.loop.turnID == "" {
		return a.logger
	}
	return a.logger.With(slog.String("turn_id", a.loop.turnID))
}
