// Package hub serves the avatar front end over websockets. Browsers that
// render the 3D scene connect, announce the animations their model has and
// forward user gestures and controls; the hub pushes conversation state,
// transcripts, replies, animation triggers and the spoken reply audio back
// to every connected client.
//
// Text messages are JSON envelopes. Binary messages carry reply audio as
// raw little-endian PCM16, one 10ms frame per message, in the format most
// recently announced by an "audio" message.
package hub

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chriscow/simon-go/pkg/avatar"
	"github.com/chriscow/simon-go/pkg/rtc"
)

// Message types exchanged with clients.
const (
	TypeHello      = "hello"
	TypeState      = "state"
	TypeTranscript = "transcript"
	TypeReply      = "reply"
	TypeAnimation  = "animation"
	TypeAudio      = "audio"

	TypeScene          = "scene"
	TypeGesture        = "gesture"
	TypeMute           = "mute"
	TypeInterrupt      = "interrupt"
	TypeStartListening = "start_listening"
	TypeStopListening  = "stop_listening"
	TypeClearCache     = "clear_cache"
)

// Message is the single JSON envelope used in both directions.
type Message struct {
	Type       string   `json:"type"`
	ID         string   `json:"id,omitempty"`
	State      string   `json:"state,omitempty"`
	Text       string   `json:"text,omitempty"`
	Final      bool     `json:"final,omitempty"`
	Name       string   `json:"name,omitempty"`
	Animations []string `json:"animations,omitempty"`
	Muted      bool     `json:"muted,omitempty"`
	SampleRate int      `json:"sample_rate,omitempty"`
	Channels   int      `json:"channels,omitempty"`
}

// Controller receives commands sent by clients. *agent.Agent implements it.
type Controller interface {
	UserGesture()
	SetMuted(muted bool)
	Interrupt()
	StartListening()
	StopListening()
	ClearCache()
}

// Config configures a Hub.
type Config struct {
	WriteTimeout time.Duration // Default: 5s
	PingInterval time.Duration // Default: 30s
	SendBuffer   int           // Default: 128, about a second of audio
	Logger       *slog.Logger
}

// Hub fans conversation events out to websocket clients and implements
// avatar.Scene over the animations those clients announce.
type Hub struct {
	cfg      Config
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[string]*client
	ctrl    Controller
	format  audioFormat // last announced

	metrics *HubMetrics
}

// HubMetrics holds connection metrics.
type HubMetrics struct {
	Clients  *expvar.Int
	Sent     *expvar.Int
	Received *expvar.Int
	Dropped  *expvar.Int
}

type audioFormat struct {
	sampleRate int
	channels   int
}

func (f audioFormat) message() Message {
	return Message{Type: TypeAudio, SampleRate: f.sampleRate, Channels: f.channels}
}

type outbound struct {
	binary bool
	data   []byte
}

type client struct {
	id         string
	conn       *websocket.Conn
	send       chan outbound
	done       chan struct{}
	closeOnce  sync.Once
	animations []string
}

var _ avatar.Scene = (*Hub)(nil)

// New creates a hub with no clients.
func New(cfg Config) *Hub {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 128
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Hub{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The front end is served from anywhere during development.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  cfg.Logger.With(slog.String("component", "hub")),
		clients: make(map[string]*client),
		metrics: &HubMetrics{
			Clients:  &expvar.Int{},
			Sent:     &expvar.Int{},
			Received: &expvar.Int{},
			Dropped:  &expvar.Int{},
		},
	}
}

// SetController attaches the receiver of client commands.
func (h *Hub) SetController(c Controller) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ctrl = c
}

// Metrics returns the hub's metrics.
func (h *Hub) Metrics() *HubMetrics {
	return h.metrics
}

// Publish registers the metrics in the global expvar namespace under prefix.
func (m *HubMetrics) Publish(prefix string) {
	expvar.Publish(prefix+".clients", m.Clients)
	expvar.Publish(prefix+".sent", m.Sent)
	expvar.Publish(prefix+".received", m.Received)
	expvar.Publish(prefix+".dropped", m.Dropped)
}

// Handler returns the hub's routes: the websocket endpoint, expvar metrics
// and a health check.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	mux.Handle("/debug/vars", expvar.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return mux
}

// Run serves Handler on addr until ctx is cancelled.
func (h *Hub) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("hub listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("hub server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("hub shutdown failed: %w", err)
		}
		return nil
	}
}

// ServeHTTP upgrades the request and serves one client until it leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan outbound, h.cfg.SendBuffer),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[c.id] = c
	format := h.format
	h.mu.Unlock()
	h.metrics.Clients.Add(1)

	logger := h.logger.With(slog.String("client_id", c.id))
	logger.Info("client connected", slog.String("remote", r.RemoteAddr))

	h.enqueue(c, Message{Type: TypeHello, ID: c.id})
	if format.sampleRate > 0 {
		h.enqueue(c, format.message())
	}
	go h.writeLoop(c, logger)
	h.readLoop(c, logger)

	h.remove(c)
	logger.Info("client disconnected")
}

func (h *Hub) readLoop(c *client, logger *slog.Logger) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("client read failed", slog.String("error", err.Error()))
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		var msg Message
		if err := sonic.Unmarshal(data, &msg); err != nil {
			logger.Debug("ignoring malformed message", slog.String("error", err.Error()))
			continue
		}
		h.metrics.Received.Add(1)
		h.handle(c, msg, logger)
	}
}

func (h *Hub) handle(c *client, msg Message, logger *slog.Logger) {
	logger.Debug("received message", slog.String("type", msg.Type))

	if msg.Type == TypeScene {
		h.mu.Lock()
		c.animations = slices.Clone(msg.Animations)
		h.mu.Unlock()
		logger.Info("scene announced", slog.Int("animations", len(msg.Animations)))
		return
	}

	h.mu.RLock()
	ctrl := h.ctrl
	h.mu.RUnlock()
	if ctrl == nil {
		return
	}

	switch msg.Type {
	case TypeGesture:
		ctrl.UserGesture()
	case TypeMute:
		ctrl.SetMuted(msg.Muted)
	case TypeInterrupt:
		ctrl.Interrupt()
	case TypeStartListening:
		ctrl.StartListening()
	case TypeStopListening:
		ctrl.StopListening()
	case TypeClearCache:
		ctrl.ClearCache()
	default:
		logger.Warn("unknown message type", slog.String("type", msg.Type))
	}
}

func (h *Hub) writeLoop(c *client, logger *slog.Logger) {
	ping := time.NewTicker(h.cfg.PingInterval)
	defer ping.Stop()
	defer c.conn.Close()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(h.cfg.WriteTimeout))
			return
		case out := <-c.send:
			mt := websocket.TextMessage
			if out.binary {
				mt = websocket.BinaryMessage
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(mt, out.data); err != nil {
				logger.Warn("client write failed", slog.String("error", err.Error()))
				return
			}
			h.metrics.Sent.Add(1)
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	h.mu.Unlock()
	if ok {
		h.metrics.Clients.Add(-1)
	}
	c.closeOnce.Do(func() { close(c.done) })
}

// enqueue never blocks; a client too slow to keep up misses messages.
func (h *Hub) enqueue(c *client, msg Message) {
	data, err := sonic.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to encode message", slog.String("error", err.Error()))
		return
	}
	h.push(c, outbound{data: data})
}

func (h *Hub) push(c *client, out outbound) {
	select {
	case c.send <- out:
	default:
		h.metrics.Dropped.Add(1)
	}
}

// Broadcast sends msg to every connected client.
func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		h.enqueue(c, msg)
	}
}

// State announces a conversation phase.
func (h *Hub) State(state string) {
	h.Broadcast(Message{Type: TypeState, State: state})
}

// Transcript forwards recognized user speech.
func (h *Hub) Transcript(text string, final bool) {
	h.Broadcast(Message{Type: TypeTranscript, Text: text, Final: final})
}

// Reply forwards assistant text as it streams in.
func (h *Hub) Reply(text string, final bool) {
	h.Broadcast(Message{Type: TypeReply, Text: text, Final: final})
}

// Audio sends one frame of reply audio to every client, announcing the
// format first whenever it changes.
func (h *Hub) Audio(f rtc.AudioFrame) {
	format := audioFormat{sampleRate: f.SampleRate, channels: f.NumChannels}

	h.mu.Lock()
	changed := h.format != format
	h.format = format
	h.mu.Unlock()
	if changed {
		h.Broadcast(format.message())
	}

	out := outbound{binary: true, data: f.Data}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		h.push(c, out)
	}
}

// StreamAudio forwards frames to clients until frames closes or ctx ends.
// It is the playback sink of the assistant.
func (h *Hub) StreamAudio(ctx context.Context, frames <-chan rtc.AudioFrame) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			h.Audio(f)
		}
	}
}

// FindAnimation reports whether any connected client's scene has name.
func (h *Hub) FindAnimation(name string) (avatar.Handle, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if slices.Contains(c.animations, name) {
			return avatar.Handle{Name: name, ID: name}, true
		}
	}
	return avatar.Handle{}, false
}

// Play asks every client to run the animation.
func (h *Hub) Play(handle avatar.Handle) error {
	h.Broadcast(Message{Type: TypeAnimation, Name: handle.Name})
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.remove(c)
	}
}
