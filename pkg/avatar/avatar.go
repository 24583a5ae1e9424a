// Package avatar translates conversation phases into animation triggers on
// an external 3D scene. The scene is reached only through the small Scene
// capability interface; a missing scene or animation is never an error.
package avatar

import (
	"log/slog"
	"sync"
)

// Animation names triggered on conversation phase changes.
const (
	AnimIdle      = "idle"
	AnimListening = "listening"
	AnimThinking  = "thinking"
	AnimTalking   = "talking"
)

// Fallbacks lists alternative names tried, in order, when a scene does not
// define an animation under its canonical name.
var Fallbacks = map[string][]string{
	AnimTalking:   {"speak", "mouth", "talk"},
	AnimListening: {"listen", "ear", "attention"},
	AnimThinking:  {"think", "process", "ponder"},
	AnimIdle:      {"rest", "default", "neutral"},
}

// Handle identifies an animation inside a scene.
type Handle struct {
	Name string
	ID   string
}

// Scene is the capability the bridge needs from the rendering layer.
type Scene interface {
	FindAnimation(name string) (Handle, bool)
	Play(h Handle) error
}

// Config configures a Bridge.
type Config struct {
	Scene Scene
	// Idle enables the idle-behavior scheduler.
	Idle   *IdleConfig
	Logger *slog.Logger
}

// Bridge plays animations with fallback-name resolution.
type Bridge struct {
	mu     sync.RWMutex
	scene  Scene
	idle   *IdleScheduler
	logger *slog.Logger
}

// New creates a bridge. The scene may be nil and attached later.
func New(cfg Config) *Bridge {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	b := &Bridge{
		scene:  cfg.Scene,
		logger: cfg.Logger.With(slog.String("component", "avatar")),
	}
	if cfg.Idle != nil {
		b.idle = newIdleScheduler(b, *cfg.Idle)
	}
	return b
}

// SetScene swaps the scene. Nil detaches it.
func (b *Bridge) SetScene(s Scene) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scene = s
}

// Trigger plays name, or the first available fallback for it. It reports
// whether anything was played.
func (b *Bridge) Trigger(name string) bool {
	b.mu.RLock()
	scene := b.scene
	b.mu.RUnlock()
	if scene == nil {
		return false
	}

	h, ok := Resolve(scene, name)
	if !ok {
		b.logger.Debug("animation not found", slog.String("name", name))
		return false
	}
	if err := scene.Play(h); err != nil {
		b.logger.Warn("failed to play animation",
			slog.String("name", name),
			slog.String("resolved", h.Name),
			slog.String("error", err.Error()))
		return false
	}
	return true
}

// Enter triggers the animation for a conversation phase and runs the idle
// scheduler only while the phase is idle.
func (b *Bridge) Enter(anim string) {
	b.Trigger(anim)
	if b.idle == nil {
		return
	}
	if anim == AnimIdle {
		b.idle.Start()
	} else {
		b.idle.Stop()
	}
}

// Close stops the idle scheduler.
func (b *Bridge) Close() {
	if b.idle != nil {
		b.idle.Stop()
	}
}

// Resolve finds name in scene, falling back through the Fallbacks table.
func Resolve(scene Scene, name string) (Handle, bool) {
	if h, ok := scene.FindAnimation(name); ok {
		return h, true
	}
	for _, alt := range Fallbacks[name] {
		if h, ok := scene.FindAnimation(alt); ok {
			return h, true
		}
	}
	return Handle{}, false
}
