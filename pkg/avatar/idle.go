package avatar

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// IdleBehavior is a low-intensity animation played while nothing happens.
type IdleBehavior struct {
	Name     string
	Weight   int
	Duration time.Duration // approximate play time
}

// DefaultIdleBehaviors favor blinking over bigger movements.
var DefaultIdleBehaviors = []IdleBehavior{
	{Name: "blink", Weight: 6, Duration: 300 * time.Millisecond},
	{Name: "glance", Weight: 3, Duration: 800 * time.Millisecond},
	{Name: "head_tilt", Weight: 2, Duration: 1200 * time.Millisecond},
}

// IdleConfig configures the idle scheduler.
type IdleConfig struct {
	MinInterval time.Duration
	MaxInterval time.Duration
	Behaviors   []IdleBehavior
	Rand        *rand.Rand
}

// IdleScheduler plays weighted random behaviors at random intervals while
// started. Each Start/Stop invalidates pending timers.
type IdleScheduler struct {
	bridge *Bridge
	cfg    IdleConfig

	mu     sync.Mutex
	rng    *rand.Rand
	timer  *time.Timer
	epoch  int
	active bool
}

func newIdleScheduler(b *Bridge, cfg IdleConfig) *IdleScheduler {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 3 * time.Second
	}
	if cfg.MaxInterval < cfg.MinInterval {
		cfg.MaxInterval = cfg.MinInterval + 5*time.Second
	}
	if len(cfg.Behaviors) == 0 {
		cfg.Behaviors = DefaultIdleBehaviors
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &IdleScheduler{bridge: b, cfg: cfg, rng: rng}
}

// Idle returns the bridge's scheduler, or nil when idle behaviors are off.
func (b *Bridge) Idle() *IdleScheduler {
	return b.idle
}

// Start begins scheduling. Starting an active scheduler is a no-op.
func (s *IdleScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return
	}
	s.active = true
	s.epoch++
	s.scheduleLocked(0)
}

// Stop cancels any pending behavior.
func (s *IdleScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.epoch++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Active reports whether the scheduler is running.
func (s *IdleScheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Pick chooses a behavior by weight.
func (s *IdleScheduler) Pick() IdleBehavior {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pickLocked()
}

func (s *IdleScheduler) pickLocked() IdleBehavior {
	total := 0
	for _, b := range s.cfg.Behaviors {
		total += max(b.Weight, 0)
	}
	if total == 0 {
		return s.cfg.Behaviors[0]
	}
	n := s.rng.Intn(total)
	for _, b := range s.cfg.Behaviors {
		n -= max(b.Weight, 0)
		if n < 0 {
			return b
		}
	}
	return s.cfg.Behaviors[len(s.cfg.Behaviors)-1]
}

func (s *IdleScheduler) intervalLocked() time.Duration {
	spread := s.cfg.MaxInterval - s.cfg.MinInterval
	if spread <= 0 {
		return s.cfg.MinInterval
	}
	return s.cfg.MinInterval + time.Duration(s.rng.Int63n(int64(spread)))
}

// scheduleLocked arms the next behavior after the one that just played.
func (s *IdleScheduler) scheduleLocked(after time.Duration) {
	epoch := s.epoch
	s.timer = time.AfterFunc(after+s.intervalLocked(), func() {
		s.mu.Lock()
		if !s.active || s.epoch != epoch {
			s.mu.Unlock()
			return
		}
		b := s.pickLocked()
		s.mu.Unlock()

		played := s.bridge.Trigger(b.Name)
		s.bridge.logger.Debug("idle behavior",
			slog.String("name", b.Name),
			slog.Bool("played", played))

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.active && s.epoch == epoch {
			s.scheduleLocked(b.Duration)
		}
	})
}
