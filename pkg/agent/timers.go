package agent

import "time"

type timerKind int

const (
	timerListen     timerKind = iota // idle → listening
	timerWatchdog                    // restarts a silent recognizer
	timerPermission                  // re-prompts for the microphone
	timerDeferred                    // gives up on autoplay-blocked audio
)

func (k timerKind) String() string {
	switch k {
	case timerListen:
		return "listen"
	case timerWatchdog:
		return "watchdog"
	case timerPermission:
		return "permission"
	case timerDeferred:
		return "deferred_playback"
	default:
		return "unknown"
	}
}

// timerSet owns every timer of the state machine. Timers are only touched
// from the event loop. A fired timer posts an event stamped with its
// generation; the loop drops the event if the timer was re-armed or
// cancelled in the meantime.
type timerSet struct {
	post   func(event)
	timers map[timerKind]*time.Timer
	gen    map[timerKind]uint64
}

func newTimerSet(post func(event)) *timerSet {
	return &timerSet{
		post:   post,
		timers: make(map[timerKind]*time.Timer),
		gen:    make(map[timerKind]uint64),
	}
}

// arm (re)starts a timer.
func (ts *timerSet) arm(kind timerKind, d time.Duration) {
	ts.stop(kind)
	ts.gen[kind]++
	gen := ts.gen[kind]
	ts.timers[kind] = time.AfterFunc(d, func() {
		ts.post(event{kind: evTimer, timer: kind, gen: gen})
	})
}

func (ts *timerSet) armed(kind timerKind) bool {
	_, ok := ts.timers[kind]
	return ok
}

func (ts *timerSet) stop(kind timerKind) {
	if t, ok := ts.timers[kind]; ok {
		t.Stop()
		delete(ts.timers, kind)
		ts.gen[kind]++
	}
}

// fired reports whether an event is the live firing of its timer and, if
// so, forgets the timer.
func (ts *timerSet) fired(e event) bool {
	if _, ok := ts.timers[e.timer]; !ok || ts.gen[e.timer] != e.gen {
		return false
	}
	delete(ts.timers, e.timer)
	return true
}

// cancelAll stops every timer.
func (ts *timerSet) cancelAll() {
	for kind := range ts.timers {
		ts.stop(kind)
	}
}
