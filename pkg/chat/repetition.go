package chat

import (
	"strings"
	"sync"
	"time"
)

const (
	repeatWindow      = 2 * time.Minute
	repeatMinLen      = 5
	repeatContainLen  = 15
	repeatPriorHits   = 2
	repeatKeepHistory = 20
)

type seenMessage struct {
	text string
	at   time.Time
}

// RepetitionDetector recognizes a user asking the same thing over and over.
// A message counts as a repeat when at least two earlier messages from the
// last two minutes match it, so the third identical submission trips it.
// Two messages match when they are equal after normalization or when one
// contains the other and the contained one is longer than 15 characters.
type RepetitionDetector struct {
	mu     sync.Mutex
	now    func() time.Time
	recent []seenMessage
}

// NewRepetitionDetector creates a detector. A nil clock means time.Now.
func NewRepetitionDetector(now func() time.Time) *RepetitionDetector {
	if now == nil {
		now = time.Now
	}
	return &RepetitionDetector{now: now}
}

// Observe reports whether msg repeats recent messages and then records it.
// Repeats are recorded too.
func (d *RepetitionDetector) Observe(msg string) bool {
	norm := normalize(msg)
	if norm == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	repeated := d.matchesLocked(norm, now)

	d.recent = append(d.recent, seenMessage{text: norm, at: now})
	if len(d.recent) > repeatKeepHistory {
		d.recent = d.recent[len(d.recent)-repeatKeepHistory:]
	}
	return repeated
}

// Reset forgets every recorded message.
func (d *RepetitionDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recent = nil
}

func (d *RepetitionDetector) matchesLocked(norm string, now time.Time) bool {
	if len([]rune(norm)) < repeatMinLen {
		return false
	}
	cutoff := now.Add(-repeatWindow)
	hits := 0
	for _, m := range d.recent {
		if !m.at.After(cutoff) {
			continue
		}
		if similar(norm, m.text) {
			hits++
		}
	}
	return hits >= repeatPriorHits
}

func similar(a, b string) bool {
	if a == b {
		return true
	}
	if len([]rune(b)) > repeatContainLen && strings.Contains(a, b) {
		return true
	}
	return len([]rune(a)) > repeatContainLen && strings.Contains(b, a)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
