package chat

import (
	"testing"
	"time"
)

type stepClock struct{ t time.Time }

func (c *stepClock) Now() time.Time { return c.t }

func TestRepetitionDetector(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		messages []string
		gaps     []time.Duration // advance before each message
		want     []bool
	}{
		{
			name:     "third identical message trips",
			messages: []string{"¿Qué servicios ofrecen?", "¿Qué servicios ofrecen?", "¿Qué servicios ofrecen?"},
			want:     []bool{false, false, true},
		},
		{
			name:     "normalizes case and spaces",
			messages: []string{"Hola Simón", "  hola simón ", "HOLA SIMÓN"},
			want:     []bool{false, false, true},
		},
		{
			name:     "short messages never trip",
			messages: []string{"sí", "sí", "sí", "sí"},
			want:     []bool{false, false, false, false},
		},
		{
			name:     "long contained message matches",
			messages: []string{"cuánto cuesta el plan básico", "dime cuánto cuesta el plan básico", "cuánto cuesta el plan básico"},
			want:     []bool{false, false, true},
		},
		{
			name:     "short contained message does not match",
			messages: []string{"el plan", "quiero saber el plan", "cuéntame el plan"},
			want:     []bool{false, false, false},
		},
		{
			name:     "old messages fall out of the window",
			messages: []string{"¿Dónde están ubicados?", "¿Dónde están ubicados?", "¿Dónde están ubicados?"},
			gaps:     []time.Duration{0, 0, 3 * time.Minute},
			want:     []bool{false, false, false},
		},
		{
			name:     "repeats keep counting",
			messages: []string{"repite por favor", "repite por favor", "repite por favor", "repite por favor"},
			want:     []bool{false, false, true, true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := &stepClock{t: base}
			d := NewRepetitionDetector(clk.Now)
			for i, msg := range tt.messages {
				if tt.gaps != nil {
					clk.t = clk.t.Add(tt.gaps[i])
				}
				clk.t = clk.t.Add(time.Second)
				if got := d.Observe(msg); got != tt.want[i] {
					t.Errorf("Observe(%q) #%d = %v, want %v", msg, i+1, got, tt.want[i])
				}
			}
		})
	}
}

func TestRepetitionDetectorKeepsBoundedHistory(t *testing.T) {
	clk := &stepClock{t: time.Now()}
	d := NewRepetitionDetector(clk.Now)
	d.Observe("mensaje repetido")
	d.Observe("mensaje repetido")
	for i := 0; i < repeatKeepHistory; i++ {
		d.Observe("otra cosa distinta " + string(rune('a'+i)))
	}
	if d.Observe("mensaje repetido") {
		t.Error("Expected evicted history not to count as a repeat")
	}
}
