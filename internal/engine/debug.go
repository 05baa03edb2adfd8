package engine

import (
	"encoding/json"
	"net/http"

	"github.com/MrWong99/polyvox/pkg/audio"
	"github.com/MrWong99/polyvox/pkg/audio/voice"
)

// Stats is a point-in-time summary of the engine.
type Stats struct {
	Real      int     `json:"real"`
	Virtual   int     `json:"virtual"`
	Active    int     `json:"active"`
	Slots     int     `json:"slots"`
	MaxVoices uint    `json:"max_voices"`
	Steal     string  `json:"steal_behavior"`
	Clock     float64 `json:"clock_seconds"`
	Breaker   string  `json:"breaker"`
}

// VoiceInfo describes one live voice.
type VoiceInfo struct {
	ID           voice.ID     `json:"id"`
	Index        int          `json:"index"`
	Event        string       `json:"event"`
	State        string       `json:"state"`
	Priority     uint8        `json:"priority"`
	Audibility   float64      `json:"audibility"`
	PlaybackTime float64      `json:"playback_time"`
	Volume       float64      `json:"volume"`
	Bus          string       `json:"bus"`
	Handle       audio.Handle `json:"handle,omitempty"`
	Position     audio.Vec3   `json:"position"`
}

// Stats returns the current counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Stats{
		Real:      e.pool.RealVoiceCount(),
		Virtual:   e.pool.VirtualVoiceCount(),
		Active:    e.pool.ActiveVoiceCount(),
		Slots:     e.pool.Len(),
		MaxVoices: e.pool.MaxVoices(),
		Steal:     e.pool.StealBehavior().String(),
		Clock:     e.pool.Clock(),
		Breaker:   e.breaker.State().String(),
	}
}

// Snapshot lists every live voice in slot order.
func (e *Engine) Snapshot() []VoiceInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]VoiceInfo, 0, e.pool.Len())
	for i := range e.pool.Len() {
		v := e.pool.VoiceAt(i)
		if v.State() == voice.Stopped {
			continue
		}
		out = append(out, VoiceInfo{
			ID:           v.ID(),
			Index:        i,
			Event:        v.EventName(),
			State:        v.State().String(),
			Priority:     v.Priority(),
			Audibility:   v.Audibility(),
			PlaybackTime: v.PlaybackTime(),
			Volume:       v.Volume,
			Bus:          v.Bus,
			Handle:       v.Handle(),
			Position:     v.Position,
		})
	}
	return out
}

// DebugHandler serves the stats and the voice list as JSON.
func (e *Engine) DebugHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		body := struct {
			Stats  Stats       `json:"stats"`
			Voices []VoiceInfo `json:"voices"`
		}{e.Stats(), e.Snapshot()}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	})
}
