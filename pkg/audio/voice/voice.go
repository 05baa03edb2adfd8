// Package voice implements virtual voice management: a bounded number of
// real (backend-mixed) voices are handed out to an unbounded number of
// logical sound instances, ranked by audibility and priority.
//
// A [Pool] owns every [Voice] in a stable-index arena. Callers keep a
// generation-checked [Ref] instead of a pointer; a Ref whose slot has been
// recycled no longer resolves, so it can never act on someone else's voice.
//
// The pool carries no internal synchronisation. It is meant to be driven from
// a single logical thread (the game or audio tick); hosts that need to call it
// from several goroutines must serialise access themselves.
package voice

import (
	"github.com/MrWong99/polyvox/pkg/audio"
	"github.com/MrWong99/polyvox/pkg/audio/attenuation"
)

// State is the lifecycle state of a [Voice].
type State int

const (
	// Stopped voices are finished. Their slot may be reused by the next
	// allocation. The zero State is Stopped so that a fresh slot is not live.
	Stopped State = iota

	// Virtual voices are tracked and aged but not mixed. They own no backend
	// handle.
	Virtual

	// Real voices own a backend handle and are audibly mixing.
	Real
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Virtual:
		return "virtual"
	case Real:
		return "real"
	default:
		return "unknown"
	}
}

// ID identifies one logical voice for the lifetime of its [Pool]. IDs grow
// monotonically and are never reused; 0 is never issued.
type ID uint64

// Ref addresses a voice by slot index and ID. A Ref goes stale as soon as the
// voice it was issued for is stopped and its slot reused.
type Ref struct {
	Index int
	ID    ID
}

// IsZero reports whether r is the zero Ref, which never resolves.
func (r Ref) IsZero() bool { return r.ID == 0 }

// Voice is one instance of "a sound that might be playing".
//
// The allocation fields (ID, state, handle, priority and the clocks) belong to
// the [Pool] and are read-only outside this package. The exported fields may
// be written by the caller (Position, Distance, Volume) and by collaborators
// that annotate voices each frame (reverb sends, occlusion, buses); the pool
// itself never reads the annotations.
type Voice struct {
	index        int
	id           ID
	state        State
	handle       audio.Handle
	eventName    string
	priority     uint8
	startTime    float64
	playbackTime float64
	audibility   float64

	// Position is the world-space location of the sound source.
	Position audio.Vec3

	// Distance configures how the voice fades with distance to the listener.
	Distance attenuation.Settings

	// Volume is the base gain set by the caller or the event definition,
	// independent of attenuation.
	Volume float64

	// Pitch is the playback-rate multiplier chosen for this instance.
	Pitch float64

	// Bus names the mix bus the voice is routed to.
	Bus string

	// ReverbSend is the wet level written by reverb-zone processing.
	ReverbSend float64

	// LowPassHz is the cutoff written by occlusion processing. Zero means no
	// filtering.
	LowPassHz float64

	// Occlusion is the occlusion factor in [0,1] written by occlusion
	// processing.
	Occlusion float64

	// UserData is free for the caller.
	UserData any
}

// ID returns the voice's identity.
func (v *Voice) ID() ID { return v.id }

// Ref returns the generation-checked reference to v.
func (v *Voice) Ref() Ref { return Ref{Index: v.index, ID: v.id} }

// State returns the voice's lifecycle state.
func (v *Voice) State() State { return v.state }

// Handle returns the backend handle of a real voice. It returns the zero
// Handle for virtual and stopped voices, and for a real voice whose playback
// has not been attached yet.
func (v *Voice) Handle() audio.Handle {
	if v.state != Real {
		return 0
	}
	return v.handle
}

// EventName returns the logical sound the voice was allocated for.
func (v *Voice) EventName() string { return v.eventName }

// Priority returns the voice's priority; higher is more important.
func (v *Voice) Priority() uint8 { return v.priority }

// StartTime returns the pool clock at allocation, in seconds.
func (v *Voice) StartTime() float64 { return v.startTime }

// PlaybackTime returns the seconds elapsed since allocation. It keeps
// advancing while the voice is virtual so that a re-promoted voice resumes at
// the right offset.
func (v *Voice) PlaybackTime() float64 { return v.playbackTime }

// Audibility returns the derived perceptual importance of the voice as of the
// last [Voice.UpdateAudibility].
func (v *Voice) Audibility() float64 { return v.audibility }

// UpdateAudibility recomputes the voice's audibility for a listener at
// listener.
func (v *Voice) UpdateAudibility(listener audio.Vec3) {
	v.audibility = v.Volume * attenuation.Attenuate(audio.Distance(v.Position, listener), v.Distance)
}

// live reports whether v is virtual or real.
func (v *Voice) live() bool { return v.state != Stopped }

// reset prepares a recycled slot for a new logical voice.
func (v *Voice) reset(id ID, eventName string, priority uint8, pos audio.Vec3, ds attenuation.Settings, now float64) {
	index := v.index
	*v = Voice{
		index:     index,
		id:        id,
		state:     Virtual,
		eventName: eventName,
		priority:  priority,
		startTime: now,
		Position:  pos,
		Distance:  ds,
		Volume:    1,
		Pitch:     1,
	}
}
