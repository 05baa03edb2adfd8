// Package audio defines the types shared between the voice allocator and the
// playback backends of polyvox.
//
// The primary abstraction is [Backend]: something that can start, stop and
// re-level a single playing sound identified by a [Handle]. The voice pool
// never calls a backend itself; it only keeps the handle a backend issued for
// as long as the voice stays real. Backends are provided by sub-packages
// (audio/headless, audio/otoplay) and by third-party code, which is why this
// package lives under pkg/.
package audio

import (
	"context"
	"errors"
	"time"
)

// ErrUnknownHandle is returned by [Backend] methods that receive a handle the
// backend never issued or has already released.
var ErrUnknownHandle = errors.New("audio: unknown handle")

// ErrBackendClosed is returned by [Backend.Start] after [Backend.Close].
var ErrBackendClosed = errors.New("audio: backend closed")

// Handle identifies one playing sound inside a [Backend]. The zero Handle is
// never issued and means "no playback".
type Handle uint64

// IsValid reports whether h refers to a playback (i.e. is non-zero).
func (h Handle) IsValid() bool { return h != 0 }

// Playback describes a request to start mixing one sound.
type Playback struct {
	// EventName is the logical sound identity. Backends use it for logging only.
	EventName string

	// File is the sample file the backend should play.
	File string

	// Volume is the initial linear gain in [0,1].
	Volume float64

	// Pitch is a playback-rate multiplier. 1.0 means unchanged. Backends that
	// cannot resample on the fly may ignore it.
	Pitch float64

	// Offset is the position inside the sample at which playback begins. It is
	// used to resume a voice that was virtual for a while without losing its
	// place.
	Offset time.Duration

	// Loop repeats the sample until the handle is stopped. Offsets beyond the
	// sample length wrap around.
	Loop bool
}

// Backend mixes the sounds polyvox decided to make audible.
//
// Implementations must be safe for concurrent use.
type Backend interface {
	// Start begins mixing p and returns the handle for the new playback.
	Start(ctx context.Context, p Playback) (Handle, error)

	// Stop ends the playback identified by h and releases it. Stopping an
	// unknown handle returns [ErrUnknownHandle].
	Stop(h Handle) error

	// SetVolume changes the linear gain of a running playback.
	SetVolume(h Handle, volume float64) error

	// Done reports whether a non-looping playback reached its end. Unknown
	// handles report true.
	Done(h Handle) bool

	// Close stops every playback and releases backend resources.
	Close() error
}
