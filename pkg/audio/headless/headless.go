// Package headless provides an [audio.Backend] that produces no sound.
//
// It keeps the bookkeeping of a real backend (handles, volumes, playback
// cursors) so that polyvox can run on dedicated servers and in CI, where no
// audio device exists, and still report which sounds would have finished.
package headless

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/polyvox/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Backend = (*Backend)(nil)

// Option configures a [Backend] during construction.
type Option func(*Backend)

// WithClock replaces the wall clock used to advance playback cursors.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		if now != nil {
			b.now = now
		}
	}
}

// WithLengths declares the length of sample files so that [Backend.Done] can
// report non-looping playbacks as finished. Files without a length never
// finish on their own.
func WithLengths(lengths map[string]time.Duration) Option {
	return func(b *Backend) {
		for f, d := range lengths {
			b.lengths[f] = d
		}
	}
}

type playback struct {
	audio.Playback
	started time.Time
}

// Backend is a silent [audio.Backend]. It is safe for concurrent use.
type Backend struct {
	now func() time.Time

	mu      sync.Mutex
	last    audio.Handle
	lengths map[string]time.Duration
	active  map[audio.Handle]*playback
	closed  bool
}

// New creates a headless [Backend].
func New(opts ...Option) *Backend {
	b := &Backend{
		now:     time.Now,
		lengths: make(map[string]time.Duration),
		active:  make(map[audio.Handle]*playback),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// SetLength declares the length of file. See [WithLengths].
func (b *Backend) SetLength(file string, d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lengths[file] = d
}

// Start implements [audio.Backend].
func (b *Backend) Start(_ context.Context, p audio.Playback) (audio.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, audio.ErrBackendClosed
	}
	b.last++
	b.active[b.last] = &playback{Playback: p, started: b.now()}
	return b.last, nil
}

// Stop implements [audio.Backend].
func (b *Backend) Stop(h audio.Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.active[h]; !ok {
		return audio.ErrUnknownHandle
	}
	delete(b.active, h)
	return nil
}

// SetVolume implements [audio.Backend].
func (b *Backend) SetVolume(h audio.Handle, volume float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.active[h]
	if !ok {
		return audio.ErrUnknownHandle
	}
	p.Volume = volume
	return nil
}

// Done implements [audio.Backend].
func (b *Backend) Done(h audio.Handle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.active[h]
	if !ok {
		return true
	}
	length, known := b.lengths[p.File]
	if p.Loop || !known || length <= 0 {
		return false
	}
	return p.Offset+b.now().Sub(p.started) >= length
}

// Cursor returns the playback position of h, wrapped for looping playbacks
// of known length.
func (b *Backend) Cursor(h audio.Handle) (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.active[h]
	if !ok {
		return 0, false
	}
	pos := p.Offset + b.now().Sub(p.started)
	if length := b.lengths[p.File]; length > 0 {
		if p.Loop {
			pos %= length
		} else {
			pos = min(pos, length)
		}
	}
	return pos, true
}

// Volume returns the current volume of h.
func (b *Backend) Volume(h audio.Handle) (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.active[h]
	if !ok {
		return 0, false
	}
	return p.Volume, true
}

// Active returns the number of running playbacks.
func (b *Backend) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.active)
}

// Close implements [audio.Backend]. It is idempotent.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	clear(b.active)
	return nil
}
