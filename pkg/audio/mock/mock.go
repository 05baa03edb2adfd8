// Package mock provides an in-memory mock implementation of [audio.Backend]
// for use in unit tests.
//
// The mock is safe for concurrent use. It records every method call so that
// tests can assert on call counts and arguments, and it exposes exported
// fields that the test can set to control return values.
//
// Typical usage:
//
//	be := &mock.Backend{}
//	h, _ := be.Start(ctx, audio.Playback{File: "step.wav"})
//	be.Finish(h)            // make Done(h) report true
//	be.StartError = errBoom // fail every later Start
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/polyvox/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Backend = (*Backend)(nil)

// StartCall records the arguments of a single [Backend.Start] invocation.
type StartCall struct {
	// Playback is the request passed to Start.
	Playback audio.Playback

	// Handle is the handle returned, or zero when Start failed.
	Handle audio.Handle
}

// VolumeCall records the arguments of a single [Backend.SetVolume] invocation.
type VolumeCall struct {
	Handle audio.Handle
	Volume float64
}

// Backend is a mock implementation of [audio.Backend].
// Set the exported error fields before use; inspect the Call fields after.
type Backend struct {
	mu sync.Mutex

	// StartError is returned by every Start call while non-nil.
	StartError error

	// StopError is returned by every Stop call while non-nil.
	StopError error

	// StartCalls records all Start invocations.
	StartCalls []StartCall

	// StopCalls records the handles passed to Stop, in order.
	StopCalls []audio.Handle

	// VolumeCalls records all SetVolume invocations.
	VolumeCalls []VolumeCall

	// CallCountClose records how many times Close was called.
	CallCountClose int

	last     audio.Handle
	playing  map[audio.Handle]audio.Playback
	finished map[audio.Handle]bool
	volumes  map[audio.Handle]float64
}

func (b *Backend) initLocked() {
	if b.playing == nil {
		b.playing = make(map[audio.Handle]audio.Playback)
		b.finished = make(map[audio.Handle]bool)
		b.volumes = make(map[audio.Handle]float64)
	}
}

// Start implements [audio.Backend]. It issues sequential handles starting
// at 1 unless StartError is set.
func (b *Backend) Start(_ context.Context, p audio.Playback) (audio.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initLocked()

	if b.StartError != nil {
		b.StartCalls = append(b.StartCalls, StartCall{Playback: p})
		return 0, b.StartError
	}
	b.last++
	h := b.last
	b.playing[h] = p
	b.volumes[h] = p.Volume
	b.StartCalls = append(b.StartCalls, StartCall{Playback: p, Handle: h})
	return h, nil
}

// Stop implements [audio.Backend]. It records h and forgets the playback.
func (b *Backend) Stop(h audio.Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initLocked()

	b.StopCalls = append(b.StopCalls, h)
	if b.StopError != nil {
		return b.StopError
	}
	if _, ok := b.playing[h]; !ok {
		return audio.ErrUnknownHandle
	}
	delete(b.playing, h)
	delete(b.finished, h)
	delete(b.volumes, h)
	return nil
}

// SetVolume implements [audio.Backend].
func (b *Backend) SetVolume(h audio.Handle, volume float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initLocked()

	b.VolumeCalls = append(b.VolumeCalls, VolumeCall{Handle: h, Volume: volume})
	if _, ok := b.playing[h]; !ok {
		return audio.ErrUnknownHandle
	}
	b.volumes[h] = volume
	return nil
}

// Done implements [audio.Backend]. It reports true for handles marked with
// [Backend.Finish] and for unknown handles.
func (b *Backend) Done(h audio.Handle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initLocked()

	if _, ok := b.playing[h]; !ok {
		return true
	}
	return b.finished[h]
}

// Close implements [audio.Backend].
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initLocked()

	b.CallCountClose++
	clear(b.playing)
	clear(b.finished)
	clear(b.volumes)
	return nil
}

// Finish marks h as having reached its end, so that Done(h) reports true.
func (b *Backend) Finish(h audio.Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initLocked()
	b.finished[h] = true
}

// Playing returns the playbacks that have been started and not stopped,
// keyed by handle.
func (b *Backend) Playing() map[audio.Handle]audio.Playback {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[audio.Handle]audio.Playback, len(b.playing))
	for h, p := range b.playing {
		out[h] = p
	}
	return out
}

// Volume returns the last volume applied to h and whether h is playing.
func (b *Backend) Volume(h audio.Handle) (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.volumes[h]
	return v, ok
}
