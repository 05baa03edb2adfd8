// Package otoplay provides an [audio.Backend] that plays sample files on the
// local sound device through github.com/ebitengine/oto/v3.
//
// One oto context is opened per [Backend] (stereo, signed 16-bit LE). Every
// [Backend.Start] creates its own oto player over decoded samples kept in an
// in-memory cache. Each use renews a sample's expiry, so only sounds left
// unplayed for a whole CacheTTL are decoded again.
//
// Pitch is not applied: oto players have no rate control.
package otoplay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/patrickmn/go-cache"

	"github.com/MrWong99/polyvox/pkg/audio"
	"github.com/MrWong99/polyvox/pkg/audio/decode"
)

// Compile-time interface assertion.
var _ audio.Backend = (*Backend)(nil)

const (
	defaultSampleRate = 48000
	defaultBufferSize = 20 * time.Millisecond
	defaultCacheTTL   = 10 * time.Minute
)

// Options configures a [Backend].
type Options struct {
	// SampleRate is the device rate in Hz. Samples are resampled to it.
	// Defaults to 48000.
	SampleRate int

	// BufferSize is the device buffer length. Defaults to 20ms.
	BufferSize time.Duration

	// CacheTTL is how long decoded samples stay cached after their last use.
	// Defaults to 10 minutes. [Backend.Preload] pins samples forever.
	CacheTTL time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

type player struct {
	p    *oto.Player
	loop bool
}

// Backend is an oto-backed [audio.Backend]. It is safe for concurrent use.
type Backend struct {
	ctx     *oto.Context
	samples *sampleCache
	logger  *slog.Logger

	mu      sync.Mutex
	last    audio.Handle
	players map[audio.Handle]*player
	closed  bool
}

// New opens the audio device. It blocks until the device is ready or ctx is
// cancelled.
func New(ctx context.Context, opts Options) (*Backend, error) {
	if opts.SampleRate <= 0 {
		opts.SampleRate = defaultSampleRate
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	octx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   opts.SampleRate,
		ChannelCount: decode.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   opts.BufferSize,
	})
	if err != nil {
		return nil, fmt.Errorf("otoplay: create context: %w", err)
	}
	select {
	case <-ready:
	case <-ctx.Done():
		return nil, fmt.Errorf("otoplay: wait for device: %w", ctx.Err())
	}

	opts.Logger.Debug("audio device ready",
		"sample_rate", opts.SampleRate,
		"buffer_size", opts.BufferSize,
	)
	rate := opts.SampleRate
	samples := newSampleCache(opts.CacheTTL, func(file string) (*decode.PCM, error) {
		return decode.File(file, rate)
	})
	return &Backend{
		ctx:     octx,
		samples: samples,
		logger:  opts.Logger,
		players: make(map[audio.Handle]*player),
	}, nil
}

// sampleCache holds decoded samples by file path.
type sampleCache struct {
	c          *cache.Cache
	decodeFile func(file string) (*decode.PCM, error)
}

func newSampleCache(ttl time.Duration, decodeFile func(string) (*decode.PCM, error)) *sampleCache {
	return &sampleCache{c: cache.New(ttl, 2*ttl), decodeFile: decodeFile}
}

// load returns the samples of file, decoding on a miss. go-cache never
// extends an entry on Get, so a hit stores the entry again to restart its TTL.
// Pinned entries stay pinned.
func (s *sampleCache) load(file string) (*decode.PCM, error) {
	if v, exp, ok := s.c.GetWithExpiration(file); ok {
		pcm := v.(*decode.PCM)
		if !exp.IsZero() {
			s.c.SetDefault(file, pcm)
		}
		return pcm, nil
	}
	pcm, err := s.decodeFile(file)
	if err != nil {
		return nil, err
	}
	s.c.SetDefault(file, pcm)
	return pcm, nil
}

// pin decodes file if needed and keeps it until the cache is flushed.
func (s *sampleCache) pin(file string) error {
	pcm, err := s.load(file)
	if err != nil {
		return err
	}
	s.c.Set(file, pcm, cache.NoExpiration)
	return nil
}

func (s *sampleCache) flush() { s.c.Flush() }

// Preload decodes files and keeps them cached for the life of the backend, so
// that no Start of those files has to decode. It returns the joined errors of
// the files that failed; the others stay loaded.
func (b *Backend) Preload(files ...string) error {
	var errs []error
	for _, f := range files {
		if err := b.samples.pin(f); err != nil {
			errs = append(errs, fmt.Errorf("otoplay: preload %q: %w", f, err))
		}
	}
	if len(errs) > 0 {
		b.logger.Warn("some samples were not preloaded", "failed", len(errs), "total", len(files))
	}
	return errors.Join(errs...)
}

// Start implements [audio.Backend].
func (b *Backend) Start(_ context.Context, p audio.Playback) (audio.Handle, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return 0, audio.ErrBackendClosed
	}

	pcm, err := b.samples.load(p.File)
	if err != nil {
		return 0, fmt.Errorf("otoplay: start %q: %w", p.EventName, err)
	}

	op := b.ctx.NewPlayer(pcm.NewReader(p.Offset, p.Loop))
	op.SetVolume(clampVolume(p.Volume))
	op.Play()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		_ = op.Close()
		return 0, audio.ErrBackendClosed
	}
	b.last++
	b.players[b.last] = &player{p: op, loop: p.Loop}
	return b.last, nil
}

// Stop implements [audio.Backend].
func (b *Backend) Stop(h audio.Handle) error {
	b.mu.Lock()
	pl, ok := b.players[h]
	delete(b.players, h)
	b.mu.Unlock()

	if !ok {
		return audio.ErrUnknownHandle
	}
	pl.p.Pause()
	return pl.p.Close()
}

// SetVolume implements [audio.Backend].
func (b *Backend) SetVolume(h audio.Handle, volume float64) error {
	b.mu.Lock()
	pl, ok := b.players[h]
	b.mu.Unlock()

	if !ok {
		return audio.ErrUnknownHandle
	}
	pl.p.SetVolume(clampVolume(volume))
	return nil
}

// Done implements [audio.Backend].
func (b *Backend) Done(h audio.Handle) bool {
	b.mu.Lock()
	pl, ok := b.players[h]
	b.mu.Unlock()

	if !ok {
		return true
	}
	return !pl.loop && !pl.p.IsPlaying()
}

// Close implements [audio.Backend]. The oto context itself cannot be closed;
// it is suspended instead.
func (b *Backend) Close() error {
	b.mu.Lock()
	players := b.players
	b.players = make(map[audio.Handle]*player)
	b.closed = true
	b.mu.Unlock()

	var errs []error
	for _, pl := range players {
		pl.p.Pause()
		if err := pl.p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := b.ctx.Suspend(); err != nil {
		errs = append(errs, err)
	}
	b.samples.flush()
	return errors.Join(errs...)
}

func clampVolume(v float64) float64 {
	switch {
	case v != v, v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
