// Package engine is the playback layer between a game and the voice pool.
//
// The [Engine] resolves event names through the sound bank, allocates voices,
// and keeps the audio backend in step with the pool: every voice the pool
// makes real is started on the backend at its current playback offset, and
// every backend handle the pool releases is stopped. The pool itself carries
// no locking; the Engine serialises all access behind one mutex so that game
// code, the frame loop and the HTTP debug surface can share it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/polyvox/internal/observe"
	"github.com/MrWong99/polyvox/internal/resilience"
	"github.com/MrWong99/polyvox/internal/soundbank"
	"github.com/MrWong99/polyvox/pkg/audio"
	"github.com/MrWong99/polyvox/pkg/audio/voice"
)

// Bank resolves event names. [soundbank.Bank] implements it.
type Bank interface {
	Lookup(name string) (soundbank.Event, error)
}

// Option configures an [Engine] during construction.
type Option func(*Engine)

// WithPool passes options to the voice pool the engine creates.
func WithPool(opts ...voice.Option) Option {
	return func(e *Engine) {
		e.poolOpts = append(e.poolOpts, opts...)
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics sets the metric instruments. The default is
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithBreaker configures the breaker guarding backend starts. Its clock is
// always the engine clock.
func WithBreaker(cfg resilience.Config) Option {
	return func(e *Engine) {
		e.breakerCfg = cfg
	}
}

// WithRand sets the random source used to sample event volume and pitch.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) {
		if r != nil {
			e.rng = r
		}
	}
}

// WithListener sets the initial listener position.
func WithListener(pos audio.Vec3) Option {
	return func(e *Engine) {
		e.listener = pos
	}
}

// WithBusVolumes sets initial bus volumes. Buses not listed play at 1.
func WithBusVolumes(buses map[string]float64) Option {
	return func(e *Engine) {
		for b, v := range buses {
			e.buses[b] = clamp01(v)
		}
	}
}

// Engine is the thread-safe playback facade. Create it with [New].
type Engine struct {
	bank       Bank
	backend    audio.Backend
	logger     *slog.Logger
	metrics    *observe.Metrics
	breaker    *resilience.Breaker
	breakerCfg resilience.Config
	poolOpts   []voice.Option

	mu       sync.Mutex
	pool     *voice.Pool
	rng      *rand.Rand
	listener audio.Vec3
	buses    map[string]float64
	events   map[voice.Ref]soundbank.Event
	pushed   map[audio.Handle]float64

	// Filled by the pool observer, drained by flush.
	pendingStart []voice.Ref
	pendingStop  []audio.Handle
}

// New creates an [Engine] that plays events from bank on backend.
func New(bank Bank, backend audio.Backend, opts ...Option) *Engine {
	e := &Engine{
		bank:    bank,
		backend: backend,
		logger:  slog.Default(),
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		buses:   make(map[string]float64),
		events:  make(map[voice.Ref]soundbank.Event),
		pushed:  make(map[audio.Handle]float64),
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}

	poolOpts := append([]voice.Option{voice.WithLogger(e.logger)}, e.poolOpts...)
	e.pool = voice.New(append(poolOpts, voice.WithObserver(e.onTransition))...)

	cfg := e.breakerCfg
	if cfg.Name == "" {
		cfg.Name = "backend-start"
	}
	cfg.Now = e.now
	cfg.Logger = e.logger
	cfg.OnStateChange = func(s resilience.State) {
		e.metrics.BreakerState.Record(context.Background(), int64(s))
	}
	e.breaker = resilience.NewBreaker(cfg)
	return e
}

// now maps the pool clock onto a time.Time for the breaker. It is only
// called with e.mu held.
func (e *Engine) now() time.Time {
	return time.Unix(0, 0).Add(time.Duration(e.pool.Clock() * float64(time.Second)))
}

// onTransition queues backend work for a pool state change. It runs inside
// pool calls, with e.mu held.
func (e *Engine) onTransition(tr voice.Transition) {
	e.metrics.RecordTransition(context.Background(), tr.From.String(), tr.To.String(), tr.Cause.String())

	if tr.Released.IsValid() {
		e.pendingStop = append(e.pendingStop, tr.Released)
	}
	switch tr.To {
	case voice.Real:
		e.pendingStart = append(e.pendingStart, tr.Ref)
	case voice.Stopped:
		delete(e.events, tr.Ref)
	}
}

// flush applies queued backend work. Stops run first so that freed device
// channels are available to the starts. Must be called with e.mu held.
func (e *Engine) flush(ctx context.Context) {
	for _, h := range e.pendingStop {
		delete(e.pushed, h)
		if err := e.backend.Stop(h); err != nil && !errors.Is(err, audio.ErrUnknownHandle) {
			e.metrics.RecordBackendError(ctx, "stop")
			e.logger.Warn("backend stop failed", "handle", h, "err", err)
		}
	}
	e.pendingStop = e.pendingStop[:0]

	// startVoice may demote, which never queues new starts.
	starts := e.pendingStart
	e.pendingStart = nil
	for _, ref := range starts {
		v, ok := e.pool.Get(ref)
		if !ok || v.State() != voice.Real || v.Handle().IsValid() {
			continue
		}
		e.startVoice(ctx, v)
	}
}

// startVoice starts backend playback for a real voice without a handle. On
// failure the voice is demoted and stays tracked, so a later promotion
// retries it. Must be called with e.mu held.
func (e *Engine) startVoice(ctx context.Context, v *voice.Voice) {
	ev := e.events[v.Ref()]
	// Update may promote a voice in the same frame its sound runs out.
	if expired(ev, v) {
		e.pool.StopVoice(v.Ref())
		e.metrics.RecordReaped(ctx, "expired")
		return
	}
	gain := e.gain(v)
	pb := audio.Playback{
		EventName: v.EventName(),
		File:      ev.File,
		Volume:    gain,
		Pitch:     v.Pitch,
		Offset:    time.Duration(v.PlaybackTime() * float64(time.Second)),
		Loop:      ev.Loop,
	}

	var h audio.Handle
	err := e.breaker.Execute(func() error {
		var err error
		h, err = e.backend.Start(ctx, pb)
		return err
	})
	if err != nil {
		if errors.Is(err, resilience.ErrBreakerOpen) {
			e.logger.Debug("backend start skipped: breaker open", "voice_id", v.ID(), "event", v.EventName())
		} else {
			e.metrics.RecordBackendError(ctx, "start")
			e.logger.Warn("backend start failed", "voice_id", v.ID(), "event", v.EventName(), "err", err)
		}
		// If v took its slot by stealing, the victim's playback is already
		// stopped. Both stay virtual and the next Update promotes the
		// higher-ranked one.
		e.pool.MakeVirtual(v.Ref())
		return
	}
	e.pool.AttachHandle(v.Ref(), h)
	e.pushed[h] = gain
}

// gain is the linear volume sent to the backend for v. Audibility already
// includes the voice volume.
func (e *Engine) gain(v *voice.Voice) float64 {
	return clamp01(v.Audibility() * e.busVolume(v.Bus) * (1 - clamp01(v.Occlusion)))
}

func (e *Engine) busVolume(bus string) float64 {
	if vol, ok := e.buses[bus]; ok {
		return vol
	}
	return 1
}

// Play starts a voice for the event called name at pos. The voice is
// tracked even when no real slot is available; it then starts playing as
// soon as the per-frame pass promotes it. Play fails only for unknown
// events.
func (e *Engine) Play(ctx context.Context, name string, pos audio.Vec3) (voice.Ref, error) {
	ctx, span := observe.StartSpan(ctx, "engine.Play",
		trace.WithAttributes(attribute.String("polyvox.event", name)),
	)
	defer span.End()

	ev, err := e.bank.Lookup(name)
	if err != nil {
		e.metrics.RecordPlay(ctx, "unknown_event")
		span.RecordError(err)
		span.SetStatus(codes.Error, "unknown event")
		return voice.Ref{}, fmt.Errorf("engine: play: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	in := ev.Sample(e.rng)
	ref := e.pool.AllocateVoice(ev.Name, ev.Priority, pos, ev.Attenuation())
	v, _ := e.pool.Get(ref)
	v.Volume = in.Volume
	v.Pitch = in.Pitch
	v.Bus = ev.Bus
	v.UpdateAudibility(e.listener)
	e.events[ref] = ev

	if !e.pool.MakeReal(ref) {
		e.metrics.Refusals.Add(ctx, 1)
	}
	e.flush(ctx)

	state := v.State().String()
	e.metrics.RecordPlay(ctx, state)
	span.SetAttributes(
		attribute.Int64("polyvox.voice_id", int64(v.ID())),
		attribute.String("polyvox.state", state),
		attribute.Float64("polyvox.audibility", v.Audibility()),
	)
	observe.Logger(ctx, e.logger).Debug("play",
		"event", name,
		"voice_id", v.ID(),
		"state", state,
		"audibility", v.Audibility(),
	)
	return ref, nil
}

// Stop ends the voice at ref. Stale refs are ignored.
func (e *Engine) Stop(ref voice.Ref) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pool.StopVoice(ref)
	e.flush(context.Background())
}

// StopAll ends every live voice.
func (e *Engine) StopAll() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.pool.Len() {
		if ref := e.pool.RefAt(i); !ref.IsZero() {
			e.pool.StopVoice(ref)
		}
	}
	e.flush(context.Background())
}

// update runs fn on the live voice at ref. It reports false for stale refs.
func (e *Engine) update(ref voice.Ref, fn func(*voice.Voice)) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, ok := e.pool.Get(ref)
	if !ok || v.State() == voice.Stopped {
		return false
	}
	fn(v)
	return true
}

// SetPosition moves the voice at ref. The new position takes effect on the
// next [Engine.Tick].
func (e *Engine) SetPosition(ref voice.Ref, pos audio.Vec3) bool {
	return e.update(ref, func(v *voice.Voice) { v.Position = pos })
}

// SetVolume changes the base volume of the voice at ref, clamped to [0,1].
func (e *Engine) SetVolume(ref voice.Ref, volume float64) bool {
	return e.update(ref, func(v *voice.Voice) { v.Volume = clamp01(volume) })
}

// SetOcclusion sets the occlusion factor of the voice at ref; 1 silences it.
func (e *Engine) SetOcclusion(ref voice.Ref, occlusion float64) bool {
	return e.update(ref, func(v *voice.Voice) { v.Occlusion = clamp01(occlusion) })
}

// SetListener moves the listener.
func (e *Engine) SetListener(pos audio.Vec3) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = pos
}

// Listener returns the listener position.
func (e *Engine) Listener() audio.Vec3 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.listener
}

// SetMaxVoices changes the real-voice budget. Shrinking stops the backend
// playback of demoted voices immediately; growing takes effect on the next
// [Engine.Tick].
func (e *Engine) SetMaxVoices(n uint) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pool.SetMaxVoices(n)
	e.flush(context.Background())
}

// SetStealBehavior changes the steal policy.
func (e *Engine) SetStealBehavior(b voice.StealBehavior) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pool.SetStealBehavior(b)
}

// SetBusVolume sets the volume of bus, clamped to [0,1]. It applies to
// running voices on the next [Engine.Tick].
func (e *Engine) SetBusVolume(bus string, volume float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buses[bus] = clamp01(volume)
}

// BusVolume returns the volume of bus.
func (e *Engine) BusVolume(bus string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.busVolume(bus)
}

// Tick runs one frame of dt:
//
//  1. voices whose sound ended are stopped: real voices the backend reports
//     done, and virtual voices of non-looping events whose length elapsed;
//  2. the pool advances its clock, recomputes audibility and promotes;
//  3. backend playback follows the pool's decisions;
//  4. the backend gain of every real voice is refreshed.
func (e *Engine) Tick(ctx context.Context, dt time.Duration) {
	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.reap(ctx)
	e.pool.Update(dt.Seconds(), e.listener)
	e.flush(ctx)
	e.pushGains(ctx)

	e.metrics.RecordVoiceCounts(ctx, e.pool.RealVoiceCount(), e.pool.VirtualVoiceCount())
	e.metrics.TickDuration.Record(ctx, time.Since(start).Seconds())
}

// reap must be called with e.mu held.
func (e *Engine) reap(ctx context.Context) {
	for i := range e.pool.Len() {
		v := e.pool.VoiceAt(i)
		switch v.State() {
		case voice.Real:
			if h := v.Handle(); h.IsValid() && e.backend.Done(h) {
				e.pool.StopVoice(v.Ref())
				e.metrics.RecordReaped(ctx, "finished")
			}
		case voice.Virtual:
			if expired(e.events[v.Ref()], v) {
				e.pool.StopVoice(v.Ref())
				e.metrics.RecordReaped(ctx, "expired")
			}
		}
	}
}

// pushGains must be called with e.mu held.
func (e *Engine) pushGains(ctx context.Context) {
	for i := range e.pool.Len() {
		v := e.pool.VoiceAt(i)
		h := v.Handle()
		if !h.IsValid() {
			continue
		}
		gain := e.gain(v)
		if last, ok := e.pushed[h]; ok && math.Abs(last-gain) < 1e-4 {
			continue
		}
		if err := e.backend.SetVolume(h, gain); err != nil {
			e.metrics.RecordBackendError(ctx, "set_volume")
			e.logger.Debug("backend set volume failed", "handle", h, "err", err)
			continue
		}
		e.pushed[h] = gain
	}
}

// expired reports whether the non-looping sound of v has played to its end.
// Events of unknown length never expire.
func expired(ev soundbank.Event, v *voice.Voice) bool {
	return !ev.Loop && ev.Length > 0 && v.PlaybackTime() >= ev.Length.Seconds()
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
