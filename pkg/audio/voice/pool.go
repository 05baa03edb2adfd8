package voice

import (
	"container/heap"
	"log/slog"
	"slices"

	"github.com/MrWong99/polyvox/pkg/audio"
	"github.com/MrWong99/polyvox/pkg/audio/attenuation"
)

const (
	// DefaultMaxRealVoices is the hardware voice budget used when no explicit
	// limit is configured via [WithMaxRealVoices].
	DefaultMaxRealVoices = 32

	// DefaultPromotionThreshold is the audibility a virtual voice must exceed
	// before the per-frame pass spends a free real slot on it.
	DefaultPromotionThreshold = 1e-4

	// defaultCapacity is the initial capacity hint for the slot arena.
	defaultCapacity = 64
)

// Cause explains why a voice changed state.
type Cause int

const (
	// CauseMakeReal is an explicit [Pool.MakeReal] that found a free slot or
	// stole one.
	CauseMakeReal Cause = iota

	// CausePromotion is the per-frame pass filling a free slot.
	CausePromotion

	// CauseSteal is a real voice losing its slot to a more important one.
	CauseSteal

	// CauseMakeVirtual is an explicit [Pool.MakeVirtual].
	CauseMakeVirtual

	// CauseShrink is a real voice demoted because the voice budget shrank.
	CauseShrink

	// CauseStop is an explicit [Pool.StopVoice].
	CauseStop
)

// String returns the human-readable name of the cause.
func (c Cause) String() string {
	switch c {
	case CauseMakeReal:
		return "make_real"
	case CausePromotion:
		return "promotion"
	case CauseSteal:
		return "steal"
	case CauseMakeVirtual:
		return "make_virtual"
	case CauseShrink:
		return "shrink"
	case CauseStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Transition describes one state change made by the pool.
type Transition struct {
	Ref   Ref
	From  State
	To    State
	Cause Cause

	// Released is the backend handle the voice owned before the transition,
	// or zero. The playback layer must stop it: the pool already forgot it.
	Released audio.Handle
}

// Option configures a [Pool] during construction.
type Option func(*Pool)

// WithMaxRealVoices sets the number of voices that may be real at once.
func WithMaxRealVoices(n uint) Option {
	return func(p *Pool) {
		p.maxReal = int(n)
	}
}

// WithStealBehavior sets the initial steal policy. The default is [Quietest].
func WithStealBehavior(b StealBehavior) Option {
	return func(p *Pool) {
		p.steal = b
	}
}

// WithCapacity sets the initial capacity hint for the slot arena. This does
// not impose a limit; the arena grows as needed.
func WithCapacity(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.slots = make([]*Voice, 0, n)
		}
	}
}

// WithPromotionThreshold sets the audibility a virtual voice must exceed to be
// promoted by [Pool.PromoteVirtualVoices]. Negative values are ignored.
func WithPromotionThreshold(eps float64) Option {
	return func(p *Pool) {
		if eps >= 0 {
			p.threshold = eps
		}
	}
}

// WithLogger sets the logger used for debug output. The default is
// [slog.Default] at construction time.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithObserver registers fn to receive every state change. fn runs
// synchronously inside the pool call that caused it and must not call back
// into the pool.
func WithObserver(fn func(Transition)) Option {
	return func(p *Pool) {
		p.observer = fn
	}
}

// Pool owns all voices and arbitrates the real-voice budget.
//
// Invariants after every call:
//   - at most MaxVoices voices are [Real];
//   - no two live voices share an [ID];
//   - only real voices expose a backend handle;
//   - stealing never evicts a voice of strictly higher priority than the
//     requester, nor an equal-priority voice at least as audible.
type Pool struct {
	slots     []*Voice
	maxReal   int
	steal     StealBehavior
	threshold float64
	clock     float64
	lastID    ID
	logger    *slog.Logger
	observer  func(Transition)

	candidates candidateHeap // reused by PromoteVirtualVoices
}

// New creates an empty [Pool].
func New(opts ...Option) *Pool {
	p := &Pool{
		slots:     make([]*Voice, 0, defaultCapacity),
		maxReal:   DefaultMaxRealVoices,
		steal:     Quietest,
		threshold: DefaultPromotionThreshold,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// AllocateVoice starts tracking a new logical voice in the [Virtual] state and
// returns its reference. It reuses the lowest-index stopped slot or grows the
// arena by one slot, so it never fails: only becoming real is constrained.
//
// The new voice has Volume 1 and zero audibility until the next
// [Pool.Update] or an explicit [Voice.UpdateAudibility].
func (p *Pool) AllocateVoice(eventName string, priority uint8, pos audio.Vec3, ds attenuation.Settings) Ref {
	var v *Voice
	for _, s := range p.slots {
		if s.state == Stopped {
			v = s
			break
		}
	}
	if v == nil {
		v = &Voice{index: len(p.slots)}
		p.slots = append(p.slots, v)
	}

	p.lastID++
	v.reset(p.lastID, eventName, priority, pos, ds, p.clock)
	return v.Ref()
}

// Get resolves ref. It reports false for stale or zero refs.
func (p *Pool) Get(ref Ref) (*Voice, bool) {
	if ref.IsZero() || ref.Index < 0 || ref.Index >= len(p.slots) {
		return nil, false
	}
	v := p.slots[ref.Index]
	if v.id != ref.ID {
		return nil, false
	}
	return v, true
}

// MakeReal asks for a real slot for the voice at ref.
//
// A voice that is already real succeeds immediately. Otherwise the voice is
// promoted if the budget allows, or after demoting the victim chosen by
// [Pool.FindVoiceToSteal]. MakeReal returns false, leaving the voice virtual,
// when no slot can be secured; that is routine under load, not an error.
// Stale refs and stopped voices also return false.
//
// The caller starts backend playback and attaches the handle with
// [Pool.AttachHandle].
func (p *Pool) MakeReal(ref Ref) bool {
	v, ok := p.Get(ref)
	if !ok || v.state == Stopped {
		return false
	}
	if v.state == Real {
		return true
	}

	if p.RealVoiceCount() < p.maxReal {
		p.transition(v, Real, CauseMakeReal)
		return true
	}

	victimRef, ok := p.FindVoiceToSteal(v.priority, v.audibility)
	if !ok {
		p.logger.Debug("voice stays virtual: no slot",
			"voice_id", v.id,
			"event", v.eventName,
			"priority", v.priority,
			"audibility", v.audibility,
		)
		return false
	}

	victim := p.slots[victimRef.Index]
	p.logger.Debug("stealing voice",
		"victim_id", victim.id,
		"victim_event", victim.eventName,
		"victim_priority", victim.priority,
		"victim_audibility", victim.audibility,
		"voice_id", v.id,
		"event", v.eventName,
		"behavior", p.steal,
	)
	p.transition(victim, Virtual, CauseSteal)
	p.transition(v, Real, CauseMakeReal)
	return true
}

// AttachHandle records the backend handle for a real voice. It reports false
// if the voice is not real, ref is stale, or h is the zero Handle.
func (p *Pool) AttachHandle(ref Ref, h audio.Handle) bool {
	v, ok := p.Get(ref)
	if !ok || v.state != Real || !h.IsValid() {
		return false
	}
	v.handle = h
	return true
}

// MakeVirtual demotes a real voice, releasing its handle. Its playback time
// keeps advancing so that it can resume later. Non-real voices are left
// untouched.
func (p *Pool) MakeVirtual(ref Ref) {
	v, ok := p.Get(ref)
	if !ok || v.state != Real {
		return
	}
	p.transition(v, Virtual, CauseMakeVirtual)
}

// StopVoice ends the voice at ref, releasing its handle. The slot becomes
// available for reuse. Stopping twice is a no-op.
func (p *Pool) StopVoice(ref Ref) {
	v, ok := p.Get(ref)
	if !ok || v.state == Stopped {
		return
	}
	p.transition(v, Stopped, CauseStop)
}

// Update runs the per-frame reconciliation: it advances the pool clock and the
// playback time of every live voice by dt seconds, recomputes audibility for
// listener, and fills free real slots via [Pool.PromoteVirtualVoices].
// Negative dt is treated as zero.
func (p *Pool) Update(dt float64, listener audio.Vec3) {
	if dt < 0 {
		dt = 0
	}
	p.clock += dt
	for _, v := range p.slots {
		if !v.live() {
			continue
		}
		v.playbackTime += dt
		v.UpdateAudibility(listener)
	}
	p.PromoteVirtualVoices()
}

// PromoteVirtualVoices promotes the most audible virtual voices into free real
// slots and returns how many were promoted. Voices at or below the promotion
// threshold stay virtual even if slots are free. It never steals: only
// [Pool.MakeReal] evicts real voices.
func (p *Pool) PromoteVirtualVoices() int {
	free := p.maxReal - p.RealVoiceCount()
	if free <= 0 {
		return 0
	}

	p.candidates = p.candidates[:0]
	for _, v := range p.slots {
		if v.state == Virtual && v.audibility > p.threshold {
			p.candidates = append(p.candidates, candidate{voice: v})
		}
	}
	heap.Init(&p.candidates)

	promoted := 0
	for free > 0 && p.candidates.Len() > 0 {
		c := heap.Pop(&p.candidates).(candidate)
		p.transition(c.voice, Real, CausePromotion)
		free--
		promoted++
	}
	p.candidates = p.candidates[:0]
	return promoted
}

// SetMaxVoices changes the real-voice budget. Shrinking below the current
// number of real voices demotes the least important ones (lowest priority,
// then lowest audibility, then newest) until the budget holds.
func (p *Pool) SetMaxVoices(n uint) {
	p.maxReal = int(n)

	excess := p.RealVoiceCount() - p.maxReal
	if excess <= 0 {
		return
	}

	reals := make([]*Voice, 0, excess+p.maxReal)
	for _, v := range p.slots {
		if v.state == Real {
			reals = append(reals, v)
		}
	}
	slices.SortFunc(reals, func(a, b *Voice) int {
		switch {
		case a.priority != b.priority:
			return int(a.priority) - int(b.priority)
		case a.audibility < b.audibility:
			return -1
		case a.audibility > b.audibility:
			return 1
		case a.startTime > b.startTime:
			return -1
		case a.startTime < b.startTime:
			return 1
		}
		return a.index - b.index
	})
	for _, v := range reals[:excess] {
		p.transition(v, Virtual, CauseShrink)
	}
}

// MaxVoices returns the real-voice budget.
func (p *Pool) MaxVoices() uint { return uint(p.maxReal) }

// SetStealBehavior changes the steal policy used by later [Pool.MakeReal]
// calls.
func (p *Pool) SetStealBehavior(b StealBehavior) { p.steal = b }

// StealBehavior returns the active steal policy.
func (p *Pool) StealBehavior() StealBehavior { return p.steal }

// Clock returns the pool clock in seconds: the sum of all dt passed to
// [Pool.Update].
func (p *Pool) Clock() float64 { return p.clock }

// RealVoiceCount returns the number of real voices.
func (p *Pool) RealVoiceCount() int { return p.count(Real) }

// VirtualVoiceCount returns the number of virtual voices.
func (p *Pool) VirtualVoiceCount() int { return p.count(Virtual) }

// ActiveVoiceCount returns the number of live (real or virtual) voices.
func (p *Pool) ActiveVoiceCount() int {
	n := 0
	for _, v := range p.slots {
		if v.live() {
			n++
		}
	}
	return n
}

// Len returns the number of slots, live or not. Use it with [Pool.VoiceAt] to
// visit every voice.
func (p *Pool) Len() int { return len(p.slots) }

// VoiceAt returns the voice in slot i, or nil if i is out of range. The
// returned pointer stays valid for the lifetime of the pool, but the slot may
// be recycled for another voice once the current one stops; hold a [Ref] to
// detect that.
func (p *Pool) VoiceAt(i int) *Voice {
	if i < 0 || i >= len(p.slots) {
		return nil
	}
	return p.slots[i]
}

// RefAt returns the reference to the voice in slot i. It returns the zero Ref
// for out-of-range indices and for stopped slots.
func (p *Pool) RefAt(i int) Ref {
	v := p.VoiceAt(i)
	if v == nil || !v.live() {
		return Ref{}
	}
	return v.Ref()
}

func (p *Pool) count(s State) int {
	n := 0
	for _, v := range p.slots {
		if v.state == s {
			n++
		}
	}
	return n
}

// transition moves v to state to, releasing its handle when it stops being
// real, and notifies the observer.
func (p *Pool) transition(v *Voice, to State, cause Cause) {
	from := v.state
	released := v.handle
	if to != Real {
		v.handle = 0
	} else {
		released = 0
	}
	v.state = to

	if p.observer != nil {
		p.observer(Transition{
			Ref:      v.Ref(),
			From:     from,
			To:       to,
			Cause:    cause,
			Released: released,
		})
	}
}
