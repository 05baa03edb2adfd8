package voice_test

import (
	"testing"

	"pgregory.net/rapid"

	"github.com/MrWong99/polyvox/pkg/audio"
	"github.com/MrWong99/polyvox/pkg/audio/attenuation"
	"github.com/MrWong99/polyvox/pkg/audio/voice"
)

// poolMachine drives a Pool through random operation sequences and checks
// the allocation invariants after every step.
type poolMachine struct {
	pool    *voice.Pool
	refs    []voice.Ref
	steals  []voice.Transition
	handles audio.Handle
}

func newPoolMachine(t *rapid.T) *poolMachine {
	m := &poolMachine{}
	behavior := rapid.SampledFrom([]voice.StealBehavior{
		voice.Quietest, voice.Oldest, voice.Furthest, voice.None,
	}).Draw(t, "behavior")
	m.pool = voice.New(
		voice.WithMaxRealVoices(uint(rapid.IntRange(0, 6).Draw(t, "max"))),
		voice.WithStealBehavior(behavior),
		voice.WithObserver(func(tr voice.Transition) {
			if tr.Cause == voice.CauseSteal {
				m.steals = append(m.steals, tr)
			}
		}),
	)
	return m
}

func (m *poolMachine) pick(t *rapid.T) (voice.Ref, bool) {
	if len(m.refs) == 0 {
		return voice.Ref{}, false
	}
	return m.refs[rapid.IntRange(0, len(m.refs)-1).Draw(t, "ref")], true
}

func (m *poolMachine) allocate(t *rapid.T) {
	pos := audio.Vec3{X: rapid.Float64Range(0, 60).Draw(t, "x")}
	ref := m.pool.AllocateVoice("ev", rapid.Uint8().Draw(t, "priority"), pos, attenuation.DefaultSettings())
	v, _ := m.pool.Get(ref)
	v.Volume = rapid.Float64Range(0, 1).Draw(t, "volume")
	v.UpdateAudibility(audio.Vec3{})
	m.refs = append(m.refs, ref)
}

func (m *poolMachine) makeReal(t *rapid.T) {
	ref, ok := m.pick(t)
	if !ok {
		return
	}
	requester, ok := m.pool.Get(ref)
	if !ok {
		m.pool.MakeReal(ref)
		return
	}

	// Snapshot priorities and audibilities before the call: the steal
	// decision is made against these values.
	type snap struct {
		priority   uint8
		audibility float64
	}
	before := map[voice.Ref]snap{}
	for i := range m.pool.Len() {
		v := m.pool.VoiceAt(i)
		before[v.Ref()] = snap{v.Priority(), v.Audibility()}
	}
	reqPri, reqAud := requester.Priority(), requester.Audibility()

	m.steals = m.steals[:0]
	if m.pool.MakeReal(ref) {
		m.handles++
		m.pool.AttachHandle(ref, m.handles)
	}

	for _, tr := range m.steals {
		victim := before[tr.Ref]
		if victim.priority > reqPri {
			t.Fatalf("stole priority %d voice for priority %d requester", victim.priority, reqPri)
		}
		if victim.priority == reqPri && victim.audibility >= reqAud {
			t.Fatalf("stole equal-priority voice with audibility %g >= requester %g", victim.audibility, reqAud)
		}
	}
	if len(m.steals) > 1 {
		t.Fatalf("one MakeReal stole %d voices", len(m.steals))
	}
}

func (m *poolMachine) check(t *rapid.T) {
	p := m.pool
	if p.RealVoiceCount() > int(p.MaxVoices()) {
		t.Fatalf("RealVoiceCount() = %d exceeds MaxVoices() = %d", p.RealVoiceCount(), p.MaxVoices())
	}
	if p.RealVoiceCount()+p.VirtualVoiceCount() != p.ActiveVoiceCount() {
		t.Fatalf("real %d + virtual %d != active %d", p.RealVoiceCount(), p.VirtualVoiceCount(), p.ActiveVoiceCount())
	}

	seen := map[voice.ID]bool{}
	for i := range p.Len() {
		v := p.VoiceAt(i)
		if v.State() == voice.Stopped {
			continue
		}
		if seen[v.ID()] {
			t.Fatalf("duplicate live ID %d", v.ID())
		}
		seen[v.ID()] = true
		if v.State() != voice.Real && v.Handle() != 0 {
			t.Fatalf("%v voice exposes handle %d", v.State(), v.Handle())
		}
		if v.Audibility() < 0 || v.Audibility() > 1 {
			t.Fatalf("audibility %g out of range", v.Audibility())
		}
	}
}

func TestProperty_PoolInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := newPoolMachine(t)
		t.Repeat(map[string]func(*rapid.T){
			"allocate": m.allocate,
			"makeReal": m.makeReal,
			"makeVirtual": func(t *rapid.T) {
				if ref, ok := m.pick(t); ok {
					m.pool.MakeVirtual(ref)
				}
			},
			"stop": func(t *rapid.T) {
				if ref, ok := m.pick(t); ok {
					m.pool.StopVoice(ref)
				}
			},
			"update": func(t *rapid.T) {
				listener := audio.Vec3{X: rapid.Float64Range(0, 30).Draw(t, "listener")}
				m.pool.Update(rapid.Float64Range(0, 0.1).Draw(t, "dt"), listener)
			},
			"setMax": func(t *rapid.T) {
				m.pool.SetMaxVoices(uint(rapid.IntRange(0, 6).Draw(t, "newMax")))
			},
			"": m.check,
		})
	})
}

func TestProperty_HighPriorityNeverStolenByLower(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := voice.New(voice.WithMaxRealVoices(1), voice.WithStealBehavior(
			rapid.SampledFrom([]voice.StealBehavior{voice.Quietest, voice.Oldest, voice.Furthest}).Draw(t, "behavior"),
		))
		guard := p.AllocateVoice("guard", 200, audio.Vec3{}, attenuation.DefaultSettings())
		gv, _ := p.Get(guard)
		gv.Volume = rapid.Float64Range(0, 1).Draw(t, "guardVolume")
		gv.UpdateAudibility(audio.Vec3{})
		if !p.MakeReal(guard) {
			t.Fatal("guard could not become real in an empty pool")
		}

		n := rapid.IntRange(1, 20).Draw(t, "requests")
		for range n {
			ref := p.AllocateVoice("req", uint8(rapid.IntRange(0, 200).Draw(t, "priority")), audio.Vec3{}, attenuation.DefaultSettings())
			v, _ := p.Get(ref)
			v.Volume = rapid.Float64Range(0, 1).Draw(t, "volume")
			v.UpdateAudibility(audio.Vec3{})
			if v.Priority() == 200 && v.Audibility() > gv.Audibility() {
				continue // legitimately allowed to steal
			}
			p.MakeReal(ref)
			if gv.State() != voice.Real {
				t.Fatalf("priority-200 voice demoted by priority %d request (aud %g vs %g)",
					v.Priority(), v.Audibility(), gv.Audibility())
			}
		}
	})
}
