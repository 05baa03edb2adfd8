package resilience

import (
	"errors"
	"testing"
	"time"
)

var errTest = errors.New("test error")

// manualClock is advanced explicitly by the test.
type manualClock struct{ now time.Time }

func (c *manualClock) Now() time.Time          { return c.now }
func (c *manualClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(maxFailures int, cooldown time.Duration) (*Breaker, *manualClock) {
	clk := &manualClock{now: time.Unix(0, 0)}
	return NewBreaker(Config{
		Name:        "test",
		MaxFailures: maxFailures,
		Cooldown:    cooldown,
		Now:         clk.Now,
	}), clk
}

func TestNewBreaker_Defaults(t *testing.T) {
	b := NewBreaker(Config{Name: "test"})
	if b.maxFailures != 5 {
		t.Errorf("maxFailures = %d, want 5", b.maxFailures)
	}
	if b.cooldown != 2*time.Second {
		t.Errorf("cooldown = %v, want 2s", b.cooldown)
	}
	if b.halfOpenMax != 1 {
		t.Errorf("halfOpenMax = %d, want 1", b.halfOpenMax)
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", b.State())
	}
}

func TestBreaker_ClosedToOpen(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)

	for range 3 {
		_ = b.Execute(func() error { return errTest })
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open after 3 failures", b.State())
	}

	called := false
	err := b.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("err = %v, want ErrBreakerOpen", err)
	}
	if called {
		t.Error("fn called while open")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)

	_ = b.Execute(func() error { return errTest })
	_ = b.Execute(func() error { return errTest })
	_ = b.Execute(func() error { return nil })
	_ = b.Execute(func() error { return errTest })
	_ = b.Execute(func() error { return errTest })

	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestBreaker_CooldownOnInjectedClock(t *testing.T) {
	b, clk := newTestBreaker(1, 2*time.Second)

	_ = b.Execute(func() error { return errTest })
	clk.Advance(1999 * time.Millisecond)
	if b.State() != StateOpen {
		t.Fatalf("state before cooldown = %v, want open", b.State())
	}

	clk.Advance(time.Millisecond)
	if b.State() != StateHalfOpen {
		t.Fatalf("state after cooldown = %v, want half-open", b.State())
	}

	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state after successful probe = %v, want closed", b.State())
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b, clk := newTestBreaker(1, time.Second)

	_ = b.Execute(func() error { return errTest })
	clk.Advance(time.Second)

	if err := b.Execute(func() error { return errTest }); !errors.Is(err, errTest) {
		t.Fatalf("probe err = %v, want errTest", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open after failed probe", b.State())
	}
	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("err right after re-open = %v, want ErrBreakerOpen", err)
	}
}

func TestBreaker_OnStateChangeAndReset(t *testing.T) {
	clk := &manualClock{now: time.Unix(0, 0)}
	var states []State
	b := NewBreaker(Config{
		MaxFailures:   1,
		Cooldown:      time.Second,
		Now:           clk.Now,
		OnStateChange: func(s State) { states = append(states, s) },
	})

	_ = b.Execute(func() error { return errTest })
	clk.Advance(time.Second)
	_ = b.Execute(func() error { return nil })
	_ = b.Execute(func() error { return errTest })
	b.Reset()

	want := []State{StateOpen, StateHalfOpen, StateClosed, StateOpen, StateClosed}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("states[%d] = %v, want %v", i, states[i], want[i])
		}
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(42), "unknown"},
	}
	for _, tc := range tests {
		if got := tc.s.String(); got != tc.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tc.s), got, tc.want)
		}
	}
}
