// Package resilience provides the breaker that shields the audio backend from
// a storm of start requests while it is failing.
//
// A voice that cannot be started stays virtual, and the pool keeps trying to
// promote it every frame. Without a breaker a dead audio device would be hit
// with dozens of start calls per tick. [Breaker] is a three-state breaker
// (closed → open → half-open) whose cooldown is measured on an injectable
// clock, so the engine can run it on its own frame clock.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Execute] while the breaker is open
// and the cooldown has not elapsed.
var ErrBreakerOpen = errors.New("resilience: breaker open")

// State represents the current operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrBreakerOpen] until the cooldown
	// elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. If they all
	// succeed the breaker closes; any failure re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds tuning knobs for a [Breaker].
type Config struct {
	// Name is a label used in log messages.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 5.
	MaxFailures int

	// Cooldown is how long the breaker stays open before probing. Default: 2s.
	Cooldown time.Duration

	// HalfOpenMax is the number of successful probes needed to close again.
	// Default: 1.
	HalfOpenMax int

	// Now supplies the current time. Default: time.Now.
	Now func() time.Time

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// OnStateChange, if set, is called with the new state after every
	// transition. It runs with the breaker locked and must not call back into
	// it.
	OnStateChange func(State)
}

// Breaker implements the three-state circuit breaker pattern.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	halfOpenMax int
	now         func() time.Time
	logger      *slog.Logger
	onChange    func(State)

	mu              sync.Mutex
	state           State
	consecutiveFail int
	openedAt        time.Time
	probes          int
}

// NewBreaker creates a [Breaker]. Zero-value config fields are replaced with
// defaults.
func NewBreaker(cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 2 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Breaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
		halfOpenMax: cfg.HalfOpenMax,
		now:         cfg.Now,
		logger:      cfg.Logger,
		onChange:    cfg.OnStateChange,
		state:       StateClosed,
	}
}

// Execute runs fn if the breaker allows it and records the outcome. While
// open it returns [ErrBreakerOpen] without calling fn.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.setState(StateHalfOpen)
		b.probes = 0
		b.logger.Info("breaker probing", "name", b.name)
	case StateHalfOpen:
		if b.probes >= b.halfOpenMax {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
	}
	probing := b.state == StateHalfOpen
	if probing {
		b.probes++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.recordFailure(probing, err)
	} else {
		b.recordSuccess(probing)
	}
	return err
}

// recordFailure must be called with b.mu held.
func (b *Breaker) recordFailure(probing bool, err error) {
	if probing || b.state == StateHalfOpen {
		b.open()
		b.logger.Warn("breaker re-opened", "name", b.name, "err", err)
		return
	}
	b.consecutiveFail++
	if b.consecutiveFail >= b.maxFailures && b.state == StateClosed {
		b.open()
		b.logger.Warn("breaker opened",
			"name", b.name,
			"consecutive_failures", b.consecutiveFail,
			"cooldown", b.cooldown,
			"err", err,
		)
	}
}

// recordSuccess must be called with b.mu held.
func (b *Breaker) recordSuccess(probing bool) {
	b.consecutiveFail = 0
	if !probing || b.state != StateHalfOpen {
		return
	}
	if b.probes >= b.halfOpenMax {
		b.setState(StateClosed)
		b.probes = 0
		b.logger.Info("breaker closed", "name", b.name)
	}
}

func (b *Breaker) open() {
	b.setState(StateOpen)
	b.openedAt = b.now()
	b.probes = 0
}

func (b *Breaker) setState(s State) {
	if b.state == s {
		return
	}
	b.state = s
	if b.onChange != nil {
		b.onChange(s)
	}
}

// State returns the current [State]. An open breaker whose cooldown has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// [Breaker.Execute].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker back to [StateClosed].
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.setState(StateClosed)
	b.consecutiveFail = 0
	b.probes = 0
}
