// Package resilience provides the engine failover used when a character has a
// secondary TTS engine.
//
// [CircuitBreaker] stops sending lines to an engine that keeps failing.
// [FallbackGroup] gives every entry its own breaker and tries entries in
// registration order. [TTSFallback] applies this to whole-line synthesis.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the cooldown has
	// passed.
	StateOpen

	// StateHalfOpen lets one probe call through at a time. Enough successful
	// probes close the breaker; a failed probe opens it again.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero values take the
// defaults noted per field.
type CircuitBreakerConfig struct {
	// Name labels the breaker in logs and transition callbacks.
	Name string

	// Threshold is the number of consecutive failed lines that opens the
	// breaker. Default: 3.
	Threshold int

	// Cooldown is how long an open breaker rejects calls. Default: 30s.
	Cooldown time.Duration

	// Probes is the number of successful half-open calls needed to close.
	// Default: 1.
	Probes int

	// IsFailure decides whether an error counts against the engine. By
	// default cancellations and deadlines do not: the caller gave up, the
	// engine did not fail.
	IsFailure func(error) bool

	// OnStateChange is called after every transition with the breaker's
	// lock held. It must not call back into the breaker.
	OnStateChange func(name string, from, to State)

	// Now replaces time.Now in tests.
	Now func() time.Time
}

// CircuitBreaker counts consecutive engine failures and sheds load from an
// engine that is down. A synthesized line can take seconds, so in the
// half-open state only one probe runs at a time.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	probing   bool
	successes int
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = countsAsFailure
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg}
}

func countsAsFailure(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Name returns the label the breaker was created with.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Execute calls fn unless the breaker rejects the call, in which case it
// returns [ErrCircuitOpen] without calling fn. fn's error is returned as is.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	cb.record(probe, err)
	return err
}

// admit decides whether a call may run and whether it is the half-open probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.cfg.Now().Sub(cb.openedAt) < cb.cfg.Cooldown {
			return false, ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
		cb.successes = 0
	}
	if cb.state == StateHalfOpen {
		if cb.probing {
			return false, ErrCircuitOpen
		}
		cb.probing = true
		return true, nil
	}
	return false, nil
}

func (cb *CircuitBreaker) record(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probing = false
	}
	switch {
	case err == nil:
		cb.failures = 0
		if probe {
			cb.successes++
			if cb.successes >= cb.cfg.Probes {
				cb.transition(StateClosed)
				slog.Info("resilience: engine recovered", "engine", cb.cfg.Name)
			}
		}
	case !cb.cfg.IsFailure(err):
		// Neutral outcome: a cancelled probe leaves the breaker half-open.
	case probe:
		cb.open()
		slog.Warn("resilience: engine probe failed", "engine", cb.cfg.Name, "err", err)
	default:
		cb.failures++
		if cb.state == StateClosed && cb.failures >= cb.cfg.Threshold {
			cb.open()
			slog.Warn("resilience: engine circuit opened",
				"engine", cb.cfg.Name, "consecutive_failures", cb.failures, "cooldown", cb.cfg.Cooldown)
		}
	}
}

// open must be called with cb.mu held.
func (cb *CircuitBreaker) open() {
	cb.openedAt = cb.cfg.Now()
	cb.transition(StateOpen)
}

// transition must be called with cb.mu held.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	cb.state = to
	if to == StateClosed {
		cb.failures, cb.successes = 0, 0
	}
	if from != to && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

// State returns the current state. An open breaker whose cooldown has passed
// reports [StateHalfOpen]; the transition itself happens on the next call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.Cooldown {
		return StateHalfOpen
	}
	return cb.state
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probing = false
	cb.transition(StateClosed)
}
