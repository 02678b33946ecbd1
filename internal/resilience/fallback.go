package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when no entry of a [FallbackGroup] produced a
// result.
var ErrAllFailed = errors.New("resilience: every engine failed")

// FallbackConfig is the template for the breaker given to each entry of a
// [FallbackGroup]. The breaker name is set to the entry name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type member[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup is an ordered list of interchangeable backends, each behind
// its own [CircuitBreaker]. The first entry is the primary.
//
// Entries must be added before the group is used concurrently.
type FallbackGroup[T any] struct {
	members []member[T]
	cfg     FallbackConfig
}

// NewFallbackGroup returns a group whose primary is v.
func NewFallbackGroup[T any](v T, name string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(name, v)
	return fg
}

// AddFallback appends an entry that is tried after all earlier ones.
func (fg *FallbackGroup[T]) AddFallback(name string, v T) {
	cb := fg.cfg.CircuitBreaker
	cb.Name = name
	fg.members = append(fg.members, member[T]{name: name, value: v, breaker: NewCircuitBreaker(cb)})
}

// Names lists the entries in the order they are tried.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, 0, len(fg.members))
	for _, m := range fg.members {
		names = append(names, m.name)
	}
	return names
}

// Breaker returns the named entry's breaker, or nil if there is no such
// entry.
func (fg *FallbackGroup[T]) Breaker(name string) *CircuitBreaker {
	for i := range fg.members {
		if fg.members[i].name == name {
			return fg.members[i].breaker
		}
	}
	return nil
}

// Execute is [ExecuteWithResult] for calls without a result.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(context.Context, T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(ctx context.Context, v T) (struct{}, error) {
		return struct{}{}, fn(ctx, v)
	})
	return err
}

// ExecuteWithResult calls fn on each entry in order and returns the first
// success. Entries whose breaker is open are skipped. It stops with
// ctx.Err() as soon as ctx is done. When every entry fails the error wraps
// [ErrAllFailed] and each entry's error, prefixed with the entry name.
func ExecuteWithResult[T, R any](ctx context.Context, fg *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, error) {
	var zero R
	attempts := make([]error, 0, len(fg.members))
	for i := range fg.members {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		m := &fg.members[i]
		var out R
		err := m.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			out, err = fn(ctx, m.value)
			return err
		})
		switch {
		case err == nil:
			if i > 0 {
				slog.Info("resilience: served by fallback engine", "engine", m.name, "skipped", i)
			}
			return out, nil
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("resilience: engine skipped, circuit open", "engine", m.name)
		default:
			slog.Warn("resilience: engine failed", "engine", m.name, "err", err)
		}
		attempts = append(attempts, fmt.Errorf("%s: %w", m.name, err))
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(attempts...))
}
