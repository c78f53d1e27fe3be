package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

var (
	// ErrAllFailed is returned when every entry in a [FallbackGroup] fails,
	// is unavailable, or has an open circuit breaker.
	ErrAllFailed = errors.New("resilience: all routes failed")

	// ErrUnavailable is reported for an entry that declared itself not ready.
	ErrUnavailable = errors.New("resilience: route unavailable")

	// ErrNoneTried is wrapped alongside [ErrAllFailed] when no entry was
	// actually called because each was unavailable or had an open breaker.
	// Retrying immediately cannot succeed.
	ErrNoneTried = errors.New("resilience: no route could be tried")
)

// Availability is implemented by group entries that can be temporarily
// unusable, such as a connection that is not open. An unavailable entry is
// skipped without touching its circuit breaker.
type Availability interface {
	Available() bool
}

// FallbackConfig configures the per-entry circuit breakers of a
// [FallbackGroup].
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig

	// OnFallback, if set, is called whenever an entry is passed over. reason
	// is the error that caused the skip.
	OnFallback func(name string, reason error)
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary and zero or more fallback values of the same
// type. Each call tries entries in registration order and stops at the first
// success.
//
// Entries must be registered before the group is used concurrently.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry that is tried after all earlier ones.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Names returns the entry names in try order.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		names[i] = e.name
	}
	return names
}

// Breaker returns the circuit breaker of the named entry, or nil.
func (fg *FallbackGroup[T]) Breaker(name string) *CircuitBreaker {
	for i := range fg.entries {
		if fg.entries[i].name == name {
			return fg.entries[i].breaker
		}
	}
	return nil
}

// Execute tries fn against each entry until one succeeds and returns the name
// of the entry that served the call. When all entries fail the error wraps
// [ErrAllFailed] and the last entry's error.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) (string, error) {
	_, name, err := ExecuteWithResultNamed(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return name, err
}

// ExecuteWithResult is [FallbackGroup.Execute] for calls that produce a
// value. It is a package-level function because methods cannot have type
// parameters.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	result, _, err := ExecuteWithResultNamed(fg, fn)
	return result, err
}

// ExecuteWithResultNamed is like [ExecuteWithResult] and also returns the
// name of the entry that produced the result.
func ExecuteWithResultNamed[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, string, error) {
	var (
		zero    R
		lastErr error
		tried   bool
	)
	for i := range fg.entries {
		entry := &fg.entries[i]
		if a, ok := any(entry.value).(Availability); ok && !a.Available() {
			lastErr = fmt.Errorf("%s: %w", entry.name, ErrUnavailable)
			fg.skipped(entry.name, ErrUnavailable)
			continue
		}

		var result R
		err := entry.breaker.Execute(func() error {
			tried = true
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			return result, entry.name, nil
		}
		lastErr = fmt.Errorf("%s: %w", entry.name, err)
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping route (circuit open)", "route", entry.name)
		} else {
			slog.Warn("route failed, trying next", "route", entry.name, "err", err)
		}
		fg.skipped(entry.name, err)
	}
	if !tried {
		return zero, "", fmt.Errorf("%w: %w: %w", ErrAllFailed, ErrNoneTried, lastErr)
	}
	return zero, "", fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

func (fg *FallbackGroup[T]) skipped(name string, reason error) {
	if fg.cfg.OnFallback != nil {
		fg.cfg.OnFallback(name, reason)
	}
}
