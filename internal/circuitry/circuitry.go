// Package circuitry is a per-recipient circuit breaker registry (spec §4.7/§4.4), grounded on
// the teacher's CircuitBreakerFactory (internal/architecture/fx/resilience/circuit_breaker.go):
// get-or-create by name, wraps sony/gobreaker, logs state transitions via zap. The registry maps
// spec's exact semantics (consecutive-failure open threshold, fixed recovery window,
// consecutive half-open-success close threshold) onto gobreaker's native knobs: ReadyToTrip
// checks ConsecutiveFailures, Timeout is the recovery window, and MaxRequests is the half-open
// success count gobreaker itself requires (consecutively, since any half-open failure reopens
// immediately) before closing — no separate state machine is needed.
package circuitry

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Settings configures every breaker the registry creates (spec §6 circuit.* tunables).
type Settings struct {
	FailureThreshold     uint32
	HalfOpenSuccessCount uint32
	RecoveryWindow       time.Duration
}

// Registry is a get-or-create-by-name set of circuit breakers.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
	settings Settings
	logger   *zap.Logger
}

// NewRegistry constructs an empty registry using settings for every breaker it creates.
func NewRegistry(settings Settings, logger *zap.Logger) *Registry {
	return &Registry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		settings: settings,
		logger:   logger,
	}
}

// For returns the circuit breaker for name (e.g. a participant ID), creating it on first use.
func (r *Registry) For(name string) *gobreaker.CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok = r.breakers[name]; ok {
		return cb
	}

	cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: r.settings.HalfOpenSuccessCount,
		Timeout:     r.settings.RecoveryWindow,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= r.settings.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Info("circuit breaker state changed",
				zap.String("recipient", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	r.breakers[name] = cb
	return cb
}

// State returns the current state of name's breaker, or StateClosed if it doesn't exist yet.
func (r *Registry) State(name string) gobreaker.State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.breakers[name]
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}

// Snapshot is a read-only view of one breaker's state, for the /debug/circuits admin surface.
type Snapshot struct {
	Name                 string
	State                string
	ConsecutiveFailures  uint32
	ConsecutiveSuccesses uint32
}

// Snapshot returns the current state of every known breaker.
func (r *Registry) Snapshot() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.breakers))
	for name, cb := range r.breakers {
		counts := cb.Counts()
		out = append(out, Snapshot{
			Name:                 name,
			State:                cb.State().String(),
			ConsecutiveFailures:  counts.ConsecutiveFailures,
			ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		})
	}
	return out
}

// Execute runs fn through name's breaker. On a non-circuit-open error, the value fn itself
// produced is still returned alongside the error (e.g. so a caller can inspect attempt counts
// recorded on a partial result even when the call ultimately failed).
func Execute[T any](r *Registry, name string, fn func() (T, error)) (T, error) {
	cb := r.For(name)
	result, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	var zero T
	if result == nil {
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		return zero, err
	}
	return typed, err
}
