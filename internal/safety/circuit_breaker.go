package safety

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ducminhle1904/risk-gate/internal/logger"
)

// ErrCircuitOpen is returned by Call while the circuit refuses calls.
var ErrCircuitOpen = errors.New("circuit open")

// CircuitState represents the state of a call circuit
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// String returns the string representation of the circuit state
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CallBreakerConfig holds configuration for a call breaker
type CallBreakerConfig struct {
	FailureThreshold uint32        // Number of failures before opening
	SuccessThreshold uint32        // Number of successes to close from half-open
	Timeout          time.Duration // Time to wait before trying again
}

// CallBreaker protects calls to an unreliable dependency, such as the
// exchange API used for position reconciliation. It is process-local and
// unrelated to the persisted trading breaker.
type CallBreaker struct {
	config      CallBreakerConfig
	state       CircuitState
	failures    uint32
	successes   uint32
	lastFailure time.Time
	nextAttempt time.Time
	mutex       sync.Mutex
	name        string
	now         func() time.Time
	log         logrus.FieldLogger
}

// NewCallBreaker creates a new call breaker
func NewCallBreaker(name string, config CallBreakerConfig, clock func() time.Time, log logrus.FieldLogger) *CallBreaker {
	// Set defaults if not provided
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 1
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if clock == nil {
		clock = time.Now
	}

	return &CallBreaker{
		config: config,
		state:  CircuitClosed,
		name:   name,
		now:    clock,
		log:    logger.OrDiscard(log).WithField("circuit", name),
	}
}

// Call executes fn with circuit breaker protection
func (cb *CallBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if !cb.canExecute() {
		return ErrCircuitOpen
	}

	err := fn(ctx)
	if err != nil {
		cb.recordFailure()
		return err
	}

	cb.recordSuccess()
	return nil
}

// canExecute determines if the circuit allows execution
func (cb *CallBreaker) canExecute() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return true
	case CircuitOpen:
		if !cb.now().Before(cb.nextAttempt) {
			cb.changeState(CircuitHalfOpen)
			cb.successes = 0
			return true
		}
	}
	return false
}

// recordSuccess records a successful execution
func (cb *CallBreaker) recordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failures = 0 // Reset failure count on success

	if cb.state == CircuitHalfOpen {
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.changeState(CircuitClosed)
			cb.successes = 0
		}
	}
}

// recordFailure records a failed execution
func (cb *CallBreaker) recordFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failures++
	cb.lastFailure = cb.now()

	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.toOpen()
		}
	case CircuitHalfOpen:
		cb.toOpen()
	}
}

func (cb *CallBreaker) toOpen() {
	cb.changeState(CircuitOpen)
	cb.nextAttempt = cb.now().Add(cb.config.Timeout)
	cb.successes = 0
}

// changeState must be called with the mutex held
func (cb *CallBreaker) changeState(newState CircuitState) {
	oldState := cb.state
	cb.state = newState
	if oldState != newState {
		cb.log.WithFields(logrus.Fields{"from": oldState.String(), "to": newState.String()}).Warn("circuit state changed")
	}
}

// GetState returns the current state of the circuit
func (cb *CallBreaker) GetState() CircuitState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// GetStats returns statistics about the circuit
func (cb *CallBreaker) GetStats() CallBreakerStats {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return CallBreakerStats{
		Name:        cb.name,
		State:       cb.state,
		Failures:    cb.failures,
		Successes:   cb.successes,
		LastFailure: cb.lastFailure,
		NextAttempt: cb.nextAttempt,
	}
}

// CallBreakerStats holds statistics about a call breaker
type CallBreakerStats struct {
	Name        string
	State       CircuitState
	Failures    uint32
	Successes   uint32
	LastFailure time.Time
	NextAttempt time.Time
}
