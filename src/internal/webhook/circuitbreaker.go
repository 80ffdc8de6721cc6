package webhook

import (
	"sync"
	"time"
)

// CircuitState is one of the three states a per-webhook breaker can
// be in (§4.8).
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitBreakerConfig tunes the breaker's thresholds.
type CircuitBreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	SuccessThreshold int
}

func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 3,
	}
}

type circuitInfo struct {
	state            CircuitState
	failures         int
	successes        int
	lastFailure      time.Time
}

// CircuitBreaker is an optional per-webhook breaker (§4.8): when
// enabled, an open circuit short-circuits delivery attempts without
// making the HTTP call. Disabled (not passed to the Dispatcher), it is
// entirely inert.
type CircuitBreaker struct {
	mu       sync.Mutex
	breakers map[uint]*circuitInfo
	config   CircuitBreakerConfig
}

func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		breakers: make(map[uint]*circuitInfo),
		config:   config,
	}
}

func (cb *CircuitBreaker) get(webhookID uint) *circuitInfo {
	info, ok := cb.breakers[webhookID]
	if !ok {
		info = &circuitInfo{state: CircuitClosed}
		cb.breakers[webhookID] = info
	}
	return info
}

// Allow reports whether a delivery attempt to webhookID may proceed,
// transitioning an open breaker to half-open once RecoveryTimeout has
// elapsed.
func (cb *CircuitBreaker) Allow(webhookID uint) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	info := cb.get(webhookID)
	switch info.state {
	case CircuitOpen:
		if time.Since(info.lastFailure) >= cb.config.RecoveryTimeout {
			info.state = CircuitHalfOpen
			info.successes = 0
			return true
		}
		return false
	default:
		return true
	}
}

func (cb *CircuitBreaker) RecordSuccess(webhookID uint) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	info := cb.get(webhookID)
	switch info.state {
	case CircuitHalfOpen:
		info.successes++
		if info.successes >= cb.config.SuccessThreshold {
			info.state = CircuitClosed
			info.failures = 0
			info.successes = 0
		}
	case CircuitClosed:
		info.failures = 0
	}
}

func (cb *CircuitBreaker) RecordFailure(webhookID uint) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	info := cb.get(webhookID)
	info.lastFailure = time.Now()

	switch info.state {
	case CircuitHalfOpen:
		info.state = CircuitOpen
		info.successes = 0
	case CircuitClosed:
		info.failures++
		if info.failures >= cb.config.FailureThreshold {
			info.state = CircuitOpen
		}
	}
}

func (cb *CircuitBreaker) GetState(webhookID uint) CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.get(webhookID).state
}

func (cb *CircuitBreaker) Reset(webhookID uint) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	delete(cb.breakers, webhookID)
}
