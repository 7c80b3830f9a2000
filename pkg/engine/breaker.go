package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// errTaskFailed is the sentinel fed to the breaker on a failed outcome.
var errTaskFailed = errors.New("task outcome failed")

// breakerSet holds one circuit breaker per account. An open breaker means
// the account has failed too many recent tasks and routing should avoid it
// until the cooldown elapses or an operator reinstates it.
type breakerSet struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func newBreakerSet() *breakerSet {
	return &breakerSet{breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

func breakerSettings(account string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:    account,
		Timeout: 10 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
}

func (s *breakerSet) get(account string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	cb, ok := s.breakers[account]
	if !ok {
		cb = gobreaker.NewCircuitBreaker(breakerSettings(account))
		s.breakers[account] = cb
	}
	return cb
}

func (s *breakerSet) reset(account string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.breakers[account] = gobreaker.NewCircuitBreaker(breakerSettings(account))
}

// recordBreakerOutcome feeds a finished task into the account's breaker.
func (e *Engine) recordBreakerOutcome(account string, passed bool) {
	cb := e.breakers.get(account)
	_, _ = cb.Execute(func() (any, error) {
		if passed {
			return nil, nil
		}
		return nil, errTaskFailed
	})
}

// BreakerStatus is the reply payload of check_circuit_breaker.
type BreakerStatus struct {
	Account             string `json:"account"`
	State               string `json:"state"`
	Tripped             bool   `json:"tripped"`
	ConsecutiveFailures uint32 `json:"consecutiveFailures"`
	TotalFailures       uint32 `json:"totalFailures"`
	TotalSuccesses      uint32 `json:"totalSuccesses"`
}

// CheckBreaker reports the breaker state for an account.
func (e *Engine) CheckBreaker(account string) BreakerStatus {
	cb := e.breakers.get(account)
	counts := cb.Counts()
	state := cb.State()
	return BreakerStatus{
		Account:             account,
		State:               state.String(),
		Tripped:             state != gobreaker.StateClosed,
		ConsecutiveFailures: counts.ConsecutiveFailures,
		TotalFailures:       counts.TotalFailures,
		TotalSuccesses:      counts.TotalSuccesses,
	}
}

// ReinstateAgent resets an account's breaker to closed.
func (e *Engine) ReinstateAgent(account string) BreakerStatus {
	e.breakers.reset(account)
	return e.CheckBreaker(account)
}
