// Package ratelimit implements the per-(ruleId, publicKey) execution cap
// from spec.md §4.4: "rate-limit reached (countFor(...) >= maxExecutions)".
// The durable count comes from RuleExecutionHistory; an in-process
// golang.org/x/time/rate limiter (the same package Synnergy's contract VM
// uses for its call-rate guard) additionally smooths bursts within one
// process between two history reads.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/database"
)

// Limiter decides whether a (ruleId, publicKey) pair may execute again.
type Limiter struct {
	history *database.HistoryRepository

	mu       sync.Mutex
	burst    map[string]*rate.Limiter
	burstRPS rate.Limit
	burstCap int
}

// NewLimiter builds a Limiter over the durable history repository.
func NewLimiter(history *database.HistoryRepository) *Limiter {
	return &Limiter{
		history:  history,
		burst:    make(map[string]*rate.Limiter),
		burstRPS: rate.Every(time.Second), // at most one execution/sec per key in-process
		burstCap: 1,
	}
}

// Allow reports whether (ruleId, publicKey) may execute given the rule's
// configured window and cap. maxExecutions<=0 means unlimited.
func (l *Limiter) Allow(ctx context.Context, ruleID, publicKey string, windowSeconds int, maxExecutions int) (bool, int, error) {
	if maxExecutions <= 0 {
		return true, 0, nil
	}

	if !l.burstFor(ruleID, publicKey).Allow() {
		return false, maxExecutions, nil
	}

	count, err := l.history.CountInWindow(ctx, ruleID, publicKey, windowSeconds)
	if err != nil {
		return false, 0, err
	}
	return count < maxExecutions, count, nil
}

func (l *Limiter) burstFor(ruleID, publicKey string) *rate.Limiter {
	key := ruleID + "|" + publicKey
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.burst[key]
	if !ok {
		lim = rate.NewLimiter(l.burstRPS, l.burstCap)
		l.burst[key] = lim
	}
	return lim
}
