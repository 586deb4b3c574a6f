package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// MintLimiter is a token bucket shared by every worker in the process. It
// caps how many mint transactions per second are submitted from the operator
// account. Burst equals the rate so idle periods do not build up credit.
type MintLimiter struct {
	limiter *rate.Limiter
}

// New creates a MintLimiter allowing ratePerSec mints per second. A
// non-positive rate disables limiting.
func New(ratePerSec int) *MintLimiter {
	if ratePerSec <= 0 {
		return &MintLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	return &MintLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec)}
}

// Wait blocks until a mint may be submitted.
// Returns a non-nil error only if ctx is cancelled while waiting.
func (l *MintLimiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}
