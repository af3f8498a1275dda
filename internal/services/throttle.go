package services

import (
	"context"
	"math"

	"golang.org/x/time/rate"
)

// Throttle paces background generator calls so pregeneration and queue drains
// cannot flood the generator. Request-path calls are never throttled.
type Throttle struct {
	limiter *rate.Limiter
}

// NewThrottle allows perSecond calls per second with a burst of twice that.
// A non-positive rate disables throttling.
func NewThrottle(perSecond float64) *Throttle {
	if perSecond <= 0 {
		return &Throttle{}
	}
	burst := int(math.Max(1, math.Ceil(perSecond*2)))
	return &Throttle{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Wait blocks until the next call is allowed or ctx ends
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil || t.limiter == nil {
		return nil
	}
	return t.limiter.Wait(ctx)
}
