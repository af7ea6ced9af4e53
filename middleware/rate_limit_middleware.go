package middleware

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"simlink/protocol"
)

// RateLimit paces outbound frames with a token bucket of r frames per second
// and the given burst. A send waits for a token; if ctx ends first it fails
// with ErrRateLimited.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next SendFunc) SendFunc {
		return func(ctx context.Context, f *protocol.Frame) error {
			if err := limiter.Wait(ctx); err != nil {
				return fmt.Errorf("%w: %s: %v", protocol.ErrRateLimited, f.Header.Opcode, err)
			}
			return next(ctx, f)
		}
	}
}
