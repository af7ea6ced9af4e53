package middleware

import (
	"context"

	"simlink/metrics"
	"simlink/protocol"
)

// Metrics counts successfully written frames by opcode.
func Metrics(c *metrics.Collector) Middleware {
	return func(next SendFunc) SendFunc {
		return func(ctx context.Context, f *protocol.Frame) error {
			if err := next(ctx, f); err != nil {
				c.RecordFailure(err)
				return err
			}
			c.RecordFrameSent(f.Header.Opcode)
			return nil
		}
	}
}
