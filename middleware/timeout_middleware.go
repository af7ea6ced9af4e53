package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"simlink/protocol"
)

// Timeout bounds a single send, including time spent waiting for the write
// lock. The transport turns the deadline into a write deadline on the conn.
func Timeout(d time.Duration) Middleware {
	return func(next SendFunc) SendFunc {
		return func(ctx context.Context, f *protocol.Frame) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			err := next(ctx, f)
			if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: send %s: %v", protocol.ErrTimeout, f.Header.Opcode, err)
			}
			return err
		}
	}
}
