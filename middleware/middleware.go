// Package middleware wraps the transport's outbound path.
//
// A SendFunc writes one frame. Middlewares wrap it like an onion; the first
// middleware passed to Chain is the outermost layer and sees the frame first.
// The innermost SendFunc belongs to the transport, which stamps the packet ID,
// so layers that run after next returns can read f.Header.PacketID.
package middleware

import (
	"context"

	"simlink/protocol"
)

type SendFunc func(ctx context.Context, f *protocol.Frame) error

type Middleware func(next SendFunc) SendFunc

// Chain combines several middlewares into one.
func Chain(middlewares ...Middleware) Middleware {
	return func(next SendFunc) SendFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
