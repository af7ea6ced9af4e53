package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"simlink/protocol"
)

// Logging logs every outbound frame at debug level and failed sends at warn.
func Logging(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next SendFunc) SendFunc {
		return func(ctx context.Context, f *protocol.Frame) error {
			start := time.Now()
			err := next(ctx, f)
			fields := []zap.Field{
				zap.Stringer("opcode", f.Header.Opcode),
				zap.Uint32("packet_id", f.Header.PacketID),
				zap.Int("body_len", len(f.Body)),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				logger.Warn("frame send failed", append(fields, zap.Error(err))...)
				return err
			}
			logger.Debug("frame sent", fields...)
			return nil
		}
	}
}
