package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RequestLogger logs one line per request. Bodies and headers are never
// logged.
func RequestLogger(log *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// let the error handler write the response so the status is final
				c.Error(err)
			}

			res := c.Response()
			level := zapcore.InfoLevel
			switch {
			case res.Status >= 500:
				level = zapcore.ErrorLevel
			case res.Status >= 400:
				level = zapcore.WarnLevel
			}
			fields := []zap.Field{
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Int("status", res.Status),
				zap.Duration("latency", time.Since(start)),
				zap.String("remote_ip", c.RealIP()),
				zap.Int64("bytes_out", res.Size),
				zap.String("subject", subject(c)),
			}
			if err != nil {
				fields = append(fields, zap.Error(err))
			}
			log.Check(level, "request").Write(fields...)
			return nil
		}
	}
}
