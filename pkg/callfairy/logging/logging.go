// Package logging builds the zap logger and the gin middlewares that use it.
package logging

import (
	"context"
	"net"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a JSON production logger for env "production" and a
// human-readable development logger otherwise.
func New(env string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if env != "production" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return cfg.Build()
}

type requestIDKey struct{}

// WithRequestID stores id on ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the request ID stored on ctx, if any.
func RequestIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// FromContext decorates log with the request ID found on ctx.
func FromContext(ctx context.Context, log *zap.Logger) *zap.Logger {
	if id := RequestIDFrom(ctx); id != "" {
		return log.With(zap.String("request_id", id))
	}
	return log
}

// MaskEmail keeps the first three characters of the local part.
// john.doe@example.com becomes joh***@example.com.
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return "***"
	}
	local := email[:at]
	if len(local) > 3 {
		local = local[:3]
	}
	return local + "***" + email[at:]
}

// MaskIP zeroes the host part of an address: the last octet for IPv4 and the
// last 80 bits for IPv6.
func MaskIP(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ip
	}
	if v4 := parsed.To4(); v4 != nil {
		return net.IPv4(v4[0], v4[1], v4[2], 0).String()
	}
	masked := make(net.IP, net.IPv6len)
	copy(masked, parsed.Mask(net.CIDRMask(48, 128)))
	return masked.String()
}
