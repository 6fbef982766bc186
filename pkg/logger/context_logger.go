package logger

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type ctxKey string

const (
	requestIDKey   ctxKey = "request_id"
	participantKey ctxKey = "participant"
	roomIDKey      ctxKey = "room_id"
)

// WithRequestID returns ctx carrying the request correlation ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// WithParticipant returns ctx carrying the authenticated identity.
func WithParticipant(ctx context.Context, participant string) context.Context {
	return context.WithValue(ctx, participantKey, participant)
}

// WithRoomID returns ctx carrying the room the request operates on.
func WithRoomID(ctx context.Context, roomID string) context.Context {
	return context.WithValue(ctx, roomIDKey, roomID)
}

// ContextLogger extends log lines with the correlation fields a request
// context carries.
type ContextLogger struct {
	logger *zap.SugaredLogger
}

func NewContextLogger(logger *zap.SugaredLogger) *ContextLogger {
	return &ContextLogger{logger: logger}
}

// WithContext returns the logger with every correlation field present on ctx.
func (cl *ContextLogger) WithContext(ctx context.Context) *zap.SugaredLogger {
	log := cl.logger
	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		log = log.With("request_id", id)
	}
	if p, ok := ctx.Value(participantKey).(string); ok && p != "" {
		log = log.With("participant", p)
	}
	if r, ok := ctx.Value(roomIDKey).(string); ok && r != "" {
		log = log.With("room_id", r)
	}
	return log
}

// LogRequest writes the access-log line for one handled HTTP request.
func (cl *ContextLogger) LogRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	cl.WithContext(ctx).Infow("http request",
		"method", method,
		"path", path,
		"status", status,
		"duration_ms", duration.Milliseconds(),
	)
}
