package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/DoyleJ11/no-thanks-backend/internal/turn"

type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeReplayed Outcome = "replayed"
	OutcomeRejected Outcome = "rejected"
	OutcomeFailed   Outcome = "failed"
)

// CommandRecord describes one pass through the command boundary, whatever
// its result.
type CommandRecord struct {
	SessionID string
	CommandID string
	PlayerID  string
	Action    string
	Outcome   Outcome
	ErrorCode string
	Version   string
	Duration  time.Duration
	LockWait  time.Duration
}

type Monitor interface {
	RecordCommand(CommandRecord)
}

// ZapMonitor writes command records to a zap logger. Applied and replayed
// commands log at debug, rejections at info and failures at error.
type ZapMonitor struct {
	log *zap.Logger
}

func NewZapMonitor(log *zap.Logger) *ZapMonitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &ZapMonitor{log: log.Named("telemetry")}
}

func (m *ZapMonitor) RecordCommand(r CommandRecord) {
	fields := []zap.Field{
		zap.String("session_id", r.SessionID),
		zap.String("command_id", r.CommandID),
		zap.String("player_id", r.PlayerID),
		zap.String("action", r.Action),
		zap.String("outcome", string(r.Outcome)),
		zap.Duration("duration", r.Duration),
		zap.Duration("lock_wait", r.LockWait),
	}
	if r.Version != "" {
		fields = append(fields, zap.String("version", r.Version))
	}
	if r.ErrorCode != "" {
		fields = append(fields, zap.String("error_code", r.ErrorCode))
	}

	switch r.Outcome {
	case OutcomeRejected:
		m.log.Info("command rejected", fields...)
	case OutcomeFailed:
		m.log.Error("command failed", fields...)
	default:
		m.log.Debug("command processed", fields...)
	}
}

// Recorder keeps records in memory. Tests use it to assert on telemetry.
type Recorder struct {
	mu      sync.Mutex
	records []CommandRecord
}

func (r *Recorder) RecordCommand(rec CommandRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *Recorder) Records() []CommandRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]CommandRecord(nil), r.records...)
}

// StartCommandSpan opens a span around one command using the global tracer
// provider. finish records the outcome on the span and ends it.
func StartCommandSpan(ctx context.Context, sessionID, action string) (context.Context, func(Outcome, string)) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "turn.ApplyCommand",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("command.action", action),
		),
	)
	return ctx, func(outcome Outcome, errorCode string) {
		span.SetAttributes(attribute.String("command.outcome", string(outcome)))
		if errorCode != "" {
			span.SetStatus(codes.Error, errorCode)
		}
		span.End()
	}
}
