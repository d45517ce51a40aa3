package audit

// Package audit writes the file-based compliance trail: one JSON line per
// event, rotated with lumberjack. The trail complements the transactional
// audit store in internal/db; executor success depends on the store append,
// the file trail is best effort.

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Trail is the interface the rest of the agent logs audit events through.
type Trail interface {
	Log(event *Event) error

	LogCycleStarted(correlationID, plantID, lineID string) error
	LogCycleCompleted(correlationID, plantID, lineID string, duration time.Duration) error
	LogActionExecuted(plantID, lineID, recType, action, approver string) error
	LogActionDeferred(plantID, lineID, recType, action string) error
	LogActionFailed(plantID, lineID, recType string, err error) error
	LogExplanationFallback(plantID, lineID, recType string, err error) error

	Sync() error
	Close() error
}

// Config configures the trail file and its rotation.
type Config struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultConfig returns the rotation settings used in production.
func DefaultConfig() Config {
	return Config{
		Path:       "logs/audit.log",
		MaxSizeMB:  100,
		MaxBackups: 10,
		MaxAgeDays: 30,
		Compress:   true,
	}
}

type fileTrail struct {
	log *zap.Logger
}

// NewTrail opens (or creates) the rotated trail file.
func NewTrail(cfg Config) (Trail, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("audit trail path is required")
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:     "logged_at",
		MessageKey:  "event",
		LineEnding:  zapcore.DefaultLineEnding,
		EncodeTime:  zapcore.ISO8601TimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}

	// Append-only, always INFO.
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(rotator),
		zapcore.InfoLevel,
	)

	return &fileTrail{log: zap.New(core)}, nil
}

func (t *fileTrail) Log(event *Event) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	t.log.Info(string(eventJSON),
		zap.String("correlation_id", event.CorrelationID),
		zap.String("event_type", string(event.EventType)),
		zap.String("result", string(event.Result)),
	)
	return nil
}

func (t *fileTrail) LogCycleStarted(correlationID, plantID, lineID string) error {
	return t.Log(NewEvent(EventCycleStarted).
		WithCorrelationID(correlationID).
		WithLine(plantID, lineID).
		WithDescription(fmt.Sprintf("cycle %s started for %s/%s", correlationID, plantID, lineID)))
}

func (t *fileTrail) LogCycleCompleted(correlationID, plantID, lineID string, duration time.Duration) error {
	return t.Log(NewEvent(EventCycleCompleted).
		WithCorrelationID(correlationID).
		WithLine(plantID, lineID).
		WithResult(ResultSuccess).
		WithDuration(duration).
		WithDescription(fmt.Sprintf("cycle %s completed", correlationID)))
}

func (t *fileTrail) LogActionExecuted(plantID, lineID, recType, action, approver string) error {
	return t.Log(NewEvent(EventActionExecuted).
		WithLine(plantID, lineID).
		WithRecommendationType(recType).
		WithAction(action).
		WithApprover(approver).
		WithResult(ResultSuccess).
		WithDescription(fmt.Sprintf("action executed for %s/%s, approved by %s", plantID, lineID, approver)))
}

func (t *fileTrail) LogActionDeferred(plantID, lineID, recType, action string) error {
	return t.Log(NewEvent(EventActionDeferred).
		WithLine(plantID, lineID).
		WithRecommendationType(recType).
		WithAction(action).
		WithResult(ResultPending).
		WithDescription("action awaiting human approval"))
}

func (t *fileTrail) LogActionFailed(plantID, lineID, recType string, err error) error {
	return t.Log(NewEvent(EventActionFailed).
		WithLine(plantID, lineID).
		WithRecommendationType(recType).
		WithError(err).
		WithDescription("action execution failed"))
}

func (t *fileTrail) LogExplanationFallback(plantID, lineID, recType string, err error) error {
	return t.Log(NewEvent(EventExplanationFallback).
		WithLine(plantID, lineID).
		WithRecommendationType(recType).
		WithError(err).
		WithDescription("explanation degraded to unavailable"))
}

func (t *fileTrail) Sync() error { return t.log.Sync() }

func (t *fileTrail) Close() error { return t.Sync() }

// NopTrail returns a Trail that discards every event. Used in tests and when
// the file trail is disabled.
func NopTrail() Trail { return nopTrail{} }

type nopTrail struct{}

func (nopTrail) Log(*Event) error                                               { return nil }
func (nopTrail) LogCycleStarted(string, string, string) error                   { return nil }
func (nopTrail) LogCycleCompleted(string, string, string, time.Duration) error  { return nil }
func (nopTrail) LogActionExecuted(string, string, string, string, string) error { return nil }
func (nopTrail) LogActionDeferred(string, string, string, string) error         { return nil }
func (nopTrail) LogActionFailed(string, string, string, error) error            { return nil }
func (nopTrail) LogExplanationFallback(string, string, string, error) error     { return nil }
func (nopTrail) Sync() error                                                    { return nil }
func (nopTrail) Close() error                                                   { return nil }
