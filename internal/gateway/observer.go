package gateway

import (
	"log/slog"
	"time"
)

// EventType represents a lifecycle phase of a gateway operation
type EventType string

const (
	EventOpStart EventType = "op_start"
	EventOpEnd   EventType = "op_end"
	EventStage   EventType = "rebuild_stage"
)

// Event is published to observers at operation start and end and at every
// rebuild stage transition
type Event struct {
	Type      EventType
	Op        string
	Table     string
	Stage     Stage         // set for EventStage
	Timestamp time.Time
	Duration  time.Duration // set for EventOpEnd
	Err       error         // set for a failed EventOpEnd and for StageAborted
}

// Observer receives gateway lifecycle events. OnEvent is called synchronously
// and must not block.
type Observer interface {
	OnEvent(event Event)
}

// LoggingObserver logs every event with structured fields
type LoggingObserver struct {
	logger *slog.Logger
}

// NewLoggingObserver creates a logging observer; a nil logger means slog.Default()
func NewLoggingObserver(logger *slog.Logger) *LoggingObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{logger: logger}
}

// OnEvent implements Observer
func (lo *LoggingObserver) OnEvent(event Event) {
	attrs := []any{
		"event", event.Type,
		"op", event.Op,
		"table", event.Table,
	}

	switch event.Type {
	case EventOpEnd:
		attrs = append(attrs, "duration", event.Duration)
		if event.Err == nil {
			lo.logger.Debug("gateway operation", attrs...)
			return
		}
		attrs = append(attrs, "kind", KindOf(event.Err).String(), "error", event.Err)
		if KindOf(event.Err) == TransactionFailure || KindOf(event.Err) == KindUnknown {
			lo.logger.Error("gateway operation failed", attrs...)
		} else {
			lo.logger.Info("gateway operation rejected", attrs...)
		}
	case EventStage:
		attrs = append(attrs, "stage", event.Stage)
		if event.Stage == StageAborted {
			lo.logger.Warn("rebuild aborted", append(attrs, "error", event.Err)...)
			return
		}
		lo.logger.Debug("rebuild stage", attrs...)
	default:
		lo.logger.Debug("gateway operation", attrs...)
	}
}
