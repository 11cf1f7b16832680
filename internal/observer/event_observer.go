package observer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "go-degen-pov/internal/errors"
	"go-degen-pov/internal/logger"
)

// PipelineEvent represents a pipeline lifecycle event
type PipelineEvent struct {
	EventType EventType `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
	AssetID   string    `json:"asset_id"`
	URLHost   string    `json:"url_host,omitempty"`
	State     string    `json:"state"`
	// PreviousState and StageDuration describe the state just left
	PreviousState string                 `json:"previous_state,omitempty"`
	StageDuration time.Duration          `json:"stage_duration"`
	Elapsed       time.Duration          `json:"elapsed"`
	Reason        apperrors.Reason       `json:"reason,omitempty"`
	ErrorMessage  string                 `json:"error_message,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// EventType represents the type of pipeline event
type EventType string

const (
	// PipelineStarted when a request is accepted
	PipelineStarted EventType = "pipeline_started"
	// StateEntered on every forward transition
	StateEntered EventType = "state_entered"
	// PipelineCompleted when a composite was produced
	PipelineCompleted EventType = "pipeline_completed"
	// PipelineFailed when the request ended in Failed(reason)
	PipelineFailed EventType = "pipeline_failed"
)

// Observer defines the interface for event observers
type Observer interface {
	OnEvent(ctx context.Context, event PipelineEvent)
	GetObserverName() string
}

// Subject defines the interface for event publishers
type Subject interface {
	Subscribe(observer Observer)
	NotifyObservers(ctx context.Context, event PipelineEvent)
}

// LoggingObserver logs pipeline events
type LoggingObserver struct {
	logger *logrus.Logger
}

// NewLoggingObserver creates a new logging observer
func NewLoggingObserver(logger *logrus.Logger) Observer {
	return &LoggingObserver{
		logger: logger,
	}
}

// OnEvent logs the event. Failure severity depends on the reason:
// a missing anchor is a normal outcome, a missing asset is a configuration error.
func (o *LoggingObserver) OnEvent(ctx context.Context, event PipelineEvent) {
	fields := logrus.Fields{
		"event_type": event.EventType,
		"request_id": event.RequestID,
		"asset_id":   event.AssetID,
		"state":      event.State,
		"elapsed_ms": event.Elapsed.Milliseconds(),
	}
	if event.URLHost != "" {
		fields["url_host"] = event.URLHost
	}
	if event.PreviousState != "" {
		fields["previous_state"] = event.PreviousState
		fields["stage_ms"] = event.StageDuration.Milliseconds()
	}
	if event.ErrorMessage != "" {
		fields["error"] = event.ErrorMessage
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}

	entry := o.logger.WithFields(fields)
	switch event.EventType {
	case PipelineStarted:
		entry.Info("Overlay pipeline started")
	case StateEntered:
		entry.Debug("Pipeline state changed")
	case PipelineCompleted:
		entry.Info("Overlay pipeline completed")
	case PipelineFailed:
		entry = entry.WithField("reason", event.Reason)
		switch event.Reason {
		case apperrors.ReasonNoAnchorFound:
			entry.Info("No anchor found in image")
		case apperrors.ReasonAssetNotFound, apperrors.ReasonComposite:
			entry.Error("Overlay pipeline failed")
		default:
			entry.Warn("Overlay pipeline failed")
		}
	default:
		entry.Info("Pipeline event occurred")
	}
}

// GetObserverName returns the observer name
func (o *LoggingObserver) GetObserverName() string {
	return "logging_observer"
}

// EventPublisher implements the Subject interface
type EventPublisher struct {
	mu        sync.RWMutex
	observers []Observer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher() *EventPublisher {
	return &EventPublisher{
		observers: make([]Observer, 0),
	}
}

// Subscribe adds an observer
func (p *EventPublisher) Subscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, observer)
}

// NotifyObservers delivers event to every observer in subscription order.
// Delivery is synchronous so per-request events keep their order.
func (p *EventPublisher) NotifyObservers(ctx context.Context, event PipelineEvent) {
	p.mu.RLock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.mu.RUnlock()

	for _, observer := range observers {
		notify(ctx, observer, event)
	}
}

func notify(ctx context.Context, obs Observer, event PipelineEvent) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("observer", obs.GetObserverName()).
				WithField("panic", r).
				Error("Observer panicked while handling event")
		}
	}()
	obs.OnEvent(ctx, event)
}
