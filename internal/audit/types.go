package audit

import "time"

// EventType represents the type of audit event
type EventType string

const (
	// Detection events
	EventAnomalyDetected EventType = "anomaly.detected"

	// Alert events
	EventAlertCreated    EventType = "alert.created"
	EventAlertSuppressed EventType = "alert.suppressed"
	EventAlertPredictive EventType = "alert.predictive"

	// Feedback events
	EventFalsePositive EventType = "feedback.false_positive"

	// Model lifecycle events
	EventModelTrained   EventType = "model.trained"
	EventTrainingSweep  EventType = "model.training_sweep"
	EventRetentionPurge EventType = "retention.purge"

	// Correlation events
	EventCorrelationGroup EventType = "correlation.group"

	// Configuration events
	EventConfigLoaded  EventType = "config.loaded"
	EventConfigChanged EventType = "config.changed"

	// System events
	EventServiceStarted  EventType = "system.service_started"
	EventServiceShutdown EventType = "system.service_shutdown"
)

// Result represents the outcome of an audited action
type Result string

const (
	ResultSuccess    Result = "success"
	ResultFailure    Result = "failure"
	ResultSuppressed Result = "suppressed"
	ResultSkipped    Result = "skipped"
)

// Event represents a single audit event
type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	EventType     EventType `json:"event_type"`
	Result        Result    `json:"result"`

	DeviceID     string `json:"device_id,omitempty"`
	Resource     string `json:"resource,omitempty"`
	ResourceType string `json:"resource_type,omitempty"`

	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`

	DurationMs int64 `json:"duration_ms,omitempty"`
}

// NewEvent creates a new audit event with default values
func NewEvent(eventType EventType) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Result:    ResultSuccess,
		Metadata:  make(map[string]any),
	}
}

// WithCorrelationID sets the correlation ID for event tracking
func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}

// WithDevice sets the device the event concerns
func (e *Event) WithDevice(deviceID string) *Event {
	e.DeviceID = deviceID
	return e
}

// WithResource sets the resource being acted upon
func (e *Event) WithResource(resource, resourceType string) *Event {
	e.Resource = resource
	e.ResourceType = resourceType
	return e
}

// WithDescription sets a human-readable description
func (e *Event) WithDescription(desc string) *Event {
	e.Description = desc
	return e
}

// WithResult sets the result of the event
func (e *Event) WithResult(result Result) *Event {
	e.Result = result
	return e
}

// WithError sets error information
func (e *Event) WithError(err error, code string) *Event {
	if err != nil {
		e.Error = err.Error()
		e.ErrorCode = code
		e.Result = ResultFailure
	}
	return e
}

// WithDuration sets the duration in milliseconds
func (e *Event) WithDuration(duration time.Duration) *Event {
	e.DurationMs = duration.Milliseconds()
	return e
}

// WithMetadata adds metadata to the event
func (e *Event) WithMetadata(key string, value any) *Event {
	e.Metadata[key] = value
	return e
}
