package audit

import "time"

// EventType classifies audit trail events.
type EventType string

const (
	// Cycle lifecycle
	EventCycleStarted   EventType = "cycle.started"
	EventCycleCompleted EventType = "cycle.completed"

	// Action lifecycle
	EventActionExecuted EventType = "action.executed"
	EventActionDeferred EventType = "action.deferred"
	EventActionFailed   EventType = "action.failed"

	// Explanation
	EventExplanationFallback EventType = "explanation.fallback"

	// System
	EventServerStarted  EventType = "system.server_started"
	EventServerShutdown EventType = "system.server_shutdown"
	EventConfigReloaded EventType = "system.config_reloaded"
)

// Result is the outcome recorded with an event.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultPending Result = "pending"
)

// Event is a single entry in the file audit trail.
type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	EventType     EventType `json:"event_type"`
	Result        Result    `json:"result"`

	PlantID            string `json:"plant_id,omitempty"`
	LineID             string `json:"line_id,omitempty"`
	RecommendationType string `json:"recommendation_type,omitempty"`

	Action      string `json:"action,omitempty"`
	ApprovedBy  string `json:"approved_by,omitempty"`
	Description string `json:"description,omitempty"`
	Error       string `json:"error,omitempty"`

	DurationMs int64 `json:"duration_ms,omitempty"`
}

// NewEvent creates an event stamped with the current time.
func NewEvent(eventType EventType) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Result:    ResultPending,
	}
}

// WithCorrelationID sets the cycle correlation ID.
func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}

// WithLine sets the plant/line the event concerns.
func (e *Event) WithLine(plantID, lineID string) *Event {
	e.PlantID = plantID
	e.LineID = lineID
	return e
}

// WithRecommendationType sets the recommendation type.
func (e *Event) WithRecommendationType(t string) *Event {
	e.RecommendationType = t
	return e
}

// WithAction sets the action text.
func (e *Event) WithAction(action string) *Event {
	e.Action = action
	return e
}

// WithApprover sets the recorded approver identity.
func (e *Event) WithApprover(approver string) *Event {
	e.ApprovedBy = approver
	return e
}

// WithDescription sets a human-readable description.
func (e *Event) WithDescription(desc string) *Event {
	e.Description = desc
	return e
}

// WithResult sets the outcome.
func (e *Event) WithResult(result Result) *Event {
	e.Result = result
	return e
}

// WithError records a failure.
func (e *Event) WithError(err error) *Event {
	if err != nil {
		e.Error = err.Error()
		e.Result = ResultFailure
	}
	return e
}

// WithDuration sets the duration in milliseconds.
func (e *Event) WithDuration(d time.Duration) *Event {
	e.DurationMs = d.Milliseconds()
	return e
}
