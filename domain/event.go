package domain

import "time"

// Event is a single occurrence published on the dot-delimited topic bus.
type Event struct {
	ID            string                 `json:"id"`
	Topic         string                 `json:"topic"`
	Data          map[string]interface{} `json:"data"`
	Timestamp     time.Time              `json:"timestamp"`
	Source        string                 `json:"source"`
	CorrelationID string                 `json:"correlationId,omitempty"`
	CausationID   string                 `json:"causationId,omitempty"`
}
