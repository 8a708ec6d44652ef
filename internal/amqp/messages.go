package amqp

import (
	"encoding/json"
	"time"

	"ricorrenza/internal/core"
)

// OccurrenceCreatedMessage announces a freshly materialized occurrence.
// Consumers (budget recomputation, notifications) fetch anything beyond
// this payload from the store.
type OccurrenceCreatedMessage struct {
	OccurrenceID string    `json:"occurrence_id"`
	TemplateID   string    `json:"template_id,omitempty"`
	UserID       string    `json:"user_id"`
	AmountCents  int64     `json:"amount_cents"`
	OccurredOn   string    `json:"occurred_on"` // ISO date
	Timestamp    time.Time `json:"timestamp"`
}

// NewOccurrenceCreatedMessage builds the message for a materialized
// occurrence.
func NewOccurrenceCreatedMessage(occ core.Occurrence) *OccurrenceCreatedMessage {
	return &OccurrenceCreatedMessage{
		OccurrenceID: occ.ID,
		TemplateID:   occ.TemplateID,
		UserID:       occ.UserID,
		AmountCents:  occ.Amount.Cents,
		OccurredOn:   occ.Date.ISO(),
		Timestamp:    time.Now(),
	}
}

// ToJSON converts the message to JSON bytes.
func (m *OccurrenceCreatedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// OccurrenceCreatedMessageFromJSON parses a message from JSON bytes.
func OccurrenceCreatedMessageFromJSON(data []byte) (*OccurrenceCreatedMessage, error) {
	var msg OccurrenceCreatedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
