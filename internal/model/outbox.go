package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusProcessed OutboxStatus = "processed"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// Domain event types written to the outbox.
const (
	EventBookingCreated   = "booking.created"
	EventBookingConfirmed = "booking.confirmed"
	EventBookingCancelled = "booking.cancelled"
	EventBookingCompleted = "booking.completed"
	EventLedgerAppended   = "ledger.appended"
	EventLedgerLocked     = "ledger.locked"
	EventPayoutCreated    = "payout.created"
)

// PayoutEvent names the event for a payout reaching status.
func PayoutEvent(status PayoutStatus) string {
	return "payout." + string(status)
}

type OutboxEvent struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	AggregateType string          `db:"aggregate_type" json:"aggregate_type"`
	AggregateID   uuid.UUID       `db:"aggregate_id" json:"aggregate_id"`
	EventType     string          `db:"event_type" json:"event_type"`
	Payload       json.RawMessage `db:"payload" json:"payload"`
	Status        OutboxStatus    `db:"status" json:"status"`
	ErrorMessage  *string         `db:"error_message" json:"error_message,omitempty"`
	RetryCount    int             `db:"retry_count" json:"retry_count"`
	RetryAt       *time.Time      `db:"retry_at" json:"retry_at,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt   *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// NewOutboxEvent marshals payload into a pending event.
func NewOutboxEvent(aggregateType string, aggregateID uuid.UUID, eventType string, payload interface{}) (*OutboxEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &OutboxEvent{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       data,
		Status:        OutboxStatusPending,
	}, nil
}
