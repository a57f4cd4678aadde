package model

import (
	"time"

	"github.com/google/uuid"
)

// BehindSubscription is an immutable audit record written when the
// reconciliation scan finds a subscription whose actual position trails
// its expected position. Never mutated after creation.
type BehindSubscription struct {
	ID                    uuid.UUID  `json:"id" db:"id"`
	SubscriptionID        uuid.UUID  `json:"subscription_id" db:"subscription_id"`
	MessagesBehind        int        `json:"messages_behind" db:"messages_behind"`
	CurrentMessageSetID   uuid.UUID  `json:"current_messageset_id" db:"current_messageset_id"`
	CurrentSequenceNumber int        `json:"current_sequence_number" db:"current_sequence_number"`
	ExpectedMessageSetID  *uuid.UUID `json:"expected_messageset_id,omitempty" db:"expected_messageset_id"`
	ExpectedSequenceNumber int       `json:"expected_sequence_number" db:"expected_sequence_number"`
	CreatedAt             time.Time  `json:"created_at" db:"created_at"`
}

// SubscriptionSendFailure records a delivery that exhausted its retries.
// The requeue job consumes and deletes these.
type SubscriptionSendFailure struct {
	ID             uuid.UUID `json:"id" db:"id"`
	SubscriptionID uuid.UUID `json:"subscription_id" db:"subscription_id"`
	TaskID         string    `json:"task_id" db:"task_id"`
	Reason         string    `json:"reason" db:"reason"`
	InitiatedAt    time.Time `json:"initiated_at" db:"initiated_at"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// ResendRequest records a subscriber asking for their last message again.
// Created first, then updated with the outbound delivery id once the
// resend has been dispatched.
type ResendRequest struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	SubscriptionID uuid.UUID  `json:"subscription_id" db:"subscription_id"`
	MessageID      *uuid.UUID `json:"message_id,omitempty" db:"message_id"`
	OutboundID     *string    `json:"outbound_id,omitempty" db:"outbound_id"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}
