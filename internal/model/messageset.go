package model

import (
	"time"

	"github.com/google/uuid"
)

type ContentType string

const (
	ContentTypeText  ContentType = "text"
	ContentTypeAudio ContentType = "audio"
)

// MessageSet is an ordered collection of messages a subscriber walks
// through. NextSet is a weak reference to a successor set; the stored
// chain is not guaranteed acyclic, walkers must guard against cycles.
type MessageSet struct {
	ID                uuid.UUID   `json:"id" db:"id"`
	ShortName         string      `json:"short_name" db:"short_name"`
	ContentType       ContentType `json:"content_type" db:"content_type"`
	NextSetID         *uuid.UUID  `json:"next_set_id,omitempty" db:"next_set_id"`
	DefaultScheduleID uuid.UUID   `json:"default_schedule_id" db:"default_schedule_id"`
	Channel           *string     `json:"channel,omitempty" db:"channel"`
	CreatedAt         time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at" db:"updated_at"`
}

// Message belongs to exactly one message set and is unique per
// (set, sequence number, language). Exactly one of TextContent and
// BinaryContent must be present.
type Message struct {
	ID             uuid.UUID `json:"id" db:"id"`
	MessageSetID   uuid.UUID `json:"messageset_id" db:"messageset_id"`
	SequenceNumber int       `json:"sequence_number" db:"sequence_number"`
	Lang           string    `json:"lang" db:"lang"`
	TextContent    *string   `json:"text_content,omitempty" db:"text_content"`
	BinaryContent  *string   `json:"binary_content,omitempty" db:"binary_content"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// HasContent reports whether the message carries exactly one content kind.
func (m *Message) HasContent() bool {
	return (m.TextContent != nil) != (m.BinaryContent != nil)
}
