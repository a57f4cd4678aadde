package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProcessStatus guards concurrent delivery for a subscription. It acts
// as the per-subscriber mutex: only a ready subscription may enter the
// delivery pipeline.
type ProcessStatus int

const (
	ProcessStatusError     ProcessStatus = -1
	ProcessStatusReady     ProcessStatus = 0
	ProcessStatusInProcess ProcessStatus = 1
	ProcessStatusCompleted ProcessStatus = 2
	ProcessStatusInvalid   ProcessStatus = 5
)

func (s ProcessStatus) String() string {
	switch s {
	case ProcessStatusError:
		return "error"
	case ProcessStatusReady:
		return "ready"
	case ProcessStatusInProcess:
		return "in_process"
	case ProcessStatusCompleted:
		return "completed"
	case ProcessStatusInvalid:
		return "invalid"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// SubscriptionMeta holds the typed optional fields that used to live in a
// free-form metadata map. Extra remains as an escape hatch for
// operator-supplied data only.
type SubscriptionMeta struct {
	PrependNextDelivery *string           `json:"prepend_next_delivery,omitempty"`
	SchedulerRef        *string           `json:"scheduler_ref,omitempty"`
	Extra               map[string]string `json:"extra,omitempty"`
}

// Value implements driver.Valuer so the meta struct round-trips through a
// jsonb column.
func (m SubscriptionMeta) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *SubscriptionMeta) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*m = SubscriptionMeta{}
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	}
	return fmt.Errorf("unsupported meta type %T", src)
}

// Subscription tracks one subscriber's progress through a message set.
// NextSequenceNumber is the 1-based position of the next message to send;
// InitialSequenceNumber is the position at creation, so a subscriber who
// joined mid-set projects elapsed occurrences correctly.
type Subscription struct {
	ID                    uuid.UUID        `json:"id" db:"id"`
	Identity              string           `json:"identity" db:"identity"`
	MessageSetID          uuid.UUID        `json:"messageset_id" db:"messageset_id"`
	ScheduleID            uuid.UUID        `json:"schedule_id" db:"schedule_id"`
	Lang                  string           `json:"lang" db:"lang"`
	NextSequenceNumber    int              `json:"next_sequence_number" db:"next_sequence_number"`
	InitialSequenceNumber int              `json:"initial_sequence_number" db:"initial_sequence_number"`
	Active                bool             `json:"active" db:"active"`
	Completed             bool             `json:"completed" db:"completed"`
	ProcessStatus         ProcessStatus    `json:"process_status" db:"process_status"`
	Meta                  SubscriptionMeta `json:"meta" db:"meta"`
	CreatedAt             time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at" db:"updated_at"`
}

// IsReadyForProcessing reports whether the subscription may enter the
// delivery pipeline.
func (s *Subscription) IsReadyForProcessing() bool {
	return s.ProcessStatus == ProcessStatusReady
}
