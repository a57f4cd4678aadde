package model

import (
	"time"

	"github.com/google/uuid"
)

// Schedule holds the five cron-style fields that drive message delivery.
// Each field is either "*", a number, or a comma-separated list of
// numbers/ranges within the field's domain.
type Schedule struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Minute       string    `json:"minute" db:"minute"`
	Hour         string    `json:"hour" db:"hour"`
	DayOfWeek    string    `json:"day_of_week" db:"day_of_week"`
	DayOfMonth   string    `json:"day_of_month" db:"day_of_month"`
	MonthOfYear  string    `json:"month_of_year" db:"month_of_year"`
	SchedulerRef *string   `json:"scheduler_ref,omitempty" db:"scheduler_ref"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}
