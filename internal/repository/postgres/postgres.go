package postgres

import (
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/driplabs/drip-api/internal/repository"
)

type scheduleRepository struct {
	db *sqlx.DB
}

type messageSetRepository struct {
	db *sqlx.DB
}

type messageRepository struct {
	db *sqlx.DB
}

type subscriptionRepository struct {
	db *sqlx.DB
}

type behindSubscriptionRepository struct {
	db *sqlx.DB
}

type sendFailureRepository struct {
	db *sqlx.DB
}

type resendRequestRepository struct {
	db *sqlx.DB
}

func NewScheduleRepository(db *sqlx.DB) repository.ScheduleRepository {
	return &scheduleRepository{db: db}
}

func NewMessageSetRepository(db *sqlx.DB) repository.MessageSetRepository {
	return &messageSetRepository{db: db}
}

func NewMessageRepository(db *sqlx.DB) repository.MessageRepository {
	return &messageRepository{db: db}
}

func NewSubscriptionRepository(db *sqlx.DB) repository.SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

func NewBehindSubscriptionRepository(db *sqlx.DB) repository.BehindSubscriptionRepository {
	return &behindSubscriptionRepository{db: db}
}

func NewSendFailureRepository(db *sqlx.DB) repository.SendFailureRepository {
	return &sendFailureRepository{db: db}
}

func NewResendRequestRepository(db *sqlx.DB) repository.ResendRequestRepository {
	return &resendRequestRepository{db: db}
}

// notFound maps the driver's no-rows condition onto the repository
// sentinel so callers never import database/sql.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	return err
}
