package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/driplabs/drip-api/internal/model"
	"github.com/driplabs/drip-api/internal/repository"
)

func (r *behindSubscriptionRepository) Create(ctx context.Context, behind *model.BehindSubscription) error {
	query := `
		INSERT INTO behind_subscriptions (
			id, subscription_id, messages_behind, current_messageset_id,
			current_sequence_number, expected_messageset_id,
			expected_sequence_number, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if behind.ID == uuid.Nil {
		behind.ID = uuid.New()
	}
	behind.CreatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		behind.ID,
		behind.SubscriptionID,
		behind.MessagesBehind,
		behind.CurrentMessageSetID,
		behind.CurrentSequenceNumber,
		behind.ExpectedMessageSetID,
		behind.ExpectedSequenceNumber,
		behind.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create behind subscription: %w", err)
	}
	return nil
}

func (r *behindSubscriptionRepository) List(ctx context.Context, since time.Time) ([]*model.BehindSubscription, error) {
	query := `
		SELECT id, subscription_id, messages_behind, current_messageset_id,
			   current_sequence_number, expected_messageset_id,
			   expected_sequence_number, created_at
		FROM behind_subscriptions
		WHERE created_at >= $1
		ORDER BY created_at DESC
	`
	var records []*model.BehindSubscription
	if err := r.db.SelectContext(ctx, &records, query, since); err != nil {
		return nil, fmt.Errorf("failed to list behind subscriptions: %w", err)
	}
	return records, nil
}

func (r *sendFailureRepository) Create(ctx context.Context, failure *model.SubscriptionSendFailure) error {
	query := `
		INSERT INTO subscription_send_failures (
			id, subscription_id, task_id, reason, initiated_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`
	if failure.ID == uuid.Nil {
		failure.ID = uuid.New()
	}
	failure.CreatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		failure.ID,
		failure.SubscriptionID,
		failure.TaskID,
		failure.Reason,
		failure.InitiatedAt,
		failure.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create send failure: %w", err)
	}
	return nil
}

func (r *sendFailureRepository) List(ctx context.Context, limit int) ([]*model.SubscriptionSendFailure, error) {
	query := `
		SELECT id, subscription_id, task_id, reason, initiated_at, created_at
		FROM subscription_send_failures
		ORDER BY created_at ASC
		LIMIT $1
	`
	var failures []*model.SubscriptionSendFailure
	if err := r.db.SelectContext(ctx, &failures, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list send failures: %w", err)
	}
	return failures, nil
}

func (r *sendFailureRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM subscription_send_failures WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete send failure: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("failed to delete send failure: %w", repository.ErrNotFound)
	}
	return nil
}

func (r *resendRequestRepository) Create(ctx context.Context, req *model.ResendRequest) error {
	query := `
		INSERT INTO resend_requests (
			id, subscription_id, message_id, outbound_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	req.CreatedAt = time.Now()
	req.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		req.ID,
		req.SubscriptionID,
		req.MessageID,
		req.OutboundID,
		req.CreatedAt,
		req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create resend request: %w", err)
	}
	return nil
}

func (r *resendRequestRepository) Get(ctx context.Context, id uuid.UUID) (*model.ResendRequest, error) {
	query := `
		SELECT id, subscription_id, message_id, outbound_id, created_at, updated_at
		FROM resend_requests
		WHERE id = $1
	`
	var req model.ResendRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		return nil, fmt.Errorf("failed to get resend request: %w", notFound(err))
	}
	return &req, nil
}

func (r *resendRequestRepository) SetOutboundID(ctx context.Context, id uuid.UUID, outboundID string) error {
	query := `
		UPDATE resend_requests
		SET outbound_id = $1, updated_at = $2
		WHERE id = $3
	`
	result, err := r.db.ExecContext(ctx, query, outboundID, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set outbound id: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("failed to set outbound id: %w", repository.ErrNotFound)
	}
	return nil
}
