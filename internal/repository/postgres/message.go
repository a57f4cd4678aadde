package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/driplabs/drip-api/internal/model"
	"github.com/driplabs/drip-api/internal/repository"
)

func (r *messageRepository) Create(ctx context.Context, message *model.Message) error {
	query := `
		INSERT INTO messages (
			id, messageset_id, sequence_number, lang, text_content,
			binary_content, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if message.ID == uuid.Nil {
		message.ID = uuid.New()
	}
	message.CreatedAt = time.Now()
	message.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		message.ID,
		message.MessageSetID,
		message.SequenceNumber,
		message.Lang,
		message.TextContent,
		message.BinaryContent,
		message.CreatedAt,
		message.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

func (r *messageRepository) Get(ctx context.Context, id uuid.UUID) (*model.Message, error) {
	query := `
		SELECT id, messageset_id, sequence_number, lang, text_content,
			   binary_content, created_at, updated_at
		FROM messages
		WHERE id = $1
	`
	var message model.Message
	if err := r.db.GetContext(ctx, &message, query, id); err != nil {
		return nil, fmt.Errorf("failed to get message: %w", notFound(err))
	}
	return &message, nil
}

func (r *messageRepository) GetBySequence(ctx context.Context, setID uuid.UUID, sequenceNumber int, lang string) (*model.Message, error) {
	query := `
		SELECT id, messageset_id, sequence_number, lang, text_content,
			   binary_content, created_at, updated_at
		FROM messages
		WHERE messageset_id = $1 AND sequence_number = $2 AND lang = $3
	`
	var message model.Message
	if err := r.db.GetContext(ctx, &message, query, setID, sequenceNumber, lang); err != nil {
		return nil, fmt.Errorf("failed to get message by sequence: %w", notFound(err))
	}
	return &message, nil
}

func (r *messageRepository) CountForLang(ctx context.Context, setID uuid.UUID, lang string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM messages
		WHERE messageset_id = $1 AND lang = $2
	`
	var count int
	if err := r.db.GetContext(ctx, &count, query, setID, lang); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

func (r *messageRepository) List(ctx context.Context, setID uuid.UUID) ([]*model.Message, error) {
	query := `
		SELECT id, messageset_id, sequence_number, lang, text_content,
			   binary_content, created_at, updated_at
		FROM messages
		WHERE messageset_id = $1
		ORDER BY sequence_number ASC, lang ASC
	`
	var messages []*model.Message
	if err := r.db.SelectContext(ctx, &messages, query, setID); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

func (r *messageRepository) Update(ctx context.Context, message *model.Message) error {
	query := `
		UPDATE messages
		SET sequence_number = $1, lang = $2, text_content = $3,
			binary_content = $4, updated_at = $5
		WHERE id = $6
	`
	message.UpdatedAt = time.Now()

	result, err := r.db.ExecContext(ctx, query,
		message.SequenceNumber,
		message.Lang,
		message.TextContent,
		message.BinaryContent,
		message.UpdatedAt,
		message.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("failed to update message: %w", repository.ErrNotFound)
	}
	return nil
}

func (r *messageRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("failed to delete message: %w", repository.ErrNotFound)
	}
	return nil
}
