package cache

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/google/uuid"

	"github.com/driplabs/drip-api/internal/model"
	"github.com/driplabs/drip-api/internal/repository"
)

// MessageCache fronts a MessageRepository with an in-memory cache for
// the two lookups the delivery pipeline and projector hammer: message by
// (set, sequence, lang) and per-language counts. Message content changes
// rarely; writes invalidate eagerly anyway.
type MessageCache struct {
	repo repository.MessageRepository
	c    *gocache.Cache
}

func NewMessageCache(repo repository.MessageRepository, ttl time.Duration) *MessageCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &MessageCache{
		repo: repo,
		c:    gocache.New(ttl, 2*ttl),
	}
}

func sequenceKey(setID uuid.UUID, seq int, lang string) string {
	return fmt.Sprintf("msg:%s:%d:%s", setID, seq, lang)
}

func countKey(setID uuid.UUID, lang string) string {
	return fmt.Sprintf("count:%s:%s", setID, lang)
}

func (m *MessageCache) Create(ctx context.Context, message *model.Message) error {
	if err := m.repo.Create(ctx, message); err != nil {
		return err
	}
	m.invalidate(message)
	return nil
}

func (m *MessageCache) Get(ctx context.Context, id uuid.UUID) (*model.Message, error) {
	return m.repo.Get(ctx, id)
}

func (m *MessageCache) GetBySequence(ctx context.Context, setID uuid.UUID, sequenceNumber int, lang string) (*model.Message, error) {
	key := sequenceKey(setID, sequenceNumber, lang)
	if cached, ok := m.c.Get(key); ok {
		return cached.(*model.Message), nil
	}
	message, err := m.repo.GetBySequence(ctx, setID, sequenceNumber, lang)
	if err != nil {
		return nil, err
	}
	m.c.SetDefault(key, message)
	return message, nil
}

func (m *MessageCache) CountForLang(ctx context.Context, setID uuid.UUID, lang string) (int, error) {
	key := countKey(setID, lang)
	if cached, ok := m.c.Get(key); ok {
		return cached.(int), nil
	}
	count, err := m.repo.CountForLang(ctx, setID, lang)
	if err != nil {
		return 0, err
	}
	m.c.SetDefault(key, count)
	return count, nil
}

func (m *MessageCache) List(ctx context.Context, setID uuid.UUID) ([]*model.Message, error) {
	return m.repo.List(ctx, setID)
}

func (m *MessageCache) Update(ctx context.Context, message *model.Message) error {
	if err := m.repo.Update(ctx, message); err != nil {
		return err
	}
	m.invalidate(message)
	return nil
}

func (m *MessageCache) Delete(ctx context.Context, id uuid.UUID) error {
	message, err := m.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := m.repo.Delete(ctx, id); err != nil {
		return err
	}
	m.invalidate(message)
	return nil
}

func (m *MessageCache) invalidate(message *model.Message) {
	m.c.Delete(sequenceKey(message.MessageSetID, message.SequenceNumber, message.Lang))
	m.c.Delete(countKey(message.MessageSetID, message.Lang))
}
