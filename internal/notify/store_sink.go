package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/d60-Lab/postcard-capsule/internal/model"
	"github.com/d60-Lab/postcard-capsule/internal/repository"
)

// StoreSink 通知落库，供客户端分页查看历史
type StoreSink struct {
	repo repository.NotificationRepository
}

func NewStoreSink(repo repository.NotificationRepository) *StoreSink {
	return &StoreSink{repo: repo}
}

func (s *StoreSink) Deliver(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return s.repo.Create(ctx, &model.Notification{
		ID:        uuid.NewString(),
		UserID:    n.UserID,
		Event:     n.Event,
		Payload:   string(payload),
		CreatedAt: n.CreatedAt,
	})
}
