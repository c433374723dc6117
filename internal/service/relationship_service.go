package service

import (
	"context"

	"github.com/d60-Lab/postcard-capsule/internal/repository"
)

// RelationshipService 关系链服务；同时作为明信片收件人校验用的 SocialGraph
type RelationshipService interface {
	SocialGraph
	Follow(ctx context.Context, fromUserID, toUserID string) error
	Unfollow(ctx context.Context, fromUserID, toUserID string) error
	ListFollowing(ctx context.Context, userID string, page, pageSize int) ([]string, int64, error)
}

type relationshipService struct {
	followRepo repository.FollowRepository
	users      UserDirectory
}

func NewRelationshipService(followRepo repository.FollowRepository, users UserDirectory) RelationshipService {
	return &relationshipService{followRepo: followRepo, users: users}
}

func (s *relationshipService) Follow(ctx context.Context, fromUserID, toUserID string) error {
	if fromUserID == toUserID {
		return ErrFollowSelf
	}
	if s.users != nil {
		ok, err := s.users.Exists(ctx, toUserID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrRecipientNotFound
		}
	}
	return s.followRepo.Create(ctx, fromUserID, toUserID)
}

func (s *relationshipService) Unfollow(ctx context.Context, fromUserID, toUserID string) error {
	return s.followRepo.Delete(ctx, fromUserID, toUserID)
}

func (s *relationshipService) IsFollowing(ctx context.Context, followerID, followeeID string) (bool, error) {
	return s.followRepo.Exists(ctx, followerID, followeeID)
}

func (s *relationshipService) ListFollowing(ctx context.Context, userID string, page, pageSize int) ([]string, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	offset := (page - 1) * pageSize
	total, err := s.followRepo.CountFollowings(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	items, err := s.followRepo.ListFollowings(ctx, userID, offset, pageSize)
	if err != nil {
		return nil, 0, err
	}
	res := make([]string, len(items))
	for i, it := range items {
		res[i] = it.FolloweeID
	}
	return res, total, nil
}
