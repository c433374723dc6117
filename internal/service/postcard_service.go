package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/d60-Lab/postcard-capsule/internal/model"
	"github.com/d60-Lab/postcard-capsule/internal/repository"
	"github.com/d60-Lab/postcard-capsule/internal/unlock"
	"github.com/d60-Lab/postcard-capsule/pkg/logger"
)

// CreateInput 创建/保存草稿的入参；RecipientID 为空表示寄给自己
type CreateInput struct {
	RecipientID string
	Message     *string
	MediaURL    *string
	Unlock      unlock.Request
}

// PostcardService 明信片生命周期：创建、草稿、读取与列表
type PostcardService interface {
	Create(ctx context.Context, senderID string, in CreateInput) (*unlock.View, error)
	SaveDraft(ctx context.Context, senderID string, in CreateInput) (*unlock.View, error)
	PublishDraft(ctx context.Context, draftID, senderID string) (*unlock.View, error)
	ListDrafts(ctx context.Context, senderID string) ([]unlock.View, error)
	GetByID(ctx context.Context, id, viewerID string) (*unlock.View, error)
	ListReceived(ctx context.Context, userID string) ([]unlock.View, error)
	ListSent(ctx context.Context, userID string) ([]unlock.View, error)
}

// Option 配置 postcardService / 后台任务
type Option func(*options)

type options struct {
	now func() time.Time
	loc *time.Location
}

// WithClock 注入时钟，测试用
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithLocation 指定计算"明天零点"所用的时区
func WithLocation(loc *time.Location) Option { return func(o *options) { o.loc = loc } }

func buildOptions(opts []Option) options {
	o := options{now: time.Now, loc: time.Local}
	for _, fn := range opts {
		fn(&o)
	}
	if o.loc == nil {
		o.loc = time.Local
	}
	return o
}

type postcardService struct {
	repo     repository.PostcardRepository
	graph    SocialGraph
	users    UserDirectory
	notifier Notifier
	opts     options
}

func NewPostcardService(repo repository.PostcardRepository, graph SocialGraph, users UserDirectory, notifier Notifier, opts ...Option) PostcardService {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &postcardService{repo: repo, graph: graph, users: users, notifier: notifier, opts: buildOptions(opts)}
}

func (s *postcardService) now() time.Time { return s.opts.now().In(s.opts.loc) }

func (s *postcardService) Create(ctx context.Context, senderID string, in CreateInput) (*unlock.View, error) {
	cond, err := unlock.Validate(in.Unlock, s.now())
	if err != nil {
		return nil, err
	}
	recipientID := resolveRecipient(senderID, in.RecipientID)
	if err := s.checkRecipient(ctx, senderID, recipientID); err != nil {
		return nil, err
	}

	p := &model.Postcard{
		ID:          uuid.New().String(),
		SenderID:    senderID,
		RecipientID: recipientID,
		Message:     in.Message,
		MediaURL:    in.MediaURL,
		Status:      model.PostcardStatusLocked,
		CreatedAt:   s.opts.now().UTC(),
	}
	cond.Apply(p)
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create postcard: %w", err)
	}

	s.notifyLocked(p)
	v := s.senderView(ctx, p)
	return &v, nil
}

func (s *postcardService) SaveDraft(ctx context.Context, senderID string, in CreateInput) (*unlock.View, error) {
	p := &model.Postcard{
		ID:              uuid.New().String(),
		SenderID:        senderID,
		RecipientID:     resolveRecipient(senderID, in.RecipientID),
		Message:         in.Message,
		MediaURL:        in.MediaURL,
		UnlockLatitude:  in.Unlock.UnlockLatitude,
		UnlockLongitude: in.Unlock.UnlockLongitude,
		Status:          model.PostcardStatusDraft,
		CreatedAt:       s.opts.now().UTC(),
	}
	radius, err := unlock.ResolveRadius(in.Unlock.UnlockRadius)
	if err != nil {
		return nil, err
	}
	p.UnlockRadius = radius
	if in.Unlock.UnlockDate != nil {
		d := in.Unlock.UnlockDate.UTC()
		p.UnlockDate = &d
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("save draft: %w", err)
	}
	v := s.senderView(ctx, p)
	return &v, nil
}

func (s *postcardService) PublishDraft(ctx context.Context, draftID, senderID string) (*unlock.View, error) {
	p, err := s.find(ctx, draftID)
	if err != nil {
		return nil, err
	}
	// 草稿只对寄件人可见
	if p.SenderID != senderID {
		return nil, ErrPostcardNotFound
	}
	if p.Status != model.PostcardStatusDraft {
		return nil, ErrDraftNotEditable
	}

	cond, err := unlock.Validate(unlock.RequestFrom(p), s.now())
	if err != nil {
		return nil, err
	}
	if err := s.checkRecipient(ctx, senderID, p.RecipientID); err != nil {
		return nil, err
	}

	cond.Apply(p)
	ok, err := s.repo.UpdateStatus(ctx, p.ID, model.PostcardStatusDraft, model.PostcardStatusLocked, unlockFields(p))
	if err != nil {
		return nil, fmt.Errorf("publish draft: %w", err)
	}
	if !ok {
		return nil, ErrDraftNotEditable
	}
	p.Status = model.PostcardStatusLocked

	s.notifyLocked(p)
	v := s.senderView(ctx, p)
	return &v, nil
}

func (s *postcardService) ListDrafts(ctx context.Context, senderID string) ([]unlock.View, error) {
	cards, err := s.repo.FindBySender(ctx, senderID, model.PostcardStatusDraft)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	return s.project(ctx, cards, senderID, false), nil
}

func (s *postcardService) GetByID(ctx context.Context, id, viewerID string) (*unlock.View, error) {
	p, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status == model.PostcardStatusDraft && p.SenderID != viewerID {
		return nil, ErrPostcardNotFound
	}
	if p.SenderID != viewerID && p.RecipientID != viewerID {
		return nil, ErrAccessDenied
	}

	if p.RecipientID == viewerID && p.Status == model.PostcardStatusUnlocked && p.ViewedAt == nil {
		s.markViewed(ctx, p)
	}

	views := s.project(ctx, []*model.Postcard{p}, viewerID, true)
	return &views[0], nil
}

func (s *postcardService) ListReceived(ctx context.Context, userID string) ([]unlock.View, error) {
	cards, err := s.repo.FindByRecipient(ctx, userID, model.PostcardStatusLocked, model.PostcardStatusUnlocked)
	if err != nil {
		return nil, fmt.Errorf("list received: %w", err)
	}
	return s.project(ctx, cards, userID, true), nil
}

func (s *postcardService) ListSent(ctx context.Context, userID string) ([]unlock.View, error) {
	cards, err := s.repo.FindBySender(ctx, userID, model.PostcardStatusLocked, model.PostcardStatusUnlocked)
	if err != nil {
		return nil, fmt.Errorf("list sent: %w", err)
	}
	return s.project(ctx, cards, userID, false), nil
}

func (s *postcardService) find(ctx context.Context, id string) (*model.Postcard, error) {
	p, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrPostcardNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find postcard %s: %w", id, err)
	}
	return p, nil
}

// markViewed 首次查看：条件写入 viewed_at，输给并发请求时回读已写入的值
func (s *postcardService) markViewed(ctx context.Context, p *model.Postcard) {
	at := s.opts.now().UTC()
	ok, err := s.repo.MarkViewed(ctx, p.ID, at)
	if err != nil {
		logger.Warn("mark postcard viewed failed", zap.String("postcard_id", p.ID), zap.Error(err))
		return
	}
	if ok {
		p.ViewedAt = &at
		return
	}
	if fresh, err := s.repo.FindByID(ctx, p.ID); err == nil {
		p.ViewedAt = fresh.ViewedAt
	}
}

func (s *postcardService) checkRecipient(ctx context.Context, senderID, recipientID string) error {
	if recipientID == senderID {
		return nil
	}
	exists, err := s.users.Exists(ctx, recipientID)
	if err != nil {
		return fmt.Errorf("lookup recipient: %w", err)
	}
	if !exists {
		return ErrRecipientNotFound
	}
	following, err := s.graph.IsFollowing(ctx, senderID, recipientID)
	if err != nil {
		return fmt.Errorf("check follow: %w", err)
	}
	if !following {
		return ErrRecipientNotFollowed
	}
	return nil
}

func (s *postcardService) notifyLocked(p *model.Postcard) {
	payload := map[string]any{
		"postcard_id": p.ID,
		"sender_id":   p.SenderID,
	}
	switch {
	case p.HasTimeLock():
		payload["unlock_type"] = unlock.KindTime.String()
		payload["unlock_date"] = p.UnlockDate.Format(time.RFC3339)
	case p.HasGeoLock():
		payload["unlock_type"] = unlock.KindGeo.String()
	}
	s.notifier.Notify(p.RecipientID, model.EventPostcardLocked, payload)
}

func (s *postcardService) senderView(ctx context.Context, p *model.Postcard) unlock.View {
	return s.project(ctx, []*model.Postcard{p}, p.SenderID, true)[0]
}

// project 批量取展示信息后投影；取不到展示信息不影响结果
func (s *postcardService) project(ctx context.Context, cards []*model.Postcard, viewerID string, withSender bool) []unlock.View {
	views := make([]unlock.View, 0, len(cards))
	if len(cards) == 0 {
		return views
	}

	ids := make([]string, 0, len(cards)*2)
	for _, p := range cards {
		ids = append(ids, p.SenderID, p.RecipientID)
	}
	infos, err := s.users.DisplayInfos(ctx, ids)
	if err != nil {
		logger.Warn("load display info failed", zap.String("viewer_id", viewerID), zap.Error(err))
		infos = nil
	}
	lookup := func(id string) *model.UserInfo {
		info, ok := infos[id]
		if !ok {
			return nil
		}
		return &info
	}

	for _, p := range cards {
		var sender *model.UserInfo
		if withSender {
			sender = lookup(p.SenderID)
		}
		views = append(views, unlock.Project(p, viewerID, sender, lookup(p.RecipientID)))
	}
	return views
}

func resolveRecipient(senderID, recipientID string) string {
	if recipientID == "" {
		return senderID
	}
	return recipientID
}

// unlockFields 发布草稿时需要覆盖的解锁字段；另一类型字段清空为 NULL
func unlockFields(p *model.Postcard) map[string]any {
	fields := map[string]any{
		"unlock_date":      nil,
		"unlock_latitude":  nil,
		"unlock_longitude": nil,
		"unlock_radius":    p.UnlockRadius,
	}
	if p.UnlockDate != nil {
		fields["unlock_date"] = *p.UnlockDate
	}
	if p.UnlockLatitude != nil {
		fields["unlock_latitude"] = *p.UnlockLatitude
	}
	if p.UnlockLongitude != nil {
		fields["unlock_longitude"] = *p.UnlockLongitude
	}
	return fields
}
