package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/d60-Lab/postcard-capsule/internal/model"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// StatusFilter 按状态查询时的附加条件
type StatusFilter struct {
	// UnlockDueBefore 只返回 unlock_date 非空且 <= 该时间的记录
	UnlockDueBefore *time.Time
	// RecipientID 只返回该收件人的记录
	RecipientID string
	// GeoOnly 只返回经纬度都非空的记录
	GeoOnly bool
	// After 游标：只返回 (unlock_date, id) 严格大于它的记录，配合 UnlockDueBefore 分页
	After *Cursor
	Limit int
}

// Cursor 到期扫描的分页位置
type Cursor struct {
	UnlockDate time.Time
	ID         string
}

// CursorOf 返回紧跟在 p 之后的游标；p 必须带 unlock_date
func CursorOf(p *model.Postcard) *Cursor {
	return &Cursor{UnlockDate: p.UnlockDate.UTC(), ID: p.ID}
}

// PostcardRepository 明信片仓储接口
type PostcardRepository interface {
	Create(ctx context.Context, p *model.Postcard) error
	FindByID(ctx context.Context, id string) (*model.Postcard, error)
	FindByStatus(ctx context.Context, status model.PostcardStatus, filter StatusFilter) ([]*model.Postcard, error)
	// UpdateStatus 条件更新：仅当当前状态仍为 expected 时写入；返回是否命中
	UpdateStatus(ctx context.Context, id string, expected, next model.PostcardStatus, fields map[string]any) (bool, error)
	// MarkViewed 仅在 viewed_at 为空时写入
	MarkViewed(ctx context.Context, id string, at time.Time) (bool, error)
	FindByRecipient(ctx context.Context, recipientID string, statuses ...model.PostcardStatus) ([]*model.Postcard, error)
	FindBySender(ctx context.Context, senderID string, statuses ...model.PostcardStatus) ([]*model.Postcard, error)
}

type postcardRepository struct {
	db *gorm.DB
}

func NewPostcardRepository(db *gorm.DB) PostcardRepository { return &postcardRepository{db: db} }

func (r *postcardRepository) Create(ctx context.Context, p *model.Postcard) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *postcardRepository) FindByID(ctx context.Context, id string) (*model.Postcard, error) {
	var p model.Postcard
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *postcardRepository) FindByStatus(ctx context.Context, status model.PostcardStatus, filter StatusFilter) ([]*model.Postcard, error) {
	q := r.db.WithContext(ctx).Where("status = ?", status)
	if filter.UnlockDueBefore != nil {
		q = q.Where("unlock_date IS NOT NULL AND unlock_date <= ?", filter.UnlockDueBefore.UTC())
	}
	if filter.After != nil {
		at := filter.After.UnlockDate.UTC()
		q = q.Where("unlock_date IS NOT NULL AND (unlock_date > ? OR (unlock_date = ? AND id > ?))", at, at, filter.After.ID)
	}
	if filter.UnlockDueBefore != nil || filter.After != nil {
		q = q.Order("unlock_date ASC").Order("id ASC")
	}
	if filter.RecipientID != "" {
		q = q.Where("recipient_id = ?", filter.RecipientID)
	}
	if filter.GeoOnly {
		q = q.Where("unlock_latitude IS NOT NULL AND unlock_longitude IS NOT NULL")
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var res []*model.Postcard
	err := q.Order("created_at ASC").Order("id ASC").Find(&res).Error
	return res, err
}

func (r *postcardRepository) UpdateStatus(ctx context.Context, id string, expected, next model.PostcardStatus, fields map[string]any) (bool, error) {
	updates := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		updates[k] = v
	}
	updates["status"] = next
	updates["updated_at"] = time.Now().UTC()

	res := r.db.WithContext(ctx).
		Model(&model.Postcard{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *postcardRepository) MarkViewed(ctx context.Context, id string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Postcard{}).
		Where("id = ? AND viewed_at IS NULL", id).
		Updates(map[string]any{"viewed_at": at.UTC(), "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *postcardRepository) FindByRecipient(ctx context.Context, recipientID string, statuses ...model.PostcardStatus) ([]*model.Postcard, error) {
	return r.findBy(ctx, "recipient_id = ?", recipientID, statuses)
}

func (r *postcardRepository) FindBySender(ctx context.Context, senderID string, statuses ...model.PostcardStatus) ([]*model.Postcard, error) {
	return r.findBy(ctx, "sender_id = ?", senderID, statuses)
}

func (r *postcardRepository) findBy(ctx context.Context, cond string, userID string, statuses []model.PostcardStatus) ([]*model.Postcard, error) {
	q := r.db.WithContext(ctx).Where(cond, userID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	var res []*model.Postcard
	err := q.Order("created_at DESC").Find(&res).Error
	return res, err
}
