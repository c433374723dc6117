package unlock

import (
	"time"

	"github.com/d60-Lab/postcard-capsule/internal/model"
)

// View 明信片对外可见的投影
type View struct {
	ID              string               `json:"id"`
	SenderID        string               `json:"sender_id"`
	RecipientID     string               `json:"recipient_id"`
	Sender          *model.UserInfo      `json:"sender,omitempty"`
	Recipient       *model.UserInfo      `json:"recipient,omitempty"`
	Message         *string              `json:"message,omitempty"`
	MediaURL        *string              `json:"media_url,omitempty"`
	ContentHidden   bool                 `json:"content_hidden"`
	Status          model.PostcardStatus `json:"status"`
	UnlockType      string               `json:"unlock_type,omitempty"`
	UnlockDate      *time.Time           `json:"unlock_date,omitempty"`
	UnlockLatitude  *float64             `json:"unlock_latitude,omitempty"`
	UnlockLongitude *float64             `json:"unlock_longitude,omitempty"`
	UnlockRadius    *float64             `json:"unlock_radius,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	ViewedAt        *time.Time           `json:"viewed_at,omitempty"`
	UnlockedAt      *time.Time           `json:"unlocked_at,omitempty"`
}

// ContentHidden 收件人查看未解锁且非本人寄出的明信片时隐藏内容
func ContentHidden(p *model.Postcard, viewerID string) bool {
	isSender := p.SenderID == viewerID
	return p.Status == model.PostcardStatusLocked && p.RecipientID == viewerID && !isSender
}

// Project 构建 viewerID 看到的视图；调用方需先确认 viewerID 是寄件人或收件人
func Project(p *model.Postcard, viewerID string, sender, recipient *model.UserInfo) View {
	v := View{
		ID:          p.ID,
		SenderID:    p.SenderID,
		RecipientID: p.RecipientID,
		Sender:      sender,
		Recipient:   recipient,
		Status:      p.Status,
		UnlockDate:  p.UnlockDate,
		CreatedAt:   p.CreatedAt,
		ViewedAt:    p.ViewedAt,
		UnlockedAt:  p.UnlockedAt,
	}
	switch {
	case p.HasTimeLock():
		v.UnlockType = KindTime.String()
	case p.HasGeoLock():
		v.UnlockType = KindGeo.String()
		radius := p.UnlockRadius
		v.UnlockLatitude = p.UnlockLatitude
		v.UnlockLongitude = p.UnlockLongitude
		v.UnlockRadius = &radius
	}

	if ContentHidden(p, viewerID) {
		v.ContentHidden = true
		return v
	}
	v.Message = p.Message
	v.MediaURL = p.MediaURL
	return v
}
