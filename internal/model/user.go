package model

import "time"

// User 用户（仅保存展示信息，认证不在本服务）
type User struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)"`
	Username    string    `gorm:"type:varchar(64);uniqueIndex;not null"`
	DisplayName string    `gorm:"type:varchar(128)"`
	AvatarURL   string    `gorm:"type:varchar(1024)"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (User) TableName() string { return "users" }

// Info 返回对外展示块
func (u *User) Info() UserInfo {
	name := u.DisplayName
	if name == "" {
		name = u.Username
	}
	return UserInfo{ID: u.ID, Name: name, AvatarURL: u.AvatarURL}
}

// UserInfo 明信片视图里附带的用户展示信息
type UserInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}
