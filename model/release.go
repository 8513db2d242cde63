package model

import (
	"time"
)

// Artist 艺人，UserID 为艺人账号的拥有者
type Artist struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID    int64     `json:"userId" gorm:"index;not null"`
	Name      string    `json:"name" gorm:"size:255;not null"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName 指定表名
func (Artist) TableName() string {
	return "artists"
}

// Release 表示一张发行（专辑 / EP / 单曲）
type Release struct {
	ID          int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	ArtistID    int64      `json:"artistId" gorm:"index;not null"`
	Artist      Artist     `json:"artist" gorm:"foreignKey:ArtistID"`
	Title       string     `json:"title" gorm:"size:255;not null"`
	Published   bool       `json:"published" gorm:"default:false;index"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
	PriceCents  int64      `json:"priceCents" gorm:"default:0"`
	Currency    string     `json:"currency" gorm:"size:3;default:'USD'"`
	Tracks      []Track    `json:"tracks,omitempty" gorm:"foreignKey:ReleaseID"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// TableName 指定表名
func (Release) TableName() string {
	return "releases"
}

// IsVisibleAt 发行已发布且生效时间已到
func (r *Release) IsVisibleAt(now time.Time) bool {
	if !r.Published {
		return false
	}
	return r.PublishedAt == nil || !r.PublishedAt.After(now)
}

// IsManagedBy reports whether the user owns the release's artist account or is staff.
// A nil user (anonymous request) manages nothing.
func (r *Release) IsManagedBy(user *User) bool {
	if user == nil {
		return false
	}
	return user.IsStaff || (r.Artist.ID != 0 && r.Artist.UserID == user.ID)
}

// CanBeAccessedBy 可见或由该用户管理
func (r *Release) CanBeAccessedBy(user *User, now time.Time) bool {
	return r.IsVisibleAt(now) || r.IsManagedBy(user)
}
