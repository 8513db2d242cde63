package model

import "time"

// User represents an account that can request downloads.
// Only the columns the packaging service reads are mapped here.
type User struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Username  string    `json:"username" gorm:"size:100;uniqueIndex;not null"`
	IsStaff   bool      `json:"isStaff" gorm:"default:false"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName 指定表名
func (User) TableName() string {
	return "users"
}
