package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// User owns a billing account and receives billing notifications.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(150)" json:"name" validate:"required,min=1,max=150"`
	Email     string    `gorm:"uniqueIndex;type:varchar(200)" json:"email" validate:"required,email,max=200"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}
