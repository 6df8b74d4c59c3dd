package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserRole роль пользователя
type UserRole string

const (
	RoleAdmin   UserRole = "admin"   // Администратор (справочники, инвентаризация)
	RoleManager UserRole = "manager" // Управляющий (закрытие смены)
	RoleClerk   UserRole = "clerk"   // Продавец/повар (работа со сменой)
)

// User пользователь, открывающий смены
type User struct {
	ID           string    `json:"id" gorm:"type:uuid;primaryKey"`
	Login        string    `json:"login" gorm:"type:varchar(64);not null;uniqueIndex"`
	Name         string    `json:"name" gorm:"type:varchar(255)"`
	PasswordHash string    `json:"-" gorm:"type:varchar(255);not null"`
	Role         UserRole  `json:"role" gorm:"type:varchar(16);not null;default:'clerk'"`
	IsActive     bool      `json:"is_active" gorm:"default:true"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName указывает имя таблицы
func (User) TableName() string {
	return "users"
}

// BeforeCreate генерирует UUID
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return nil
}
