package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LocationUsage назначение локации
type LocationUsage string

const (
	UsageView       LocationUsage = "view"       // Группировка, остатков не держит
	UsageInternal   LocationUsage = "internal"   // Склад, зона продаж
	UsageTransit    LocationUsage = "transit"    // Подлокация товара на точке
	UsageProduction LocationUsage = "production" // Цех/подлокация полуфабриката
	UsageCustomer   LocationUsage = "customer"   // Продажи (виртуальная)
	UsageInventory  LocationUsage = "inventory"  // Инвентаризация (виртуальная)
	UsageSupplier   LocationUsage = "supplier"   // Поставщики (виртуальная)
)

// Location складская локация (дерево через ParentID)
type Location struct {
	ID        string        `json:"id" gorm:"type:uuid;primaryKey"`
	Name      string        `json:"name" gorm:"type:varchar(255);not null"`
	ParentID  *string       `json:"parent_id" gorm:"type:uuid;index"`
	Usage     LocationUsage `json:"usage" gorm:"type:varchar(16);not null;default:'internal'"`
	ProductID *string       `json:"product_id" gorm:"type:uuid;index"` // Заполнено у подлокации товара
	IsActive  bool          `json:"is_active" gorm:"default:true"`
	CreatedAt time.Time     `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time     `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName указывает имя таблицы
func (Location) TableName() string {
	return "stock_locations"
}

// BeforeCreate генерирует UUID
func (l *Location) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	return nil
}

// Reservable true, если на локации ведутся остатки и резервы
func (l *Location) Reservable() bool {
	switch l.Usage {
	case UsageInternal, UsageTransit, UsageProduction:
		return true
	}
	return false
}
