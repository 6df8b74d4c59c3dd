package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Workplace рабочее место (точка продаж/цех), на котором открываются смены
type Workplace struct {
	ID               string         `json:"id" gorm:"type:uuid;primaryKey"`
	Name             string         `json:"name" gorm:"type:varchar(255);not null"`
	StockLocID       string         `json:"stock_loc_id" gorm:"type:uuid;not null"`       // Откуда пополняем
	ElaborationLocID string         `json:"elaboration_loc_id" gorm:"type:uuid;not null"` // Где готовим (сырье)
	SalesLocID       string         `json:"sales_loc_id" gorm:"type:uuid;not null"`       // Откуда продаем
	ProductIDs       pq.StringArray `json:"product_ids" gorm:"type:text[]"`               // Разрешенные товары
	IsActive         bool           `json:"is_active" gorm:"default:true"`
	CreatedAt        time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt        time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName указывает имя таблицы
func (Workplace) TableName() string {
	return "ipv_workplaces"
}

// BeforeCreate генерирует UUID
func (w *Workplace) BeforeCreate(tx *gorm.DB) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	return nil
}

// Allows проверяет, есть ли товар в списке рабочего места
func (w *Workplace) Allows(productID string) bool {
	for _, id := range w.ProductIDs {
		if id == productID {
			return true
		}
	}
	return false
}
