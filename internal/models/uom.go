package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// UoM единица измерения.
// Factor - сколько единиц этой UoM в одной эталонной единице категории
// (кг: 1, г: 1000, т: 0.001). Rounding - точность округления (0.001, 1 и т.д.)
type UoM struct {
	ID        string          `json:"id" gorm:"type:uuid;primaryKey"`
	Name      string          `json:"name" gorm:"type:varchar(64);not null"`
	Category  string          `json:"category" gorm:"type:varchar(64);not null;index"` // weight, volume, unit...
	Factor    decimal.Decimal `json:"factor" gorm:"type:numeric(20,10);not null"`
	Rounding  decimal.Decimal `json:"rounding" gorm:"type:numeric(20,10);not null"`
	IsActive  bool            `json:"is_active" gorm:"default:true"`
	CreatedAt time.Time       `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName указывает имя таблицы
func (UoM) TableName() string {
	return "uoms"
}

// BeforeCreate генерирует UUID
func (u *UoM) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return nil
}
