package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BOMType тип спецификации
type BOMType string

const (
	BOMNormal  BOMType = "normal"  // Производство полуфабриката/блюда
	BOMPhantom BOMType = "phantom" // Набор: раскрывается в компоненты
)

// BOM спецификация (технологическая карта): ProductQty единиц товара
// в UoMID получаются из строк Lines
type BOM struct {
	ID         string          `json:"id" gorm:"type:uuid;primaryKey"`
	ProductID  string          `json:"product_id" gorm:"type:uuid;not null;index"`
	ProductQty decimal.Decimal `json:"product_qty" gorm:"type:numeric(16,4);not null"`
	UoMID      string          `json:"uom_id" gorm:"type:uuid;not null"`
	Type       BOMType         `json:"type" gorm:"type:varchar(16);not null;default:'normal'"`
	Sequence   int             `json:"sequence" gorm:"default:10"`
	IsActive   bool            `json:"is_active" gorm:"default:true"`
	CreatedAt  time.Time       `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt  time.Time       `json:"updated_at" gorm:"autoUpdateTime"`

	Lines []BOMLine `json:"lines" gorm:"foreignKey:BOMID"`
}

// TableName указывает имя таблицы
func (BOM) TableName() string {
	return "boms"
}

// BeforeCreate генерирует UUID
func (b *BOM) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	return nil
}

// BOMLine компонент спецификации
type BOMLine struct {
	ID         string          `json:"id" gorm:"type:uuid;primaryKey"`
	BOMID      string          `json:"bom_id" gorm:"type:uuid;not null;index"`
	ProductID  string          `json:"product_id" gorm:"type:uuid;not null"`
	ProductQty decimal.Decimal `json:"product_qty" gorm:"type:numeric(16,4);not null"`
	UoMID      string          `json:"uom_id" gorm:"type:uuid;not null"`
	Sequence   int             `json:"sequence" gorm:"default:10"`
}

// TableName указывает имя таблицы
func (BOMLine) TableName() string {
	return "bom_lines"
}

// BeforeCreate генерирует UUID
func (l *BOMLine) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	return nil
}
