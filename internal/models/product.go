package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// ProductType тип товара
type ProductType string

const (
	ProductStorable   ProductType = "product" // Складской учет (есть остатки)
	ProductConsumable ProductType = "consu"   // Расходник, остатки не ведутся
	ProductService    ProductType = "service" // Услуга, в перемещениях не участвует
)

// Product товар (номенклатура) смены
type Product struct {
	ID             string      `json:"id" gorm:"type:uuid;primaryKey"`
	Name           string      `json:"name" gorm:"type:varchar(255);not null"`
	DefaultCode    string      `json:"default_code" gorm:"type:varchar(64);index"`
	Type           ProductType `json:"type" gorm:"type:varchar(16);not null;default:'product'"`
	UoMID          string      `json:"uom_id" gorm:"type:uuid;not null"`
	AvailableInPOS bool        `json:"available_in_pos" gorm:"default:false;index"` // Продается на кассе
	// Локация приготовления, перекрывает локацию рабочего места
	ElaborationLocID *string `json:"elaboration_loc_id" gorm:"type:uuid"`
	// Рабочие места, где разрешен товар (пусто - везде)
	WorkplaceIDs pq.StringArray `json:"workplace_ids" gorm:"type:text[]"`
	IsActive     bool           `json:"is_active" gorm:"default:true"`
	CreatedAt    time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName указывает имя таблицы
func (Product) TableName() string {
	return "products"
}

// BeforeCreate генерирует UUID
func (p *Product) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}

// IsStockable true для товаров, участвующих в перемещениях
func (p *Product) IsStockable() bool {
	return p.Type == ProductStorable || p.Type == ProductConsumable
}

// AllowedAt проверяет, разрешен ли товар на рабочем месте
func (p *Product) AllowedAt(workplaceID string) bool {
	if len(p.WorkplaceIDs) == 0 {
		return true
	}
	for _, id := range p.WorkplaceIDs {
		if id == workplaceID {
			return true
		}
	}
	return false
}
