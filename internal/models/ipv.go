package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// IPVState статус смены
type IPVState string

const (
	IPVDraft  IPVState = "draft"  // Новая
	IPVCheck  IPVState = "check"  // Ожидает наличия
	IPVAssign IPVState = "assign" // Зарезервирована
	IPVOpen   IPVState = "open"   // Открыта (перемещения выполнены)
	IPVClose  IPVState = "close"  // Закрыта
	IPVCancel IPVState = "cancel" // Отменена
)

// LineKind вид строки смены
type LineKind string

const (
	LineSimple       LineKind = "simple"       // Товар перемещается как есть
	LineManufactured LineKind = "manufactured" // Готовится по спецификации из сырья
)

// IPV смена (Inventario Permanente Valorado) рабочего места
type IPV struct {
	ID             string     `json:"id" gorm:"type:uuid;primaryKey"`
	Name           string     `json:"name" gorm:"type:varchar(64);not null;uniqueIndex"`
	RequestedBy    string     `json:"requested_by" gorm:"type:varchar(255)"`
	WorkplaceID    *string    `json:"workplace_id" gorm:"type:uuid;index"`
	LocationID     string     `json:"location_id" gorm:"type:uuid;not null"`
	LocationDestID string     `json:"location_dest_id" gorm:"type:uuid;not null"`
	PickingID      *string    `json:"picking_id" gorm:"type:uuid"`
	State          IPVState   `json:"state" gorm:"type:varchar(16);not null;default:'draft';index"`
	IsLocked       bool       `json:"is_locked" gorm:"default:true"`
	Cancelled      bool       `json:"cancelled" gorm:"default:false"`
	DateOpen       *time.Time `json:"date_open"`
	DateClose      *time.Time `json:"date_close" gorm:"index"`
	CreatedAt      time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt      time.Time  `json:"updated_at" gorm:"autoUpdateTime"`

	Lines []IPVLine `json:"lines,omitempty" gorm:"foreignKey:IPVID"`

	// Virtual fields for UI
	ShowCheckAvailability bool `json:"show_check_availability" gorm:"-"`
	ShowValidate          bool `json:"show_validate" gorm:"-"`
}

// TableName указывает имя таблицы
func (IPV) TableName() string {
	return "stock_ipvs"
}

// BeforeCreate генерирует UUID
func (i *IPV) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.New().String()
	}
	return nil
}

// IPVLine строка смены
type IPVLine struct {
	ID              string          `json:"id" gorm:"type:uuid;primaryKey"`
	IPVID           string          `json:"ipv_id" gorm:"type:uuid;not null;index"`
	Sequence        int             `json:"sequence" gorm:"not null;default:0"`
	ProductID       string          `json:"product_id" gorm:"type:uuid;not null"`
	Kind            LineKind        `json:"kind" gorm:"type:varchar(16);not null;default:'simple'"`
	ParentID        *string         `json:"parent_id" gorm:"type:uuid;index"` // Основная строка готового продукта для сырья
	ParentIDs       pq.StringArray  `json:"parent_ids" gorm:"type:text[]"`    // Все готовые продукты, использующие сырье
	BOMID           *string         `json:"bom_id" gorm:"type:uuid"`
	SublocationID   *string         `json:"sublocation_id" gorm:"type:uuid"`
	RequestQty      decimal.Decimal `json:"request_qty" gorm:"type:numeric(16,4);not null;default:0"`
	InitialStockQty decimal.Decimal `json:"initial_stock_qty" gorm:"type:numeric(16,4);not null;default:0"`
	OnHandQty       decimal.Decimal `json:"on_hand_qty" gorm:"type:numeric(16,4);not null;default:0"`
	ConsumedQty     decimal.Decimal `json:"consumed_qty" gorm:"type:numeric(16,4);not null;default:0"`
	InitialTaken    bool            `json:"initial_taken" gorm:"default:false"` // Остаток на начало уже зафиксирован
	State           MoveState       `json:"state" gorm:"type:varchar(24);not null;default:'draft'"`
	CreatedAt       time.Time       `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt       time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName указывает имя таблицы
func (IPVLine) TableName() string {
	return "stock_ipv_lines"
}

// BeforeCreate генерирует UUID
func (l *IPVLine) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	return nil
}

// IsRaw true для строки сырья (есть родительская строка)
func (l *IPVLine) IsRaw() bool {
	return l.ParentID != nil
}

// Parents строки готовых продуктов сырья, основная первой
func (l *IPVLine) Parents() []string {
	if len(l.ParentIDs) > 0 {
		return l.ParentIDs
	}
	if l.ParentID != nil {
		return []string{*l.ParentID}
	}
	return nil
}
