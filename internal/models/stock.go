package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// MoveState статус складского перемещения
type MoveState string

const (
	MoveDraft              MoveState = "draft"
	MoveWaiting            MoveState = "waiting"
	MoveConfirmed          MoveState = "confirmed"
	MovePartiallyAvailable MoveState = "partially_available"
	MoveAssigned           MoveState = "assigned"
	MoveDone               MoveState = "done"
	MoveCancel             MoveState = "cancel"
)

// IsTerminal true для done/cancel
func (s MoveState) IsTerminal() bool {
	return s == MoveDone || s == MoveCancel
}

// Quant остаток товара на локации
type Quant struct {
	ID               string          `json:"id" gorm:"type:uuid;primaryKey"`
	ProductID        string          `json:"product_id" gorm:"type:uuid;not null;uniqueIndex:idx_quant_product_location"`
	LocationID       string          `json:"location_id" gorm:"type:uuid;not null;uniqueIndex:idx_quant_product_location"`
	Quantity         decimal.Decimal `json:"quantity" gorm:"type:numeric(16,4);not null;default:0"`
	ReservedQuantity decimal.Decimal `json:"reserved_quantity" gorm:"type:numeric(16,4);not null;default:0"`
	UpdatedAt        time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName указывает имя таблицы
func (Quant) TableName() string {
	return "stock_quants"
}

// BeforeCreate генерирует UUID
func (q *Quant) BeforeCreate(tx *gorm.DB) error {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	return nil
}

// Available свободный (не зарезервированный) остаток
func (q *Quant) Available() decimal.Decimal {
	return q.Quantity.Sub(q.ReservedQuantity)
}

// StockMove складское перемещение. Количество всегда в единицах товара.
type StockMove struct {
	ID             string          `json:"id" gorm:"type:uuid;primaryKey"`
	Name           string          `json:"name" gorm:"type:varchar(255)"`
	Origin         string          `json:"origin" gorm:"type:varchar(64);index"`
	ProductID      string          `json:"product_id" gorm:"type:uuid;not null;index"`
	ProductUoMID   string          `json:"product_uom_id" gorm:"type:uuid;not null"`
	ProductUoMQty  decimal.Decimal `json:"product_uom_qty" gorm:"type:numeric(16,4);not null"`
	LocationID     string          `json:"location_id" gorm:"type:uuid;not null"`
	LocationDestID string          `json:"location_dest_id" gorm:"type:uuid;not null"`
	State          MoveState       `json:"state" gorm:"type:varchar(24);not null;default:'draft';index"`
	IPVID          *string         `json:"ipv_id" gorm:"type:uuid;index"`
	IPVLineID      *string         `json:"ipv_line_id" gorm:"type:uuid;index"`
	PickingID      *string         `json:"picking_id" gorm:"type:uuid;index"`
	DateDone       *time.Time      `json:"date_done"`
	CreatedAt      time.Time       `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt      time.Time       `json:"updated_at" gorm:"autoUpdateTime"`

	// Заполняется сервисом при загрузке
	ReservedQty decimal.Decimal `json:"reserved_qty" gorm:"-"`
	QtyDone     decimal.Decimal `json:"qty_done" gorm:"-"`
}

// TableName указывает имя таблицы
func (StockMove) TableName() string {
	return "stock_moves"
}

// BeforeCreate генерирует UUID
func (m *StockMove) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

// StockMoveLine детализация перемещения по локациям (резерв и факт)
type StockMoveLine struct {
	ID             string          `json:"id" gorm:"type:uuid;primaryKey"`
	MoveID         string          `json:"move_id" gorm:"type:uuid;not null;index"`
	ProductID      string          `json:"product_id" gorm:"type:uuid;not null"`
	LocationID     string          `json:"location_id" gorm:"type:uuid;not null"`
	LocationDestID string          `json:"location_dest_id" gorm:"type:uuid;not null"`
	ReservedQty    decimal.Decimal `json:"reserved_qty" gorm:"type:numeric(16,4);not null;default:0"`
	QtyDone        decimal.Decimal `json:"qty_done" gorm:"type:numeric(16,4);not null;default:0"`
	CreatedAt      time.Time       `json:"created_at" gorm:"autoCreateTime"`
}

// TableName указывает имя таблицы
func (StockMoveLine) TableName() string {
	return "stock_move_lines"
}

// BeforeCreate генерирует UUID
func (l *StockMoveLine) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	return nil
}

// Picking документ перемещения, группирует перемещения смены
type Picking struct {
	ID             string     `json:"id" gorm:"type:uuid;primaryKey"`
	Name           string     `json:"name" gorm:"type:varchar(64)"`
	Origin         string     `json:"origin" gorm:"type:varchar(64)"`
	IPVID          *string    `json:"ipv_id" gorm:"type:uuid;index"`
	LocationID     string     `json:"location_id" gorm:"type:uuid;not null"`
	LocationDestID string     `json:"location_dest_id" gorm:"type:uuid;not null"`
	State          MoveState  `json:"state" gorm:"type:varchar(24);not null;default:'draft'"`
	DateDone       *time.Time `json:"date_done"`
	CreatedAt      time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt      time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName указывает имя таблицы
func (Picking) TableName() string {
	return "stock_pickings"
}

// BeforeCreate генерирует UUID
func (p *Picking) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}
