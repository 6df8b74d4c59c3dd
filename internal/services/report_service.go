package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"stockipv/server/internal/models"
	"stockipv/server/internal/repository"
)

// ErrHistoryUnavailable история доступна только при хранилище PostgreSQL
var ErrHistoryUnavailable = errors.New("история расхода недоступна без PostgreSQL")

const reportSheet = "IPV"

// ReportRow строка отчета смены
type ReportRow struct {
	LineID       string           `json:"line_id"`
	Product      string           `json:"product"`
	Code         string           `json:"code"`
	Kind         models.LineKind  `json:"kind"`
	Parent       string           `json:"parent,omitempty"`
	InitialStock decimal.Decimal  `json:"initial_stock"`
	Requested    decimal.Decimal  `json:"requested"`
	OnHand       decimal.Decimal  `json:"on_hand"`
	Consumed     decimal.Decimal  `json:"consumed"`
	State        models.MoveState `json:"state"`
}

// TurnReport сводный отчет по смене
type TurnReport struct {
	TurnID    string          `json:"turn_id"`
	Name      string          `json:"name"`
	State     models.IPVState `json:"state"`
	DateOpen  *time.Time      `json:"date_open"`
	DateClose *time.Time      `json:"date_close"`
	Rows      []ReportRow     `json:"rows"`
}

// ConsumptionRow итог расхода товара по закрытым сменам
type ConsumptionRow struct {
	ProductID string          `json:"product_id" db:"product_id"`
	Product   string          `json:"product" db:"product"`
	Turns     int             `json:"turns" db:"turns"`
	Consumed  decimal.Decimal `json:"consumed" db:"consumed"`
}

// ReportService отчеты по сменам
type ReportService struct {
	store repository.Store
	turns *IPVService
	db    *sqlx.DB // nil в режиме memory
}

// NewReportService создает новый экземпляр ReportService
func NewReportService(store repository.Store, turns *IPVService, db *sqlx.DB) *ReportService {
	return &ReportService{store: store, turns: turns, db: db}
}

// BuildReport собирает отчет по текущему состоянию смены
func (s *ReportService) BuildReport(ctx context.Context, turnID string) (*TurnReport, error) {
	ipv, err := s.turns.GetTurn(ctx, turnID)
	if err != nil {
		return nil, err
	}
	return s.ReportFor(ctx, ipv)
}

// ReportFor собирает отчет по уже загруженной смене (со строками)
func (s *ReportService) ReportFor(ctx context.Context, ipv *models.IPV) (*TurnReport, error) {
	rep := &TurnReport{
		TurnID:    ipv.ID,
		Name:      ipv.Name,
		State:     ipv.State,
		DateOpen:  ipv.DateOpen,
		DateClose: ipv.DateClose,
		Rows:      make([]ReportRow, 0, len(ipv.Lines)),
	}

	names := make(map[string]*models.Product)
	product := func(id string) (*models.Product, error) {
		if p, ok := names[id]; ok {
			return p, nil
		}
		p, err := s.store.GetProduct(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("ошибка загрузки товара %s: %w", id, err)
		}
		names[id] = p
		return p, nil
	}

	byID := make(map[string]*models.IPVLine, len(ipv.Lines))
	for i := range ipv.Lines {
		byID[ipv.Lines[i].ID] = &ipv.Lines[i]
	}

	for _, l := range ipv.Lines {
		p, err := product(l.ProductID)
		if err != nil {
			return nil, err
		}
		row := ReportRow{
			LineID:       l.ID,
			Product:      p.Name,
			Code:         p.DefaultCode,
			Kind:         l.Kind,
			InitialStock: l.InitialStockQty,
			Requested:    l.RequestQty,
			OnHand:       l.OnHandQty,
			Consumed:     l.ConsumedQty,
			State:        l.State,
		}
		// общее сырье: все готовые продукты через запятую
		var parents []string
		for _, pid := range l.Parents() {
			parent, ok := byID[pid]
			if !ok {
				continue
			}
			pp, err := product(parent.ProductID)
			if err != nil {
				return nil, err
			}
			parents = append(parents, pp.Name)
		}
		row.Parent = strings.Join(parents, ", ")
		rep.Rows = append(rep.Rows, row)
	}
	return rep, nil
}

var reportHeader = []interface{}{
	"Товар", "Код", "Вид", "Готовый продукт", "Начальный остаток", "Запрошено", "В наличии", "Расход", "Статус",
}

// ExportXLSX выгружает отчет в Excel
func (s *ReportService) ExportXLSX(rep *TurnReport) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), reportSheet); err != nil {
		return nil, fmt.Errorf("ошибка создания листа: %w", err)
	}

	title := rep.Name
	if rep.DateClose != nil {
		title = fmt.Sprintf("%s (закрыта %s)", rep.Name, rep.DateClose.Format("2006-01-02 15:04"))
	}
	if err := f.SetCellValue(reportSheet, "A1", title); err != nil {
		return nil, err
	}
	if err := f.SetSheetRow(reportSheet, "A3", &reportHeader); err != nil {
		return nil, err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(reportSheet, "A3", "I3", bold); err != nil {
		return nil, err
	}

	for i, r := range rep.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+4)
		if err != nil {
			return nil, err
		}
		row := []interface{}{
			r.Product, r.Code, string(r.Kind), r.Parent,
			r.InitialStock.InexactFloat64(), r.Requested.InexactFloat64(),
			r.OnHand.InexactFloat64(), r.Consumed.InexactFloat64(), string(r.State),
		}
		if err := f.SetSheetRow(reportSheet, cell, &row); err != nil {
			return nil, err
		}
	}
	if err := f.SetColWidth(reportSheet, "A", "A", 32); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("ошибка записи Excel: %w", err)
	}
	return buf.Bytes(), nil
}

const consumptionQuery = `
SELECT l.product_id, p.name AS product, COUNT(DISTINCT i.id) AS turns, COALESCE(SUM(l.consumed_qty), 0) AS consumed
FROM stock_ipv_lines l
JOIN stock_ipvs i ON i.id = l.ipv_id
JOIN products p ON p.id = l.product_id
WHERE i.date_close IS NOT NULL
  AND i.date_close >= $1 AND i.date_close < $2
  AND ($3 = '' OR i.workplace_id::text = $3)
GROUP BY l.product_id, p.name
ORDER BY consumed DESC`

// ConsumptionHistory расход товаров по сменам, закрытым в периоде [from, to)
func (s *ReportService) ConsumptionHistory(ctx context.Context, workplaceID string, from, to time.Time) ([]ConsumptionRow, error) {
	if s.db == nil {
		return nil, ErrHistoryUnavailable
	}
	var rows []ConsumptionRow
	if err := s.db.SelectContext(ctx, &rows, consumptionQuery, from, to, workplaceID); err != nil {
		return nil, fmt.Errorf("ошибка выборки расхода: %w", err)
	}
	return rows, nil
}
