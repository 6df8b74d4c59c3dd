package services

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"stockipv/server/internal/logger"
	"stockipv/server/internal/models"
	"stockipv/server/internal/repository"
)

// StockService складской движок: подтверждение, резерв и проведение перемещений
type StockService struct {
	store     repository.Store
	locations *LocationService
	now       func() time.Time
}

// NewStockService создает новый экземпляр StockService
func NewStockService(store repository.Store, locations *LocationService) *StockService {
	return &StockService{
		store:     store,
		locations: locations,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// With возвращает копию сервиса, работающую в транзакции tx
func (s *StockService) With(tx repository.Store) *StockService {
	return &StockService{store: tx, locations: s.locations.With(tx), now: s.now}
}

// Refresh заполняет ReservedQty и QtyDone перемещения по его строкам
func (s *StockService) Refresh(ctx context.Context, m *models.StockMove) ([]models.StockMoveLine, error) {
	lines, err := s.store.ListMoveLines(ctx, m.ID)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки строк перемещения: %w", err)
	}
	m.ReservedQty, m.QtyDone = decimal.Zero, decimal.Zero
	for _, l := range lines {
		m.ReservedQty = m.ReservedQty.Add(l.ReservedQty)
		m.QtyDone = m.QtyDone.Add(l.QtyDone)
	}
	return lines, nil
}

// Confirm переводит черновики в confirmed
func (s *StockService) Confirm(ctx context.Context, moves []*models.StockMove) error {
	for _, m := range moves {
		if m.State != models.MoveDraft {
			continue
		}
		m.State = models.MoveConfirmed
		if err := s.store.SaveMove(ctx, m); err != nil {
			return fmt.Errorf("ошибка подтверждения перемещения: %w", err)
		}
	}
	return nil
}

// tracks true, если по товару на локации ведутся остатки
func (s *StockService) tracks(product *models.Product, loc *models.Location) bool {
	return product.Type == models.ProductStorable && loc.Reservable()
}

// quantAt остаток товара ровно на локации (новый, если нет)
func (s *StockService) quantAt(ctx context.Context, productID, locationID string) (*models.Quant, error) {
	quants, err := s.store.ListQuants(ctx, repository.QuantFilter{ProductID: productID, LocationIDs: []string{locationID}})
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки остатка: %w", err)
	}
	if len(quants) > 0 {
		return &quants[0], nil
	}
	return &models.Quant{ProductID: productID, LocationID: locationID}, nil
}

// Assign резервирует остатки под перемещения (первые подходящие остатки
// в поддереве локации-источника). Статус: assigned, partially_available или confirmed.
func (s *StockService) Assign(ctx context.Context, moves []*models.StockMove) error {
	for _, m := range moves {
		switch m.State {
		case models.MoveConfirmed, models.MoveWaiting, models.MovePartiallyAvailable:
		default:
			continue
		}
		if err := s.assignOne(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *StockService) assignOne(ctx context.Context, m *models.StockMove) error {
	product, err := s.store.GetProduct(ctx, m.ProductID)
	if err != nil {
		return fmt.Errorf("товар %s: %w", m.ProductID, err)
	}
	src, err := s.store.GetLocation(ctx, m.LocationID)
	if err != nil {
		return fmt.Errorf("локация %s: %w", m.LocationID, err)
	}
	lines, err := s.Refresh(ctx, m)
	if err != nil {
		return err
	}

	need := m.ProductUoMQty.Sub(m.ReservedQty)

	if need.Sign() > 0 && !s.tracks(product, src) {
		// Остатки не ведутся: резервируем без проверки
		ml := &models.StockMoveLine{
			MoveID: m.ID, ProductID: m.ProductID,
			LocationID: m.LocationID, LocationDestID: m.LocationDestID,
			ReservedQty: need,
		}
		if err := s.store.SaveMoveLine(ctx, ml); err != nil {
			return fmt.Errorf("ошибка резервирования: %w", err)
		}
		need = decimal.Zero
	}

	if need.Sign() > 0 {
		ids, err := s.locations.Descendants(ctx, src.ID)
		if err != nil {
			return err
		}
		quants, err := s.store.ListQuants(ctx, repository.QuantFilter{ProductID: m.ProductID, LocationIDs: ids})
		if err != nil {
			return fmt.Errorf("ошибка загрузки остатков: %w", err)
		}
		for i := range quants {
			if need.Sign() <= 0 {
				break
			}
			q := &quants[i]
			avail := q.Available()
			if avail.Sign() <= 0 {
				continue
			}
			take := decimal.Min(avail, need)
			q.ReservedQuantity = q.ReservedQuantity.Add(take)
			if err := s.store.SaveQuant(ctx, q); err != nil {
				return fmt.Errorf("ошибка резервирования остатка: %w", err)
			}
			if err := s.reserveOnLine(ctx, m, lines, q.LocationID, take); err != nil {
				return err
			}
			need = need.Sub(take)
		}
	}

	if _, err := s.Refresh(ctx, m); err != nil {
		return err
	}
	switch {
	case m.ReservedQty.GreaterThanOrEqual(m.ProductUoMQty):
		m.State = models.MoveAssigned
	case m.ReservedQty.Sign() > 0:
		m.State = models.MovePartiallyAvailable
	default:
		m.State = models.MoveConfirmed
	}
	return s.store.SaveMove(ctx, m)
}

func (s *StockService) reserveOnLine(ctx context.Context, m *models.StockMove, lines []models.StockMoveLine, locationID string, qty decimal.Decimal) error {
	for i := range lines {
		if lines[i].LocationID == locationID {
			lines[i].ReservedQty = lines[i].ReservedQty.Add(qty)
			return s.store.SaveMoveLine(ctx, &lines[i])
		}
	}
	ml := &models.StockMoveLine{
		MoveID: m.ID, ProductID: m.ProductID,
		LocationID: locationID, LocationDestID: m.LocationDestID,
		ReservedQty: qty,
	}
	return s.store.SaveMoveLine(ctx, ml)
}

// Unreserve снимает резервы незавершенных перемещений
func (s *StockService) Unreserve(ctx context.Context, moves []*models.StockMove) error {
	for _, m := range moves {
		if m.State.IsTerminal() {
			continue
		}
		if err := s.unreserveOne(ctx, m); err != nil {
			return err
		}
		if m.State == models.MoveAssigned || m.State == models.MovePartiallyAvailable {
			m.State = models.MoveConfirmed
		}
		if err := s.store.SaveMove(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *StockService) unreserveOne(ctx context.Context, m *models.StockMove) error {
	product, err := s.store.GetProduct(ctx, m.ProductID)
	if err != nil {
		return fmt.Errorf("товар %s: %w", m.ProductID, err)
	}
	lines, err := s.store.ListMoveLines(ctx, m.ID)
	if err != nil {
		return err
	}
	for i := range lines {
		l := &lines[i]
		if l.ReservedQty.Sign() > 0 {
			if err := s.releaseReservation(ctx, product, l); err != nil {
				return err
			}
		}
		if l.QtyDone.IsZero() {
			if err := s.store.DeleteMoveLine(ctx, l.ID); err != nil {
				return err
			}
			continue
		}
		l.ReservedQty = decimal.Zero
		if err := s.store.SaveMoveLine(ctx, l); err != nil {
			return err
		}
	}
	m.ReservedQty = decimal.Zero
	return nil
}

func (s *StockService) releaseReservation(ctx context.Context, product *models.Product, l *models.StockMoveLine) error {
	loc, err := s.store.GetLocation(ctx, l.LocationID)
	if err != nil {
		return fmt.Errorf("локация %s: %w", l.LocationID, err)
	}
	if !s.tracks(product, loc) {
		return nil
	}
	q, err := s.quantAt(ctx, product.ID, l.LocationID)
	if err != nil {
		return err
	}
	q.ReservedQuantity = decimal.Max(decimal.Zero, q.ReservedQuantity.Sub(l.ReservedQty))
	return s.store.SaveQuant(ctx, q)
}

// SetQuantityDone распределяет выполненное количество по строкам перемещения
// (в пределах резерва, остаток - на последнюю строку)
func (s *StockService) SetQuantityDone(ctx context.Context, m *models.StockMove, qty decimal.Decimal) error {
	if qty.Sign() < 0 {
		return userErr(ErrInvalidQuantity, "%s", qty.String())
	}
	if m.State.IsTerminal() {
		return userErr(ErrTurnClosed, "перемещение %s уже завершено", m.Name)
	}
	lines, err := s.store.ListMoveLines(ctx, m.ID)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		ml := &models.StockMoveLine{
			MoveID: m.ID, ProductID: m.ProductID,
			LocationID: m.LocationID, LocationDestID: m.LocationDestID,
			QtyDone: qty,
		}
		if err := s.store.SaveMoveLine(ctx, ml); err != nil {
			return err
		}
		_, err = s.Refresh(ctx, m)
		return err
	}
	remaining := qty
	for i := range lines {
		portion := decimal.Min(remaining, lines[i].ReservedQty)
		if i == len(lines)-1 {
			portion = remaining
		}
		lines[i].QtyDone = portion
		remaining = remaining.Sub(portion)
		if err := s.store.SaveMoveLine(ctx, &lines[i]); err != nil {
			return err
		}
	}
	_, err = s.Refresh(ctx, m)
	return err
}

// Done проводит перемещения с выполненным количеством: списывает остатки
// источника, приходует на получателя. Недовыполненный остаток уходит
// в новое перемещение (backorder), которое возвращается.
// Перемещения без выполненного количества пропускаются.
func (s *StockService) Done(ctx context.Context, moves []*models.StockMove) ([]*models.StockMove, error) {
	var backorders []*models.StockMove
	for _, m := range moves {
		if m.State.IsTerminal() {
			continue
		}
		lines, err := s.Refresh(ctx, m)
		if err != nil {
			return nil, err
		}
		if m.QtyDone.Sign() <= 0 {
			continue
		}
		product, err := s.store.GetProduct(ctx, m.ProductID)
		if err != nil {
			return nil, fmt.Errorf("товар %s: %w", m.ProductID, err)
		}
		for i := range lines {
			if err := s.applyMoveLine(ctx, product, &lines[i]); err != nil {
				return nil, err
			}
		}

		if m.QtyDone.LessThan(m.ProductUoMQty) {
			bo := &models.StockMove{
				Name:           m.Name,
				Origin:         m.Origin,
				ProductID:      m.ProductID,
				ProductUoMID:   m.ProductUoMID,
				ProductUoMQty:  m.ProductUoMQty.Sub(m.QtyDone),
				LocationID:     m.LocationID,
				LocationDestID: m.LocationDestID,
				State:          models.MoveConfirmed,
				IPVID:          m.IPVID,
				IPVLineID:      m.IPVLineID,
				PickingID:      m.PickingID,
			}
			if err := s.store.SaveMove(ctx, bo); err != nil {
				return nil, fmt.Errorf("ошибка создания остаточного перемещения: %w", err)
			}
			backorders = append(backorders, bo)
			logger.Log.Debugf("↪️ Остаток %s по перемещению %s вынесен в %s", bo.ProductUoMQty, m.ID, bo.ID)
		}

		now := s.now()
		m.ProductUoMQty = m.QtyDone
		m.ReservedQty = decimal.Zero
		m.State = models.MoveDone
		m.DateDone = &now
		if err := s.store.SaveMove(ctx, m); err != nil {
			return nil, fmt.Errorf("ошибка проведения перемещения: %w", err)
		}
	}
	return backorders, nil
}

func (s *StockService) applyMoveLine(ctx context.Context, product *models.Product, l *models.StockMoveLine) error {
	src, err := s.store.GetLocation(ctx, l.LocationID)
	if err != nil {
		return fmt.Errorf("локация %s: %w", l.LocationID, err)
	}
	dst, err := s.store.GetLocation(ctx, l.LocationDestID)
	if err != nil {
		return fmt.Errorf("локация %s: %w", l.LocationDestID, err)
	}

	if s.tracks(product, src) {
		q, err := s.quantAt(ctx, product.ID, src.ID)
		if err != nil {
			return err
		}
		q.Quantity = q.Quantity.Sub(l.QtyDone)
		q.ReservedQuantity = decimal.Max(decimal.Zero, q.ReservedQuantity.Sub(l.ReservedQty))
		if err := s.store.SaveQuant(ctx, q); err != nil {
			return err
		}
	}
	if s.tracks(product, dst) && l.QtyDone.Sign() != 0 {
		q, err := s.quantAt(ctx, product.ID, dst.ID)
		if err != nil {
			return err
		}
		q.Quantity = q.Quantity.Add(l.QtyDone)
		if err := s.store.SaveQuant(ctx, q); err != nil {
			return err
		}
	}

	l.ReservedQty = decimal.Zero
	return s.store.SaveMoveLine(ctx, l)
}

// Cancel снимает резерв и отменяет незавершенные перемещения
func (s *StockService) Cancel(ctx context.Context, moves []*models.StockMove) error {
	for _, m := range moves {
		if m.State.IsTerminal() {
			continue
		}
		if err := s.unreserveOne(ctx, m); err != nil {
			return err
		}
		m.State = models.MoveCancel
		if err := s.store.SaveMove(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// SaleLine продажа с кассы
type SaleLine struct {
	ProductID  string          `json:"product_id"`
	LocationID string          `json:"location_id"`
	Qty        decimal.Decimal `json:"qty"`
	Origin     string          `json:"origin"`
}

// ConsumeSale проводит продажу: перемещение из зоны продаж покупателю
func (s *StockService) ConsumeSale(ctx context.Context, sale SaleLine) (*models.StockMove, error) {
	if sale.Qty.Sign() <= 0 {
		return nil, userErr(ErrInvalidQuantity, "продажа %s", sale.Qty.String())
	}
	customers, err := s.locations.VirtualLocation(ctx, models.UsageCustomer, "Partners/Customers")
	if err != nil {
		return nil, err
	}
	return s.directMove(ctx, sale.ProductID, sale.LocationID, customers.ID, sale.Qty, sale.Origin)
}

// AdjustInventory выставляет фактический остаток товара на локации
// (перемещением из/в локацию инвентаризации). Нет расхождения - nil, nil.
func (s *StockService) AdjustInventory(ctx context.Context, productID, locationID string, qty decimal.Decimal) (*models.StockMove, error) {
	q, err := s.quantAt(ctx, productID, locationID)
	if err != nil {
		return nil, err
	}
	diff := qty.Sub(q.Quantity)
	if diff.IsZero() {
		return nil, nil
	}
	inventory, err := s.locations.VirtualLocation(ctx, models.UsageInventory, "Virtual/Inventory adjustment")
	if err != nil {
		return nil, err
	}
	if diff.Sign() > 0 {
		return s.directMove(ctx, productID, inventory.ID, locationID, diff, "INV")
	}
	return s.directMove(ctx, productID, locationID, inventory.ID, diff.Neg(), "INV")
}

func (s *StockService) directMove(ctx context.Context, productID, from, to string, qty decimal.Decimal, origin string) (*models.StockMove, error) {
	product, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("товар %s: %w", productID, err)
	}
	m := &models.StockMove{
		Name:           origin + ": " + product.Name,
		Origin:         origin,
		ProductID:      product.ID,
		ProductUoMID:   product.UoMID,
		ProductUoMQty:  qty,
		LocationID:     from,
		LocationDestID: to,
		State:          models.MoveConfirmed,
	}
	if err := s.store.SaveMove(ctx, m); err != nil {
		return nil, err
	}
	if err := s.SetQuantityDone(ctx, m, qty); err != nil {
		return nil, err
	}
	if _, err := s.Done(ctx, []*models.StockMove{m}); err != nil {
		return nil, err
	}
	return m, nil
}
