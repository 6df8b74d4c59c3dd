package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"stockipv/server/internal/logger"
	"stockipv/server/internal/models"
	"stockipv/server/internal/repository"
)

// Счетчик кодов смен
const turnSequenceCode = "stock.ipv"

// IPVConfig настройки смен
type IPVConfig struct {
	SequencePrefix string
	GroupPicking   bool // объединять перемещения смены в один документ
}

// IPVService смены (IPV): строки, перемещения, статусы
type IPVService struct {
	store  repository.Store
	stock  *StockService
	boms   *BOMService
	uoms   *UoMService
	locs   *LocationService
	cfg    IPVConfig
	events EventPublisher
	now    func() time.Time
}

// NewIPVService создает новый экземпляр IPVService
func NewIPVService(store repository.Store, stock *StockService, boms *BOMService, uoms *UoMService, locs *LocationService, cfg IPVConfig, events EventPublisher) *IPVService {
	if events == nil {
		events = NopPublisher{}
	}
	if cfg.SequencePrefix == "" {
		cfg.SequencePrefix = "IPV/"
	}
	return &IPVService{
		store:  store,
		stock:  stock,
		boms:   boms,
		uoms:   uoms,
		locs:   locs,
		cfg:    cfg,
		events: events,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// LineInput строка при создании смены или добавлении
type LineInput struct {
	ProductID  string          `json:"product_id" binding:"required"`
	RequestQty decimal.Decimal `json:"request_qty"`
}

// LineUpdate изменение строки; nil - поле не меняется
type LineUpdate struct {
	ProductID  *string          `json:"product_id"`
	RequestQty *decimal.Decimal `json:"request_qty"`
}

// TurnInput данные новой смены
type TurnInput struct {
	WorkplaceID    *string     `json:"workplace_id"`
	LocationID     string      `json:"location_id"`
	LocationDestID string      `json:"location_dest_id"`
	RequestedBy    string      `json:"requested_by"`
	Lines          []LineInput `json:"lines"`
}

// ProductChoices товары, доступные для новой строки смены
type ProductChoices struct {
	Products []models.Product `json:"products"`
	BOM      *models.BOM      `json:"bom,omitempty"`
	Warning  string           `json:"warning,omitempty"`
}

func (s *IPVService) publish(ctx context.Context, eventType string, view *models.IPV) {
	if err := s.events.Publish(ctx, NewTurnEvent(eventType, view, s.now())); err != nil {
		logger.Log.WithError(err).Warnf("⚠️ Событие %s смены %s не опубликовано", eventType, view.Name)
	}
}

// mutate выполняет fn над заблокированной сменой в одной транзакции,
// пересчитывает поля, зависящие от dirty, и сохраняет смену
func (s *IPVService) mutate(ctx context.Context, id, eventType string, dirty []string, fn func(sess *turnSession) error) (*models.IPV, error) {
	var view *models.IPV
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		sess, err := s.loadSession(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if err := fn(sess); err != nil {
			return err
		}
		if err := sess.recompute(dirty...); err != nil {
			return err
		}
		if err := sess.save(); err != nil {
			return err
		}
		view = sess.view()
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.WithTurn(view.ID, view.Name).Infof("✅ %s: статус %s", eventType, view.State)
	s.publish(ctx, eventType, view)
	return view, nil
}

// lineInputs все входные поля смены: правка строк может затронуть что угодно
func lineInputs() []string {
	return turnFields.allInputs()
}

// ----- Смена -----

// DefaultTurn заготовка новой смены: строки последней закрытой смены рабочего
// места, иначе товары с ненулевым остатком в подлокациях назначения
// (или в зоне продаж рабочего места). Количество заявки нулевое.
func (s *IPVService) DefaultTurn(ctx context.Context, workplaceID *string, locationDestID string) (*TurnInput, error) {
	in := &TurnInput{WorkplaceID: workplaceID, LocationDestID: locationDestID}
	seen := make(map[string]bool)
	add := func(productID string) {
		if productID == "" || seen[productID] {
			return
		}
		seen[productID] = true
		in.Lines = append(in.Lines, LineInput{ProductID: productID, RequestQty: decimal.Zero})
	}

	if workplaceID != nil {
		wp, err := s.store.GetWorkplace(ctx, *workplaceID)
		if err != nil {
			return nil, fmt.Errorf("рабочее место %s: %w", *workplaceID, err)
		}
		in.LocationID = wp.StockLocID
		if in.LocationDestID == "" {
			in.LocationDestID = wp.SalesLocID
		}

		last, err := s.store.FindLastClosedIPV(ctx, wp.ID)
		switch {
		case err == nil:
			lines, err := s.store.ListLines(ctx, last.ID)
			if err != nil {
				return nil, err
			}
			for _, l := range lines {
				if !l.IsRaw() {
					add(l.ProductID)
				}
			}
			return in, nil
		case !errors.Is(err, repository.ErrNotFound):
			return nil, err
		}

		quants, err := s.store.ListQuants(ctx, repository.QuantFilter{LocationIDs: []string{wp.SalesLocID}})
		if err != nil {
			return nil, err
		}
		for _, q := range quants {
			if !q.Quantity.IsZero() {
				add(q.ProductID)
			}
		}
		return in, nil
	}

	if locationDestID == "" {
		return in, nil
	}
	subs, err := s.store.ListChildLocations(ctx, locationDestID)
	if err != nil {
		return nil, err
	}
	// у готовой продукции в подлокации лежит сырье, а не сам товар
	for _, sub := range subs {
		if sub.ProductID == nil {
			continue
		}
		quants, err := s.store.ListQuants(ctx, repository.QuantFilter{LocationIDs: []string{sub.ID}})
		if err != nil {
			return nil, err
		}
		for _, q := range quants {
			if !q.Quantity.IsZero() {
				add(*sub.ProductID)
				break
			}
		}
	}
	return in, nil
}

// CreateTurn создает смену с кодом из последовательности и ее строки
func (s *IPVService) CreateTurn(ctx context.Context, in TurnInput) (*models.IPV, error) {
	var view *models.IPV
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		ipv := &models.IPV{
			RequestedBy:    in.RequestedBy,
			WorkplaceID:    in.WorkplaceID,
			LocationID:     in.LocationID,
			LocationDestID: in.LocationDestID,
			State:          models.IPVDraft,
			IsLocked:       true,
		}
		if in.WorkplaceID != nil {
			wp, err := tx.GetWorkplace(ctx, *in.WorkplaceID)
			if err != nil {
				return fmt.Errorf("рабочее место %s: %w", *in.WorkplaceID, err)
			}
			if ipv.LocationID == "" {
				ipv.LocationID = wp.StockLocID
			}
			if ipv.LocationDestID == "" {
				ipv.LocationDestID = wp.SalesLocID
			}
		}
		if ipv.LocationID == "" || ipv.LocationDestID == "" {
			return userErr(ErrLocationRequired, "источник %q, назначение %q", ipv.LocationID, ipv.LocationDestID)
		}

		name, err := tx.NextSequence(ctx, turnSequenceCode, s.cfg.SequencePrefix)
		if err != nil {
			return fmt.Errorf("ошибка получения кода смены: %w", err)
		}
		ipv.Name = name
		if err := tx.SaveIPV(ctx, ipv); err != nil {
			return fmt.Errorf("ошибка создания смены: %w", err)
		}

		sess, err := s.newSession(ctx, tx, ipv)
		if err != nil {
			return err
		}
		for _, li := range in.Lines {
			if _, err := sess.addRootLine(li.ProductID, li.RequestQty); err != nil {
				return err
			}
		}
		if err := sess.recomputeAll(); err != nil {
			return err
		}
		if err := sess.save(); err != nil {
			return err
		}
		view = sess.view()
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.WithTurn(view.ID, view.Name).Infof("✅ Смена создана, строк: %d", len(view.Lines))
	s.publish(ctx, EventTurnCreated, view)
	return view, nil
}

// GetTurn смена со строками и актуальными остатками (без сохранения)
func (s *IPVService) GetTurn(ctx context.Context, id string) (*models.IPV, error) {
	sess, err := s.loadSession(ctx, s.store, id, false)
	if err != nil {
		return nil, err
	}
	if err := sess.recomputeAll(); err != nil {
		return nil, err
	}
	return sess.view(), nil
}

// ListTurns список смен (без строк)
func (s *IPVService) ListTurns(ctx context.Context, f repository.IPVFilter) ([]models.IPV, error) {
	turns, err := s.store.ListIPVs(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения смен: %w", err)
	}
	return turns, nil
}

// DeleteTurn удаляет смену в статусе draft/cancel вместе со строками.
// Незавершенные перемещения удаляются, проведенные остаются без ссылки на смену.
func (s *IPVService) DeleteTurn(ctx context.Context, id string) error {
	var view *models.IPV
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		sess, err := s.loadSession(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if sess.ipv.State != models.IPVDraft && sess.ipv.State != models.IPVCancel {
			return userErr(ErrTurnNotDeletable, "%s в статусе %s", sess.ipv.Name, sess.ipv.State)
		}

		keepPicking := false
		for _, m := range sess.allMoves() {
			if m.State == models.MoveDone {
				m.IPVID, m.IPVLineID = nil, nil
				keepPicking = keepPicking || m.PickingID != nil
				if err := tx.SaveMove(ctx, m); err != nil {
					return err
				}
				continue
			}
			if err := sess.stock.Cancel(ctx, []*models.StockMove{m}); err != nil {
				return err
			}
			if err := tx.DeleteMove(ctx, m.ID); err != nil {
				return fmt.Errorf("ошибка удаления перемещения: %w", err)
			}
		}
		for _, l := range sess.tree.all() {
			if err := tx.DeleteLine(ctx, l.ID); err != nil {
				return fmt.Errorf("ошибка удаления строки: %w", err)
			}
		}
		if sess.picking != nil {
			if keepPicking {
				sess.picking.IPVID = nil
				err = tx.SavePicking(ctx, sess.picking)
			} else {
				err = tx.DeletePicking(ctx, sess.picking.ID)
			}
			if err != nil {
				return err
			}
		}
		if err := tx.DeleteIPV(ctx, id); err != nil {
			return fmt.Errorf("ошибка удаления смены: %w", err)
		}
		view = sess.ipv
		return nil
	})
	if err != nil {
		return err
	}
	logger.WithTurn(view.ID, view.Name).Info("🗑️ Смена удалена")
	s.publish(ctx, EventTurnDeleted, view)
	return nil
}

// ----- Строки -----

// addRootLine новая строка верхнего уровня; в подтвержденной смене
// сразу подтверждается
func (s *turnSession) addRootLine(productID string, qty decimal.Decimal) (*models.IPVLine, error) {
	product, err := s.product(productID)
	if err != nil {
		return nil, err
	}
	if err := s.allowed(product); err != nil {
		return nil, err
	}
	l, err := s.newLine(productID, qty, nil)
	if err != nil {
		return nil, err
	}
	if s.ipv.State != models.IPVDraft {
		if err := s.behavior(l).confirm(s, l); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// allowed проверяет ограничения рабочего места на товар
func (s *turnSession) allowed(p *models.Product) error {
	if !p.IsStockable() {
		return userErr(ErrProductNotAllowed, "%s не складской товар", p.Name)
	}
	if s.workplace == nil {
		return nil
	}
	if !p.AllowedAt(s.workplace.ID) || (len(s.workplace.ProductIDs) > 0 && !s.workplace.Allows(p.ID)) {
		return userErr(ErrProductNotAllowed, "%s на %s", p.Name, s.workplace.Name)
	}
	return nil
}

func (s *turnSession) line(id string) (*models.IPVLine, error) {
	l := s.tree.get(id)
	if l == nil {
		return nil, fmt.Errorf("строка %s смены %s: %w", id, s.ipv.Name, repository.ErrNotFound)
	}
	return l, nil
}

// AddLine добавляет строку в смену
func (s *IPVService) AddLine(ctx context.Context, turnID string, in LineInput) (*models.IPV, error) {
	return s.mutate(ctx, turnID, EventTurnUpdated, lineInputs(), func(sess *turnSession) error {
		if err := sess.editable(); err != nil {
			return err
		}
		_, err := sess.addRootLine(in.ProductID, in.RequestQty)
		return err
	})
}

// UpdateLine меняет товар и/или количество строки
func (s *IPVService) UpdateLine(ctx context.Context, turnID, lineID string, upd LineUpdate) (*models.IPV, error) {
	return s.mutate(ctx, turnID, EventTurnUpdated, lineInputs(), func(sess *turnSession) error {
		if err := sess.editable(); err != nil {
			return err
		}
		l, err := sess.line(lineID)
		if err != nil {
			return err
		}
		if upd.ProductID != nil && *upd.ProductID != l.ProductID {
			if err := sess.changeProduct(l, *upd.ProductID); err != nil {
				return err
			}
		}
		if upd.RequestQty != nil {
			return sess.updateRequestQty(l, *upd.RequestQty)
		}
		return nil
	})
}

// changeProduct меняет товар строки без перемещений: сырье пересоздается
func (s *turnSession) changeProduct(l *models.IPVLine, productID string) error {
	if s.hasMoves(l) {
		return userErr(ErrProductLocked, "строка %s", l.ID)
	}
	product, err := s.product(productID)
	if err != nil {
		return err
	}
	if !l.IsRaw() {
		if err := s.allowed(product); err != nil {
			return err
		}
	}
	if err := s.releaseRaws(l); err != nil {
		return err
	}
	l.ProductID = product.ID
	l.Kind, l.BOMID, l.SublocationID = models.LineSimple, nil, nil
	if l.IsRaw() {
		return nil
	}
	bom, err := s.boms.FindBOM(s.ctx, product.ID, models.BOMNormal)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	id := bom.ID
	l.Kind, l.BOMID = models.LineManufactured, &id
	return s.prepareRawMaterials(l)
}

func (s *turnSession) hasMoves(l *models.IPVLine) bool {
	if len(s.moves[l.ID]) > 0 {
		return true
	}
	for _, c := range s.tree.childrenOf(l.ID) {
		if s.hasMoves(c) {
			return true
		}
	}
	return false
}

// DeleteLine удаляет строку в статусе draft/cancel вместе с сырьем и перемещениями
func (s *IPVService) DeleteLine(ctx context.Context, turnID, lineID string) (*models.IPV, error) {
	return s.mutate(ctx, turnID, EventTurnUpdated, lineInputs(), func(sess *turnSession) error {
		if err := sess.editable(); err != nil {
			return err
		}
		l, err := sess.line(lineID)
		if err != nil {
			return err
		}
		if l.State != models.MoveDraft && l.State != models.MoveCancel {
			return userErr(ErrLineNotDeletable, "строка в статусе %s", l.State)
		}
		if sess.hasDoneMoves(l) {
			return userErr(ErrLineNotDeletable, "по строке есть проведенные перемещения")
		}
		return sess.removeLine(l)
	})
}

// ProductOnchange товары для новой строки: складские, продаются на кассе,
// еще не в смене, разрешены рабочим местом. Для productID возвращает
// его спецификацию, если товар готовится.
func (s *IPVService) ProductOnchange(ctx context.Context, turnID, productID string) (*ProductChoices, error) {
	sess, err := s.loadSession(ctx, s.store, turnID, false)
	if err != nil {
		return nil, err
	}
	present := make(map[string]bool)
	for _, l := range sess.tree.roots() {
		present[l.ProductID] = true
	}
	products, err := s.store.ListProducts(ctx)
	if err != nil {
		return nil, err
	}

	out := &ProductChoices{}
	for i := range products {
		p := &products[i]
		if !p.IsActive || !p.AvailableInPOS || present[p.ID] {
			continue
		}
		if sess.allowed(p) != nil {
			continue
		}
		out.Products = append(out.Products, *p)
	}
	if sess.workplace == nil {
		out.Warning = "У смены не задано рабочее место: доступны все товары кассы"
	}
	if productID != "" {
		bom, err := s.boms.FindBOM(ctx, productID, models.BOMNormal)
		switch {
		case err == nil:
			out.BOM = bom
		case !errors.Is(err, repository.ErrNotFound):
			return nil, err
		}
	}
	return out, nil
}

// ----- Действия -----

// Confirm создает и подтверждает перемещения по всем строкам
func (s *IPVService) Confirm(ctx context.Context, id string) (*models.IPV, error) {
	return s.mutate(ctx, id, EventTurnConfirmed, []string{fieldMoveState, fieldRequestQty, fieldQuant}, func(sess *turnSession) error {
		if err := sess.editable(); err != nil {
			return err
		}
		return sess.confirm()
	})
}

// Assign подтверждает черновик и резервирует остатки
func (s *IPVService) Assign(ctx context.Context, id string) (*models.IPV, error) {
	return s.mutate(ctx, id, EventTurnAssigned, []string{fieldMoveState, fieldRequestQty, fieldQuant}, func(sess *turnSession) error {
		if err := sess.editable(); err != nil {
			return err
		}
		if sess.ipv.State == models.IPVDraft {
			if err := sess.confirm(); err != nil {
				return err
			}
		}
		var eligible []*models.StockMove
		for _, m := range sess.pendingMoves() {
			switch m.State {
			case models.MoveConfirmed, models.MoveWaiting, models.MovePartiallyAvailable:
				eligible = append(eligible, m)
			}
		}
		if len(eligible) == 0 {
			return userErr(ErrNothingToCheck, "%s", sess.ipv.Name)
		}
		return sess.stock.Assign(ctx, eligible)
	})
}

// Unreserve снимает резервы смены
func (s *IPVService) Unreserve(ctx context.Context, id string) (*models.IPV, error) {
	return s.mutate(ctx, id, EventTurnUpdated, []string{fieldMoveState, fieldQuant}, func(sess *turnSession) error {
		if err := sess.editable(); err != nil {
			return err
		}
		return sess.stock.Unreserve(ctx, sess.pendingMoves())
	})
}

// Validate проводит смену. Если выполненные количества не введены,
// выполненным считается зарезервированное.
func (s *IPVService) Validate(ctx context.Context, id string) (*models.IPV, error) {
	return s.mutate(ctx, id, EventTurnDone, []string{fieldMoveState, fieldQuant, fieldInitialStock}, func(sess *turnSession) error {
		if err := sess.editable(); err != nil {
			return err
		}
		return sess.validate()
	})
}

func (s *turnSession) validate() error {
	if len(s.allMoves()) == 0 {
		return userErr(ErrNothingToMove, "%s", s.ipv.Name)
	}
	pending := s.pendingMoves()
	reserved, done := decimal.Zero, decimal.Zero
	for _, m := range pending {
		if _, err := s.stock.Refresh(s.ctx, m); err != nil {
			return err
		}
		reserved = reserved.Add(m.ReservedQty)
		done = done.Add(m.QtyDone)
	}
	if reserved.IsZero() && done.IsZero() {
		return userErr(ErrNothingReserved, "%s", s.ipv.Name)
	}
	if done.IsZero() {
		for _, m := range pending {
			if m.ReservedQty.Sign() <= 0 {
				continue
			}
			if err := s.stock.SetQuantityDone(s.ctx, m, m.ReservedQty); err != nil {
				return err
			}
		}
	}
	return s.done()
}

// Done проводит перемещения с уже введенными выполненными количествами
// и фиксирует остаток на начало
func (s *IPVService) Done(ctx context.Context, id string) (*models.IPV, error) {
	return s.mutate(ctx, id, EventTurnDone, []string{fieldMoveState, fieldQuant, fieldInitialStock}, func(sess *turnSession) error {
		if err := sess.editable(); err != nil {
			return err
		}
		return sess.done()
	})
}

// Open открывает смену: проводит перемещения, дата открытия ставится,
// когда все строки выполнены
func (s *IPVService) Open(ctx context.Context, id string) (*models.IPV, error) {
	return s.mutate(ctx, id, EventTurnDone, []string{fieldMoveState, fieldQuant, fieldInitialStock}, func(sess *turnSession) error {
		if err := sess.editable(); err != nil {
			return err
		}
		if sess.ipv.State == models.IPVOpen {
			return nil
		}
		return sess.validate()
	})
}

// Close закрывает открытую смену и фиксирует расход
func (s *IPVService) Close(ctx context.Context, id string) (*models.IPV, error) {
	return s.mutate(ctx, id, EventTurnClosed, turnFields.allInputs(), func(sess *turnSession) error {
		if err := sess.recomputeAll(); err != nil {
			return err
		}
		if sess.ipv.State != models.IPVOpen {
			return userErr(ErrTurnNotOpen, "%s в статусе %s", sess.ipv.Name, sess.ipv.State)
		}
		now := sess.now()
		sess.ipv.DateClose = &now
		sess.ipv.IsLocked = true
		return nil
	})
}

// Cancel отменяет смену до открытия
func (s *IPVService) Cancel(ctx context.Context, id string) (*models.IPV, error) {
	return s.mutate(ctx, id, EventTurnCancelled, []string{fieldMoveState, fieldQuant}, func(sess *turnSession) error {
		switch sess.ipv.State {
		case models.IPVDraft, models.IPVCheck, models.IPVAssign:
		default:
			return userErr(ErrTurnNotCancelable, "%s в статусе %s", sess.ipv.Name, sess.ipv.State)
		}
		if err := sess.stock.Cancel(ctx, sess.pendingMoves()); err != nil {
			return err
		}
		sess.ipv.Cancelled = true
		return nil
	})
}

// Recompute полный пересчет смены с сохранением
func (s *IPVService) Recompute(ctx context.Context, id string) (*models.IPV, error) {
	return s.mutate(ctx, id, EventTurnUpdated, turnFields.allInputs(), func(*turnSession) error { return nil })
}

// SetMoveQuantityDone ручной ввод выполненного количества перемещения смены
func (s *IPVService) SetMoveQuantityDone(ctx context.Context, moveID string, qty decimal.Decimal) (*models.StockMove, error) {
	var out *models.StockMove
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		m, err := tx.GetMove(ctx, moveID)
		if err != nil {
			return fmt.Errorf("перемещение %s: %w", moveID, err)
		}
		if m.IPVID != nil {
			ipv, err := tx.LockIPV(ctx, *m.IPVID)
			if err != nil {
				return err
			}
			if ipv.DateClose != nil || ipv.Cancelled {
				return userErr(ErrTurnClosed, "%s", ipv.Name)
			}
		}
		if err := s.stock.With(tx).SetQuantityDone(ctx, m, qty); err != nil {
			return err
		}
		out = m
		return nil
	})
	return out, err
}

// ----- Продажи и инвентаризация -----

// SaleInput продажа товара на рабочем месте
type SaleInput struct {
	WorkplaceID string          `json:"workplace_id"`
	ProductID   string          `json:"product_id"`
	Qty         decimal.Decimal `json:"qty"`
	Origin      string          `json:"origin"`
}

// RegisterSale списывает продажу: готовящийся товар списывается сырьем
// с локации приготовления, остальной - из зоны продаж. Открытые смены
// рабочего места пересчитываются.
func (s *IPVService) RegisterSale(ctx context.Context, sale SaleInput) error {
	var touched []*models.IPV
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		wp, err := tx.GetWorkplace(ctx, sale.WorkplaceID)
		if err != nil {
			return fmt.Errorf("рабочее место %s: %w", sale.WorkplaceID, err)
		}
		product, err := tx.GetProduct(ctx, sale.ProductID)
		if err != nil {
			return fmt.Errorf("товар %s: %w", sale.ProductID, err)
		}
		stock, boms := s.stock.With(tx), s.boms.With(tx)

		bom, err := boms.FindBOM(ctx, product.ID, models.BOMNormal)
		switch {
		case err == nil:
			comps, err := boms.ExplodeProportion(ctx, product, bom, sale.Qty)
			if err != nil {
				return err
			}
			for _, c := range comps {
				comp, err := tx.GetProduct(ctx, c.ProductID)
				if err != nil {
					return err
				}
				loc := wp.ElaborationLocID
				if comp.ElaborationLocID != nil {
					loc = *comp.ElaborationLocID
				}
				if c.Qty.Sign() <= 0 {
					continue
				}
				if _, err := stock.ConsumeSale(ctx, SaleLine{ProductID: comp.ID, LocationID: loc, Qty: c.Qty, Origin: sale.Origin}); err != nil {
					return err
				}
			}
		case errors.Is(err, repository.ErrNotFound):
			if _, err := stock.ConsumeSale(ctx, SaleLine{ProductID: product.ID, LocationID: wp.SalesLocID, Qty: sale.Qty, Origin: sale.Origin}); err != nil {
				return err
			}
		default:
			return err
		}

		touched, err = s.refreshOpenTurns(ctx, tx, wp.ID)
		return err
	})
	if err != nil {
		return err
	}
	for _, v := range touched {
		s.publish(ctx, EventTurnUpdated, v)
	}
	return nil
}

// AdjustInventory выставляет фактический остаток и пересчитывает открытые смены
func (s *IPVService) AdjustInventory(ctx context.Context, productID, locationID string, qty decimal.Decimal) (*models.StockMove, error) {
	var (
		move    *models.StockMove
		touched []*models.IPV
	)
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		var err error
		if move, err = s.stock.With(tx).AdjustInventory(ctx, productID, locationID, qty); err != nil {
			return err
		}
		touched, err = s.refreshOpenTurns(ctx, tx, "")
		return err
	})
	if err != nil {
		return nil, err
	}
	for _, v := range touched {
		s.publish(ctx, EventTurnUpdated, v)
	}
	return move, nil
}

// refreshOpenTurns пересчитывает остатки и расход открытых смен
// (workplaceID пустой - всех рабочих мест)
func (s *IPVService) refreshOpenTurns(ctx context.Context, tx repository.Store, workplaceID string) ([]*models.IPV, error) {
	turns, err := tx.ListIPVs(ctx, repository.IPVFilter{WorkplaceID: workplaceID, State: models.IPVOpen})
	if err != nil {
		return nil, err
	}
	out := make([]*models.IPV, 0, len(turns))
	for _, t := range turns {
		sess, err := s.loadSession(ctx, tx, t.ID, true)
		if err != nil {
			return nil, err
		}
		if err := sess.recompute(fieldQuant); err != nil {
			return nil, err
		}
		if err := sess.save(); err != nil {
			return nil, err
		}
		out = append(out, sess.view())
	}
	return out, nil
}
