package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"stockipv/server/internal/models"
	"stockipv/server/internal/repository"
)

// turnSession смена со строками и перемещениями, загруженная в транзакции
type turnSession struct {
	ctx       context.Context
	tx        repository.Store
	stock     *StockService
	boms      *BOMService
	uoms      *UoMService
	locs      *LocationService
	cfg       IPVConfig
	now       func() time.Time
	ipv       *models.IPV
	workplace *models.Workplace
	picking   *models.Picking
	tree      *lineTree
	moves     map[string][]*models.StockMove // по ID строки
	products  map[string]*models.Product
}

func (s *IPVService) newSession(ctx context.Context, tx repository.Store, ipv *models.IPV) (*turnSession, error) {
	sess := &turnSession{
		ctx:      ctx,
		tx:       tx,
		stock:    s.stock.With(tx),
		boms:     s.boms.With(tx),
		uoms:     s.uoms.With(tx),
		locs:     s.locs.With(tx),
		cfg:      s.cfg,
		now:      s.now,
		ipv:      ipv,
		moves:    make(map[string][]*models.StockMove),
		products: make(map[string]*models.Product),
	}
	if ipv.WorkplaceID != nil {
		wp, err := tx.GetWorkplace(ctx, *ipv.WorkplaceID)
		if err != nil {
			return nil, fmt.Errorf("рабочее место %s: %w", *ipv.WorkplaceID, err)
		}
		sess.workplace = wp
	}
	tree, err := newLineTree(nil)
	if err != nil {
		return nil, err
	}
	sess.tree = tree
	return sess, nil
}

// loadSession загружает смену; lock - с блокировкой строки смены
func (s *IPVService) loadSession(ctx context.Context, tx repository.Store, id string, lock bool) (*turnSession, error) {
	var (
		ipv *models.IPV
		err error
	)
	if lock {
		ipv, err = tx.LockIPV(ctx, id)
	} else {
		ipv, err = tx.GetIPV(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("смена %s: %w", id, err)
	}

	sess, err := s.newSession(ctx, tx, ipv)
	if err != nil {
		return nil, err
	}

	lines, err := tx.ListLines(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки строк смены: %w", err)
	}
	if sess.tree, err = newLineTree(lines); err != nil {
		return nil, err
	}

	moves, err := tx.ListMoves(ctx, repository.MoveFilter{IPVID: id})
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки перемещений смены: %w", err)
	}
	for i := range moves {
		m := &moves[i]
		if m.IPVLineID == nil {
			continue
		}
		sess.moves[*m.IPVLineID] = append(sess.moves[*m.IPVLineID], m)
	}

	if ipv.PickingID != nil {
		p, err := tx.GetPicking(ctx, *ipv.PickingID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		sess.picking = p
	}
	return sess, nil
}

// recompute пересчитывает поля, зависящие от dirty
func (s *turnSession) recompute(dirty ...string) error {
	return turnFields.run(s.ctx, s, dirty...)
}

func (s *turnSession) recomputeAll() error {
	return s.recompute(turnFields.allInputs()...)
}

func (s *turnSession) save() error {
	for _, l := range s.tree.all() {
		if err := s.tx.SaveLine(s.ctx, l); err != nil {
			return fmt.Errorf("ошибка сохранения строки смены: %w", err)
		}
	}
	if s.picking != nil {
		if err := s.tx.SavePicking(s.ctx, s.picking); err != nil {
			return fmt.Errorf("ошибка сохранения перемещения: %w", err)
		}
	}
	if err := s.tx.SaveIPV(s.ctx, s.ipv); err != nil {
		return fmt.Errorf("ошибка сохранения смены: %w", err)
	}
	return nil
}

// view копия смены со строками для ответа
func (s *turnSession) view() *models.IPV {
	out := *s.ipv
	out.Lines = make([]models.IPVLine, 0, len(s.tree.order))
	for _, l := range s.tree.all() {
		out.Lines = append(out.Lines, *l)
	}
	return &out
}

func (s *turnSession) product(id string) (*models.Product, error) {
	if p, ok := s.products[id]; ok {
		return p, nil
	}
	p, err := s.tx.GetProduct(s.ctx, id)
	if err != nil {
		return nil, fmt.Errorf("товар %s: %w", id, err)
	}
	s.products[id] = p
	return p, nil
}

func (s *turnSession) allMoves() []*models.StockMove {
	var out []*models.StockMove
	for _, l := range s.tree.all() {
		out = append(out, s.moves[l.ID]...)
	}
	return out
}

func (s *turnSession) pendingMoves() []*models.StockMove {
	var out []*models.StockMove
	for _, m := range s.allMoves() {
		if !m.State.IsTerminal() {
			out = append(out, m)
		}
	}
	return out
}

// editable смена не закрыта и не отменена
func (s *turnSession) editable() error {
	if s.ipv.DateClose != nil || s.ipv.State == models.IPVClose || s.ipv.State == models.IPVCancel {
		return userErr(ErrTurnClosed, "%s", s.ipv.Name)
	}
	return nil
}

// ----- Локации -----

// sourceLocationID откуда пополняем: склад рабочего места или источник смены
func (s *turnSession) sourceLocationID() string {
	if s.workplace != nil {
		return s.workplace.StockLocID
	}
	return s.ipv.LocationID
}

// lineLocationID локация строки (куда перемещаем и где считаем остаток).
// С рабочим местом: продаваемая строка - зона продаж, сырье - локация
// приготовления товара или рабочего места. Без рабочего места - подлокация
// товара в локации назначения; сырье - подлокация готового продукта.
// create=false не создает подлокацию и возвращает "", если ее нет.
func (s *turnSession) lineLocationID(l *models.IPVLine, create bool) (string, error) {
	product, err := s.product(l.ProductID)
	if err != nil {
		return "", err
	}
	if l.IsRaw() {
		parent := s.tree.get(*l.ParentID)
		if parent == nil {
			return "", fmt.Errorf("родительская строка %s не найдена", *l.ParentID)
		}
		return s.rawLocationID(parent, product, create)
	}

	if s.workplace != nil {
		if product.AvailableInPOS {
			return s.workplace.SalesLocID, nil
		}
		if product.ElaborationLocID != nil {
			return *product.ElaborationLocID, nil
		}
		return s.workplace.ElaborationLocID, nil
	}

	if l.SublocationID != nil {
		return *l.SublocationID, nil
	}
	usage := models.UsageTransit
	if l.Kind == models.LineManufactured {
		usage = models.UsageProduction
	}
	return s.sublocation(l, s.ipv.LocationDestID, product, usage, create)
}

// rawLocationID где лежит сырье component для строки готового продукта parent
func (s *turnSession) rawLocationID(parent *models.IPVLine, component *models.Product, create bool) (string, error) {
	if s.workplace != nil {
		if component.ElaborationLocID != nil {
			return *component.ElaborationLocID, nil
		}
		return s.workplace.ElaborationLocID, nil
	}
	return s.lineLocationID(parent, create)
}

func (s *turnSession) sublocation(l *models.IPVLine, parentLocID string, product *models.Product, usage models.LocationUsage, create bool) (string, error) {
	if create {
		loc, err := s.locs.EnsureSublocation(s.ctx, parentLocID, product, usage)
		if err != nil {
			return "", err
		}
		id := loc.ID
		l.SublocationID = &id
		return id, nil
	}
	loc, err := s.tx.FindSublocation(s.ctx, parentLocID, product.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return loc.ID, nil
}

// ----- Строки -----

func (s *turnSession) behavior(l *models.IPVLine) lineBehavior {
	if l.Kind == models.LineManufactured {
		return manufacturedLine{}
	}
	return simpleLine{}
}

// lineBOM спецификация строки готового продукта
func (s *turnSession) lineBOM(l *models.IPVLine) (*models.BOM, error) {
	if l.BOMID != nil {
		return s.tx.GetBOM(s.ctx, *l.BOMID)
	}
	return s.boms.FindBOM(s.ctx, l.ProductID, models.BOMNormal)
}

// newLine создает строку и вставляет ее в дерево
func (s *turnSession) newLine(productID string, qty decimal.Decimal, parentID *string) (*models.IPVLine, error) {
	if qty.Sign() < 0 {
		return nil, userErr(ErrInvalidQuantity, "%s", qty.String())
	}
	product, err := s.product(productID)
	if err != nil {
		return nil, err
	}
	l := &models.IPVLine{
		ID:         uuid.New().String(),
		IPVID:      s.ipv.ID,
		ProductID:  product.ID,
		Kind:       models.LineSimple,
		ParentID:   parentID,
		RequestQty: qty,
		State:      models.MoveDraft,
	}
	// Сырье всегда простое: готовится вне смены
	if parentID == nil {
		bom, err := s.boms.FindBOM(s.ctx, product.ID, models.BOMNormal)
		switch {
		case err == nil:
			id := bom.ID
			l.Kind = models.LineManufactured
			l.BOMID = &id
		case !errors.Is(err, repository.ErrNotFound):
			return nil, err
		}
	}
	if err := s.tree.insert(l); err != nil {
		return nil, err
	}
	if err := s.tx.SaveLine(s.ctx, l); err != nil {
		return nil, fmt.Errorf("ошибка создания строки смены: %w", err)
	}
	if l.Kind == models.LineManufactured {
		if err := s.prepareRawMaterials(l); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// prepareRawMaterials создает строки сырья по спецификации
func (s *turnSession) prepareRawMaterials(l *models.IPVLine) error {
	product, err := s.product(l.ProductID)
	if err != nil {
		return err
	}
	bom, err := s.lineBOM(l)
	if err != nil {
		return fmt.Errorf("спецификация для %s: %w", product.Name, err)
	}
	comps, err := s.boms.ExplodeProportion(s.ctx, product, bom, l.RequestQty)
	if err != nil {
		return err
	}
	parentID := l.ID
	for _, c := range comps {
		if _, err := s.newLine(c.ProductID, c.Qty, &parentID); err != nil {
			return err
		}
	}
	return s.mergeRaws()
}

// mergeRaws объединяет строки сырья с одинаковыми товаром, спецификацией
// и локацией приготовления у всех готовых продуктов смены. Остается первая
// строка: она получает количество, перемещения и родителей дублей.
func (s *turnSession) mergeRaws() error {
	keys := make(map[string]string)
	for _, l := range s.tree.all() {
		if !l.IsRaw() {
			continue
		}
		loc, err := s.lineLocationID(l, true)
		if err != nil {
			return err
		}
		bom := ""
		if l.BOMID != nil {
			bom = *l.BOMID
		}
		keys[l.ID] = l.ProductID + "|" + bom + "|" + loc
	}

	targets, dups := mergeRawLines(s.tree.all(), func(l *models.IPVLine) string { return keys[l.ID] })
	for i, dup := range dups {
		target := targets[i]
		for _, p := range dup.Parents() {
			if err := s.tree.attach(target.ID, p); err != nil {
				return err
			}
		}
		if moves := s.moves[dup.ID]; len(moves) > 0 {
			for _, m := range moves {
				id := target.ID
				m.IPVLineID = &id
				if err := s.tx.SaveMove(s.ctx, m); err != nil {
					return err
				}
				s.moves[target.ID] = append(s.moves[target.ID], m)
			}
			target.RequestQty = target.RequestQty.Add(dup.RequestQty)
		} else if err := s.updateRequestQty(target, target.RequestQty.Add(dup.RequestQty)); err != nil {
			return err
		}
		delete(s.moves, dup.ID)
		s.tree.remove(dup.ID)
		if err := s.tx.DeleteLine(s.ctx, dup.ID); err != nil {
			return fmt.Errorf("ошибка удаления дубля строки: %w", err)
		}
	}
	return nil
}

// rawShare сколько сырья productID приходится на строку готового продукта
func (s *turnSession) rawShare(parent *models.IPVLine, productID string) (decimal.Decimal, error) {
	product, err := s.product(parent.ProductID)
	if err != nil {
		return decimal.Zero, err
	}
	bom, err := s.lineBOM(parent)
	if err != nil {
		return decimal.Zero, err
	}
	comps, err := s.boms.ExplodeProportion(s.ctx, product, bom, parent.RequestQty)
	if err != nil {
		return decimal.Zero, err
	}
	share := decimal.Zero
	for _, c := range comps {
		if c.ProductID == productID {
			share = share.Add(c.Qty)
		}
	}
	return share, nil
}

// releaseRaws снимает сырье со строки готового продукта: общее сырье
// уменьшается на долю l и остается у других продуктов, свое удаляется
func (s *turnSession) releaseRaws(l *models.IPVLine) error {
	for _, c := range s.tree.childrenOf(l.ID) {
		if len(c.Parents()) < 2 {
			if err := s.removeLine(c); err != nil {
				return err
			}
			continue
		}
		share, err := s.rawShare(l, c.ProductID)
		if err != nil {
			return err
		}
		qty := c.RequestQty.Sub(share)
		if qty.Sign() < 0 {
			qty = decimal.Zero
		}
		if err := s.updateRequestQty(c, qty); err != nil {
			return err
		}
		if err := s.tree.detach(c.ID, l.ID); err != nil {
			return err
		}
	}
	return nil
}

// removeLine удаляет строку с потомками, отменяет и удаляет их перемещения
func (s *turnSession) removeLine(l *models.IPVLine) error {
	if err := s.releaseRaws(l); err != nil {
		return err
	}
	for _, id := range s.tree.remove(l.ID) {
		moves := s.moves[id]
		if err := s.stock.Cancel(s.ctx, moves); err != nil {
			return err
		}
		for _, m := range moves {
			if err := s.tx.DeleteMove(s.ctx, m.ID); err != nil {
				return fmt.Errorf("ошибка удаления перемещения: %w", err)
			}
		}
		delete(s.moves, id)
		if err := s.tx.DeleteLine(s.ctx, id); err != nil {
			return fmt.Errorf("ошибка удаления строки: %w", err)
		}
	}
	return nil
}

// hasDoneMoves true, если у строки или ее потомков есть проведенные перемещения
func (s *turnSession) hasDoneMoves(l *models.IPVLine) bool {
	for _, m := range s.moves[l.ID] {
		if m.State == models.MoveDone {
			return true
		}
	}
	for _, c := range s.tree.childrenOf(l.ID) {
		if s.hasDoneMoves(c) {
			return true
		}
	}
	return false
}

// createMove новое перемещение строки на qty
func (s *turnSession) createMove(l *models.IPVLine, qty decimal.Decimal) (*models.StockMove, error) {
	product, err := s.product(l.ProductID)
	if err != nil {
		return nil, err
	}
	dest, err := s.lineLocationID(l, true)
	if err != nil {
		return nil, err
	}
	ipvID, lineID := s.ipv.ID, l.ID
	m := &models.StockMove{
		Name:           fmt.Sprintf("%s(%s)", s.ipv.Name, product.Name),
		Origin:         s.ipv.Name,
		ProductID:      product.ID,
		ProductUoMID:   product.UoMID,
		ProductUoMQty:  qty,
		LocationID:     s.sourceLocationID(),
		LocationDestID: dest,
		State:          models.MoveDraft,
		IPVID:          &ipvID,
		IPVLineID:      &lineID,
	}
	if s.cfg.GroupPicking {
		p, err := s.ensurePicking()
		if err != nil {
			return nil, err
		}
		pid := p.ID
		m.PickingID = &pid
	}
	if err := s.tx.SaveMove(s.ctx, m); err != nil {
		return nil, fmt.Errorf("ошибка создания перемещения: %w", err)
	}
	s.moves[l.ID] = append(s.moves[l.ID], m)
	return m, nil
}

// ensurePicking документ, объединяющий перемещения смены
func (s *turnSession) ensurePicking() (*models.Picking, error) {
	if s.picking != nil {
		return s.picking, nil
	}
	ipvID := s.ipv.ID
	p := &models.Picking{
		Name:           s.ipv.Name,
		Origin:         s.ipv.Name,
		IPVID:          &ipvID,
		LocationID:     s.sourceLocationID(),
		LocationDestID: s.ipv.LocationDestID,
		State:          models.MoveDraft,
	}
	if err := s.tx.SavePicking(s.ctx, p); err != nil {
		return nil, fmt.Errorf("ошибка создания документа перемещения: %w", err)
	}
	pid := p.ID
	s.ipv.PickingID = &pid
	s.picking = p
	return p, nil
}

// updateRequestQty меняет заявленное количество строки
func (s *turnSession) updateRequestQty(l *models.IPVLine, qty decimal.Decimal) error {
	if qty.Sign() < 0 {
		return userErr(ErrInvalidQuantity, "%s", qty.String())
	}
	delta := qty.Sub(l.RequestQty)
	if delta.IsZero() {
		return nil
	}
	if delta.Sign() < 0 && l.State == models.MoveDone {
		return userErr(ErrReduceDoneQty, "строка %s", l.ID)
	}
	return s.behavior(l).updateRequestQty(s, l, qty)
}

// ----- Действия -----

func (s *turnSession) confirm() error {
	for _, l := range s.tree.roots() {
		if err := s.behavior(l).confirm(s, l); err != nil {
			return err
		}
	}
	return nil
}

// done фиксирует остаток на начало (только при первом выполнении строки)
// и проводит перемещения
func (s *turnSession) done() error {
	for _, l := range s.tree.postOrder() {
		if l.InitialTaken {
			continue
		}
		onHand, err := s.behavior(l).onHand(s, l)
		if err != nil {
			return err
		}
		l.InitialStockQty = onHand
		l.InitialTaken = true
	}

	backorders, err := s.stock.Done(s.ctx, s.pendingMoves())
	if err != nil {
		return err
	}
	for _, bo := range backorders {
		if bo.IPVLineID != nil {
			s.moves[*bo.IPVLineID] = append(s.moves[*bo.IPVLineID], bo)
		}
	}

	if err := s.recompute(fieldMoveState, fieldQuant, fieldInitialStock); err != nil {
		return err
	}
	if s.ipv.State == models.IPVOpen && s.ipv.DateOpen == nil {
		now := s.now()
		s.ipv.DateOpen = &now
	}
	return nil
}

// ----- Вычисляемые поля -----

func computeLineStates(ctx context.Context, s *turnSession) error {
	for _, l := range s.tree.postOrder() {
		l.State = s.behavior(l).state(s, l)
	}
	return nil
}

func computeOnHand(ctx context.Context, s *turnSession) error {
	for _, l := range s.tree.all() {
		qty, err := s.behavior(l).onHand(s, l)
		if err != nil {
			return err
		}
		l.OnHandQty = qty
	}
	return nil
}

// computeConsumed расход = остаток на начало + заявлено - текущий остаток
func computeConsumed(ctx context.Context, s *turnSession) error {
	for _, l := range s.tree.all() {
		l.ConsumedQty = l.InitialStockQty.Add(l.RequestQty).Sub(l.OnHandQty)
	}
	return nil
}

func computePickingState(ctx context.Context, s *turnSession) error {
	if s.picking == nil {
		return nil
	}
	var states []models.MoveState
	for _, m := range s.allMoves() {
		if m.PickingID != nil && *m.PickingID == s.picking.ID {
			states = append(states, m.State)
		}
	}
	s.picking.State = AggregateMoveStates(states)
	if s.picking.State == models.MoveDone && s.picking.DateDone == nil {
		now := s.now()
		s.picking.DateDone = &now
	}
	return nil
}

// computeIPVState статус смены. Закрытие и отмена фиксируются на смене,
// остальное выводится из строк. Строки без заявки и без перемещений не учитываются.
func computeIPVState(ctx context.Context, s *turnSession) error {
	switch {
	case s.ipv.DateClose != nil:
		s.ipv.State = models.IPVClose
		return nil
	case s.ipv.Cancelled:
		s.ipv.State = models.IPVCancel
		return nil
	}
	var states []models.MoveState
	for _, l := range s.tree.all() {
		if l.RequestQty.IsZero() && l.State == models.MoveDraft && len(s.moves[l.ID]) == 0 {
			continue
		}
		states = append(states, l.State)
	}
	s.ipv.State = AggregateLineStates(states)
	return nil
}

func (s *turnSession) inProgress() bool {
	return s.ipv.State == models.IPVCheck || s.ipv.State == models.IPVAssign
}

func computeShowCheck(ctx context.Context, s *turnSession) error {
	s.ipv.ShowCheckAvailability = false
	if !s.inProgress() {
		return nil
	}
	for _, m := range s.pendingMoves() {
		switch m.State {
		case models.MoveConfirmed, models.MoveWaiting, models.MovePartiallyAvailable:
			s.ipv.ShowCheckAvailability = true
			return nil
		}
	}
	return nil
}

func computeShowValidate(ctx context.Context, s *turnSession) error {
	s.ipv.ShowValidate = s.inProgress() && len(s.pendingMoves()) > 0
	return nil
}
