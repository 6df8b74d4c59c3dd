package services

import (
	"sort"

	"github.com/shopspring/decimal"

	"stockipv/server/internal/models"
)

// lineBehavior поведение строки смены в зависимости от ее вида
type lineBehavior interface {
	confirm(s *turnSession, l *models.IPVLine) error
	onHand(s *turnSession, l *models.IPVLine) (decimal.Decimal, error)
	state(s *turnSession, l *models.IPVLine) models.MoveState
	updateRequestQty(s *turnSession, l *models.IPVLine, qty decimal.Decimal) error
}

// simpleLine товар перемещается как есть, одно перемещение на строку
type simpleLine struct{}

func (simpleLine) confirm(s *turnSession, l *models.IPVLine) error {
	if _, err := s.lineLocationID(l, true); err != nil {
		return err
	}
	if len(s.moves[l.ID]) == 0 && l.RequestQty.Sign() > 0 {
		if _, err := s.createMove(l, l.RequestQty); err != nil {
			return err
		}
	}
	return s.stock.Confirm(s.ctx, s.moves[l.ID])
}

func (simpleLine) onHand(s *turnSession, l *models.IPVLine) (decimal.Decimal, error) {
	loc, err := s.lineLocationID(l, false)
	if err != nil || loc == "" {
		return decimal.Zero, err
	}
	return s.locs.QtyAvailable(s.ctx, l.ProductID, loc)
}

func (simpleLine) state(s *turnSession, l *models.IPVLine) models.MoveState {
	moves := s.moves[l.ID]
	states := make([]models.MoveState, 0, len(moves))
	for _, m := range moves {
		states = append(states, m.State)
	}
	return AggregateMoveStates(states)
}

// updateRequestQty: строка без перемещений просто меняет количество;
// прирост - новое перемещение, уменьшение - урезаем незавершенные перемещения
// начиная с последнего
func (simpleLine) updateRequestQty(s *turnSession, l *models.IPVLine, qty decimal.Decimal) error {
	delta := qty.Sub(l.RequestQty)
	moves := s.moves[l.ID]
	switch {
	case len(moves) == 0 && (s.ipv.State == models.IPVDraft || delta.Sign() < 0):
	case delta.Sign() > 0:
		m, err := s.createMove(l, delta)
		if err != nil {
			return err
		}
		if err := s.stock.Confirm(s.ctx, []*models.StockMove{m}); err != nil {
			return err
		}
	default:
		if err := shrinkMoves(s, moves, delta.Neg()); err != nil {
			return err
		}
	}
	l.RequestQty = qty
	return nil
}

func shrinkMoves(s *turnSession, moves []*models.StockMove, qty decimal.Decimal) error {
	remaining := qty
	hasDone := false
	for i := len(moves) - 1; i >= 0 && remaining.Sign() > 0; i-- {
		m := moves[i]
		if m.State == models.MoveDone {
			hasDone = true
		}
		if m.State.IsTerminal() {
			continue
		}
		if remaining.GreaterThanOrEqual(m.ProductUoMQty) {
			remaining = remaining.Sub(m.ProductUoMQty)
			if err := s.stock.Cancel(s.ctx, []*models.StockMove{m}); err != nil {
				return err
			}
			continue
		}
		if err := s.stock.Unreserve(s.ctx, []*models.StockMove{m}); err != nil {
			return err
		}
		m.ProductUoMQty = m.ProductUoMQty.Sub(remaining)
		remaining = decimal.Zero
		if err := s.tx.SaveMove(s.ctx, m); err != nil {
			return err
		}
	}
	if remaining.Sign() > 0 {
		if hasDone {
			return userErr(ErrReduceDoneQty, "не хватает %s", remaining.String())
		}
		return userErr(ErrOpenQtyTooSmall, "не хватает %s", remaining.String())
	}
	return nil
}

// manufacturedLine готовится из сырья; перемещения только у строк сырья
type manufacturedLine struct{}

func (manufacturedLine) confirm(s *turnSession, l *models.IPVLine) error {
	if len(s.tree.childrenOf(l.ID)) == 0 {
		if err := s.prepareRawMaterials(l); err != nil {
			return err
		}
	}
	if _, err := s.lineLocationID(l, true); err != nil {
		return err
	}
	for _, c := range s.tree.childrenOf(l.ID) {
		if err := s.behavior(c).confirm(s, c); err != nil {
			return err
		}
	}
	return nil
}

// onHand сколько единиц продукта можно приготовить из сырья на месте:
// минимум по компонентам (остаток / расход на партию) × размер партии
func (manufacturedLine) onHand(s *turnSession, l *models.IPVLine) (decimal.Decimal, error) {
	product, err := s.product(l.ProductID)
	if err != nil {
		return decimal.Zero, err
	}
	bom, err := s.lineBOM(l)
	if err != nil {
		return decimal.Zero, err
	}
	exploded, err := s.boms.Explode(s.ctx, bom, decimal.NewFromInt(1))
	if err != nil {
		return decimal.Zero, err
	}

	var batches *decimal.Decimal
	for _, el := range exploded {
		comp, err := s.product(el.Line.ProductID)
		if err != nil {
			return decimal.Zero, err
		}
		if !comp.IsStockable() {
			continue
		}
		perBatch, err := s.uoms.ComputeQuantity(s.ctx, el.Qty, el.Line.UoMID, comp.UoMID)
		if err != nil {
			return decimal.Zero, err
		}
		if perBatch.Sign() <= 0 {
			continue
		}
		loc, err := s.rawLocationID(l, comp, false)
		if err != nil {
			return decimal.Zero, err
		}
		avail := decimal.Zero
		if loc != "" {
			if avail, err = s.locs.QtyAvailable(s.ctx, comp.ID, loc); err != nil {
				return decimal.Zero, err
			}
		}
		n := avail.Div(perBatch)
		if batches == nil || n.LessThan(*batches) {
			batches = &n
		}
	}
	if batches == nil {
		return decimal.Zero, nil
	}
	return s.uoms.ComputeQuantity(s.ctx, batches.Mul(bom.ProductQty), bom.UoMID, product.UoMID)
}

func (manufacturedLine) state(s *turnSession, l *models.IPVLine) models.MoveState {
	var children, moves []models.MoveState
	for _, c := range s.tree.childrenOf(l.ID) {
		children = append(children, c.State)
		for _, m := range s.moves[c.ID] {
			moves = append(moves, m.State)
		}
	}
	return AggregateChildStates(children, moves)
}

// updateRequestQty раскрывает спецификацию на старое и новое количество
// и применяет разницу по компонентам к строкам сырья
func (manufacturedLine) updateRequestQty(s *turnSession, l *models.IPVLine, qty decimal.Decimal) error {
	children := s.tree.childrenOf(l.ID)
	if len(children) == 0 {
		l.RequestQty = qty
		if err := s.prepareRawMaterials(l); err != nil {
			return err
		}
		if s.ipv.State != models.IPVDraft {
			return manufacturedLine{}.confirm(s, l)
		}
		return nil
	}

	product, err := s.product(l.ProductID)
	if err != nil {
		return err
	}
	bom, err := s.lineBOM(l)
	if err != nil {
		return err
	}
	before, err := s.boms.ExplodeProportion(s.ctx, product, bom, l.RequestQty)
	if err != nil {
		return err
	}
	after, err := s.boms.ExplodeProportion(s.ctx, product, bom, qty)
	if err != nil {
		return err
	}
	old := make(map[string]decimal.Decimal, len(before))
	for _, c := range before {
		old[c.ProductID] = old[c.ProductID].Add(c.Qty)
	}

	parentID := l.ID
	for _, c := range after {
		delta := c.Qty.Sub(old[c.ProductID])
		if delta.IsZero() {
			continue
		}
		child := findChild(children, c.ProductID)
		if child == nil {
			if delta.Sign() < 0 {
				continue
			}
			nl, err := s.newLine(c.ProductID, delta, &parentID)
			if err != nil {
				return err
			}
			if err := s.mergeRaws(); err != nil {
				return err
			}
			// слилась с общим сырьем - перемещение уже создано
			if s.tree.get(nl.ID) != nil && s.ipv.State != models.IPVDraft {
				if err := s.behavior(nl).confirm(s, nl); err != nil {
					return err
				}
			}
			continue
		}
		if err := s.updateRequestQty(child, child.RequestQty.Add(delta)); err != nil {
			return err
		}
	}
	l.RequestQty = qty
	return nil
}

func findChild(children []*models.IPVLine, productID string) *models.IPVLine {
	for _, c := range children {
		if c.ProductID == productID {
			return c
		}
	}
	return nil
}

// mergeRawLines группирует строки сырья по key в порядке Sequence: первая
// строка группы - цель, остальные - дубли. Возвращает пары цель-дубль
// одинаковой длины.
func mergeRawLines(lines []*models.IPVLine, key func(*models.IPVLine) string) (targets, dups []*models.IPVLine) {
	raws := make([]*models.IPVLine, 0, len(lines))
	for _, l := range lines {
		if l.IsRaw() {
			raws = append(raws, l)
		}
	}
	sort.SliceStable(raws, func(i, j int) bool { return raws[i].Sequence < raws[j].Sequence })

	first := make(map[string]*models.IPVLine, len(raws))
	for _, l := range raws {
		k := key(l)
		if target, ok := first[k]; ok {
			targets = append(targets, target)
			dups = append(dups, l)
			continue
		}
		first[k] = l
	}
	return targets, dups
}
