package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"stockipv/server/internal/models"
	"stockipv/server/internal/repository"
)

// BOMService поиск и раскрытие спецификаций
type BOMService struct {
	store repository.Store
	uom   *UoMService
}

// NewBOMService создает новый экземпляр BOMService
func NewBOMService(store repository.Store, uom *UoMService) *BOMService {
	return &BOMService{store: store, uom: uom}
}

// With возвращает копию сервиса, работающую в транзакции tx
func (s *BOMService) With(tx repository.Store) *BOMService {
	return &BOMService{store: tx, uom: s.uom.With(tx)}
}

// ExplodedLine строка спецификации и ее количество (в единицах строки)
type ExplodedLine struct {
	Line models.BOMLine
	Qty  decimal.Decimal
}

// ComponentQty потребность в компоненте в единицах товара-компонента
type ComponentQty struct {
	ProductID string
	Qty       decimal.Decimal
}

// FindBOM спецификация товара с наименьшим sequence.
// bomType пустой - любой тип. Нет спецификации - repository.ErrNotFound.
func (s *BOMService) FindBOM(ctx context.Context, productID string, bomType models.BOMType) (*models.BOM, error) {
	boms, err := s.store.FindBOMs(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска спецификации: %w", err)
	}
	for i := range boms {
		if bomType == "" || boms[i].Type == bomType {
			return &boms[i], nil
		}
	}
	return nil, repository.ErrNotFound
}

// Explode раскрывает спецификацию на factor партий.
// Компоненты с phantom-спецификацией раскрываются рекурсивно.
func (s *BOMService) Explode(ctx context.Context, bom *models.BOM, factor decimal.Decimal) ([]ExplodedLine, error) {
	path := map[string]bool{bom.ProductID: true}
	var out []ExplodedLine
	if err := s.explode(ctx, bom, factor, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BOMService) explode(ctx context.Context, bom *models.BOM, factor decimal.Decimal, path map[string]bool, out *[]ExplodedLine) error {
	for _, line := range bom.Lines {
		qty := line.ProductQty.Mul(factor)

		sub, err := s.FindBOM(ctx, line.ProductID, models.BOMPhantom)
		if errors.Is(err, repository.ErrNotFound) {
			*out = append(*out, ExplodedLine{Line: line, Qty: qty})
			continue
		}
		if err != nil {
			return err
		}

		if path[line.ProductID] {
			return userErr(ErrBOMRecursion, "товар %s", line.ProductID)
		}
		if sub.ProductQty.IsZero() {
			return fmt.Errorf("спецификация %s: нулевое количество партии", sub.ID)
		}
		converted, err := s.uom.ComputeQuantity(ctx, qty, line.UoMID, sub.UoMID)
		if err != nil {
			return err
		}
		path[line.ProductID] = true
		if err := s.explode(ctx, sub, converted.Div(sub.ProductQty), path, out); err != nil {
			return err
		}
		delete(path, line.ProductID)
	}
	return nil
}

// ExplodeProportion потребность в компонентах для qty единиц товара product
// по спецификации bom. Коэффициент = qty (в единицах спецификации) / размер партии.
// Услуги пропускаются, одинаковые компоненты суммируются.
func (s *BOMService) ExplodeProportion(ctx context.Context, product *models.Product, bom *models.BOM, qty decimal.Decimal) ([]ComponentQty, error) {
	if bom.ProductQty.IsZero() {
		return nil, fmt.Errorf("спецификация %s: нулевое количество партии", bom.ID)
	}
	inBOM, err := s.uom.ComputeQuantity(ctx, qty, product.UoMID, bom.UoMID)
	if err != nil {
		return nil, err
	}
	lines, err := s.Explode(ctx, bom, inBOM.Div(bom.ProductQty))
	if err != nil {
		return nil, err
	}

	var out []ComponentQty
	index := make(map[string]int)
	for _, el := range lines {
		comp, err := s.store.GetProduct(ctx, el.Line.ProductID)
		if err != nil {
			return nil, fmt.Errorf("компонент %s: %w", el.Line.ProductID, err)
		}
		if !comp.IsStockable() {
			continue
		}
		cq, err := s.uom.ComputeQuantity(ctx, el.Qty, el.Line.UoMID, comp.UoMID)
		if err != nil {
			return nil, err
		}
		if i, ok := index[comp.ID]; ok {
			out[i].Qty = out[i].Qty.Add(cq)
			continue
		}
		index[comp.ID] = len(out)
		out = append(out, ComponentQty{ProductID: comp.ID, Qty: cq})
	}
	return out, nil
}

// ValidateBOM проверяет, что компоненты спецификации не ссылаются на ее товар
// (напрямую или через вложенные спецификации)
func (s *BOMService) ValidateBOM(ctx context.Context, bom *models.BOM) error {
	visited := make(map[string]bool)
	for _, line := range bom.Lines {
		if err := s.checkCyclicDependency(ctx, bom.ProductID, line.ProductID, visited); err != nil {
			return err
		}
	}
	return nil
}

func (s *BOMService) checkCyclicDependency(ctx context.Context, originalProductID, currentProductID string, visited map[string]bool) error {
	if currentProductID == originalProductID {
		return userErr(ErrBOMRecursion, "товар %s ссылается на себя", originalProductID)
	}
	if visited[currentProductID] {
		return nil
	}
	visited[currentProductID] = true

	boms, err := s.store.FindBOMs(ctx, currentProductID)
	if err != nil {
		return err
	}
	for _, b := range boms {
		for _, line := range b.Lines {
			if err := s.checkCyclicDependency(ctx, originalProductID, line.ProductID, visited); err != nil {
				return err
			}
		}
	}
	return nil
}

// SaveBOM проверяет и сохраняет спецификацию
func (s *BOMService) SaveBOM(ctx context.Context, bom *models.BOM) error {
	if bom.Type == "" {
		bom.Type = models.BOMNormal
	}
	if bom.ProductQty.Sign() <= 0 {
		return userErr(ErrInvalidQuantity, "размер партии спецификации должен быть больше нуля")
	}
	return s.store.WithinTx(ctx, func(tx repository.Store) error {
		if err := s.With(tx).ValidateBOM(ctx, bom); err != nil {
			return err
		}
		if err := tx.SaveBOM(ctx, bom); err != nil {
			return fmt.Errorf("ошибка сохранения спецификации: %w", err)
		}
		return nil
	})
}
