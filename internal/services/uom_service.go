package services

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"stockipv/server/internal/models"
	"stockipv/server/internal/repository"
)

// UoMService пересчет количеств между единицами измерения
type UoMService struct {
	store repository.Store
}

// NewUoMService создает новый экземпляр UoMService
func NewUoMService(store repository.Store) *UoMService {
	return &UoMService{store: store}
}

// With возвращает копию сервиса, работающую в транзакции tx
func (s *UoMService) With(tx repository.Store) *UoMService {
	return &UoMService{store: tx}
}

// ComputeQuantity пересчитывает qty из единицы fromID в toID (с округлением вверх)
func (s *UoMService) ComputeQuantity(ctx context.Context, qty decimal.Decimal, fromID, toID string) (decimal.Decimal, error) {
	if fromID == toID {
		return qty, nil
	}
	from, err := s.store.GetUoM(ctx, fromID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("единица измерения %s: %w", fromID, err)
	}
	to, err := s.store.GetUoM(ctx, toID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("единица измерения %s: %w", toID, err)
	}
	return ConvertQuantity(qty, from, to)
}

// ConvertQuantity qty / from.Factor * to.Factor, округленное вверх (от нуля)
// до точности to.Rounding
func ConvertQuantity(qty decimal.Decimal, from, to *models.UoM) (decimal.Decimal, error) {
	if from.ID == to.ID {
		return qty, nil
	}
	if from.Category != to.Category {
		return decimal.Zero, userErr(ErrUoMCategory, "%s -> %s", from.Name, to.Name)
	}
	if from.Factor.IsZero() {
		return decimal.Zero, fmt.Errorf("нулевой коэффициент у единицы %s", from.Name)
	}
	amount := qty.Div(from.Factor).Mul(to.Factor)
	return RoundUp(amount, to.Rounding), nil
}

// RoundUp округляет от нуля до кратного rounding.
// Перед округлением отбрасываем хвост деления (0.9999999999999999 -> 1).
func RoundUp(v, rounding decimal.Decimal) decimal.Decimal {
	if rounding.Sign() <= 0 {
		return v
	}
	steps := v.Div(rounding).Round(10)
	if steps.Sign() >= 0 {
		steps = steps.Ceil()
	} else {
		steps = steps.Floor()
	}
	return steps.Mul(rounding)
}
