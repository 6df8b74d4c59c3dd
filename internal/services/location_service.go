package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"stockipv/server/internal/models"
	"stockipv/server/internal/repository"
)

// LocationService дерево локаций и остатки на нем
type LocationService struct {
	store repository.Store
}

// NewLocationService создает новый экземпляр LocationService
func NewLocationService(store repository.Store) *LocationService {
	return &LocationService{store: store}
}

// With возвращает копию сервиса, работающую в транзакции tx
func (s *LocationService) With(tx repository.Store) *LocationService {
	return &LocationService{store: tx}
}

// Descendants возвращает ID локации и всех вложенных (обход в ширину)
func (s *LocationService) Descendants(ctx context.Context, locationID string) ([]string, error) {
	ids := []string{locationID}
	seen := map[string]bool{locationID: true}
	for i := 0; i < len(ids); i++ {
		children, err := s.store.ListChildLocations(ctx, ids[i])
		if err != nil {
			return nil, fmt.Errorf("ошибка загрузки дочерних локаций: %w", err)
		}
		for _, c := range children {
			if !seen[c.ID] {
				seen[c.ID] = true
				ids = append(ids, c.ID)
			}
		}
	}
	return ids, nil
}

// QtyAvailable остаток товара на локации с учетом вложенных
func (s *LocationService) QtyAvailable(ctx context.Context, productID, locationID string) (decimal.Decimal, error) {
	quants, err := s.quants(ctx, productID, locationID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, q := range quants {
		total = total.Add(q.Quantity)
	}
	return total, nil
}

// AvailableQuantity свободный остаток (за вычетом резервов)
func (s *LocationService) AvailableQuantity(ctx context.Context, productID, locationID string) (decimal.Decimal, error) {
	quants, err := s.quants(ctx, productID, locationID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, q := range quants {
		total = total.Add(q.Available())
	}
	return total, nil
}

func (s *LocationService) quants(ctx context.Context, productID, locationID string) ([]models.Quant, error) {
	ids, err := s.Descendants(ctx, locationID)
	if err != nil {
		return nil, err
	}
	quants, err := s.store.ListQuants(ctx, repository.QuantFilter{ProductID: productID, LocationIDs: ids})
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки остатков: %w", err)
	}
	return quants, nil
}

// EnsureSublocation находит или создает подлокацию товара внутри parentID
func (s *LocationService) EnsureSublocation(ctx context.Context, parentID string, product *models.Product, usage models.LocationUsage) (*models.Location, error) {
	loc, err := s.store.FindSublocation(ctx, parentID, product.ID)
	if err == nil {
		return loc, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	parent, err := s.store.GetLocation(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("локация %s: %w", parentID, err)
	}
	pid := parent.ID
	prod := product.ID
	loc = &models.Location{
		Name:      parent.Name + "/" + product.Name,
		ParentID:  &pid,
		ProductID: &prod,
		Usage:     usage,
		IsActive:  true,
	}
	if err := s.store.SaveLocation(ctx, loc); err != nil {
		return nil, fmt.Errorf("ошибка создания подлокации: %w", err)
	}
	return loc, nil
}

// VirtualLocation виртуальная локация заданного назначения (создается при отсутствии)
func (s *LocationService) VirtualLocation(ctx context.Context, usage models.LocationUsage, name string) (*models.Location, error) {
	loc, err := s.store.FindLocationByUsage(ctx, usage)
	if err == nil {
		return loc, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	loc = &models.Location{Name: name, Usage: usage, IsActive: true}
	if err := s.store.SaveLocation(ctx, loc); err != nil {
		return nil, fmt.Errorf("ошибка создания локации %s: %w", name, err)
	}
	return loc, nil
}
