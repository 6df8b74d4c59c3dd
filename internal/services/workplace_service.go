package services

import (
	"context"
	"fmt"

	"stockipv/server/internal/models"
	"stockipv/server/internal/repository"
)

// WorkplaceService настройка рабочих мест и справочник товаров
type WorkplaceService struct {
	store repository.Store
}

// NewWorkplaceService создает новый экземпляр WorkplaceService
func NewWorkplaceService(store repository.Store) *WorkplaceService {
	return &WorkplaceService{store: store}
}

// ListWorkplaces возвращает рабочие места; activeOnly отсекает выключенные
func (s *WorkplaceService) ListWorkplaces(ctx context.Context, activeOnly bool) ([]models.Workplace, error) {
	all, err := s.store.ListWorkplaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения рабочих мест: %w", err)
	}
	if !activeOnly {
		return all, nil
	}
	out := all[:0]
	for _, w := range all {
		if w.IsActive {
			out = append(out, w)
		}
	}
	return out, nil
}

// GetWorkplace возвращает рабочее место по ID
func (s *WorkplaceService) GetWorkplace(ctx context.Context, id string) (*models.Workplace, error) {
	w, err := s.store.GetWorkplace(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("рабочее место с ID %s не найдено: %w", id, err)
	}
	return w, nil
}

// CreateWorkplace создает рабочее место после проверки локаций и товаров
func (s *WorkplaceService) CreateWorkplace(ctx context.Context, w *models.Workplace) error {
	w.ID = ""
	w.IsActive = true
	return s.save(ctx, w)
}

// UpdateWorkplace заменяет настройку рабочего места
func (s *WorkplaceService) UpdateWorkplace(ctx context.Context, id string, upd *models.Workplace) (*models.Workplace, error) {
	current, err := s.GetWorkplace(ctx, id)
	if err != nil {
		return nil, err
	}
	upd.ID = current.ID
	upd.CreatedAt = current.CreatedAt
	if err := s.save(ctx, upd); err != nil {
		return nil, err
	}
	return upd, nil
}

// SetActive включает или выключает рабочее место
func (s *WorkplaceService) SetActive(ctx context.Context, id string, active bool) (*models.Workplace, error) {
	w, err := s.GetWorkplace(ctx, id)
	if err != nil {
		return nil, err
	}
	w.IsActive = active
	if err := s.store.SaveWorkplace(ctx, w); err != nil {
		return nil, fmt.Errorf("ошибка обновления рабочего места: %w", err)
	}
	return w, nil
}

func (s *WorkplaceService) save(ctx context.Context, w *models.Workplace) error {
	if w.Name == "" {
		return userErr(ErrInvalidWorkplace, "не указано название")
	}
	for _, loc := range []struct {
		title string
		id    string
	}{
		{"склад", w.StockLocID},
		{"локация приготовления", w.ElaborationLocID},
		{"локация продаж", w.SalesLocID},
	} {
		if loc.id == "" {
			return userErr(ErrInvalidWorkplace, "не указана %s", loc.title)
		}
		l, err := s.store.GetLocation(ctx, loc.id)
		if err != nil {
			return userErr(ErrInvalidWorkplace, "%s %s не найдена", loc.title, loc.id)
		}
		if l.Usage != models.UsageInternal {
			return userErr(ErrInvalidWorkplace, "%s %s должна быть внутренней", loc.title, l.Name)
		}
	}
	for _, pid := range w.ProductIDs {
		if _, err := s.store.GetProduct(ctx, pid); err != nil {
			return userErr(ErrInvalidWorkplace, "товар %s не найден", pid)
		}
	}
	if err := s.store.SaveWorkplace(ctx, w); err != nil {
		return fmt.Errorf("ошибка сохранения рабочего места: %w", err)
	}
	return nil
}

// ProductFilter фильтр справочника товаров
type ProductFilter struct {
	WorkplaceID string // только разрешенные на рабочем месте
	POSOnly     bool
}

// ListProducts активные товары с учетом ограничений рабочего места
func (s *WorkplaceService) ListProducts(ctx context.Context, f ProductFilter) ([]models.Product, error) {
	all, err := s.store.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения товаров: %w", err)
	}
	var wp *models.Workplace
	if f.WorkplaceID != "" {
		if wp, err = s.GetWorkplace(ctx, f.WorkplaceID); err != nil {
			return nil, err
		}
	}
	out := make([]models.Product, 0, len(all))
	for _, p := range all {
		if !p.IsActive || (f.POSOnly && !p.AvailableInPOS) {
			continue
		}
		if wp != nil {
			if !p.AllowedAt(wp.ID) || (len(wp.ProductIDs) > 0 && !wp.Allows(p.ID)) {
				continue
			}
		}
		out = append(out, p)
	}
	return out, nil
}

// SaveProduct создает или обновляет товар
func (s *WorkplaceService) SaveProduct(ctx context.Context, p *models.Product) error {
	if p.Name == "" || p.UoMID == "" {
		return userErr(ErrInvalidProduct, "у товара должны быть название и единица измерения")
	}
	if _, err := s.store.GetUoM(ctx, p.UoMID); err != nil {
		return userErr(ErrInvalidProduct, "единица измерения %s не найдена", p.UoMID)
	}
	if p.Type == "" {
		p.Type = models.ProductStorable
	}
	if err := s.store.SaveProduct(ctx, p); err != nil {
		return fmt.Errorf("ошибка сохранения товара: %w", err)
	}
	return nil
}
