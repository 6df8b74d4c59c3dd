// Package postgres хранилище на gorm + PostgreSQL
package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stockipv/server/internal/models"
	"stockipv/server/internal/repository"
)

var _ repository.Store = (*Store)(nil)

// Store реализация repository.Store поверх *gorm.DB
type Store struct {
	db *gorm.DB
}

// New создает хранилище
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate создает/обновляет таблицы
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("ошибка миграции: %w", err)
	}
	return nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func (s *Store) q(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return repository.ErrNotFound
	}
	return err
}

func (s *Store) first(ctx context.Context, dest interface{}, id string) error {
	return notFound(s.q(ctx).Where("id = ?", id).First(dest).Error)
}

func (s *Store) save(ctx context.Context, v interface{}) error {
	return s.q(ctx).Omit(clause.Associations).Save(v).Error
}

// ----- UoM -----

func (s *Store) GetUoM(ctx context.Context, id string) (*models.UoM, error) {
	var u models.UoM
	if err := s.first(ctx, &u, id); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) ListUoMs(ctx context.Context) ([]models.UoM, error) {
	var out []models.UoM
	err := s.q(ctx).Order("category, name").Find(&out).Error
	return out, err
}

func (s *Store) SaveUoM(ctx context.Context, u *models.UoM) error {
	return s.save(ctx, u)
}

// ----- Product -----

func (s *Store) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var p models.Product
	if err := s.first(ctx, &p, id); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]models.Product, error) {
	var out []models.Product
	err := s.q(ctx).Where("is_active = ?", true).Order("name").Find(&out).Error
	return out, err
}

func (s *Store) SaveProduct(ctx context.Context, p *models.Product) error {
	return s.save(ctx, p)
}

// ----- Location -----

func (s *Store) GetLocation(ctx context.Context, id string) (*models.Location, error) {
	var l models.Location
	if err := s.first(ctx, &l, id); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Store) ListLocations(ctx context.Context) ([]models.Location, error) {
	var out []models.Location
	err := s.q(ctx).Order("created_at, id").Find(&out).Error
	return out, err
}

func (s *Store) ListChildLocations(ctx context.Context, parentID string) ([]models.Location, error) {
	var out []models.Location
	err := s.q(ctx).Where("parent_id = ?", parentID).Order("created_at, id").Find(&out).Error
	return out, err
}

func (s *Store) FindSublocation(ctx context.Context, parentID, productID string) (*models.Location, error) {
	var l models.Location
	err := s.q(ctx).Where("parent_id = ? AND product_id = ?", parentID, productID).First(&l).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

func (s *Store) FindLocationByUsage(ctx context.Context, usage models.LocationUsage) (*models.Location, error) {
	var l models.Location
	err := s.q(ctx).Where("usage = ?", usage).Order("created_at").First(&l).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

func (s *Store) SaveLocation(ctx context.Context, l *models.Location) error {
	return s.save(ctx, l)
}

// ----- BOM -----

func (s *Store) bomQuery(ctx context.Context) *gorm.DB {
	return s.q(ctx).Preload("Lines", func(db *gorm.DB) *gorm.DB {
		return db.Order("sequence, id")
	})
}

func (s *Store) GetBOM(ctx context.Context, id string) (*models.BOM, error) {
	var b models.BOM
	if err := notFound(s.bomQuery(ctx).Where("id = ?", id).First(&b).Error); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) FindBOMs(ctx context.Context, productID string) ([]models.BOM, error) {
	var out []models.BOM
	err := s.bomQuery(ctx).
		Where("product_id = ? AND is_active = ?", productID, true).
		Order("sequence, id").
		Find(&out).Error
	return out, err
}

// SaveBOM сохраняет спецификацию и заменяет ее строки
func (s *Store) SaveBOM(ctx context.Context, b *models.BOM) error {
	return s.q(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Save(b).Error; err != nil {
			return err
		}
		if err := tx.Where("bom_id = ?", b.ID).Delete(&models.BOMLine{}).Error; err != nil {
			return err
		}
		for i := range b.Lines {
			b.Lines[i].BOMID = b.ID
			if err := tx.Create(&b.Lines[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ----- Quant -----

func (s *Store) ListQuants(ctx context.Context, f repository.QuantFilter) ([]models.Quant, error) {
	q := s.q(ctx)
	if f.ProductID != "" {
		q = q.Where("product_id = ?", f.ProductID)
	}
	if f.LocationIDs != nil {
		if len(f.LocationIDs) == 0 {
			return nil, nil
		}
		q = q.Where("location_id IN ?", f.LocationIDs)
	}
	var out []models.Quant
	err := q.Order("location_id, id").Find(&out).Error
	return out, err
}

func (s *Store) SaveQuant(ctx context.Context, qt *models.Quant) error {
	return s.save(ctx, qt)
}

// ----- Moves -----

func (s *Store) GetMove(ctx context.Context, id string) (*models.StockMove, error) {
	var m models.StockMove
	if err := s.first(ctx, &m, id); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) ListMoves(ctx context.Context, f repository.MoveFilter) ([]models.StockMove, error) {
	q := s.q(ctx)
	if f.IPVID != "" {
		q = q.Where("ipv_id = ?", f.IPVID)
	}
	if f.IPVLineID != "" {
		q = q.Where("ipv_line_id = ?", f.IPVLineID)
	}
	if f.PickingID != "" {
		q = q.Where("picking_id = ?", f.PickingID)
	}
	if f.ProductID != "" {
		q = q.Where("product_id = ?", f.ProductID)
	}
	if len(f.States) > 0 {
		q = q.Where("state IN ?", f.States)
	}
	var out []models.StockMove
	err := q.Order("created_at, id").Find(&out).Error
	return out, err
}

func (s *Store) SaveMove(ctx context.Context, m *models.StockMove) error {
	return s.save(ctx, m)
}

func (s *Store) DeleteMove(ctx context.Context, id string) error {
	if err := s.q(ctx).Where("move_id = ?", id).Delete(&models.StockMoveLine{}).Error; err != nil {
		return err
	}
	return s.q(ctx).Where("id = ?", id).Delete(&models.StockMove{}).Error
}

func (s *Store) ListMoveLines(ctx context.Context, moveID string) ([]models.StockMoveLine, error) {
	var out []models.StockMoveLine
	err := s.q(ctx).Where("move_id = ?", moveID).Order("created_at, id").Find(&out).Error
	return out, err
}

func (s *Store) SaveMoveLine(ctx context.Context, l *models.StockMoveLine) error {
	return s.save(ctx, l)
}

func (s *Store) DeleteMoveLine(ctx context.Context, id string) error {
	return s.q(ctx).Where("id = ?", id).Delete(&models.StockMoveLine{}).Error
}

// ----- Picking -----

func (s *Store) GetPicking(ctx context.Context, id string) (*models.Picking, error) {
	var p models.Picking
	if err := s.first(ctx, &p, id); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) SavePicking(ctx context.Context, p *models.Picking) error {
	return s.save(ctx, p)
}

func (s *Store) DeletePicking(ctx context.Context, id string) error {
	return s.q(ctx).Where("id = ?", id).Delete(&models.Picking{}).Error
}

// ----- Workplace -----

func (s *Store) GetWorkplace(ctx context.Context, id string) (*models.Workplace, error) {
	var w models.Workplace
	if err := s.first(ctx, &w, id); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *Store) ListWorkplaces(ctx context.Context) ([]models.Workplace, error) {
	var out []models.Workplace
	err := s.q(ctx).Where("is_active = ?", true).Order("name").Find(&out).Error
	return out, err
}

func (s *Store) SaveWorkplace(ctx context.Context, w *models.Workplace) error {
	return s.save(ctx, w)
}

// ----- IPV -----

func (s *Store) GetIPV(ctx context.Context, id string) (*models.IPV, error) {
	var ipv models.IPV
	if err := s.first(ctx, &ipv, id); err != nil {
		return nil, err
	}
	return &ipv, nil
}

// LockIPV SELECT ... FOR UPDATE: действия над одной сменой выполняются по очереди
func (s *Store) LockIPV(ctx context.Context, id string) (*models.IPV, error) {
	var ipv models.IPV
	err := s.q(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&ipv).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &ipv, nil
}

func (s *Store) ListIPVs(ctx context.Context, f repository.IPVFilter) ([]models.IPV, error) {
	q := s.q(ctx)
	if f.WorkplaceID != "" {
		q = q.Where("workplace_id = ?", f.WorkplaceID)
	}
	if f.State != "" {
		q = q.Where("state = ?", f.State)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []models.IPV
	err := q.Order("created_at DESC, id DESC").Find(&out).Error
	return out, err
}

func (s *Store) FindLastClosedIPV(ctx context.Context, workplaceID string) (*models.IPV, error) {
	var ipv models.IPV
	err := s.q(ctx).
		Where("workplace_id = ? AND date_close IS NOT NULL", workplaceID).
		Order("date_close DESC").
		First(&ipv).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &ipv, nil
}

func (s *Store) SaveIPV(ctx context.Context, ipv *models.IPV) error {
	return s.save(ctx, ipv)
}

func (s *Store) DeleteIPV(ctx context.Context, id string) error {
	return s.q(ctx).Where("id = ?", id).Delete(&models.IPV{}).Error
}

// ----- Lines -----

func (s *Store) GetLine(ctx context.Context, id string) (*models.IPVLine, error) {
	var l models.IPVLine
	if err := s.first(ctx, &l, id); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Store) ListLines(ctx context.Context, ipvID string) ([]models.IPVLine, error) {
	var out []models.IPVLine
	err := s.q(ctx).Where("ipv_id = ?", ipvID).Order("sequence, created_at").Find(&out).Error
	return out, err
}

func (s *Store) SaveLine(ctx context.Context, l *models.IPVLine) error {
	return s.save(ctx, l)
}

func (s *Store) DeleteLine(ctx context.Context, id string) error {
	return s.q(ctx).Where("id = ?", id).Delete(&models.IPVLine{}).Error
}

// ----- Users -----

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := s.first(ctx, &u, id); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetUserByLogin(ctx context.Context, login string) (*models.User, error) {
	var u models.User
	if err := notFound(s.q(ctx).Where("login = ?", login).First(&u).Error); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) SaveUser(ctx context.Context, u *models.User) error {
	return s.save(ctx, u)
}

// ----- Sequence -----

// NextSequence увеличивает счетчик под блокировкой строки
func (s *Store) NextSequence(ctx context.Context, code, prefix string) (string, error) {
	var out string
	err := s.q(ctx).Transaction(func(tx *gorm.DB) error {
		seq := models.Sequence{Code: code, Prefix: prefix, Padding: 5, NextNumber: 1}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seq).Error; err != nil {
			return err
		}
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("code = ?", code).First(&seq).Error; err != nil {
			return err
		}
		out = repository.FormatSequence(seq.Prefix, seq.Padding, seq.NextNumber)
		return tx.Model(&models.Sequence{}).Where("code = ?", code).
			Update("next_number", gorm.Expr("next_number + 1")).Error
	})
	if err != nil {
		return "", fmt.Errorf("ошибка получения номера %s: %w", code, err)
	}
	return out, nil
}
