// Package repository описывает хранилище смен и складских данных.
// Реализации: postgres (gorm) и memory (тесты, демо-режим).
package repository

import (
	"context"
	"errors"
	"fmt"

	"stockipv/server/internal/models"
)

// ErrNotFound запись не найдена
var ErrNotFound = errors.New("запись не найдена")

// MoveFilter фильтр перемещений. Пустые поля не участвуют.
type MoveFilter struct {
	IPVID     string
	IPVLineID string
	PickingID string
	ProductID string
	States    []models.MoveState
}

// QuantFilter фильтр остатков
type QuantFilter struct {
	ProductID   string
	LocationIDs []string
}

// IPVFilter фильтр смен
type IPVFilter struct {
	WorkplaceID string
	State       models.IPVState
	Limit       int
}

// Store хранилище. Все изменения операции смены выполняются внутри WithinTx.
type Store interface {
	// WithinTx выполняет fn в транзакции; ошибка fn откатывает все изменения
	WithinTx(ctx context.Context, fn func(tx Store) error) error

	GetUoM(ctx context.Context, id string) (*models.UoM, error)
	ListUoMs(ctx context.Context) ([]models.UoM, error)
	SaveUoM(ctx context.Context, u *models.UoM) error

	GetProduct(ctx context.Context, id string) (*models.Product, error)
	ListProducts(ctx context.Context) ([]models.Product, error)
	SaveProduct(ctx context.Context, p *models.Product) error

	GetLocation(ctx context.Context, id string) (*models.Location, error)
	ListLocations(ctx context.Context) ([]models.Location, error)
	ListChildLocations(ctx context.Context, parentID string) ([]models.Location, error)
	FindSublocation(ctx context.Context, parentID, productID string) (*models.Location, error)
	FindLocationByUsage(ctx context.Context, usage models.LocationUsage) (*models.Location, error)
	SaveLocation(ctx context.Context, l *models.Location) error

	// GetBOM и FindBOMs возвращают спецификации со строками, отсортированными по Sequence
	GetBOM(ctx context.Context, id string) (*models.BOM, error)
	FindBOMs(ctx context.Context, productID string) ([]models.BOM, error)
	SaveBOM(ctx context.Context, b *models.BOM) error

	ListQuants(ctx context.Context, f QuantFilter) ([]models.Quant, error)
	SaveQuant(ctx context.Context, q *models.Quant) error

	GetMove(ctx context.Context, id string) (*models.StockMove, error)
	ListMoves(ctx context.Context, f MoveFilter) ([]models.StockMove, error)
	SaveMove(ctx context.Context, m *models.StockMove) error
	DeleteMove(ctx context.Context, id string) error
	ListMoveLines(ctx context.Context, moveID string) ([]models.StockMoveLine, error)
	SaveMoveLine(ctx context.Context, l *models.StockMoveLine) error
	DeleteMoveLine(ctx context.Context, id string) error

	GetPicking(ctx context.Context, id string) (*models.Picking, error)
	SavePicking(ctx context.Context, p *models.Picking) error
	DeletePicking(ctx context.Context, id string) error

	GetWorkplace(ctx context.Context, id string) (*models.Workplace, error)
	ListWorkplaces(ctx context.Context) ([]models.Workplace, error)
	SaveWorkplace(ctx context.Context, w *models.Workplace) error

	GetIPV(ctx context.Context, id string) (*models.IPV, error)
	// LockIPV читает смену с блокировкой строки до конца транзакции
	LockIPV(ctx context.Context, id string) (*models.IPV, error)
	ListIPVs(ctx context.Context, f IPVFilter) ([]models.IPV, error)
	FindLastClosedIPV(ctx context.Context, workplaceID string) (*models.IPV, error)
	SaveIPV(ctx context.Context, ipv *models.IPV) error
	DeleteIPV(ctx context.Context, id string) error

	GetLine(ctx context.Context, id string) (*models.IPVLine, error)
	// ListLines строки смены в порядке Sequence
	ListLines(ctx context.Context, ipvID string) ([]models.IPVLine, error)
	SaveLine(ctx context.Context, l *models.IPVLine) error
	DeleteLine(ctx context.Context, id string) error

	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByLogin(ctx context.Context, login string) (*models.User, error)
	SaveUser(ctx context.Context, u *models.User) error

	// NextSequence выдает следующий код документа по счетчику code
	NextSequence(ctx context.Context, code, prefix string) (string, error)
}

// FormatSequence собирает код документа: префикс + номер с ведущими нулями
func FormatSequence(prefix string, padding int, n int64) string {
	if padding <= 0 {
		padding = 5
	}
	return fmt.Sprintf("%s%0*d", prefix, padding, n)
}
