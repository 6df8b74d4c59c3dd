package services

import (
	"context"
	"time"

	"stockipv/server/internal/logger"
	"stockipv/server/internal/models"
)

// Типы событий смены
const (
	EventTurnCreated   = "turn.created"
	EventTurnUpdated   = "turn.updated"
	EventTurnConfirmed = "turn.confirmed"
	EventTurnAssigned  = "turn.assigned"
	EventTurnDone      = "turn.done"
	EventTurnClosed    = "turn.closed"
	EventTurnCancelled = "turn.cancelled"
	EventTurnDeleted   = "turn.deleted"
)

// TurnEvent событие жизненного цикла смены
type TurnEvent struct {
	Type        string          `json:"type"`
	TurnID      string          `json:"turn_id"`
	Name        string          `json:"name"`
	State       models.IPVState `json:"state"`
	WorkplaceID string          `json:"workplace_id,omitempty"`
	At          time.Time       `json:"at"`

	// Снимок смены со строками (для отчетов), в транспорт не уходит
	Turn *models.IPV `json:"-"`
}

// NewTurnEvent собирает событие по снимку смены
func NewTurnEvent(eventType string, ipv *models.IPV, at time.Time) TurnEvent {
	ev := TurnEvent{
		Type:   eventType,
		TurnID: ipv.ID,
		Name:   ipv.Name,
		State:  ipv.State,
		At:     at,
		Turn:   ipv,
	}
	if ipv.WorkplaceID != nil {
		ev.WorkplaceID = *ipv.WorkplaceID
	}
	return ev
}

// EventPublisher получатель событий смен (Kafka, Redis, WebSocket, отчеты)
type EventPublisher interface {
	Publish(ctx context.Context, ev TurnEvent) error
}

// MultiPublisher рассылает событие всем получателям; ошибки только логируются
type MultiPublisher []EventPublisher

func (m MultiPublisher) Publish(ctx context.Context, ev TurnEvent) error {
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			logger.Log.WithError(err).Warnf("⚠️ Не удалось опубликовать событие %s смены %s", ev.Type, ev.Name)
		}
	}
	return nil
}

// NopPublisher ничего не публикует
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, TurnEvent) error { return nil }

// PublisherFunc адаптер функции к EventPublisher
type PublisherFunc func(ctx context.Context, ev TurnEvent) error

func (f PublisherFunc) Publish(ctx context.Context, ev TurnEvent) error { return f(ctx, ev) }
