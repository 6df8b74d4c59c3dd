package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"stockipv/server/internal/logger"
	"stockipv/server/internal/models"
	"stockipv/server/internal/services"
	"stockipv/server/internal/utils"
)

// TurnEventsChannel канал Redis Pub/Sub событий смен
const TurnEventsChannel = "ipv:events"

// RedisEventPublisher публикует события смен в Redis Pub/Sub,
// чтобы все экземпляры сервиса разослали их своим WebSocket клиентам
type RedisEventPublisher struct {
	redis *utils.RedisClient
}

// NewRedisEventPublisher создает publisher событий в Redis
func NewRedisEventPublisher(redisUtil *utils.RedisClient) *RedisEventPublisher {
	return &RedisEventPublisher{redis: redisUtil}
}

func (p *RedisEventPublisher) Publish(ctx context.Context, ev services.TurnEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.redis.Publish(ctx, TurnEventsChannel, data)
}

// RelayRedisEvents пересылает события из Redis в хаб до отмены ctx
func RelayRedisEvents(ctx context.Context, redisUtil *utils.RedisClient, hub *Hub) {
	ch, closeFn := redisUtil.Subscribe(ctx, TurnEventsChannel)
	defer closeFn()
	logger.Log.Infof("📡 Redis relay событий смен запущен: %s", TurnEventsChannel)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev services.TurnEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.Log.WithError(err).Warn("⚠️ Redis relay: битое событие")
				continue
			}
			hub.BroadcastMessage(ev.WorkplaceID, []byte(msg.Payload))
		}
	}
}

// TurnCache короткий кеш карточек смен в Redis для GET /ipv/:id
type TurnCache struct {
	redis *utils.RedisClient
	ttl   time.Duration
}

// NewTurnCache создает кеш карточек смен
func NewTurnCache(redisUtil *utils.RedisClient, ttl time.Duration) *TurnCache {
	return &TurnCache{redis: redisUtil, ttl: ttl}
}

func turnCacheKey(id string) string {
	return fmt.Sprintf("ipv:view:%s", id)
}

// Get карточка из кеша; false при промахе или ошибке Redis
func (c *TurnCache) Get(ctx context.Context, id string) (*models.IPV, bool) {
	var ipv models.IPV
	if err := c.redis.GetJSON(ctx, turnCacheKey(id), &ipv); err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Log.WithError(err).Debug("Redis: кеш смены недоступен")
		}
		return nil, false
	}
	return &ipv, true
}

// Set кладет карточку в кеш
func (c *TurnCache) Set(ctx context.Context, ipv *models.IPV) {
	if err := c.redis.Set(ctx, turnCacheKey(ipv.ID), ipv, c.ttl); err != nil {
		logger.Log.WithError(err).Debug("Redis: не удалось закешировать смену")
	}
}

// Publish сбрасывает кеш смены при любом ее событии
func (c *TurnCache) Publish(ctx context.Context, ev services.TurnEvent) error {
	return c.redis.Delete(ctx, turnCacheKey(ev.TurnID))
}
