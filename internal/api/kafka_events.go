package api

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"stockipv/server/internal/logger"
	"stockipv/server/internal/services"
)

// KafkaEventWriter публикует события смен в Kafka (protobuf Struct)
type KafkaEventWriter struct {
	writer    *kafka.Writer
	sentCount int64
}

// NewKafkaEventWriter создает асинхронный producer событий
func NewKafkaEventWriter(brokers, topic, username, password, caCert string) *KafkaEventWriter {
	dialer := CreateKafkaDialer(username, password, caCert)
	w := &KafkaEventWriter{}
	w.writer = &kafka.Writer{
		Addr:     kafka.TCP(ParseKafkaBrokers(brokers)...),
		Topic:    topic,
		Balancer: &kafka.Hash{}, // Ключ = ID смены, события одной смены идут по порядку
		Async:    true,
		Transport: &kafka.Transport{
			SASL: dialer.SASLMechanism,
			TLS:  dialer.TLS,
		},
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Log.WithError(err).Warnf("⚠️ Kafka: не доставлено событий: %d", len(messages))
				return
			}
			if n := atomic.AddInt64(&w.sentCount, int64(len(messages))); n <= 10 {
				logger.Log.Debugf("✅ Kafka: отправлено событий смен: %d", n)
			}
		},
	}
	logger.Log.Infof("✅ Kafka producer событий смен: %s, topic=%s", brokers, topic)
	return w
}

// Publish ставит событие в очередь отправки
func (w *KafkaEventWriter) Publish(ctx context.Context, ev services.TurnEvent) error {
	data, err := EncodeTurnEvent(ev)
	if err != nil {
		return err
	}
	return w.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.TurnID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(ev.Type)},
		},
	})
}

// Close дожидается отправки и закрывает writer
func (w *KafkaEventWriter) Close() error {
	return w.writer.Close()
}

// turnEventStruct событие смены как google.protobuf.Struct; строки - если есть снимок
func turnEventStruct(ev services.TurnEvent) (*structpb.Struct, error) {
	fields := map[string]interface{}{
		"type":         ev.Type,
		"turn_id":      ev.TurnID,
		"name":         ev.Name,
		"state":        string(ev.State),
		"workplace_id": ev.WorkplaceID,
		"at":           ev.At.UTC().Format(time.RFC3339),
	}
	if ev.Turn != nil {
		lines := make([]interface{}, 0, len(ev.Turn.Lines))
		for _, l := range ev.Turn.Lines {
			line := map[string]interface{}{
				"id":            l.ID,
				"product_id":    l.ProductID,
				"kind":          string(l.Kind),
				"state":         string(l.State),
				"request_qty":   l.RequestQty.String(),
				"initial_stock": l.InitialStockQty.String(),
				"on_hand":       l.OnHandQty.String(),
				"consumed":      l.ConsumedQty.String(),
			}
			if l.ParentID != nil {
				line["parent_id"] = *l.ParentID
				parents := make([]interface{}, 0, len(l.Parents()))
				for _, p := range l.Parents() {
					parents = append(parents, p)
				}
				line["parent_ids"] = parents
			}
			lines = append(lines, line)
		}
		fields["lines"] = lines
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("ошибка сборки события: %w", err)
	}
	return s, nil
}

// EncodeTurnEvent бинарный protobuf события смены
func EncodeTurnEvent(ev services.TurnEvent) ([]byte, error) {
	s, err := turnEventStruct(ev)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}
