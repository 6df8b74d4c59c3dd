package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"stockipv/server/internal/logger"
	"stockipv/server/internal/services"
)

// SaleRegistrar списание продаж
type SaleRegistrar interface {
	RegisterSale(ctx context.Context, sale services.SaleInput) error
}

// KafkaSalesConsumer читает продажи касс и списывает их с рабочих мест
type KafkaSalesConsumer struct {
	topic   string
	groupID string
	reader  *kafka.Reader
	sales   SaleRegistrar
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewKafkaSalesConsumer создает consumer продаж
func NewKafkaSalesConsumer(brokers, topic, groupID string, sales SaleRegistrar, username, password, caCert string) *KafkaSalesConsumer {
	ctx, cancel := context.WithCancel(context.Background())
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        ParseKafkaBrokers(brokers),
		Topic:          topic,
		GroupID:        groupID,
		StartOffset:    kafka.FirstOffset,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        1 * time.Second,
		CommitInterval: 0, // Коммит после обработки каждого сообщения
		Dialer:         CreateKafkaDialer(username, password, caCert),
	})
	return &KafkaSalesConsumer{
		topic:   topic,
		groupID: groupID,
		reader:  reader,
		sales:   sales,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Start запускает чтение в отдельной горутине
func (kc *KafkaSalesConsumer) Start() {
	logger.Log.Infof("📡 Kafka consumer продаж запущен: topic=%s, groupID=%s", kc.topic, kc.groupID)
	go func() {
		defer close(kc.done)
		for {
			msg, err := kc.reader.FetchMessage(kc.ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Log.Info("🛑 Kafka consumer продаж остановлен")
					return
				}
				logger.Log.WithError(err).Warn("⚠️ Kafka consumer продаж: ошибка чтения")
				time.Sleep(1 * time.Second)
				continue
			}

			if err := HandleSaleMessage(kc.ctx, kc.sales, msg.Value); err != nil {
				// Битые и невалидные продажи не повторяем, чтобы не блокировать партицию
				logger.Log.WithError(err).WithField("offset", msg.Offset).Error("❌ Продажа не списана")
			}
			if err := kc.reader.CommitMessages(kc.ctx, msg); err != nil && !errors.Is(err, context.Canceled) {
				logger.Log.WithError(err).Warn("⚠️ Kafka: ошибка коммита offset")
			}
		}
	}()
}

// Stop останавливает чтение и закрывает reader
func (kc *KafkaSalesConsumer) Stop() error {
	kc.cancel()
	<-kc.done
	return kc.reader.Close()
}

// DecodeSale разбирает продажу: JSON или protobuf Struct с теми же полями
func DecodeSale(value []byte) (services.SaleInput, error) {
	var sale services.SaleInput
	data := bytes.TrimSpace(value)
	if len(data) == 0 {
		return sale, fmt.Errorf("пустое сообщение продажи")
	}
	if data[0] != '{' {
		s := &structpb.Struct{}
		if err := proto.Unmarshal(value, s); err != nil {
			return sale, fmt.Errorf("ошибка разбора protobuf продажи: %w", err)
		}
		var err error
		if data, err = s.MarshalJSON(); err != nil {
			return sale, err
		}
	}
	if err := json.Unmarshal(data, &sale); err != nil {
		return sale, fmt.Errorf("ошибка разбора продажи: %w", err)
	}
	if sale.WorkplaceID == "" || sale.ProductID == "" || sale.Qty.Sign() <= 0 {
		return sale, fmt.Errorf("продажа без рабочего места, товара или количества")
	}
	if sale.Origin == "" {
		sale.Origin = "POS"
	}
	return sale, nil
}

// HandleSaleMessage разбирает и списывает одну продажу
func HandleSaleMessage(ctx context.Context, sales SaleRegistrar, value []byte) error {
	sale, err := DecodeSale(value)
	if err != nil {
		return err
	}
	return sales.RegisterSale(ctx, sale)
}
