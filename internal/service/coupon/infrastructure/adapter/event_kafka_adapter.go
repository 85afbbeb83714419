// internal/service/coupon/infrastructure/adapter/event_kafka_adapter.go
package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"nexus-coupon/internal/pkg/mq"
	"nexus-coupon/internal/service/coupon/domain"
	"nexus-coupon/internal/service/coupon/port"
)

// EventKafkaAdapter 实现了 port.EventPublisher 接口，把生命周期事件写入 Kafka。
type EventKafkaAdapter struct {
	writer *kafka.Writer
}

// NewEventKafkaAdapter 创建一个新的事件生产者适配器。
func NewEventKafkaAdapter(writer *kafka.Writer) *EventKafkaAdapter {
	return &EventKafkaAdapter{writer: writer}
}

// Publish 以已发券 ID 为消息键，同一张券的事件落在同一个分区，保持顺序。
func (a *EventKafkaAdapter) Publish(ctx context.Context, event domain.CouponEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal coupon event: %w", err)
	}
	headers := []kafka.Header{
		{Key: "event-type", Value: []byte(event.Type)},
		{Key: "tenant-id", Value: []byte(event.TenantID)},
	}
	// 调用通用的 mq.ProduceMessage，它会自动处理追踪上下文注入
	return mq.ProduceMessage(ctx, a.writer, []byte(event.IssuedCouponID), payload, headers...)
}

// Close 关闭底层的Kafka writer。
func (a *EventKafkaAdapter) Close() error {
	return a.writer.Close()
}

// MultiPublisher 把同一个事件依次发给多个发布者，某个失败不影响其他的。
type MultiPublisher []port.EventPublisher

func (m MultiPublisher) Publish(ctx context.Context, event domain.CouponEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ port.EventPublisher = (*EventKafkaAdapter)(nil)
	_ port.EventPublisher = MultiPublisher(nil)
)
