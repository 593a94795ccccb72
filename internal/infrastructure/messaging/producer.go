package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("messaging")

// Producer 消息生产者
type Producer struct {
	client *redis.Client
	maxLen int64
}

// NewProducer 创建消息生产者
func NewProducer(client *redis.Client, maxLen int64) *Producer {
	if maxLen <= 0 {
		maxLen = 100000
	}
	return &Producer{
		client: client,
		maxLen: maxLen,
	}
}

// Publish 发布消息到指定流
func (p *Producer) Publish(ctx context.Context, stream Stream, msg *Message) (string, error) {
	ctx, span := tracer.Start(ctx, "producer.Publish",
		trace.WithAttributes(
			attribute.String("stream", string(stream)),
			attribute.String("message.id", msg.ID),
			attribute.String("message.type", msg.Type),
		))
	defer span.End()

	data, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	result, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: string(stream),
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()

	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to publish message: %w", err)
	}

	span.SetAttributes(attribute.String("stream.message_id", result))
	return result, nil
}

// PublishIngestJob 发布书籍摄取任务
func (p *Producer) PublishIngestJob(ctx context.Context, job *IngestJobMessage) (string, error) {
	msg, err := NewMessage(job.JobID, "book_ingest", "", job)
	if err != nil {
		return "", err
	}

	if job.IdempotencyKey != "" {
		msg.SetMetadata("idempotency_key", job.IdempotencyKey)
	}
	return p.Publish(ctx, StreamBookIngest, msg)
}

// IngestJobMessage 书籍摄取任务消息
type IngestJobMessage struct {
	JobID          string `json:"job_id"`
	BookID         string `json:"book_id"`
	Content        string `json:"content"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// EventBus 把生产者适配为应用层的事件发布接口。
// 按事件类型路由到对应的流。
type EventBus struct {
	producer *Producer
}

// NewEventBus 创建事件总线
func NewEventBus(producer *Producer) *EventBus {
	return &EventBus{producer: producer}
}

// Publish 发布领域事件
func (b *EventBus) Publish(ctx context.Context, eventType string, payload any) error {
	msg, err := NewMessage(uuid.NewString(), eventType, "", payload)
	if err != nil {
		return err
	}

	stream := streamForEvent(eventType)
	_, err = b.producer.Publish(ctx, stream, msg)
	return err
}

func streamForEvent(eventType string) Stream {
	switch eventType {
	case "book_ingest":
		return StreamBookIngest
	default:
		return StreamQueryLog
	}
}
