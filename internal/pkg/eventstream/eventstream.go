// Package eventstream 基于 Redis Streams 的账户审计事件流。
//
// API 服务在账户状态变更后发布事件，审计 worker 通过消费者组读取并落日志。
package eventstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultStream = "accounthub:events"

// 事件类型常量。
const (
	EventRegistered         = "account.registered"
	EventLogin              = "account.login"
	EventCodeIssued         = "account.code_issued"
	EventCodeActivated      = "account.code_activated"
	EventInvitationIssued   = "account.invitation_issued"
	EventInvitationAccepted = "account.invitation_accepted"
	EventDeleted            = "account.deleted"
)

// Event 一条账户审计事件。
type Event struct {
	Type   string `json:"type"`
	Email  string `json:"email"`
	Detail string `json:"detail,omitempty"`
	At     int64  `json:"at"` // Unix 毫秒
}

// Publisher 事件发布端。
type Publisher struct {
	rdb    *redis.Client
	logger *slog.Logger
	stream string
}

// NewPublisher 创建事件发布端，stream 为空时使用 DefaultStream。
func NewPublisher(rdb *redis.Client, logger *slog.Logger, stream string) *Publisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &Publisher{
		rdb:    rdb,
		logger: logger,
		stream: stream,
	}
}

// Publish 发布一条事件。At 为零时自动填充当前时间。
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	if p == nil || p.rdb == nil {
		return nil
	}
	if ev.Type == "" {
		return fmt.Errorf("event type is empty")
	}
	if ev.At == 0 {
		ev.At = time.Now().UnixMilli()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msgID, err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: 100000,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd failed: %w", err)
	}

	if p.logger != nil {
		p.logger.Debug("event published",
			slog.String("stream", p.stream),
			slog.String("msg_id", msgID),
			slog.String("type", ev.Type))
	}
	return nil
}

// EventWithID 包含消息 ID 的事件。
type EventWithID struct {
	ID    string
	Event Event
}

// Consumer 通过消费者组读取事件。
type Consumer struct {
	rdb        *redis.Client
	logger     *slog.Logger
	stream     string
	group      string
	consumerID string
	blockTime  time.Duration
	batchSize  int64
}

// NewConsumer 创建消费者并确保消费者组存在。
func NewConsumer(rdb *redis.Client, logger *slog.Logger, stream string, group string, consumerID string) (*Consumer, error) {
	if group == "" {
		return nil, fmt.Errorf("group name is required")
	}
	if stream == "" {
		stream = DefaultStream
	}
	if consumerID == "" {
		consumerID = fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}

	c := &Consumer{
		rdb:        rdb,
		logger:     logger,
		stream:     stream,
		group:      group,
		consumerID: consumerID,
		blockTime:  time.Second,
		batchSize:  10,
	}

	// 创建消费者组，从 Stream 起始位置开始消费，已存在则忽略
	err := rdb.XGroupCreateMkStream(context.Background(), stream, group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	if logger != nil {
		logger.Info("consumer group ready",
			slog.String("stream", stream),
			slog.String("group", group),
			slog.String("consumer_id", consumerID))
	}
	return c, nil
}

// Read 读取一批新事件，没有消息时返回 (nil, nil)。
func (c *Consumer) Read(ctx context.Context) ([]*EventWithID, error) {
	streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumerID,
		Streams:  []string{c.stream, ">"},
		Count:    c.batchSize,
		Block:    c.blockTime,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup failed: %w", err)
	}

	var out []*EventWithID
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			data, ok := msg.Values["data"].(string)
			if !ok || data == "" {
				if c.logger != nil {
					c.logger.Warn("invalid event format", slog.String("msg_id", msg.ID))
				}
				// 无法解析的消息直接确认，避免堵塞消费者组
				_ = c.Ack(ctx, msg.ID)
				continue
			}

			var ev Event
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				if c.logger != nil {
					c.logger.Error("parse event failed",
						slog.String("msg_id", msg.ID),
						slog.String("error", err.Error()))
				}
				_ = c.Ack(ctx, msg.ID)
				continue
			}

			out = append(out, &EventWithID{ID: msg.ID, Event: ev})
		}
	}
	return out, nil
}

// Ack 确认事件已处理。
func (c *Consumer) Ack(ctx context.Context, msgID string) error {
	if err := c.rdb.XAck(ctx, c.stream, c.group, msgID).Err(); err != nil {
		return fmt.Errorf("xack failed: %w", err)
	}
	return nil
}

// Pending 返回消费者组中待确认的事件数量。
func (c *Consumer) Pending(ctx context.Context) (int64, error) {
	info, err := c.rdb.XPending(ctx, c.stream, c.group).Result()
	if err != nil {
		return 0, fmt.Errorf("xpending failed: %w", err)
	}
	return info.Count, nil
}
