package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"Aura-Agent/internal/approval"
)

// RabbitMQConfig 描述出站队列的连接参数。
type RabbitMQConfig struct {
	URL           string
	MessageQueue  string
	ApprovalQueue string
	Durable       bool
	AutoDelete    bool
}

// RabbitMQOutbound 把出站消息和审批请求发布到 RabbitMQ，
// 由设备侧 App 或网关进程消费后推送给用户。
type RabbitMQOutbound struct {
	conn          *amqp.Connection
	ch            *amqp.Channel
	messageQueue  string
	approvalQueue string
}

// NewRabbitMQOutbound 创建 RabbitMQ 出站通道实例。
func NewRabbitMQOutbound(cfg RabbitMQConfig) (*RabbitMQOutbound, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	messageQueue := cfg.MessageQueue
	if messageQueue == "" {
		messageQueue = "aura.outbound"
	}
	approvalQueue := cfg.ApprovalQueue
	if approvalQueue == "" {
		approvalQueue = "aura.approvals"
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	for _, queue := range []string{messageQueue, approvalQueue} {
		if _, err := ch.QueueDeclare(queue, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("声明 RabbitMQ 队列 %s 失败: %w", queue, err)
		}
	}
	return &RabbitMQOutbound{
		conn:          conn,
		ch:            ch,
		messageQueue:  messageQueue,
		approvalQueue: approvalQueue,
	}, nil
}

// Deliver 将出站消息发布到消息队列。
func (r *RabbitMQOutbound) Deliver(ctx context.Context, msg Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	return r.publish(ctx, r.messageQueue, msg)
}

// PresentApproval 将审批请求发布到审批队列。
func (r *RabbitMQOutbound) PresentApproval(ctx context.Context, prompt approval.Prompt) error {
	return r.publish(ctx, r.approvalQueue, prompt)
}

func (r *RabbitMQOutbound) publish(ctx context.Context, queue string, payload any) error {
	if r == nil || r.ch == nil {
		return errors.New("RabbitMQ 出站通道未初始化")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化出站消息失败: %w", err)
	}
	return r.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// Close 关闭 RabbitMQ 连接。
func (r *RabbitMQOutbound) Close() error {
	if r == nil {
		return nil
	}
	if r.ch != nil {
		_ = r.ch.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

var _ Outbound = (*RabbitMQOutbound)(nil)
