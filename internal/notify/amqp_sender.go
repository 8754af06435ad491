package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/blues/commission/internal/model"
	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// AMQPSender 把通知发布到 RabbitMQ topic exchange，路由键为 notification.<category>
type AMQPSender struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	mu       sync.Mutex
}

// NewAMQPSender 建立连接并声明 exchange
func NewAMQPSender(url, exchange string) (*AMQPSender, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &AMQPSender{conn: conn, channel: ch, exchange: exchange}, nil
}

// RoutingKey 通知对应的路由键
func RoutingKey(n model.Notification) string {
	return "notification." + string(n.Category)
}

// Send 实现 Sender
func (s *AMQPSender) Send(ctx context.Context, n model.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.channel.PublishWithContext(
		ctx,
		s.exchange,
		RoutingKey(n),
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp091.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now().UTC(),
		},
	)
}

// IsConnected 连接是否仍然可用
func (s *AMQPSender) IsConnected() bool {
	return s.conn != nil && !s.conn.IsClosed()
}

func (s *AMQPSender) Close() {
	if s.channel != nil {
		_ = s.channel.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
}
