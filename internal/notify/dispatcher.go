package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/blues/commission/internal/logger"
	"github.com/blues/commission/internal/metrics"
	"github.com/blues/commission/internal/model"
	"github.com/panjf2000/ants/v2"
)

// Dispatcher 通过协程池异步投递通知，池满时丢弃
type Dispatcher struct {
	sender  Sender
	pool    *ants.Pool
	timeout time.Duration
}

// NewDispatcher 创建异步通知分发器
func NewDispatcher(sender Sender, poolSize int) (*Dispatcher, error) {
	if poolSize <= 0 {
		poolSize = 16
	}
	pool, err := ants.NewPool(poolSize, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("failed to create notify pool: %w", err)
	}
	return &Dispatcher{sender: sender, pool: pool, timeout: 10 * time.Second}, nil
}

// Notify 实现 Notifier
func (d *Dispatcher) Notify(ctx context.Context, n model.Notification) {
	category := string(n.Category)
	err := d.pool.Submit(func() {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		if err := d.sender.Send(sendCtx, n); err != nil {
			logger.Error("Failed to deliver notification to user %d: %v", n.UserId, err)
			metrics.IncrementNotification(category, "failed")
			return
		}
		metrics.IncrementNotification(category, "sent")
	})
	if err != nil {
		logger.Warn("Dropped notification for user %d: %v", n.UserId, err)
		metrics.IncrementNotification(category, "dropped")
	}
}

// Close 等待正在投递的通知完成
func (d *Dispatcher) Close(timeout time.Duration) error {
	return d.pool.ReleaseTimeout(timeout)
}
