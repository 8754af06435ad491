package notify

import (
	"context"

	"github.com/blues/commission/internal/logger"
	"github.com/blues/commission/internal/model"
	"go.uber.org/zap"
)

// LogSender 把通知写入日志，未接入消息队列时使用
type LogSender struct {
	log *logger.Logger
}

// NewLogSender 创建日志通知后端
func NewLogSender() *LogSender {
	return &LogSender{log: logger.With(zap.String("component", "notify"))}
}

// Send 实现 Sender
func (s *LogSender) Send(_ context.Context, n model.Notification) error {
	s.log.Info("notify user=%d category=%s related=%s:%d title=%q message=%q",
		n.UserId, n.Category, n.Related.Type, n.Related.Id, n.Title, n.Message)
	return nil
}
