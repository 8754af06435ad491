package notify

import (
	"context"
	"sync"

	"github.com/blues/commission/internal/model"
)

// Notifier 通知端口，单向投递，不向调用方返回错误
type Notifier interface {
	Notify(ctx context.Context, n model.Notification)
}

// Sender 具体的投递后端
type Sender interface {
	Send(ctx context.Context, n model.Notification) error
}

// NotifyParties 给多个用户发送同一条通知
func NotifyParties(ctx context.Context, notifier Notifier, userIds []int64, tmpl model.Notification) int {
	for _, uid := range userIds {
		n := tmpl
		n.UserId = uid
		notifier.Notify(ctx, n)
	}
	return len(userIds)
}

// Recorder 同步记录所有通知，用于测试与本地调试
type Recorder struct {
	mu   sync.Mutex
	sent []model.Notification
}

// NewRecorder 创建通知记录器
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Notify 实现 Notifier
func (r *Recorder) Notify(_ context.Context, n model.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

// Send 实现 Sender
func (r *Recorder) Send(ctx context.Context, n model.Notification) error {
	r.Notify(ctx, n)
	return nil
}

// Sent 返回已记录通知的副本
func (r *Recorder) Sent() []model.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Notification, len(r.sent))
	copy(out, r.sent)
	return out
}

// For 返回发给指定用户的通知
func (r *Recorder) For(userId int64) []model.Notification {
	var out []model.Notification
	for _, n := range r.Sent() {
		if n.UserId == userId {
			out = append(out, n)
		}
	}
	return out
}

// Reset 清空记录
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}
