package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blues/commission/internal/logger"
	"github.com/blues/commission/internal/metrics"
	"github.com/sony/gobreaker"
)

// BreakerConfig 熔断配置
type BreakerConfig struct {
	MaxFailures      uint32        // 连续失败多少次后打开
	OpenTimeout      time.Duration // 打开状态持续多久后进入半开
	HalfOpenRequests uint32        // 半开状态允许的请求数
}

// Breaker 为网关端口加上熔断与调用指标
type Breaker struct {
	next Port
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker 包装网关端口
func NewBreaker(next Port, cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	settings := gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		// 业务拒绝不算网关故障
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrRejected) || errors.Is(err, ErrUnknownTransaction)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Gateway %s circuit breaker %s -> %s", name, from, to)
		},
	}
	return &Breaker{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *Breaker) Name() string {
	return b.next.Name()
}

// CreateTransaction 实现 Port
func (b *Breaker) CreateTransaction(ctx context.Context, order Order) (Transaction, error) {
	start := time.Now()
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.CreateTransaction(ctx, order)
	})
	metrics.RecordGatewayCall("create", callStatus(err), time.Since(start))
	if err != nil {
		return Transaction{}, translate(err)
	}
	return out.(Transaction), nil
}

// VerifyTransaction 实现 Port
func (b *Breaker) VerifyTransaction(ctx context.Context, ref string) (Verification, error) {
	start := time.Now()
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.VerifyTransaction(ctx, ref)
	})
	metrics.RecordGatewayCall("verify", callStatus(err), time.Since(start))
	if err != nil {
		return Verification{}, translate(err)
	}
	return out.(Verification), nil
}

func translate(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func callStatus(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}
