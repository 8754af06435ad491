package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/blues/commission/internal/model"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	sandbox := NewSandbox("")
	sandbox.SetDown(true)
	b := NewBreaker(sandbox, BreakerConfig{MaxFailures: 2, OpenTimeout: time.Minute})

	order := Order{PaymentId: 1, Phase: model.PaymentPhaseInitial, Amount: 100, Currency: "IDR"}
	for i := 0; i < 2; i++ {
		if _, err := b.CreateTransaction(context.Background(), order); !errors.Is(err, ErrUnavailable) {
			t.Fatalf("call %d: err = %v, want ErrUnavailable", i, err)
		}
	}

	// 熔断打开后即使网关恢复也直接拒绝
	sandbox.SetDown(false)
	if _, err := b.CreateTransaction(context.Background(), order); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("open breaker: err = %v, want ErrUnavailable", err)
	}
	if sandbox.Orders() != 0 {
		t.Fatalf("open breaker must not reach the gateway")
	}
}

func TestBreakerDoesNotTripOnRejection(t *testing.T) {
	sandbox := NewSandbox("")
	b := NewBreaker(sandbox, BreakerConfig{MaxFailures: 1, OpenTimeout: time.Minute})

	bad := Order{PaymentId: 1, Amount: 0}
	if _, err := b.CreateTransaction(context.Background(), bad); !errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
	tx, err := b.CreateTransaction(context.Background(), Order{PaymentId: 2, Amount: 500})
	if err != nil {
		t.Fatalf("breaker tripped on a rejection: %v", err)
	}

	v, err := b.VerifyTransaction(context.Background(), tx.TransactionRef)
	if err != nil || !v.Settled || !v.FraudAccepted {
		t.Fatalf("verify = %+v, %v", v, err)
	}
}
