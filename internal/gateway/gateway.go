package gateway

import (
	"context"
	"errors"

	"github.com/blues/commission/internal/model"
)

var (
	// ErrUnavailable 网关不可达或熔断打开
	ErrUnavailable = errors.New("payment gateway unavailable")
	// ErrRejected 网关拒绝请求
	ErrRejected = errors.New("payment gateway rejected the request")
	// ErrUnknownTransaction 网关不认识该交易号
	ErrUnknownTransaction = errors.New("unknown gateway transaction")
)

// Order 发往网关的支付订单
type Order struct {
	PaymentId int64
	ProjectId int64
	PayerId   int64
	Phase     model.PaymentPhase
	Amount    int64
	Currency  string
	Method    string
}

// Transaction 网关创建交易的结果
type Transaction struct {
	TransactionRef string
	RedirectTarget string
}

// Verification 网关对交易的核验结果
type Verification struct {
	Settled       bool
	FraudAccepted bool
}

// Port 支付网关端口
type Port interface {
	Name() string
	CreateTransaction(ctx context.Context, order Order) (Transaction, error)
	VerifyTransaction(ctx context.Context, transactionRef string) (Verification, error)
}
