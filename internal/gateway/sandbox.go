package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Sandbox 内存沙箱网关，默认所有交易结算成功
type Sandbox struct {
	mu       sync.Mutex
	baseURL  string
	down     bool
	orders   map[string]Order
	outcomes map[string]Verification
	verified map[string]int
}

// NewSandbox 创建沙箱网关
func NewSandbox(baseURL string) *Sandbox {
	if baseURL == "" {
		baseURL = "https://sandbox.pay.local/checkout"
	}
	return &Sandbox{
		baseURL:  baseURL,
		orders:   make(map[string]Order),
		outcomes: make(map[string]Verification),
		verified: make(map[string]int),
	}
}

func (s *Sandbox) Name() string {
	return "sandbox"
}

// SetDown 模拟网关不可达
func (s *Sandbox) SetDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

// SetOutcome 指定某笔交易的核验结果
func (s *Sandbox) SetOutcome(ref string, v Verification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[ref] = v
}

// VerifyCalls 返回某笔交易被核验的次数
func (s *Sandbox) VerifyCalls(ref string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verified[ref]
}

// Orders 返回已创建交易的数量
func (s *Sandbox) Orders() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

// CreateTransaction 实现 Port
func (s *Sandbox) CreateTransaction(_ context.Context, order Order) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.down {
		return Transaction{}, ErrUnavailable
	}
	if order.Amount <= 0 {
		return Transaction{}, fmt.Errorf("%w: amount must be positive", ErrRejected)
	}

	ref := "SBX-" + uuid.NewString()
	s.orders[ref] = order
	return Transaction{
		TransactionRef: ref,
		RedirectTarget: fmt.Sprintf("%s/%s", s.baseURL, ref),
	}, nil
}

// VerifyTransaction 实现 Port
func (s *Sandbox) VerifyTransaction(_ context.Context, ref string) (Verification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.down {
		return Verification{}, ErrUnavailable
	}
	if _, ok := s.orders[ref]; !ok {
		return Verification{}, ErrUnknownTransaction
	}
	s.verified[ref]++

	if v, ok := s.outcomes[ref]; ok {
		return v, nil
	}
	return Verification{Settled: true, FraudAccepted: true}, nil
}
