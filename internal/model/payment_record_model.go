package model

import (
	"time"

	"gorm.io/datatypes"
)

// PaymentRecordModel 托管支付记录，每条对应一个项目的一个支付阶段
type PaymentRecordModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ProjectId int64        `json:"project_id" gorm:"not null;index"`
	PayerId   int64        `json:"payer_id" gorm:"not null"` // 委托方
	PayeeId   int64        `json:"payee_id" gorm:"not null"` // 承接方
	Phase     PaymentPhase `json:"phase" gorm:"type:varchar(16);not null"`

	// 金额，最小货币单位
	Amount    int64  `json:"amount" gorm:"not null"`
	AdminFee  int64  `json:"admin_fee" gorm:"not null"`  // 平台手续费
	NetAmount int64  `json:"net_amount" gorm:"not null"` // 承接方实收 = amount - admin_fee
	Currency  string `json:"currency" gorm:"type:varchar(8);not null"`
	Method    string `json:"method" gorm:"not null"`

	// 网关信息
	GatewayName    string                          `json:"gateway_name"`
	TransactionRef string                          `json:"transaction_ref" gorm:"index"`
	RedirectTarget string                          `json:"redirect_target"`
	GatewayMeta    datatypes.JSONType[GatewayMeta] `json:"gateway_meta"`

	Status            PaymentStatus `json:"status" gorm:"type:varchar(32);not null;index"`
	DueDate           time.Time     `json:"due_date" gorm:"not null;index"`
	ProcessingSince   *time.Time    `json:"processing_since"` // 回调占位时间，超时由巡检释放
	PaidAt            *time.Time    `json:"paid_at"`
	CancelledAt       *time.Time    `json:"cancelled_at"`
	RefundReason      string        `json:"refund_reason" gorm:"type:text"`
	RefundRequestedAt *time.Time    `json:"refund_requested_at"`
	Notes             string        `json:"notes" gorm:"type:text"`
}

// TableName 自定义表名
func (PaymentRecordModel) TableName() string {
	return "payment_record"
}

// GatewayMeta 网关回调结果
type GatewayMeta struct {
	Settled       bool       `json:"settled"`
	FraudAccepted bool       `json:"fraud_accepted"`
	VerifiedAt    *time.Time `json:"verified_at,omitempty"`
	Attempts      int        `json:"attempts"`
	LastError     string     `json:"last_error,omitempty"`
}

// PaymentPhase 支付阶段
type PaymentPhase string

const (
	PaymentPhaseInitial PaymentPhase = "initial" // 首付款
	PaymentPhaseFinal   PaymentPhase = "final"   // 尾款
)

// Valid 是否为已知阶段
func (p PaymentPhase) Valid() bool {
	return p == PaymentPhaseInitial || p == PaymentPhaseFinal
}

// PaymentStatus 支付状态
type PaymentStatus string

const (
	PaymentStatusPending         PaymentStatus = "pending"          // 待支付
	PaymentStatusProcessing      PaymentStatus = "processing"       // 网关确认中
	PaymentStatusCompleted       PaymentStatus = "completed"        // 已支付
	PaymentStatusFailed          PaymentStatus = "failed"           // 失败
	PaymentStatusCancelled       PaymentStatus = "cancelled"        // 已取消
	PaymentStatusRefundRequested PaymentStatus = "refund_requested" // 申请退款，人工处理
)

// LivePaymentStatuses 占用阶段唯一性的状态
var LivePaymentStatuses = []PaymentStatus{PaymentStatusPending, PaymentStatusProcessing}

// SettledPaymentStatuses 阶段已结清的状态，不允许再次发起
var SettledPaymentStatuses = []PaymentStatus{PaymentStatusCompleted, PaymentStatusRefundRequested}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending: {
		PaymentStatusProcessing, PaymentStatusFailed, PaymentStatusCancelled,
	},
	PaymentStatusProcessing: {
		PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusPending,
	},
	PaymentStatusCompleted: {
		PaymentStatusRefundRequested,
	},
}

// CanTransitionTo 判断是否允许流转到目标状态
func (s PaymentStatus) CanTransitionTo(to PaymentStatus) bool {
	for _, next := range paymentTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}
