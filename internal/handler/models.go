package handler

import (
	"time"

	"github.com/blues/commission/internal/logic"
	"github.com/blues/commission/internal/model"
)

// 通用响应结构
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// ErrorDetail 错误响应中的 data 部分
type ErrorDetail struct {
	Kind string `json:"kind"`
	Code string `json:"code"`
}

// 分页信息结构
type Pagination struct {
	Page      int   `json:"page"`
	PageSize  int   `json:"pageSize"`
	Total     int64 `json:"total"`
	TotalPage int64 `json:"totalPage"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return Pagination{
		Page:      page,
		PageSize:  pageSize,
		Total:     total,
		TotalPage: (total + int64(pageSize) - 1) / int64(pageSize),
	}
}

// 项目相关请求与响应

// GetProjectsResponse 项目列表响应
type GetProjectsResponse struct {
	Projects   []model.ProjectModel `json:"projects"`
	Pagination Pagination           `json:"pagination"`
}

// AssignRequest 指派承接方
type AssignRequest struct {
	AssigneeId int64 `json:"assignee_id" binding:"required"`
}

// CompletionRequest 申请验收/确认完成
type CompletionRequest struct {
	Notes string `json:"notes"`
}

// ExtendDeadlineRequest 延长截止时间
type ExtendDeadlineRequest struct {
	Deadline time.Time `json:"deadline" binding:"required"`
}

// 里程碑相关请求

// CreateMilestonesRequest 批量创建里程碑
type CreateMilestonesRequest struct {
	Milestones []logic.MilestoneSpec `json:"milestones" binding:"required"`
}

// ReweightRequest 批量调整权重，key 为里程碑ID
type ReweightRequest struct {
	Weights map[int64]int `json:"weights" binding:"required"`
}

// ProgressRequest 上报进度
type ProgressRequest struct {
	CompletionPercentage int `json:"completion_percentage"`
}

// 支付相关请求与响应

// InitiatePaymentResponse 发起支付响应
type InitiatePaymentResponse struct {
	Payment        *model.PaymentRecordModel `json:"payment"`
	RedirectTarget string                    `json:"redirect_target"`
}

// VerifyPaymentRequest 网关回调
type VerifyPaymentRequest struct {
	PaymentId      int64  `json:"payment_id" binding:"required"`
	TransactionRef string `json:"transaction_ref" binding:"required"`
}

// RefundRequest 申请退款
type RefundRequest struct {
	Reason string `json:"reason"`
}
