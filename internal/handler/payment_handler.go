package handler

import (
	"net/http"

	"github.com/blues/commission/internal/logic"
	"github.com/gin-gonic/gin"
)

type PaymentHandler struct {
	paymentLogic *logic.PaymentLogic
}

func NewPaymentHandler(payments *logic.PaymentLogic) *PaymentHandler {
	return &PaymentHandler{paymentLogic: payments}
}

// InitiatePayment 委托方发起托管支付
func (h *PaymentHandler) InitiatePayment(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	var req logic.InitiateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	payment, redirect, err := h.paymentLogic.InitiatePayment(c.Request.Context(), actor, req)
	if err != nil {
		FailResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, "payment initiated", InitiatePaymentResponse{
		Payment:        payment,
		RedirectTarget: redirect,
	})
}

// VerifyPayment 网关回调确认支付结果，不需要调用方身份
func (h *PaymentHandler) VerifyPayment(c *gin.Context) {
	var req VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	payment, err := h.paymentLogic.VerifyPayment(c.Request.Context(), req.PaymentId, req.TransactionRef)
	if err != nil {
		FailResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "payment verified", payment)
}

// GetPayment 支付记录详情
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	payment, err := h.paymentLogic.GetPayment(c.Request.Context(), actor, id)
	if err != nil {
		FailResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", payment)
}

// ListProjectPayments 项目的支付记录
func (h *PaymentHandler) ListProjectPayments(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	projectId, ok := pathID(c, "id")
	if !ok {
		return
	}

	payments, err := h.paymentLogic.ListProjectPayments(c.Request.Context(), actor, projectId)
	if err != nil {
		FailResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", payments)
}

// RequestRefund 付款方申请退款
func (h *PaymentHandler) RequestRefund(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	payment, err := h.paymentLogic.RequestRefund(c.Request.Context(), actor, id, req.Reason)
	if err != nil {
		FailResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "refund requested", payment)
}
