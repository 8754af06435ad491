package handler

import (
	"net/http"

	"github.com/blues/commission/internal/logic"
	"github.com/gin-gonic/gin"
)

type MilestoneHandler struct {
	milestoneLogic *logic.MilestoneLogic
}

func NewMilestoneHandler(milestones *logic.MilestoneLogic) *MilestoneHandler {
	return &MilestoneHandler{milestoneLogic: milestones}
}

// CreateMilestones 委托方为项目批量定义里程碑
func (h *MilestoneHandler) CreateMilestones(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	projectId, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req CreateMilestonesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	milestones, err := h.milestoneLogic.CreateBatch(c.Request.Context(), actor, projectId, req.Milestones)
	if err != nil {
		FailResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, "milestones created", milestones)
}

// ListMilestones 项目里程碑列表
func (h *MilestoneHandler) ListMilestones(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	projectId, ok := pathID(c, "id")
	if !ok {
		return
	}

	milestones, err := h.milestoneLogic.List(c.Request.Context(), actor, projectId)
	if err != nil {
		FailResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", milestones)
}

// Reweight 批量调整权重
func (h *MilestoneHandler) Reweight(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	projectId, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req ReweightRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	milestones, err := h.milestoneLogic.Reweight(c.Request.Context(), actor, projectId, req.Weights)
	if err != nil {
		FailResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "milestones reweighted", milestones)
}

// GetMilestone 里程碑详情
func (h *MilestoneHandler) GetMilestone(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	milestone, err := h.milestoneLogic.Get(c.Request.Context(), actor, id)
	if err != nil {
		FailResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", milestone)
}

// UpdateMilestone 部分更新里程碑
func (h *MilestoneHandler) UpdateMilestone(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req logic.UpdateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	milestone, err := h.milestoneLogic.Update(c.Request.Context(), actor, id, req)
	if err != nil {
		FailResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "milestone updated", milestone)
}

// ReportProgress 承接方上报进度
func (h *MilestoneHandler) ReportProgress(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req ProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	milestone, err := h.milestoneLogic.ReportProgress(c.Request.Context(), actor, id, req.CompletionPercentage)
	if err != nil {
		FailResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "progress reported", milestone)
}

// Submit 承接方提交交付物
func (h *MilestoneHandler) Submit(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req logic.SubmitInput
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	milestone, err := h.milestoneLogic.Submit(c.Request.Context(), actor, id, req)
	if err != nil {
		FailResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "milestone submitted", milestone)
}

// Review 委托方验收
func (h *MilestoneHandler) Review(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req logic.ReviewInput
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	milestone, err := h.milestoneLogic.Review(c.Request.Context(), actor, id, req)
	if err != nil {
		FailResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "milestone reviewed", milestone)
}
