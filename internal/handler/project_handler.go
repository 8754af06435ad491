package handler

import (
	"net/http"
	"strconv"

	"github.com/blues/commission/internal/logic"
	"github.com/blues/commission/internal/model"
	"github.com/gin-gonic/gin"
)

type ProjectHandler struct {
	projectLogic *logic.ProjectLogic
}

func NewProjectHandler(projects *logic.ProjectLogic) *ProjectHandler {
	return &ProjectHandler{projectLogic: projects}
}

// CreateProject 创建项目，调用方即委托方
func (h *ProjectHandler) CreateProject(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	var req logic.CreateProjectInput
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	project, err := h.projectLogic.CreateProject(c.Request.Context(), actor, req)
	if err != nil {
		FailResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, "project created", project)
}

// GetProjects 获取调用方参与的项目列表
func (h *ProjectHandler) GetProjects(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	status := model.ProjectStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		ErrorResponse(c, http.StatusBadRequest, "unknown status "+string(status))
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	projects, total, err := h.projectLogic.ListProjects(c.Request.Context(), actor, status, page, pageSize)
	if err != nil {
		FailResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", GetProjectsResponse{
		Projects:   projects,
		Pagination: newPagination(page, pageSize, total),
	})
}

// GetProject 获取单个项目详情
func (h *ProjectHandler) GetProject(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	project, err := h.projectLogic.GetProject(c.Request.Context(), actor, id)
	if err != nil {
		FailResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", project)
}

// AssignContractor 委托方指派承接方
func (h *ProjectHandler) AssignContractor(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	project, err := h.projectLogic.AssignContractor(c.Request.Context(), actor, id, req.AssigneeId)
	if err != nil {
		FailResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "contractor assigned", project)
}

// RequestCompletion 承接方申请验收
func (h *ProjectHandler) RequestCompletion(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req CompletionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
	}

	project, err := h.projectLogic.RequestCompletion(c.Request.Context(), actor, id, req.Notes)
	if err != nil {
		FailResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "completion requested", project)
}

// ApproveCompletion 委托方确认完成
func (h *ProjectHandler) ApproveCompletion(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req CompletionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
	}

	project, err := h.projectLogic.ApproveCompletion(c.Request.Context(), actor, id, req.Notes)
	if err != nil {
		FailResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "project completed", project)
}

// ExtendDeadline 延长截止时间
func (h *ProjectHandler) ExtendDeadline(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req ExtendDeadlineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	project, err := h.projectLogic.ExtendDeadline(c.Request.Context(), actor, id, req.Deadline)
	if err != nil {
		FailResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "deadline extended", project)
}

// GetProgress 获取项目加权进度
func (h *ProjectHandler) GetProgress(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	snapshot, err := h.projectLogic.GetProgress(c.Request.Context(), actor, id)
	if err != nil {
		FailResponse(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", snapshot)
}
