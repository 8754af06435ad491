package model

import (
	"time"
)

// ProjectModel 委托项目
type ProjectModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// 基本信息
	Title       string `json:"title" gorm:"not null"`
	Description string `json:"description" gorm:"type:text"`

	// 委托双方
	RequesterId int64  `json:"requester_id" gorm:"not null;index"`
	AssigneeId  *int64 `json:"assignee_id" gorm:"index"`

	// 预算信息，金额为最小货币单位
	BudgetMin    int64  `json:"budget_min" gorm:"not null"`
	BudgetMax    int64  `json:"budget_max" gorm:"not null"`
	Currency     string `json:"currency" gorm:"type:varchar(8);not null"`
	DurationDays int    `json:"duration_days"`

	// 时间信息
	Deadline              time.Time  `json:"deadline" gorm:"not null;index"`
	StartedAt             *time.Time `json:"started_at"`
	EstimatedCompletionAt *time.Time `json:"estimated_completion_at"`
	CompletionRequestedAt *time.Time `json:"completion_requested_at"`
	CompletedAt           *time.Time `json:"completed_at"`
	OverdueAt             *time.Time `json:"overdue_at"`
	CancelledAt           *time.Time `json:"cancelled_at"`

	// 状态
	Status          ProjectStatus `json:"status" gorm:"type:varchar(32);not null;index"`
	CompletionNotes string        `json:"completion_notes" gorm:"type:text"`
	CancelReason    string        `json:"cancel_reason" gorm:"type:text"`

	// 加权进度缓存，由里程碑变更时刷新
	ProgressPercentage float64 `json:"progress_percentage"`
}

// TableName 自定义表名
func (ProjectModel) TableName() string {
	return "project"
}

// IsParty 判断用户是否为项目的委托方或承接方
func (p *ProjectModel) IsParty(userId int64) bool {
	return p.RequesterId == userId || p.IsAssignee(userId)
}

// IsAssignee 判断用户是否为承接方
func (p *ProjectModel) IsAssignee(userId int64) bool {
	return p.AssigneeId != nil && *p.AssigneeId == userId
}

// Parties 返回需要通知的双方
func (p *ProjectModel) Parties() []int64 {
	if p.AssigneeId == nil {
		return []int64{p.RequesterId}
	}
	return []int64{p.RequesterId, *p.AssigneeId}
}

// ProjectStatus 项目状态
type ProjectStatus string

const (
	ProjectStatusOpen                ProjectStatus = "open"                 // 待承接
	ProjectStatusInProgress          ProjectStatus = "in_progress"          // 进行中
	ProjectStatusCompletionRequested ProjectStatus = "completion_requested" // 申请验收
	ProjectStatusReadyForSettlement  ProjectStatus = "ready_for_settlement" // 待结算
	ProjectStatusCompleted           ProjectStatus = "completed"            // 已完成
	ProjectStatusOverdue             ProjectStatus = "overdue"              // 已逾期
	ProjectStatusCancelled           ProjectStatus = "cancelled"            // 已取消
)

// projectTransitions 项目状态邻接表，未列出的流转一律拒绝
var projectTransitions = map[ProjectStatus][]ProjectStatus{
	ProjectStatusOpen: {
		ProjectStatusInProgress, ProjectStatusOverdue, ProjectStatusCancelled,
	},
	ProjectStatusInProgress: {
		ProjectStatusCompletionRequested, ProjectStatusReadyForSettlement,
		ProjectStatusOverdue, ProjectStatusCancelled,
	},
	ProjectStatusCompletionRequested: {
		ProjectStatusReadyForSettlement, ProjectStatusCompleted,
		ProjectStatusOverdue, ProjectStatusCancelled,
	},
	ProjectStatusReadyForSettlement: {
		ProjectStatusCompleted, ProjectStatusOverdue, ProjectStatusCancelled,
	},
	ProjectStatusOverdue: {
		ProjectStatusInProgress, ProjectStatusOpen, ProjectStatusCancelled,
	},
}

// CanTransitionTo 判断是否允许流转到目标状态
func (s ProjectStatus) CanTransitionTo(to ProjectStatus) bool {
	for _, next := range projectTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal 是否终态
func (s ProjectStatus) IsTerminal() bool {
	return s == ProjectStatusCompleted || s == ProjectStatusCancelled
}

// Valid 是否为已知状态
func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectStatusOpen, ProjectStatusInProgress, ProjectStatusCompletionRequested,
		ProjectStatusReadyForSettlement, ProjectStatusCompleted, ProjectStatusOverdue,
		ProjectStatusCancelled:
		return true
	}
	return false
}

// RequiresAssignee 该状态下承接方必须已确定
func (s ProjectStatus) RequiresAssignee() bool {
	switch s {
	case ProjectStatusInProgress, ProjectStatusCompletionRequested,
		ProjectStatusReadyForSettlement, ProjectStatusCompleted:
		return true
	}
	return false
}
