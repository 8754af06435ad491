package model

import (
	"time"

	"gorm.io/datatypes"
)

// ProjectMilestoneModel 项目里程碑
type ProjectMilestoneModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ProjectId   int64  `json:"project_id" gorm:"not null;uniqueIndex:idx_milestone_project_number"`
	Number      int    `json:"number" gorm:"not null;uniqueIndex:idx_milestone_project_number"` // 项目内序号，从1开始
	Title       string `json:"title" gorm:"not null"`
	Description string `json:"description" gorm:"type:text"`

	WeightPercentage     int             `json:"weight_percentage" gorm:"not null"`     // 权重 1-100
	CompletionPercentage int             `json:"completion_percentage" gorm:"not null"` // 完成度 0-100
	DueDate              time.Time       `json:"due_date" gorm:"not null;index"`
	Status               MilestoneStatus `json:"status" gorm:"type:varchar(32);not null;index"`
	Mandatory            bool            `json:"mandatory" gorm:"not null"`

	// 交付与验收
	Submission      datatypes.JSONSlice[Deliverable] `json:"submission"`
	SubmissionNotes string                           `json:"submission_notes" gorm:"type:text"`
	SubmittedAt     *time.Time                       `json:"submitted_at"`
	ApprovedAt      *time.Time                       `json:"approved_at"`
	ReviewFeedback  string                           `json:"review_feedback" gorm:"type:text"`
	Rating          *int                             `json:"rating"`
	RevisionCount   int                              `json:"revision_count"`
	OverdueAt       *time.Time                       `json:"overdue_at"`
}

// TableName 自定义表名
func (ProjectMilestoneModel) TableName() string {
	return "project_milestone"
}

// Deliverable 交付物引用
type Deliverable struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// MilestoneStatus 里程碑状态
type MilestoneStatus string

const (
	MilestoneStatusPending    MilestoneStatus = "pending"     // 待开始，驳回后回到此状态
	MilestoneStatusInProgress MilestoneStatus = "in_progress" // 进行中
	MilestoneStatusSubmitted  MilestoneStatus = "submitted"   // 已提交待验收
	MilestoneStatusCompleted  MilestoneStatus = "completed"   // 已验收通过
	MilestoneStatusOverdue    MilestoneStatus = "overdue"     // 已逾期
)

var milestoneTransitions = map[MilestoneStatus][]MilestoneStatus{
	MilestoneStatusPending: {
		MilestoneStatusInProgress, MilestoneStatusSubmitted, MilestoneStatusOverdue,
	},
	MilestoneStatusInProgress: {
		MilestoneStatusInProgress, MilestoneStatusSubmitted, MilestoneStatusOverdue,
	},
	MilestoneStatusSubmitted: {
		MilestoneStatusCompleted, MilestoneStatusPending,
	},
	MilestoneStatusOverdue: {
		MilestoneStatusInProgress, MilestoneStatusSubmitted, MilestoneStatusPending,
	},
}

// CanTransitionTo 判断是否允许流转到目标状态
func (s MilestoneStatus) CanTransitionTo(to MilestoneStatus) bool {
	for _, next := range milestoneTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Editable 验收通过后不可再编辑
func (s MilestoneStatus) Editable() bool {
	return s != MilestoneStatusCompleted
}

// ReviewDecision 验收结论
type ReviewDecision string

const (
	ReviewApprove ReviewDecision = "approve"
	ReviewReject  ReviewDecision = "reject"
)

// MilestoneProgress 单个里程碑对总进度的贡献
type MilestoneProgress struct {
	MilestoneId int64           `json:"milestone_id"`
	Number      int             `json:"number"`
	Weight      int             `json:"weight"`
	Progress    int             `json:"progress"`
	Status      MilestoneStatus `json:"status"`
	Mandatory   bool            `json:"mandatory"`
}

// ProgressSnapshot 项目加权进度，不单独落表
type ProgressSnapshot struct {
	ProjectId             int64               `json:"project_id"`
	Overall               float64             `json:"overall"`
	TotalWeight           int                 `json:"total_weight"`
	MandatoryTotal        int                 `json:"mandatory_total"`
	MandatoryCompleted    int                 `json:"mandatory_completed"`
	AllMandatoryCompleted bool                `json:"all_mandatory_completed"`
	Milestones            []MilestoneProgress `json:"milestones"`
}

// OutstandingMandatory 未完成的必需里程碑数量
func (s ProgressSnapshot) OutstandingMandatory() int {
	return s.MandatoryTotal - s.MandatoryCompleted
}
