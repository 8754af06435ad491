package logic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blues/commission/internal/apperr"
	"github.com/blues/commission/internal/logger"
	"github.com/blues/commission/internal/model"
	"github.com/blues/commission/internal/notify"
	"github.com/jonboulle/clockwork"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const entityMilestone = "milestone"

// MilestoneLogic 里程碑业务逻辑
type MilestoneLogic struct {
	db       *gorm.DB
	clock    clockwork.Clock
	notifier notify.Notifier
	projects *ProjectLogic
}

// NewMilestoneLogic 创建里程碑业务逻辑
func NewMilestoneLogic(db *gorm.DB, clock clockwork.Clock, notifier notify.Notifier, projects *ProjectLogic) *MilestoneLogic {
	return &MilestoneLogic{db: db, clock: clock, notifier: notifier, projects: projects}
}

// MilestoneSpec 批量创建时单个里程碑的参数
type MilestoneSpec struct {
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	WeightPercentage int        `json:"weight_percentage"`
	DueDate          *time.Time `json:"due_date"`
	Mandatory        *bool      `json:"mandatory"` // 默认必需
}

// SubmitInput 提交交付物
type SubmitInput struct {
	Deliverables         []model.Deliverable `json:"deliverables"`
	Notes                string              `json:"notes"`
	CompletionPercentage int                 `json:"completion_percentage"`
}

// ReviewInput 验收参数
type ReviewInput struct {
	Decision model.ReviewDecision `json:"decision"`
	Feedback string               `json:"feedback"`
	Rating   *int                 `json:"rating"`
}

// UpdateInput 里程碑部分字段更新，nil 表示不修改
type UpdateInput struct {
	Title            *string    `json:"title"`
	Description      *string    `json:"description"`
	DueDate          *time.Time `json:"due_date"`
	WeightPercentage *int       `json:"weight_percentage"`
	Mandatory        *bool      `json:"mandatory"`
}

// CreateBatch 一次性创建项目的全部里程碑，权重之和必须为 100
func (m *MilestoneLogic) CreateBatch(ctx context.Context, requesterId, projectId int64, specs []MilestoneSpec) ([]model.ProjectMilestoneModel, error) {
	if err := m.validateSpecs(specs); err != nil {
		return nil, err
	}

	var ob outbox
	var created []model.ProjectMilestoneModel
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		project, err := m.projects.loadForRequester(lockForUpdate(tx), requesterId, projectId)
		if err != nil {
			return err
		}
		if project.Status != model.ProjectStatusInProgress {
			return apperr.PreconditionFailed("milestones can only be defined while the project is in progress, current status is %s", project.Status)
		}

		var existing int64
		if err := tx.Model(&model.ProjectMilestoneModel{}).Where("project_id = ?", projectId).Count(&existing).Error; err != nil {
			return fmt.Errorf("count milestones: %w", err)
		}
		if existing > 0 {
			return apperr.Conflict("project %d already has %d milestone(s)", projectId, existing)
		}

		now := m.clock.Now()
		dueDates := spreadDueDates(now, project.Deadline, len(specs))
		created = make([]model.ProjectMilestoneModel, 0, len(specs))
		for i, spec := range specs {
			milestone := model.ProjectMilestoneModel{
				ProjectId:        projectId,
				Number:           i + 1,
				Title:            strings.TrimSpace(spec.Title),
				Description:      spec.Description,
				WeightPercentage: spec.WeightPercentage,
				DueDate:          dueDates[i],
				Status:           model.MilestoneStatusPending,
				Mandatory:        spec.Mandatory == nil || *spec.Mandatory,
				Submission:       datatypes.JSONSlice[model.Deliverable]{},
			}
			if spec.DueDate != nil {
				if !spec.DueDate.After(now) {
					return apperr.Validation(apperr.CodeDueDateInvalid, "milestone %d due date must be in the future", i+1)
				}
				milestone.DueDate = spec.DueDate.UTC()
			}

			if err := tx.Create(&milestone).Error; err != nil {
				if isDuplicateKey(err) {
					return apperr.Conflict("milestone %d already exists for project %d", milestone.Number, projectId)
				}
				return fmt.Errorf("create milestone: %w", err)
			}
			created = append(created, milestone)
		}

		if _, err := refreshProgress(tx, projectId); err != nil {
			return err
		}
		ob.add(project.Parties(), model.NotificationMilestone, projectRef(project),
			"Milestones defined",
			fmt.Sprintf("%d milestone(s) were defined for %q.", len(created), project.Title))
		return nil
	})
	if err != nil {
		return nil, err
	}
	ob.flush(ctx, m.notifier)
	return created, nil
}

func (m *MilestoneLogic) validateSpecs(specs []MilestoneSpec) error {
	if len(specs) == 0 {
		return apperr.Validation(apperr.CodeFieldInvalid, "at least one milestone is required")
	}
	sum := 0
	for i, spec := range specs {
		if strings.TrimSpace(spec.Title) == "" {
			return apperr.Validation(apperr.CodeFieldInvalid, "milestone %d title is required", i+1)
		}
		if spec.WeightPercentage < 1 || spec.WeightPercentage > 100 {
			return apperr.Validation(apperr.CodeWeightSumInvalid, "milestone %d weight %d is outside 1-100", i+1, spec.WeightPercentage)
		}
		sum += spec.WeightPercentage
	}
	if sum != 100 {
		return apperr.Validation(apperr.CodeWeightSumInvalid, "milestone weights sum to %d, expected 100", sum)
	}
	return nil
}

// spreadDueDates 将截止日期均匀分布在剩余工期内，第 n 个落在项目截止时间
func spreadDueDates(now, deadline time.Time, n int) []time.Time {
	out := make([]time.Time, n)
	span := deadline.Sub(now)
	for i := range out {
		if span <= 0 {
			out[i] = deadline.UTC()
			continue
		}
		out[i] = now.Add(span * time.Duration(i+1) / time.Duration(n)).UTC()
	}
	return out
}

// List 列出项目里程碑
func (m *MilestoneLogic) List(ctx context.Context, actorId, projectId int64) ([]model.ProjectMilestoneModel, error) {
	db := m.db.WithContext(ctx)
	if _, err := m.projects.loadForParty(db, actorId, projectId); err != nil {
		return nil, err
	}
	var milestones []model.ProjectMilestoneModel
	if err := db.Where("project_id = ?", projectId).Order("number ASC").Find(&milestones).Error; err != nil {
		return nil, fmt.Errorf("list milestones: %w", err)
	}
	return milestones, nil
}

// Get 获取里程碑详情
func (m *MilestoneLogic) Get(ctx context.Context, actorId, milestoneId int64) (*model.ProjectMilestoneModel, error) {
	milestone, _, err := m.loadForParty(m.db.WithContext(ctx), actorId, milestoneId)
	return milestone, err
}

// ReportProgress 承接方汇报完成度
func (m *MilestoneLogic) ReportProgress(ctx context.Context, assigneeId, milestoneId int64, pct int) (*model.ProjectMilestoneModel, error) {
	if pct < 0 || pct > 100 {
		return nil, apperr.Validation(apperr.CodeCompletionInvalid, "completion percentage %d is outside 0-100", pct)
	}

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		milestone, project, err := m.loadForAssignee(tx, assigneeId, milestoneId)
		if err != nil {
			return err
		}
		if project.Status.IsTerminal() {
			return apperr.InvalidState("project %d is %s", project.Id, project.Status)
		}
		switch milestone.Status {
		case model.MilestoneStatusPending, model.MilestoneStatusInProgress, model.MilestoneStatusOverdue:
		default:
			return apperr.InvalidTransition(entityMilestone, milestone.Status, model.MilestoneStatusInProgress)
		}

		if err := m.transition(tx, milestone, model.MilestoneStatusInProgress, map[string]interface{}{
			"completion_percentage": pct,
		}); err != nil {
			return err
		}
		_, err = refreshProgress(tx, project.Id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return m.reload(ctx, milestoneId)
}

// Submit 承接方提交交付物，完成度超过 100 时按 100 计
func (m *MilestoneLogic) Submit(ctx context.Context, assigneeId, milestoneId int64, in SubmitInput) (*model.ProjectMilestoneModel, error) {
	if in.CompletionPercentage < 0 {
		return nil, apperr.Validation(apperr.CodeCompletionInvalid, "completion percentage must not be negative")
	}
	for i, d := range in.Deliverables {
		if strings.TrimSpace(d.URL) == "" {
			return nil, apperr.Validation(apperr.CodeFieldInvalid, "deliverable %d has no url", i+1)
		}
	}
	pct := min(in.CompletionPercentage, 100)

	var ob outbox
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		milestone, project, err := m.loadForAssignee(tx, assigneeId, milestoneId)
		if err != nil {
			return err
		}
		if project.Status.IsTerminal() {
			return apperr.InvalidState("project %d is %s", project.Id, project.Status)
		}
		// 逾期后仍允许补交
		switch milestone.Status {
		case model.MilestoneStatusPending, model.MilestoneStatusInProgress, model.MilestoneStatusOverdue:
		default:
			return apperr.InvalidTransition(entityMilestone, milestone.Status, model.MilestoneStatusSubmitted)
		}

		submission := datatypes.JSONSlice[model.Deliverable](in.Deliverables)
		if submission == nil {
			submission = datatypes.JSONSlice[model.Deliverable]{}
		}
		if err := m.transition(tx, milestone, model.MilestoneStatusSubmitted, map[string]interface{}{
			"completion_percentage": pct,
			"submission":            submission,
			"submission_notes":      in.Notes,
			"submitted_at":          m.clock.Now(),
		}); err != nil {
			return err
		}
		if _, err := refreshProgress(tx, project.Id); err != nil {
			return err
		}

		ob.add([]int64{project.RequesterId}, model.NotificationMilestone, milestoneRef(milestone),
			"Milestone submitted",
			fmt.Sprintf("Milestone %d %q of %q is ready for review.", milestone.Number, milestone.Title, project.Title))
		return nil
	})
	if err != nil {
		return nil, err
	}
	ob.flush(ctx, m.notifier)
	return m.reload(ctx, milestoneId)
}

// Review 委托方验收，通过后重新计算进度，必需里程碑全部完成时触发待结算
func (m *MilestoneLogic) Review(ctx context.Context, requesterId, milestoneId int64, in ReviewInput) (*model.ProjectMilestoneModel, error) {
	switch in.Decision {
	case model.ReviewApprove:
		if in.Rating != nil && (*in.Rating < 1 || *in.Rating > 5) {
			return nil, apperr.Validation(apperr.CodeRatingOutOfRange, "rating %d is outside 1-5", *in.Rating)
		}
	case model.ReviewReject:
	default:
		return nil, apperr.Validation(apperr.CodeFieldInvalid, "unknown review decision %q", in.Decision)
	}

	var ob outbox
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		milestone, project, err := m.loadForRequester(tx, requesterId, milestoneId)
		if err != nil {
			return err
		}
		if project.Status.IsTerminal() {
			return apperr.InvalidState("project %d is %s", project.Id, project.Status)
		}

		if in.Decision == model.ReviewReject {
			if err := m.transition(tx, milestone, model.MilestoneStatusPending, map[string]interface{}{
				"review_feedback": in.Feedback,
				"rating":          nil,
				"submitted_at":    nil,
				"revision_count":  gorm.Expr("revision_count + 1"),
			}); err != nil {
				return err
			}
			if _, err := refreshProgress(tx, project.Id); err != nil {
				return err
			}
			ob.add(assigneeOf(project), model.NotificationMilestone, milestoneRef(milestone),
				"Revision requested",
				fmt.Sprintf("Milestone %d %q needs changes: %s", milestone.Number, milestone.Title, in.Feedback))
			return nil
		}

		if err := m.transition(tx, milestone, model.MilestoneStatusCompleted, map[string]interface{}{
			"completion_percentage": 100,
			"approved_at":           m.clock.Now(),
			"review_feedback":       in.Feedback,
			"rating":                in.Rating,
		}); err != nil {
			return err
		}
		ob.add(assigneeOf(project), model.NotificationMilestone, milestoneRef(milestone),
			"Milestone approved",
			fmt.Sprintf("Milestone %d %q was approved.", milestone.Number, milestone.Title))

		return m.afterMilestoneChange(tx, project, &ob)
	})
	if err != nil {
		return nil, err
	}
	ob.flush(ctx, m.notifier)
	return m.reload(ctx, milestoneId)
}

// Update 部分字段更新，权重变更必须保持项目权重之和为 100
func (m *MilestoneLogic) Update(ctx context.Context, requesterId, milestoneId int64, in UpdateInput) (*model.ProjectMilestoneModel, error) {
	var ob outbox
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		milestone, project, err := m.loadForRequester(tx, requesterId, milestoneId)
		if err != nil {
			return err
		}
		if !milestone.Status.Editable() {
			return apperr.InvalidState("milestone %d is %s and can no longer be edited", milestone.Id, milestone.Status)
		}

		fields := map[string]interface{}{}
		if in.Title != nil {
			title := strings.TrimSpace(*in.Title)
			if title == "" {
				return apperr.Validation(apperr.CodeFieldInvalid, "title must not be empty")
			}
			fields["title"] = title
		}
		if in.Description != nil {
			fields["description"] = *in.Description
		}
		if in.WeightPercentage != nil && *in.WeightPercentage != milestone.WeightPercentage {
			if err := m.checkWeightEdit(tx, milestone, *in.WeightPercentage); err != nil {
				return err
			}
			fields["weight_percentage"] = *in.WeightPercentage
		}
		if in.Mandatory != nil {
			fields["mandatory"] = *in.Mandatory
		}

		restore := model.MilestoneStatus("")
		if in.DueDate != nil {
			if !in.DueDate.After(m.clock.Now()) {
				return apperr.Validation(apperr.CodeDueDateInvalid, "due date must be in the future")
			}
			fields["due_date"] = in.DueDate.UTC()
			if milestone.Status == model.MilestoneStatusOverdue {
				restore = model.MilestoneStatusPending
				if milestone.CompletionPercentage > 0 {
					restore = model.MilestoneStatusInProgress
				}
				fields["overdue_at"] = nil
			}
		}
		if len(fields) == 0 {
			return apperr.Validation(apperr.CodeFieldInvalid, "nothing to update")
		}

		if restore != "" {
			if err := m.transition(tx, milestone, restore, fields); err != nil {
				return err
			}
		} else {
			res := tx.Model(&model.ProjectMilestoneModel{}).
				Where("id = ? AND status = ?", milestone.Id, milestone.Status).
				Updates(fields)
			if res.Error != nil {
				return fmt.Errorf("update milestone: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return apperr.Conflict("milestone %d changed concurrently", milestone.Id)
			}
		}

		if in.Mandatory != nil || in.WeightPercentage != nil {
			return m.afterMilestoneChange(tx, project, &ob)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	ob.flush(ctx, m.notifier)
	return m.reload(ctx, milestoneId)
}

func (m *MilestoneLogic) checkWeightEdit(tx *gorm.DB, milestone *model.ProjectMilestoneModel, weight int) error {
	if weight < 1 || weight > 100 {
		return apperr.Validation(apperr.CodeWeightSumInvalid, "weight %d is outside 1-100", weight)
	}
	var others int64
	if err := tx.Model(&model.ProjectMilestoneModel{}).
		Where("project_id = ? AND id <> ?", milestone.ProjectId, milestone.Id).
		Select("COALESCE(SUM(weight_percentage), 0)").
		Scan(&others).Error; err != nil {
		return fmt.Errorf("sum milestone weights: %w", err)
	}
	if sum := int(others) + weight; sum != 100 {
		return apperr.Validation(apperr.CodeWeightSumInvalid, "milestone weights would sum to %d, use reweight to change several weights at once", sum)
	}
	return nil
}

// Reweight 原子地调整多个里程碑权重，调整后总和必须为 100
func (m *MilestoneLogic) Reweight(ctx context.Context, requesterId, projectId int64, weights map[int64]int) ([]model.ProjectMilestoneModel, error) {
	if len(weights) == 0 {
		return nil, apperr.Validation(apperr.CodeFieldInvalid, "no weights given")
	}

	var ob outbox
	var milestones []model.ProjectMilestoneModel
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		project, err := m.projects.loadForRequester(lockForUpdate(tx), requesterId, projectId)
		if err != nil {
			return err
		}
		if project.Status.IsTerminal() {
			return apperr.InvalidState("project %d is %s", project.Id, project.Status)
		}
		if err := tx.Where("project_id = ?", projectId).Order("number ASC").Find(&milestones).Error; err != nil {
			return fmt.Errorf("list milestones: %w", err)
		}

		known := make(map[int64]bool, len(milestones))
		for _, ms := range milestones {
			known[ms.Id] = true
		}
		for id := range weights {
			if !known[id] {
				return apperr.NotFound(entityMilestone, id)
			}
		}

		sum := 0
		for i := range milestones {
			ms := &milestones[i]
			w, ok := weights[ms.Id]
			if !ok || w == ms.WeightPercentage {
				sum += ms.WeightPercentage
				continue
			}
			if !ms.Status.Editable() {
				return apperr.InvalidState("milestone %d is %s and can no longer be edited", ms.Id, ms.Status)
			}
			if w < 1 || w > 100 {
				return apperr.Validation(apperr.CodeWeightSumInvalid, "milestone %d weight %d is outside 1-100", ms.Number, w)
			}
			ms.WeightPercentage = w
			sum += w
		}
		if sum != 100 {
			return apperr.Validation(apperr.CodeWeightSumInvalid, "milestone weights sum to %d, expected 100", sum)
		}

		for _, ms := range milestones {
			if err := tx.Model(&model.ProjectMilestoneModel{}).Where("id = ?", ms.Id).
				Update("weight_percentage", ms.WeightPercentage).Error; err != nil {
				return fmt.Errorf("update milestone weight: %w", err)
			}
		}
		return m.afterMilestoneChange(tx, project, &ob)
	})
	if err != nil {
		return nil, err
	}
	ob.flush(ctx, m.notifier)
	return milestones, nil
}

// MarkOverdue 巡检将里程碑置为逾期，状态已变化时 Moved 为 false
func (m *MilestoneLogic) MarkOverdue(ctx context.Context, milestoneId int64, from model.MilestoneStatus) (SweepOutcome, error) {
	var ob outbox
	moved := false
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var milestone model.ProjectMilestoneModel
		if err := tx.First(&milestone, milestoneId).Error; err != nil {
			return fmt.Errorf("load milestone: %w", err)
		}
		if milestone.Status != from {
			return nil
		}
		var project model.ProjectModel
		if err := tx.First(&project, milestone.ProjectId).Error; err != nil {
			return fmt.Errorf("load project: %w", err)
		}

		var err error
		moved, err = m.compareAndTransition(tx, &milestone, model.MilestoneStatusOverdue, map[string]interface{}{
			"overdue_at": m.clock.Now(),
		})
		if err != nil || !moved {
			return err
		}
		ob.add(project.Parties(), model.NotificationMilestone, milestoneRef(&milestone),
			"Milestone overdue",
			fmt.Sprintf("Milestone %d %q of %q passed its due date.", milestone.Number, milestone.Title, project.Title))
		return nil
	})
	if err != nil {
		return SweepOutcome{}, err
	}
	return SweepOutcome{Moved: moved, Notified: ob.flush(ctx, m.notifier)}, nil
}

// afterMilestoneChange 刷新进度缓存，满足条件时通知项目进入待结算
func (m *MilestoneLogic) afterMilestoneChange(tx *gorm.DB, project *model.ProjectModel, ob *outbox) error {
	snapshot, err := refreshProgress(tx, project.Id)
	if err != nil {
		return err
	}
	if !readyForSettlement(snapshot) {
		return nil
	}
	if project.Status != model.ProjectStatusInProgress && project.Status != model.ProjectStatusCompletionRequested {
		return nil
	}
	return m.projects.markReadyForSettlement(tx, project, ob)
}

func (m *MilestoneLogic) transition(tx *gorm.DB, milestone *model.ProjectMilestoneModel, to model.MilestoneStatus, fields map[string]interface{}) error {
	if !milestone.Status.CanTransitionTo(to) {
		return apperr.InvalidTransition(entityMilestone, milestone.Status, to)
	}
	moved, err := m.compareAndTransition(tx, milestone, to, fields)
	if err != nil {
		return err
	}
	if !moved {
		var current model.ProjectMilestoneModel
		if err := tx.Select("status").First(&current, milestone.Id).Error; err != nil {
			return fmt.Errorf("reload milestone: %w", err)
		}
		return apperr.InvalidTransition(entityMilestone, current.Status, to)
	}
	return nil
}

func (m *MilestoneLogic) compareAndTransition(tx *gorm.DB, milestone *model.ProjectMilestoneModel, to model.MilestoneStatus, fields map[string]interface{}) (bool, error) {
	if !milestone.Status.CanTransitionTo(to) {
		return false, nil
	}
	updates := map[string]interface{}{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	res := tx.Model(&model.ProjectMilestoneModel{}).
		Where("id = ? AND status = ?", milestone.Id, milestone.Status).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("update milestone status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	if milestone.Status != to {
		logger.Info("milestone %d moved %s -> %s", milestone.Id, milestone.Status, to)
	}
	milestone.Status = to
	return true, nil
}

func (m *MilestoneLogic) reload(ctx context.Context, milestoneId int64) (*model.ProjectMilestoneModel, error) {
	var milestone model.ProjectMilestoneModel
	if err := m.db.WithContext(ctx).First(&milestone, milestoneId).Error; err != nil {
		return nil, fmt.Errorf("reload milestone: %w", err)
	}
	return &milestone, nil
}

// loadForParty 加载里程碑及所属项目，非项目双方视为不存在
func (m *MilestoneLogic) loadForParty(tx *gorm.DB, actorId, milestoneId int64) (*model.ProjectMilestoneModel, *model.ProjectModel, error) {
	var milestone model.ProjectMilestoneModel
	if err := tx.First(&milestone, milestoneId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, apperr.NotFound(entityMilestone, milestoneId)
		}
		return nil, nil, fmt.Errorf("load milestone: %w", err)
	}
	project, err := m.projects.loadForParty(tx, actorId, milestone.ProjectId)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, nil, apperr.NotFound(entityMilestone, milestoneId)
		}
		return nil, nil, err
	}
	return &milestone, project, nil
}

func (m *MilestoneLogic) loadForRequester(tx *gorm.DB, requesterId, milestoneId int64) (*model.ProjectMilestoneModel, *model.ProjectModel, error) {
	milestone, project, err := m.loadForParty(tx, requesterId, milestoneId)
	if err != nil {
		return nil, nil, err
	}
	if project.RequesterId != requesterId {
		return nil, nil, apperr.NotFound(entityMilestone, milestoneId)
	}
	return milestone, project, nil
}

func (m *MilestoneLogic) loadForAssignee(tx *gorm.DB, assigneeId, milestoneId int64) (*model.ProjectMilestoneModel, *model.ProjectModel, error) {
	milestone, project, err := m.loadForParty(tx, assigneeId, milestoneId)
	if err != nil {
		return nil, nil, err
	}
	if !project.IsAssignee(assigneeId) {
		return nil, nil, apperr.NotFound(entityMilestone, milestoneId)
	}
	return milestone, project, nil
}

func assigneeOf(p *model.ProjectModel) []int64 {
	if p.AssigneeId == nil {
		return nil
	}
	return []int64{*p.AssigneeId}
}

func milestoneRef(m *model.ProjectMilestoneModel) model.EntityRef {
	return model.EntityRef{Type: model.EntityMilestone, Id: m.Id}
}
