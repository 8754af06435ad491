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
	"gorm.io/gorm"
)

const entityProject = "project"

// ProjectLogic 项目生命周期业务逻辑，项目状态只能经由这里流转
type ProjectLogic struct {
	db       *gorm.DB
	clock    clockwork.Clock
	notifier notify.Notifier
	currency string
}

// NewProjectLogic 创建项目业务逻辑
func NewProjectLogic(db *gorm.DB, clock clockwork.Clock, notifier notify.Notifier, defaultCurrency string) *ProjectLogic {
	if defaultCurrency == "" {
		defaultCurrency = "IDR"
	}
	return &ProjectLogic{db: db, clock: clock, notifier: notifier, currency: defaultCurrency}
}

// CreateProjectInput 创建项目参数
type CreateProjectInput struct {
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	BudgetMin    int64     `json:"budget_min"`
	BudgetMax    int64     `json:"budget_max"`
	Currency     string    `json:"currency"`
	DurationDays int       `json:"duration_days"`
	Deadline     time.Time `json:"deadline"`
}

// CreateProject 创建项目，初始状态为 open
func (p *ProjectLogic) CreateProject(ctx context.Context, requesterId int64, in CreateProjectInput) (*model.ProjectModel, error) {
	if err := p.validateProject(in); err != nil {
		return nil, err
	}

	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = p.currency
	}

	project := &model.ProjectModel{
		Title:        strings.TrimSpace(in.Title),
		Description:  in.Description,
		RequesterId:  requesterId,
		BudgetMin:    in.BudgetMin,
		BudgetMax:    in.BudgetMax,
		Currency:     currency,
		DurationDays: in.DurationDays,
		Deadline:     in.Deadline.UTC(),
		Status:       model.ProjectStatusOpen,
	}
	if err := p.db.WithContext(ctx).Create(project).Error; err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return project, nil
}

func (p *ProjectLogic) validateProject(in CreateProjectInput) error {
	if strings.TrimSpace(in.Title) == "" {
		return apperr.Validation(apperr.CodeFieldInvalid, "title is required")
	}
	if in.BudgetMin <= 0 || in.BudgetMax <= 0 {
		return apperr.Validation(apperr.CodeAmountInvalid, "budget must be positive")
	}
	if in.BudgetMin > in.BudgetMax {
		return apperr.Validation(apperr.CodeAmountInvalid, "budget_min %d exceeds budget_max %d", in.BudgetMin, in.BudgetMax)
	}
	if in.DurationDays < 0 {
		return apperr.Validation(apperr.CodeFieldInvalid, "duration_days must not be negative")
	}
	if !in.Deadline.After(p.clock.Now()) {
		return apperr.Validation(apperr.CodeDueDateInvalid, "deadline must be in the future")
	}
	return nil
}

// GetProject 获取项目详情，仅委托双方可见
func (p *ProjectLogic) GetProject(ctx context.Context, actorId, projectId int64) (*model.ProjectModel, error) {
	return p.loadForParty(p.db.WithContext(ctx), actorId, projectId)
}

// ListProjects 分页列出用户参与的项目
func (p *ProjectLogic) ListProjects(ctx context.Context, actorId int64, status model.ProjectStatus, page, pageSize int) ([]model.ProjectModel, int64, error) {
	if status != "" && !status.Valid() {
		return nil, 0, apperr.Validation(apperr.CodeFieldInvalid, "unknown project status %q", status)
	}
	page, pageSize = normalizePage(page, pageSize)

	query := p.db.WithContext(ctx).Model(&model.ProjectModel{}).
		Where("requester_id = ? OR assignee_id = ?", actorId, actorId)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count projects: %w", err)
	}

	var projects []model.ProjectModel
	if err := query.Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&projects).Error; err != nil {
		return nil, 0, fmt.Errorf("list projects: %w", err)
	}
	return projects, total, nil
}

// AssignContractor 选定承接方，仅 open 状态可操作
func (p *ProjectLogic) AssignContractor(ctx context.Context, requesterId, projectId, assigneeId int64) (*model.ProjectModel, error) {
	if assigneeId <= 0 {
		return nil, apperr.Validation(apperr.CodeFieldInvalid, "assignee_id is required")
	}
	if assigneeId == requesterId {
		return nil, apperr.Validation(apperr.CodeFieldInvalid, "requester cannot be the assignee")
	}

	var ob outbox
	var project *model.ProjectModel
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		project, err = p.loadForRequester(lockForUpdate(tx), requesterId, projectId)
		if err != nil {
			return err
		}
		if project.Status != model.ProjectStatusOpen {
			return apperr.InvalidTransition(entityProject, project.Status, model.ProjectStatusInProgress)
		}

		now := p.clock.Now()
		fields := map[string]interface{}{
			"assignee_id": assigneeId,
			"started_at":  now,
		}
		if project.DurationDays > 0 {
			fields["estimated_completion_at"] = now.AddDate(0, 0, project.DurationDays)
		}
		project.AssigneeId = &assigneeId
		if err := p.transition(tx, project, model.ProjectStatusInProgress, fields); err != nil {
			return err
		}

		ob.add(project.Parties(), model.NotificationProject, projectRef(project),
			"Contractor assigned",
			fmt.Sprintf("Project %q is now in progress.", project.Title))
		return nil
	})
	if err != nil {
		return nil, err
	}
	ob.flush(ctx, p.notifier)
	return p.reload(ctx, projectId)
}

// RequestCompletion 承接方申请验收，所有必需里程碑必须已完成
func (p *ProjectLogic) RequestCompletion(ctx context.Context, assigneeId, projectId int64, notes string) (*model.ProjectModel, error) {
	var ob outbox
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		project, err := p.loadForAssignee(lockForUpdate(tx), assigneeId, projectId)
		if err != nil {
			return err
		}
		if project.Status != model.ProjectStatusInProgress {
			return apperr.InvalidTransition(entityProject, project.Status, model.ProjectStatusCompletionRequested)
		}

		snapshot, err := loadProgress(tx, project.Id)
		if err != nil {
			return fmt.Errorf("load progress: %w", err)
		}
		if outstanding := snapshot.OutstandingMandatory(); outstanding > 0 {
			return apperr.PreconditionFailed("%d mandatory milestone(s) are not completed", outstanding)
		}

		if err := p.transition(tx, project, model.ProjectStatusCompletionRequested, map[string]interface{}{
			"completion_requested_at": p.clock.Now(),
			"completion_notes":        notes,
		}); err != nil {
			return err
		}
		ob.add([]int64{project.RequesterId}, model.NotificationProject, projectRef(project),
			"Completion requested",
			fmt.Sprintf("The contractor requested completion of %q.", project.Title))

		if readyForSettlement(snapshot) {
			return p.markReadyForSettlement(tx, project, &ob)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	ob.flush(ctx, p.notifier)
	return p.reload(ctx, projectId)
}

// ApproveCompletion 委托方确认完成
// 无必需里程碑的项目可直接从 completion_requested 完成
func (p *ProjectLogic) ApproveCompletion(ctx context.Context, requesterId, projectId int64, notes string) (*model.ProjectModel, error) {
	var ob outbox
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		project, err := p.loadForRequester(lockForUpdate(tx), requesterId, projectId)
		if err != nil {
			return err
		}

		switch project.Status {
		case model.ProjectStatusReadyForSettlement:
		case model.ProjectStatusCompletionRequested:
			snapshot, err := loadProgress(tx, project.Id)
			if err != nil {
				return fmt.Errorf("load progress: %w", err)
			}
			if snapshot.MandatoryTotal > 0 {
				return apperr.InvalidTransition(entityProject, project.Status, model.ProjectStatusCompleted)
			}
		default:
			return apperr.InvalidTransition(entityProject, project.Status, model.ProjectStatusCompleted)
		}

		fields := map[string]interface{}{"completed_at": p.clock.Now()}
		if notes != "" {
			fields["completion_notes"] = notes
		}
		if err := p.transition(tx, project, model.ProjectStatusCompleted, fields); err != nil {
			return err
		}
		ob.add(project.Parties(), model.NotificationProject, projectRef(project),
			"Project completed",
			fmt.Sprintf("Project %q has been marked completed.", project.Title))
		return nil
	})
	if err != nil {
		return nil, err
	}
	ob.flush(ctx, p.notifier)
	return p.reload(ctx, projectId)
}

// ExtendDeadline 委托方延长截止时间，逾期项目随之恢复
func (p *ProjectLogic) ExtendDeadline(ctx context.Context, requesterId, projectId int64, deadline time.Time) (*model.ProjectModel, error) {
	if !deadline.After(p.clock.Now()) {
		return nil, apperr.Validation(apperr.CodeDueDateInvalid, "new deadline must be in the future")
	}

	var ob outbox
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		project, err := p.loadForRequester(lockForUpdate(tx), requesterId, projectId)
		if err != nil {
			return err
		}
		if !deadline.After(project.Deadline) {
			return apperr.Validation(apperr.CodeDueDateInvalid, "new deadline must be later than the current one")
		}

		fields := map[string]interface{}{"deadline": deadline.UTC()}
		switch project.Status {
		case model.ProjectStatusOpen, model.ProjectStatusInProgress:
			res := tx.Model(&model.ProjectModel{}).
				Where("id = ? AND status = ?", project.Id, project.Status).
				Updates(fields)
			if res.Error != nil {
				return fmt.Errorf("extend deadline: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return apperr.Conflict("project %d changed concurrently", project.Id)
			}
		case model.ProjectStatusOverdue:
			to := model.ProjectStatusOpen
			if project.AssigneeId != nil {
				to = model.ProjectStatusInProgress
			}
			fields["overdue_at"] = nil
			if err := p.transition(tx, project, to, fields); err != nil {
				return err
			}
		default:
			return apperr.InvalidState("deadline of a %s project cannot be extended", project.Status)
		}

		ob.add(project.Parties(), model.NotificationProject, projectRef(project),
			"Deadline extended",
			fmt.Sprintf("The deadline of %q moved to %s.", project.Title, deadline.UTC().Format(time.DateOnly)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	ob.flush(ctx, p.notifier)
	return p.reload(ctx, projectId)
}

// GetProgress 计算项目加权进度并刷新缓存
func (p *ProjectLogic) GetProgress(ctx context.Context, actorId, projectId int64) (model.ProgressSnapshot, error) {
	db := p.db.WithContext(ctx)
	if _, err := p.loadForParty(db, actorId, projectId); err != nil {
		return model.ProgressSnapshot{}, err
	}
	return refreshProgress(db, projectId)
}

// Reconcile 根据已落库的里程碑状态重新推导"全部验收"信号，可重复调用
func (p *ProjectLogic) Reconcile(ctx context.Context, projectId int64) (SweepOutcome, error) {
	var ob outbox
	moved := false
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var project model.ProjectModel
		if err := lockForUpdate(tx).First(&project, projectId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound(entityProject, projectId)
			}
			return fmt.Errorf("load project: %w", err)
		}
		if project.Status != model.ProjectStatusInProgress && project.Status != model.ProjectStatusCompletionRequested {
			return nil
		}

		snapshot, err := refreshProgress(tx, projectId)
		if err != nil {
			return err
		}
		if !readyForSettlement(snapshot) {
			return nil
		}
		if err := p.markReadyForSettlement(tx, &project, &ob); err != nil {
			return err
		}
		moved = true
		return nil
	})
	if err != nil {
		return SweepOutcome{}, err
	}
	return SweepOutcome{Moved: moved, Notified: ob.flush(ctx, p.notifier)}, nil
}

// ForceOverdue 巡检将项目置为逾期，状态已变化时 Moved 为 false
func (p *ProjectLogic) ForceOverdue(ctx context.Context, projectId int64, from model.ProjectStatus, daysLate int) (SweepOutcome, error) {
	var ob outbox
	moved := false
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var project model.ProjectModel
		if err := tx.First(&project, projectId).Error; err != nil {
			return fmt.Errorf("load project: %w", err)
		}
		if project.Status != from {
			return nil
		}

		var err error
		moved, err = p.compareAndTransition(tx, &project, model.ProjectStatusOverdue, map[string]interface{}{
			"overdue_at": p.clock.Now(),
		})
		if err != nil || !moved {
			return err
		}
		ob.add(project.Parties(), model.NotificationProject, projectRef(&project),
			"Project overdue",
			fmt.Sprintf("Project %q is %d day(s) past its deadline.", project.Title, daysLate))
		return nil
	})
	if err != nil {
		return SweepOutcome{}, err
	}
	return SweepOutcome{Moved: moved, Notified: ob.flush(ctx, p.notifier)}, nil
}

// ForceCancel 巡检取消项目，状态已变化时 Moved 为 false
func (p *ProjectLogic) ForceCancel(ctx context.Context, projectId int64, from model.ProjectStatus, reason string) (SweepOutcome, error) {
	var ob outbox
	moved := false
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var project model.ProjectModel
		if err := tx.First(&project, projectId).Error; err != nil {
			return fmt.Errorf("load project: %w", err)
		}
		if project.Status != from {
			return nil
		}

		var err error
		moved, err = p.forceCancelTx(tx, &project, reason, &ob)
		return err
	})
	if err != nil {
		return SweepOutcome{}, err
	}
	return SweepOutcome{Moved: moved, Notified: ob.flush(ctx, p.notifier)}, nil
}

// forceCancelTx 在调用方事务内取消项目
func (p *ProjectLogic) forceCancelTx(tx *gorm.DB, project *model.ProjectModel, reason string, ob *outbox) (bool, error) {
	moved, err := p.compareAndTransition(tx, project, model.ProjectStatusCancelled, map[string]interface{}{
		"cancelled_at":  p.clock.Now(),
		"cancel_reason": reason,
	})
	if err != nil || !moved {
		return false, err
	}
	ob.add(project.Parties(), model.NotificationProject, projectRef(project),
		"Project cancelled", fmt.Sprintf("Project %q was cancelled: %s", project.Title, reason))
	return true, nil
}

// markReadyForSettlement 全部必需里程碑验收后进入待结算
func (p *ProjectLogic) markReadyForSettlement(tx *gorm.DB, project *model.ProjectModel, ob *outbox) error {
	if project.Status != model.ProjectStatusInProgress && project.Status != model.ProjectStatusCompletionRequested {
		return apperr.InvalidTransition(entityProject, project.Status, model.ProjectStatusReadyForSettlement)
	}
	if err := p.transition(tx, project, model.ProjectStatusReadyForSettlement, nil); err != nil {
		return err
	}
	ob.add(project.Parties(), model.NotificationProject, projectRef(project),
		"Ready for settlement",
		fmt.Sprintf("All mandatory milestones of %q are approved. The final payment can be made.", project.Title))
	return nil
}

// settleFinal 尾款到账后完成项目
func (p *ProjectLogic) settleFinal(tx *gorm.DB, projectId int64, ob *outbox) error {
	var project model.ProjectModel
	if err := tx.First(&project, projectId).Error; err != nil {
		return fmt.Errorf("load project: %w", err)
	}
	switch project.Status {
	case model.ProjectStatusCompleted:
		return nil
	case model.ProjectStatusReadyForSettlement, model.ProjectStatusCompletionRequested:
	default:
		logger.Warn("final payment settled for project %d in status %s, project left unchanged", project.Id, project.Status)
		return nil
	}

	if err := p.transition(tx, &project, model.ProjectStatusCompleted, map[string]interface{}{
		"completed_at": p.clock.Now(),
	}); err != nil {
		return err
	}
	ob.add(project.Parties(), model.NotificationProject, projectRef(&project),
		"Project completed",
		fmt.Sprintf("The final payment for %q settled. The project is completed.", project.Title))
	return nil
}

// ensureInProgress 首付款到账后确保项目处于进行中
func (p *ProjectLogic) ensureInProgress(tx *gorm.DB, projectId int64) error {
	var project model.ProjectModel
	if err := tx.First(&project, projectId).Error; err != nil {
		return fmt.Errorf("load project: %w", err)
	}
	switch project.Status {
	case model.ProjectStatusInProgress:
		return nil
	case model.ProjectStatusOverdue:
		if project.AssigneeId == nil {
			return nil
		}
		return p.transition(tx, &project, model.ProjectStatusInProgress, map[string]interface{}{"overdue_at": nil})
	default:
		logger.Warn("initial payment settled for project %d in status %s, project left unchanged", project.Id, project.Status)
		return nil
	}
}

// transition 校验邻接表并比较后更新，失败时返回 InvalidStateTransition
func (p *ProjectLogic) transition(tx *gorm.DB, project *model.ProjectModel, to model.ProjectStatus, fields map[string]interface{}) error {
	if !project.Status.CanTransitionTo(to) {
		return apperr.InvalidTransition(entityProject, project.Status, to)
	}
	moved, err := p.compareAndTransition(tx, project, to, fields)
	if err != nil {
		return err
	}
	if !moved {
		var current model.ProjectModel
		if err := tx.Select("status").First(&current, project.Id).Error; err != nil {
			return fmt.Errorf("reload project: %w", err)
		}
		return apperr.InvalidTransition(entityProject, current.Status, to)
	}
	return nil
}

// compareAndTransition 仅当当前状态仍为 project.Status 时更新
func (p *ProjectLogic) compareAndTransition(tx *gorm.DB, project *model.ProjectModel, to model.ProjectStatus, fields map[string]interface{}) (bool, error) {
	if !project.Status.CanTransitionTo(to) {
		return false, nil
	}
	if to.RequiresAssignee() && project.AssigneeId == nil {
		return false, apperr.PreconditionFailed("project %d has no assignee", project.Id)
	}

	updates := map[string]interface{}{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	res := tx.Model(&model.ProjectModel{}).
		Where("id = ? AND status = ?", project.Id, project.Status).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("update project status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	logger.Info("project %d moved %s -> %s", project.Id, project.Status, to)
	project.Status = to
	return true, nil
}

func (p *ProjectLogic) reload(ctx context.Context, projectId int64) (*model.ProjectModel, error) {
	var project model.ProjectModel
	if err := p.db.WithContext(ctx).First(&project, projectId).Error; err != nil {
		return nil, fmt.Errorf("reload project: %w", err)
	}
	return &project, nil
}

// loadForParty 加载项目，非委托双方一律视为不存在
func (p *ProjectLogic) loadForParty(tx *gorm.DB, actorId, projectId int64) (*model.ProjectModel, error) {
	var project model.ProjectModel
	if err := tx.First(&project, projectId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound(entityProject, projectId)
		}
		return nil, fmt.Errorf("load project: %w", err)
	}
	if !project.IsParty(actorId) {
		return nil, apperr.NotFound(entityProject, projectId)
	}
	return &project, nil
}

func (p *ProjectLogic) loadForRequester(tx *gorm.DB, requesterId, projectId int64) (*model.ProjectModel, error) {
	project, err := p.loadForParty(tx, requesterId, projectId)
	if err != nil {
		return nil, err
	}
	if project.RequesterId != requesterId {
		return nil, apperr.NotFound(entityProject, projectId)
	}
	return project, nil
}

func (p *ProjectLogic) loadForAssignee(tx *gorm.DB, assigneeId, projectId int64) (*model.ProjectModel, error) {
	project, err := p.loadForParty(tx, assigneeId, projectId)
	if err != nil {
		return nil, err
	}
	if !project.IsAssignee(assigneeId) {
		return nil, apperr.NotFound(entityProject, projectId)
	}
	return project, nil
}

// refreshProgress 重新计算进度并写回项目缓存字段
func refreshProgress(tx *gorm.DB, projectId int64) (model.ProgressSnapshot, error) {
	snapshot, err := loadProgress(tx, projectId)
	if err != nil {
		return snapshot, fmt.Errorf("load progress: %w", err)
	}
	if err := tx.Model(&model.ProjectModel{}).
		Where("id = ?", projectId).
		UpdateColumn("progress_percentage", snapshot.Overall).Error; err != nil {
		return snapshot, fmt.Errorf("cache progress: %w", err)
	}
	return snapshot, nil
}

func projectRef(p *model.ProjectModel) model.EntityRef {
	return model.EntityRef{Type: model.EntityProject, Id: p.Id}
}
