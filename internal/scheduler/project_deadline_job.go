package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/blues/commission/internal/logger"
	"github.com/blues/commission/internal/logic"
	"github.com/blues/commission/internal/metrics"
	"github.com/blues/commission/internal/model"
	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

// ProjectDeadlineJob 项目截止时间巡检
// 超过截止时间的项目置为逾期，逾期满指定天数后取消
type ProjectDeadlineJob struct {
	db              *gorm.DB
	clock           clockwork.Clock
	projects        *logic.ProjectLogic
	interval        time.Duration
	cancelAfterDays int
}

// NewProjectDeadlineJob 创建项目截止时间巡检任务
func NewProjectDeadlineJob(db *gorm.DB, clock clockwork.Clock, projects *logic.ProjectLogic, interval time.Duration, cancelAfterDays int) *ProjectDeadlineJob {
	if interval <= 0 {
		interval = time.Hour
	}
	if cancelAfterDays <= 0 {
		cancelAfterDays = 7
	}
	return &ProjectDeadlineJob{
		db:              db,
		clock:           clock,
		projects:        projects,
		interval:        interval,
		cancelAfterDays: cancelAfterDays,
	}
}

// GetName 获取任务名称
func (j *ProjectDeadlineJob) GetName() string {
	return "project_deadline_sweep"
}

// GetSchedule 获取调度配置
func (j *ProjectDeadlineJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(j.interval)
}

// Run 执行一次巡检
func (j *ProjectDeadlineJob) Run(ctx context.Context) SweepResult {
	var result SweepResult
	now := j.clock.Now().UTC()

	var projects []model.ProjectModel
	err := j.db.WithContext(ctx).Where("status IN ?", []model.ProjectStatus{
		model.ProjectStatusOpen,
		model.ProjectStatusInProgress,
		model.ProjectStatusOverdue,
	}).Where("deadline < ?", now).Find(&projects).Error
	if err != nil {
		logger.Error("Failed to fetch projects for deadline sweep: %v", err)
		result.Errors++
		return result
	}

	for _, project := range projects {
		result.Scanned++
		days := daysLate(now, project.Deadline)

		var out logic.SweepOutcome
		to := model.ProjectStatusOverdue
		switch {
		case days >= j.cancelAfterDays:
			to = model.ProjectStatusCancelled
			out, err = j.projects.ForceCancel(ctx, project.Id, project.Status,
				fmt.Sprintf("%d day(s) past the deadline", days))
		case project.Status != model.ProjectStatusOverdue:
			out, err = j.projects.ForceOverdue(ctx, project.Id, project.Status, days)
		default:
			continue
		}
		if err != nil {
			logger.Error("Failed to move project %d to %s: %v", project.Id, to, err)
			result.Errors++
			continue
		}
		if !out.Moved {
			continue
		}

		logger.Info("Project %d moved from %s to %s, %d day(s) late", project.Id, project.Status, to, days)
		metrics.IncrementSweepTransition(j.GetName(), string(to))
		result.Transitioned++
		result.Notified += out.Notified
	}

	j.reconcile(ctx, &result)
	metrics.AddSweepNotifications(j.GetName(), result.Notified)
	return result
}

// reconcile 补发因中断丢失的待结算信号
func (j *ProjectDeadlineJob) reconcile(ctx context.Context, result *SweepResult) {
	db := j.db.WithContext(ctx)
	var ids []int64
	err := db.Model(&model.ProjectModel{}).
		Where("status IN ?", []model.ProjectStatus{model.ProjectStatusInProgress, model.ProjectStatusCompletionRequested}).
		Where("id IN (?)", db.Model(&model.ProjectMilestoneModel{}).Select("project_id")).
		Pluck("id", &ids).Error
	if err != nil {
		logger.Error("Failed to fetch projects for reconcile: %v", err)
		result.Errors++
		return
	}

	for _, id := range ids {
		out, err := j.projects.Reconcile(ctx, id)
		if err != nil {
			logger.Error("Failed to reconcile project %d: %v", id, err)
			result.Errors++
			continue
		}
		if out.Moved {
			logger.Info("Project %d moved to %s on reconcile", id, model.ProjectStatusReadyForSettlement)
			metrics.IncrementSweepTransition(j.GetName(), string(model.ProjectStatusReadyForSettlement))
			result.Transitioned++
			result.Notified += out.Notified
		}
	}
}
