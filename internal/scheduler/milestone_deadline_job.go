package scheduler

import (
	"context"
	"time"

	"github.com/blues/commission/internal/logger"
	"github.com/blues/commission/internal/logic"
	"github.com/blues/commission/internal/metrics"
	"github.com/blues/commission/internal/model"
	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

// MilestoneDeadlineJob 里程碑截止时间巡检，只标记逾期不自动取消
type MilestoneDeadlineJob struct {
	db         *gorm.DB
	clock      clockwork.Clock
	milestones *logic.MilestoneLogic
	interval   time.Duration
}

// NewMilestoneDeadlineJob 创建里程碑截止时间巡检任务
func NewMilestoneDeadlineJob(db *gorm.DB, clock clockwork.Clock, milestones *logic.MilestoneLogic, interval time.Duration) *MilestoneDeadlineJob {
	if interval <= 0 {
		interval = 2 * time.Hour
	}
	return &MilestoneDeadlineJob{db: db, clock: clock, milestones: milestones, interval: interval}
}

// GetName 获取任务名称
func (j *MilestoneDeadlineJob) GetName() string {
	return "milestone_deadline_sweep"
}

// GetSchedule 获取调度配置
func (j *MilestoneDeadlineJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(j.interval)
}

// Run 执行一次巡检
func (j *MilestoneDeadlineJob) Run(ctx context.Context) SweepResult {
	var result SweepResult
	now := j.clock.Now().UTC()
	db := j.db.WithContext(ctx)

	var milestones []model.ProjectMilestoneModel
	err := db.Where("status IN ?", []model.MilestoneStatus{
		model.MilestoneStatusPending,
		model.MilestoneStatusInProgress,
	}).Where("due_date < ?", now).Where("project_id IN (?)", db.Model(&model.ProjectModel{}).Select("id").
		Where("status NOT IN ?", []model.ProjectStatus{model.ProjectStatusCompleted, model.ProjectStatusCancelled}),
	).Find(&milestones).Error
	if err != nil {
		logger.Error("Failed to fetch milestones for deadline sweep: %v", err)
		result.Errors++
		return result
	}

	for _, milestone := range milestones {
		result.Scanned++

		out, err := j.milestones.MarkOverdue(ctx, milestone.Id, milestone.Status)
		if err != nil {
			logger.Error("Failed to mark milestone %d overdue: %v", milestone.Id, err)
			result.Errors++
			continue
		}
		if !out.Moved {
			continue
		}

		logger.Info("Milestone %d moved from %s to %s", milestone.Id, milestone.Status, model.MilestoneStatusOverdue)
		metrics.IncrementSweepTransition(j.GetName(), string(model.MilestoneStatusOverdue))
		result.Transitioned++
		result.Notified += out.Notified
	}

	metrics.AddSweepNotifications(j.GetName(), result.Notified)
	return result
}
