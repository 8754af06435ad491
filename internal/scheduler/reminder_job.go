package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/blues/commission/internal/logger"
	"github.com/blues/commission/internal/metrics"
	"github.com/blues/commission/internal/model"
	"github.com/blues/commission/internal/notify"
	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReminderJob 截止前提醒
// 每个实体在同一提前量、同一截止日只提醒一次，发送记录落在 reminder_log
type ReminderJob struct {
	db       *gorm.DB
	clock    clockwork.Clock
	notifier notify.Notifier
	interval time.Duration
	leadDays []int
}

// NewReminderJob 创建截止前提醒任务
func NewReminderJob(db *gorm.DB, clock clockwork.Clock, notifier notify.Notifier, interval time.Duration, leadDays []int) *ReminderJob {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if len(leadDays) == 0 {
		leadDays = []int{7, 3, 1}
	}
	return &ReminderJob{db: db, clock: clock, notifier: notifier, interval: interval, leadDays: leadDays}
}

// GetName 获取任务名称
func (j *ReminderJob) GetName() string {
	return "reminder_sweep"
}

// GetSchedule 获取调度配置
func (j *ReminderJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(j.interval)
}

// reminder 一条待发送的提醒
type reminder struct {
	entity  model.EntityType
	id      int64
	due     time.Time
	userIds []int64
	title   string
}

// Run 执行一次巡检
func (j *ReminderJob) Run(ctx context.Context) SweepResult {
	var result SweepResult
	candidates, err := j.collect(ctx)
	if err != nil {
		logger.Error("Failed to collect reminder candidates: %v", err)
		result.Errors++
		return result
	}

	today := startOfDay(j.clock.Now())
	for _, lead := range j.leadDays {
		from := today.AddDate(0, 0, lead)
		to := from.AddDate(0, 0, 1)

		for _, c := range candidates {
			if c.due.Before(from) || !c.due.Before(to) {
				continue
			}
			result.Scanned++

			first, err := j.claim(ctx, c, lead)
			if err != nil {
				logger.Error("Failed to record reminder for %s %d: %v", c.entity, c.id, err)
				result.Errors++
				continue
			}
			if !first {
				continue
			}

			result.Notified += notify.NotifyParties(ctx, j.notifier, c.userIds, model.Notification{
				Title:    "Upcoming deadline",
				Message:  fmt.Sprintf("%s is due in %d day(s), on %s.", c.title, lead, c.due.UTC().Format(time.DateOnly)),
				Category: model.NotificationReminder,
				Related:  model.EntityRef{Type: c.entity, Id: c.id},
			})
		}
	}

	metrics.AddSweepNotifications(j.GetName(), result.Notified)
	return result
}

// claim 写入提醒记录，已存在时返回 false
func (j *ReminderJob) claim(ctx context.Context, c reminder, lead int) (bool, error) {
	entry := model.ReminderLogModel{
		EntityType: string(c.entity),
		EntityId:   c.id,
		LeadDays:   lead,
		DueDay:     c.due.UTC().Format(time.DateOnly),
	}
	res := j.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// collect 汇总所有仍在进行中的项目、里程碑与待支付记录
func (j *ReminderJob) collect(ctx context.Context) ([]reminder, error) {
	db := j.db.WithContext(ctx)
	var out []reminder

	var projects []model.ProjectModel
	if err := db.Where("status IN ?", []model.ProjectStatus{
		model.ProjectStatusOpen,
		model.ProjectStatusInProgress,
		model.ProjectStatusCompletionRequested,
		model.ProjectStatusReadyForSettlement,
	}).Find(&projects).Error; err != nil {
		return nil, fmt.Errorf("fetch projects: %w", err)
	}
	byId := make(map[int64]model.ProjectModel, len(projects))
	for _, p := range projects {
		byId[p.Id] = p
		out = append(out, reminder{
			entity:  model.EntityProject,
			id:      p.Id,
			due:     p.Deadline,
			userIds: p.Parties(),
			title:   fmt.Sprintf("Project %q", p.Title),
		})
	}

	var milestones []model.ProjectMilestoneModel
	if err := db.Where("status IN ?", []model.MilestoneStatus{
		model.MilestoneStatusPending,
		model.MilestoneStatusInProgress,
	}).Find(&milestones).Error; err != nil {
		return nil, fmt.Errorf("fetch milestones: %w", err)
	}
	for _, m := range milestones {
		p, ok := byId[m.ProjectId]
		if !ok {
			continue
		}
		out = append(out, reminder{
			entity:  model.EntityMilestone,
			id:      m.Id,
			due:     m.DueDate,
			userIds: p.Parties(),
			title:   fmt.Sprintf("Milestone %d %q of %q", m.Number, m.Title, p.Title),
		})
	}

	var payments []model.PaymentRecordModel
	if err := db.Where("status = ?", model.PaymentStatusPending).Find(&payments).Error; err != nil {
		return nil, fmt.Errorf("fetch payments: %w", err)
	}
	for _, pay := range payments {
		out = append(out, reminder{
			entity:  model.EntityPayment,
			id:      pay.Id,
			due:     pay.DueDate,
			userIds: []int64{pay.PayerId},
			title:   fmt.Sprintf("The %s payment of %d %s", pay.Phase, pay.Amount, pay.Currency),
		})
	}
	return out, nil
}
