package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/blues/commission/internal/logger"
	"github.com/blues/commission/internal/logic"
	"github.com/blues/commission/internal/metrics"
	"github.com/blues/commission/internal/model"
	"github.com/blues/commission/internal/notify"
	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

// PaymentDeadlineJob 待支付记录巡检
// 逾期未满取消天数时每次巡检都提醒付款方，满后取消
type PaymentDeadlineJob struct {
	db              *gorm.DB
	clock           clockwork.Clock
	notifier        notify.Notifier
	payments        *logic.PaymentLogic
	interval        time.Duration
	cancelAfterDays int
}

// NewPaymentDeadlineJob 创建待支付记录巡检任务
func NewPaymentDeadlineJob(db *gorm.DB, clock clockwork.Clock, notifier notify.Notifier, payments *logic.PaymentLogic, interval time.Duration, cancelAfterDays int) *PaymentDeadlineJob {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	if cancelAfterDays <= 0 {
		cancelAfterDays = 3
	}
	return &PaymentDeadlineJob{
		db:              db,
		clock:           clock,
		notifier:        notifier,
		payments:        payments,
		interval:        interval,
		cancelAfterDays: cancelAfterDays,
	}
}

// GetName 获取任务名称
func (j *PaymentDeadlineJob) GetName() string {
	return "payment_deadline_sweep"
}

// GetSchedule 获取调度配置
func (j *PaymentDeadlineJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(j.interval)
}

// Run 执行一次巡检
func (j *PaymentDeadlineJob) Run(ctx context.Context) SweepResult {
	var result SweepResult
	now := j.clock.Now().UTC()

	released, err := j.payments.ReleaseStaleClaims(ctx)
	if err != nil {
		logger.Error("Failed to release stale payment claims: %v", err)
		result.Errors++
	} else if released > 0 {
		logger.Info("Released %d payment(s) stuck in %s", released, model.PaymentStatusProcessing)
		metrics.AddSweepTransitions(j.GetName(), string(model.PaymentStatusPending), released)
		result.Transitioned += released
	}

	var payments []model.PaymentRecordModel
	err = j.db.WithContext(ctx).
		Where("status = ? AND due_date < ?", model.PaymentStatusPending, now).
		Find(&payments).Error
	if err != nil {
		logger.Error("Failed to fetch payments for deadline sweep: %v", err)
		result.Errors++
		return result
	}

	for _, payment := range payments {
		result.Scanned++
		days := daysLate(now, payment.DueDate)

		if days < j.cancelAfterDays {
			notify.NotifyParties(ctx, j.notifier, []int64{payment.PayerId}, model.Notification{
				Title: "Payment overdue",
				Message: fmt.Sprintf("The %s payment of %d %s was due %s and is still unpaid.",
					payment.Phase, payment.Amount, payment.Currency, payment.DueDate.UTC().Format(time.DateOnly)),
				Category: model.NotificationPayment,
				Related:  model.EntityRef{Type: model.EntityPayment, Id: payment.Id},
			})
			result.Notified++
			continue
		}

		out, err := j.payments.CancelOverdue(ctx, payment.Id, days)
		if err != nil {
			logger.Error("Failed to cancel overdue payment %d: %v", payment.Id, err)
			result.Errors++
			continue
		}
		if !out.Moved {
			continue
		}

		logger.Info("Payment %d moved from %s to %s, %d day(s) late", payment.Id, payment.Status, model.PaymentStatusCancelled, days)
		metrics.IncrementSweepTransition(j.GetName(), string(model.PaymentStatusCancelled))
		result.Transitioned++
		result.Notified += out.Notified
		if payment.Phase == model.PaymentPhaseInitial {
			metrics.IncrementSweepTransition(j.GetName(), string(model.ProjectStatusCancelled))
		}
	}

	metrics.AddSweepNotifications(j.GetName(), result.Notified)
	return result
}
