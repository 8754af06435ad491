package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blues/commission/internal/config"
	"github.com/blues/commission/internal/lock"
	"github.com/blues/commission/internal/logger"
	"github.com/blues/commission/internal/logic"
	"github.com/blues/commission/internal/metrics"
	"github.com/blues/commission/internal/notify"
	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

// Deps 巡检任务依赖
type Deps struct {
	DB         *gorm.DB
	Clock      clockwork.Clock
	Locker     lock.Locker
	Notifier   notify.Notifier
	Projects   *logic.ProjectLogic
	Milestones *logic.MilestoneLogic
	Payments   *logic.PaymentLogic
	Sweep      config.SweepConfig
	Payment    config.PaymentConfig
}

// Manager 任务管理器
type Manager struct {
	scheduler gocron.Scheduler
	deps      Deps
	jobs      []Job
}

// NewManager 创建新的任务管理器，调度器使用注入的时钟
func NewManager(deps Deps) (*Manager, error) {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewLocalLocker()
	}
	s, err := gocron.NewScheduler(
		gocron.WithClock(deps.Clock),
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Manager{scheduler: s, deps: deps}, nil
}

// RegisterJobs 注册所有巡检任务
func (m *Manager) RegisterJobs() error {
	d := m.deps
	jobs := []Job{
		NewProjectDeadlineJob(d.DB, d.Clock, d.Projects, d.Sweep.ProjectInterval, d.Sweep.ProjectCancelAfterDays),
		NewMilestoneDeadlineJob(d.DB, d.Clock, d.Milestones, d.Sweep.MilestoneInterval),
		NewPaymentDeadlineJob(d.DB, d.Clock, d.Notifier, d.Payments, d.Sweep.PaymentInterval, d.Payment.CancelAfterDays),
		NewReminderJob(d.DB, d.Clock, d.Notifier, d.Sweep.ReminderInterval, d.Sweep.ReminderLeadDays),
	}
	for _, job := range jobs {
		if err := m.Register(job); err != nil {
			return err
		}
	}
	return nil
}

// Register 注册单个任务，同一任务不会与自身重叠执行
func (m *Manager) Register(job Job) error {
	_, err := m.scheduler.NewJob(
		job.GetSchedule(),
		gocron.NewTask(func() {
			_, _ = m.Execute(context.Background(), job)
		}),
		gocron.WithName(job.GetName()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to register job %s: %w", job.GetName(), err)
	}
	m.jobs = append(m.jobs, job)
	return nil
}

// Jobs 已注册的任务
func (m *Manager) Jobs() []Job {
	return m.jobs
}

// Execute 在互斥锁内执行一次巡检，锁被占用时跳过
func (m *Manager) Execute(ctx context.Context, job Job) (SweepResult, error) {
	var result SweepResult
	start := time.Now()

	err := m.deps.Locker.WithExclusiveLock(ctx, job.GetName(), func(ctx context.Context) error {
		logger.Info("Starting %s", job.GetName())
		result = job.Run(ctx)
		return nil
	})
	if errors.Is(err, lock.ErrLockHeld) {
		logger.Info("Skipping %s, another instance holds the lock", job.GetName())
		metrics.IncrementSweepSkipped(job.GetName())
		return result, err
	}
	if err != nil {
		logger.Error("%s failed: %v", job.GetName(), err)
		return result, err
	}

	metrics.RecordSweep(job.GetName(), time.Since(start))
	logger.Info("%s completed. scanned=%d transitioned=%d notified=%d errors=%d",
		job.GetName(), result.Scanned, result.Transitioned, result.Notified, result.Errors)
	return result, nil
}

// Start 启动任务管理器
func (m *Manager) Start() {
	m.scheduler.Start()
	logger.Info("Task manager started with %d jobs", len(m.jobs))
}

// Stop 停止任务管理器
func (m *Manager) Stop() {
	if err := m.scheduler.Shutdown(); err != nil {
		logger.Error("Failed to shutdown scheduler: %v", err)
	}
	logger.Info("Task manager stopped")
}
