package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/blues/commission/internal/config"
	"github.com/blues/commission/internal/database"
	"github.com/blues/commission/internal/gateway"
	"github.com/blues/commission/internal/lock"
	"github.com/blues/commission/internal/logger"
	"github.com/blues/commission/internal/logic"
	"github.com/blues/commission/internal/notify"
	"github.com/blues/commission/internal/router"
	"github.com/blues/commission/internal/scheduler"
	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}
	if err := logger.Init(cfg.Log); err != nil {
		logger.Fatal("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// 初始化数据库
	db, err := database.Init(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to initialize database: %v", err)
	}

	// 通知投递
	sender, closeSender := newSender(cfg.Notify)
	defer closeSender()
	dispatcher, err := notify.NewDispatcher(sender, cfg.Notify.PoolSize)
	if err != nil {
		logger.Fatal("Failed to create notification dispatcher: %v", err)
	}

	// 支付网关，外层加熔断
	gw := gateway.NewBreaker(gateway.NewSandbox(cfg.Gateway.RedirectBaseURL), gateway.BreakerConfig{
		MaxFailures:      cfg.Gateway.MaxFailures,
		OpenTimeout:      cfg.Gateway.OpenTimeout,
		HalfOpenRequests: cfg.Gateway.HalfOpenRequests,
	})

	clock := clockwork.NewRealClock()
	projects := logic.NewProjectLogic(db, clock, dispatcher, cfg.Payment.Currency)
	milestones := logic.NewMilestoneLogic(db, clock, dispatcher, projects)
	payments := logic.NewPaymentLogic(db, clock, dispatcher, gw, cfg.Payment, projects)

	// 启动定时任务
	var manager *scheduler.Manager
	if cfg.Sweep.Enabled {
		manager, err = scheduler.NewManager(scheduler.Deps{
			DB:         db,
			Clock:      clock,
			Locker:     newLocker(cfg),
			Notifier:   dispatcher,
			Projects:   projects,
			Milestones: milestones,
			Payments:   payments,
			Sweep:      cfg.Sweep,
			Payment:    cfg.Payment,
		})
		if err != nil {
			logger.Fatal("Failed to create scheduler: %v", err)
		}
		if err := manager.RegisterJobs(); err != nil {
			logger.Fatal("Failed to register sweep jobs: %v", err)
		}
		manager.Start()
	}

	// 设置Gin模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 初始化路由
	r := router.Setup(router.Services{
		Projects:   projects,
		Milestones: milestones,
		Payments:   payments,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown: %v", err)
	}
	if manager != nil {
		manager.Stop()
	}
	if err := dispatcher.Close(5 * time.Second); err != nil {
		logger.Warn("Notification pool did not drain: %v", err)
	}
}

func newSender(cfg config.NotifyConfig) (notify.Sender, func()) {
	if cfg.Backend == "amqp" {
		s, err := notify.NewAMQPSender(cfg.AMQPURL, cfg.Exchange)
		if err != nil {
			logger.Fatal("Failed to connect notification broker: %v", err)
		}
		return s, s.Close
	}
	return notify.NewLogSender(), func() {}
}

func newLocker(cfg *config.Config) lock.Locker {
	if cfg.Lock.Backend == "redis" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return lock.NewRedisLocker(rdb, cfg.Lock.TTL)
	}
	return lock.NewLocalLocker()
}
