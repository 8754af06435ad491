package router

import (
	"strconv"
	"time"

	"github.com/blues/commission/internal/handler"
	"github.com/blues/commission/internal/logic"
	"github.com/blues/commission/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Services 路由依赖的业务逻辑
type Services struct {
	Projects   *logic.ProjectLogic
	Milestones *logic.MilestoneLogic
	Payments   *logic.PaymentLogic
}

func Setup(svc Services) *gin.Engine {
	r := gin.New()

	// 中间件
	r.Use(gin.Recovery())
	r.Use(requestIDMiddleware())
	r.Use(metricsMiddleware())
	r.Use(corsMiddleware())

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "commission-service",
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	projectHandler := handler.NewProjectHandler(svc.Projects)
	milestoneHandler := handler.NewMilestoneHandler(svc.Milestones)
	paymentHandler := handler.NewPaymentHandler(svc.Payments)

	// API版本组
	v1 := r.Group("/api/v1")
	{
		// 项目相关路由
		projects := v1.Group("/projects")
		{
			projects.POST("", projectHandler.CreateProject)
			projects.GET("", projectHandler.GetProjects)
			projects.GET("/:id", projectHandler.GetProject)
			projects.POST("/:id/assign", projectHandler.AssignContractor)
			projects.POST("/:id/request-completion", projectHandler.RequestCompletion)
			projects.POST("/:id/approve-completion", projectHandler.ApproveCompletion)
			projects.POST("/:id/extend-deadline", projectHandler.ExtendDeadline)
			projects.GET("/:id/progress", projectHandler.GetProgress)
			projects.GET("/:id/milestones", milestoneHandler.ListMilestones)
			projects.POST("/:id/milestones", milestoneHandler.CreateMilestones)
			projects.POST("/:id/milestones/reweight", milestoneHandler.Reweight)
			projects.GET("/:id/payments", paymentHandler.ListProjectPayments)
		}

		// 里程碑相关路由
		milestones := v1.Group("/milestones")
		{
			milestones.GET("/:id", milestoneHandler.GetMilestone)
			milestones.PATCH("/:id", milestoneHandler.UpdateMilestone)
			milestones.POST("/:id/progress", milestoneHandler.ReportProgress)
			milestones.POST("/:id/submit", milestoneHandler.Submit)
			milestones.POST("/:id/review", milestoneHandler.Review)
		}

		// 支付相关路由
		payments := v1.Group("/payments")
		{
			payments.POST("/initiate", paymentHandler.InitiatePayment)
			payments.POST("/verify", paymentHandler.VerifyPayment)
			payments.GET("/:id", paymentHandler.GetPayment)
			payments.POST("/:id/refund", paymentHandler.RequestRefund)
		}
	}

	return r
}

// requestIDMiddleware 为每个请求分配ID，调用方已带则沿用
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// metricsMiddleware 记录请求耗时，path 使用路由模板避免标签爆炸
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequestDuration(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// CORS中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, X-User-ID, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
