package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/expensio/approval-api/api/swagger"
	"github.com/expensio/approval-api/internal/handler"
	"github.com/expensio/approval-api/internal/middleware"
	"github.com/expensio/approval-api/internal/models"
	"github.com/expensio/approval-api/internal/repository"
	"github.com/expensio/approval-api/internal/service"
	"github.com/expensio/approval-api/pkg/cache"
	"github.com/expensio/approval-api/pkg/config"
	"github.com/expensio/approval-api/pkg/database"
	"github.com/expensio/approval-api/pkg/logger"
	corsmiddleware "github.com/expensio/approval-api/pkg/middleware/cors"
	reqidmiddleware "github.com/expensio/approval-api/pkg/middleware/requestid"
	"github.com/expensio/approval-api/pkg/storage"
)

// @title Expense Approval API
// @version 1.0.0
// @description Approval workflow engine for expense management
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, running without cache", "error", err)
		redisClient = nil
	} else {
		defer redisClient.Close() //nolint:errcheck
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	validate := validator.New()

	ruleRepo := repository.NewRuleRepository(db)
	workflowRepo := repository.NewWorkflowRepository(db)
	expenseRepo := repository.NewExpenseRepository(db)
	userRepo := repository.NewUserRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()

	notifier := service.NewNotificationService(cfg.Notifications, logr)
	notifier.Start(ctx)
	defer notifier.Stop()

	authSvc := service.NewAuthService(userRepo, auditRepo, cfg.JWT.Secret, cfg.JWT.Expiration, validate, logr)
	ruleSvc := service.NewRuleService(ruleRepo, userRepo, auditRepo, validate, logr)
	workflowSvc := service.NewWorkflowService(workflowRepo, ruleSvc, expenseRepo, userRepo, validate, logr,
		service.WithInboxCache(cacheRepo, cfg.Approvals.PendingCacheTTL),
		service.WithWorkflowNotifier(notifier),
		service.WithWorkflowMetrics(metricsSvc),
		service.WithWorkflowAudit(auditRepo),
	)

	approvalHandler := handler.NewApprovalHandler(workflowSvc, nil)
	if cfg.Approvals.ExportEnabled {
		exportStore, err := storage.NewLocalStorage(cfg.Approvals.ExportDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to prepare export storage", "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Approvals.ExportSecret, cfg.Approvals.ExportTTL)
		exportSvc := service.NewExportService(workflowRepo, exportStore, signer, service.ExportConfig{
			APIPrefix: cfg.APIPrefix,
			ResultTTL: cfg.Approvals.ExportTTL,
		}, logr, nil, nil)
		approvalHandler = handler.NewApprovalHandler(workflowSvc, exportSvc)
	}

	authHandler := handler.NewAuthHandler(authSvc)
	ruleHandler := handler.NewRuleHandler(ruleSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	{
		auth := api.Group("/auth")
		auth.POST("/login", authHandler.Login)
		auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)

		rules := api.Group("/approval-rules", middleware.JWT(authSvc))
		rules.GET("", middleware.RequireRoles(models.RoleAdmin, models.RoleManager), ruleHandler.List)
		rules.GET("/:id", middleware.RequireRoles(models.RoleAdmin, models.RoleManager), ruleHandler.Get)
		rules.POST("", middleware.RequireRoles(models.RoleAdmin), middleware.Audit(auditRepo, models.AuditActionRuleCreate, "approval_rule"), ruleHandler.Create)
		rules.PUT("/:id", middleware.RequireRoles(models.RoleAdmin), middleware.Audit(auditRepo, models.AuditActionRuleUpdate, "approval_rule"), ruleHandler.Update)

		approvals := api.Group("/approvals")
		approvals.GET("/export/:token", approvalHandler.DownloadExport)

		protected := approvals.Group("", middleware.JWT(authSvc))
		protected.POST("/workflows", approvalHandler.CreateWorkflow)
		protected.GET("/pending", approvalHandler.Pending)
		protected.POST("/actions/:id/approve", approvalHandler.Approve)
		protected.POST("/actions/:id/reject", approvalHandler.Reject)
		protected.GET("/expenses/:expenseId/workflow", approvalHandler.Workflow)
		protected.GET("/expenses/:expenseId/history", approvalHandler.History)
		protected.POST("/expenses/:expenseId/history/export", middleware.RequireRoles(models.RoleAdmin, models.RoleManager), approvalHandler.ExportHistory)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("shutdown incomplete", "error", err)
	}
}
