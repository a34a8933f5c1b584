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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/edupoint/slms-api/api/swagger"
	"github.com/edupoint/slms-api/internal/handler"
	"github.com/edupoint/slms-api/internal/middleware"
	"github.com/edupoint/slms-api/internal/models"
	"github.com/edupoint/slms-api/internal/repository"
	"github.com/edupoint/slms-api/internal/service"
	"github.com/edupoint/slms-api/pkg/cache"
	"github.com/edupoint/slms-api/pkg/config"
	"github.com/edupoint/slms-api/pkg/database"
	"github.com/edupoint/slms-api/pkg/export"
	"github.com/edupoint/slms-api/pkg/logger"
	"github.com/edupoint/slms-api/pkg/mailer"
	corsmiddleware "github.com/edupoint/slms-api/pkg/middleware/cors"
	reqidmiddleware "github.com/edupoint/slms-api/pkg/middleware/requestid"
	"github.com/edupoint/slms-api/pkg/storage"
)

// @title SLMS API
// @version 1.0.0
// @description Student lifecycle back-end: notifications, documents, routines and auth
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck
	if err := database.Migrate(ctx, db); err != nil {
		logr.Fatal("failed to apply migrations", zap.Error(err))
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, continuing without cache and cross-node push", zap.Error(err))
		redisClient = nil
	}

	var mail mailer.Mailer
	switch cfg.Mail.Provider {
	case "sendgrid":
		mail = mailer.NewSendGrid(cfg.Mail.SendGridAPIKey, cfg.Mail.FromName, cfg.Mail.FromEmail, cfg.Mail.SendTimeout)
	default:
		mail = mailer.NewConsole(logr)
	}

	blobs, err := storage.NewBlobStore(cfg.Storage.RootDir)
	if err != nil {
		logr.Fatal("failed to init blob store", zap.Error(err))
	}
	signer := storage.NewSignedURLSigner(cfg.Storage.SignedURLSecret, cfg.Storage.SignedURLTTL)

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	documentRepo := repository.NewDocumentRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)
	routineRepo := repository.NewRoutineRepository(db)
	otpRepo := repository.NewOTPRepository(db)

	// Services.
	metricsService := service.NewMetricsService()
	authService := service.NewAuthService(userRepo, nil, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
	})
	otpService := service.NewOTPService(otpRepo, userRepo, mail, nil, logr, service.OTPConfig{
		Expiry:            time.Duration(cfg.OTP.ExpiryMinutes) * time.Minute,
		MaxAttempts:       cfg.OTP.MaxAttempts,
		MaxPerEmailHourly: cfg.OTP.MaxPerEmailHourly,
		MaxPerIPHourly:    cfg.OTP.MaxPerIPHourly,
	})

	pushHub := service.NewPushHub(redisClient, logr)
	go pushHub.Run(ctx)

	notificationService := service.NewNotificationService(notificationRepo, pushHub, redisClient, nil, logr)
	deliveryService := service.NewDeliveryService(notificationRepo, userRepo, mail, outboxRepo, logr, metricsService, service.DeliveryConfig{
		MaxRetries:        cfg.Notifications.MaxRetries,
		MaxRetryDelay:     cfg.Notifications.MaxRetryDelay,
		SchedulerInterval: cfg.Notifications.SchedulerInterval,
		Workers:           cfg.Notifications.QueueWorkers,
	})
	deliveryService.Start(ctx)
	defer deliveryService.Stop()

	eventBridge := service.NewEventBridge(outboxRepo, userRepo, notificationService, logr, cfg.Notifications.OutboxInterval)
	eventBridge.Start(ctx)

	documentService := service.NewDocumentService(documentRepo, blobs, service.DocumentPolicy{
		MaxImageBytes:    cfg.Storage.MaxImageBytes,
		MaxDocumentBytes: cfg.Storage.MaxDocumentBytes,
		MaxBatchBytes:    cfg.Storage.MaxBatchBytes,
		MaxBatchFiles:    cfg.Storage.MaxBatchFiles,
	}, signer, outboxRepo, logr, metricsService)
	routineService := service.NewRoutineService(routineRepo, nil, logr)

	// Handlers.
	authHandler := handler.NewAuthHandler(authService, otpService)
	documentHandler := handler.NewDocumentHandler(documentService)
	notificationHandler := handler.NewNotificationHandler(notificationService, pushHub, deliveryService)
	routineHandler := handler.NewRoutineHandler(routineService, export.NewRoutineExporter())
	metricsHandler := handler.NewMetricsHandler(metricsService)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsService))

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

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/password/forgot", authHandler.ForgotPassword)
		auth.POST("/password/verify", authHandler.VerifyResetCode)
		auth.POST("/password/reset", authHandler.ResetPassword)
		auth.POST("/admin/password/forgot", authHandler.ForgotPasswordStaff)

		authed := auth.Group("")
		authed.Use(middleware.JWT(authService))
		authed.POST("/logout", authHandler.Logout)
		authed.POST("/change-password", authHandler.ChangePassword)
		authed.GET("/me", authHandler.Me)
	}

	// Signed-token downloads carry their own credential.
	api.GET("/files/download", documentHandler.Download)

	authed := api.Group("")
	authed.Use(middleware.JWT(authService))

	notifications := authed.Group("/notifications")
	{
		notifications.GET("", notificationHandler.List)
		notifications.GET("/unread-count", notificationHandler.UnreadCount)
		notifications.GET("/stream", notificationHandler.Stream)
		notifications.GET("/preferences", notificationHandler.Preferences)
		notifications.PUT("/preferences", notificationHandler.UpdatePreference)
		notifications.POST("/read-all", notificationHandler.MarkAllRead)
		notifications.POST("/:id/read", notificationHandler.MarkRead)
		notifications.POST("/:id/archive", notificationHandler.Archive)
		notifications.DELETE("/:id", notificationHandler.Delete)
	}

	staff := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin)

	documents := authed.Group("/documents")
	{
		documents.GET("", documentHandler.Search)
		documents.GET("/owner/:owner_id", documentHandler.ListByOwner)
		documents.GET("/:id/preview", documentHandler.Preview)
		documents.POST("/:id/sign", documentHandler.SignURL)

		documents.POST("", staff, documentHandler.Upload)
		documents.POST("/batch", staff, documentHandler.UploadBatch)
		documents.POST("/duplicate-check", staff, documentHandler.CheckDuplicate)
		documents.PATCH("/:id", staff, documentHandler.UpdateMetadata)
		documents.DELETE("/:id", staff,
			middleware.Audit(userRepo, models.AuditActionDocumentDelete, "documents"), documentHandler.Delete)
		documents.GET("/:id/integrity", staff, documentHandler.IntegrityCheck)
		documents.POST("/integrity", staff, documentHandler.IntegritySweep)
		documents.GET("/stats", staff, documentHandler.Stats)
		documents.GET("/:id/access-logs", staff, documentHandler.AccessLogs)
		documents.POST("/cleanup", staff,
			middleware.Audit(userRepo, models.AuditActionDocumentCleanup, "documents"), documentHandler.Cleanup)
	}

	routines := authed.Group("/routines")
	{
		routines.GET("", routineHandler.List)
		routines.GET("/:id", routineHandler.Get)
		routines.GET("/export/pdf", routineHandler.ExportPDF)
		routines.GET("/export/csv", routineHandler.ExportCSV)

		audit := middleware.Audit(userRepo, models.AuditActionRoutineChange, "routines")
		routines.POST("", staff, audit, routineHandler.Create)
		routines.POST("/check-conflicts", staff, routineHandler.CheckConflicts)
		routines.PUT("/:id", staff, audit, routineHandler.Update)
		routines.DELETE("/:id", staff, audit, routineHandler.Delete)
	}

	admin := authed.Group("/admin", staff)
	{
		admin.GET("/notifications/deliveries", notificationHandler.DeliveryLog)
		admin.GET("/notifications/:id/deliveries", notificationHandler.JobsFor)
		admin.POST("/notifications/deliveries/:id/retry", notificationHandler.RetryDelivery)
		admin.GET("/metrics/summary", metricsHandler.Snapshot)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Error("forced shutdown", zap.Error(err))
	}
}
