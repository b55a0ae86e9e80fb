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

	_ "github.com/LoganDawes/Smart-Registration-Services/api/swagger"
	"github.com/LoganDawes/Smart-Registration-Services/internal/handler"
	"github.com/LoganDawes/Smart-Registration-Services/internal/middleware"
	"github.com/LoganDawes/Smart-Registration-Services/internal/models"
	"github.com/LoganDawes/Smart-Registration-Services/internal/repository"
	"github.com/LoganDawes/Smart-Registration-Services/internal/service"
	"github.com/LoganDawes/Smart-Registration-Services/pkg/cache"
	"github.com/LoganDawes/Smart-Registration-Services/pkg/config"
	"github.com/LoganDawes/Smart-Registration-Services/pkg/database"
	"github.com/LoganDawes/Smart-Registration-Services/pkg/logger"
	corsmiddleware "github.com/LoganDawes/Smart-Registration-Services/pkg/middleware/cors"
	reqidmiddleware "github.com/LoganDawes/Smart-Registration-Services/pkg/middleware/requestid"
)

// @title Smart Registration Services API
// @version 1.0.0
// @description Course registration, planning and advisor review API
// @BasePath /api
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
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.RunMigrations(db, logr); err != nil {
			logr.Sugar().Fatalw("failed to run migrations", "error", err)
		}
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, catalog cache disabled", "error", err)
		redisClient = nil
	}

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	sectionRepo := repository.NewSectionRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	planRepo := repository.NewPlanRepository(db)
	requestRepo := repository.NewRequestRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	logRepo := repository.NewRegistrationLogRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()

	notificationSvc := service.NewNotificationService(notificationRepo, userRepo, nil, validate, logr, service.NotificationConfig{
		WorkerConcurrency: cfg.Notifications.WorkerConcurrency,
		WorkerRetries:     cfg.Notifications.WorkerRetries,
		RetryDelay:        cfg.Notifications.RetryDelay,
		FromAddress:       cfg.Notifications.FromAddress,
	})

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "registrar-api",
		Audience:           []string{"registrar-clients"},
	})
	userSvc := service.NewUserService(userRepo, validate, logr)
	courseSvc := service.NewCourseService(courseRepo, cacheRepo, metricsSvc, cfg.Catalog.CacheTTL, validate, logr)
	sectionSvc := service.NewSectionService(sectionRepo, courseRepo, enrollmentRepo, notificationSvc, validate, logr)
	planSvc := service.NewPlanService(planRepo, sectionRepo, courseRepo, enrollmentRepo, logRepo, notificationSvc, metricsSvc, validate, logr)
	registrationSvc := service.NewRegistrationService(enrollmentRepo, sectionRepo, notificationSvc, metricsSvc, validate, logr)
	requestSvc := service.NewRequestService(requestRepo, logRepo, notificationSvc, validate, logr)
	exportSvc := service.NewExportService(enrollmentRepo, nil, nil, logr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notificationSvc.Start(ctx)
	defer notificationSvc.Stop()

	authHandler := handler.NewAuthHandler(authSvc, userSvc)
	userHandler := handler.NewUserHandler(userSvc)
	courseHandler := handler.NewCourseHandler(courseSvc)
	sectionHandler := handler.NewSectionHandler(sectionSvc)
	planHandler := handler.NewPlanHandler(planSvc)
	registrationHandler := handler.NewRegistrationHandler(registrationSvc, exportSvc, cfg.Registration.DefaultTerm, cfg.Registration.DefaultYear)
	requestHandler := handler.NewRequestHandler(requestSvc)
	notificationHandler := handler.NewNotificationHandler(notificationSvc)
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
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)

	protected := api.Group("")
	protected.Use(middleware.JWT(authSvc))

	protected.POST("/auth/logout", authHandler.Logout)
	protected.GET("/auth/me", authHandler.Me)

	protected.GET("/courses", courseHandler.List)
	protected.GET("/courses/:id", courseHandler.Get)
	protected.POST("/courses", middleware.RequireRoles(models.RoleRegistrar), courseHandler.Create)
	protected.POST("/courses/:id/prerequisites", middleware.RequireRoles(models.RoleRegistrar), courseHandler.AddPrerequisite)

	protected.GET("/sections", sectionHandler.List)
	protected.GET("/sections/:id", sectionHandler.Get)
	protected.POST("/sections", middleware.RequireRoles(models.RoleRegistrar), sectionHandler.Create)
	protected.PUT("/sections/:id", middleware.RequireRoles(models.RoleRegistrar), sectionHandler.Update)

	protected.POST("/plans", middleware.RequireRoles(models.RoleStudent), planHandler.Create)
	protected.GET("/plans", middleware.RequireRoles(models.RoleStudent), planHandler.ListMine)
	protected.GET("/plans/pending", middleware.RequireRoles(models.RoleAdvisor), planHandler.ListPendingReview)
	protected.GET("/plans/prerequisites/:courseId", middleware.RequireRoles(models.RoleStudent), planHandler.CheckPrerequisites)
	protected.GET("/plans/:id", planHandler.Get)
	protected.GET("/plans/:id/grid", planHandler.Grid)
	protected.POST("/plans/:id/courses", middleware.RequireRoles(models.RoleStudent), planHandler.AddCourse)
	protected.DELETE("/plans/:id/courses/:courseId", middleware.RequireRoles(models.RoleStudent), planHandler.RemoveCourse)
	protected.POST("/plans/:id/submit", middleware.RequireRoles(models.RoleStudent), planHandler.Submit)
	protected.POST("/plans/:id/approve", middleware.RequireRoles(models.RoleAdvisor), planHandler.Approve)
	protected.POST("/plans/:id/reject", middleware.RequireRoles(models.RoleAdvisor), planHandler.Reject)

	protected.POST("/registrations", middleware.RequireRoles(models.RoleStudent, models.RoleRegistrar), registrationHandler.Enroll)
	protected.POST("/registrations/bulk", middleware.RequireRoles(models.RoleStudent, models.RoleRegistrar), registrationHandler.BulkEnroll)
	protected.GET("/registrations", registrationHandler.List)
	protected.GET("/registrations/schedule", registrationHandler.WeeklySchedule)
	if cfg.Exports.Enabled {
		protected.GET("/registrations/schedule/export", registrationHandler.ExportSchedule)
	}
	protected.GET("/registrations/eligibility/:sectionId", registrationHandler.CheckEligibility)
	protected.DELETE("/registrations/:id", registrationHandler.Drop)

	protected.POST("/requests", middleware.RequireRoles(models.RoleStudent), requestHandler.Submit)
	protected.GET("/requests", requestHandler.List)
	protected.GET("/requests/:id", requestHandler.Get)
	protected.POST("/requests/:id/approve", middleware.RequireRoles(models.RoleAdvisor), requestHandler.Approve)
	protected.POST("/requests/:id/reject", middleware.RequireRoles(models.RoleAdvisor), requestHandler.Reject)

	protected.GET("/notifications", notificationHandler.List)
	protected.POST("/notifications/:id/read", notificationHandler.MarkRead)
	protected.GET("/notifications/preferences", notificationHandler.GetPreferences)
	protected.PUT("/notifications/preferences", notificationHandler.UpdatePreferences)

	protected.GET("/users/:id", userHandler.Get)
	protected.POST("/users", middleware.RequireRoles(models.RoleRegistrar), userHandler.Create)

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("forced shutdown", "error", err)
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	logr.Info("server stopped")
}
