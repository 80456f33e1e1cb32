package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nihanth-yadalam/IAP---backend/api"
	"github.com/nihanth-yadalam/IAP---backend/database"
	"github.com/nihanth-yadalam/IAP---backend/engine"
	"github.com/nihanth-yadalam/IAP---backend/integrations"
	"github.com/nihanth-yadalam/IAP---backend/schedule"
	"github.com/nihanth-yadalam/IAP---backend/scheduler"
)

func main() {
	levelStr := strings.ToLower(os.Getenv("LOG_LEVEL"))
	if levelStr == "" {
		levelStr = "debug"
	}
	level, err := zapcore.ParseLevel(levelStr)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      true,
		Encoding:         "console",
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, _ := config.Build()
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	viper.SetConfigName("config")
	viper.SetConfigType("toml")
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		zap.L().Fatal("Error reading config file", zap.Error(err))
	}

	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		dbPath = "planner.db"
	}
	db := database.Init(dbPath)
	sqlDB, _ := db.DB()

	port := viper.GetString("server.port")
	if port == "" {
		port = "8080"
	}

	jwtSecret := viper.GetString("auth.jwt_secret")
	if jwtSecret == "" {
		zap.L().Fatal("auth.jwt_secret is not configured")
	}

	oauthClient, err := integrations.NewOAuthClient()
	if err != nil {
		zap.L().Fatal("Failed to initialise Google OAuth client", zap.Error(err))
	}
	calClient := integrations.NewCalendarClient(
		oauthClient,
		viper.GetDuration("sync.remote_timeout"),
		uint(viper.GetInt("sync.remote_attempts")),
	)

	syncEngine := engine.New(db, calClient, engine.ConfigFromViper(), logger)

	router := gin.Default()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))

	workerCount := viper.GetInt("sync.workers")
	if workerCount <= 0 {
		workerCount = 10
	}
	apiHandler := &api.Handler{
		DB:         db,
		Engine:     syncEngine,
		OAuth:      oauthClient,
		Collisions: schedule.NewCollisionChecker(db),
		Workers:    make(chan struct{}, workerCount),
	}

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/health", apiHandler.HealthCheckHandler)

		// Google talks to these; they are not JWT-protected.
		apiGroup.POST("/webhooks/google-calendar", apiHandler.GoogleWebhookHandler)
		apiGroup.HEAD("/webhooks/google-calendar", apiHandler.GoogleWebhookHandler)
		apiGroup.GET("/auth/google/callback", apiHandler.GoogleCallbackHandler)

		authed := apiGroup.Group("", api.AuthRequired(jwtSecret))
		{
			authed.GET("/auth/google/url", apiHandler.GoogleAuthURLHandler)

			authed.POST("/sync/trigger", apiHandler.TriggerSyncHandler)
			authed.POST("/sync/reset", apiHandler.ResetSyncHandler)
			authed.GET("/sync/status", apiHandler.SyncStatusHandler)
			authed.POST("/sync/push/:slotID", apiHandler.PushSlotHandler)
			authed.POST("/sync/push-all", apiHandler.PushAllHandler)
			authed.POST("/sync/initialize", apiHandler.InitializeSyncHandler)
			authed.POST("/sync/unlink", apiHandler.UnlinkHandler)
			authed.POST("/webhooks/setup", apiHandler.SetupWebhookHandler)

			authed.POST("/schedule/check-collision", apiHandler.CheckCollisionHandler)
		}
	}

	pullInterval := viper.GetDuration("sync.pull_interval")
	if pullInterval <= 0 {
		pullInterval = 15 * time.Minute
	}
	renewInterval := viper.GetDuration("sync.renew_interval")
	if renewInterval <= 0 {
		renewInterval = 12 * time.Hour
	}

	jobs := scheduler.New(logger)
	jobs.Add(scheduler.Job{
		Name:  "periodic-sync",
		Every: pullInterval,
		Run: func(ctx context.Context) error {
			syncEngine.PullAll(ctx)
			return nil
		},
	})
	jobs.Add(scheduler.Job{
		Name:  "renew-webhooks",
		Every: renewInterval,
		Run: func(ctx context.Context) error {
			syncEngine.RenewExpiring(ctx)
			return nil
		},
	})
	jobs.Start()

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	zap.L().Info("Starting server", zap.String("port", port))
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Fatal("Server error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	var once sync.Once

	cleanup := func(reason string) {
		zap.L().Info("Shutdown initiated", zap.String("reason", reason))

		jobs.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		zap.L().Info("Shutting down HTTP server...")
		if err := srv.Shutdown(ctx); err != nil {
			zap.L().Error("Error shutting down server", zap.Error(err))
		} else {
			zap.L().Info("HTTP server shut down gracefully.")
		}

		if sqlDB != nil {
			if err := sqlDB.Close(); err != nil {
				zap.L().Error("Error closing database", zap.Error(err))
			} else {
				zap.L().Info("Database connection closed.")
			}
		}
		close(done)
	}

	go func() {
		sig := <-sigCh
		once.Do(func() {
			cleanup(sig.String())
		})

		// if a second signal is caught, exit immediately
		go func() {
			<-sigCh
			zap.L().Info("Second interrupt signal received. Exiting immediately.")
			os.Exit(1)
		}()
	}()

	<-done
	zap.L().Info("Exiting...")
}
