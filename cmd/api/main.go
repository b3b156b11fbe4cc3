package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/optiplay/backend/internal/api/routes"
	"github.com/optiplay/backend/internal/config"
	"github.com/optiplay/backend/internal/database"
	"github.com/optiplay/backend/internal/iprep"
	"github.com/optiplay/backend/internal/jobs"
	"github.com/optiplay/backend/internal/logger"
	"github.com/optiplay/backend/internal/messaging"
	"github.com/optiplay/backend/internal/metrics"
	"github.com/optiplay/backend/internal/models"
	"github.com/optiplay/backend/internal/ratelimit"
	"github.com/optiplay/backend/internal/server"
	"github.com/optiplay/backend/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Setup logging with rotation
	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		log.Fatalf("create log dir: %v", err)
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogDir, "optiplay.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
	defer rotator.Close()

	// Log to both stdout and file
	mw := io.MultiWriter(os.Stdout, rotator)
	log.SetOutput(mw)
	logger.Init(cfg.Debug, mw)

	// Handle CLI commands
	if len(os.Args) > 1 && os.Args[1] == "reset-password" {
		if len(os.Args) != 4 {
			log.Fatalf("Usage: %s reset-password <email> <new-password>", os.Args[0])
		}
		if err := resetPassword(cfg, os.Args[2], os.Args[3]); err != nil {
			log.Fatalf("reset password: %v", err)
		}
		log.Printf("Password updated successfully for user %s", os.Args[2])
		return
	}

	if err := run(cfg); err != nil {
		logger.Log().WithError(err).Fatal("server exited")
	}
}

func resetPassword(cfg config.Config, email, password string) error {
	db, err := database.Connect(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	var user models.User
	if err := db.Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&user).Error; err != nil {
		return fmt.Errorf("user not found: %w", err)
	}
	if err := user.SetPassword(password); err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return db.Model(&user).Update("password_hash", user.PasswordHash).Error
}

func run(cfg config.Config) error {
	log := logger.Log()
	log.Infof("starting %s", version.Full())

	db, err := database.Connect(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(reg)

	scheduler := jobs.NewScheduler()
	tracker := iprep.NewTracker()

	var (
		store       ratelimit.Store
		redisClient *redis.Client
	)
	if cfg.RateLimit.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RateLimit.RedisAddr})
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connect redis %s: %w", cfg.RateLimit.RedisAddr, err)
		}
		store = ratelimit.NewRedisStore(redisClient)
		log.WithField("addr", cfg.RateLimit.RedisAddr).Info("rate limits shared through redis")
	} else {
		mem := ratelimit.NewMemoryStore()
		if err := scheduler.AddSweep("ratelimit", cfg.RateLimit.SweepInterval, mem); err != nil {
			return err
		}
		store = mem
	}
	if err := scheduler.AddSweep("iprep", cfg.Moderation.IPSweepInterval, tracker); err != nil {
		return err
	}

	deps := routes.Deps{
		DB:      db,
		Config:  cfg,
		Limiter: ratelimit.NewLimiter(store),
		Tracker: tracker,
	}

	var bridge *messaging.Bridge
	if cfg.Messaging.NATSURL != "" {
		bridge, err = messaging.Connect(messaging.DefaultConfig(cfg.Messaging.NATSURL))
		if err != nil {
			log.WithError(err).Warn("nats unavailable, blacklist stays local to this instance")
		} else {
			if err := bridge.SubscribeBlacklist(tracker); err != nil {
				bridge.Close()
				return fmt.Errorf("subscribe blacklist: %w", err)
			}
			deps.Publisher = bridge
		}
	}

	srv, err := server.New(deps)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler.Start()
	runErr := srv.Run(ctx)

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := scheduler.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("scheduler did not stop cleanly")
	}
	tracker.Shutdown()
	if bridge != nil {
		bridge.Close()
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.WithError(err).Warn("close redis")
		}
	}
	srv.App.Notification.Wait()
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	return runErr
}
