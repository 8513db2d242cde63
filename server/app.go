package server

import (
	"context"
	"fmt"

	"ReleaseKit/cache"
	"ReleaseKit/config"
	"ReleaseKit/core/audio"
	"ReleaseKit/core/download"
	"ReleaseKit/core/ingest"
	"ReleaseKit/db"
	"ReleaseKit/logger"
	"ReleaseKit/repository"
	"ReleaseKit/storage"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// App 汇总服务运行所需的全部组件，HTTP 服务和命令行子命令共用
type App struct {
	Config   *config.Config
	DB       *gorm.DB
	Redis    *redis.Client
	Store    storage.Store
	Users    repository.UserRepository
	Releases repository.ReleaseRepository
	Tracks   repository.TrackRepository
	Manager  *download.Manager
	Ingest   *ingest.Service
}

// Bootstrap connects the database, Redis and object storage and builds the
// download manager. Redis is optional: without it the in-flight guard is skipped.
func Bootstrap(ctx context.Context, cfg *config.Config) (*App, error) {
	gdb, err := db.ConnectGormDB(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrateModels(gdb); err != nil {
		db.CloseGormDB()
		return nil, err
	}

	redisClient, err := db.ConnectRedis(cfg)
	if err != nil {
		logger.Warn("Redis unavailable, in-flight guard disabled", logger.ErrorField(err))
		redisClient = nil
	} else {
		logger.Info("Successfully connected to Redis", logger.String("addr", cfg.RedisAddr()))
	}

	store, err := storage.New(ctx, cfg)
	if err != nil {
		db.CloseRedis()
		db.CloseGormDB()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	app := &App{
		Config:   cfg,
		DB:       gdb,
		Redis:    redisClient,
		Store:    store,
		Users:    repository.NewGormUserRepository(gdb),
		Releases: repository.NewGormReleaseRepository(gdb),
		Tracks:   repository.NewGormTrackRepository(gdb),
	}
	app.Manager = download.NewManager(download.Deps{
		Releases:  app.Releases,
		Tracks:    app.Tracks,
		Downloads: repository.NewGormDownloadRepository(gdb),
		Store:     store,
		Encoder:   audio.NewFFmpegEncoder(cfg.FFmpegPath),
		Guard:     cache.NewInflightGuard(redisClient, 0),
	}, download.Options{
		ScratchDir:       cfg.ScratchDir,
		TTL:              cfg.DownloadTTL,
		StuckAfter:       cfg.StuckAfter,
		TranscodeWorkers: cfg.TranscodeWorkers,
	})
	app.Ingest = ingest.NewService(app.Tracks, store, audio.NewFFprobeInspector(cfg.FFprobePath), cfg.ScratchDir)
	return app, nil
}

// Close 释放数据库和 Redis 连接
func (a *App) Close() {
	if err := db.CloseRedis(); err != nil {
		logger.Warn("failed to close Redis", logger.ErrorField(err))
	}
	if err := db.CloseGormDB(); err != nil {
		logger.Warn("failed to close database", logger.ErrorField(err))
	}
}
