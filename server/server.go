package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ReleaseKit/config"
	"ReleaseKit/core/auth"
	"ReleaseKit/core/download"
	"ReleaseKit/logger"

	"github.com/gorilla/mux"
)

// NewRouter registers every API route on a gorilla/mux router.
func NewRouter(h *APIHandler) *mux.Router {
	router := mux.NewRouter()

	// 添加 CORS 中间件
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS, HEAD")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Range")
			w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Content-Disposition")
			w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	router.HandleFunc("/healthz", h.HealthHandler).Methods(http.MethodGet)

	// 下载相关的API端点
	router.HandleFunc("/api/releases/{id}/downloads", h.AuthMiddleware(h.RequestDownloadHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/downloads/{id}", h.AuthMiddleware(h.GetDownloadHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/downloads/{id}/file", h.DownloadFileHandler).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/api/downloads/{id}/ws", h.AuthMiddleware(h.DownloadStatusWSHandler)).Methods(http.MethodGet)

	// 曲目相关的API端点
	router.HandleFunc("/api/tracks/{id}/audio", h.OptionalAuthMiddleware(h.TrackAudioHandler)).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/api/tracks/{id}/inspect", h.AuthMiddleware(h.InspectTrackHandler)).Methods(http.MethodPost)

	// 预检请求需要一条能匹配的路由，中间件才会执行
	router.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return router
}

// Start initializes and starts the HTTP server together with the download
// workers and the sweeper, and blocks until SIGINT or SIGTERM.
func Start(cfg *config.Config) error {
	ctx := context.Background()

	signer, err := auth.NewSigner(cfg.JWTSecret)
	if err != nil {
		return fmt.Errorf("JWT_SECRET must be set: %w", err)
	}

	app, err := Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	pool := download.NewPool(cfg.WorkerCount, cfg.QueueSize, app.Manager.RunJob)
	app.Manager.SetQueue(pool)
	pool.Start()
	defer pool.Stop()

	// 重启前未处理的任务重新入队
	if n, err := app.Manager.ResumePending(ctx); err != nil {
		logger.Error("failed to resume pending downloads", logger.Int("resumed", n), logger.ErrorField(err))
	}

	sweeper, err := download.NewSweeper(app.Manager, cfg.SweepSchedule, cfg.PurgeOnSweep)
	if err != nil {
		return err
	}
	sweeper.Start()
	defer sweeper.Stop()

	apiHandler := NewAPIHandler(app.Manager, app.Ingest, app.Users, app.Tracks, signer, cfg)

	// 设置服务器超时；归档文件可能很大，写超时放宽
	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      NewRouter(apiHandler),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// 创建一个通道来接收操作系统信号
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", logger.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// 等待中断信号
	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	}
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 优雅关闭服务器
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server stopped")
	return nil
}
