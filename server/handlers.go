package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"ReleaseKit/config"
	"ReleaseKit/core/auth"
	"ReleaseKit/core/download"
	"ReleaseKit/core/ingest"
	"ReleaseKit/logger"
	"ReleaseKit/model"
	"ReleaseKit/repository"

	"github.com/gorilla/mux"
)

// APIHandler 处理所有API请求
type APIHandler struct {
	downloads *download.Manager
	ingest    *ingest.Service
	userRepo  repository.UserRepository
	trackRepo repository.TrackRepository
	signer    *auth.Signer
	cfg       *config.Config

	// statusPollInterval 是 websocket 推送状态的轮询间隔
	statusPollInterval time.Duration
}

// NewAPIHandler 创建新的API处理器
func NewAPIHandler(
	downloads *download.Manager,
	ingestService *ingest.Service,
	userRepo repository.UserRepository,
	trackRepo repository.TrackRepository,
	signer *auth.Signer,
	cfg *config.Config,
) *APIHandler {
	return &APIHandler{
		downloads:          downloads,
		ingest:             ingestService,
		userRepo:           userRepo,
		trackRepo:          trackRepo,
		signer:             signer,
		cfg:                cfg,
		statusPollInterval: time.Second,
	}
}

type errorResponse struct {
	Error         string `json:"error"`
	Status        string `json:"status,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response", logger.ErrorField(err))
	}
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeError maps domain errors onto status codes:
// NotFound 404, Forbidden 403, NotReady 404, Gone 410, everything else 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var notReady *download.NotReadyError
	switch {
	case errors.As(err, &notReady):
		resp := errorResponse{Error: "download not ready", Status: string(notReady.Status)}
		if notReady.Status == model.DownloadFailed {
			resp.FailureReason = notReady.Reason
		}
		writeJSON(w, http.StatusNotFound, resp)
	case errors.Is(err, download.ErrNotFound), errors.Is(err, ingest.ErrTrackNotFound):
		writeErrorMessage(w, http.StatusNotFound, "not found")
	case errors.Is(err, download.ErrForbidden):
		writeErrorMessage(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, download.ErrGone):
		writeErrorMessage(w, http.StatusGone, "download expired")
	default:
		logger.Error("request failed",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.ErrorField(err))
		writeErrorMessage(w, http.StatusInternalServerError, "internal server error")
	}
}

// idVar 解析路由中的数字ID
func idVar(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// HealthHandler 健康检查
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
