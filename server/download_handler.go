package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"ReleaseKit/logger"
	"ReleaseKit/model"

	"github.com/gorilla/mux"
)

// downloadStatusResponse 下载记录对外的状态视图
type downloadStatusResponse struct {
	ID              string     `json:"id"`
	ReleaseID       int64      `json:"release_id"`
	RequestedFormat string     `json:"requested_format"`
	Status          string     `json:"status"`
	DownloadURL     string     `json:"download_url,omitempty"`
	FailureReason   string     `json:"failure_reason,omitempty"`
	ArtifactSize    int64      `json:"artifact_size,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
}

type requestDownloadBody struct {
	Format string `json:"format"`
}

// statusResponse builds the status view. Callers pass records that already went
// through lazy expiry, so a READY record here is unexpired.
func (h *APIHandler) statusResponse(d *model.GeneratedDownload) (downloadStatusResponse, error) {
	resp := downloadStatusResponse{
		ID:              d.PublicID,
		ReleaseID:       d.ReleaseID,
		RequestedFormat: string(d.Format),
		Status:          string(d.Status),
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
		StartedAt:       d.StartedAt,
	}
	switch d.Status {
	case model.DownloadReady:
		resp.ExpiresAt = d.ExpiresAt
		resp.ArtifactSize = d.ArtifactSize
		if d.ArtifactKey != "" && d.ExpiresAt != nil {
			link, err := h.downloadURL(d)
			if err != nil {
				return resp, err
			}
			resp.DownloadURL = link
		}
	case model.DownloadFailed:
		resp.FailureReason = d.FailureReason
	case model.DownloadExpired:
		resp.ExpiresAt = d.ExpiresAt
	}
	return resp, nil
}

// downloadURL 生成带签名令牌的下载链接，令牌与产物同时过期
func (h *APIHandler) downloadURL(d *model.GeneratedDownload) (string, error) {
	token, err := h.signer.SignDownload(d.PublicID, d.UserID, *d.ExpiresAt)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/api/downloads/%s/file?token=%s",
		h.cfg.PublicBaseURL, url.PathEscape(d.PublicID), url.QueryEscape(token)), nil
}

// RequestDownloadHandler POST /api/releases/{id}/downloads
// 202 for a new or in-flight record, 200 when a READY archive is reused.
func (h *APIHandler) RequestDownloadHandler(w http.ResponseWriter, r *http.Request) {
	releaseID, ok := idVar(r, "id")
	if !ok {
		writeErrorMessage(w, http.StatusBadRequest, "Invalid release ID")
		return
	}

	var body requestDownloadBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	format, err := model.ParseDownloadFormat(body.Format)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	d, created, err := h.downloads.RequestDownload(r.Context(), releaseID, user, format)
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusAccepted
	if !created && d.Status == model.DownloadReady {
		status = http.StatusOK
	}
	resp, err := h.statusResponse(d)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status, resp)
}

// GetDownloadHandler GET /api/downloads/{id}
func (h *APIHandler) GetDownloadHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeErrorMessage(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	d, err := h.downloads.Get(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := h.statusResponse(d)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// DownloadFileHandler GET /api/downloads/{id}/file
//
// Accepts either a session token or the signed token embedded in download_url.
// Range requests are answered with 206 by http.ServeContent.
func (h *APIHandler) DownloadFileHandler(w http.ResponseWriter, r *http.Request) {
	publicID := mux.Vars(r)["id"]

	var userID int64
	if token := r.URL.Query().Get("token"); token != "" {
		// 过期与否交给 OpenArchive 判定，记录会被标记为 EXPIRED
		id, err := h.signer.VerifyDownload(token, publicID)
		if err != nil {
			writeErrorMessage(w, http.StatusUnauthorized, "Invalid download token")
			return
		}
		userID = id
	} else {
		ctx, present, err := h.authenticate(r)
		if !present {
			writeErrorMessage(w, http.StatusUnauthorized, "Authorization header is required")
			return
		}
		if err != nil {
			writeErrorMessage(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		userID, _ = GetUserIDFromContext(ctx)
	}

	artifact, _, err := h.downloads.OpenArchive(r.Context(), publicID, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer artifact.Close()

	logger.Info("serving download",
		logger.String("downloadId", publicID),
		logger.Int64("userId", userID),
		logger.String("range", r.Header.Get("Range")))

	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifact.Name))
	w.Header().Set("Cache-Control", "private, no-store")
	http.ServeContent(w, r, artifact.Name, artifact.ModTime, artifact)
}
