package server

import (
	"fmt"
	"net/http"
	"strconv"

	"ReleaseKit/logger"
	"ReleaseKit/model"
)

// TrackAudioHandler GET /api/tracks/{id}/audio
// 未发布发行的曲目只对管理者开放
func (h *APIHandler) TrackAudioHandler(w http.ResponseWriter, r *http.Request) {
	trackID, ok := idVar(r, "id")
	if !ok {
		writeErrorMessage(w, http.StatusBadRequest, "Invalid track ID")
		return
	}

	user, err := h.currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	artifact, err := h.downloads.OpenTrackAudio(r.Context(), trackID, user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer artifact.Close()

	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", artifact.Name))
	w.Header().Set("Accept-Ranges", "bytes")
	http.ServeContent(w, r, artifact.Name, artifact.ModTime, artifact)
}

type inspectTrackResponse struct {
	TrackID   int64        `json:"track_id"`
	Inspected bool         `json:"inspected"`
	Track     *model.Track `json:"track,omitempty"`
}

// InspectTrackHandler POST /api/tracks/{id}/inspect[?force=true]
func (h *APIHandler) InspectTrackHandler(w http.ResponseWriter, r *http.Request) {
	trackID, ok := idVar(r, "id")
	if !ok {
		writeErrorMessage(w, http.StatusBadRequest, "Invalid track ID")
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	user, err := h.currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	managed, err := h.downloads.ReleaseManagedBy(r.Context(), trackID, user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !managed {
		writeErrorMessage(w, http.StatusForbidden, "forbidden")
		return
	}

	inspected, err := h.ingest.IngestTrack(r.Context(), trackID, force)
	if err != nil {
		writeError(w, r, err)
		return
	}
	track, err := h.trackRepo.GetByID(r.Context(), trackID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	logger.Info("track inspected via API",
		logger.Int64("trackId", trackID),
		logger.Bool("inspected", inspected),
		logger.Bool("force", force))
	writeJSON(w, http.StatusOK, inspectTrackResponse{TrackID: trackID, Inspected: inspected, Track: track})
}
