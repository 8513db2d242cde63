package server

import (
	"net/http"
	"time"

	"ReleaseKit/logger"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteWait = 10 * time.Second

// DownloadStatusWSHandler GET /api/downloads/{id}/ws
//
// Pushes the status record whenever it changes and closes once the record is
// READY, FAILED or EXPIRED.
func (h *APIHandler) DownloadStatusWSHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeErrorMessage(w, http.StatusUnauthorized, "User not authenticated")
		return
	}
	publicID := mux.Vars(r)["id"]

	// 升级前先校验，错误仍按 HTTP 状态码返回
	d, err := h.downloads.Get(r.Context(), publicID, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", logger.ErrorField(err))
		return
	}
	defer conn.Close()

	// 读协程只用于感知客户端断开
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.statusPollInterval)
	defer ticker.Stop()

	lastStatus := ""
	lastUpdate := time.Time{}
	for {
		if string(d.Status) != lastStatus || !d.UpdatedAt.Equal(lastUpdate) {
			resp, err := h.statusResponse(d)
			if err != nil {
				logger.Error("failed to build download status", logger.ErrorField(err))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(resp); err != nil {
				logger.Warn("websocket write", logger.ErrorField(err))
				return
			}
			lastStatus, lastUpdate = string(d.Status), d.UpdatedAt
		}
		if d.Status.IsTerminal() {
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(d.Status)))
			return
		}

		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		d, err = h.downloads.Get(r.Context(), publicID, userID)
		if err != nil {
			logger.Warn("download status poll failed",
				logger.String("downloadId", publicID),
				logger.ErrorField(err))
			return
		}
	}
}
