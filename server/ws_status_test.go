package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ReleaseKit/model"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialStatus(t *testing.T, srv *httptest.Server, publicID, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/downloads/" + publicID + "/ws?access_token=" + token
	return websocket.DefaultDialer.Dial(wsURL, nil)
}

func TestDownloadStatusWS_PushesUntilReady(t *testing.T) {
	env := newTestEnv(t)
	release := env.demoEP(true)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	rec := env.requestDownload(env.fan, release.ID, "FLAC")
	require.Equal(t, http.StatusAccepted, rec.Code)
	created := decodeStatus(t, rec.Body.Bytes())

	conn, _, err := dialStatus(t, srv, created.ID, env.token(env.fan))
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first downloadStatusResponse
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, created.ID, first.ID)
	assert.Equal(t, string(model.DownloadPending), first.Status)

	env.runQueued()

	var last downloadStatusResponse
	for last.Status != string(model.DownloadReady) {
		require.NoError(t, conn.ReadJSON(&last))
	}
	assert.NotEmpty(t, last.DownloadURL)

	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
}

func TestDownloadStatusWS_RejectsOtherUser(t *testing.T) {
	env := newTestEnv(t)
	release := env.demoEP(true)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	rec := env.requestDownload(env.fan, release.ID, "FLAC")
	require.Equal(t, http.StatusAccepted, rec.Code)
	created := decodeStatus(t, rec.Body.Bytes())

	_, resp, err := dialStatus(t, srv, created.ID, env.token(env.owner))
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = dialStatus(t, srv, created.ID, "")
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
