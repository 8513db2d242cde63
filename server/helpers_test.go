package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"ReleaseKit/cache"
	"ReleaseKit/config"
	"ReleaseKit/core/audio"
	"ReleaseKit/core/auth"
	"ReleaseKit/core/download"
	"ReleaseKit/core/ingest"
	"ReleaseKit/model"
	"ReleaseKit/repository"
	"ReleaseKit/storage"

	"github.com/glebarez/sqlite"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type stubEncoder struct{}

func (stubEncoder) Encode(ctx context.Context, src, dst string, d audio.Decision) error {
	return os.WriteFile(dst, []byte(fmt.Sprintf("%s@%d", d.Codec, d.BitrateKbps)), 0o644)
}

type stubInspector struct{}

func (stubInspector) Inspect(ctx context.Context, path string) audio.AudioInfo {
	codec := "flac"
	dur, rate, ch := 180, 44100, 2
	return audio.AudioInfo{
		DurationSeconds: &dur,
		CodecName:       &codec,
		SampleRate:      &rate,
		Channels:        &ch,
		IsLossless:      true,
	}
}

// queuedIDs 只记录入队的下载，由测试显式执行任务
type queuedIDs struct {
	mu  sync.Mutex
	ids []int64
}

func (q *queuedIDs) Enqueue(ctx context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, id)
	return nil
}

func (q *queuedIDs) drain() []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := q.ids
	q.ids = nil
	return ids
}

type testEnv struct {
	t       *testing.T
	db      *gorm.DB
	store   *storage.LocalStore
	clock   *testClock
	queue   *queuedIDs
	manager *download.Manager
	signer  *auth.Signer
	handler *APIHandler
	router  *mux.Router
	fan     *model.User
	owner   *model.User
	artist  model.Artist
}

func newTestEnv(t *testing.T) *testEnv {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&model.User{}, &model.Artist{}, &model.Release{}, &model.Track{}, &model.GeneratedDownload{}))

	store, err := storage.NewLocalStore(filepath.Join(t.TempDir(), "objects"))
	require.NoError(t, err)
	signer, err := auth.NewSigner("test-secret")
	require.NoError(t, err)

	env := &testEnv{
		t:      t,
		db:     db,
		store:  store,
		clock:  &testClock{t: time.Now().UTC().Truncate(time.Second)},
		queue:  &queuedIDs{},
		signer: signer,
	}

	users := repository.NewGormUserRepository(db)
	tracks := repository.NewGormTrackRepository(db)
	scratch := filepath.Join(t.TempDir(), "scratch")
	env.manager = download.NewManager(download.Deps{
		Releases:  repository.NewGormReleaseRepository(db),
		Tracks:    tracks,
		Downloads: repository.NewGormDownloadRepository(db),
		Store:     store,
		Encoder:   stubEncoder{},
		Guard:     cache.NewInflightGuard(nil, 0),
	}, download.Options{
		ScratchDir: scratch,
		Now:        env.clock.Now,
	})
	env.manager.SetQueue(env.queue)

	cfg := &config.Config{PublicBaseURL: "https://dl.example.com"}
	ingestService := ingest.NewService(tracks, store, stubInspector{}, scratch)
	env.handler = NewAPIHandler(env.manager, ingestService, users, tracks, signer, cfg)
	env.handler.statusPollInterval = 10 * time.Millisecond
	env.router = NewRouter(env.handler)

	env.fan = &model.User{Username: "fan"}
	env.owner = &model.User{Username: "owner"}
	for _, u := range []*model.User{env.fan, env.owner} {
		require.NoError(t, users.Create(context.Background(), u))
	}
	env.artist = model.Artist{UserID: env.owner.ID, Name: "Demo Band"}
	require.NoError(t, db.Create(&env.artist).Error)
	return env
}

func (e *testEnv) token(u *model.User) string {
	e.t.Helper()
	token, err := e.signer.GenerateToken(u.ID, u.Username, time.Hour)
	require.NoError(e.t, err)
	return token
}

func (e *testEnv) upload(key, content string) {
	e.t.Helper()
	src := filepath.Join(e.t.TempDir(), "upload")
	require.NoError(e.t, os.WriteFile(src, []byte(content), 0o644))
	_, err := e.store.PutFile(context.Background(), key, src, "")
	require.NoError(e.t, err)
}

// demoEP 创建已发布的两曲 EP 并上传音频
func (e *testEnv) demoEP(published bool) *model.Release {
	e.t.Helper()
	one, two := 1, 2
	mp3, flac := "mp3", "flac"
	release := &model.Release{ArtistID: e.artist.ID, Title: "Demo EP", Published: published}
	release.Tracks = []model.Track{
		{Title: "Intro", TrackNumber: &one, AudioFile: "tracks/intro.mp3", CodecName: &mp3},
		{Title: "Outro", TrackNumber: &two, AudioFile: "tracks/outro.flac", CodecName: &flac, IsLossless: true},
	}
	e.upload("tracks/intro.mp3", "original:Intro")
	e.upload("tracks/outro.flac", "original:Outro")
	require.NoError(e.t, e.db.Create(release).Error)
	return release
}

// runQueued 同步执行所有已入队的任务
func (e *testEnv) runQueued() {
	e.t.Helper()
	for _, id := range e.queue.drain() {
		require.NoError(e.t, e.manager.RunJob(context.Background(), id))
	}
}

func (e *testEnv) do(method, target, token, body string, header http.Header) *httptest.ResponseRecorder {
	e.t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) requestDownload(u *model.User, releaseID int64, format string) *httptest.ResponseRecorder {
	e.t.Helper()
	return e.do(http.MethodPost, fmt.Sprintf("/api/releases/%d/downloads", releaseID), e.token(u),
		fmt.Sprintf(`{"format":%q}`, format), nil)
}
