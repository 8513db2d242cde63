package download

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ReleaseKit/cache"
	"ReleaseKit/core/audio"
	"ReleaseKit/model"
	"ReleaseKit/repository"
	"ReleaseKit/storage"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var baseTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeEncoder writes the target codec name into dst.
type fakeEncoder struct {
	mu      sync.Mutex
	calls   []string
	failOn  map[string]bool // source base names that fail to decode
	panicOn map[string]bool
	delay   func(src string) time.Duration
}

func (e *fakeEncoder) Encode(ctx context.Context, src, dst string, d audio.Decision) error {
	base := filepath.Base(src)
	if e.delay != nil {
		time.Sleep(e.delay(src))
	}
	e.mu.Lock()
	e.calls = append(e.calls, base+"->"+d.Codec)
	fail, boom := e.failOn[base], e.panicOn[base]
	e.mu.Unlock()
	if boom {
		panic("encoder exploded")
	}
	if fail {
		return fmt.Errorf("invalid data found when processing input")
	}
	return os.WriteFile(dst, []byte(fmt.Sprintf("%s@%d", d.Codec, d.BitrateKbps)), 0o644)
}

func (e *fakeEncoder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

type recordingQueue struct {
	mu  sync.Mutex
	ids []int64
	err error
}

func (q *recordingQueue) Enqueue(ctx context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, id)
	return nil
}

func (q *recordingQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}

type fixture struct {
	t        *testing.T
	db       *gorm.DB
	store    *storage.LocalStore
	encoder  *fakeEncoder
	queue    *recordingQueue
	clock    *fakeClock
	manager  *Manager
	scratch  string
	fan      *model.User
	owner    *model.User
	staff    *model.User
	artist   model.Artist
	releases repository.ReleaseRepository
	repo     repository.DownloadRepository
}

func newFixture(t *testing.T, transcodeWorkers int) *fixture {
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

	f := &fixture{
		t:        t,
		db:       db,
		store:    store,
		encoder:  &fakeEncoder{failOn: map[string]bool{}, panicOn: map[string]bool{}},
		queue:    &recordingQueue{},
		clock:    &fakeClock{t: baseTime},
		scratch:  filepath.Join(t.TempDir(), "scratch"),
		releases: repository.NewGormReleaseRepository(db),
		repo:     repository.NewGormDownloadRepository(db),
	}

	f.manager = NewManager(Deps{
		Releases:  f.releases,
		Tracks:    repository.NewGormTrackRepository(db),
		Downloads: f.repo,
		Store:     store,
		Encoder:   f.encoder,
		Guard:     cache.NewInflightGuard(nil, 0),
	}, Options{
		ScratchDir:       f.scratch,
		TranscodeWorkers: transcodeWorkers,
		Now:              f.clock.Now,
	})
	f.manager.SetQueue(f.queue)

	users := repository.NewGormUserRepository(db)
	f.fan = &model.User{Username: "fan"}
	f.owner = &model.User{Username: "owner"}
	f.staff = &model.User{Username: "staff", IsStaff: true}
	for _, u := range []*model.User{f.fan, f.owner, f.staff} {
		require.NoError(t, users.Create(context.Background(), u))
	}
	f.artist = model.Artist{UserID: f.owner.ID, Name: "Demo Band"}
	require.NoError(t, db.Create(&f.artist).Error)
	return f
}

type trackSpec struct {
	title    string
	number   *int
	key      string
	codec    string
	lossless bool
	upload   bool
}

func num(n int) *int { return &n }

func (f *fixture) createRelease(title string, published bool, specs ...trackSpec) *model.Release {
	f.t.Helper()
	release := &model.Release{ArtistID: f.artist.ID, Title: title, Published: published}
	for _, s := range specs {
		tr := model.Track{Title: s.title, TrackNumber: s.number, AudioFile: s.key, IsLossless: s.lossless}
		if s.codec != "" {
			codec := s.codec
			tr.CodecName = &codec
		}
		release.Tracks = append(release.Tracks, tr)
		if s.upload {
			f.upload(s.key, "original:"+s.title)
		}
	}
	require.NoError(f.t, f.releases.Create(context.Background(), release))
	return release
}

func (f *fixture) upload(key, content string) {
	f.t.Helper()
	src := filepath.Join(f.t.TempDir(), "upload")
	require.NoError(f.t, os.WriteFile(src, []byte(content), 0o644))
	_, err := f.store.PutFile(context.Background(), key, src, "")
	require.NoError(f.t, err)
}

// demoEP 两首曲目：Intro (mp3) 与 Outro (flac)
func (f *fixture) demoEP() *model.Release {
	return f.createRelease("Demo EP", true,
		trackSpec{title: "Intro", number: num(1), key: "tracks/intro.mp3", codec: "mp3", upload: true},
		trackSpec{title: "Outro", number: num(2), key: "tracks/outro.flac", codec: "flac", lossless: true, upload: true},
	)
}

func (f *fixture) reload(publicID string) *model.GeneratedDownload {
	f.t.Helper()
	d, err := f.repo.GetByPublicID(context.Background(), publicID)
	require.NoError(f.t, err)
	require.NotNil(f.t, d)
	return d
}

func (f *fixture) artifactPath(d *model.GeneratedDownload) string {
	return filepath.Join(f.store.Root(), filepath.FromSlash(d.ArtifactKey))
}

func (f *fixture) scratchEntries() []os.DirEntry {
	entries, err := os.ReadDir(f.scratch)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(f.t, err)
	return entries
}
