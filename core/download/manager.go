// Package download owns the lifecycle of generated release downloads:
// request, background packaging, expiry and retrieval.
package download

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"ReleaseKit/cache"
	"ReleaseKit/core/archive"
	"ReleaseKit/core/audio"
	"ReleaseKit/core/utils"
	"ReleaseKit/logger"
	"ReleaseKit/model"
	"ReleaseKit/repository"
	"ReleaseKit/storage"
)

const (
	// DefaultTTL 产物可下载时长
	DefaultTTL        = 24 * time.Hour
	DefaultStuckAfter = time.Hour

	sweepBatchSize  = 500
	guardWait       = 2 * time.Second
	artifactsPrefix = "downloads/"
)

// Options tunes the manager. Zero values fall back to defaults.
type Options struct {
	ScratchDir       string
	TTL              time.Duration
	StuckAfter       time.Duration
	TranscodeWorkers int
	Now              func() time.Time
}

// Deps groups the collaborators of a Manager.
type Deps struct {
	Releases  repository.ReleaseRepository
	Tracks    repository.TrackRepository
	Downloads repository.DownloadRepository
	Store     storage.Store
	Encoder   audio.Encoder
	Guard     *cache.InflightGuard
}

// Manager 下载生命周期管理，是下载记录状态字段的唯一写入者
type Manager struct {
	releases  repository.ReleaseRepository
	tracks    repository.TrackRepository
	downloads repository.DownloadRepository
	store     storage.Store
	encoder   audio.Encoder
	guard     *cache.InflightGuard
	queue     Queue
	opts      Options
}

// NewManager creates a Manager. A queue must be attached with SetQueue before
// RequestDownload is used.
func NewManager(deps Deps, opts Options) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.StuckAfter <= 0 {
		opts.StuckAfter = DefaultStuckAfter
	}
	if opts.TranscodeWorkers <= 0 {
		opts.TranscodeWorkers = 1
	}
	if opts.ScratchDir == "" {
		opts.ScratchDir = filepath.Join(".", "scratch")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		releases:  deps.Releases,
		tracks:    deps.Tracks,
		downloads: deps.Downloads,
		store:     deps.Store,
		encoder:   deps.Encoder,
		guard:     deps.Guard,
		opts:      opts,
	}
}

// SetQueue attaches the background queue.
func (m *Manager) SetQueue(q Queue) {
	m.queue = q
}

func (m *Manager) now() time.Time {
	return m.opts.Now().UTC()
}

// RequestDownload returns an existing READY unexpired record for the same
// (release, user, format) without enqueueing anything. A PENDING or PROCESSING
// record younger than StuckAfter is returned the same way. Otherwise a new
// PENDING record is created and enqueued; created reports that case.
func (m *Manager) RequestDownload(ctx context.Context, releaseID int64, user *model.User, format model.DownloadFormat) (*model.GeneratedDownload, bool, error) {
	if user == nil {
		return nil, false, ErrForbidden
	}
	release, err := m.releases.GetByID(ctx, releaseID)
	if err != nil {
		return nil, false, err
	}
	// 未发布的发行对无权用户表现为不存在
	if release == nil || !release.CanBeAccessedBy(user, m.now()) {
		return nil, false, ErrNotFound
	}

	if d, err := m.findReusable(ctx, releaseID, user.ID, format); err != nil || d != nil {
		return d, false, err
	}

	key := cache.InflightKey(releaseID, user.ID, string(format))
	unlock, ok := m.guard.Acquire(ctx, key)
	if !ok {
		// 另一个请求正在创建，等它完成后再查一次
		m.guard.Wait(ctx, key, guardWait)
		if d, err := m.findReusable(ctx, releaseID, user.ID, format); err != nil || d != nil {
			return d, false, err
		}
	} else {
		defer unlock()
		if d, err := m.findReusable(ctx, releaseID, user.ID, format); err != nil || d != nil {
			return d, false, err
		}
	}

	d := model.NewGeneratedDownload(releaseID, user.ID, format)
	now := m.now()
	d.CreatedAt = now
	d.UpdatedAt = now
	if err := m.downloads.Create(ctx, d); err != nil {
		return nil, false, err
	}
	logger.Info("download requested",
		logger.String("downloadId", d.PublicID),
		logger.Int64("releaseId", releaseID),
		logger.Int64("userId", user.ID),
		logger.String("format", string(format)))

	if err := m.enqueue(ctx, d.ID); err != nil {
		m.fail(d.ID, model.DownloadPending, "enqueue failed: "+err.Error())
		return nil, false, fmt.Errorf("failed to enqueue download %s: %w", d.PublicID, err)
	}
	return d, true, nil
}

func (m *Manager) enqueue(ctx context.Context, id int64) error {
	if m.queue == nil {
		return errors.New("no download queue configured")
	}
	return m.queue.Enqueue(ctx, id)
}

func (m *Manager) findReusable(ctx context.Context, releaseID, userID int64, format model.DownloadFormat) (*model.GeneratedDownload, error) {
	now := m.now()
	d, err := m.downloads.FindReady(ctx, releaseID, userID, format, now)
	if err != nil || d != nil {
		return d, err
	}
	return m.downloads.FindInFlight(ctx, releaseID, userID, format, now.Add(-m.opts.StuckAfter))
}

// RunJob packages one download. Records that are not PENDING are ignored.
// Failures and panics mark the record FAILED and are then propagated to the caller.
func (m *Manager) RunJob(ctx context.Context, downloadID int64) (err error) {
	d, err := m.downloads.GetByID(ctx, downloadID)
	if err != nil {
		return err
	}
	if d == nil {
		logger.Warn("download job for unknown record", logger.Int64("downloadId", downloadID))
		return nil
	}

	startedAt := m.now()
	claimed, err := m.downloads.MarkProcessing(ctx, downloadID, startedAt)
	if err != nil {
		return err
	}
	if !claimed {
		logger.Info("download is not pending, skipping job",
			logger.String("downloadId", d.PublicID),
			logger.String("status", string(d.Status)))
		return nil
	}
	d.Status = model.DownloadProcessing
	logger.Info("download processing",
		logger.String("downloadId", d.PublicID),
		logger.String("format", string(d.Format)))

	defer func() {
		if r := recover(); r != nil {
			m.fail(downloadID, model.DownloadProcessing, fmt.Sprintf("panic: %v", r))
			panic(r)
		}
	}()

	key, size, err := m.build(ctx, d, startedAt)
	if err != nil {
		m.fail(downloadID, model.DownloadProcessing, err.Error())
		return fmt.Errorf("download %s failed: %w", d.PublicID, err)
	}

	now := m.now()
	expiresAt := now.Add(m.opts.TTL)
	ok, err := m.downloads.MarkReady(ctx, downloadID, key, size, expiresAt, now)
	if err != nil {
		m.fail(downloadID, model.DownloadProcessing, err.Error())
		return err
	}
	if !ok {
		return fmt.Errorf("download %s left PROCESSING while the job was running", d.PublicID)
	}
	logger.Info("download ready",
		logger.String("downloadId", d.PublicID),
		logger.String("artifact", key),
		logger.Int64("size", size),
		logger.Time("expiresAt", expiresAt))
	return nil
}

// fail 记录失败原因，使用独立 context 以免任务 context 已取消
func (m *Manager) fail(downloadID int64, from model.DownloadStatus, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ok, err := m.downloads.MarkFailed(ctx, downloadID, from, reason, m.now())
	if err != nil {
		logger.Error("failed to record download failure",
			logger.Int64("downloadId", downloadID),
			logger.ErrorField(err))
		return
	}
	if ok {
		logger.Info("download failed",
			logger.Int64("downloadId", downloadID),
			logger.String("reason", model.TruncateFailureReason(reason)))
	}
}

// build runs the pipeline in an exclusive scratch directory and uploads the archive.
func (m *Manager) build(ctx context.Context, d *model.GeneratedDownload, startedAt time.Time) (string, int64, error) {
	release, err := m.releases.GetWithTracks(ctx, d.ReleaseID)
	if err != nil {
		return "", 0, err
	}
	if release == nil {
		return "", 0, fmt.Errorf("release %d no longer exists", d.ReleaseID)
	}

	scratch, cleanup, err := utils.MakeScratchDir(m.opts.ScratchDir, "download-"+d.PublicID+"-*")
	if err != nil {
		return "", 0, err
	}
	defer cleanup()

	entries, err := m.processTracks(ctx, release.Tracks, d.Format, scratch)
	if err != nil {
		return "", 0, err
	}
	if len(entries) == 0 {
		return "", 0, ErrNoTracksProcessed
	}

	name := ArchiveName(release.Title, d.Format)
	res, err := archive.Build(ctx, entries, filepath.Join(scratch, "out", name), startedAt)
	if err != nil {
		return "", 0, err
	}

	key := artifactsPrefix + d.PublicID + "/" + name
	size, err := m.store.PutFile(ctx, key, res.Path, "application/zip")
	if err != nil {
		return "", 0, err
	}
	logger.Debug("archive uploaded",
		logger.String("downloadId", d.PublicID),
		logger.Strings("entries", res.Entries))
	return key, size, nil
}

// ArchiveName is the file name of the produced ZIP.
func ArchiveName(releaseTitle string, format model.DownloadFormat) string {
	return audio.SanitizeTitle(releaseTitle) + "-" + string(format) + ".zip"
}

// CheckExpiry flips a READY record past its expiry to EXPIRED. Returns true when
// the record is (now) expired.
func (m *Manager) CheckExpiry(ctx context.Context, d *model.GeneratedDownload) (bool, error) {
	if d.Status == model.DownloadExpired {
		return true, nil
	}
	now := m.now()
	if !d.IsExpiredAt(now) {
		return false, nil
	}
	if _, err := m.downloads.MarkExpired(ctx, d.ID, now); err != nil {
		return false, err
	}
	d.Status = model.DownloadExpired
	logger.Info("download expired", logger.String("downloadId", d.PublicID))
	return true, nil
}

// Get returns a record for its owner, applying lazy expiry.
func (m *Manager) Get(ctx context.Context, publicID string, userID int64) (*model.GeneratedDownload, error) {
	d, err := m.downloads.GetByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, ErrNotFound
	}
	if d.UserID != userID {
		return nil, ErrForbidden
	}
	if _, err := m.CheckExpiry(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// ExpireStale moves every READY record past its expiry to EXPIRED.
func (m *Manager) ExpireStale(ctx context.Context) (int, error) {
	total := 0
	for {
		now := m.now()
		batch, err := m.downloads.ListExpiredReady(ctx, now, sweepBatchSize)
		if err != nil {
			return total, err
		}
		moved := 0
		for _, d := range batch {
			ok, err := m.downloads.MarkExpired(ctx, d.ID, now)
			if err != nil {
				return total, err
			}
			if ok {
				moved++
			}
		}
		total += moved
		if len(batch) < sweepBatchSize || moved == 0 {
			return total, nil
		}
	}
}

// FindStuck reports PROCESSING records older than StuckAfter. It does not change them.
func (m *Manager) FindStuck(ctx context.Context) ([]model.GeneratedDownload, error) {
	stuck, err := m.downloads.ListStuck(ctx, m.now().Add(-m.opts.StuckAfter))
	if err != nil {
		return nil, err
	}
	for _, d := range stuck {
		logger.Warn("download stuck in PROCESSING",
			logger.String("downloadId", d.PublicID),
			logger.Any("startedAt", d.StartedAt))
	}
	return stuck, nil
}

// PurgeExpiredArtifacts deletes stored archives of EXPIRED and FAILED records.
func (m *Manager) PurgeExpiredArtifacts(ctx context.Context) (int, error) {
	batch, err := m.downloads.ListPurgeable(ctx, sweepBatchSize)
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, d := range batch {
		if !strings.HasPrefix(d.ArtifactKey, artifactsPrefix) {
			logger.Warn("refusing to purge artifact outside downloads prefix",
				logger.String("downloadId", d.PublicID),
				logger.String("artifact", d.ArtifactKey))
			continue
		}
		if err := m.store.Delete(ctx, d.ArtifactKey); err != nil {
			return purged, err
		}
		if err := m.downloads.ClearArtifact(ctx, d.ID, m.now()); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}

// ResumePending re-enqueues PENDING records, e.g. after a restart.
func (m *Manager) ResumePending(ctx context.Context) (int, error) {
	pending, err := m.downloads.ListPending(ctx, sweepBatchSize)
	if err != nil {
		return 0, err
	}
	for i, d := range pending {
		if err := m.enqueue(ctx, d.ID); err != nil {
			return i, fmt.Errorf("failed to resume download %s: %w", d.PublicID, err)
		}
	}
	if len(pending) > 0 {
		logger.Info("resumed pending downloads", logger.Int("count", len(pending)))
	}
	return len(pending), nil
}

// SweepReport summarizes one housekeeping run.
type SweepReport struct {
	Expired int
	Stuck   int
	Purged  int
}

// Sweep runs ExpireStale, FindStuck and, when purge is set, PurgeExpiredArtifacts.
func (m *Manager) Sweep(ctx context.Context, purge bool) (SweepReport, error) {
	var report SweepReport
	var err error

	if report.Expired, err = m.ExpireStale(ctx); err != nil {
		return report, fmt.Errorf("expire stale downloads: %w", err)
	}
	stuck, err := m.FindStuck(ctx)
	if err != nil {
		return report, fmt.Errorf("find stuck downloads: %w", err)
	}
	report.Stuck = len(stuck)
	if purge {
		if report.Purged, err = m.PurgeExpiredArtifacts(ctx); err != nil {
			return report, fmt.Errorf("purge artifacts: %w", err)
		}
	}
	return report, nil
}
