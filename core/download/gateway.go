package download

import (
	"context"
	"errors"
	"path"
	"time"

	"ReleaseKit/core/audio"
	"ReleaseKit/logger"
	"ReleaseKit/model"
	"ReleaseKit/storage"
)

// Artifact is an opened file ready to be streamed. It supports seeking so HTTP
// range requests can be served from it.
type Artifact struct {
	*storage.Object
	Name        string
	ContentType string
	Size        int64
	ModTime     time.Time
}

// OpenArchive returns the archive of a READY download for its owner.
//
// Checks run in order: unknown id, wrong owner, expired (flipped to EXPIRED),
// not READY, and finally a missing storage object, which marks the record
// FAILED with "artifact missing" and reports ErrNotFound.
func (m *Manager) OpenArchive(ctx context.Context, publicID string, userID int64) (*Artifact, *model.GeneratedDownload, error) {
	d, err := m.Get(ctx, publicID, userID)
	if err != nil {
		return nil, nil, err
	}
	if d.Status == model.DownloadExpired {
		return nil, d, ErrGone
	}
	if d.Status != model.DownloadReady {
		return nil, d, &NotReadyError{Status: d.Status, Reason: d.FailureReason}
	}

	obj, err := m.openArtifact(ctx, d)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			logger.Warn("artifact missing from storage",
				logger.String("downloadId", d.PublicID),
				logger.String("artifact", d.ArtifactKey))
			m.fail(d.ID, model.DownloadReady, "artifact missing")
			return nil, d, ErrNotFound
		}
		return nil, d, err
	}

	return &Artifact{
		Object:      obj,
		Name:        path.Base(d.ArtifactKey),
		ContentType: "application/zip",
		Size:        obj.Info.Size,
		ModTime:     obj.Info.LastModified,
	}, d, nil
}

func (m *Manager) openArtifact(ctx context.Context, d *model.GeneratedDownload) (*storage.Object, error) {
	if d.ArtifactKey == "" {
		return nil, storage.ErrObjectNotFound
	}
	return m.store.Open(ctx, d.ArtifactKey)
}

// OpenTrackAudio streams a track's original upload. The release must be visible
// or managed by user; user may be nil for anonymous requests.
func (m *Manager) OpenTrackAudio(ctx context.Context, trackID int64, user *model.User) (*Artifact, error) {
	track, err := m.tracks.GetByID(ctx, trackID)
	if err != nil {
		return nil, err
	}
	if track == nil {
		return nil, ErrNotFound
	}
	release, err := m.releases.GetByID(ctx, track.ReleaseID)
	if err != nil {
		return nil, err
	}
	if release == nil {
		return nil, ErrNotFound
	}
	if !release.CanBeAccessedBy(user, m.now()) {
		return nil, ErrForbidden
	}
	if track.AudioFile == "" {
		return nil, ErrNotFound
	}

	obj, err := m.store.Open(ctx, track.AudioFile)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	ext := path.Ext(track.AudioFile)
	return &Artifact{
		Object:      obj,
		Name:        audio.EntryName(track, ext),
		ContentType: storage.ContentTypeFor(track.AudioFile),
		Size:        obj.Info.Size,
		ModTime:     obj.Info.LastModified,
	}, nil
}

// ReleaseManagedBy reports whether user may manage the release a track belongs to.
func (m *Manager) ReleaseManagedBy(ctx context.Context, trackID int64, user *model.User) (bool, error) {
	track, err := m.tracks.GetByID(ctx, trackID)
	if err != nil {
		return false, err
	}
	if track == nil {
		return false, ErrNotFound
	}
	release, err := m.releases.GetByID(ctx, track.ReleaseID)
	if err != nil {
		return false, err
	}
	if release == nil {
		return false, ErrNotFound
	}
	return release.IsManagedBy(user), nil
}
