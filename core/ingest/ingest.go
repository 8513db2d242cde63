// Package ingest fingerprints uploaded track payloads and stores their audio
// metadata once per distinct payload.
package ingest

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"ReleaseKit/core/audio"
	"ReleaseKit/core/utils"
	"ReleaseKit/logger"
	"ReleaseKit/model"
	"ReleaseKit/repository"
	"ReleaseKit/storage"

	"golang.org/x/crypto/blake2b"
)

// ErrTrackNotFound is returned for unknown track ids.
var ErrTrackNotFound = errors.New("track not found")

// Fingerprint returns the hex BLAKE2b-256 digest of a file.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Service 曲目入库检测
type Service struct {
	tracks     repository.TrackRepository
	store      storage.Store
	inspector  audio.Inspector
	scratchDir string
}

// NewService creates a new ingest Service.
func NewService(tracks repository.TrackRepository, store storage.Store, inspector audio.Inspector, scratchDir string) *Service {
	return &Service{
		tracks:     tracks,
		store:      store,
		inspector:  inspector,
		scratchDir: scratchDir,
	}
}

// IngestTrack inspects a track's payload when its fingerprint changed or its audio
// info is missing. force re-inspects unconditionally. Returns whether inspection ran.
func (s *Service) IngestTrack(ctx context.Context, trackID int64, force bool) (bool, error) {
	track, err := s.tracks.GetByID(ctx, trackID)
	if err != nil {
		return false, err
	}
	if track == nil {
		return false, ErrTrackNotFound
	}
	return s.ingest(ctx, track, force)
}

// IngestRelease ingests every track of a release and returns how many were inspected.
// A failing track is logged and does not stop the others.
func (s *Service) IngestRelease(ctx context.Context, releaseID int64, force bool) (int, error) {
	tracks, err := s.tracks.ListByRelease(ctx, releaseID)
	if err != nil {
		return 0, err
	}
	inspected := 0
	for i := range tracks {
		ran, err := s.ingest(ctx, &tracks[i], force)
		if err != nil {
			logger.Error("track ingest failed",
				logger.Int64("releaseId", releaseID),
				logger.Int64("trackId", tracks[i].ID),
				logger.ErrorField(err))
			continue
		}
		if ran {
			inspected++
		}
	}
	return inspected, nil
}

func (s *Service) ingest(ctx context.Context, track *model.Track, force bool) (bool, error) {
	dir, cleanup, err := utils.MakeScratchDir(s.scratchDir, fmt.Sprintf("ingest-%d-*", track.ID))
	if err != nil {
		return false, err
	}
	defer cleanup()

	local := filepath.Join(dir, "payload"+filepath.Ext(track.AudioFile))
	if err := s.store.Fetch(ctx, track.AudioFile, local); err != nil {
		return false, fmt.Errorf("failed to fetch audio of %s: %w", track, err)
	}

	sum, err := Fingerprint(local)
	if err != nil {
		return false, err
	}
	if !force && sum == track.AudioFingerprint && track.HasAudioInfo() {
		logger.Debug("track payload unchanged, skipping inspection",
			logger.Int64("trackId", track.ID))
		return false, nil
	}

	info := s.inspector.Inspect(ctx, local)
	if info.Empty() {
		logger.Warn("audio inspection returned nothing",
			logger.Int64("trackId", track.ID),
			logger.String("audioFile", track.AudioFile))
	}
	ApplyAudioInfo(track, info)
	track.AudioFingerprint = sum

	if err := s.tracks.SaveAudioInfo(ctx, track); err != nil {
		return false, err
	}
	logger.Info("track inspected",
		logger.Int64("trackId", track.ID),
		logger.String("codec", track.Codec()),
		logger.Bool("lossless", track.IsLossless))
	return true, nil
}

// InspectFile probes a local file without touching the database.
func (s *Service) InspectFile(ctx context.Context, path string) (audio.AudioInfo, string, error) {
	sum, err := Fingerprint(path)
	if err != nil {
		return audio.AudioInfo{}, "", err
	}
	return s.inspector.Inspect(ctx, path), sum, nil
}

// ApplyAudioInfo copies inspection results onto a track.
func ApplyAudioInfo(track *model.Track, info audio.AudioInfo) {
	track.DurationSeconds = info.DurationSeconds
	track.CodecName = info.CodecName
	track.BitRate = info.BitRate
	track.SampleRate = info.SampleRate
	track.Channels = info.Channels
	track.IsLossless = info.IsLossless
}
