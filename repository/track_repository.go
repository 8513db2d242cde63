package repository

import (
	"context"
	"errors"
	"fmt"

	"ReleaseKit/model"

	"gorm.io/gorm"
)

// TrackRepository defines the interface for track data operations.
// The packaging pipeline only reads tracks; ingest writes the inspection columns.
type TrackRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Track, error)
	ListByRelease(ctx context.Context, releaseID int64) ([]model.Track, error)
	// SaveAudioInfo persists fingerprint and inspection columns only.
	SaveAudioInfo(ctx context.Context, track *model.Track) error
}

type gormTrackRepository struct {
	db *gorm.DB
}

// NewGormTrackRepository creates a new TrackRepository backed by gorm.
func NewGormTrackRepository(db *gorm.DB) TrackRepository {
	return &gormTrackRepository{db: db}
}

// GetByID retrieves a track by its ID. Returns nil, nil if it does not exist.
func (r *gormTrackRepository) GetByID(ctx context.Context, id int64) (*model.Track, error) {
	var track model.Track
	err := r.db.WithContext(ctx).First(&track, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get track %d: %w", id, err)
	}
	return &track, nil
}

// ListByRelease returns the tracks of a release in canonical order.
func (r *gormTrackRepository) ListByRelease(ctx context.Context, releaseID int64) ([]model.Track, error) {
	var tracks []model.Track
	err := r.db.WithContext(ctx).
		Where("release_id = ?", releaseID).
		Order("id ASC").
		Find(&tracks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list tracks of release %d: %w", releaseID, err)
	}
	model.SortTracks(tracks)
	return tracks, nil
}

// SaveAudioInfo updates the inspection columns of a track.
func (r *gormTrackRepository) SaveAudioInfo(ctx context.Context, track *model.Track) error {
	err := r.db.WithContext(ctx).Model(&model.Track{ID: track.ID}).
		Select("AudioFingerprint", "DurationSeconds", "CodecName", "BitRate", "SampleRate", "Channels", "IsLossless").
		Updates(track).Error
	if err != nil {
		return fmt.Errorf("failed to save audio info for track %d: %w", track.ID, err)
	}
	return nil
}
