package repository

import (
	"context"
	"testing"

	"ReleaseKit/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

func TestReleaseRepo_GetWithTracksOrdersTracks(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	releases := NewGormReleaseRepository(db)
	tracks := NewGormTrackRepository(db)

	owner := &model.User{Username: "artist"}
	require.NoError(t, NewGormUserRepository(db).Create(ctx, owner))
	artist := model.Artist{UserID: owner.ID, Name: "Band"}
	require.NoError(t, db.Create(&artist).Error)

	release := &model.Release{
		ArtistID:  artist.ID,
		Title:     "Ordered",
		Published: true,
		Tracks: []model.Track{
			{Title: "Three", TrackNumber: intPtr(3), AudioFile: "t/3.mp3"},
			{Title: "Bonus", AudioFile: "t/b.mp3"},
			{Title: "One", TrackNumber: intPtr(1), AudioFile: "t/1.mp3"},
			{Title: "Two", TrackNumber: intPtr(2), AudioFile: "t/2.mp3"},
		},
	}
	require.NoError(t, releases.Create(ctx, release))

	got, err := releases.GetWithTracks(ctx, release.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Band", got.Artist.Name)
	titles := make([]string, 0, len(got.Tracks))
	for _, tr := range got.Tracks {
		titles = append(titles, tr.Title)
	}
	assert.Equal(t, []string{"One", "Two", "Three", "Bonus"}, titles)

	listed, err := tracks.ListByRelease(ctx, release.ID)
	require.NoError(t, err)
	require.Len(t, listed, 4)
	assert.Equal(t, "One", listed[0].Title)

	assert.True(t, got.IsManagedBy(owner))
	assert.False(t, got.IsManagedBy(&model.User{ID: owner.ID + 1}))

	missing, err := releases.GetByID(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestTrackRepo_SaveAudioInfo(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := NewGormTrackRepository(db)

	track := model.Track{ReleaseID: 1, Title: "Song", AudioFile: "t/s.flac"}
	require.NoError(t, db.Create(&track).Error)

	codec := "flac"
	dur := 215
	track.CodecName = &codec
	track.DurationSeconds = &dur
	track.IsLossless = true
	track.AudioFingerprint = "abc"
	track.Title = "not saved"
	require.NoError(t, repo.SaveAudioInfo(ctx, &track))

	got, err := repo.GetByID(ctx, track.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Song", got.Title, "only inspection columns are written")
	assert.Equal(t, "flac", got.Codec())
	assert.True(t, got.HasAudioInfo())
	assert.True(t, got.IsLossless)
	assert.Equal(t, "abc", got.AudioFingerprint)
}
