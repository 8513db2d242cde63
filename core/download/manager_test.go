package download

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"ReleaseKit/core/archive"
	"ReleaseKit/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDemoEP_MP3_192(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	release := f.demoEP()

	d, created, err := f.manager.RequestDownload(ctx, release.ID, f.fan, model.FormatMP3192)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.DownloadPending, d.Status)
	assert.Equal(t, 1, f.queue.count())

	require.NoError(t, f.manager.RunJob(ctx, d.ID))

	got := f.reload(d.PublicID)
	assert.Equal(t, model.DownloadReady, got.Status)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.Equal(baseTime.Add(24*time.Hour)))
	assert.Empty(t, got.FailureReason)
	assert.Equal(t, "downloads/"+d.PublicID+"/Demo EP-MP3_192.zip", got.ArtifactKey)

	names, err := archive.ListEntries(f.artifactPath(got))
	require.NoError(t, err)
	assert.Equal(t, []string{"01_Intro.mp3", "02_Outro.mp3"}, names)
	assert.Equal(t, 2, f.encoder.callCount(), "both tracks are re-encoded to mp3")
	assert.Empty(t, f.scratchEntries(), "scratch directory is removed after the job")
}

func TestDemoEP_FLAC(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	release := f.demoEP()

	d, _, err := f.manager.RequestDownload(ctx, release.ID, f.fan, model.FormatFLAC)
	require.NoError(t, err)
	require.NoError(t, f.manager.RunJob(ctx, d.ID))

	got := f.reload(d.PublicID)
	require.Equal(t, model.DownloadReady, got.Status)
	names, err := archive.ListEntries(f.artifactPath(got))
	require.NoError(t, err)
	assert.Equal(t, []string{"01_Intro.mp3", "02_Outro.flac"}, names)
	assert.Zero(t, f.encoder.callCount(), "lossy source and flac source are both passed through")
}

func TestRequestDownload_ReusesReadyWithoutEnqueue(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	release := f.demoEP()

	first, _, err := f.manager.RequestDownload(ctx, release.ID, f.fan, model.FormatMP3320)
	require.NoError(t, err)
	require.NoError(t, f.manager.RunJob(ctx, first.ID))
	require.Equal(t, 1, f.queue.count())

	f.clock.Advance(time.Hour)
	again, created, err := f.manager.RequestDownload(ctx, release.ID, f.fan, model.FormatMP3320)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.PublicID, again.PublicID)
	assert.Equal(t, model.DownloadReady, again.Status)
	assert.Equal(t, 1, f.queue.count(), "no second job is enqueued")

	other, created, err := f.manager.RequestDownload(ctx, release.ID, f.fan, model.FormatMP3192)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.PublicID, other.PublicID)
	assert.Equal(t, 2, f.queue.count())
}

func TestRequestDownload_ExpiredReadyIsNotReused(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	release := f.demoEP()

	first, _, err := f.manager.RequestDownload(ctx, release.ID, f.fan, model.FormatWAV)
	require.NoError(t, err)
	require.NoError(t, f.manager.RunJob(ctx, first.ID))

	f.clock.Advance(25 * time.Hour)
	again, created, err := f.manager.RequestDownload(ctx, release.ID, f.fan, model.FormatWAV)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.PublicID, again.PublicID)
}

func TestRequestDownload_ReusesInFlight(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	release := f.demoEP()

	first, created, err := f.manager.RequestDownload(ctx, release.ID, f.fan, model.FormatFLAC)
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := f.manager.RequestDownload(ctx, release.ID, f.fan, model.FormatFLAC)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.PublicID, second.PublicID)
	assert.Equal(t, model.DownloadPending, second.Status)
	assert.Equal(t, 1, f.queue.count())

	// 超过卡死阈值的记录不再复用
	f.clock.Advance(2 * time.Hour)
	third, created, err := f.manager.RequestDownload(ctx, release.ID, f.fan, model.FormatFLAC)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.PublicID, third.PublicID)
}

func TestRequestDownload_Visibility(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	draft := f.createRelease("Draft", false,
		trackSpec{title: "Demo", number: num(1), key: "tracks/demo.wav", codec: "wav", lossless: true, upload: true})

	_, _, err := f.manager.RequestDownload(ctx, draft.ID, f.fan, model.FormatWAV)
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = f.manager.RequestDownload(ctx, 424242, f.fan, model.FormatWAV)
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = f.manager.RequestDownload(ctx, draft.ID, nil, model.FormatWAV)
	assert.ErrorIs(t, err, ErrForbidden)

	_, created, err := f.manager.RequestDownload(ctx, draft.ID, f.owner, model.FormatWAV)
	require.NoError(t, err)
	assert.True(t, created)

	_, created, err = f.manager.RequestDownload(ctx, draft.ID, f.staff, model.FormatWAV)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestRequestDownload_EnqueueFailureMarksFailed(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	release := f.demoEP()
	f.queue.err = errors.New("queue full")

	_, _, err := f.manager.RequestDownload(ctx, release.ID, f.fan, model.FormatMP3192)
	require.Error(t, err)

	var downloads []model.GeneratedDownload
	require.NoError(t, f.db.Find(&downloads).Error)
	require.Len(t, downloads, 1)
	assert.Equal(t, model.DownloadFailed, downloads[0].Status)
	assert.Contains(t, downloads[0].FailureReason, "enqueue failed")
}

func TestRunJob_NoValidTracksFails(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	release := f.createRelease("Silent", true,
		trackSpec{title: "Ghost", number: num(1), key: "tracks/ghost.flac", codec: "flac", lossless: true},
		trackSpec{title: "Empty", number: num(2), key: ""},
	)

	d, _, err := f.manager.RequestDownload(ctx, release.ID, f.fan, model.FormatFLAC)
	require.NoError(t, err)

	err = f.manager.RunJob(ctx, d.ID)
	assert.ErrorIs(t, err, ErrNoTracksProcessed)

	got := f.reload(d.PublicID)
	assert.Equal(t, model.DownloadFailed, got.Status)
	assert.Contains(t, got.FailureReason, "no tracks processed")
	assert.Nil(t, got.ExpiresAt)
	assert.Empty(t, got.ArtifactKey)
	assert.Empty(t, f.scratchEntries())
}

func TestRunJob_ReleaseWithoutTracksFails(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	release := f.createRelease("Nothing", true)

	d, _, err := f.manager.RequestDownload(ctx, release.ID, f.fan, model.FormatOriginalZip)
	require.NoError(t, err)
	assert.ErrorIs(t, f.manager.RunJob(ctx, d.ID), ErrNoTracksProcessed)
	assert.Equal(t, model.DownloadFailed, f.reload(d.PublicID).Status)
}

func TestRunJob_SkipsFailingTrack(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	release := f.demoEP()
	f.encoder.failOn[fmt.Sprintf("%d.flac", release.Tracks[1].ID)] = true

	d, _, err := f.manager.RequestDownload(ctx, release.ID, f.fan, model.FormatMP3192)
	require.NoError(t, err)
	require.NoError(t, f.manager.RunJob(ctx, d.ID))

	got := f.reload(d.PublicID)
	require.Equal(t, model.DownloadReady, got.Status)
	names, err := archive.ListEntries(f.artifactPath(got))
	require.NoError(t, err)
	assert.Equal(t, []string{"01_Intro.mp3"}, names)
}

func TestRunJob_PanicMarksFailedAndPropagates(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	release := f.demoEP()
	f.encoder.panicOn[fmt.Sprintf("%d.mp3", release.Tracks[0].ID)] = true

	d, _, err := f.manager.RequestDownload(ctx, release.ID, f.fan, model.FormatMP3192)
	require.NoError(t, err)

	assert.Panics(t, func() { _ = f.manager.RunJob(ctx, d.ID) })

	got := f.reload(d.PublicID)
	assert.Equal(t, model.DownloadFailed, got.Status)
	assert.Contains(t, got.FailureReason, "encoder exploded")
	assert.Empty(t, f.scratchEntries())
}

func TestRunJob_OnlyPendingIsProcessed(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	release := f.demoEP()

	d, _, err := f.manager.RequestDownload(ctx, release.ID, f.fan, model.FormatMP3192)
	require.NoError(t, err)
	require.NoError(t, f.manager.RunJob(ctx, d.ID))
	calls := f.encoder.callCount()

	require.NoError(t, f.manager.RunJob(ctx, d.ID), "a second run is ignored")
	assert.Equal(t, calls, f.encoder.callCount())
	assert.Equal(t, model.DownloadReady, f.reload(d.PublicID).Status)

	assert.NoError(t, f.manager.RunJob(ctx, 987654), "unknown ids are ignored")
}

func TestRunJob_ParallelTranscodeKeepsTrackOrder(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()
	release := f.createRelease("Shuffled", true,
		trackSpec{title: "Three", number: num(3), key: "tracks/3.wav", codec: "wav", lossless: true, upload: true},
		trackSpec{title: "One", number: num(1), key: "tracks/1.wav", codec: "wav", lossless: true, upload: true},
		trackSpec{title: "Two", number: num(2), key: "tracks/2.wav", codec: "wav", lossless: true, upload: true},
	)
	// 第一首最慢，保证完成顺序与曲序不同
	first := fmt.Sprintf("%d.wav", release.Tracks[1].ID)
	f.encoder.delay = func(src string) time.Duration {
		if filepath.Base(src) == first {
			return 50 * time.Millisecond
		}
		return 0
	}

	d, _, err := f.manager.RequestDownload(ctx, release.ID, f.fan, model.FormatFLAC)
	require.NoError(t, err)
	require.NoError(t, f.manager.RunJob(ctx, d.ID))

	got := f.reload(d.PublicID)
	require.Equal(t, model.DownloadReady, got.Status)
	names, err := archive.ListEntries(f.artifactPath(got))
	require.NoError(t, err)
	assert.Equal(t, []string{"01_One.flac", "02_Two.flac", "03_Three.flac"}, names)
	assert.Equal(t, 3, f.encoder.callCount())
}

func TestExpireStaleAndPurge(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	release := f.demoEP()

	d, _, err := f.manager.RequestDownload(ctx, release.ID, f.fan, model.FormatOriginalZip)
	require.NoError(t, err)
	require.NoError(t, f.manager.RunJob(ctx, d.ID))
	ready := f.reload(d.PublicID)

	n, err := f.manager.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(25 * time.Hour)
	report, err := f.manager.Sweep(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Expired)
	assert.Equal(t, 1, report.Purged)

	got := f.reload(d.PublicID)
	assert.Equal(t, model.DownloadExpired, got.Status)
	assert.Empty(t, got.ArtifactKey)
	_, err = f.store.Stat(ctx, ready.ArtifactKey)
	assert.Error(t, err)
}

func TestFindStuckAndResumePending(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	release := f.demoEP()

	stuck, _, err := f.manager.RequestDownload(ctx, release.ID, f.fan, model.FormatWAV)
	require.NoError(t, err)
	ok, err := f.repo.MarkProcessing(ctx, stuck.ID, baseTime)
	require.NoError(t, err)
	require.True(t, ok)

	pending, _, err := f.manager.RequestDownload(ctx, release.ID, f.fan, model.FormatMP3192)
	require.NoError(t, err)

	list, err := f.manager.FindStuck(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	f.clock.Advance(90 * time.Minute)
	list, err = f.manager.FindStuck(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, stuck.ID, list[0].ID)
	assert.Equal(t, model.DownloadProcessing, f.reload(stuck.PublicID).Status, "stuck records are only reported")

	before := f.queue.count()
	n, err := f.manager.ResumePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, before+1, f.queue.count())
	assert.Equal(t, pending.ID, f.queue.ids[len(f.queue.ids)-1])
}

func TestNewSweeper_RejectsBadSchedule(t *testing.T) {
	f := newFixture(t, 1)
	_, err := NewSweeper(f.manager, "not a schedule", false)
	assert.Error(t, err)

	s, err := NewSweeper(f.manager, "*/5 * * * *", true)
	require.NoError(t, err)
	s.Start()
	s.Stop()
}

func TestArchiveName(t *testing.T) {
	assert.Equal(t, "Demo EP-FLAC.zip", ArchiveName("Demo EP", model.FormatFLAC))
	assert.Equal(t, "AC_DC-MP3_320.zip", ArchiveName("AC/DC", model.FormatMP3320))
}
