package download

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"

	"ReleaseKit/core/archive"
	"ReleaseKit/core/audio"
	"ReleaseKit/logger"
	"ReleaseKit/model"
)

// processTracks runs every track through policy and transcoder. Failing tracks
// are logged and skipped. Results keep canonical track order regardless of the
// order in which transcodes finish.
func (m *Manager) processTracks(ctx context.Context, tracks []model.Track, format model.DownloadFormat, scratch string) ([]archive.Entry, error) {
	ordered := make([]model.Track, len(tracks))
	copy(ordered, tracks)
	model.SortTracks(ordered)

	srcDir := filepath.Join(scratch, "src")
	outDir := filepath.Join(scratch, "tracks")
	for _, dir := range []string{srcDir, outDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create scratch directory: %w", err)
		}
	}

	results := make([]*archive.Entry, len(ordered))
	sem := make(chan struct{}, m.opts.TranscodeWorkers)
	var wg sync.WaitGroup
	var panicOnce sync.Once
	var panicked interface{}

	for i := range ordered {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			// 在调用方协程重新抛出，交给 RunJob 标记失败
			defer func() {
				if r := recover(); r != nil {
					panicOnce.Do(func() { panicked = r })
				}
			}()
			entry, err := m.processTrack(ctx, &ordered[i], format, srcDir, outDir)
			if err != nil {
				logger.Error("track skipped",
					logger.Int64("trackId", ordered[i].ID),
					logger.String("title", ordered[i].Title),
					logger.String("format", string(format)),
					logger.ErrorField(err))
				return
			}
			results[i] = entry
		}(i)
	}
	wg.Wait()

	if panicked != nil {
		panic(panicked)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries := make([]archive.Entry, 0, len(results))
	for _, e := range results {
		if e != nil {
			entries = append(entries, *e)
		}
	}
	return entries, nil
}

func (m *Manager) processTrack(ctx context.Context, track *model.Track, format model.DownloadFormat, srcDir, outDir string) (*archive.Entry, error) {
	if track.AudioFile == "" {
		return nil, fmt.Errorf("track has no audio file")
	}
	local := filepath.Join(srcDir, fmt.Sprintf("%d%s", track.ID, path.Ext(track.AudioFile)))
	if err := m.store.Fetch(ctx, track.AudioFile, local); err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", track.AudioFile, err)
	}

	decision := audio.Decide(format, track.Codec(), track.IsLossless)
	out, name, err := audio.TranscodeTrack(ctx, m.encoder, track, local, decision, outDir)
	if err != nil {
		return nil, err
	}
	return &archive.Entry{Path: out, Name: name}, nil
}
