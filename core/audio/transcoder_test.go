package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"ReleaseKit/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEncoder struct {
	calls []string
	err   error
}

func (e *recordingEncoder) Encode(ctx context.Context, src, dst string, d Decision) error {
	e.calls = append(e.calls, filepath.Base(dst))
	if e.err != nil {
		return e.err
	}
	return os.WriteFile(dst, []byte(d.Codec), 0o644)
}

func TestEncodeArgs(t *testing.T) {
	args, err := EncodeArgs("in.flac", "out.mp3", transcode("mp3", 192))
	require.NoError(t, err)
	assert.Contains(t, args, "libmp3lame")
	assert.Contains(t, args, "192k")
	assert.Equal(t, "out.mp3", args[len(args)-1])

	args, err = EncodeArgs("in.wav", "out.flac", transcode("flac", 0))
	require.NoError(t, err)
	assert.Contains(t, args, "flac")

	args, err = EncodeArgs("in.flac", "out.wav", transcode("wav", 0))
	require.NoError(t, err)
	assert.Contains(t, args, "pcm_s16le")

	_, err = EncodeArgs("a", "b", transcode("mp3", 0))
	assert.Error(t, err)
	_, err = EncodeArgs("a", "b", transcode("ogg", 0))
	assert.Error(t, err)
}

func TestTranscodeTrack(t *testing.T) {
	ctx := context.Background()
	scratch := t.TempDir()
	src := filepath.Join(scratch, "source.flac")
	require.NoError(t, os.WriteFile(src, []byte("flac bytes"), 0o644))

	track := &model.Track{ID: 9, Title: "Outro", TrackNumber: intPtr(2), AudioFile: "tracks/9/outro.flac"}
	enc := &recordingEncoder{}

	out, entry, err := TranscodeTrack(ctx, enc, track, src, Decide(model.FormatMP3192, "flac", true), scratch)
	require.NoError(t, err)
	assert.Equal(t, "02_Outro.mp3", entry)
	assert.Equal(t, filepath.Join(scratch, "track-9.mp3"), out)
	assert.Equal(t, []string{"track-9.mp3"}, enc.calls)

	out, entry, err = TranscodeTrack(ctx, enc, track, src, Decide(model.FormatOriginalZip, "flac", true), scratch)
	require.NoError(t, err)
	assert.Equal(t, src, out)
	assert.Equal(t, "02_Outro.flac", entry)
	assert.Len(t, enc.calls, 1, "passthrough does not encode")
}

func TestTranscodeTrack_SoftFailures(t *testing.T) {
	ctx := context.Background()
	scratch := t.TempDir()
	track := &model.Track{ID: 1, Title: "Intro", AudioFile: "a.mp3"}

	_, _, err := TranscodeTrack(ctx, &recordingEncoder{}, track, filepath.Join(scratch, "missing.mp3"), transcode("mp3", 192), scratch)
	assert.Error(t, err)

	empty := filepath.Join(scratch, "empty.mp3")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, _, err = TranscodeTrack(ctx, &recordingEncoder{}, track, empty, transcode("mp3", 192), scratch)
	assert.Error(t, err)

	src := filepath.Join(scratch, "ok.mp3")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))
	_, _, err = TranscodeTrack(ctx, &recordingEncoder{err: errors.New("decode error")}, track, src, transcode("mp3", 192), scratch)
	assert.ErrorContains(t, err, "decode error")
}
