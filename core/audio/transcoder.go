package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"ReleaseKit/logger"
	"ReleaseKit/model"
)

// Inspector reads audio metadata from a local file.
type Inspector interface {
	Inspect(ctx context.Context, path string) AudioInfo
}

// Encoder re-encodes src into dst following a TRANSCODE decision.
type Encoder interface {
	Encode(ctx context.Context, src, dst string, d Decision) error
}

// FFmpegEncoder implements Encoder using ffmpeg.
type FFmpegEncoder struct {
	ffmpegPath string
}

// NewFFmpegEncoder creates a new FFmpegEncoder.
func NewFFmpegEncoder(ffmpegPath string) *FFmpegEncoder {
	return &FFmpegEncoder{ffmpegPath: ffmpegPath}
}

// EncodeArgs 构建 ffmpeg 参数
func EncodeArgs(src, dst string, d Decision) ([]string, error) {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", src,
		"-vn",
		"-map_metadata", "0",
	}

	switch d.Codec {
	case "mp3":
		if d.BitrateKbps <= 0 {
			return nil, fmt.Errorf("mp3 target without bitrate")
		}
		args = append(args, "-c:a", "libmp3lame", "-b:a", strconv.Itoa(d.BitrateKbps)+"k", "-id3v2_version", "3")
	case "flac":
		args = append(args, "-c:a", "flac", "-compression_level", "5")
	case "wav":
		args = append(args, "-c:a", "pcm_s16le")
	default:
		return nil, fmt.Errorf("unsupported target codec %q", d.Codec)
	}
	return append(args, dst), nil
}

// Encode runs ffmpeg. stderr is included in the returned error.
func (e *FFmpegEncoder) Encode(ctx context.Context, src, dst string, d Decision) error {
	args, err := EncodeArgs(src, dst, d)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logger.Debug("executing ffmpeg",
		logger.String("cmd", e.ffmpegPath+" "+strings.Join(args, " ")))

	if err := cmd.Run(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("ffmpeg execution failed for %s: %w\nFFmpeg Error: %s", src, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// TranscodeTrack produces the file for one track and its archive entry name.
// PASSTHROUGH returns sourcePath itself. Outputs are written below scratchDir.
func TranscodeTrack(ctx context.Context, enc Encoder, track *model.Track, sourcePath string, d Decision, scratchDir string) (string, string, error) {
	st, err := os.Stat(sourcePath)
	if err != nil {
		return "", "", fmt.Errorf("source audio for %s unavailable: %w", track, err)
	}
	if st.Size() == 0 {
		return "", "", fmt.Errorf("source audio for %s is empty", track)
	}

	entry := EntryName(track, OutputExtension(d, track.AudioFile))
	if !d.IsTranscode() {
		return sourcePath, entry, nil
	}

	dst := filepath.Join(scratchDir, fmt.Sprintf("track-%d.%s", track.ID, d.Extension))
	if err := enc.Encode(ctx, sourcePath, dst, d); err != nil {
		return "", "", fmt.Errorf("failed to transcode %s to %s: %w", track, d.Codec, err)
	}
	return dst, entry, nil
}
