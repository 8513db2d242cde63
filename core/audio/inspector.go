package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"ReleaseKit/logger"
)

// AudioInfo 音频元数据，检测失败时所有指针字段为 nil
type AudioInfo struct {
	DurationSeconds *int
	CodecName       *string
	BitRate         *int
	SampleRate      *int
	Channels        *int
	IsLossless      bool
}

// Empty reports whether nothing could be read from the file.
func (a AudioInfo) Empty() bool {
	return a.DurationSeconds == nil && a.CodecName == nil && a.BitRate == nil &&
		a.SampleRate == nil && a.Channels == nil
}

var losslessCodecs = map[string]bool{
	"flac":    true,
	"alac":    true,
	"wavpack": true,
	"ape":     true,
	"tta":     true,
	"truehd":  true,
	"mlp":     true,
}

// IsLosslessCodec reports whether a probe codec name is lossless.
func IsLosslessCodec(codec string) bool {
	c := strings.ToLower(codec)
	return strings.HasPrefix(c, "pcm_") || losslessCodecs[c]
}

// FFprobeInspector reads container and stream metadata with ffprobe.
type FFprobeInspector struct {
	ffprobePath string
}

// NewFFprobeInspector creates a new FFprobeInspector.
func NewFFprobeInspector(ffprobePath string) *FFprobeInspector {
	return &FFprobeInspector{ffprobePath: ffprobePath}
}

// Inspect never fails: unreadable input is logged and yields the zero AudioInfo.
func (i *FFprobeInspector) Inspect(ctx context.Context, path string) AudioInfo {
	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	cmd := exec.CommandContext(ctx, i.ffprobePath, args...)
	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		logger.Warn("ffprobe failed",
			logger.String("path", path),
			logger.String("stderr", strings.TrimSpace(stderr.String())),
			logger.ErrorField(err))
		return AudioInfo{}
	}

	info, err := ParseProbeOutput(out.Bytes())
	if err != nil {
		logger.Warn("unreadable ffprobe output",
			logger.String("path", path),
			logger.ErrorField(err))
		return AudioInfo{}
	}
	return info
}

// ffprobeOutput defines the structure for ffprobe JSON output.
type ffprobeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
		BitRate    string `json:"bit_rate"`
		Duration   string `json:"duration"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
}

// ParseProbeOutput converts `ffprobe -show_format -show_streams` JSON into AudioInfo.
func ParseProbeOutput(data []byte) (AudioInfo, error) {
	var probe ffprobeOutput
	if err := json.Unmarshal(data, &probe); err != nil {
		return AudioInfo{}, fmt.Errorf("failed to unmarshal ffprobe output: %w", err)
	}

	idx := -1
	for n, s := range probe.Streams {
		if s.CodecType == "audio" {
			idx = n
			break
		}
	}
	if idx < 0 {
		return AudioInfo{}, fmt.Errorf("no audio streams found in file")
	}
	stream := probe.Streams[idx]

	var info AudioInfo
	codec := strings.ToLower(stream.CodecName)
	if codec != "" {
		info.IsLossless = IsLosslessCodec(codec)
		if strings.HasPrefix(codec, "pcm_") {
			codec = pcmContainer(probe.Format.FormatName)
		}
		info.CodecName = &codec
	}

	if d, ok := parseSeconds(probe.Format.Duration); ok {
		info.DurationSeconds = &d
	} else if d, ok := parseSeconds(stream.Duration); ok {
		info.DurationSeconds = &d
	}

	if br, ok := parseInt(stream.BitRate); ok {
		info.BitRate = &br
	} else if br, ok := parseInt(probe.Format.BitRate); ok {
		info.BitRate = &br
	}
	if sr, ok := parseInt(stream.SampleRate); ok {
		info.SampleRate = &sr
	}
	if stream.Channels > 0 {
		ch := stream.Channels
		info.Channels = &ch
	}
	return info, nil
}

// pcmContainer 原始 PCM 以容器名作为编码名
func pcmContainer(formatName string) string {
	for _, f := range strings.Split(strings.ToLower(formatName), ",") {
		switch f {
		case "aiff", "aifc":
			return "aiff"
		case "wav", "w64":
			return "wav"
		}
	}
	return "wav"
}

func parseSeconds(s string) (int, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(math.Round(f)), true
}

func parseInt(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
