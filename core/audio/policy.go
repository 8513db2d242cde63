package audio

import (
	"strings"

	"ReleaseKit/logger"
	"ReleaseKit/model"
)

// Action 单曲处理方式
type Action string

const (
	ActionPassthrough Action = "PASSTHROUGH"
	ActionTranscode   Action = "TRANSCODE"
)

// Decision is the outcome of Decide for one track.
type Decision struct {
	Action Action
	// Codec is the target codec for TRANSCODE and the normalized source codec for PASSTHROUGH.
	Codec       string
	BitrateKbps int
	// Extension is the container extension a transcode produces. Empty for PASSTHROUGH.
	Extension string
}

// IsTranscode reports whether the track must be re-encoded.
func (d Decision) IsTranscode() bool {
	return d.Action == ActionTranscode
}

func passthrough(codec string) Decision {
	return Decision{Action: ActionPassthrough, Codec: codec}
}

func transcode(codec string, kbps int) Decision {
	return Decision{Action: ActionTranscode, Codec: codec, BitrateKbps: kbps, Extension: codec}
}

// losslessSources 可以转换为无损格式的原始编码
var losslessSources = map[string]bool{
	"wav":  true,
	"flac": true,
	"aiff": true,
}

// NormalizeCodec maps probe codec names onto the names the policy is defined over.
// Raw PCM streams are reported by their container.
func NormalizeCodec(codec string) string {
	c := strings.ToLower(strings.TrimSpace(codec))
	switch {
	case strings.HasPrefix(c, "pcm_"):
		return "wav"
	case c == "aif":
		return "aiff"
	}
	return c
}

// Decide 根据请求格式和原始编码决定转码或直通
//
// 有损原始文件在请求 FLAC/WAV 时直通，不会伪装成无损。原始编码已经等于请求的
// 无损编码时同样直通。未知请求格式直通并记录告警。
func Decide(format model.DownloadFormat, originalCodec string, originalIsLossless bool) Decision {
	codec := NormalizeCodec(originalCodec)

	switch format {
	case model.FormatOriginalZip:
		return passthrough(codec)
	case model.FormatMP3320:
		return transcode("mp3", 320)
	case model.FormatMP3192:
		return transcode("mp3", 192)
	case model.FormatFLAC, model.FormatWAV:
		target := strings.ToLower(string(format))
		if !losslessSources[codec] || codec == target {
			return passthrough(codec)
		}
		return transcode(target, 0)
	default:
		logger.Warn("unsupported download format, passing original through",
			logger.String("format", string(format)),
			logger.String("codec", codec),
			logger.Bool("lossless", originalIsLossless))
		return passthrough(codec)
	}
}
