package audio

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"ReleaseKit/model"
)

var unsafeEntryChars = regexp.MustCompile(`[^A-Za-z0-9 .\-_()]`)

// SanitizeTitle replaces every character outside [A-Za-z0-9 .-_()] with '_'.
func SanitizeTitle(title string) string {
	s := unsafeEntryChars.ReplaceAllString(strings.TrimSpace(title), "_")
	if s == "" {
		return "track"
	}
	return s
}

// EntryName builds "NN_Title.ext". The number and underscore are omitted when the
// track has no number.
func EntryName(track *model.Track, ext string) string {
	name := SanitizeTitle(track.Title)
	if track.TrackNumber != nil {
		name = fmt.Sprintf("%02d_%s", *track.TrackNumber, name)
	}
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		return name
	}
	return name + "." + ext
}

// codecExtensions 直通时原文件没有扩展名的兜底
var codecExtensions = map[string]string{
	"mp3":     "mp3",
	"flac":    "flac",
	"wav":     "wav",
	"aiff":    "aiff",
	"aac":     "m4a",
	"alac":    "m4a",
	"vorbis":  "ogg",
	"opus":    "opus",
	"wavpack": "wv",
	"ape":     "ape",
}

// OutputExtension returns the extension of the file a decision produces for a
// track stored under sourceKey.
func OutputExtension(d Decision, sourceKey string) string {
	if d.IsTranscode() {
		return d.Extension
	}
	if ext := strings.TrimPrefix(strings.ToLower(path.Ext(sourceKey)), "."); ext != "" {
		return ext
	}
	if ext, ok := codecExtensions[d.Codec]; ok {
		return ext
	}
	return "bin"
}
