package model

import (
	"fmt"
	"sort"
	"time"
)

// Track represents one audio file of a Release.
type Track struct {
	ID          int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	ReleaseID   int64  `json:"releaseId" gorm:"index;not null"`
	Title       string `json:"title" gorm:"size:255;not null"`
	TrackNumber *int   `json:"trackNumber,omitempty"`

	// AudioFile is the storage key of the uploaded payload; never exposed directly.
	AudioFile string `json:"-" gorm:"size:767;not null"`

	// 以下字段由音频检测写入，每个 payload 只计算一次
	AudioFingerprint string  `json:"-" gorm:"size:64"`
	DurationSeconds  *int    `json:"durationSeconds,omitempty"`
	CodecName        *string `json:"codecName,omitempty" gorm:"size:32"`
	BitRate          *int    `json:"bitRate,omitempty"`
	SampleRate       *int    `json:"sampleRate,omitempty"`
	Channels         *int    `json:"channels,omitempty"`
	IsLossless       bool    `json:"isLossless" gorm:"default:false"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName 指定表名
func (Track) TableName() string {
	return "tracks"
}

// HasAudioInfo reports whether inspection results are stored.
func (t *Track) HasAudioInfo() bool {
	return t.CodecName != nil && t.DurationSeconds != nil
}

// Codec returns the stored codec name or "" when unknown.
func (t *Track) Codec() string {
	if t.CodecName == nil {
		return ""
	}
	return *t.CodecName
}

func (t *Track) String() string {
	if t.TrackNumber != nil {
		return fmt.Sprintf("#%d %s (id=%d)", *t.TrackNumber, t.Title, t.ID)
	}
	return fmt.Sprintf("%s (id=%d)", t.Title, t.ID)
}

// SortTracks orders tracks by track number then id. Tracks without a number go last.
func SortTracks(tracks []Track) {
	sort.SliceStable(tracks, func(i, j int) bool {
		a, b := tracks[i], tracks[j]
		switch {
		case a.TrackNumber != nil && b.TrackNumber != nil:
			if *a.TrackNumber != *b.TrackNumber {
				return *a.TrackNumber < *b.TrackNumber
			}
		case a.TrackNumber != nil:
			return true
		case b.TrackNumber != nil:
			return false
		}
		return a.ID < b.ID
	})
}
