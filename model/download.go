package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DownloadFormat 请求的打包格式
type DownloadFormat string

const (
	FormatOriginalZip DownloadFormat = "ORIGINAL_ZIP"
	FormatMP3320      DownloadFormat = "MP3_320"
	FormatMP3192      DownloadFormat = "MP3_192"
	FormatFLAC        DownloadFormat = "FLAC"
	FormatWAV         DownloadFormat = "WAV"
)

// DownloadFormats lists every accepted format in display order.
var DownloadFormats = []DownloadFormat{
	FormatOriginalZip,
	FormatMP3320,
	FormatMP3192,
	FormatFLAC,
	FormatWAV,
}

// ParseDownloadFormat validates client input. Matching is case-insensitive and
// accepts '-' in place of '_'.
func ParseDownloadFormat(s string) (DownloadFormat, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	for _, f := range DownloadFormats {
		if string(f) == normalized {
			return f, nil
		}
	}
	return "", fmt.Errorf("unsupported download format %q", s)
}

// DownloadStatus 下载任务状态
type DownloadStatus string

const (
	DownloadPending    DownloadStatus = "PENDING"
	DownloadProcessing DownloadStatus = "PROCESSING"
	DownloadReady      DownloadStatus = "READY"
	DownloadFailed     DownloadStatus = "FAILED"
	DownloadExpired    DownloadStatus = "EXPIRED"
)

// IsTerminal reports whether no job will move the record any further.
// READY is terminal for the job but can still become EXPIRED.
func (s DownloadStatus) IsTerminal() bool {
	return s == DownloadReady || s == DownloadFailed || s == DownloadExpired
}

// MaxFailureReasonLength bounds the stored failure text.
const MaxFailureReasonLength = 1000

// GeneratedDownload is one packaging request for a (release, user, format).
type GeneratedDownload struct {
	ID        int64          `json:"-" gorm:"primaryKey;autoIncrement"`
	PublicID  string         `json:"id" gorm:"size:36;uniqueIndex;not null"`
	ReleaseID int64          `json:"releaseId" gorm:"index:idx_download_lookup,priority:1;not null"`
	UserID    int64          `json:"userId" gorm:"index:idx_download_lookup,priority:2;not null"`
	Format    DownloadFormat `json:"requestedFormat" gorm:"size:20;index:idx_download_lookup,priority:3;not null"`
	Status    DownloadStatus `json:"status" gorm:"size:20;index;not null;default:'PENDING'"`

	ArtifactKey  string `json:"-" gorm:"size:767"`
	ArtifactSize int64  `json:"artifactSize,omitempty"`

	FailureReason string `json:"failureReason,omitempty" gorm:"type:text"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty" gorm:"index"`
}

// TableName 指定表名
func (GeneratedDownload) TableName() string {
	return "generated_downloads"
}

// NewGeneratedDownload builds a PENDING record with a fresh public id.
func NewGeneratedDownload(releaseID, userID int64, format DownloadFormat) *GeneratedDownload {
	return &GeneratedDownload{
		PublicID:  uuid.NewString(),
		ReleaseID: releaseID,
		UserID:    userID,
		Format:    format,
		Status:    DownloadPending,
	}
}

// IsExpiredAt 仅对 READY 且已过期的记录返回 true，到达 expires_at 即视为过期
func (d *GeneratedDownload) IsExpiredAt(now time.Time) bool {
	return d.Status == DownloadReady && d.ExpiresAt != nil && !now.Before(*d.ExpiresAt)
}

// IsServableAt reports whether the artifact may be handed out.
func (d *GeneratedDownload) IsServableAt(now time.Time) bool {
	return d.Status == DownloadReady && d.ArtifactKey != "" && !d.IsExpiredAt(now)
}

// TruncateFailureReason cuts reason to MaxFailureReasonLength characters.
func TruncateFailureReason(reason string) string {
	r := []rune(reason)
	if len(r) <= MaxFailureReasonLength {
		return reason
	}
	return string(r[:MaxFailureReasonLength])
}
