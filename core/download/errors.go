package download

import (
	"errors"
	"fmt"

	"ReleaseKit/model"
)

var (
	// ErrNotFound 记录、发行或产物不存在
	ErrNotFound = errors.New("not found")
	// ErrForbidden 请求者不是记录的拥有者
	ErrForbidden = errors.New("forbidden")
	// ErrGone 产物已过期
	ErrGone = errors.New("download expired")
	// ErrNoTracksProcessed 所有曲目都被跳过
	ErrNoTracksProcessed = errors.New("no tracks processed")
)

// NotReadyError is returned while a download is PENDING, PROCESSING or FAILED.
type NotReadyError struct {
	Status model.DownloadStatus
	Reason string
}

func (e *NotReadyError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("download not ready (%s): %s", e.Status, e.Reason)
	}
	return fmt.Sprintf("download not ready (%s)", e.Status)
}
