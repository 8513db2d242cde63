package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"
)

// ErrObjectNotFound 对象不存在
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo 文件信息
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
	ETag         string
}

// Object is an opened stored object. Closing it releases the underlying handle.
type Object struct {
	io.ReadSeekCloser
	Info ObjectInfo
}

// Store is the blob store holding uploaded track audio and generated archives.
type Store interface {
	// PutFile uploads a local file under key and returns the stored size.
	PutFile(ctx context.Context, key, localPath, contentType string) (int64, error)
	// Open returns a seekable reader. Missing keys yield ErrObjectNotFound.
	Open(ctx context.Context, key string) (*Object, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	// Fetch copies the object into localPath.
	Fetch(ctx context.Context, key, localPath string) error
	// Delete is idempotent; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// CleanKey normalizes an object key and rejects keys escaping the store root.
func CleanKey(key string) (string, error) {
	k := strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(key, "\\", "/")), "/")
	if k == "" || k == "." {
		return "", errors.New("empty object key")
	}
	return k, nil
}

// ContentTypeFor 根据扩展名推断 Content-Type
func ContentTypeFor(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".zip":
		return "application/zip"
	case ".mp3":
		return "audio/mpeg"
	case ".flac":
		return "audio/flac"
	case ".wav":
		return "audio/wav"
	case ".aif", ".aiff":
		return "audio/aiff"
	case ".m4a", ".alac":
		return "audio/mp4"
	case ".ogg", ".opus":
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}
