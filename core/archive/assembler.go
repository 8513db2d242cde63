// Package archive builds the ZIP artifacts handed out by download jobs.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"ReleaseKit/logger"

	"github.com/klauspost/compress/zip"
)

// Entry is one file to place in the archive.
type Entry struct {
	Path string // local file
	Name string // name inside the archive
}

// Result 打包结果
type Result struct {
	Path    string
	Size    int64
	Entries []string
}

// ErrEmpty is returned when there is nothing to archive.
var ErrEmpty = errors.New("no entries to archive")

// dedupe 同名条目只保留最后一个
func dedupe(entries []Entry) []Entry {
	last := make(map[string]int, len(entries))
	for i, e := range entries {
		last[e.Name] = i
	}
	out := make([]Entry, 0, len(last))
	for i, e := range entries {
		if last[e.Name] != i {
			logger.Warn("duplicate archive entry replaced",
				logger.String("name", e.Name),
				logger.String("path", e.Path))
			continue
		}
		out = append(out, e)
	}
	return out
}

// Build writes entries, in the given order, into a ZIP at destPath.
//
// The archive is written to a temp file in destPath's directory and renamed into
// place only after it is complete. Every entry gets modTime so identical inputs
// give identical bytes.
func Build(ctx context.Context, entries []Entry, destPath string, modTime time.Time) (Result, error) {
	entries = dedupe(entries)
	if len(entries) == 0 {
		return Result{}, ErrEmpty
	}

	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("failed to create archive directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".archive-*.zip")
	if err != nil {
		return Result{}, fmt.Errorf("failed to create temp archive: %w", err)
	}
	tmpName := tmp.Name()
	published := false
	defer func() {
		if !published {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	zw := zip.NewWriter(tmp)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if err := addFile(zw, e, modTime); err != nil {
			return Result{}, err
		}
		names = append(names, e.Name)
	}
	if err := zw.Close(); err != nil {
		return Result{}, fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return Result{}, fmt.Errorf("failed to sync archive: %w", err)
	}
	st, err := tmp.Stat()
	if err != nil {
		return Result{}, fmt.Errorf("failed to stat archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Result{}, fmt.Errorf("failed to close archive: %w", err)
	}
	if err := os.Rename(tmpName, destPath); err != nil {
		return Result{}, fmt.Errorf("failed to move archive into place: %w", err)
	}
	published = true

	return Result{Path: destPath, Size: st.Size(), Entries: names}, nil
}

func addFile(zw *zip.Writer, e Entry, modTime time.Time) error {
	f, err := os.Open(e.Path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", e.Path, err)
	}
	defer f.Close()

	header := &zip.FileHeader{
		Name:     e.Name,
		Method:   zip.Deflate,
		Modified: modTime,
	}
	header.SetMode(0o644)

	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", e.Name, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to write %s: %w", e.Name, err)
	}
	return nil
}

// ListEntries returns the entry names of an existing archive in order.
func ListEntries(path string) ([]string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", path, err)
	}
	defer r.Close()

	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	return names, nil
}
