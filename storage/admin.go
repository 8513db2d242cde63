package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"ReleaseKit/config"
)

// BucketStats 存储桶统计信息
type BucketStats struct {
	TotalObjects int64
	TotalSize    int64
	LastModified time.Time
	// ByExtension 按扩展名统计对象数量
	ByExtension map[string]int64
}

// New 根据配置创建存储后端
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	switch strings.ToLower(cfg.StorageBackend) {
	case "local":
		return NewLocalStore(cfg.LocalStorageDir)
	case "minio", "":
		return NewMinioStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// CollectStats 汇总前缀下对象的数量和大小
func CollectStats(ctx context.Context, s Store, prefix string) ([]ObjectInfo, *BucketStats, error) {
	objects, err := s.List(ctx, prefix)
	if err != nil {
		return nil, nil, err
	}
	stats := &BucketStats{ByExtension: make(map[string]int64)}
	for _, obj := range objects {
		stats.TotalObjects++
		stats.TotalSize += obj.Size
		if obj.LastModified.After(stats.LastModified) {
			stats.LastModified = obj.LastModified
		}
		ext := strings.TrimPrefix(strings.ToLower(path.Ext(obj.Key)), ".")
		if ext == "" {
			ext = "unknown"
		}
		stats.ByExtension[ext]++
	}
	return objects, stats, nil
}

// DeletePrefix 删除前缀下所有对象。MinIO 走批量删除接口。
func DeletePrefix(ctx context.Context, s Store, prefix string) (int, error) {
	if strings.TrimSpace(prefix) == "" {
		return 0, fmt.Errorf("refusing to delete with an empty prefix")
	}
	if ms, ok := s.(*MinioStore); ok {
		return ms.RemovePrefix(ctx, prefix)
	}
	objects, err := s.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	for i, obj := range objects {
		if err := s.Delete(ctx, obj.Key); err != nil {
			return i, err
		}
	}
	return len(objects), nil
}

// PrintStats 打印统计信息
func PrintStats(w io.Writer, prefix string, stats *BucketStats) {
	fmt.Fprintf(w, "prefix:        %q\n", prefix)
	fmt.Fprintf(w, "objects:       %d\n", stats.TotalObjects)
	fmt.Fprintf(w, "total size:    %s\n", FormatSize(stats.TotalSize))
	if !stats.LastModified.IsZero() {
		fmt.Fprintf(w, "last modified: %s\n", stats.LastModified.Format(time.RFC3339))
	}
	exts := make([]string, 0, len(stats.ByExtension))
	for ext := range stats.ByExtension {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	for _, ext := range exts {
		fmt.Fprintf(w, "  %-8s %d\n", ext, stats.ByExtension[ext])
	}
}

// PrintTree 按目录层级打印对象
func PrintTree(w io.Writer, objects []ObjectInfo) {
	dirs := make(map[string]bool)
	for _, obj := range objects {
		parts := strings.Split(obj.Key, "/")
		for i := 1; i < len(parts); i++ {
			dirs[strings.Join(parts[:i], "/")] = true
		}
	}

	sortedDirs := make([]string, 0, len(dirs))
	for dir := range dirs {
		sortedDirs = append(sortedDirs, dir)
	}
	sort.Strings(sortedDirs)

	for _, dir := range sortedDirs {
		indent := strings.Repeat("  ", strings.Count(dir, "/"))
		fmt.Fprintf(w, "%s%s/\n", indent, path.Base(dir))
		for _, obj := range objects {
			rest := strings.TrimPrefix(obj.Key, dir+"/")
			if strings.HasPrefix(obj.Key, dir+"/") && !strings.Contains(rest, "/") {
				fmt.Fprintf(w, "%s  %s (%s)\n", indent, rest, FormatSize(obj.Size))
			}
		}
	}
	for _, obj := range objects {
		if !strings.Contains(obj.Key, "/") {
			fmt.Fprintf(w, "%s (%s)\n", obj.Key, FormatSize(obj.Size))
		}
	}
}

// FormatSize 格式化文件大小
func FormatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
