package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// MakeScratchDir 在 base 下创建独占的临时目录，返回的 cleanup 会删除整个目录
func MakeScratchDir(base, pattern string) (string, func(), error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", nil, fmt.Errorf("创建临时根目录失败: %w", err)
	}
	dir, err := os.MkdirTemp(base, pattern)
	if err != nil {
		return "", nil, fmt.Errorf("创建临时目录失败: %w", err)
	}
	return dir, func() { os.RemoveAll(dir) }, nil
}

// CopyFile 复制文件到指定路径
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("打开文件失败: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("创建文件失败: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("保存文件失败: %w", err)
	}
	return out.Close()
}
