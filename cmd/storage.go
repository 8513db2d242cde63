package cmd

import (
	"context"
	"fmt"

	"ReleaseKit/storage"

	"github.com/spf13/cobra"
)

var (
	storagePrefix    string
	storageStats     bool
	storageRecursive bool
	storageDelete    bool
)

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "对象存储管理",
	Long:  `查看和管理存储后端（MinIO或本地目录）中的文件，支持列出文件、查看统计信息、按目录显示、删除前缀等功能。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		ctx := context.Background()

		fmt.Fprintf(out, "存储后端: %s\n", cfg.StorageBackend)
		store, err := storage.New(ctx, cfg)
		if err != nil {
			return fmt.Errorf("无法连接到存储: %w", err)
		}

		if storageDelete {
			if storagePrefix == "" {
				return fmt.Errorf("删除操作需要指定目录前缀")
			}
			n, err := storage.DeletePrefix(ctx, store, storagePrefix)
			if err != nil {
				return fmt.Errorf("删除目录失败: %w", err)
			}
			fmt.Fprintf(out, "已删除 %d 个对象 (前缀: %s)\n", n, storagePrefix)
			return nil
		}

		objects, stats, err := storage.CollectStats(ctx, store, storagePrefix)
		if err != nil {
			return fmt.Errorf("列出文件失败: %w", err)
		}
		switch {
		case storageRecursive:
			storage.PrintTree(out, objects)
		case storageStats:
			storage.PrintStats(out, storagePrefix, stats)
		default:
			for _, obj := range objects {
				fmt.Fprintf(out, "%-60s %10s  %s\n", obj.Key, storage.FormatSize(obj.Size),
					obj.LastModified.Format("2006-01-02 15:04:05"))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(storageCmd)

	storageCmd.Flags().StringVarP(&storagePrefix, "prefix", "p", "", "按前缀过滤文件或指定要操作的目录")
	storageCmd.Flags().BoolVarP(&storageStats, "stats", "s", false, "显示统计信息")
	storageCmd.Flags().BoolVarP(&storageRecursive, "recursive", "r", false, "按目录结构显示")
	storageCmd.Flags().BoolVarP(&storageDelete, "delete", "d", false, "删除指定前缀下的所有文件")

	storageCmd.Example = `  # 列出所有归档
  releasekit storage -p "downloads/"

  # 显示统计信息
  releasekit storage -s

  # 删除某个下载的归档
  releasekit storage -d -p "downloads/<id>/"`
}
