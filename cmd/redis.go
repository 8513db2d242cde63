package cmd

import (
	"context"
	"fmt"
	"sort"

	"ReleaseKit/cache"
	"ReleaseKit/db"

	"github.com/spf13/cobra"
)

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Redis连接测试",
	Long:  `测试Redis连接和基本读写，并列出当前持有的打包请求锁。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		ctx := context.Background()
		fmt.Fprintf(out, "Redis配置: %s, DB: %d\n", cfg.RedisAddr(), cfg.RedisDB)

		client, err := db.ConnectRedis(cfg)
		if err != nil {
			return fmt.Errorf("无法连接到Redis: %w", err)
		}
		defer db.CloseRedis()
		fmt.Fprintln(out, "Redis连接成功！")

		if err := db.TestRedis(ctx); err != nil {
			return fmt.Errorf("Redis操作测试失败: %w", err)
		}
		fmt.Fprintln(out, "Redis基本操作测试成功！")

		held, err := cache.NewInflightGuard(client, 0).HeldKeys(ctx)
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(held))
		for k := range held {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(out, "持有中的打包锁: %d\n", len(keys))
		for _, k := range keys {
			fmt.Fprintf(out, "  %s (ttl %s)\n", k, held[k])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
}
