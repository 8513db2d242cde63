package cmd

import (
	"fmt"
	"os"

	"ReleaseKit/config"
	"ReleaseKit/logger"
	"ReleaseKit/server"

	"github.com/spf13/cobra"
)

// cfg 在任何子命令执行前加载
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "releasekit",
	Short: "ReleaseKit packages release downloads on demand.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		logger.InitLogger(logger.Config{
			Level:      logger.LogLevel(cfg.LogLevel),
			OutputPath: cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAgeDays,
			Compress:   true,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		// 不带子命令时启动服务
		return server.Start(cfg)
	},
	SilenceUsage: true,
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
