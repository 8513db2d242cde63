package cmd

import (
	"ReleaseKit/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动ReleaseKit服务器",
	Long:  `启动HTTP服务器，同时运行打包工作池和定时清理任务`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.Start(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
