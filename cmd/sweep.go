package cmd

import (
	"context"
	"fmt"

	"ReleaseKit/server"

	"github.com/spf13/cobra"
)

var sweepPurge bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "执行一次下载清理",
	Long:  `将过期的READY记录标记为EXPIRED，报告卡在PROCESSING的记录，可选删除已过期和失败记录的归档文件。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		app, err := server.Bootstrap(ctx, cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		report, err := app.Manager.Sweep(ctx, sweepPurge)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "expired: %d\nstuck:   %d\npurged:  %d\n",
			report.Expired, report.Stuck, report.Purged)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	sweepCmd.Flags().BoolVar(&sweepPurge, "purge", false, "删除EXPIRED和FAILED记录的归档文件")
}
