package cmd

import (
	"context"
	"errors"
	"fmt"

	"ReleaseKit/core/audio"
	"ReleaseKit/core/ingest"
	"ReleaseKit/server"

	"github.com/spf13/cobra"
)

var (
	ingestTrackID   int64
	ingestReleaseID int64
	ingestFile      string
	ingestForce     bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "检测曲目音频信息",
	Long:  `对曲目文件计算指纹并用ffprobe读取时长、编码、码率等信息。指纹未变化的曲目默认跳过。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		ctx := context.Background()

		// 本地文件只探测，不连数据库
		if ingestFile != "" {
			svc := ingest.NewService(nil, nil, audio.NewFFprobeInspector(cfg.FFprobePath), cfg.ScratchDir)
			info, sum, err := svc.InspectFile(ctx, ingestFile)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "fingerprint: %s\n", sum)
			printAudioInfo(cmd, info)
			return nil
		}

		if ingestTrackID == 0 && ingestReleaseID == 0 {
			return errors.New("one of --track, --release or --file is required")
		}

		app, err := server.Bootstrap(ctx, cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		if ingestTrackID != 0 {
			inspected, err := app.Ingest.IngestTrack(ctx, ingestTrackID, ingestForce)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "track %d inspected: %t\n", ingestTrackID, inspected)
		}
		if ingestReleaseID != 0 {
			n, err := app.Ingest.IngestRelease(ctx, ingestReleaseID, ingestForce)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "release %d: %d tracks inspected\n", ingestReleaseID, n)
		}
		return nil
	},
}

func printAudioInfo(cmd *cobra.Command, info audio.AudioInfo) {
	out := cmd.OutOrStdout()
	if info.Empty() {
		fmt.Fprintln(out, "no audio information could be read")
		return
	}
	if info.CodecName != nil {
		fmt.Fprintf(out, "codec:       %s\n", *info.CodecName)
	}
	if info.DurationSeconds != nil {
		fmt.Fprintf(out, "duration:    %ds\n", *info.DurationSeconds)
	}
	if info.BitRate != nil {
		fmt.Fprintf(out, "bit rate:    %d\n", *info.BitRate)
	}
	if info.SampleRate != nil {
		fmt.Fprintf(out, "sample rate: %d\n", *info.SampleRate)
	}
	if info.Channels != nil {
		fmt.Fprintf(out, "channels:    %d\n", *info.Channels)
	}
	fmt.Fprintf(out, "lossless:    %t\n", info.IsLossless)
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().Int64Var(&ingestTrackID, "track", 0, "检测指定ID的曲目")
	ingestCmd.Flags().Int64Var(&ingestReleaseID, "release", 0, "检测发行下的全部曲目")
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "只探测本地文件，不写数据库")
	ingestCmd.Flags().BoolVar(&ingestForce, "force", false, "忽略指纹，强制重新检测")
}
