package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/schaermu/crsm/internal/doctor"
	"github.com/schaermu/crsm/internal/library"
	"github.com/schaermu/crsm/internal/thumbnail"
)

var doctorNoAWS bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, tools, index and repository health",
	Long: `Doctor runs read-only checks: configuration, library directories, ffmpeg,
the index schema, consistency between index and files, and (unless --no-aws)
whether the bucket is reachable.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorNoAWS, "no-aws", false, "skip the remote checks")
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(logger)
	if err != nil {
		_, _ = fmt.Fprintf(out, "[fail] config: %v\n", err)
		return userError(fmt.Errorf("configuration invalid"))
	}

	var (
		remote    doctor.Pinger
		remoteErr error
	)
	if !doctorNoAWS {
		r, err := newRemote(cfg, logger)
		if err != nil {
			remoteErr = err
			_, _ = fmt.Fprintf(out, "[fail] remote: %v\n", err)
		} else {
			remote = r
		}
	}

	checker := doctor.New(cfg, library.New(cfg.Library.Path),
		thumbnail.NewFFmpeg(cfg.Thumbnail.FFmpegPath, commandRunner), remote, logger)
	report := checker.Run(ctx)

	phase := ""
	for _, res := range report.Results {
		if res.Phase != phase {
			phase = res.Phase
			_, _ = fmt.Fprintf(out, "%s\n", strings.ToUpper(phase))
		}
		_, _ = fmt.Fprintf(out, "  [%s] %s\n", res.Status, res.Message)
	}
	_, _ = fmt.Fprintf(out, "\n%d passed, %d failed, %d skipped\n",
		report.Count(doctor.StatusOK), report.Count(doctor.StatusFail), report.Count(doctor.StatusSkip))

	if report.Failed() || remoteErr != nil {
		return userError(fmt.Errorf("%d check(s) failed", report.Count(doctor.StatusFail)))
	}
	return nil
}
