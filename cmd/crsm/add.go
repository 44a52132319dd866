package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/schaermu/crsm/internal/coordinator"
	"github.com/schaermu/crsm/internal/library"
)

var (
	addTitle   string
	addMove    bool
	addForce   bool
	addThumbAt time.Duration
)

var addCmd = &cobra.Command{
	Use:   "add <video>",
	Short: "Add a video to the repository",
	Long: `Add copies (or with --move, moves) a video into the repository, extracts a
thumbnail with ffmpeg and records both in the index.

If any step fails the repository, the index and the source file are restored
to their previous state.`,
	Args: cobra.ExactArgs(1),
	RunE: runAdd,
}

func init() {
	addCmd.Flags().StringVarP(&addTitle, "title", "t", "", "title (default is derived from the filename)")
	addCmd.Flags().BoolVar(&addMove, "move", false, "move the source instead of copying it")
	addCmd.Flags().BoolVarP(&addForce, "force", "f", false, "replace an existing entry for the same video")
	addCmd.Flags().DurationVar(&addThumbAt, "thumb-at", 0, "thumbnail position in the video (default is thumbnail.offset)")
}

func runAdd(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	s, err := openSession(ctx, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	req := coordinator.IngestRequest{
		Source:  args[0],
		Title:   addTitle,
		Mode:    library.ModeCopy,
		Force:   addForce,
		ThumbAt: s.cfg.Thumbnail.Offset,
	}
	if addMove {
		req.Mode = library.ModeMove
	}
	if cmd.Flags().Changed("thumb-at") {
		req.ThumbAt = addThumbAt
	}

	res, err := s.coordinator().Ingest(ctx, req)
	if err != nil {
		logger.Error("add failed", "source", args[0], "error", err)
		return err
	}

	verb := "Added"
	if res.Replaced {
		verb = "Replaced"
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %q (id %d, video: %s, thumbnail: %s)\n",
		verb, res.Asset.Title, res.Asset.ID, res.Asset.VideoPath, res.Asset.ThumbnailPath)
	return nil
}
