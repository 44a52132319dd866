package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/schaermu/crsm/internal/coordinator"
	"github.com/schaermu/crsm/internal/index"
	"github.com/schaermu/crsm/internal/thumbnail"
)

var thumbnailView bool

// launch hands a file or directory to the desktop's default application
var launch = func(ctx context.Context, target string) error {
	var c *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		c = exec.CommandContext(ctx, "open", target)
	case "windows":
		c = exec.CommandContext(ctx, "cmd", "/c", "start", "", target)
	default:
		c = exec.CommandContext(ctx, "xdg-open", target)
	}
	if err := c.Start(); err != nil {
		return fmt.Errorf("failed to launch %s: %w", target, err)
	}
	return c.Process.Release()
}

// sqliteShell is the interactive client started by the db command
var sqliteShell = "sqlite3"

var thumbnailCmd = &cobra.Command{
	Use:   "thumbnail <id|title>",
	Short: "Show details of a video's thumbnail",
	Args:  cobra.ExactArgs(1),
	RunE:  runThumbnail,
}

var playCmd = &cobra.Command{
	Use:   "play <id|title>",
	Short: "Play a video with the system's default player",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlay,
}

var openCmd = &cobra.Command{
	Use:   "open",
	Short: "Open the library directory in the file manager",
	Args:  cobra.NoArgs,
	RunE:  runOpen,
}

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Open an sqlite3 shell on the index",
	Args:  cobra.NoArgs,
	RunE:  runDB,
}

func init() {
	thumbnailCmd.Flags().BoolVar(&thumbnailView, "view", false, "open the thumbnail in the default image viewer")
}

// resolveAsset looks up one record for the read-only commands
func resolveAsset(ctx context.Context, cmd *cobra.Command, s *session, identifier string) (index.Asset, error) {
	asset, err := s.coordinator().Resolve(ctx, identifier)
	var ambiguous *coordinator.AmbiguousTargetError
	if errors.As(err, &ambiguous) {
		printMatches(cmd.OutOrStdout(), ambiguous.Matches)
	}
	return asset, err
}

func runThumbnail(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	s, err := openSession(ctx, setupLogger())
	if err != nil {
		return err
	}
	defer s.Close()

	asset, err := resolveAsset(ctx, cmd, s, args[0])
	if err != nil {
		return err
	}

	path := s.lib.Abs(asset.ThumbnailPath)
	info, err := thumbnail.Inspect(path)
	if err != nil {
		return runtimeError(fmt.Errorf("failed to read thumbnail %s: %w", asset.ThumbnailPath, err))
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Thumbnail:  %s\n", asset.ThumbnailPath)
	_, _ = fmt.Fprintf(out, "Resolution: %dx%d\n", info.Width, info.Height)
	_, _ = fmt.Fprintf(out, "Format:     %s\n", info.Format)
	_, _ = fmt.Fprintf(out, "Size:       %s\n", humanize.Bytes(uint64(info.Size)))

	if thumbnailView {
		if err := launch(ctx, path); err != nil {
			return runtimeError(err)
		}
	}
	return nil
}

func runPlay(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	s, err := openSession(ctx, setupLogger())
	if err != nil {
		return err
	}
	defer s.Close()

	asset, err := resolveAsset(ctx, cmd, s, args[0])
	if err != nil {
		return err
	}

	path := s.lib.Abs(asset.VideoPath)
	if _, err := os.Stat(path); err != nil {
		return runtimeError(fmt.Errorf("video file not found: %w", err))
	}
	if err := launch(ctx, path); err != nil {
		return runtimeError(err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Playing: %q\n", asset.Title)
	return nil
}

func runOpen(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	cfg, err := loadConfig(setupLogger())
	if err != nil {
		return userError(fmt.Errorf("failed to load config: %w", err))
	}
	if _, err := os.Stat(cfg.Library.Path); err != nil {
		return userError(fmt.Errorf("library directory does not exist: %s", cfg.Library.Path))
	}
	if err := launch(ctx, cfg.Library.Path); err != nil {
		return runtimeError(err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Opened: %s\n", cfg.Library.Path)
	return nil
}

func runDB(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	cfg, err := loadConfig(setupLogger())
	if err != nil {
		return userError(fmt.Errorf("failed to load config: %w", err))
	}
	if cfg.Index.Driver != index.DriverSQLite {
		return userError(fmt.Errorf("db shell is only available for the sqlite driver (configured: %s)", cfg.Index.Driver))
	}

	bin, err := exec.LookPath(sqliteShell)
	if err != nil {
		return runtimeError(fmt.Errorf("%s not found in PATH: %w", sqliteShell, err))
	}

	shell := exec.CommandContext(ctx, bin, cfg.Index.DSN)
	shell.Stdin = cmd.InOrStdin()
	shell.Stdout = cmd.OutOrStdout()
	shell.Stderr = cmd.ErrOrStderr()
	if err := shell.Run(); err != nil {
		return runtimeError(fmt.Errorf("%s exited: %w", sqliteShell, err))
	}
	return nil
}
