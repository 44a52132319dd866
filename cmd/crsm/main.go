package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/schaermu/crsm/internal/config"
	"github.com/schaermu/crsm/internal/coordinator"
	"github.com/schaermu/crsm/internal/index"
	"github.com/schaermu/crsm/internal/library"
	"github.com/schaermu/crsm/internal/objectstore"
	"github.com/schaermu/crsm/internal/thumbnail"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile     string
	logLevel    string
	logFormat   string
	libraryPath string
	dbPath      string

	overrides = config.NewViper()
)

// Seams replaced in tests
var (
	commandRunner thumbnail.Runner = thumbnail.CommandRunner{}

	newRemote = func(cfg *config.Config, logger *slog.Logger) (remoteStore, error) {
		s3, err := objectstore.NewS3(cfg.ObjectStore(), logger)
		if err != nil {
			return nil, err
		}
		return s3, nil
	}
)

// remoteStore is the publish target as the CLI uses it
type remoteStore interface {
	objectstore.Store
	Ping(ctx context.Context) error
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "crsm",
	Short: "Manage a local video repository and publish it to S3",
	Long: `crsm manages a local content repository of videos and their generated
thumbnails, tracked in a metadata index, and publishes it to an S3-compatible
bucket together with a JSON catalog.

Every command is a single invocation; adding and removing videos either
completes fully or leaves the repository as it was.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "crsm %s\n", version)
		_, _ = fmt.Fprintf(out, "  commit: %s\n", commit)
		_, _ = fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "config file (default is $XDG_CONFIG_HOME/crsm/config.yaml)")
	pf.StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	pf.StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	pf.StringVarP(&libraryPath, "library", "l", "", "path to the video library (overrides library.path)")
	pf.StringVar(&dbPath, "db", "", "index database (overrides index.dsn)")

	bindFlags(pf, map[string]string{
		"library": config.KeyLibraryPath,
		"db":      config.KeyIndexDSN,
	})

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(liveCmd)
	rootCmd.AddCommand(thumbnailCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(versionCmd)
}

// bindFlags routes flags into the configuration override layer
func bindFlags(fs *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if err := overrides.BindPFlag(key, fs.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}

	// Logs go to stderr so command output stays pipeable
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	explicit := cfgFile != ""
	configPath := cfgFile
	if !explicit {
		configPath = config.DefaultPath()
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath, explicit)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyOverrides(overrides); err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"library", cfg.Library.Path,
		"index_driver", cfg.Index.Driver,
		"bucket", cfg.S3.Bucket,
		"prefix", cfg.S3.Prefix)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// session bundles what every repository command needs
type session struct {
	cfg    *config.Config
	lib    *library.Library
	store  *index.Store
	logger *slog.Logger
}

func openSession(ctx context.Context, logger *slog.Logger) (*session, error) {
	cfg, err := loadConfig(logger)
	if err != nil {
		return nil, userError(fmt.Errorf("failed to load config: %w", err))
	}

	store, err := index.Open(ctx, cfg.Index.Driver, cfg.Index.DSN)
	if err != nil {
		return nil, runtimeError(err)
	}

	return &session{
		cfg:    cfg,
		lib:    library.New(cfg.Library.Path),
		store:  store,
		logger: logger,
	}, nil
}

func (s *session) Close() {
	if err := s.store.Close(); err != nil {
		s.logger.Warn("failed to close index", "error", err)
	}
}

func (s *session) ffmpeg() *thumbnail.FFmpeg {
	return thumbnail.NewFFmpeg(s.cfg.Thumbnail.FFmpegPath, commandRunner)
}

func (s *session) coordinator() *coordinator.Coordinator {
	return coordinator.New(s.lib, s.store, s.ffmpeg(), s.logger, coordinator.Options{
		ThumbnailFormat:  s.cfg.Thumbnail.Format,
		ThumbnailTimeout: s.cfg.Thumbnail.Timeout,
	})
}

// exitError carries an explicit process exit code
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func userError(err error) error    { return &exitError{code: 1, err: err} }
func runtimeError(err error) error { return &exitError{code: 2, err: err} }

// exitCode maps an error to the process exit status: 1 for problems the user
// can fix by changing the invocation, 2 for failures while doing the work.
func exitCode(err error) int {
	var (
		validation *coordinator.ValidationError
		conflict   *coordinator.ConflictError
		ambiguous  *coordinator.AmbiguousTargetError
		notFound   *coordinator.NotFoundError
		transfer   *coordinator.TransferError
		thumb      *coordinator.ThumbnailError
		indexErr   *coordinator.IndexError
		kept       *coordinator.FilesNotRemovedWarning
		explicit   *exitError
	)

	switch {
	case err == nil:
		return 0
	case errors.As(err, &kept), errors.As(err, &transfer), errors.As(err, &thumb), errors.As(err, &indexErr):
		return 2
	case errors.As(err, &validation), errors.As(err, &conflict), errors.As(err, &ambiguous), errors.As(err, &notFound):
		return 1
	case errors.As(err, &explicit):
		return explicit.code
	default:
		// flag and argument errors raised by cobra
		return 1
	}
}
