package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/schaermu/crsm/internal/config"
	"github.com/schaermu/crsm/internal/objectstore"
	"github.com/schaermu/crsm/internal/sync"
)

var (
	liveDryRun        bool
	liveNoSync        bool
	liveNoCatalog     bool
	liveBucket        string
	livePrefix        string
	livePublicBaseURL string
	liveConcurrency   int
	liveGzipCatalog   bool
)

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Publish the repository and its catalog to S3",
	Long: `Live rebuilds catalog.json from the index, compares every video, thumbnail
and the catalog against the bucket and uploads what is missing or changed.

The catalog is uploaded last and only when every asset it references reached
the bucket.`,
	Args: cobra.NoArgs,
	RunE: runLive,
}

func init() {
	f := liveCmd.Flags()
	f.BoolVar(&liveDryRun, "dry-run", false, "show what would be uploaded without uploading")
	f.BoolVar(&liveNoSync, "no-sync", false, "only write the local catalog")
	f.BoolVar(&liveNoCatalog, "no-catalog", false, "do not build or upload the catalog")
	f.StringVar(&liveBucket, "bucket", "", "bucket name (overrides s3.bucket)")
	f.StringVar(&livePrefix, "prefix", "", "key prefix (overrides s3.prefix)")
	f.StringVar(&livePublicBaseURL, "public-base-url", "", "public URL of the bucket (overrides s3.public_base_url)")
	f.IntVar(&liveConcurrency, "concurrency", 0, "parallel uploads (overrides publish.concurrency)")
	f.BoolVar(&liveGzipCatalog, "gzip-catalog", false, "upload the catalog gzip-encoded (overrides publish.gzip_catalog)")

	bindFlags(f, map[string]string{
		"bucket":          config.KeyS3Bucket,
		"prefix":          config.KeyS3Prefix,
		"public-base-url": config.KeyPublicBaseURL,
		"concurrency":     config.KeyConcurrency,
		"gzip-catalog":    config.KeyGzipCatalog,
	})
}

func runLive(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	s, err := openSession(ctx, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	var remote objectstore.Store
	if !liveNoSync {
		if err := s.cfg.ValidatePublish(); err != nil {
			return userError(fmt.Errorf("%w (use --bucket and --public-base-url or set them in the config)", err))
		}
		r, err := newRemote(s.cfg, logger)
		if err != nil {
			return userError(fmt.Errorf("failed to configure s3: %w", err))
		}
		remote = r
	} else if !liveNoCatalog && s.cfg.S3.PublicBaseURL == "" {
		return userError(fmt.Errorf("s3.public_base_url is required to build the catalog"))
	}

	engine := sync.NewEngine(s.lib, s.store, remote, logger, sync.Options{
		Prefix:        s.cfg.S3.Prefix,
		PublicBaseURL: s.cfg.S3.PublicBaseURL,
		Concurrency:   s.cfg.Publish.Concurrency,
		UploadTimeout: s.cfg.Publish.UploadTimeout,
		GzipCatalog:   s.cfg.Publish.GzipCatalog,
		DryRun:        liveDryRun,
		NoCatalog:     liveNoCatalog,
		NoSync:        liveNoSync,
	})

	report, err := engine.Run(ctx)
	if err != nil {
		logger.Error("publish failed", "error", err)
		return runtimeError(err)
	}

	printReport(cmd.OutOrStdout(), report)

	if report.Failed() {
		return runtimeError(fmt.Errorf("%d object(s) could not be published", len(report.Errors)))
	}
	return nil
}

func printReport(out io.Writer, r *sync.Report) {
	if r.CatalogPath != "" {
		_, _ = fmt.Fprintf(out, "Catalog: %s (%d entries)\n", r.CatalogPath, r.CatalogEntries)
	}
	if len(r.Results) == 0 && len(r.Errors) == 0 {
		return
	}

	var bytes uint64
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, res := range r.Results {
		if res.Status == sync.StatusSkipped {
			continue
		}
		if res.Status != sync.StatusFailed {
			bytes += uint64(res.Local.Fingerprint.Size)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", res.Status, res.Key, res.Reason)
	}
	_ = tw.Flush()

	if r.DryRun {
		_, _ = fmt.Fprintf(out, "Dry run: would upload %d (%s), skip %d\n",
			r.Count(sync.StatusWouldUpload), humanize.Bytes(bytes), r.Count(sync.StatusSkipped))
	} else {
		_, _ = fmt.Fprintf(out, "Uploaded %d (%s), skipped %d, failed %d\n",
			r.Count(sync.StatusUploaded), humanize.Bytes(bytes), r.Count(sync.StatusSkipped), len(r.Errors))
	}

	if len(r.Errors) > 0 {
		_, _ = fmt.Fprintln(out, "Errors:")
		for _, e := range r.Errors {
			_, _ = fmt.Fprintf(out, "  - %v\n", e)
		}
	}
}
