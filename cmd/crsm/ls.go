package main

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/schaermu/crsm/internal/index"
)

var (
	lsLimit  int
	lsOffset int
	lsSearch string
	lsSort   string
	lsDesc   bool
	lsFields string
)

// listFields maps column names to their rendering
var listFields = map[string]func(a index.Asset) string{
	"id":             func(a index.Asset) string { return strconv.FormatInt(a.ID, 10) },
	"title":          func(a index.Asset) string { return a.Title },
	"video_path":     func(a index.Asset) string { return a.VideoPath },
	"thumbnail_path": func(a index.Asset) string { return a.ThumbnailPath },
	"size":           func(a index.Asset) string { return humanize.Bytes(uint64(a.Video.Size)) },
	"added":          func(a index.Asset) string { return humanize.Time(a.CreatedAt) },
}

var allFields = []string{"id", "title", "video_path", "thumbnail_path", "size", "added"}

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List videos in the repository",
	Example: `  crsm ls
  crsm ls --limit 10
  crsm ls --search chill
  crsm ls --sort title --desc
  crsm ls --fields id,title,size
  crsm ls --fields '*'`,
	Args: cobra.NoArgs,
	RunE: runLs,
}

func init() {
	lsCmd.Flags().IntVarP(&lsLimit, "limit", "n", 50, "maximum number of rows (0 for all)")
	lsCmd.Flags().IntVar(&lsOffset, "offset", 0, "skip the first N rows")
	lsCmd.Flags().StringVarP(&lsSearch, "search", "s", "", "filter by title substring")
	lsCmd.Flags().StringVar(&lsSort, "sort", "id", "sort by id or title")
	lsCmd.Flags().BoolVar(&lsDesc, "desc", false, "sort descending")
	lsCmd.Flags().StringVarP(&lsFields, "fields", "f", "id,title", "comma-separated columns or '*': "+strings.Join(allFields, ","))
}

func parseFields(spec string) ([]string, error) {
	if strings.TrimSpace(spec) == "*" {
		return allFields, nil
	}
	var fields []string
	for _, f := range strings.Split(spec, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if _, ok := listFields[f]; !ok {
			return nil, fmt.Errorf("invalid field %q (valid fields: %s)", f, strings.Join(allFields, ", "))
		}
		fields = append(fields, f)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("no fields selected")
	}
	return fields, nil
}

func runLs(cmd *cobra.Command, args []string) error {
	if lsSort != "id" && lsSort != "title" {
		return userError(fmt.Errorf("invalid sort value %q (must be id or title)", lsSort))
	}
	if lsLimit < 0 || lsOffset < 0 {
		return userError(fmt.Errorf("--limit and --offset must not be negative"))
	}
	fields, err := parseFields(lsFields)
	if err != nil {
		return userError(err)
	}

	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	s, err := openSession(ctx, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	assets, err := s.store.List(ctx, index.ListOptions{
		Limit:  lsLimit,
		Offset: lsOffset,
		Search: lsSearch,
		SortBy: lsSort,
		Desc:   lsDesc,
	})
	if err != nil {
		return runtimeError(fmt.Errorf("failed to list videos: %w", err))
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, strings.ToUpper(strings.Join(fields, "\t")))
	for _, a := range assets {
		cols := make([]string, len(fields))
		for i, f := range fields {
			cols[i] = listFields[f](a)
		}
		_, _ = fmt.Fprintln(tw, strings.Join(cols, "\t"))
	}
	return tw.Flush()
}
