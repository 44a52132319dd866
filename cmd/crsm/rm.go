package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/schaermu/crsm/internal/coordinator"
	"github.com/schaermu/crsm/internal/index"
)

var (
	rmKeepFiles bool
	rmYes       bool
)

var rmCmd = &cobra.Command{
	Use:   "rm <id|title>",
	Short: "Remove a video from the repository",
	Long: `Rm deletes the index entry for a video and then its video and thumbnail
files. A numeric argument is an id; anything else must match exactly one title.`,
	Args: cobra.ExactArgs(1),
	RunE: runRm,
}

func init() {
	rmCmd.Flags().BoolVar(&rmKeepFiles, "keep-files", false, "only remove the index entry, keep the files")
	rmCmd.Flags().BoolVarP(&rmYes, "yes", "y", false, "skip the confirmation prompt")
}

func runRm(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	s, err := openSession(ctx, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	coord := s.coordinator()
	out := cmd.OutOrStdout()

	asset, err := coord.Resolve(ctx, args[0])
	if err != nil {
		var ambiguous *coordinator.AmbiguousTargetError
		if errors.As(err, &ambiguous) {
			printMatches(out, ambiguous.Matches)
		}
		return err
	}

	if !rmYes {
		ok, err := confirm(cmd.InOrStdin(), out, fmt.Sprintf("Remove %q (id %d)?", asset.Title, asset.ID))
		if err != nil {
			return userError(err)
		}
		if !ok {
			_, _ = fmt.Fprintln(out, "Cancelled.")
			return nil
		}
	}

	res, err := coord.Remove(ctx, strconv.FormatInt(asset.ID, 10), rmKeepFiles)
	var kept *coordinator.FilesNotRemovedWarning
	if err != nil && !errors.As(err, &kept) {
		return err
	}

	_, _ = fmt.Fprintf(out, "Removed: %q\n", res.Asset.Title)
	for _, p := range res.Missing {
		_, _ = fmt.Fprintf(out, "Warning: file was already missing: %s\n", p)
	}
	return err
}

func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	_, _ = fmt.Fprintf(out, "%s [y/N]: ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("failed to read answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func printMatches(out io.Writer, matches []index.Asset) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tTITLE\tVIDEO")
	for _, m := range matches {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\n", m.ID, m.Title, m.VideoPath)
	}
	_ = tw.Flush()
}
