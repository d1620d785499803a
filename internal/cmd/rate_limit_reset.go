package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tripbundle/tripbundle/internal/core/store"
	"github.com/tripbundle/tripbundle/internal/output"
)

var (
	rateLimitResetAll      bool
	rateLimitResetEndpoint string
	rateLimitResetPrefix   string
	rateLimitResetYes      bool
	rateLimitResetDryRun   bool
	rateLimitResetOutput   string
	rateLimitResetOut      string
)

var rateLimitResetCmd = &cobra.Command{
	Use:   "reset [endpoint]",
	Short: "Reset stored rate-limit state",
	Example: `  tripbundle rate-limit reset api.tavily.com
  tripbundle rate-limit reset --prefix api. --dry-run
  tripbundle rate-limit reset --all --yes`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := rateLimitFormat(rateLimitResetOutput)
		if err != nil {
			return err
		}
		query, err := rateLimitResetQuery(args)
		if err != nil {
			return err
		}

		rates, _, err := openRateStore(cmd.Context())
		if err != nil {
			return err
		}
		defer rates.Close() // nolint:errcheck // best-effort cleanup

		matched, err := rates.ListRateLimits(cmd.Context(), query)
		if err != nil {
			return err
		}

		sink, err := openSink(rateLimitResetOut, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		if rateLimitResetDryRun {
			return writeRateLimitResetResult(format, sink.writer, len(matched), 0, true)
		}

		deleted, err := rates.ResetRateLimits(cmd.Context(), query)
		if err != nil {
			return err
		}
		return writeRateLimitResetResult(format, sink.writer, len(matched), deleted, false)
	},
}

// rateLimitResetQuery builds the selection from the positional endpoint and
// flags, refusing an unconfirmed --all.
func rateLimitResetQuery(args []string) (store.RateLimitQuery, error) {
	endpoint := strings.TrimSpace(rateLimitResetEndpoint)
	if len(args) == 1 {
		if endpoint != "" && endpoint != strings.TrimSpace(args[0]) {
			return store.RateLimitQuery{}, errors.New("endpoint given both as argument and --endpoint")
		}
		endpoint = strings.TrimSpace(args[0])
	}
	query := store.RateLimitQuery{
		All:      rateLimitResetAll,
		Endpoint: endpoint,
		Prefix:   strings.TrimSpace(rateLimitResetPrefix),
	}
	if err := query.Validate(); err != nil {
		return store.RateLimitQuery{}, err
	}
	if query.All && !rateLimitResetYes && !rateLimitResetDryRun {
		return store.RateLimitQuery{}, errors.New("--all requires --yes (or use --dry-run)")
	}
	return query, nil
}

func writeRateLimitResetResult(format output.Format, w io.Writer, matched int, deleted int64, dryRun bool) error {
	if format == output.FormatJSON {
		payload, err := json.MarshalIndent(map[string]any{
			"matched": matched,
			"deleted": deleted,
			"dry_run": dryRun,
		}, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	if dryRun {
		_, err := fmt.Fprintf(w, "Would delete %d rate-limit entr(ies)\n", matched)
		return err
	}
	_, err := fmt.Fprintf(w, "Deleted %d/%d rate-limit entr(ies)\n", deleted, matched)
	return err
}

func init() {
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetAll, "all", false, "Reset all endpoints")
	rateLimitResetCmd.Flags().StringVar(&rateLimitResetEndpoint, "endpoint", "", "Reset a single endpoint (exact match)")
	rateLimitResetCmd.Flags().StringVar(&rateLimitResetPrefix, "prefix", "", "Reset endpoints with matching prefix")
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetYes, "yes", false, "Confirm destructive reset")
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetDryRun, "dry-run", false, "Show what would be deleted")
	rateLimitResetCmd.Flags().StringVar(&rateLimitResetOutput, "output-format", string(output.FormatTable), "Output format: table|json")
	rateLimitResetCmd.Flags().StringVar(&rateLimitResetOut, "out", "", "Write output to a file (default stdout)")
}
