package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/tripbundle/tripbundle/internal/core/engine"
	"github.com/tripbundle/tripbundle/internal/core/store"
	"github.com/tripbundle/tripbundle/internal/output"
)

var (
	rateLimitListOutput string
	rateLimitListOut    string
	rateLimitListPrefix string
)

// rateLimitRow is the list view of one endpoint.
type rateLimitRow struct {
	Endpoint     string     `json:"endpoint"`
	RequestCount int        `json:"request_count"`
	Limit        int        `json:"limit"`
	Window       string     `json:"window"`
	WindowStart  time.Time  `json:"window_start"`
	BackoffUntil *time.Time `json:"backoff_until,omitempty"`
	Last429At    *time.Time `json:"last_429_at,omitempty"`
}

var rateLimitListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored rate-limit state",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := rateLimitFormat(rateLimitListOutput)
		if err != nil {
			return err
		}

		rates, limiter, err := openRateStore(cmd.Context())
		if err != nil {
			return err
		}
		defer rates.Close() // nolint:errcheck // best-effort cleanup

		query := store.RateLimitQuery{Prefix: strings.TrimSpace(rateLimitListPrefix)}
		if query.Prefix == "" {
			query.All = true
		}
		entries, err := rates.ListRateLimits(cmd.Context(), query)
		if err != nil {
			return err
		}

		sink, err := openSink(rateLimitListOut, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		return writeRateLimitList(sink.writer, format, rateLimitRows(entries, limiter))
	},
}

func rateLimitRows(entries []store.RateLimitEntry, limiter *engine.RateLimiter) []rateLimitRow {
	rows := make([]rateLimitRow, 0, len(entries))
	for _, entry := range entries {
		limit := limiter.LimitFor(entry.Endpoint)
		rows = append(rows, rateLimitRow{
			Endpoint:     entry.Endpoint,
			RequestCount: entry.State.RequestCount,
			Limit:        limit.RequestsPerWindow,
			Window:       limit.WindowDuration.String(),
			WindowStart:  entry.State.WindowStart,
			BackoffUntil: entry.State.BackoffUntil,
			Last429At:    entry.State.Last429At,
		})
	}
	return rows
}

func writeRateLimitList(w io.Writer, format output.Format, rows []rateLimitRow) error {
	if format == output.FormatJSON {
		payload, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "(no stored rate-limit state)")
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Endpoint", "Used", "Limit", "Window", "Backoff Until"})
	for _, row := range rows {
		t.AppendRow(table.Row{row.Endpoint, row.RequestCount, row.Limit, row.Window, formatOptionalTime(row.BackoffUntil)})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
	})
	t.Render()
	return nil
}

func formatOptionalTime(ts *time.Time) string {
	if ts == nil || ts.IsZero() {
		return "-"
	}
	return ts.UTC().Format(time.RFC3339)
}

func rateLimitFormat(value string) (output.Format, error) {
	format, err := output.ParseFormat(value)
	if err != nil {
		return "", err
	}
	if format != output.FormatJSON && format != output.FormatTable {
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
	return format, nil
}

func init() {
	rateLimitListCmd.Flags().StringVar(&rateLimitListOutput, "output-format", string(output.FormatTable), "Output format: table|json")
	rateLimitListCmd.Flags().StringVar(&rateLimitListOut, "out", "", "Write output to a file (default stdout)")
	rateLimitListCmd.Flags().StringVar(&rateLimitListPrefix, "prefix", "", "Only list endpoints with this prefix")
}
