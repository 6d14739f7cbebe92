package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/FranksOps/serpd/internal/report"
	"github.com/FranksOps/serpd/internal/storage"
	"github.com/FranksOps/serpd/internal/storage/open"
)

type reportOptions struct {
	format  string
	since   time.Duration
	outcome string
	query   string
	limit   int
}

func newReportCmd(root *rootOptions) *cobra.Command {
	opts := &reportOptions{}
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarise the search audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if cfg.Storage == "" {
				return errors.New("report: no storage configured (set --storage or SERPD_STORAGE)")
			}
			store, err := open.Open(cmd.Context(), cfg.Storage)
			if err != nil {
				return err
			}
			defer store.Close()

			filter := storage.Filter{Query: opts.query, Outcome: opts.outcome, Limit: opts.limit}
			if opts.since > 0 {
				since := time.Now().Add(-opts.since)
				filter.Since = &since
			}
			records, err := store.Query(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), opts.format, report.GenerateSummary(records))
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.format, "format", "f", "text", "output format: text, json or html")
	f.DurationVar(&opts.since, "since", 0, "only include searches newer than this, e.g. 24h")
	f.StringVar(&opts.outcome, "outcome", "", "only include searches with this outcome")
	f.StringVar(&opts.query, "query", "", "only include searches for this exact query")
	f.IntVar(&opts.limit, "limit", 0, "only include the newest N searches")
	return cmd
}

func writeReport(w io.Writer, format string, s report.Summary) error {
	switch format {
	case "text":
		return report.WriteText(w, s)
	case "json":
		return report.WriteJSON(w, s)
	case "html":
		return report.WriteHTML(w, s)
	default:
		return fmt.Errorf("report: unknown format %q (want text, json or html)", format)
	}
}
