package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/NathanEdg/SpikeReports/internal/config"
	"github.com/NathanEdg/SpikeReports/internal/domain"
)

func newTriggerCmd(cfg *config.Config) *cobra.Command {
	var collect bool

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Run one aggregation cycle now (or start a collection with --collect)",
		Long: "Runs against the configured database without the Socket Mode listener. " +
			"Stop a running server first, or use its POST /api/aggregate endpoint instead.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := wireApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if collect {
				manifest := a.collector.StartCollection(cmd.Context())
				return writeJSON(out, manifest)
			}

			res, err := a.runner.Run(cmd.Context())
			if err != nil {
				return err
			}
			if res.Skipped {
				_, err = fmt.Fprintln(out, "No reports collected, nothing to summarize.")
				return err
			}
			_, err = fmt.Fprintf(out, "Summary %d for %s posted (%d %s).\n",
				res.Record.ID, res.Record.Date, res.Record.TotalReports, domain.ReportNoun(res.Record.TotalReports))
			if err == nil && len(res.FailedChannels) > 0 {
				_, err = fmt.Fprintf(out, "Summaries failed for %v; their reports were kept.\n", res.FailedChannels)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&collect, "collect", false, "post collection prompts instead of aggregating")
	return cmd
}

func newHistoryCmd(cfg *config.Config) *cobra.Command {
	var (
		limit  int
		date   string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored daily summaries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			out := cmd.OutOrStdout()
			if date != "" {
				rec, err := repo.GetSummaryByDate(cmd.Context(), date)
				if err != nil {
					return err
				}
				if rec == nil {
					return fmt.Errorf("no summary for %s", date)
				}
				if asJSON {
					return writeJSON(out, rec)
				}
				return writeSummary(out, rec)
			}

			summaries, err := repo.ListSummaries(cmd.Context(), limit, 0)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(out, summaries)
			}
			return writeSummaryTable(out, summaries)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of summaries to list")
	cmd.Flags().StringVar(&date, "date", "", "show the summary for a YYYY-MM-DD date")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeSummaryTable(w io.Writer, summaries []domain.SummaryRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tREPORTS\tTEAMS\tCREATED")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n",
			s.ID, s.Date, humanize.Comma(int64(s.TotalReports)), len(s.ChannelSummaries), humanize.Time(s.CreatedAt))
	}
	return tw.Flush()
}

func writeSummary(w io.Writer, rec *domain.SummaryRecord) error {
	fmt.Fprintf(w, "Summary %d for %s (%d %s)\n\n%s\n",
		rec.ID, rec.Date, rec.TotalReports, domain.ReportNoun(rec.TotalReports), rec.MasterReport)
	for _, cs := range rec.ChannelSummaries {
		fmt.Fprintf(w, "\n%s (%d %s)\n%s\n", cs.TeamLabel, cs.ReportCount, domain.ReportNoun(cs.ReportCount), cs.Summary)
	}
	if rec.MeetingRecap != "" {
		fmt.Fprintf(w, "\nMeeting summary\n%s\n", rec.MeetingRecap)
	}
	return nil
}
