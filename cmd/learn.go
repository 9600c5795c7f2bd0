package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/horizonte-ai/atlas/internal/learner"
	"github.com/horizonte-ai/atlas/internal/model"
)

var learnCmd = &cobra.Command{
	Use:   "learn",
	Short: "Source-trust learning maintenance",
	Long:  "Commands for recomputing and inspecting the learned per-source confidence table.",
}

// -- learn refresh --

var learnRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Recompute source confidences from recent user feedback",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("maintenance"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		l := learner.New(st,
			learner.WithWindow(time.Duration(cfg.Learner.WindowDays)*24*time.Hour),
			learner.WithMinSuggestions(cfg.Learner.MinSuggestions),
		)

		updated, err := l.RefreshSourceConfidences(ctx)
		if err != nil {
			return eris.Wrap(err, "learn refresh")
		}

		zap.L().Info("source confidences refreshed",
			zap.Int("updated", updated),
			zap.Int("window_days", cfg.Learner.WindowDays),
		)
		fmt.Printf("Updated %d (source, field) pairs.\n", updated)
		return nil
	},
}

// -- learn sources --

var learnSourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Show the learned per-source confidence table",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("maintenance"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		perf, err := st.ListSourcePerformance(ctx)
		if err != nil {
			return eris.Wrap(err, "learn sources")
		}

		if len(perf) == 0 {
			fmt.Fprintln(os.Stderr, "No source performance recorded yet.")
			return nil
		}

		formatSourcePerformance(os.Stdout, perf)
		return nil
	},
}

func init() {
	learnCmd.AddCommand(learnRefreshCmd)
	learnCmd.AddCommand(learnSourcesCmd)
	rootCmd.AddCommand(learnCmd)
}

// formatSourcePerformance writes the confidence table to w.
func formatSourcePerformance(out io.Writer, perf []model.SourcePerformance) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tFIELD\tCONFIDENCE\tSUCCESS\tATTEMPTS\tADJUST\tUPDATED")
	_, _ = fmt.Fprintln(w, "------\t-----\t----------\t-------\t--------\t------\t-------")

	for _, p := range perf {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%.2f\t%.0f%%\t%d\t%.2f\t%s\n",
			p.Source,
			p.FieldName,
			p.ConfidenceScore,
			p.SuccessRate*100,
			p.TotalAttempts,
			p.LearnedAdjustment,
			p.LastUpdated.Format("2006-01-02"),
		)
	}
	_ = w.Flush()
}
