package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/horizonte-ai/atlas/internal/model"
)

var (
	analyseCompany         string
	analyseIndustry        string
	analyseWebsite         string
	analyseChallenge       string
	analyseLinkedIn        string
	analyseLinkedInFounder string
	analyseAllStages       bool
	analyseJSON            bool
	analyseOut             string
)

var analyseCmd = &cobra.Command{
	Use:   "analyse",
	Short: "Analyse one company and print the report",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "analyse")
		if err != nil {
			return err
		}
		defer env.Close()

		sub := model.Submission{
			Company:            analyseCompany,
			Industry:           analyseIndustry,
			WebsiteURL:         analyseWebsite,
			Challenge:          analyseChallenge,
			LinkedInCompanyURL: analyseLinkedIn,
			LinkedInFounderURL: analyseLinkedInFounder,
		}

		report, err := env.Pipeline.Analyse(ctx, sub, analyseAllStages)
		if err != nil {
			return eris.Wrap(err, "analyse")
		}

		md, _ := report[model.MetadataKey].(model.Metadata)
		zap.L().Info("analysis complete",
			zap.String("company", sub.Company),
			zap.String("quality_tier", string(md.QualityTier)),
			zap.Int("stages", len(md.StagesCompleted)),
			zap.Float64("cost_usd", md.TotalCostActualUSD),
			zap.Float64("duration_s", md.ProcessingTimeSeconds),
		)

		if analyseOut != "" {
			if err := writeReportFile(analyseOut, report); err != nil {
				return err
			}
			zap.L().Info("report written", zap.String("path", analyseOut))
		}

		if analyseJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}

		formatReportSummary(os.Stdout, sub.Company, md)
		return nil
	},
}

func init() {
	analyseCmd.Flags().StringVar(&analyseCompany, "company", "", "company name (required)")
	analyseCmd.Flags().StringVar(&analyseIndustry, "industry", "", "industry label")
	analyseCmd.Flags().StringVar(&analyseWebsite, "website", "", "company website URL")
	analyseCmd.Flags().StringVar(&analyseChallenge, "challenge", "", "the main challenge the company reports")
	analyseCmd.Flags().StringVar(&analyseLinkedIn, "linkedin-company", "", "LinkedIn company page URL")
	analyseCmd.Flags().StringVar(&analyseLinkedInFounder, "linkedin-founder", "", "LinkedIn founder profile URL")
	analyseCmd.Flags().BoolVar(&analyseAllStages, "all-stages", false, "run the full six-stage flow instead of the short flow")
	analyseCmd.Flags().BoolVar(&analyseJSON, "json", false, "print the full report JSON to stdout")
	analyseCmd.Flags().StringVar(&analyseOut, "out", "", "write the full report JSON to a file")
	_ = analyseCmd.MarkFlagRequired("company")
	rootCmd.AddCommand(analyseCmd)
}

func writeReportFile(path string, report model.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "create report file")
	}
	defer f.Close() //nolint:errcheck

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return eris.Wrap(err, "write report file")
	}
	return nil
}

// formatReportSummary writes the human-readable run summary to w.
func formatReportSummary(out io.Writer, company string, md model.Metadata) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Company:\t%s\n", company)
	_, _ = fmt.Fprintf(w, "Quality tier:\t%s\n", md.QualityTier)
	_, _ = fmt.Fprintf(w, "Stages:\t%s\n", strings.Join(md.StagesCompleted, ", "))
	_, _ = fmt.Fprintf(w, "Fields found:\t%d/%d\n", md.LoggingSummary.FieldsFound, md.LoggingSummary.FieldsExpected)
	_, _ = fmt.Fprintf(w, "Sources:\t%d ok, %d failed\n", md.LoggingSummary.SourcesSucceeded, md.LoggingSummary.SourcesFailed)
	_, _ = fmt.Fprintf(w, "Cost:\t$%.4f\n", md.TotalCostActualUSD)
	_, _ = fmt.Fprintf(w, "Duration:\t%.1fs\n", md.ProcessingTimeSeconds)
	if n := len(md.LoggingSummary.ValidationWarnings); n > 0 {
		_, _ = fmt.Fprintf(w, "Warnings:\t%d\n", n)
	}
	_ = w.Flush()
}
