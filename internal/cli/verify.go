package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrowsec/ghtrail/internal/collect"
	"github.com/harrowsec/ghtrail/internal/evidence"
	"github.com/harrowsec/ghtrail/internal/source/gitlocal"
	"github.com/harrowsec/ghtrail/internal/store"
	"github.com/harrowsec/ghtrail/internal/verify"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [evidence-id...]",
	Short: "Re-check stored evidence against its sources",
	Long: `verify re-derives evidence from its recorded provenance and reports
whether each source still agrees. With no arguments the whole store is
verified.`,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().Bool("json", false, "emit the full report as JSON")
	verifyCmd.Flags().String("kind", "", "verify only this evidence kind")
}

func runVerify(cmd *cobra.Command, args []string) error {
	s, err := loadStore()
	if err != nil {
		return err
	}

	var items []evidence.Evidence
	if len(args) > 0 {
		for _, id := range args {
			ev, ok := s.Get(id)
			if !ok {
				return fmt.Errorf("no evidence with id %s", id)
			}
			items = append(items, ev)
		}
	} else {
		kind, _ := cmd.Flags().GetString("kind")
		items = s.FilterSlice(store.Filter{Kind: kind})
	}
	if len(items) == 0 {
		return fmt.Errorf("nothing to verify")
	}

	v := verify.New(verify.Deps{
		GitHub:      newGitHubClient(),
		Fetcher:     collect.NewHTTPFetcher(0),
		OpenRepo:    func(path string) (collect.GitRepo, error) { return gitlocal.Open(path) },
		Logger:      log,
		Concurrency: cfg.Verify.Concurrency,
	})

	results := v.VerifyAll(cmd.Context(), items)
	report := verify.NewReport(results, time.Now())

	asJSON, _ := cmd.Flags().GetBool("json")
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	for _, r := range report.Results {
		fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-14s %s\n", r.Kind, r.Label(), r.EvidenceID)
		for _, d := range r.Diffs {
			fmt.Fprintf(cmd.OutOrStdout(), "    %s\n", d)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(),
		"\nreport %s: %d confirmed, %d mismatched, %d unreachable (+%d expected), %d unverified\n",
		report.ReportID, report.Confirmed, report.Mismatched,
		report.Unreachable, report.UnreachableExpected, report.Unverified)

	if !report.Clean() {
		return fmt.Errorf("verification found contradictions")
	}
	return nil
}
