package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrowsec/ghtrail/internal/evidence"
	"github.com/harrowsec/ghtrail/internal/store"
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarize the evidence file",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadStore()
		if err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		sum := s.Summary()
		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(sum)
		}
		fmt.Fprint(cmd.OutOrStdout(), sum.String())
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List evidence matching a filter",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadStore()
		if err != nil {
			return err
		}
		kind, _ := cmd.Flags().GetString("kind")
		actor, _ := cmd.Flags().GetString("actor")
		repo, _ := cmd.Flags().GetString("repo")
		src, _ := cmd.Flags().GetString("source")

		for ev := range s.Filter(store.Filter{
			Kind:   kind,
			Actor:  actor,
			Repo:   repo,
			Source: evidence.Source(src),
		}) {
			who := "-"
			if a := ev.Actor(); a != nil && a.Login != "" {
				who = a.Login
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-14s %-20s %s\n",
				ev.ID(), ev.Kind(), who, ev.Time().Format("2006-01-02T15:04:05Z"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(summaryCmd, listCmd)
	summaryCmd.Flags().Bool("json", false, "emit the summary as JSON")
	listCmd.Flags().String("kind", "", "filter by kind")
	listCmd.Flags().String("actor", "", "filter by actor login")
	listCmd.Flags().String("repo", "", "filter by repository full name")
	listCmd.Flags().String("source", "", "filter by source")
}
