package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrowsec/ghtrail/internal/evidence"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Recover deleted or rewritten history from GH Archive",
}

func init() {
	rootCmd.AddCommand(recoverCmd)
	recoverCmd.AddCommand(recoverIssueCmd, recoverPRCmd, recoverCommitCmd, recoverForcePushCmd)

	for _, cmd := range []*cobra.Command{recoverIssueCmd, recoverPRCmd, recoverCommitCmd} {
		cmd.Flags().String("around", "", "approximate creation time (RFC3339), required")
	}
	recoverForcePushCmd.Flags().String("from", "", "window start (RFC3339)")
	recoverForcePushCmd.Flags().String("to", "", "window end (RFC3339)")
}

func parseAround(cmd *cobra.Command) (time.Time, error) {
	raw, _ := cmd.Flags().GetString("around")
	if raw == "" {
		return time.Time{}, fmt.Errorf("--around is required (RFC3339)")
	}
	around, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("--around: %w", err)
	}
	return around, nil
}

var recoverIssueCmd = &cobra.Command{
	Use:   "issue <owner> <repo> <number>",
	Short: "Reconstruct a deleted issue from archived events",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		number, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("issue number: %w", err)
		}
		around, err := parseAround(cmd)
		if err != nil {
			return err
		}
		f, err := newFactory(cmd.Context(), true)
		if err != nil {
			return err
		}
		return stored(cmd, func() ([]evidence.Evidence, error) {
			return one(f.RecoverIssue(cmd.Context(), args[0], args[1], number, around))
		})
	},
}

var recoverPRCmd = &cobra.Command{
	Use:   "pr <owner> <repo> <number>",
	Short: "Reconstruct a deleted pull request from archived events",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		number, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("pr number: %w", err)
		}
		around, err := parseAround(cmd)
		if err != nil {
			return err
		}
		f, err := newFactory(cmd.Context(), true)
		if err != nil {
			return err
		}
		return stored(cmd, func() ([]evidence.Evidence, error) {
			return one(f.RecoverPullRequest(cmd.Context(), args[0], args[1], number, around))
		})
	},
}

var recoverCommitCmd = &cobra.Command{
	Use:   "commit <owner> <repo> <sha>",
	Short: "Reconstruct a vanished commit from archived push events",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		around, err := parseAround(cmd)
		if err != nil {
			return err
		}
		f, err := newFactory(cmd.Context(), true)
		if err != nil {
			return err
		}
		return stored(cmd, func() ([]evidence.Evidence, error) {
			return one(f.RecoverCommit(cmd.Context(), args[0], args[1], args[2], around))
		})
	},
}

var recoverForcePushCmd = &cobra.Command{
	Use:   "force-push <owner> <repo>",
	Short: "Detect force pushes in a window of archived push events",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, to, err := parseWindow(cmd)
		if err != nil {
			return err
		}
		f, err := newFactory(cmd.Context(), true)
		if err != nil {
			return err
		}
		return stored(cmd, func() ([]evidence.Evidence, error) {
			found, err := f.DetectForcePushes(cmd.Context(), args[0], args[1], from, to)
			if err != nil {
				return nil, err
			}
			items := make([]evidence.Evidence, len(found))
			for i, fp := range found {
				items[i] = fp
			}
			return items, nil
		})
	},
}
