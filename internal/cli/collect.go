package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrowsec/ghtrail/internal/collect"
	"github.com/harrowsec/ghtrail/internal/evidence"
	"github.com/harrowsec/ghtrail/internal/source/gharchive"
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect evidence from a source",
}

func init() {
	rootCmd.AddCommand(collectCmd)
	collectCmd.AddCommand(
		collectCommitCmd,
		collectIssueCmd,
		collectPRCmd,
		collectFileCmd,
		collectBranchCmd,
		collectTagCmd,
		collectReleaseCmd,
		collectForksCmd,
		collectEventsCmd,
		collectSnapshotsCmd,
		collectDanglingCmd,
		collectVendorCmd,
		collectIOCCmd,
	)

	collectFileCmd.Flags().String("ref", "", "git ref to read the file at")
	collectForksCmd.Flags().Int("limit", 100, "max forks to list")
	collectEventsCmd.Flags().String("from", "", "window start (RFC3339)")
	collectEventsCmd.Flags().String("to", "", "window end (RFC3339)")
	collectEventsCmd.Flags().String("actor", "", "filter by actor login")
	collectEventsCmd.Flags().String("type", "", "filter by archive event type (e.g. PushEvent)")
	collectSnapshotsCmd.Flags().String("from", "", "earliest capture (YYYYMMDD)")
	collectSnapshotsCmd.Flags().String("to", "", "latest capture (YYYYMMDD)")
	collectSnapshotsCmd.Flags().Int("limit", 100, "max captures to list")
	collectDanglingCmd.Flags().String("repo-path", "", "path to the local clone")
	collectIOCCmd.Flags().String("url", "", "source URL the value must appear at (required)")
	collectIOCCmd.Flags().String("wayback", "", "substantiate against this archived capture (YYYYMMDDHHMMSS) instead of the live page")
	collectIOCCmd.Flags().String("extracted-from", "", "evidence ID the indicator was extracted from")
}

// stored runs fn, adds whatever it returns to the evidence file and
// saves. The shared shape of every collect subcommand.
func stored(cmd *cobra.Command, fn func() ([]evidence.Evidence, error)) error {
	s, err := loadStore()
	if err != nil {
		return err
	}
	cleanup, err := attachSinks(cmd.Context(), s)
	if err != nil {
		return err
	}
	defer cleanup()

	items, err := fn()
	if err != nil {
		return err
	}
	added := s.AddAll(items)
	if err := saveStore(s); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "collected %d item(s), %d new or upgraded, store now holds %d\n",
		len(items), added, s.Len())
	return nil
}

func one(ev evidence.Evidence, err error) ([]evidence.Evidence, error) {
	if err != nil {
		return nil, err
	}
	return []evidence.Evidence{ev}, nil
}

var collectCommitCmd = &cobra.Command{
	Use:   "commit <owner> <repo> <sha>",
	Short: "Collect a commit from the live API",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := newFactory(cmd.Context(), false)
		if err != nil {
			return err
		}
		return stored(cmd, func() ([]evidence.Evidence, error) {
			return one(f.CollectCommit(cmd.Context(), args[0], args[1], args[2]))
		})
	},
}

var collectIssueCmd = &cobra.Command{
	Use:   "issue <owner> <repo> <number>",
	Short: "Collect an issue or pull request from the live API",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		number, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("issue number: %w", err)
		}
		f, err := newFactory(cmd.Context(), false)
		if err != nil {
			return err
		}
		return stored(cmd, func() ([]evidence.Evidence, error) {
			return one(f.CollectIssue(cmd.Context(), args[0], args[1], number))
		})
	},
}

var collectPRCmd = &cobra.Command{
	Use:   "pr <owner> <repo> <number>",
	Short: "Collect a pull request from the live API",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		number, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("pull request number: %w", err)
		}
		f, err := newFactory(cmd.Context(), false)
		if err != nil {
			return err
		}
		return stored(cmd, func() ([]evidence.Evidence, error) {
			return one(f.CollectPullRequest(cmd.Context(), args[0], args[1], number))
		})
	},
}

var collectFileCmd = &cobra.Command{
	Use:   "file <owner> <repo> <path>",
	Short: "Collect file content at a ref",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, _ := cmd.Flags().GetString("ref")
		f, err := newFactory(cmd.Context(), false)
		if err != nil {
			return err
		}
		return stored(cmd, func() ([]evidence.Evidence, error) {
			return one(f.CollectFile(cmd.Context(), args[0], args[1], args[2], ref))
		})
	},
}

var collectBranchCmd = &cobra.Command{
	Use:   "branch <owner> <repo> <name>",
	Short: "Collect a branch head",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := newFactory(cmd.Context(), false)
		if err != nil {
			return err
		}
		return stored(cmd, func() ([]evidence.Evidence, error) {
			return one(f.CollectBranch(cmd.Context(), args[0], args[1], args[2]))
		})
	},
}

var collectTagCmd = &cobra.Command{
	Use:   "tag <owner> <repo> <name>",
	Short: "Collect a tag ref",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := newFactory(cmd.Context(), false)
		if err != nil {
			return err
		}
		return stored(cmd, func() ([]evidence.Evidence, error) {
			return one(f.CollectTag(cmd.Context(), args[0], args[1], args[2]))
		})
	},
}

var collectReleaseCmd = &cobra.Command{
	Use:   "release <owner> <repo> <tag>",
	Short: "Collect a release by tag",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := newFactory(cmd.Context(), false)
		if err != nil {
			return err
		}
		return stored(cmd, func() ([]evidence.Evidence, error) {
			return one(f.CollectRelease(cmd.Context(), args[0], args[1], args[2]))
		})
	},
}

var collectForksCmd = &cobra.Command{
	Use:   "forks <owner> <repo>",
	Short: "List forks of a repository",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		f, err := newFactory(cmd.Context(), false)
		if err != nil {
			return err
		}
		return stored(cmd, func() ([]evidence.Evidence, error) {
			forks, err := f.CollectForks(cmd.Context(), args[0], args[1], limit)
			if err != nil {
				return nil, err
			}
			items := make([]evidence.Evidence, len(forks))
			for i, fork := range forks {
				items[i] = fork
			}
			return items, nil
		})
	},
}

var collectEventsCmd = &cobra.Command{
	Use:   "events <owner> <repo>",
	Short: "Collect archived events from GH Archive",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, to, err := parseWindow(cmd)
		if err != nil {
			return err
		}
		actor, _ := cmd.Flags().GetString("actor")
		eventType, _ := cmd.Flags().GetString("type")

		f, err := newFactory(cmd.Context(), true)
		if err != nil {
			return err
		}
		return stored(cmd, func() ([]evidence.Evidence, error) {
			return f.CollectArchivedEvents(cmd.Context(), gharchive.EventQuery{
				From:      from,
				To:        to,
				Repo:      args[0] + "/" + args[1],
				Actor:     actor,
				EventType: eventType,
			})
		})
	},
}

var collectSnapshotsCmd = &cobra.Command{
	Use:   "snapshots <url>",
	Short: "List Wayback Machine captures of a URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		limit, _ := cmd.Flags().GetInt("limit")
		f, err := newFactory(cmd.Context(), false)
		if err != nil {
			return err
		}
		return stored(cmd, func() ([]evidence.Evidence, error) {
			return one(f.CollectSnapshots(cmd.Context(), args[0], from, to, limit))
		})
	},
}

var collectDanglingCmd = &cobra.Command{
	Use:   "dangling",
	Short: "Collect dangling commits from a local clone",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("repo-path")
		repo, err := openLocalRepo(path)
		if err != nil {
			return err
		}
		f, err := newFactory(cmd.Context(), false)
		if err != nil {
			return err
		}
		return stored(cmd, func() ([]evidence.Evidence, error) {
			commits, err := f.CollectDanglingCommits(repo)
			if err != nil {
				return nil, err
			}
			items := make([]evidence.Evidence, len(commits))
			for i, c := range commits {
				items[i] = c
			}
			return items, nil
		})
	},
}

var collectVendorCmd = &cobra.Command{
	Use:   "vendor <report.yaml>",
	Short: "Collect an article and its indicators from a vendor report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := collect.LoadVendorReport(args[0])
		if err != nil {
			return err
		}
		f, err := newFactory(cmd.Context(), false)
		if err != nil {
			return err
		}
		return stored(cmd, func() ([]evidence.Evidence, error) {
			return f.CollectVendorReport(cmd.Context(), report)
		})
	},
}

var collectIOCCmd = &cobra.Command{
	Use:   "ioc <type> <value>",
	Short: "Mint an indicator substantiated against its cited source",
	Long: `ioc records an indicator of compromise. The value must occur verbatim
in the content at --url or the command fails; --wayback substantiates
against an archived capture when the live page no longer exists.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		srcURL, _ := cmd.Flags().GetString("url")
		if srcURL == "" {
			return fmt.Errorf("--url is required")
		}
		timestamp, _ := cmd.Flags().GetString("wayback")
		extractedFrom, _ := cmd.Flags().GetString("extracted-from")

		f, err := newFactory(cmd.Context(), false)
		if err != nil {
			return err
		}
		params := collect.IOCParams{
			Type:          evidence.IOCType(args[0]),
			Value:         args[1],
			URL:           srcURL,
			ExtractedFrom: extractedFrom,
		}
		if timestamp != "" {
			content, err := f.SnapshotContent(cmd.Context(), srcURL, timestamp)
			if err != nil {
				return err
			}
			params.Content = content
			params.ObservedBy = evidence.SourceWayback
		}
		return stored(cmd, func() ([]evidence.Evidence, error) {
			return one(f.IOC(cmd.Context(), params))
		})
	},
}

func parseWindow(cmd *cobra.Command) (time.Time, time.Time, error) {
	fromStr, _ := cmd.Flags().GetString("from")
	toStr, _ := cmd.Flags().GetString("to")
	if fromStr == "" || toStr == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("--from and --to are required (RFC3339)")
	}
	from, err := time.Parse(time.RFC3339, fromStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("--from: %w", err)
	}
	to, err := time.Parse(time.RFC3339, toStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("--to: %w", err)
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("--to must be after --from")
	}
	return from, to, nil
}
