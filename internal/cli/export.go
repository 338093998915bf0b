package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrowsec/ghtrail/internal/evidence"
	"github.com/harrowsec/ghtrail/internal/store"
)

var exportCmd = &cobra.Command{
	Use:   "export <dest.json>",
	Short: "Write matching evidence to a new file",
	Long: `export copies evidence into a standalone file, optionally narrowed by
the same filters as list. With --sign-key the destination carries a
detached HMAC signature and can only be loaded with the same key.`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().String("kind", "", "filter by kind")
	exportCmd.Flags().String("actor", "", "filter by actor login")
	exportCmd.Flags().String("repo", "", "filter by repository full name")
	exportCmd.Flags().String("source", "", "filter by source")
	exportCmd.Flags().String("sign-key", "", "HMAC key for the exported file (defaults to store.signing_key)")
}

func runExport(cmd *cobra.Command, args []string) error {
	s, err := loadStore()
	if err != nil {
		return err
	}

	kind, _ := cmd.Flags().GetString("kind")
	actor, _ := cmd.Flags().GetString("actor")
	repo, _ := cmd.Flags().GetString("repo")
	src, _ := cmd.Flags().GetString("source")

	out := store.New()
	added := out.AddAll(s.FilterSlice(store.Filter{
		Kind:   kind,
		Actor:  actor,
		Repo:   repo,
		Source: evidence.Source(src),
	}))
	if added == 0 {
		return fmt.Errorf("nothing matched the filter")
	}

	key, _ := cmd.Flags().GetString("sign-key")
	if key == "" {
		key = cfg.Store.SigningKey
	}
	dest := args[0]
	if key != "" {
		signer, err := store.NewSigner([]byte(key))
		if err != nil {
			return err
		}
		if err := out.SaveSigned(dest, signer); err != nil {
			return err
		}
	} else if err := out.Save(dest); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "exported %d item(s) to %s\n", added, dest)
	return nil
}
