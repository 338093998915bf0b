package cli

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/spf13/cobra"

	"github.com/harrowsec/ghtrail/internal/collect"
	"github.com/harrowsec/ghtrail/internal/evidence"
	"github.com/harrowsec/ghtrail/internal/store"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Write a synthetic incident to the evidence file",
	Long: `seed fabricates a plausible supply-chain incident: pushes from a new
account, a force push, a recovered deleted issue, a dangling commit and
vendor indicators. Useful for demos and for exercising downstream
tooling without touching any real source.`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().Int64("seed", 0, "random seed (0 means random)")
	seedCmd.Flags().Int("pushes", 6, "number of push events")
}

func fakeSHA(faker *gofakeit.Faker) string {
	sum := sha256.Sum256([]byte(faker.UUID()))
	return hex.EncodeToString(sum[:])[:40]
}

func runSeed(cmd *cobra.Command, args []string) error {
	seed, _ := cmd.Flags().GetInt64("seed")
	pushes, _ := cmd.Flags().GetInt("pushes")
	faker := gofakeit.New(seed)

	owner := faker.Username()
	repo := faker.Word()
	fullName := owner + "/" + repo
	attacker := faker.Username()

	// A fixed seed pins the timeline too, so repeated runs produce the
	// same evidence IDs.
	start := time.Now().UTC().Add(-30 * 24 * time.Hour).Truncate(time.Second)
	if seed != 0 {
		start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}

	s := store.New()

	var lastHead string
	for i := 0; i < pushes; i++ {
		when := start.Add(time.Duration(i) * 6 * time.Hour)
		head := fakeSHA(faker)
		ev := &evidence.PushEvent{
			EventBase: evidence.EventBase{
				EvidenceID:   evidence.ComputeID(evidence.KindPush, fullName, when.Format(time.RFC3339), attacker),
				When:         when,
				Who:          evidence.Actor{Login: attacker, ID: int64(faker.Number(1000, 999999))},
				What:         fmt.Sprintf("%s pushed to refs/heads/main", attacker),
				Repository:   evidence.NewRepository(owner, repo),
				Verification: evidence.Verification{Source: evidence.SourceGHArchive, QueriedAt: when},
			},
			EventType: evidence.KindPush,
			Ref:       "refs/heads/main",
			BeforeSHA: lastHead,
			AfterSHA:  head,
			Size:      faker.Number(1, 4),
		}
		s.Add(ev)
		lastHead = head
	}

	// The rewritten head survives as a dangling commit observation.
	discarded := fakeSHA(faker)
	when := start.Add(time.Duration(pushes) * 6 * time.Hour)
	s.Add(&evidence.ForcePushObservation{
		ObservationBase: evidence.ObservationBase{
			EvidenceID:   evidence.ComputeID(evidence.KindForcePush, fullName, discarded),
			OriginalWhen: &when,
			OriginalWho:  &evidence.Actor{Login: attacker},
			ObservedWhen: time.Now().UTC().Truncate(time.Second),
			ObservedBy:   evidence.SourceGHArchive,
			ObservedWhat: fmt.Sprintf("force push on refs/heads/main discarded %s", discarded),
			Repository:   evidence.NewRepository(owner, repo),
			Verification: evidence.Verification{Source: evidence.SourceGHArchive, QueriedAt: when},
		},
		ObservationType: evidence.KindForcePush,
		Branch:          "refs/heads/main",
		DeletedSHA:      discarded,
		ReplacedBySHA:   lastHead,
		Pusher:          evidence.Actor{Login: attacker},
	})

	// Vendor article plus substantiated indicators, minted through the
	// regular factory so the provenance gate still applies.
	domain := faker.DomainName()
	articleURL := fmt.Sprintf("https://%s/advisory/%s", faker.DomainName(), faker.UUID())
	content := fmt.Sprintf("The account %s pushed a downloader fetching from %s.", attacker, domain)
	f := collect.New(collect.Deps{})
	for _, p := range []collect.IOCParams{
		{Type: evidence.IOCUsername, Value: attacker, URL: articleURL, Content: content},
		{Type: evidence.IOCDomain, Value: domain, URL: articleURL, Content: content},
	} {
		ioc, err := f.IOC(context.Background(), p)
		if err != nil {
			return err
		}
		s.Add(ioc)
	}

	if err := saveStore(s); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "seeded %d item(s) about %s into %s\n", s.Len(), fullName, storePath)
	return nil
}
