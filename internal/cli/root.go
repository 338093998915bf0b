// Package cli implements the ghtrail command tree.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harrowsec/ghtrail/internal/announce"
	"github.com/harrowsec/ghtrail/internal/collect"
	"github.com/harrowsec/ghtrail/internal/config"
	"github.com/harrowsec/ghtrail/internal/evidence"
	"github.com/harrowsec/ghtrail/internal/logging"
	"github.com/harrowsec/ghtrail/internal/source/gharchive"
	"github.com/harrowsec/ghtrail/internal/source/github"
	"github.com/harrowsec/ghtrail/internal/source/gitlocal"
	"github.com/harrowsec/ghtrail/internal/source/wayback"
	"github.com/harrowsec/ghtrail/internal/store"
)

var (
	cfgFile   string
	storePath string
	cfg       *config.Config
	log       *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ghtrail",
	Short: "GitHub forensic evidence collector",
	Long: `ghtrail collects, stores and verifies forensic evidence about GitHub
repositories: live API state, archived events from GH Archive, Wayback
captures, local clone contents, and vendor-reported indicators.

Evidence is typed, deterministic and re-verifiable: every item records
exactly how it was obtained.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command tree.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml)")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "evidence file (default from config)")
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not load config: %v\n", err)
		os.Exit(1)
	}
	log = logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	logging.SetDefault(log)
	if storePath == "" {
		storePath = cfg.Store.Path
	}
}

// loadStore opens the evidence file, or starts empty when it does not
// exist yet.
func loadStore() (*store.Store, error) {
	if _, err := os.Stat(storePath); os.IsNotExist(err) {
		return store.New(), nil
	}
	if cfg.Store.SigningKey != "" {
		signer, err := store.NewSigner([]byte(cfg.Store.SigningKey))
		if err != nil {
			return nil, err
		}
		return store.LoadSigned(storePath, signer)
	}
	return store.Load(storePath)
}

func saveStore(s *store.Store) error {
	if cfg.Store.SigningKey != "" {
		signer, err := store.NewSigner([]byte(cfg.Store.SigningKey))
		if err != nil {
			return err
		}
		return s.SaveSigned(storePath, signer)
	}
	return s.Save(storePath)
}

// attachSinks wires the optional NATS announcer and Postgres archive to
// the store. The returned cleanup closes whatever got opened.
func attachSinks(ctx context.Context, s *store.Store) (func(), error) {
	var closers []func()

	if cfg.NATS.Enabled {
		pub, err := announce.Connect(cfg.NATS.URL, log)
		if err != nil {
			return nil, err
		}
		pub.AttachTo(s)
		closers = append(closers, pub.Close)
	}

	if cfg.Archive.Enabled {
		archive, err := store.NewArchive(ctx, cfg.Archive.DSN, log)
		if err != nil {
			return nil, err
		}
		s.OnAdd(func(ev evidence.Evidence) {
			if err := archive.Put(ctx, ev); err != nil {
				log.Warn("failed to archive evidence", "evidence_id", ev.ID(), "error", err)
			}
		})
		closers = append(closers, archive.Close)
	}

	return func() {
		for _, fn := range closers {
			fn()
		}
	}, nil
}

func newGitHubClient() *github.Client {
	gcfg := github.Config{
		BaseURL:    cfg.GitHub.BaseURL,
		Token:      cfg.GitHub.Token,
		Timeout:    cfg.GitHub.Timeout,
		Budget:     cfg.GitHub.Budget,
		MaxRetries: cfg.GitHub.MaxRetries,
		Logger:     log,
	}
	if cfg.Redis.Enabled {
		gcfg.Cache = github.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
	}
	return github.New(gcfg)
}

func newArchiveClient(ctx context.Context) (*gharchive.Client, error) {
	if cfg.GHArchive.CredentialsFile == "" {
		return nil, fmt.Errorf("gharchive.credentials_file not configured")
	}
	return gharchive.New(ctx, gharchive.Config{
		Credentials: gharchive.Credentials{
			File:      cfg.GHArchive.CredentialsFile,
			ProjectID: cfg.GHArchive.ProjectID,
		},
		MaxBytesBilled: cfg.GHArchive.MaxBytesBilled,
	})
}

// newFactory assembles the collect factory from configuration.
// needArchive controls whether missing BigQuery credentials are fatal.
func newFactory(ctx context.Context, needArchive bool) (*collect.Factory, error) {
	deps := collect.Deps{
		GitHub: newGitHubClient(),
		Wayback: wayback.New(wayback.Config{
			CDXURL:     cfg.Wayback.CDXURL,
			ArchiveURL: cfg.Wayback.ArchiveURL,
			Timeout:    cfg.Wayback.Timeout,
		}),
		Logger: log,
	}
	archive, err := newArchiveClient(ctx)
	if err != nil {
		if needArchive {
			return nil, err
		}
	} else {
		deps.Archive = archive
	}
	return collect.New(deps), nil
}

func openLocalRepo(path string) (collect.GitRepo, error) {
	if path == "" {
		path = cfg.Git.RepoPath
	}
	if path == "" {
		return nil, fmt.Errorf("no repository path given (flag or git.repo_path)")
	}
	return gitlocal.Open(path)
}
