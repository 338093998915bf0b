package store

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harrowsec/ghtrail/internal/evidence"
	"github.com/harrowsec/ghtrail/internal/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Archive persists evidence to Postgres for investigations that outlive a
// process. The in-memory Store stays the working set; the archive is the
// durable copy.
type Archive struct {
	pool *pgxpool.Pool
	log  *logging.Logger
}

// NewArchive connects to Postgres and runs pending migrations.
func NewArchive(ctx context.Context, dsn string, log *logging.Logger) (*Archive, error) {
	if log == nil {
		log = logging.Default()
	}
	if err := runMigrations(dsn); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Archive{pool: pool, log: log}, nil
}

func runMigrations(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Close releases the connection pool.
func (a *Archive) Close() {
	a.pool.Close()
}

// Put upserts one evidence item. The JSON body is the record of truth;
// the typed columns exist for indexing.
func (a *Archive) Put(ctx context.Context, ev evidence.Evidence) error {
	body, err := evidence.Marshal(ev)
	if err != nil {
		return err
	}
	var actor, repo string
	if who := ev.Actor(); who != nil {
		actor = who.Login
	}
	if r := ev.Repo(); r != nil {
		repo = r.FullName
	}

	_, err = a.pool.Exec(ctx, `
		INSERT INTO evidence (id, kind, source, actor, repo, occurred_at, is_event, body)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET body = EXCLUDED.body, source = EXCLUDED.source,
		    actor = EXCLUDED.actor, repo = EXCLUDED.repo,
		    occurred_at = EXCLUDED.occurred_at, updated_at = now()`,
		ev.ID(), ev.Kind(), string(ev.Provenance().Source), actor, repo,
		evidence.NormTime(ev.Time()), evidence.IsEvent(ev), body)
	return err
}

// PutAll archives a batch inside one transaction.
func (a *Archive) PutAll(ctx context.Context, items []evidence.Evidence) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, ev := range items {
		body, err := evidence.Marshal(ev)
		if err != nil {
			return err
		}
		var actor, repo string
		if who := ev.Actor(); who != nil {
			actor = who.Login
		}
		if r := ev.Repo(); r != nil {
			repo = r.FullName
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO evidence (id, kind, source, actor, repo, occurred_at, is_event, body)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE
			SET body = EXCLUDED.body, source = EXCLUDED.source,
			    actor = EXCLUDED.actor, repo = EXCLUDED.repo,
			    occurred_at = EXCLUDED.occurred_at, updated_at = now()`,
			ev.ID(), ev.Kind(), string(ev.Provenance().Source), actor, repo,
			evidence.NormTime(ev.Time()), evidence.IsEvent(ev), body); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// Get loads one item by ID.
func (a *Archive) Get(ctx context.Context, id string) (evidence.Evidence, error) {
	var body []byte
	err := a.pool.QueryRow(ctx, `SELECT body FROM evidence WHERE id = $1`, id).Scan(&body)
	if err != nil {
		return nil, err
	}
	return evidence.Unmarshal(body)
}

// LoadAll reads the whole archive into an in-memory Store.
func (a *Archive) LoadAll(ctx context.Context) (*Store, error) {
	rows, err := a.pool.Query(ctx, `SELECT body FROM evidence ORDER BY occurred_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	s := New()
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		ev, err := evidence.Unmarshal(body)
		if err != nil {
			return nil, err
		}
		s.Add(ev)
	}
	return s, rows.Err()
}
