package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/harrowgate/turnengine/pkg/store"
)

// db is the minimal interface used by every repository. Both *pgxpool.Pool
// and pgx.Tx satisfy it, so repositories are constructed identically whether
// they run inside a transaction or directly against the pool.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	_ store.UnitOfWork = (*Store)(nil)
	_ store.Scope      = (*txScope)(nil)
)

// Store is the pool-bound, non-transactional implementation of
// store.UnitOfWork. Begin opens a transactional store.Scope bound to the
// same pool.
type Store struct {
	pool *pgxpool.Pool
	repoSet
}

// repoSet holds one repository instance per entity, all bound to the same
// db. It is embedded by both Store (pool-bound) and txScope (tx-bound).
type repoSet struct {
	campaigns  *campaignRepo
	actors     *actorRepo
	players    *playerRepo
	sessions   *sessionRepo
	turns      *turnRepo
	snapshots  *snapshotRepo
	timers     *timerRepo
	inflight   *inflightRepo
	embeddings *embeddingRepo
	media      *mediaRepo
	outbox     *outboxRepo
}

func newRepoSet(d db) repoSet {
	return repoSet{
		campaigns:  &campaignRepo{db: d},
		actors:     &actorRepo{db: d},
		players:    &playerRepo{db: d},
		sessions:   &sessionRepo{db: d},
		turns:      &turnRepo{db: d},
		snapshots:  &snapshotRepo{db: d},
		timers:     &timerRepo{db: d},
		inflight:   &inflightRepo{db: d},
		embeddings: &embeddingRepo{db: d},
		media:      &mediaRepo{db: d},
		outbox:     &outboxRepo{db: d},
	}
}

func (r repoSet) Campaigns() store.CampaignRepo   { return r.campaigns }
func (r repoSet) Actors() store.ActorRepo         { return r.actors }
func (r repoSet) Players() store.PlayerRepo       { return r.players }
func (r repoSet) Sessions() store.SessionRepo     { return r.sessions }
func (r repoSet) Turns() store.TurnRepo           { return r.turns }
func (r repoSet) Snapshots() store.SnapshotRepo   { return r.snapshots }
func (r repoSet) Timers() store.TimerRepo         { return r.timers }
func (r repoSet) Inflight() store.InflightRepo    { return r.inflight }
func (r repoSet) Embeddings() store.EmbeddingRepo { return r.embeddings }
func (r repoSet) Media() store.MediaRepo          { return r.media }
func (r repoSet) Outbox() store.OutboxRepo        { return r.outbox }

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, registers pgvector types on every connection,
// and runs Migrate so the schema exists before first use.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{pool: pool, repoSet: newRepoSet(pool)}, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() { s.pool.Close() }

// Pool exposes the underlying pool for health checks and the outbox drain
// worker, which needs pool-level access without a standing transaction.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Begin opens a transactional store.Scope. Per store.UnitOfWork's contract,
// nested scopes are disallowed — callers must not call Begin again before
// Commit/Rollback on the returned Scope.
func (s *Store) Begin(ctx context.Context) (store.Scope, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	return &txScope{tx: tx, repoSet: newRepoSet(tx)}, nil
}

// txScope is a transactional store.Scope. Once Commit or Rollback returns,
// its repositories must not be used again.
type txScope struct {
	tx pgx.Tx
	repoSet
}

func (s *txScope) Commit(ctx context.Context) error {
	if err := s.tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (s *txScope) Rollback(ctx context.Context) error {
	err := s.tx.Rollback(ctx)
	if err == nil || err == pgx.ErrTxClosed {
		return nil
	}
	return fmt.Errorf("postgres: rollback: %w", err)
}
