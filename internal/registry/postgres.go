package registry

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresConfig configures a PostgresRegistry.
type PostgresConfig struct {
	// DSN is a postgres:// URL.
	DSN             string
	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration
	// Migrate applies the embedded schema on open.
	Migrate bool
}

// PostgresRegistry stores deployment records in PostgreSQL. Writes to one key
// are serialized across processes with a transaction-scoped advisory lock.
type PostgresRegistry struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

const recordColumns = `id, network, contract_name, address, tx_hash, block_number, status,
	deployer, nonce, gas_limit, gas_used, raw_tx, error, supersedes, created_at, updated_at`

// NewPostgresRegistry connects to PostgreSQL and optionally applies migrations.
func NewPostgresRegistry(ctx context.Context, cfg PostgresConfig) (*PostgresRegistry, error) {
	if cfg.Migrate {
		if err := RunMigrations(cfg.DSN); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewPostgresRegistryFromPool(pool), nil
}

// NewPostgresRegistryFromPool wraps an existing pool.
func NewPostgresRegistryFromPool(pool *pgxpool.Pool) *PostgresRegistry {
	return &PostgresRegistry{
		pool: pool,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// RunMigrations applies all pending registry migrations.
func RunMigrations(dsn string) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migrations source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, dsn)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (p *PostgresRegistry) Lookup(ctx context.Context, network, contractName string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM deployments WHERE network = $1 AND contract_name = $2`

	rec, err := scanRecord(Key(network, contractName), p.pool.QueryRow(ctx, query, network, contractName))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(network, contractName)
	}
	if err != nil {
		return nil, fmt.Errorf("Lookup: %w", err)
	}
	return rec, nil
}

func (p *PostgresRegistry) Record(ctx context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	return p.withKeyLock(ctx, rec.Network, rec.ContractName, func(tx pgx.Tx, e *Entry) error {
		if e == nil {
			e = &Entry{}
		}
		changed, superseded := e.apply(rec, p.now())
		if !changed {
			return nil
		}
		if superseded != nil {
			if err := insertHistory(ctx, tx, superseded); err != nil {
				return err
			}
		}
		return upsertCurrent(ctx, tx, e.Current)
	})
}

func (p *PostgresRegistry) MarkConfirmed(ctx context.Context, network, contractName string, blockNumber uint64) error {
	return p.withKeyLock(ctx, network, contractName, func(tx pgx.Tx, e *Entry) error {
		if e == nil {
			return notFound(network, contractName)
		}
		changed, err := e.confirm(blockNumber, p.now())
		if err != nil || !changed {
			return err
		}
		return upsertCurrent(ctx, tx, e.Current)
	})
}

func (p *PostgresRegistry) MarkFailed(ctx context.Context, network, contractName, reason string) error {
	return p.withKeyLock(ctx, network, contractName, func(tx pgx.Tx, e *Entry) error {
		if e == nil {
			return notFound(network, contractName)
		}
		changed, err := e.fail(reason, p.now())
		if err != nil || !changed {
			return err
		}
		return upsertCurrent(ctx, tx, e.Current)
	})
}

// withKeyLock runs fn in a transaction holding the advisory lock for the key.
// The entry passed to fn carries only the current record.
func (p *PostgresRegistry) withKeyLock(ctx context.Context, network, contractName string, fn func(pgx.Tx, *Entry) error) error {
	key := Key(network, contractName)

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}

	query := `SELECT ` + recordColumns + ` FROM deployments WHERE network = $1 AND contract_name = $2`
	cur, err := scanRecord(key, tx.QueryRow(ctx, query, network, contractName))
	var e *Entry
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return err
	default:
		e = &Entry{Current: cur}
	}

	if err := fn(tx, e); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrPersist, err)
	}
	return nil
}

func upsertCurrent(ctx context.Context, tx pgx.Tx, r *Record) error {
	query := `
		INSERT INTO deployments (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (network, contract_name) DO UPDATE SET
			id = EXCLUDED.id,
			address = EXCLUDED.address,
			tx_hash = EXCLUDED.tx_hash,
			block_number = EXCLUDED.block_number,
			status = EXCLUDED.status,
			deployer = EXCLUDED.deployer,
			nonce = EXCLUDED.nonce,
			gas_limit = EXCLUDED.gas_limit,
			gas_used = EXCLUDED.gas_used,
			raw_tx = EXCLUDED.raw_tx,
			error = EXCLUDED.error,
			supersedes = EXCLUDED.supersedes,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at`

	if _, err := tx.Exec(ctx, query, recordArgs(r)...); err != nil {
		return fmt.Errorf("%w: upsert %s: %v", ErrPersist, r.Key(), err)
	}
	return nil
}

func insertHistory(ctx context.Context, tx pgx.Tx, r *Record) error {
	query := `
		INSERT INTO deployment_history (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO NOTHING`

	if _, err := tx.Exec(ctx, query, recordArgs(r)...); err != nil {
		return fmt.Errorf("%w: history %s: %v", ErrPersist, r.Key(), err)
	}
	return nil
}

func recordArgs(r *Record) []any {
	var blockNumber *int64
	if r.BlockNumber != nil {
		bn := int64(*r.BlockNumber)
		blockNumber = &bn
	}
	var supersedes *string
	if r.Supersedes != nil {
		s := r.Supersedes.Hex()
		supersedes = &s
	}
	return []any{
		r.ID, r.Network, r.ContractName, r.Address.Hex(), r.TxHash.Hex(), blockNumber, string(r.Status),
		r.Deployer.Hex(), int64(r.Nonce), int64(r.GasLimit), int64(r.GasUsed), []byte(r.RawTx), r.Error,
		supersedes, r.CreatedAt, r.UpdatedAt,
	}
}

func (p *PostgresRegistry) History(ctx context.Context, network, contractName string) ([]*Record, error) {
	if _, err := p.Lookup(ctx, network, contractName); err != nil {
		return nil, err
	}

	query := `SELECT ` + recordColumns + ` FROM deployment_history
		WHERE network = $1 AND contract_name = $2
		ORDER BY superseded_at DESC, created_at DESC`

	rows, err := p.pool.Query(ctx, query, network, contractName)
	if err != nil {
		return nil, fmt.Errorf("History: %w", err)
	}
	defer rows.Close()

	key := Key(network, contractName)
	var history []*Record
	for rows.Next() {
		rec, err := scanRecord(key, rows)
		if err != nil {
			return nil, err
		}
		history = append(history, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("History: %w", err)
	}
	return history, nil
}

func (p *PostgresRegistry) List(ctx context.Context) ([]*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM deployments ORDER BY network, contract_name`

	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer rows.Close()

	var (
		records []*Record
		errs    []error
	)
	for rows.Next() {
		rec, err := scanRecord("", rows)
		var corrupt *RegistryCorruptionError
		switch {
		case errors.As(err, &corrupt):
			errs = append(errs, err)
		case err != nil:
			return nil, fmt.Errorf("List: %w", err)
		default:
			records = append(records, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	return records, errors.Join(errs...)
}

// Close closes the connection pool.
func (p *PostgresRegistry) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

// scanRecord decodes one row. An empty key means "use the row's own key".
func scanRecord(key string, row pgx.Row) (*Record, error) {
	var (
		id                                     uuid.UUID
		network, contractName, address, txHash string
		status, deployer, errMsg               string
		blockNumber                            *int64
		nonce, gasLimit, gasUsed               int64
		rawTx                                  []byte
		supersedes                             *string
		createdAt, updatedAt                   time.Time
	)
	if err := row.Scan(&id, &network, &contractName, &address, &txHash, &blockNumber, &status,
		&deployer, &nonce, &gasLimit, &gasUsed, &rawTx, &errMsg, &supersedes, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if key == "" {
		key = Key(network, contractName)
	}

	corrupt := func(format string, args ...any) error {
		return &RegistryCorruptionError{Key: key, Err: fmt.Errorf(format, args...)}
	}

	if !common.IsHexAddress(address) {
		return nil, corrupt("invalid address %q", address)
	}
	if !common.IsHexAddress(deployer) {
		return nil, corrupt("invalid deployer %q", deployer)
	}
	hash, err := decodeHash(txHash)
	if err != nil {
		return nil, corrupt("invalid tx hash %q: %v", txHash, err)
	}

	rec := &Record{
		ID:           id.String(),
		Network:      network,
		ContractName: contractName,
		Address:      common.HexToAddress(address),
		TxHash:       hash,
		Status:       Status(status),
		Deployer:     common.HexToAddress(deployer),
		Nonce:        uint64(nonce),
		GasLimit:     uint64(gasLimit),
		GasUsed:      uint64(gasUsed),
		RawTx:        rawTx,
		Error:        errMsg,
		CreatedAt:    createdAt.UTC(),
		UpdatedAt:    updatedAt.UTC(),
	}
	if blockNumber != nil {
		bn := uint64(*blockNumber)
		rec.BlockNumber = &bn
	}
	if supersedes != nil {
		prev, err := decodeHash(*supersedes)
		if err != nil {
			return nil, corrupt("invalid supersedes %q: %v", *supersedes, err)
		}
		rec.Supersedes = &prev
	}

	if err := checkDecoded(key, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func decodeHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return common.Hash{}, err
	}
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("want %d bytes, got %d", common.HashLength, len(b))
	}
	return common.BytesToHash(b), nil
}

var _ Registry = (*PostgresRegistry)(nil)
