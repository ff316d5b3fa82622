package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/store"
	"github.com/xraph/tokenledger/store/sqlmodel"
	"github.com/xraph/tokenledger/txn"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("%w: postgres: create migration executor: %v", tokenledger.ErrMigrationFailed, err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: postgres: %v", tokenledger.ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a row. The id primary key and the partial unique index
// on idempotency_key both surface as ErrAlreadyExists.
func (s *Store) Create(ctx context.Context, t *txn.Transaction) error {
	_, err := s.pg.NewInsert(sqlmodel.FromTransaction(t)).Exec(ctx)
	if sqlmodel.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %v", tokenledger.ErrAlreadyExists, err)
	}
	return err
}

func (s *Store) Get(ctx context.Context, txID id.TransactionID) (*txn.Transaction, error) {
	m := new(sqlmodel.Transaction)
	err := s.pg.NewSelect(m).Where(txn.AttrID+" = $1", txID.String()).Scan(ctx)
	if err != nil {
		if sqlmodel.IsNoRows(err) {
			return nil, tokenledger.ErrNotFound
		}
		return nil, err
	}
	return m.ToTransaction()
}

func (s *Store) GetByIdempotencyKey(ctx context.Context, key string) (*txn.Transaction, error) {
	if key == "" {
		return nil, tokenledger.ErrNotFound
	}
	m := new(sqlmodel.Transaction)
	err := s.pg.NewSelect(m).Where(txn.AttrIdempotencyKey+" = $1", key).Scan(ctx)
	if err != nil {
		if sqlmodel.IsNoRows(err) {
			return nil, tokenledger.ErrNotFound
		}
		return nil, err
	}
	return m.ToTransaction()
}

// Update writes m guarded by the row's version and, when set, its state.
// Zero affected rows are told apart by re-reading the row.
func (s *Store) Update(ctx context.Context, txID id.TransactionID, m txn.Mutation, c txn.Condition) (*txn.Transaction, error) {
	q := s.pg.NewUpdate((*sqlmodel.Transaction)(nil))

	argIdx := 0
	set := func(col string, v any) {
		argIdx++
		q = q.Set(fmt.Sprintf("%s = $%d", col, argIdx), v)
	}
	where := func(col string, v any) {
		argIdx++
		q = q.Where(fmt.Sprintf("%s = $%d", col, argIdx), v)
	}

	if m.State != nil {
		set(txn.AttrState, string(*m.State))
	}
	if m.Metadata != nil {
		set(txn.AttrMetadata, string(m.Metadata))
	}
	if m.ExpiresAt != nil {
		set(txn.AttrExpiresAt, m.ExpiresAt.UTC())
	}
	if m.SettledAt != nil {
		set(txn.AttrSettledAt, m.SettledAt.UTC())
	}
	set(txn.AttrVersion, m.Version)
	set(txn.AttrUpdatedAt, m.UpdatedAt.UTC())
	where(txn.AttrID, txID.String())
	where(txn.AttrVersion, c.Version)
	if c.State != nil {
		where(txn.AttrState, string(*c.State))
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		if _, getErr := s.Get(ctx, txID); getErr != nil {
			return nil, getErr
		}
		return nil, tokenledger.ErrConditionFailed
	}
	return s.Get(ctx, txID)
}

func (s *Store) Delete(ctx context.Context, txID id.TransactionID) error {
	res, err := s.pg.NewDelete((*sqlmodel.Transaction)(nil)).
		Where(txn.AttrID+" = $1", txID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return tokenledger.ErrNotFound
	}
	return nil
}

func (s *Store) ListByUser(ctx context.Context, userID string, opts txn.ListOpts) ([]*txn.Transaction, error) {
	return s.list(ctx, txn.AttrUserID+" = $1", userID, opts)
}

func (s *Store) ListByBeneficiary(ctx context.Context, beneficiaryID string, opts txn.ListOpts) ([]*txn.Transaction, error) {
	return s.list(ctx, txn.AttrBeneficiaryID+" = $1", beneficiaryID, opts)
}

func (s *Store) list(ctx context.Context, where string, arg string, opts txn.ListOpts) ([]*txn.Transaction, error) {
	var models []sqlmodel.Transaction
	q := s.pg.NewSelect(&models).Where(where, arg)
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr(sqlmodel.ListOrder)

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return sqlmodel.ToTransactions(models)
}

func (s *Store) ListByRefAndState(ctx context.Context, refID string, state txn.State) ([]*txn.Transaction, error) {
	var models []sqlmodel.Transaction
	err := s.pg.NewSelect(&models).
		Where(txn.AttrRefID+" = $1", refID).
		Where(txn.AttrState+" = $2", string(state)).
		OrderExpr(txn.AttrCreatedAt + " ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return sqlmodel.ToTransactions(models)
}

func (s *Store) ListByRefAndType(ctx context.Context, refID string, typ txn.Type) ([]*txn.Transaction, error) {
	var models []sqlmodel.Transaction
	err := s.pg.NewSelect(&models).
		Where(txn.AttrRefID+" = $1", refID).
		Where(txn.AttrType+" = $2", string(typ)).
		OrderExpr(txn.AttrCreatedAt + " ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return sqlmodel.ToTransactions(models)
}

// ListExpiredHolds filters on type as well as state so the query is served
// by the partial index on (state, expires_at).
func (s *Store) ListExpiredHolds(ctx context.Context, before time.Time, limit int) ([]*txn.Transaction, error) {
	var models []sqlmodel.Transaction
	q := s.pg.NewSelect(&models)
	for i, c := range sqlmodel.ExpiredHoldConds(before) {
		q = q.Where(c.Numbered(i+1), c.Value)
	}
	err := q.OrderExpr(sqlmodel.ExpiredHoldOrder).
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return sqlmodel.ToTransactions(models)
}

func (s *Store) ListCreatedBefore(ctx context.Context, before time.Time, limit int) ([]*txn.Transaction, error) {
	var models []sqlmodel.Transaction
	err := s.pg.NewSelect(&models).
		Where(txn.AttrCreatedAt+" < $1", before.UTC()).
		OrderExpr(txn.AttrCreatedAt + " ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return sqlmodel.ToTransactions(models)
}

// Archive upserts the row into the archive table, so a purge retried after
// a failed delete does not trip over its own earlier copy.
func (s *Store) Archive(ctx context.Context, t *txn.Transaction) error {
	_, err := s.pg.NewInsert(sqlmodel.Archive(t, time.Now())).
		OnConflict("(" + txn.AttrID + ") DO UPDATE").
		Set(txn.AttrArchivedAt + " = EXCLUDED." + txn.AttrArchivedAt).
		Exec(ctx)
	return err
}
