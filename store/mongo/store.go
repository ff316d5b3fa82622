package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/store"
	"github.com/xraph/tokenledger/txn"
)

// Collection name constants.
const (
	colTransactions = txn.Table
	colArchive      = txn.ArchiveTable
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for the ledger collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("%w: mongo: %s indexes: %v", tokenledger.ErrMigrationFailed, col, err)
		}
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

func (s *Store) Create(ctx context.Context, t *txn.Transaction) error {
	_, err := s.mdb.NewInsert(toTransactionModel(t)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %v", tokenledger.ErrAlreadyExists, err)
		}
		return fmt.Errorf("tokenledger/mongo: create transaction: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, txID id.TransactionID) (*txn.Transaction, error) {
	return s.findOne(ctx, bson.M{"_id": txID.String()})
}

func (s *Store) GetByIdempotencyKey(ctx context.Context, key string) (*txn.Transaction, error) {
	if key == "" {
		return nil, tokenledger.ErrNotFound
	}
	return s.findOne(ctx, bson.M{txn.AttrIdempotencyKey: key})
}

func (s *Store) findOne(ctx context.Context, filter bson.M) (*txn.Transaction, error) {
	var m transactionModel
	err := s.mdb.NewFind(&m).Filter(filter).Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tokenledger.ErrNotFound
		}
		return nil, fmt.Errorf("tokenledger/mongo: find transaction: %w", err)
	}
	return fromTransactionModel(&m)
}

// Update matches on id, version and state in one filter, so the write is
// atomic on a single document without a transaction.
func (s *Store) Update(ctx context.Context, txID id.TransactionID, m txn.Mutation, c txn.Condition) (*txn.Transaction, error) {
	filter := bson.M{"_id": txID.String(), txn.AttrVersion: c.Version}
	if c.State != nil {
		filter[txn.AttrState] = string(*c.State)
	}

	q := s.mdb.NewUpdate((*transactionModel)(nil)).Filter(filter)
	if m.State != nil {
		q = q.Set(txn.AttrState, string(*m.State))
	}
	if m.Metadata != nil {
		q = q.Set(txn.AttrMetadata, string(m.Metadata))
	}
	if m.ExpiresAt != nil {
		q = q.Set(txn.AttrExpiresAt, m.ExpiresAt.UTC())
	}
	if m.SettledAt != nil {
		q = q.Set(txn.AttrSettledAt, m.SettledAt.UTC())
	}
	q = q.Set(txn.AttrVersion, m.Version).Set(txn.AttrUpdatedAt, m.UpdatedAt.UTC())

	res, err := q.Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("tokenledger/mongo: update transaction: %w", err)
	}
	if res.MatchedCount() == 0 {
		if _, getErr := s.Get(ctx, txID); getErr != nil {
			return nil, getErr
		}
		return nil, tokenledger.ErrConditionFailed
	}
	return s.Get(ctx, txID)
}

func (s *Store) Delete(ctx context.Context, txID id.TransactionID) error {
	res, err := s.mdb.NewDelete((*transactionModel)(nil)).
		Filter(bson.M{"_id": txID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tokenledger/mongo: delete transaction: %w", err)
	}
	if res.DeletedCount() == 0 {
		return tokenledger.ErrNotFound
	}
	return nil
}

func (s *Store) ListByUser(ctx context.Context, userID string, opts txn.ListOpts) ([]*txn.Transaction, error) {
	return s.find(ctx, bson.M{txn.AttrUserID: userID}, txn.AttrCreatedAt, opts)
}

func (s *Store) ListByBeneficiary(ctx context.Context, beneficiaryID string, opts txn.ListOpts) ([]*txn.Transaction, error) {
	return s.find(ctx, bson.M{txn.AttrBeneficiaryID: beneficiaryID}, txn.AttrCreatedAt, opts)
}

func (s *Store) ListByRefAndState(ctx context.Context, refID string, state txn.State) ([]*txn.Transaction, error) {
	return s.find(ctx, bson.M{txn.AttrRefID: refID, txn.AttrState: string(state)}, txn.AttrCreatedAt, txn.ListOpts{})
}

func (s *Store) ListByRefAndType(ctx context.Context, refID string, typ txn.Type) ([]*txn.Transaction, error) {
	return s.find(ctx, bson.M{txn.AttrRefID: refID, txn.AttrType: string(typ)}, txn.AttrCreatedAt, txn.ListOpts{})
}

func (s *Store) ListExpiredHolds(ctx context.Context, before time.Time, limit int) ([]*txn.Transaction, error) {
	return s.find(ctx, expiredHoldsFilter(before), txn.AttrExpiresAt, txn.ListOpts{Limit: limit})
}

// expiredHoldsFilter carries the type term so the partial state/expires_at
// index applies.
func expiredHoldsFilter(before time.Time) bson.M {
	return bson.M{
		txn.AttrType:      string(txn.TypeHold),
		txn.AttrState:     string(txn.StateOpen),
		txn.AttrExpiresAt: bson.M{"$lt": before.UTC()},
	}
}

func (s *Store) ListCreatedBefore(ctx context.Context, before time.Time, limit int) ([]*txn.Transaction, error) {
	filter := bson.M{txn.AttrCreatedAt: bson.M{"$lt": before.UTC()}}
	return s.find(ctx, filter, txn.AttrCreatedAt, txn.ListOpts{Limit: limit})
}

func (s *Store) find(ctx context.Context, filter bson.M, sortKey string, opts txn.ListOpts) ([]*txn.Transaction, error) {
	var models []transactionModel

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: sortKey, Value: 1}, {Key: "_id", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tokenledger/mongo: list transactions: %w", err)
	}
	return fromTransactionModels(models)
}

func (s *Store) Archive(ctx context.Context, t *txn.Transaction) error {
	m := toTransactionModel(t)
	_, err := s.mdb.NewUpdate((*archivedModel)(nil)).
		Filter(bson.M{"_id": m.ID}).
		SetUpdate(bson.M{"$set": archiveDocument(m, time.Now())}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tokenledger/mongo: archive transaction: %w", err)
	}
	return nil
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for the ledger collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colTransactions: {
			{
				Keys:    bson.D{{Key: txn.AttrUserID, Value: 1}, {Key: txn.AttrCreatedAt, Value: 1}},
				Options: options.Index().SetName(txn.IndexUserCreated),
			},
			{
				Keys:    bson.D{{Key: txn.AttrBeneficiaryID, Value: 1}, {Key: txn.AttrCreatedAt, Value: 1}},
				Options: options.Index().SetName(txn.IndexBeneficiaryCreated),
			},
			{
				Keys:    bson.D{{Key: txn.AttrRefID, Value: 1}, {Key: txn.AttrState, Value: 1}},
				Options: options.Index().SetName(txn.IndexRefState),
			},
			{
				Keys:    bson.D{{Key: txn.AttrRefID, Value: 1}, {Key: txn.AttrType, Value: 1}},
				Options: options.Index().SetName(txn.IndexRefType),
			},
			{
				Keys: bson.D{{Key: txn.AttrState, Value: 1}, {Key: txn.AttrExpiresAt, Value: 1}},
				Options: options.Index().SetName(txn.IndexStateExpires).
					SetPartialFilterExpression(bson.M{txn.AttrType: string(txn.TypeHold)}),
			},
			{
				Keys:    bson.D{{Key: txn.AttrCreatedAt, Value: 1}},
				Options: options.Index().SetName(txn.IndexCreated),
			},
			{
				Keys: bson.D{{Key: txn.AttrIdempotencyKey, Value: 1}},
				Options: options.Index().SetName(txn.IndexIdempotencyKey).SetUnique(true).
					SetPartialFilterExpression(bson.M{txn.AttrIdempotencyKey: bson.M{"$gt": ""}}),
			},
		},
		colArchive: {
			{
				Keys:    bson.D{{Key: txn.AttrUserID, Value: 1}, {Key: txn.AttrCreatedAt, Value: 1}},
				Options: options.Index().SetName(txn.IndexArchiveUser),
			},
		},
	}
}
