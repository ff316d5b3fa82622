package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"

	"github.com/xraph/tokenledger/store/sqlmodel"
	"github.com/xraph/tokenledger/txn"
)

// Migrations is the grove migration group for the token ledger store.
var Migrations = migrate.NewGroup("tokenledger")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_tokenledger_transactions",
			Version: "20250301000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, sqlmodel.Postgres.CreateTransactionsTable())
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, sqlmodel.DropTable(txn.Table))
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tokenledger_hold_indexes",
			Version: "20250301000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, sqlmodel.Postgres.CreateHoldIndexes())
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, sqlmodel.Postgres.DropHoldIndexes())
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tokenledger_transactions_archive",
			Version: "20250301000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, sqlmodel.Postgres.CreateArchiveTable())
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, sqlmodel.DropTable(txn.ArchiveTable))
				return err
			},
		},
	)
}
