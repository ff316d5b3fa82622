package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"

	"github.com/xraph/tokenledger/store/sqlmodel"
	"github.com/xraph/tokenledger/txn"
)

// Migrations is the grove migration group for the token ledger store (SQLite).
var Migrations = migrate.NewGroup("tokenledger")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_tokenledger_transactions",
			Version: "20250301000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, sqlmodel.SQLite.CreateTransactionsTable())
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
				_, err := exec.Exec(ctx, sqlmodel.SQLite.CreateHoldIndexes())
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, sqlmodel.SQLite.DropHoldIndexes())
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tokenledger_transactions_archive",
			Version: "20250301000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, sqlmodel.SQLite.CreateArchiveTable())
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, sqlmodel.DropTable(txn.ArchiveTable))
				return err
			},
		},
	)
}
