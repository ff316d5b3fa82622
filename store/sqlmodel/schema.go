package sqlmodel

import (
	"fmt"
	"strings"
	"time"

	"github.com/xraph/tokenledger/txn"
)

// Dialect carries the column types that differ between SQL backends.
type Dialect struct {
	BigInt    string
	Timestamp string
	Now       string
}

var (
	// Postgres is the PostgreSQL column dialect.
	Postgres = Dialect{BigInt: "BIGINT", Timestamp: "TIMESTAMPTZ", Now: "NOW()"}
	// SQLite is the SQLite column dialect.
	SQLite = Dialect{BigInt: "INTEGER", Timestamp: "TIMESTAMP", Now: "CURRENT_TIMESTAMP"}
)

// column is one line of a CREATE TABLE body.
type column struct {
	name string
	def  string
}

func (d Dialect) columns(live bool) []column {
	amount := d.BigInt + " NOT NULL"
	created := d.Timestamp + " NOT NULL"
	if live {
		amount += " CHECK (" + txn.AttrAmount + " > 0)"
		created += " DEFAULT " + d.Now
	}
	cols := []column{
		{txn.AttrID, "TEXT PRIMARY KEY"},
		{txn.AttrUserID, "TEXT NOT NULL"},
		{txn.AttrBeneficiaryID, "TEXT NOT NULL"},
		{txn.AttrType, "TEXT NOT NULL"},
		{txn.AttrAmount, amount},
		{txn.AttrPurpose, "TEXT NOT NULL DEFAULT ''"},
		{txn.AttrRefID, "TEXT NOT NULL"},
		{txn.AttrIdempotencyKey, "TEXT NOT NULL DEFAULT ''"},
		{txn.AttrMetadata, "TEXT NOT NULL DEFAULT ''"},
		{txn.AttrExpiresAt, d.Timestamp + " NOT NULL"},
		{txn.AttrState, "TEXT NOT NULL DEFAULT ''"},
		{txn.AttrVersion, d.BigInt + " NOT NULL DEFAULT 1"},
		{txn.AttrSettledAt, d.Timestamp},
		{txn.AttrCreatedAt, created},
		{txn.AttrUpdatedAt, created},
	}
	if !live {
		cols = append(cols, column{txn.AttrArchivedAt, d.Timestamp + " NOT NULL DEFAULT " + d.Now})
	}
	return cols
}

func createTable(name string, cols []column) string {
	lines := make([]string, len(cols))
	for i, c := range cols {
		lines[i] = fmt.Sprintf("    %-15s %s", c.name, c.def)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n);\n", name, strings.Join(lines, ",\n"))
}

func createIndex(unique bool, name, table string, cols []string, where string) string {
	kind := "INDEX"
	if unique {
		kind = "UNIQUE INDEX"
	}
	stmt := fmt.Sprintf("CREATE %s IF NOT EXISTS %s ON %s (%s)", kind, name, table, strings.Join(cols, ", "))
	if where != "" {
		stmt += " WHERE " + where
	}
	return stmt + ";\n"
}

// HoldPredicate is the WHERE clause of the partial state/expires_at index.
var HoldPredicate = fmt.Sprintf("%s = '%s'", txn.AttrType, txn.TypeHold)

// CreateTransactionsTable returns the DDL for the live table and its
// lookup indexes.
func (d Dialect) CreateTransactionsTable() string {
	var b strings.Builder
	b.WriteString(createTable(txn.Table, d.columns(true)))
	b.WriteString(createIndex(false, txn.IndexUserCreated, txn.Table, []string{txn.AttrUserID, txn.AttrCreatedAt}, ""))
	b.WriteString(createIndex(false, txn.IndexBeneficiaryCreated, txn.Table, []string{txn.AttrBeneficiaryID, txn.AttrCreatedAt}, ""))
	b.WriteString(createIndex(false, txn.IndexRefType, txn.Table, []string{txn.AttrRefID, txn.AttrType}, ""))
	b.WriteString(createIndex(false, txn.IndexCreated, txn.Table, []string{txn.AttrCreatedAt}, ""))
	b.WriteString(createIndex(true, txn.IndexIdempotencyKey, txn.Table, []string{txn.AttrIdempotencyKey},
		txn.AttrIdempotencyKey+" <> ''"))
	return b.String()
}

// CreateHoldIndexes returns the DDL for the indexes the hold lifecycle reads.
func (d Dialect) CreateHoldIndexes() string {
	return createIndex(false, txn.IndexRefState, txn.Table, []string{txn.AttrRefID, txn.AttrState}, "") +
		createIndex(false, txn.IndexStateExpires, txn.Table, []string{txn.AttrState, txn.AttrExpiresAt}, HoldPredicate)
}

// DropHoldIndexes reverses CreateHoldIndexes.
func (d Dialect) DropHoldIndexes() string {
	return fmt.Sprintf("DROP INDEX IF EXISTS %s;\nDROP INDEX IF EXISTS %s;\n", txn.IndexStateExpires, txn.IndexRefState)
}

// CreateArchiveTable returns the DDL for the archive table.
func (d Dialect) CreateArchiveTable() string {
	return createTable(txn.ArchiveTable, d.columns(false)) +
		createIndex(false, txn.IndexArchiveUser, txn.ArchiveTable, []string{txn.AttrUserID, txn.AttrCreatedAt}, "")
}

// DropTable returns the DDL that drops the named table.
func DropTable(name string) string {
	return "DROP TABLE IF EXISTS " + name
}

// Cond is one column comparison of a WHERE clause. Backends render the bind
// placeholder in their own dialect.
type Cond struct {
	Column string
	Op     string
	Value  any
}

// Numbered renders c with a $n placeholder.
func (c Cond) Numbered(argIdx int) string {
	return fmt.Sprintf("%s %s $%d", c.Column, c.Op, argIdx)
}

// Positional renders c with a ? placeholder.
func (c Cond) Positional() string {
	return c.Column + " " + c.Op + " ?"
}

// ExpiredHoldConds selects OPEN holds whose expiry is before the cutoff. The
// type term matches the predicate of the state/expires_at partial index.
func ExpiredHoldConds(before time.Time) []Cond {
	return []Cond{
		{Column: txn.AttrType, Op: "=", Value: string(txn.TypeHold)},
		{Column: txn.AttrState, Op: "=", Value: string(txn.StateOpen)},
		{Column: txn.AttrExpiresAt, Op: "<", Value: before.UTC()},
	}
}

// ExpiredHoldOrder is the scan order of ExpiredHoldConds.
var ExpiredHoldOrder = txn.AttrExpiresAt + " ASC"

// ListOrder is the stable order of user and beneficiary listings.
var ListOrder = txn.AttrCreatedAt + " ASC, " + txn.AttrID + " ASC"
