package tokenledger

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/tokenledger/txn"
)

// Balance is a user's derived token balance. It is a best-effort snapshot
// of two index reads and must not gate a debit on its own.
type Balance struct {
	UserID            string    `json:"user_id"`
	PaidTokens        int64     `json:"paid_tokens"`
	SystemFreeTokens  int64     `json:"system_free_tokens"`
	CreatorFreeTokens int64     `json:"creator_free_tokens"`
	EarnedTokens      int64     `json:"earned_tokens"`
	HeldTokens        int64     `json:"held_tokens"`
	TotalTokens       int64     `json:"total_tokens"`
	RowsScanned       int       `json:"rows_scanned"`
	ComputedAt        time.Time `json:"computed_at"`
}

// Negative reports whether any bucket went below zero. Negative balances
// are returned as computed and never clamped.
func (b *Balance) Negative() bool {
	return b.PaidTokens < 0 || b.SystemFreeTokens < 0 || b.CreatorFreeTokens < 0 ||
		b.EarnedTokens < 0 || b.TotalTokens < 0
}

// GetUserBalance derives a user's balance from the rows they originated
// and the captured holds that paid them. Either query failing fails the
// whole read.
func (l *Ledger) GetUserBalance(ctx context.Context, userID string) (b *Balance, err error) {
	ctx, span := l.startSpan(ctx, "GetUserBalance", attribute.String("tokenledger.user_id", userID))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(userID) == "" {
		return nil, invalid("user_id", "is required")
	}

	var originated, received []*txn.Transaction

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := l.pageAll(gctx, "query user index", func(opts txn.ListOpts) ([]*txn.Transaction, error) {
			return l.store.ListByUser(gctx, userID, opts)
		})
		originated = rows
		return err
	})
	g.Go(func() error {
		rows, err := l.pageAll(gctx, "query beneficiary index", func(opts txn.ListOpts) ([]*txn.Transaction, error) {
			return l.store.ListByBeneficiary(gctx, userID, opts)
		})
		received = rows
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	b = aggregate(userID, originated, received)
	b.ComputedAt = l.now().UTC()

	if b.Negative() {
		l.logger.Warn("negative balance",
			"user_id", userID,
			"paid_tokens", b.PaidTokens,
			"total_tokens", b.TotalTokens,
		)
		l.plugins.EmitNegativeBalance(ctx, userID, b.PaidTokens, b.TotalTokens)
	}

	return b, nil
}

func (l *Ledger) pageAll(ctx context.Context, op string, list func(txn.ListOpts) ([]*txn.Transaction, error)) ([]*txn.Transaction, error) {
	var all []*txn.Transaction
	opts := txn.ListOpts{Limit: l.balancePageSize}

	for {
		page, err := list(opts)
		if err != nil {
			return nil, &QueryError{Op: op, Err: err}
		}
		all = append(all, page...)
		if len(page) < opts.Limit {
			return all, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, &QueryError{Op: op, Err: err}
		}
		opts.Offset += len(page)
	}
}

// aggregate folds both streams into a balance.
//
// Originated rows: credits add to their bucket; debits, tips and holds
// that are OPEN, CAPTURED or missing a state subtract from paid tokens
// exactly once; REVERSED holds have no effect. A hold without state is
// counted as OPEN here even though the hold lifecycle refuses to settle it.
//
// Received rows: only CAPTURED holds paid by someone else count, as
// earned tokens. Everything else in that stream is already counted in its
// originator's balance.
func aggregate(userID string, originated, received []*txn.Transaction) *Balance {
	b := &Balance{UserID: userID, RowsScanned: len(originated) + len(received)}

	for _, t := range originated {
		switch t.Type {
		case txn.TypeCreditPaid:
			b.PaidTokens += t.Amount
		case txn.TypeCreditFree:
			if t.BeneficiaryID == txn.SystemBeneficiary {
				b.SystemFreeTokens += t.Amount
			} else {
				b.CreatorFreeTokens += t.Amount
			}
		case txn.TypeDebit, txn.TypeTip:
			b.PaidTokens -= t.Amount
		case txn.TypeHold:
			switch t.State {
			case txn.StateOpen, txn.StateNone:
				b.PaidTokens -= t.Amount
				b.HeldTokens += t.Amount
			case txn.StateCaptured:
				b.PaidTokens -= t.Amount
			case txn.StateReversed:
			}
		}
	}

	for _, t := range received {
		if t.Type == txn.TypeHold && t.State == txn.StateCaptured && t.UserID != userID {
			b.EarnedTokens += t.Amount
		}
	}

	b.TotalTokens = b.PaidTokens + b.SystemFreeTokens + b.CreatorFreeTokens + b.EarnedTokens
	return b
}
