// Package ledger keeps a process-local cached view of one account's balances.
//
// The remote balance service stays authoritative. The cache is refreshed
// wholesale at the start of each work cycle and adjusted in place as local
// operations succeed, so admission checks need no remote round trip.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ayo6706/merchant-settlement/internal/observability"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrInvalidAmount = errors.New("ledger amount must be positive")

// BalanceSource is the remote balance authority.
type BalanceSource interface {
	GetBalances(ctx context.Context, accountID string) (map[string]decimal.Decimal, error)
}

// Ledger caches per-asset balances. Updates use a compare-and-swap loop per
// asset key so coordinators touching different assets never contend.
type Ledger struct {
	accountID   string
	source      BalanceSource
	balances    atomic.Pointer[sync.Map]
	refreshedAt atomic.Int64
}

func New(accountID string, source BalanceSource) *Ledger {
	l := &Ledger{accountID: accountID, source: source}
	l.balances.Store(&sync.Map{})
	return l
}

// AccountID returns the account the ledger mirrors.
func (l *Ledger) AccountID() string {
	return l.accountID
}

// Refresh replaces the whole snapshot with the remote balances.
func (l *Ledger) Refresh(ctx context.Context) error {
	remote, err := l.source.GetBalances(ctx, l.accountID)
	if err != nil {
		observability.IncrementLedgerRefresh("failed")
		return fmt.Errorf("failed to refresh balances for %s: %w", l.accountID, err)
	}

	next := &sync.Map{}
	for asset, amount := range remote {
		next.Store(asset, amount)
	}
	l.balances.Store(next)
	l.refreshedAt.Store(time.Now().UnixNano())
	observability.IncrementLedgerRefresh("success")
	return nil
}

// RefreshedAt returns the time of the last successful refresh.
func (l *Ledger) RefreshedAt() time.Time {
	n := l.refreshedAt.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Balance returns the cached balance of asset. Unknown assets read as zero.
func (l *Ledger) Balance(asset string) decimal.Decimal {
	v, ok := l.balances.Load().Load(asset)
	if !ok {
		return decimal.Zero
	}
	return v.(decimal.Decimal)
}

// HasAtLeast is the admission check used before spending from the account.
func (l *Ledger) HasAtLeast(asset string, amount decimal.Decimal) bool {
	return l.Balance(asset).GreaterThanOrEqual(amount)
}

// Credit adds amount to asset and returns the new balance.
func (l *Ledger) Credit(asset string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	next, _ := l.update(asset, func(cur decimal.Decimal) (decimal.Decimal, bool) {
		return cur.Add(amount), false
	})
	return next, nil
}

// Debit subtracts amount from asset and returns the new balance. The balance
// never goes below zero: an overdraft clamps to zero and is reported as an
// underflow so the caller can log the divergence from the remote authority.
func (l *Ledger) Debit(asset string, amount decimal.Decimal) (decimal.Decimal, bool, error) {
	if !amount.IsPositive() {
		return decimal.Zero, false, ErrInvalidAmount
	}
	next, underflow := l.update(asset, func(cur decimal.Decimal) (decimal.Decimal, bool) {
		res := cur.Sub(amount)
		if res.IsNegative() {
			return decimal.Zero, true
		}
		return res, false
	})
	if underflow {
		zap.L().Warn("ledger debit exceeded cached balance",
			zap.String("account_id", l.accountID),
			zap.String("asset_id", asset),
			zap.String("amount", amount.String()),
		)
	}
	return next, underflow, nil
}

// Snapshot copies the current balances.
func (l *Ledger) Snapshot() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	l.balances.Load().Range(func(k, v any) bool {
		out[k.(string)] = v.(decimal.Decimal)
		return true
	})
	return out
}

func (l *Ledger) update(asset string, fn func(decimal.Decimal) (decimal.Decimal, bool)) (decimal.Decimal, bool) {
	m := l.balances.Load()
	for {
		cur, loaded := m.Load(asset)
		if !loaded {
			next, flag := fn(decimal.Zero)
			if _, raced := m.LoadOrStore(asset, next); !raced {
				return next, flag
			}
			continue
		}
		next, flag := fn(cur.(decimal.Decimal))
		if m.CompareAndSwap(asset, cur, next) {
			return next, flag
		}
	}
}
