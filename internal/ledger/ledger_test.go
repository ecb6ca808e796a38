package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	balances map[string]decimal.Decimal
	err      error
	calls    int
}

func (s *stubSource) GetBalances(_ context.Context, _ string) (map[string]decimal.Decimal, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]decimal.Decimal, len(s.balances))
	for k, v := range s.balances {
		out[k] = v
	}
	return out, nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRefreshReplacesSnapshot(t *testing.T) {
	src := &stubSource{balances: map[string]decimal.Decimal{"USDT": dec("10"), "BTC": dec("1")}}
	l := New("settlement", src)

	require.NoError(t, l.Refresh(context.Background()))
	require.True(t, l.Balance("USDT").Equal(dec("10")))
	require.False(t, l.RefreshedAt().IsZero())

	src.balances = map[string]decimal.Decimal{"USDT": dec("3")}
	require.NoError(t, l.Refresh(context.Background()))
	require.True(t, l.Balance("USDT").Equal(dec("3")))
	require.True(t, l.Balance("BTC").IsZero(), "assets missing remotely are dropped")
}

func TestRefreshErrorKeepsSnapshot(t *testing.T) {
	src := &stubSource{balances: map[string]decimal.Decimal{"USDT": dec("10")}}
	l := New("settlement", src)
	require.NoError(t, l.Refresh(context.Background()))

	src.err = errors.New("balance service down")
	require.Error(t, l.Refresh(context.Background()))
	require.True(t, l.Balance("USDT").Equal(dec("10")))
}

func TestExchangeArithmetic(t *testing.T) {
	src := &stubSource{balances: map[string]decimal.Decimal{"USDT": dec("250"), "USD": dec("5")}}
	l := New("settlement", src)
	require.NoError(t, l.Refresh(context.Background()))

	volume := dec("99")
	price := dec("0.99")

	_, underflow, err := l.Debit("USDT", volume)
	require.NoError(t, err)
	require.False(t, underflow)
	_, err = l.Credit("USD", volume.Mul(price))
	require.NoError(t, err)

	require.True(t, l.Balance("USDT").Equal(dec("151")))
	require.True(t, l.Balance("USD").Equal(dec("103.01")))
}

func TestDebitClampsAtZero(t *testing.T) {
	src := &stubSource{balances: map[string]decimal.Decimal{"USDT": dec("5")}}
	l := New("settlement", src)
	require.NoError(t, l.Refresh(context.Background()))

	next, underflow, err := l.Debit("USDT", dec("10"))
	require.NoError(t, err)
	require.True(t, underflow)
	require.True(t, next.IsZero())
	require.True(t, l.Balance("USDT").IsZero())
}

func TestRejectsNonPositiveAmounts(t *testing.T) {
	l := New("settlement", &stubSource{})
	_, err := l.Credit("USDT", decimal.Zero)
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, _, err = l.Debit("USDT", dec("-1"))
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestHasAtLeast(t *testing.T) {
	src := &stubSource{balances: map[string]decimal.Decimal{"USDT": dec("5")}}
	l := New("settlement", src)
	require.NoError(t, l.Refresh(context.Background()))

	require.True(t, l.HasAtLeast("USDT", dec("5")))
	require.False(t, l.HasAtLeast("USDT", dec("10")))
	require.False(t, l.HasAtLeast("BTC", dec("0.1")))
}

func TestConcurrentUpdatesAreAtomic(t *testing.T) {
	l := New("settlement", &stubSource{})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.Credit("USDT", dec("2"))
			_, _, _ = l.Debit("USDT", dec("1"))
		}()
	}
	wg.Wait()

	require.True(t, l.Balance("USDT").Equal(dec("100")), "got %s", l.Balance("USDT"))
}
