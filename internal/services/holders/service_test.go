package holders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/tokentrace/internal/clients"
	"github.com/vadiminshakov/tokentrace/internal/domain"
	"github.com/vadiminshakov/tokentrace/pkg/retrier"
	"go.uber.org/zap"
)

type fakeBalances struct {
	pages []clients.BalancesPage
	fails int
	calls int
}

func (f *fakeBalances) TokenBalances(ctx context.Context, tokenID string, cursor clients.Cursor) (clients.BalancesPage, error) {
	f.calls++
	if f.fails > 0 {
		f.fails--
		return clients.BalancesPage{}, errors.New("transient")
	}
	var idx int
	if !cursor.Empty() {
		for i, p := range f.pages {
			if p.Next == cursor {
				idx = i + 1
				break
			}
		}
	}
	return f.pages[idx], nil
}

func testToken() domain.TokenInfo {
	return domain.TokenInfo{ID: "0.0.123", Symbol: "DMO", Decimals: 8}
}

func fastRetrier() *retrier.Retrier {
	return retrier.New(retrier.WithMaxAttempts(3), retrier.WithBaseDelay(time.Millisecond))
}

func TestService_FetchAll(t *testing.T) {
	client := &fakeBalances{
		pages: []clients.BalancesPage{
			{
				Balances: []clients.AccountBalance{
					{Account: "0.0.1", Balance: 500000000},
					{Account: "0.0.2", Balance: 1},
				},
				Next: clients.Cursor("page=2"),
			},
			{
				Balances: []clients.AccountBalance{{Account: "0.0.3", Balance: 250000000}},
			},
		},
	}

	svc := NewService(client, fastRetrier(), 0, zap.NewNop())
	snapshot, err := svc.FetchAll(context.Background(), testToken())
	require.NoError(t, err)
	require.Equal(t, 3, snapshot.Len())

	balance, ok := snapshot.Balance("0.0.1")
	require.True(t, ok)
	assert.True(t, balance.Equal(decimal.NewFromInt(5)))

	balance, ok = snapshot.Balance("0.0.2")
	require.True(t, ok)
	assert.True(t, balance.Equal(decimal.RequireFromString("0.00000001")))
}

func TestService_FetchAll_RetriesTransientErrors(t *testing.T) {
	client := &fakeBalances{
		pages: []clients.BalancesPage{
			{Balances: []clients.AccountBalance{{Account: "0.0.1", Balance: 100}}},
		},
		fails: 2,
	}

	svc := NewService(client, fastRetrier(), 0, zap.NewNop())
	snapshot, err := svc.FetchAll(context.Background(), testToken())
	require.NoError(t, err)
	assert.Equal(t, 1, snapshot.Len())
	assert.Equal(t, 3, client.calls)
}

func TestService_FetchAll_Exhausted(t *testing.T) {
	client := &fakeBalances{fails: 10}

	svc := NewService(client, fastRetrier(), 0, zap.NewNop())
	_, err := svc.FetchAll(context.Background(), testToken())
	require.Error(t, err)

	var exhausted *retrier.ExhaustedError
	assert.ErrorAs(t, err, &exhausted)
}
