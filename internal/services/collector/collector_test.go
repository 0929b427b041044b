package collector

import (
	"context"
	"encoding/base64"
	"fmt"
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

const (
	testTokenID = "0.0.123"
	testAccount = "0.0.7"
)

var testNow = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

// fakeTransactions returns pages in order, remembering the cursor of
// every request.
type fakeTransactions struct {
	pages   []clients.TransactionsPage
	queries []clients.TransactionQuery
}

func (f *fakeTransactions) AccountTransactions(ctx context.Context, q clients.TransactionQuery) (clients.TransactionsPage, error) {
	f.queries = append(f.queries, q)
	if len(f.queries) > len(f.pages) {
		return clients.TransactionsPage{}, nil
	}
	return f.pages[len(f.queries)-1], nil
}

func newCollector(client TransactionsFetcher) *Collector {
	c := New(client, retrier.New(retrier.WithMaxAttempts(1), retrier.WithBaseDelay(time.Millisecond)),
		50, 0, 180*24*time.Hour, zap.NewNop())
	c.now = func() time.Time { return testNow }
	return c
}

func ts(t time.Time) domain.ConsensusTimestamp {
	return domain.ConsensusTimestamp(fmt.Sprintf("%d.000000001", t.Unix()))
}

func token() domain.TokenInfo {
	return domain.TokenInfo{ID: testTokenID, Symbol: "DMO", Decimals: 8}
}

func transfer(account string, amount int64) clients.TokenTransfer {
	return clients.TokenTransfer{TokenID: testTokenID, Account: account, Amount: amount}
}

func TestCollect_GreedyPairing(t *testing.T) {
	// two received legs (3 and 7) and one sender leg of -10:
	// both legs match the same sender, magnitude is reused across checks
	tx := clients.Transaction{
		ConsensusTimestamp: ts(testNow.Add(-time.Hour)),
		TransactionID:      "tx-1",
		MemoBase64:         base64.StdEncoding.EncodeToString([]byte("gift")),
		ChargedFee:         100000000,
		TokenTransfers: []clients.TokenTransfer{
			transfer(testAccount, 300000000),
			transfer(testAccount, 700000000),
			transfer("0.0.100", -1000000000),
		},
	}
	client := &fakeTransactions{pages: []clients.TransactionsPage{{Transactions: []clients.Transaction{tx}}}}

	records, err := newCollector(client).Collect(context.Background(), testAccount, token(), time.Time{}, nil)
	require.NoError(t, err)
	require.Len(t, records, 2)

	for _, r := range records {
		assert.Equal(t, "tx-1", r.TransactionID)
		assert.Equal(t, "0.0.100", r.Sender)
		assert.True(t, r.SenderAmount.Equal(decimal.NewFromInt(10)))
		assert.Equal(t, testAccount, r.Receiver)
		assert.Equal(t, "DMO", r.TokenSymbol)
		assert.Equal(t, "gift", r.Memo)
		assert.True(t, r.Fee.Equal(decimal.NewFromInt(1)))
	}
	assert.True(t, records[0].ReceiverAmount.Equal(decimal.NewFromInt(3)))
	assert.True(t, records[1].ReceiverAmount.Equal(decimal.NewFromInt(7)))
}

func TestCollect_UnpairedLegDropped(t *testing.T) {
	// the only sender leg cannot cover the received amount
	tx := clients.Transaction{
		ConsensusTimestamp: ts(testNow.Add(-time.Hour)),
		TransactionID:      "tx-1",
		TokenTransfers: []clients.TokenTransfer{
			transfer(testAccount, 700000000),
			transfer("0.0.100", -300000000),
		},
	}
	client := &fakeTransactions{pages: []clients.TransactionsPage{{Transactions: []clients.Transaction{tx}}}}

	records, err := newCollector(client).Collect(context.Background(), testAccount, token(), time.Time{}, nil)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestCollect_FirstMatchingSenderWins(t *testing.T) {
	tx := clients.Transaction{
		ConsensusTimestamp: ts(testNow.Add(-time.Hour)),
		TransactionID:      "tx-1",
		TokenTransfers: []clients.TokenTransfer{
			transfer(testAccount, 500000000),
			transfer("0.0.100", -200000000), // too small, skipped
			transfer("0.0.101", -500000000), // first sufficient match
			transfer("0.0.102", -900000000),
		},
	}
	client := &fakeTransactions{pages: []clients.TransactionsPage{{Transactions: []clients.Transaction{tx}}}}

	records, err := newCollector(client).Collect(context.Background(), testAccount, token(), time.Time{}, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "0.0.101", records[0].Sender)
}

func TestCollect_IgnoresOtherTokens(t *testing.T) {
	tx := clients.Transaction{
		ConsensusTimestamp: ts(testNow.Add(-time.Hour)),
		TransactionID:      "tx-1",
		TokenTransfers: []clients.TokenTransfer{
			{TokenID: "0.0.999", Account: testAccount, Amount: 500000000},
			{TokenID: "0.0.999", Account: "0.0.100", Amount: -500000000},
		},
	}
	client := &fakeTransactions{pages: []clients.TransactionsPage{{Transactions: []clients.Transaction{tx}}}}

	records, err := newCollector(client).Collect(context.Background(), testAccount, token(), time.Time{}, nil)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestCollect_EmptyPageTerminates(t *testing.T) {
	client := &fakeTransactions{}

	records, err := newCollector(client).Collect(context.Background(), testAccount, token(), time.Time{}, nil)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Len(t, client.queries, 1)
}

func TestCollect_PagesBackwardWithCursor(t *testing.T) {
	first := clients.Transaction{
		ConsensusTimestamp: ts(testNow.Add(-time.Hour)),
		TransactionID:      "tx-1",
		TokenTransfers: []clients.TokenTransfer{
			transfer(testAccount, 100000000),
			transfer("0.0.100", -100000000),
		},
	}
	second := clients.Transaction{
		ConsensusTimestamp: ts(testNow.Add(-2 * time.Hour)),
		TransactionID:      "tx-2",
		TokenTransfers: []clients.TokenTransfer{
			transfer(testAccount, 200000000),
			transfer("0.0.100", -200000000),
		},
	}
	client := &fakeTransactions{pages: []clients.TransactionsPage{
		{Transactions: []clients.Transaction{first}},
		{Transactions: []clients.Transaction{second}},
	}}

	records, err := newCollector(client).Collect(context.Background(), testAccount, token(), time.Time{}, nil)
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.Len(t, client.queries, 3)
	assert.True(t, client.queries[0].Before.IsZero())
	assert.Equal(t, first.ConsensusTimestamp, client.queries[1].Before)
	assert.Equal(t, second.ConsensusTimestamp, client.queries[2].Before)
}

func TestCollect_HorizonBoundary(t *testing.T) {
	horizon := testNow.Add(-180 * 24 * time.Hour)

	atBoundary := clients.Transaction{
		ConsensusTimestamp: domain.ConsensusTimestamp(fmt.Sprintf("%d.000000000", horizon.Unix())),
		TransactionID:      "tx-boundary",
		TokenTransfers: []clients.TokenTransfer{
			transfer(testAccount, 100000000),
			transfer("0.0.100", -100000000),
		},
	}
	tooOld := clients.Transaction{
		ConsensusTimestamp: domain.ConsensusTimestamp(fmt.Sprintf("%d.000000000", horizon.Unix()-1)),
		TransactionID:      "tx-too-old",
		TokenTransfers: []clients.TokenTransfer{
			transfer(testAccount, 100000000),
			transfer("0.0.100", -100000000),
		},
	}
	client := &fakeTransactions{pages: []clients.TransactionsPage{
		{Transactions: []clients.Transaction{atBoundary, tooOld}},
	}}

	records, err := newCollector(client).Collect(context.Background(), testAccount, token(), time.Time{}, nil)
	require.NoError(t, err)

	// a record exactly at the horizon is included, anything older stops collection
	require.Len(t, records, 1)
	assert.Equal(t, "tx-boundary", records[0].TransactionID)
	assert.Len(t, client.queries, 1)
}

func TestCollect_WatermarkRaisesFloor(t *testing.T) {
	since := testNow.Add(-time.Hour)
	client := &fakeTransactions{}

	_, err := newCollector(client).Collect(context.Background(), testAccount, token(), since, nil)
	require.NoError(t, err)

	require.Len(t, client.queries, 1)
	assert.Equal(t, since.Unix(), client.queries[0].AfterSeconds)
}

func TestCollect_LookbackCapsWatermark(t *testing.T) {
	// a watermark older than the lookback horizon must not widen the window
	since := testNow.Add(-365 * 24 * time.Hour)
	client := &fakeTransactions{}

	_, err := newCollector(client).Collect(context.Background(), testAccount, token(), since, nil)
	require.NoError(t, err)

	require.Len(t, client.queries, 1)
	assert.Equal(t, testNow.Add(-180*24*time.Hour).Unix(), client.queries[0].AfterSeconds)
}

func TestCollect_ProgressCallback(t *testing.T) {
	tx := clients.Transaction{
		ConsensusTimestamp: ts(testNow.Add(-time.Hour)),
		TransactionID:      "tx-1",
		TokenTransfers: []clients.TokenTransfer{
			transfer(testAccount, 100000000),
			transfer("0.0.100", -100000000),
		},
	}
	client := &fakeTransactions{pages: []clients.TransactionsPage{{Transactions: []clients.Transaction{tx}}}}

	type call struct{ records, pages int }
	var calls []call
	_, err := newCollector(client).Collect(context.Background(), testAccount, token(), time.Time{},
		func(records, pages int) { calls = append(calls, call{records, pages}) })
	require.NoError(t, err)

	require.Len(t, calls, 1)
	assert.Equal(t, call{records: 1, pages: 1}, calls[0])
}

func TestCollect_InvalidMemoBecomesEmpty(t *testing.T) {
	tx := clients.Transaction{
		ConsensusTimestamp: ts(testNow.Add(-time.Hour)),
		TransactionID:      "tx-1",
		MemoBase64:         "not base64!!!",
		TokenTransfers: []clients.TokenTransfer{
			transfer(testAccount, 100000000),
			transfer("0.0.100", -100000000),
		},
	}
	client := &fakeTransactions{pages: []clients.TransactionsPage{{Transactions: []clients.Transaction{tx}}}}

	records, err := newCollector(client).Collect(context.Background(), testAccount, token(), time.Time{}, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Empty(t, records[0].Memo)
}
