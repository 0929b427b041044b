// Package collector walks an account's transaction history backward in
// time and extracts paired token transfer records.
package collector

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/tokentrace/internal/clients"
	"github.com/vadiminshakov/tokentrace/internal/domain"
	"github.com/vadiminshakov/tokentrace/pkg/retrier"
	"go.uber.org/zap"
)

// feeDecimals converts the charged fee from tinybars to HBAR.
const feeDecimals = 8

// TransactionsFetcher fetches one page of an account's transaction history.
type TransactionsFetcher interface {
	AccountTransactions(ctx context.Context, q clients.TransactionQuery) (clients.TransactionsPage, error)
}

// Progress is invoked after each fetched page with the running record and
// page counts. Observation only, it cannot affect control flow.
type Progress func(records, pages int)

// Collector pages backward through account history, most recent first,
// using the consensus timestamp of the last record on the previous page
// as an exclusive upper bound.
type Collector struct {
	client    TransactionsFetcher
	retrier   *retrier.Retrier
	pageSize  int
	pageDelay time.Duration
	lookback  time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a transaction collector. lookback caps how far back history
// is fetched regardless of any watermark.
func New(client TransactionsFetcher, r *retrier.Retrier, pageSize int, pageDelay, lookback time.Duration, logger *zap.Logger) *Collector {
	return &Collector{
		client:    client,
		retrier:   r,
		pageSize:  pageSize,
		pageDelay: pageDelay,
		lookback:  lookback,
		logger:    logger,
		now:       time.Now,
	}
}

// Collect fetches token-relevant transfer records for account, newest
// first, stopping at an empty page or at the first record older than
// max(since, now - lookback). A record exactly at the boundary is kept.
func (c *Collector) Collect(ctx context.Context, account string, token domain.TokenInfo, since time.Time, progress Progress) ([]domain.TransferRecord, error) {
	floorSec := c.now().Add(-c.lookback).Unix()
	if !since.IsZero() && since.Unix() > floorSec {
		floorSec = since.Unix()
	}

	var (
		records []domain.TransferRecord
		cursor  domain.ConsensusTimestamp
		pages   int
	)

	for {
		query := clients.TransactionQuery{
			Account:      account,
			Limit:        c.pageSize,
			Before:       cursor,
			AfterSeconds: floorSec,
		}
		page, err := retrier.DoWithData(c.retrier, ctx, "fetch transactions", func(ctx context.Context) (clients.TransactionsPage, error) {
			return c.client.AccountTransactions(ctx, query)
		})
		if err != nil {
			return nil, errors.Wrapf(err, "collect transactions of %s", account)
		}

		if len(page.Transactions) == 0 {
			break
		}
		pages++

		reachedHorizon := false
		for _, tx := range page.Transactions {
			if tx.ConsensusTimestamp.Seconds() < floorSec {
				reachedHorizon = true
				break
			}
			records = append(records, pairTransfers(tx, account, token)...)
		}

		cursor = page.Transactions[len(page.Transactions)-1].ConsensusTimestamp

		if progress != nil {
			progress(len(records), pages)
		}

		if reachedHorizon {
			break
		}

		if c.pageDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.pageDelay):
			}
		}
	}

	c.logger.Debug("collected account transactions",
		zap.String("account", account),
		zap.Int("records", len(records)),
		zap.Int("pages", pages))

	return records, nil
}

// pairTransfers extracts records from one transaction: every received leg
// of the target account is paired with the first sender leg whose
// magnitude covers the received amount. The greedy match deliberately
// mirrors the inherited behavior: sender magnitude is reusable across
// legs, and an uncovered received leg is dropped.
func pairTransfers(tx clients.Transaction, account string, token domain.TokenInfo) []domain.TransferRecord {
	var received, senders []clients.TokenTransfer
	for _, tt := range tx.TokenTransfers {
		if tt.TokenID != token.ID {
			continue
		}
		switch {
		case tt.Account == account && tt.Amount > 0:
			received = append(received, tt)
		case tt.Amount < 0:
			senders = append(senders, tt)
		}
	}
	if len(received) == 0 {
		return nil
	}

	var out []domain.TransferRecord
	for _, rt := range received {
		for _, st := range senders {
			if -st.Amount < rt.Amount {
				continue
			}
			out = append(out, domain.TransferRecord{
				Timestamp:      tx.ConsensusTimestamp.Time(),
				TransactionID:  tx.TransactionID,
				Sender:         st.Account,
				SenderAmount:   token.ToDisplayUnits(-st.Amount),
				Receiver:       rt.Account,
				ReceiverAmount: token.ToDisplayUnits(rt.Amount),
				TokenSymbol:    token.Symbol,
				Memo:           decodeMemo(tx.MemoBase64),
				Fee:            decimal.New(tx.ChargedFee, -feeDecimals),
			})
			break
		}
	}
	return out
}

func decodeMemo(memo string) string {
	if memo == "" {
		return ""
	}
	decoded, err := base64.StdEncoding.DecodeString(memo)
	if err != nil {
		return ""
	}
	return string(decoded)
}
