// Package holders fetches the complete current holder set of a token
// from the mirror node.
package holders

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/tokentrace/internal/clients"
	"github.com/vadiminshakov/tokentrace/internal/domain"
	"github.com/vadiminshakov/tokentrace/pkg/retrier"
	"go.uber.org/zap"
)

// BalancesFetcher fetches one page of token holder balances.
type BalancesFetcher interface {
	TokenBalances(ctx context.Context, tokenID string, cursor clients.Cursor) (clients.BalancesPage, error)
}

// Service pages through the balances endpoint and assembles a holder snapshot.
type Service struct {
	client    BalancesFetcher
	retrier   *retrier.Retrier
	pageDelay time.Duration
	logger    *zap.Logger
}

// NewService creates a holder snapshot service. pageDelay paces requests
// between pages; pass 0 to disable pacing in tests.
func NewService(client BalancesFetcher, r *retrier.Retrier, pageDelay time.Duration, logger *zap.Logger) *Service {
	return &Service{
		client:    client,
		retrier:   r,
		pageDelay: pageDelay,
		logger:    logger,
	}
}

// FetchAll pages through the balances endpoint following the server
// cursor until absent, converting raw balances to display units.
func (s *Service) FetchAll(ctx context.Context, token domain.TokenInfo) (*domain.HolderSnapshot, error) {
	snapshot := domain.NewHolderSnapshot()
	var cursor clients.Cursor

	for {
		page, err := retrier.DoWithData(s.retrier, ctx, "fetch holders", func(ctx context.Context) (clients.BalancesPage, error) {
			return s.client.TokenBalances(ctx, token.ID, cursor)
		})
		if err != nil {
			return nil, errors.Wrapf(err, "fetch holders of %s", token.ID)
		}

		for _, b := range page.Balances {
			snapshot.Add(domain.Holder{
				Account: b.Account,
				Balance: token.ToDisplayUnits(b.Balance),
			})
		}

		s.logger.Info("fetched holders page",
			zap.String("token", token.ID),
			zap.Int("holders", snapshot.Len()))

		if page.Next.Empty() {
			return snapshot, nil
		}
		cursor = page.Next

		if s.pageDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.pageDelay):
			}
		}
	}
}
