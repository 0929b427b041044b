// Package analyzer drives the end-to-end analysis run: snapshot holders,
// diff against the previous run, collect transactions for changed
// accounts, and append them to the persisted ledger.
package analyzer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/tokentrace/internal/domain"
	"github.com/vadiminshakov/tokentrace/internal/services/collector"
	"github.com/vadiminshakov/tokentrace/internal/storage/runjournal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Phase names the stage an analysis run is in.
type Phase string

const (
	PhaseInitializing           Phase = "initializing"
	PhaseSnapshottingHolders    Phase = "snapshotting_holders"
	PhaseDiffingHolders         Phase = "diffing_holders"
	PhaseCollectingTransactions Phase = "collecting_transactions"
	PhasePersisting             Phase = "persisting"
	PhaseComplete               Phase = "complete"
	PhaseFailed                 Phase = "failed"
)

// TokenInfoFetcher fetches token metadata from the mirror node.
type TokenInfoFetcher interface {
	TokenInfo(ctx context.Context, tokenID string) (domain.TokenInfo, error)
}

// HolderFetcher fetches the complete current holder set of a token.
type HolderFetcher interface {
	FetchAll(ctx context.Context, token domain.TokenInfo) (*domain.HolderSnapshot, error)
}

// TransferCollector collects token transfer records of one account.
type TransferCollector interface {
	Collect(ctx context.Context, account string, token domain.TokenInfo, since time.Time, progress collector.Progress) ([]domain.TransferRecord, error)
}

// LedgerStore owns the persisted artifacts of a token.
type LedgerStore interface {
	TokenDir(tokenID string) string
	LoadSnapshot(tokenID string) (*domain.HolderSnapshot, error)
	SaveSnapshot(tokenID string, snapshot *domain.HolderSnapshot) error
	LoadLedger(tokenID string) ([]domain.TransferRecord, error)
	AppendRecords(tokenID string, records []domain.TransferRecord) (int, error)
}

// Journal records run progress events. Journal failures never fail a run.
type Journal interface {
	Append(event runjournal.Event) error
}

// Analyzer orchestrates a full analysis run for one token.
type Analyzer struct {
	client     TokenInfoFetcher
	holders    HolderFetcher
	collector  TransferCollector
	store      LedgerStore
	journal    Journal
	batchSize  int
	batchDelay time.Duration
	logger     *zap.Logger
}

// New creates an analyzer. journal may be nil. batchSize bounds
// concurrent account collections; batchDelay paces consecutive batches.
func New(client TokenInfoFetcher, holders HolderFetcher, txCollector TransferCollector,
	store LedgerStore, journal Journal, batchSize int, batchDelay time.Duration, logger *zap.Logger) *Analyzer {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Analyzer{
		client:     client,
		holders:    holders,
		collector:  txCollector,
		store:      store,
		journal:    journal,
		batchSize:  batchSize,
		batchDelay: batchDelay,
		logger:     logger,
	}
}

// Run executes a full analysis of tokenID. On failure the error names the
// phase that failed; records appended by earlier batches stay persisted
// and the next run resumes from the ledger watermark.
func (a *Analyzer) Run(ctx context.Context, tokenID string) (domain.AnalysisResult, error) {
	runID := uuid.New().String()
	logger := a.logger.With(zap.String("run_id", runID), zap.String("token", tokenID))

	result, err := a.run(ctx, runID, tokenID, logger)
	if err != nil {
		a.journalEvent(logger, runjournal.Event{
			RunID:   runID,
			TokenID: tokenID,
			Phase:   string(PhaseFailed),
			Error:   err.Error(),
			At:      time.Now().UTC(),
		})
		return domain.AnalysisResult{}, err
	}
	return result, nil
}

func (a *Analyzer) run(ctx context.Context, runID, tokenID string, logger *zap.Logger) (domain.AnalysisResult, error) {
	a.journalPhase(logger, runID, tokenID, PhaseInitializing)

	token, err := a.client.TokenInfo(ctx, tokenID)
	if err != nil {
		return domain.AnalysisResult{}, errors.Wrapf(err, "phase %s", PhaseInitializing)
	}
	logger.Info("token info fetched",
		zap.String("name", token.Name),
		zap.String("symbol", token.Symbol),
		zap.Int32("decimals", token.Decimals))

	prior, err := a.store.LoadLedger(tokenID)
	if err != nil {
		return domain.AnalysisResult{}, errors.Wrapf(err, "phase %s", PhaseInitializing)
	}
	watermark := domain.LatestWatermark(prior)

	a.journalPhase(logger, runID, tokenID, PhaseSnapshottingHolders)

	current, err := a.holders.FetchAll(ctx, token)
	if err != nil {
		return domain.AnalysisResult{}, errors.Wrapf(err, "phase %s", PhaseSnapshottingHolders)
	}

	a.journalPhase(logger, runID, tokenID, PhaseDiffingHolders)

	previous, err := a.store.LoadSnapshot(tokenID)
	if err != nil {
		return domain.AnalysisResult{}, errors.Wrapf(err, "phase %s", PhaseDiffingHolders)
	}
	diff := domain.Diff(previous, current)
	if err := a.store.SaveSnapshot(tokenID, current); err != nil {
		return domain.AnalysisResult{}, errors.Wrapf(err, "phase %s", PhaseDiffingHolders)
	}

	toProcess := diff.NeedCollection()
	logger.Info("holder diff computed",
		zap.Int("holders", current.Len()),
		zap.Int("new", len(diff.New)),
		zap.Int("changed", len(diff.Changed)),
		zap.Int("unchanged", len(diff.Unchanged)),
		zap.Int("removed", len(diff.Removed)))

	batches := (len(toProcess) + a.batchSize - 1) / a.batchSize

	newTotal := 0
	for i := 0; i < len(toProcess); i += a.batchSize {
		end := i + a.batchSize
		if end > len(toProcess) {
			end = len(toProcess)
		}
		batch := toProcess[i:end]
		batchNum := i/a.batchSize + 1

		a.journalEvent(logger, runjournal.Event{
			RunID:   runID,
			TokenID: tokenID,
			Phase:   string(PhaseCollectingTransactions),
			Batch:   batchNum,
			Batches: batches,
			Holders: len(toProcess),
			At:      time.Now().UTC(),
		})
		logger.Info("collecting transactions",
			zap.Int("batch", batchNum),
			zap.Int("batches", batches),
			zap.Int("accounts", len(batch)))

		// one task per holder; a failure aborts the whole batch
		results := make([][]domain.TransferRecord, len(batch))
		g, gctx := errgroup.WithContext(ctx)
		for j, holder := range batch {
			g.Go(func() error {
				records, err := a.collector.Collect(gctx, holder.Account, token, watermark,
					func(records, pages int) {
						logger.Debug("account progress",
							zap.String("account", holder.Account),
							zap.Int("records", records),
							zap.Int("pages", pages))
					})
				if err != nil {
					return err
				}
				results[j] = records
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return domain.AnalysisResult{}, errors.Wrapf(err, "phase %s (batch %d of %d)", PhaseCollectingTransactions, batchNum, batches)
		}

		var collected []domain.TransferRecord
		for _, r := range results {
			collected = append(collected, r...)
		}

		added, err := a.store.AppendRecords(tokenID, collected)
		if err != nil {
			return domain.AnalysisResult{}, errors.Wrapf(err, "phase %s", PhasePersisting)
		}
		newTotal += added

		a.journalEvent(logger, runjournal.Event{
			RunID:      runID,
			TokenID:    tokenID,
			Phase:      string(PhasePersisting),
			Batch:      batchNum,
			Batches:    batches,
			NewRecords: newTotal,
			At:         time.Now().UTC(),
		})

		if a.batchDelay > 0 {
			select {
			case <-ctx.Done():
				return domain.AnalysisResult{}, ctx.Err()
			case <-time.After(a.batchDelay):
			}
		}
	}

	a.journalEvent(logger, runjournal.Event{
		RunID:      runID,
		TokenID:    tokenID,
		Phase:      string(PhaseComplete),
		Holders:    current.Len(),
		NewRecords: newTotal,
		At:         time.Now().UTC(),
	})
	logger.Info("analysis complete",
		zap.Int("holders", current.Len()),
		zap.Int("new_transactions", newTotal))

	return domain.AnalysisResult{
		RunID:           runID,
		Token:           token,
		HolderCount:     current.Len(),
		NewTransactions: newTotal,
		OutputDir:       a.store.TokenDir(tokenID),
	}, nil
}

func (a *Analyzer) journalPhase(logger *zap.Logger, runID, tokenID string, phase Phase) {
	a.journalEvent(logger, runjournal.Event{
		RunID:   runID,
		TokenID: tokenID,
		Phase:   string(phase),
		At:      time.Now().UTC(),
	})
}

func (a *Analyzer) journalEvent(logger *zap.Logger, event runjournal.Event) {
	if a.journal == nil {
		return
	}
	if err := a.journal.Append(event); err != nil {
		logger.Warn("journal append failed", zap.Error(err))
	}
}
