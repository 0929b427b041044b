// Command tokentrace analyzes token holder and transfer activity via a
// mirror node and serves the persisted artifacts to the visualization UI.
//
// Usage:
//
//	tokentrace --setup                  (interactive config wizard)
//	tokentrace --config config.yaml     (server mode)
//	tokentrace --token 0.0.123456       (one-shot CLI analysis)
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/vadiminshakov/tokentrace/config"
	"github.com/vadiminshakov/tokentrace/internal/clients"
	"github.com/vadiminshakov/tokentrace/internal/services/analyzer"
	"github.com/vadiminshakov/tokentrace/internal/services/collector"
	"github.com/vadiminshakov/tokentrace/internal/services/holders"
	"github.com/vadiminshakov/tokentrace/internal/setup"
	"github.com/vadiminshakov/tokentrace/internal/storage/ledger"
	"github.com/vadiminshakov/tokentrace/internal/storage/runjournal"
	"github.com/vadiminshakov/tokentrace/internal/web"
	"github.com/vadiminshakov/tokentrace/pkg/retrier"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	setupFlag := flag.Bool("setup", false, "run the interactive setup wizard")

	cfg, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}

	if *setupFlag {
		if err := setup.RunTUI(); err != nil {
			log.Fatal(err)
		}
		return
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	client := clients.NewMirrorClient(cfg.MirrorBaseURL, cfg.HTTPTimeout)
	retry := retrier.New(
		retrier.WithMaxAttempts(cfg.MaxAttempts),
		retrier.WithBaseDelay(cfg.RetryBaseDelay),
	)

	store := ledger.NewStore(cfg.OutputDir)
	journal, err := runjournal.NewStore(cfg.JournalDir)
	if err != nil {
		logger.Fatal("failed to open run journal", zap.Error(err))
	}
	defer journal.Close()

	holderService := holders.NewService(client, retry, cfg.PageDelay, logger)
	txCollector := collector.New(client, retry, cfg.PageSize, cfg.PageDelay, cfg.Lookback, logger)
	pipeline := analyzer.New(client, holderService, txCollector, store, journal,
		cfg.HolderBatchSize, cfg.BatchDelay, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TokenID != "" {
		result, err := pipeline.Run(ctx, cfg.TokenID)
		if err != nil {
			logger.Fatal("analysis failed", zap.String("token", cfg.TokenID), zap.Error(err))
		}
		logger.Info("analysis finished",
			zap.String("token", result.Token.ID),
			zap.Int("holders", result.HolderCount),
			zap.Int("new_transactions", result.NewTransactions),
			zap.String("output_dir", result.OutputDir))
		return
	}

	server := web.NewServer(cfg.ListenAddr, pipeline, store, journal, logger)
	logger.Info("starting http server", zap.String("addr", cfg.ListenAddr))

	if len(cfg.TLSDomains) > 0 {
		err = server.StartWithAutoTLS(ctx, cfg.TLSDomains, cfg.CertCacheDir)
	} else {
		err = server.Start(ctx)
	}
	if err != nil {
		logger.Fatal("http server stopped", zap.Error(err))
	}
}
