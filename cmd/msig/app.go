package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"multisig-console/internal/cache"
	"multisig-console/internal/chain"
	"multisig-console/internal/config"
	"multisig-console/internal/failure"
	"multisig-console/internal/logging"
	"multisig-console/internal/multisig"
	"multisig-console/internal/observability"
	"multisig-console/internal/retry"
	"multisig-console/internal/signer"
	"multisig-console/internal/signer/localkey"
	"multisig-console/internal/solana"
	"multisig-console/internal/storage"
	chstore "multisig-console/internal/storage/clickhouse"
	"multisig-console/internal/storage/memory"
	"multisig-console/internal/storage/migrations"
	pgstore "multisig-console/internal/storage/postgres"
	"multisig-console/internal/txprep"
)

// app holds the components shared by every command.
type app struct {
	cfg    config.Config
	logger *zap.Logger

	chains     chain.Provider
	target     chain.Context
	pool       *solana.Pool
	classifier *failure.Classifier
	service    *multisig.Service
	dispatcher *signer.Dispatcher
	preparer   *txprep.Preparer
	pending    storage.PendingTxStore
	journal    storage.SubmissionJournal

	metrics *http.Server
	closers []func() error
}

// globalFlags override the environment configuration.
type globalFlags struct {
	chain       string
	chainsFile  string
	logLevel    string
	metricsAddr string
	output      string
}

func newApp(ctx context.Context, flags globalFlags) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flags.chain != "" {
		cfg.Chains.Default = flags.chain
	}
	if flags.chainsFile != "" {
		cfg.Chains.File = flags.chainsFile
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.metricsAddr != "" {
		cfg.MetricsAddr = flags.metricsAddr
	}

	logger, err := logging.New(cfg.Logging())
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, classifier: failure.Default()}
	if err := a.init(ctx); err != nil {
		_ = a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	chains, err := chain.NewFileProvider(a.cfg.Chains.File)
	if err != nil {
		return err
	}
	a.chains = chains
	if a.target, err = chains.Get(a.cfg.Chains.Default); err != nil {
		return err
	}

	a.pool = solana.NewPool(
		solana.WithTimeout(a.cfg.RPC.Timeout),
		solana.WithRateLimit(a.cfg.RPC.RateLimit, a.cfg.RPC.RateWindow),
	)
	a.closers = append(a.closers, a.pool.Close)

	reader := retry.New(
		retry.WithAttempts(a.cfg.Retry.Attempts),
		retry.WithBaseDelay(a.cfg.Retry.BaseDelay),
		retry.WithLogger(a.logger.Named("retry")),
	)
	a.service = multisig.NewService(a.pool,
		multisig.WithReader(reader),
		multisig.WithClassifier(a.classifier),
		multisig.WithCache(cache.New[any](cache.WithName("accounts"), cache.WithTTL(a.cfg.Cache.TTL))),
		multisig.WithLogger(a.logger.Named("multisig")),
	)
	a.dispatcher = signer.NewDispatcher(
		signer.WithTimeout(a.cfg.Signer.Timeout),
		signer.WithLogger(a.logger.Named("signer")),
	)

	if err := a.openStores(ctx); err != nil {
		return err
	}

	a.preparer = txprep.New(a.pool,
		txprep.WithReader(reader),
		txprep.WithDispatcher(a.dispatcher),
		txprep.WithClassifier(a.classifier),
		txprep.WithPendingStore(a.pending),
		txprep.WithJournal(a.journal),
		txprep.WithDialer(dialWebsocket),
		txprep.WithPollInterval(a.cfg.Confirm.PollInterval),
		txprep.WithConfirmTimeout(a.cfg.Confirm.Timeout),
		txprep.WithLogger(a.logger.Named("txprep")),
	)

	if a.cfg.MetricsAddr != "" {
		a.serveMetrics(a.cfg.MetricsAddr)
	}
	return nil
}

func (a *app) openStores(ctx context.Context) error {
	if dsn := a.cfg.Storage.PostgresDSN; dsn != "" {
		pool, err := pgstore.NewPool(ctx, dsn)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return err
		}
		a.pending = pgstore.NewPendingTxStore(pool)
	} else {
		a.logger.Debug("POSTGRES_DSN not set, signed payloads are kept in memory")
		a.pending = memory.NewPendingTxStore()
	}

	if dsn := a.cfg.Storage.ClickhouseDSN; dsn != "" {
		if err := chstore.EnsureDatabase(ctx, dsn); err != nil {
			return err
		}
		conn, err := chstore.NewConn(ctx, dsn)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, conn.Close)
		if err := migrations.RunClickhouseMigrations(ctx, conn); err != nil {
			return err
		}
		a.journal = chstore.NewSubmissionJournal(conn)
	} else {
		a.journal = memory.NewSubmissionJournal()
	}
	return nil
}

func dialWebsocket(ctx context.Context, endpoint string) (solana.WSClient, error) {
	c, err := solana.NewWSClient(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	a.metrics = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		a.logger.Info("serving metrics", zap.String("addr", addr))
		if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
}

// wallet returns the software hardware wallet derived from MNEMONIC.
func (a *app) wallet() (signer.Wallet, error) {
	if a.cfg.Signer.Mnemonic == "" {
		return signer.Wallet{}, fmt.Errorf("MNEMONIC is required to sign")
	}
	key, err := localkey.FromMnemonic(a.cfg.Signer.Mnemonic, a.cfg.Signer.Passphrase)
	if err != nil {
		return signer.Wallet{}, err
	}
	return signer.HardwareWallet(key, a.cfg.Signer.DerivationPath), nil
}

func (a *app) close() error {
	var err error
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = multierr.Append(err, a.metrics.Shutdown(ctx))
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	_ = a.logger.Sync()
	return err
}
