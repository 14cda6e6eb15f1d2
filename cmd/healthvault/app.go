package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	consenthandler "healthvault/internal/consent/handler"
	consentservice "healthvault/internal/consent/service"
	consentstore "healthvault/internal/consent/store"
	"healthvault/internal/platform/config"
	"healthvault/internal/platform/metrics"
	"healthvault/internal/platform/postgres"
	platformredis "healthvault/internal/platform/redis"
	profilemetrics "healthvault/internal/profile/metrics"
	profileservice "healthvault/internal/profile/service"
	"healthvault/internal/sanitize"
	httptransport "healthvault/internal/transport/http"
	"healthvault/internal/vault"
	filebackend "healthvault/internal/vault/backend/file"
	"healthvault/internal/vault/backend/guarded"
	memorybackend "healthvault/internal/vault/backend/memory"
	pgbackend "healthvault/internal/vault/backend/postgres"
	redisbackend "healthvault/internal/vault/backend/redis"
	"healthvault/internal/vault/keys"
	"healthvault/pkg/platform/audit"
	"healthvault/pkg/platform/audit/publisher"
	"healthvault/pkg/platform/audit/store/logsink"
	auditpostgres "healthvault/pkg/platform/audit/store/postgres"
	"healthvault/pkg/platform/audit/store/redisstream"
	"healthvault/pkg/platform/circuit"
	txcontext "healthvault/pkg/platform/tx"
)

// app holds the wired services for one process.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *prometheus.Registry

	vault    *vault.Store
	ledger   *consentservice.Ledger
	profiles *profileservice.Service
	consents *consentservice.Service
	boundary *sanitize.Boundary

	checks     []httptransport.HealthCheck
	closers    []io.Closer
	transactor *txcontext.Transactor
}

// build wires the object graph. The vault master key is loaded eagerly so a
// missing or unreadable key fails startup instead of the first write.
func build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: metrics.NewRegistry(),
	}

	backend, auditStore, err := a.storage(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	auditPublisher := publisher.New(auditStore,
		publisher.WithLogger(logger),
		publisher.WithMetrics(publisher.NewMetrics(a.registry)),
	)

	a.vault = vault.New(backend, a.keyProvider(),
		vault.WithLogger(logger),
		vault.WithAuditPublisher(auditPublisher),
		vault.WithMetrics(vault.NewMetrics(a.registry)),
	)
	if err := a.vault.Initialize(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.checks = append(a.checks, httptransport.HealthCheck{Name: "vault", Check: a.vault.Initialize})

	a.ledger = consentservice.NewLedger(consentstore.NewVaultStore(a.vault), cfg.Consent.PolicyVersion)
	profileOpts := []profileservice.Option{
		profileservice.WithLogger(logger),
		profileservice.WithAuditPublisher(auditPublisher),
		profileservice.WithMetrics(profilemetrics.New(a.registry)),
		profileservice.WithConsentReader(a.ledger),
		profileservice.WithCache(cfg.Profile.CacheTTL, cfg.Profile.CacheMaxEntries),
		profileservice.WithLockTimeout(cfg.Profile.LockTimeout),
	}
	if a.transactor != nil {
		profileOpts = append(profileOpts, profileservice.WithTransactor(a.transactor))
	}
	a.profiles = profileservice.New(a.vault, profileOpts...)
	a.consents = consentservice.New(a.ledger, a.profiles,
		consentservice.WithLogger(logger),
		consentservice.WithAuditPublisher(auditPublisher),
	)
	a.boundary = sanitize.NewBoundary(a.profiles,
		sanitize.WithConsentChecker(a.ledger),
		sanitize.WithLogger(logger),
		sanitize.WithAuditPublisher(auditPublisher),
	)
	return a, nil
}

// storage selects the vault backend and the audit sink that lives beside it.
func (a *app) storage(ctx context.Context) (vault.Backend, audit.Store, error) {
	cfg := a.cfg
	switch cfg.Backend {
	case config.BackendMemory:
		return memorybackend.New(), logsink.New(a.logger), nil

	case config.BackendRedis:
		client, err := platformredis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		a.closers = append(a.closers, client)
		a.checks = append(a.checks, httptransport.HealthCheck{Name: "redis", Check: client.Health})
		return guarded.New(redisbackend.New(client.Client), circuit.New("redis"), a.logger),
			redisstream.New(client.Client, redisstream.WithStream(cfg.Redis.AuditStream)),
			nil

	case config.BackendPostgres:
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, db)
		if err := postgres.Migrate(ctx, db); err != nil {
			return nil, nil, err
		}
		a.checks = append(a.checks, httptransport.HealthCheck{Name: "postgres", Check: pinger(db)})
		// Profile writes and their audit rows commit together.
		a.transactor = txcontext.NewTransactor(db)
		return guarded.New(pgbackend.New(db), circuit.New("postgres"), a.logger), auditpostgres.New(db), nil

	default:
		backend, err := filebackend.New(filepath.Join(cfg.DataDir, "records"))
		if err != nil {
			return nil, nil, err
		}
		return backend, logsink.New(a.logger), nil
	}
}

func (a *app) keyProvider() keys.Provider {
	if a.cfg.Keys.Passphrase != "" {
		return keys.NewPassphraseKeyring(a.cfg.Keys.Passphrase, filepath.Join(a.cfg.DataDir, "keyring.salt"))
	}
	path := a.cfg.Keys.File
	if path == "" {
		path = filepath.Join(a.cfg.DataDir, "master.key")
	}
	return keys.NewFileKeyring(path)
}

// router builds the diagnostics handler.
func (a *app) router() http.Handler {
	return httptransport.NewRouter(httptransport.Deps{
		Logger:   a.logger,
		Gatherer: a.registry,
		Metrics:  metrics.NewHTTP(a.registry),
		Checks:   a.checks,
		Modules:  []httptransport.Registrar{consenthandler.New(a.ledger, a.logger)},
	})
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

func pinger(db *sql.DB) func(context.Context) error {
	return db.PingContext
}
