// Package app assembles the coordinator and its collaborators from config.
// Both the API server and lendctl build on it.
package app

import (
	"log/slog"

	pkgerrors "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	ledgerAdapter "p2plend/internal/adapter/ledger"
	repo "p2plend/internal/adapter/repository/mysql"
	"p2plend/internal/config"
	chainDomain "p2plend/internal/domain/ledger"
	loanDomain "p2plend/internal/domain/loan"
	"p2plend/internal/domain/party"
	"p2plend/internal/domain/uow"
	"p2plend/internal/infrastructure/cache"
	"p2plend/internal/infrastructure/chain"
	"p2plend/internal/infrastructure/db"
	"p2plend/internal/infrastructure/lock"
	"p2plend/internal/usecase/identity"
	loanUC "p2plend/internal/usecase/loan"
	"p2plend/internal/usecase/matching"
)

type App struct {
	Config      *config.Config
	Log         *slog.Logger
	DB          *gorm.DB
	Redis       *redis.Client
	Coordinator *loanUC.Coordinator
	Reconciler  *loanUC.Reconciler
	Resolver    *identity.Resolver
	Engine      *matching.Engine
}

type options struct {
	redis   bool
	migrate bool
	gormDB  *gorm.DB
	rdb     *redis.Client
	signer  signerReader
}

type Option func(*options)

// WithRedis opens Redis even when the lock backend does not need it.
func WithRedis() Option { return func(o *options) { o.redis = true } }

// WithMigrate runs the schema migration after connecting.
func WithMigrate() Option { return func(o *options) { o.migrate = true } }

// WithDB uses an already open record store.
func WithDB(g *gorm.DB) Option { return func(o *options) { o.gormDB = g } }

// WithRedisClient uses an already open Redis client.
func WithRedisClient(rdb *redis.Client) Option { return func(o *options) { o.rdb = rdb } }

// WithSigner overrides the signer picked from LEDGER_MODE.
func WithSigner(s signerReader) Option { return func(o *options) { o.signer = s } }

type signerReader interface {
	chainDomain.Signer
	chainDomain.Reader
}

func New(cfg *config.Config, log *slog.Logger, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	a := &App{Config: cfg, Log: log}

	a.DB = o.gormDB
	if a.DB == nil {
		g, err := db.OpenGorm(cfg.RecordStoreDriver, cfg.RecordStoreDSN())
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "open %s record store", cfg.RecordStoreDriver)
		}
		a.DB = g
	}
	if o.migrate {
		if err := Migrate(a.DB); err != nil {
			return nil, err
		}
	}

	a.Redis = o.rdb
	if a.Redis == nil && (o.redis || cfg.LockBackend == config.LockBackendRedis) {
		rdb, err := cache.OpenRedis(cfg.RedisAddr, cfg.RedisDB, cfg.RedisStartupWait())
		if err != nil {
			return nil, err
		}
		a.Redis = rdb
	}

	var locks uow.UnitOfWork = lock.NewKeyed()
	if cfg.LockBackend == config.LockBackendRedis {
		locks = lock.NewRedis(a.Redis, cfg.LockTTL(), lock.WithLogger(log.With("component", "lock")))
	}

	signer := o.signer
	if signer == nil {
		signer = newSigner(cfg)
	}
	gateway := ledgerAdapter.NewGateway(signer, signer, cfg.ConfirmTimeout(), log.With("component", "ledger"))

	loans := repo.NewLoanRepository(a.DB)
	a.Coordinator = loanUC.NewCoordinator(gateway, loans, locks,
		loanUC.WithLogger(log.With("component", "coordinator")),
		loanUC.WithWriteTimeout(cfg.WriteTimeout()),
	)
	a.Reconciler = loanUC.NewReconciler(a.Coordinator, loanUC.ReconcilerConfig{
		Interval:    cfg.ReconcileInterval(),
		MaxAttempts: cfg.ReconcileMax,
	}, log.With("component", "reconciler"))
	a.Coordinator.SetScheduler(a.Reconciler)

	a.Resolver = identity.NewResolver(repo.NewPartyRepository(a.DB), cfg.IdentityCacheTTL())
	a.Engine = matching.NewEngine(loans, a.Resolver, log.With("component", "matching"))
	return a, nil
}

func newSigner(cfg *config.Config) signerReader {
	if cfg.LedgerMode == config.LedgerModeSigner {
		return ledgerAdapter.NewHTTPSigner(cfg.SignerURL, 0, 0)
	}
	return chain.New()
}

// Migrate creates or updates the record store schema.
func Migrate(g *gorm.DB) error {
	if err := g.AutoMigrate(&loanDomain.Loan{}, &party.Party{}); err != nil {
		return pkgerrors.Wrap(err, "migrate record store")
	}
	return nil
}

// Close releases the connections opened by New.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Log.Warn("close redis", "err", err)
		}
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			a.Log.Warn("close record store", "err", err)
		}
	}
}
