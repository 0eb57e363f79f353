package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/adityaaa08012006/decivue-sub006/decisions"
	"github.com/adityaaa08012006/decivue-sub006/evaluation"
	"github.com/adityaaa08012006/decivue-sub006/internal/config"
	"github.com/adityaaa08012006/decivue-sub006/internal/logger"
	"github.com/adityaaa08012006/decivue-sub006/internal/notify"
	"github.com/adityaaa08012006/decivue-sub006/scoring"
	"github.com/adityaaa08012006/decivue-sub006/tenants"
)

// app holds everything main wires together
type app struct {
	cfg      *config.Config
	db       *sqlx.DB
	locker   evaluation.Locker
	manager  *tenants.Manager
	sweeper  *evaluation.Sweeper
	notifier *notify.Notifier
	server   *Server
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	var store decisions.Store
	var tenantStore tenants.Store
	if cfg.Database.URL != "" {
		db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		a.db = db
		store = decisions.NewPostgresStore(db)
		tenantStore = tenants.NewPostgresStore(db)
		logger.Info("using postgres store")
	} else {
		store = decisions.NewInMemoryStore()
		tenantStore = tenants.NewInMemoryStore()
		logger.Warn("DATABASE_URL not set, using in-memory store")
	}

	switch cfg.Evaluation.Lock {
	case config.LockPostgres:
		a.locker = evaluation.NewAdvisoryLocker(a.db)
	case config.LockMemory:
		a.locker = evaluation.NewKeyedLocker()
	}

	engine, err := scoring.NewEngine()
	if err != nil {
		return nil, fmt.Errorf("failed to create scoring engine: %w", err)
	}

	gateway := decisions.NewCachedGateway(store, decisions.NewInMemoryAssumptionCache(decisions.DefaultCacheConfig()))
	a.manager = tenants.NewManager(tenantStore, gateway, engine, a.serviceConfig(cfg))

	a.notifier = notify.New(cfg.Notify.Webhooks, nil, 0)
	a.manager.OnServiceCreated(func(svc *evaluation.Service) { a.notifier.Subscribe(svc.Bus) })

	logger.Info("loading tenants")
	if err := a.manager.LoadAll(ctx); err != nil {
		return nil, fmt.Errorf("failed to load tenants: %w", err)
	}
	logger.Info("tenants loaded", "tenants", a.manager.List())

	a.sweeper = evaluation.NewSweeper(a.manager, sweepConfig(cfg))
	a.server = NewServer(ServerOptions{
		Store:      store,
		Tenants:    a.manager,
		Engine:     engine,
		DB:         a.db,
		BatchLimit: cfg.Evaluation.BatchLimit,
		MaxRounds:  cfg.Sweep.MaxRounds,
	})
	return a, nil
}

func (a *app) serviceConfig(cfg *config.Config) evaluation.ServiceConfig {
	return evaluation.ServiceConfig{
		Oracle: evaluation.OracleConfig{
			StaleHours:       cfg.Evaluation.StaleHours,
			ExpiryWindow:     cfg.Evaluation.ExpiryWindow,
			ExpiryCheckHours: cfg.Evaluation.ExpiryCheckHours,
		},
		Orchestrator: evaluation.OrchestratorConfig{StepTimeout: cfg.Evaluation.StepTimeout},
		Locker:       a.locker,
	}
}

func sweepConfig(cfg *config.Config) evaluation.SweepConfig {
	return evaluation.SweepConfig{Interval: cfg.Sweep.Interval, Limit: cfg.Sweep.Limit}
}

// reload applies a changed config file. Listener, database and lock mode
// changes need a restart.
func (a *app) reload(cfg *config.Config) {
	if cfg.Server.Port != a.cfg.Server.Port || cfg.Database.URL != a.cfg.Database.URL ||
		cfg.Evaluation.Lock != a.cfg.Evaluation.Lock || cfg.Sweep.Enabled != a.cfg.Sweep.Enabled {
		logger.Warn("config change to server, database, lock or sweep.enabled requires a restart")
	}

	a.manager.SetDefaults(a.serviceConfig(cfg))
	a.sweeper.SetConfig(sweepConfig(cfg))
	a.notifier.SetWebhooks(cfg.Notify.Webhooks)
	a.server.SetLimits(cfg.Evaluation.BatchLimit, cfg.Sweep.MaxRounds)
	a.cfg = cfg
}

// run serves until ctx is cancelled, then shuts every component down
func (a *app) run(ctx context.Context, configPath string) error {
	httpServer := &http.Server{
		Addr:         ":" + strconv.Itoa(a.cfg.Server.Port),
		Handler:      a.server,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	shutdownTimeout := a.cfg.Server.ShutdownTimeout

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server starting", "port", a.cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	if a.cfg.Sweep.Enabled {
		g.Go(func() error {
			a.sweeper.Run(ctx)
			return nil
		})
	}

	if configPath != "" {
		g.Go(func() error {
			if err := config.Watch(ctx, configPath, a.reload); err != nil {
				logger.Error("config watcher stopped, reloads disabled", "path", configPath, "err", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "err", err)
		}
		if err := a.notifier.Close(shutdownCtx); err != nil {
			logger.Warn("pending alerts dropped", "err", err)
		}
		if a.db != nil {
			a.db.Close()
		}
		return nil
	})

	return g.Wait()
}

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "Path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to start", "err", err)
	}

	if err := a.run(ctx, *configPath); err != nil {
		logger.Error("server stopped with error", "err", err)
	}

	logger.Info("server stopped")

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := logger.Shutdown(flushCtx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to flush logs: %v\n", err)
	}
}
