package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/matheus3301/offsync/internal/account"
	"github.com/matheus3301/offsync/internal/api"
	"github.com/matheus3301/offsync/internal/bus"
	"github.com/matheus3301/offsync/internal/config"
	"github.com/matheus3301/offsync/internal/conflict"
	"github.com/matheus3301/offsync/internal/lock"
	"github.com/matheus3301/offsync/internal/logging"
	"github.com/matheus3301/offsync/internal/metrics"
	"github.com/matheus3301/offsync/internal/netstatus"
	"github.com/matheus3301/offsync/internal/remote"
	"github.com/matheus3301/offsync/internal/status"
	"github.com/matheus3301/offsync/internal/store"
	intsync "github.com/matheus3301/offsync/internal/sync"
)

// Params holds the resolved account configuration passed to the fx module.
type Params struct {
	Account    string
	Config     *config.Config
	SocketPath string // optional override for testing; empty = use default
	// StubAPI serves the in-memory remote API on a loopback port and
	// points the client at it.
	StubAPI bool
	// Stderr mirrors the log file on stderr.
	Stderr bool
	Level  zapcore.Level
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	if p.Config == nil {
		p.Config = config.Default()
	}
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideMonitor,
			provideRemote,
			provideResolver,
			provideSyncConfig,
			provideOrchestrator,
			provideEngineService,
			provideQueueService,
			provideConflictService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(logging.Options{
		Path:    account.LogPath(p.Account),
		Account: p.Account,
		Level:   p.Level,
		Stderr:  p.Stderr,
	})
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := account.EnsureDir(p.Account); err != nil {
		return nil, err
	}
	logger.Info("acquiring account lock", zap.String("account", p.Account))
	l, err := lock.Acquire(account.LockDir(p.Account))
	if err != nil {
		return nil, err
	}
	logger.Info("account lock acquired")
	return l, nil
}

// provideStore takes the lock so the database is never opened by a second
// daemon.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := account.DBPath(p.Account)
	db := store.New(dbPath, store.Options{
		QuotaBytes: p.Config.Storage.QuotaBytes,
		CacheTTL:   p.Config.Storage.CacheTTL.D(),
	})
	if err := db.Init(context.Background()); err != nil {
		return nil, err
	}
	if result := db.Migration(); result != nil {
		if result.Changed {
			logger.Info("migrations applied", zap.Uint("version", result.Version))
		} else {
			logger.Info("migrations up to date", zap.Uint("version", result.Version))
		}
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideMonitor(p Params, b *bus.Bus, logger *zap.Logger) *netstatus.Monitor {
	initial := netstatus.Status{IsOnline: p.Config.Network.AssumeOnline}
	return netstatus.NewMonitor(initial, b, logger)
}

// provideRemote builds the API client. With StubAPI the stub is served on
// a loopback port for the lifetime of the app.
func provideRemote(p Params, lc fx.Lifecycle, logger *zap.Logger) (*remote.Client, error) {
	opts := remote.Options{
		BaseURL: p.Config.API.BaseURL,
		Token:   p.Config.API.Token,
		Timeout: p.Config.Sync.RequestTimeout.D(),
	}
	if !p.StubAPI {
		return remote.NewClient(opts, logger), nil
	}

	secret := p.Config.API.StubSecret
	stub := remote.NewStub(secret, logger)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen stub api: %w", err)
	}
	srv := &http.Server{Handler: stub, ReadHeaderTimeout: 5 * time.Second}
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("stub api stopped", zap.Error(err))
				}
			}()
			logger.Info("stub api listening", zap.String("addr", ln.Addr().String()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})

	opts.BaseURL = "http://" + ln.Addr().String()
	if secret != "" {
		token, err := remote.MintToken(secret, p.Account, 30*24*time.Hour)
		if err != nil {
			_ = ln.Close()
			return nil, err
		}
		opts.Token = token
	}
	return remote.NewClient(opts, logger), nil
}

func provideResolver(b *bus.Bus, logger *zap.Logger) *conflict.Resolver {
	return conflict.NewResolver(b, logger)
}

func provideSyncConfig(p Params) (intsync.Config, error) {
	sc := p.Config.Sync
	cfg := intsync.Config{
		MaxRetries:       sc.MaxRetries,
		BaseDelay:        sc.BaseDelay.D(),
		MaxDelay:         sc.MaxDelay.D(),
		JitterFraction:   sc.JitterFraction,
		PollInterval:     sc.PollInterval.D(),
		Cleanup:          intsync.Cleanup(sc.Cleanup),
		ConflictFallback: conflict.Strategy(sc.ConflictFallback),
	}
	if err := cfg.Validate(); err != nil {
		return intsync.Config{}, fmt.Errorf("sync config: %w", err)
	}
	return cfg, nil
}

func provideOrchestrator(cfg intsync.Config, db *store.DB, client *remote.Client, monitor *netstatus.Monitor, resolver *conflict.Resolver, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *intsync.Orchestrator {
	return intsync.New(cfg, intsync.Deps{
		DB:       db,
		API:      client,
		Network:  monitor,
		Resolver: resolver,
		Machine:  machine,
		Bus:      b,
		Logger:   logger.Named("sync"),
	})
}

func provideEngineService(p Params, orch *intsync.Orchestrator, monitor *netstatus.Monitor, db *store.DB, b *bus.Bus, logger *zap.Logger) *api.EngineService {
	return api.NewEngineService(p.Account, orch, monitor, db, b, logger)
}

func provideQueueService(orch *intsync.Orchestrator, db *store.DB) *api.QueueService {
	return api.NewQueueService(orch, db)
}

func provideConflictService(orch *intsync.Orchestrator) *api.ConflictService {
	return api.NewConflictService(orch)
}

func registerLifecycle(lc fx.Lifecycle, p Params, b *bus.Bus, srv *Server, lk *lock.Lock, db *store.DB, monitor *netstatus.Monitor, orch *intsync.Orchestrator, logger *zap.Logger) {
	var metricsSrv *http.Server

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// Recovers interrupted items and subscribes to the monitor.
			if err := orch.Start(ctx); err != nil {
				return err
			}

			if path := p.Config.Network.StatusFile; path != "" {
				src := netstatus.NewFileSource(path, logger.Named("network"))
				if err := monitor.Attach(context.Background(), src); err != nil {
					return fmt.Errorf("watch network status file: %w", err)
				}
				logger.Info("watching network status file", zap.String("path", path))
			}

			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if addr := p.Config.Metrics.Listen; addr != "" {
				metrics.Register()
				s, _, err := metrics.Serve(addr, logger)
				if err != nil {
					return fmt.Errorf("metrics listener: %w", err)
				}
				metricsSrv = s
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if metricsSrv != nil {
				_ = metricsSrv.Shutdown(ctx)
			}
			// Ends WatchEvents streams so the graceful stop does not wait on them.
			b.Close()
			srv.Stop(ctx)
			orch.Destroy()
			monitor.Destroy()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
