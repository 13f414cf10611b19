// Package daemon assembles a profile's session, journal and gRPC server
// into an fx application.
package daemon

import (
	"context"
	"errors"

	"github.com/matheus3301/chatline/internal/api"
	"github.com/matheus3301/chatline/internal/auth"
	"github.com/matheus3301/chatline/internal/bus"
	"github.com/matheus3301/chatline/internal/chat"
	"github.com/matheus3301/chatline/internal/config"
	"github.com/matheus3301/chatline/internal/journal"
	"github.com/matheus3301/chatline/internal/lock"
	"github.com/matheus3301/chatline/internal/logging"
	"github.com/matheus3301/chatline/internal/profile"
	"github.com/matheus3301/chatline/internal/transport"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile string
	// Optional overrides, mostly for tests. Zero values use the profile
	// defaults.
	SocketPath string
	Config     *config.Config
	Transport  transport.Transport
	Logger     *zap.Logger
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Options(
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
		fx.Module("daemon",
			fx.Supply(p),
			fx.Provide(
				provideConfig,
				provideLogger,
				provideBus,
				provideLock,
				provideJournal,
				provideTransport,
				provideTokens,
				provideSession,
				provideWriter,
				provideService,
				NewServer,
			),
			fx.Invoke(registerLifecycle),
		),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, nil
	}
	return config.Resolve(context.Background(), profile.ConfigPath())
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	if p.Logger != nil {
		return p.Logger, nil
	}
	return logging.New(profile.LogPath(p.Profile), p.Profile, cfg.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.LockPath(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideJournal takes the lock as a parameter so the database is never
// opened by a second daemon.
func provideJournal(p Params, _ *lock.Lock, logger *zap.Logger) (*journal.DB, error) {
	path := profile.JournalPath(p.Profile)
	db, err := journal.Open(path)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("journal opened", zap.String("path", path))
	return db, nil
}

func provideTransport(p Params, cfg *config.Config, logger *zap.Logger) (transport.Transport, error) {
	if p.Transport != nil {
		return p.Transport, nil
	}
	if cfg.ServerURL == "" {
		return nil, errors.New("server_url is not configured")
	}
	return transport.NewWebSocket(cfg.ServerURL, logger.Named("transport")), nil
}

func provideTokens(cfg *config.Config) auth.TokenSource {
	return auth.NewSource(cfg.Token, cfg.TokenFile)
}

func provideSession(t transport.Transport, tokens auth.TokenSource, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *chat.Session {
	return chat.New(t, tokens, b, sessionOptions(cfg), logger.Named("session"))
}

func provideWriter(db *journal.DB, logger *zap.Logger) *journal.Writer {
	return journal.NewWriter(db, logger.Named("journal"))
}

func provideService(p Params, s *chat.Session, b *bus.Bus, logger *zap.Logger) *api.Service {
	return api.NewService(p.Profile, s, b, logger.Named("api"))
}

// The lock comes first: parameters resolve in order, and a second daemon
// must fail before it can touch the socket.
func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, srv *Server, db *journal.DB, writer *journal.Writer, session *chat.Session, cfg *config.Config, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			session.Start(context.Background())

			convs, err := journal.Load(ctx, db)
			if err != nil {
				return err
			}
			if err := session.Restore(ctx, convs); err != nil {
				return err
			}
			writer.Attach(session.Store())
			writer.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if cfg.AutoConnect {
				go func() {
					if err := session.Connect(context.Background()); err != nil {
						logger.Warn("auto-connect failed", zap.Error(err))
					}
				}()
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			session.Stop()
			writer.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing journal", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
