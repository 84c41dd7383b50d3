// Package daemon composes the nchat daemon out of its parts with fx.
package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/lwei-dev/nchat/internal/archive"
	"github.com/lwei-dev/nchat/internal/bus"
	"github.com/lwei-dev/nchat/internal/chat"
	"github.com/lwei-dev/nchat/internal/config"
	"github.com/lwei-dev/nchat/internal/lock"
	"github.com/lwei-dev/nchat/internal/logging"
	"github.com/lwei-dev/nchat/internal/outbox"
	"github.com/lwei-dev/nchat/internal/relay"
	"github.com/lwei-dev/nchat/internal/session"
	intsync "github.com/lwei-dev/nchat/internal/sync"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
}

// Identity is the session's local public key, loaded at startup.
type Identity string

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideIdentity,
			provideArchive,
			provideStore,
			provideTransport,
			providePipeline,
			provideListener,
			provideCheckpoints,
			provideJanitor,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	return config.Load(session.ConfigPath())
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired", zap.String("path", l.Path()))
	return l, nil
}

func provideIdentity(p Params, logger *zap.Logger) (Identity, error) {
	id, err := session.LoadIdentity(p.SessionName)
	if err != nil {
		return "", err
	}
	logger.Info("identity loaded", zap.String("identity", id))
	return Identity(id), nil
}

func provideArchive(p Params, logger *zap.Logger) (*archive.DB, error) {
	dbPath := session.ArchivePath(p.SessionName)
	db, err := archive.Open(dbPath)
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
	logger.Info("archive initialized", zap.String("path", dbPath))
	return db, nil
}

func provideStore(id Identity, db *archive.DB, cfg *config.Config, logger *zap.Logger) *chat.Store {
	return chat.NewStore(string(id), db.History(string(id)), cfg.StoreOptions(), logger)
}

func provideTransport(id Identity, b *bus.Bus) relay.Transport {
	return relay.NewLoopback(b, string(id))
}

func providePipeline(id Identity, s *chat.Store, t relay.Transport, db *archive.DB, b *bus.Bus, logger *zap.Logger) *outbox.Pipeline {
	return outbox.NewPipeline(string(id), s, t, db, b, logger)
}

func provideCheckpoints(db *archive.DB) *intsync.Checkpoints {
	return intsync.NewCheckpoints(db)
}

func provideListener(s *chat.Store, db *archive.DB, b *bus.Bus, cp *intsync.Checkpoints, logger *zap.Logger) *intsync.Listener {
	return intsync.NewListener(s, db, b, cp, logger)
}

func provideJanitor(db *archive.DB, cfg *config.Config, logger *zap.Logger) *archive.Janitor {
	return archive.NewJanitor(db, cfg.CleanupInterval(), cfg.Retention(), logger)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, db *archive.DB, listener *intsync.Listener, janitor *archive.Janitor, cp *intsync.Checkpoints, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// The listener must be consuming before any transport starts
			// echoing traffic.
			listener.Start(context.Background())
			janitor.Start(context.Background())

			if last, err := cp.LastSync(); err == nil && !last.IsZero() {
				logger.Info("resuming from checkpoint", zap.Time("last_sync", last))
			}
			logger.Info("daemon started")
			return nil
		},
		OnStop: func(_ context.Context) error {
			janitor.Stop()
			listener.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing archive", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
