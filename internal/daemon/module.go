package daemon

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lingora/portal/internal/bus"
	"github.com/lingora/portal/internal/cache"
	"github.com/lingora/portal/internal/config"
	"github.com/lingora/portal/internal/feed"
	"github.com/lingora/portal/internal/lifecycle"
	"github.com/lingora/portal/internal/lock"
	"github.com/lingora/portal/internal/logging"
	"github.com/lingora/portal/internal/outbox"
	"github.com/lingora/portal/internal/store"
	intsync "github.com/lingora/portal/internal/sync"
	"github.com/lingora/portal/internal/views"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved configuration path passed to the fx module.
type Params struct {
	ConfigPath string
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideCache,
			provideEngine,
			provideLoader,
			provideDialer,
			provideTransport,
			provideManager,
			provideSender,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if err := config.EnsureDirs(); err != nil {
		return nil, err
	}
	return config.Load(p.ConfigPath)
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(config.LogPath(), cfg.ViewerID)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring data dir lock", zap.String("dir", config.BaseDir()))
	l, err := lock.Acquire(config.BaseDir())
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired")
	return l, nil
}

func provideStore(cfg *config.Config, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(cfg.Database.Path)
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
	logger.Info("store initialized", zap.String("path", cfg.Database.Path))
	return db, nil
}

func provideCache(b *bus.Bus) *cache.Store {
	return cache.NewStore(b)
}

func provideEngine(c *cache.Store, db *store.DB, cfg *config.Config, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(c, db, cfg.ViewerID, logger)
}

func provideLoader(db *store.DB, c *cache.Store, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *views.Loader {
	return views.NewLoader(db, c, b, cfg.ViewerID, cfg.Views.PageSize, logger)
}

func provideDialer(cfg *config.Config, logger *zap.Logger) *feed.Dialer {
	return &feed.Dialer{
		URL:              cfg.Feed.URL,
		HandshakeTimeout: time.Duration(cfg.Feed.HandshakeTimeoutSeconds) * time.Second,
		Logger:           logger,
	}
}

// feedTransport opens websocket change-feed streams, resuming each view
// from its last checkpointed cursor.
type feedTransport struct {
	dialer *feed.Dialer
	db     *store.DB
	logger *zap.Logger
}

func (t *feedTransport) Open(ctx context.Context, sub lifecycle.Subscription) (lifecycle.Stream, error) {
	after := sub.After
	if after == "" {
		cur, err := t.db.Cursor(sub.Key.String())
		if err != nil {
			t.logger.Warn("reading feed cursor", zap.String("key", sub.Key.String()), zap.Error(err))
		} else {
			after = cur
		}
	}
	client, err := t.dialer.Open(ctx, feed.SubscribeRequest{
		Tables:  sub.Tables,
		Filters: sub.Filters,
		After:   after,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

func provideTransport(d *feed.Dialer, db *store.DB, logger *zap.Logger) lifecycle.Transport {
	return &feedTransport{dialer: d, db: db, logger: logger}
}

func provideManager(t lifecycle.Transport, engine *intsync.Engine, db *store.DB, c *cache.Store, b *bus.Bus, logger *zap.Logger) *lifecycle.Manager {
	handler := func(ctx context.Context, live func() bool, key cache.Key, n feed.Notification) {
		engine.Dispatch(ctx, intsync.Liveness(live), n)
		if n.Cursor != "" {
			if err := db.SetCursor(key.String(), n.Cursor); err != nil {
				logger.Warn("checkpointing feed cursor", zap.String("key", key.String()), zap.Error(err))
			}
		}
	}
	return lifecycle.NewManager(t, handler, c, b, logger)
}

// storeSender confirms sends by writing the message row locally. The
// change feed echoes the insert back and the engine reconciles the
// pending placeholder against it.
type storeSender struct {
	db       *store.DB
	viewerID string
}

func (s *storeSender) SendMessage(ctx context.Context, threadID string, kind store.ThreadKind, body string) (string, error) {
	id := uuid.New().String()
	if err := s.db.InsertMessage(ctx, id, threadID, kind, s.viewerID, body); err != nil {
		return "", err
	}
	return id, nil
}

func provideSender(db *store.DB, engine *intsync.Engine, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *outbox.Sender {
	ms := &storeSender{db: db, viewerID: cfg.ViewerID}
	return outbox.NewSender(db, engine, ms, b, cfg.ViewerID, cfg.ViewerName, logger)
}

func registerLifecycle(lc fx.Lifecycle, cfg *config.Config, lk *lock.Lock, db *store.DB, loader *views.Loader, sender *outbox.Sender, manager *lifecycle.Manager, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ctx := context.Background()

			// Refetch-on-invalidation loop and outbox drain.
			loader.Start(ctx)
			sender.Start(ctx)

			go func() {
				for _, cohortID := range cfg.Views.Cohorts {
					if err := loader.LoadCohortMessages(ctx, cohortID); err != nil {
						logger.Error("loading cohort messages", zap.String("cohort", cohortID), zap.Error(err))
						continue
					}
					_, err := manager.Open(ctx, lifecycle.Subscription{
						Key:     cache.Key{Kind: cache.KindCohortMessages, ID: cohortID},
						Tables:  []feed.Table{feed.TableCohortMessages},
						Filters: map[string]string{"cohort_id": cohortID},
					})
					if err != nil {
						logger.Error("opening cohort channel", zap.String("cohort", cohortID), zap.Error(err))
					}
				}

				if cfg.Views.Conversations {
					if err := loader.LoadConversations(ctx); err != nil {
						logger.Error("loading conversations", zap.Error(err))
						return
					}
					_, err := manager.Open(ctx, lifecycle.Subscription{
						Key:    cache.Key{Kind: cache.KindConversations, ID: cfg.ViewerID},
						Tables: []feed.Table{feed.TableDirectMessages, feed.TableConversations},
					})
					if err != nil {
						logger.Error("opening conversations channel", zap.Error(err))
					}
				}
			}()

			return nil
		},
		OnStop: func(_ context.Context) error {
			manager.CloseAll()
			sender.Stop()
			loader.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
