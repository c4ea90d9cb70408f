// Package app is the Lifespan/Supervisor: it wires every component
// together, starts the background sweepers and bus subscribers under one
// cancellable context, serves the gin router, and tears everything down
// on shutdown. Modeled directly on the teacher's App{Log, DB, Router,
// cancel} struct and its New/Start/Run/Close lifecycle (internal/app/app.go),
// generalized from a single background worker to this hub's two
// supervised background tasks (the reclamation sweeper and the stats
// broadcaster).
package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/gpuhub/internal/config"
	"github.com/yungbote/gpuhub/internal/conn"
	"github.com/yungbote/gpuhub/internal/logger"
	"github.com/yungbote/gpuhub/internal/notify"
	"github.com/yungbote/gpuhub/internal/queue"
	"github.com/yungbote/gpuhub/internal/reclaim"
	"github.com/yungbote/gpuhub/internal/registry"
	"github.com/yungbote/gpuhub/internal/stats"
	"github.com/yungbote/gpuhub/internal/store"
)

type App struct {
	Log      *logger.Logger
	Cfg      config.Config
	Store    *store.Store
	Conn     *conn.Manager
	Queue    *queue.Manager
	Registry *registry.Registry
	Notify   *notify.Bus
	Stats    *stats.Broadcaster
	Reclaim  *reclaim.Sweeper

	router *httpRouter
	cancel context.CancelFunc
	bgDone chan struct{}
}

func New() (*App, error) {
	logMode := firstNonEmpty(envOrEmpty("LOG_MODE"), "development")
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("loading configuration...")
	cfg := config.Load(log)

	st, err := store.New(log, store.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init store: %w", err)
	}

	cm := conn.New(log)
	reg := registry.New(log, st)
	qm := queue.New(log, st, cfg.DefaultClaimTimeout)
	nb := notify.New(log, st, cm, reg, cfg.IdleFreshnessThreshold)
	sb := stats.New(log, st, cm, cfg.StatsBroadcastInterval)
	sweeper := reclaim.New(log, st, qm, reg, reclaim.Config{
		StaleClaimSweepInterval:  cfg.StaleClaimSweepInterval,
		StaleWorkerSweepInterval: cfg.StaleWorkerSweepInterval,
		OutOfServiceThreshold:    cfg.OutOfServiceThreshold,
		DeepSweepInterval:        cfg.DeepSweepInterval,
		DeepSweepThreshold:       cfg.DeepSweepThreshold,
	})

	router := newHTTPRouter(log, st, cm, qm, reg, nb, sb, cfg.DefaultClaimTimeout, cfg.IdleFreshnessThreshold)

	return &App{
		Log:      log,
		Cfg:      cfg,
		Store:    st,
		Conn:     cm,
		Queue:    qm,
		Registry: reg,
		Notify:   nb,
		Stats:    sb,
		Reclaim:  sweeper,
		router:   router,
	}, nil
}

// Start boots the notification bus subscriptions and launches the
// reclamation sweepers and stats broadcaster under one supervised
// errgroup. It returns once the subscriptions are confirmed live;
// the background tasks keep running until Close cancels their context.
func (a *App) Start() error {
	if a == nil || a.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if err := a.Notify.Run(ctx); err != nil {
		cancel()
		a.cancel = nil
		return fmt.Errorf("start notification bus: %w", err)
	}

	a.bgDone = make(chan struct{})
	go func() {
		defer close(a.bgDone)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return a.Reclaim.Run(gctx) })
		g.Go(func() error { return a.Stats.Run(gctx) })
		if err := g.Wait(); err != nil {
			a.Log.Warn("background supervisor exited with error", "error", err)
		}
	}()
	return nil
}

// Run blocks serving HTTP/WebSocket traffic on addr.
func (a *App) Run(addr string) error {
	if a == nil || a.router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.router.engine.Run(addr)
}

// Close cancels background work and waits up to Cfg.ShutdownDrain for the
// supervised background tasks to exit, then closes the Store connection and
// flushes the logger. It does not wait for in-flight frame handlers and does
// not close open WebSocket connections.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
		if a.bgDone != nil {
			select {
			case <-a.bgDone:
			case <-time.After(a.Cfg.ShutdownDrain):
				a.Log.Warn("background tasks did not exit within shutdown drain window")
			}
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Log.Warn("store close failed", "error", err)
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
