package app

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/xarb/internal/bot"
	"github.com/alanyoungcy/xarb/internal/server"
	"github.com/alanyoungcy/xarb/internal/server/ws"
)

// shutdownTimeout bounds waiting for an in-flight trade and the HTTP server
// on exit.
const shutdownTimeout = 30 * time.Second

// TradeMode runs both venues, the monitor and the executor. Opportunities
// are traded.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")
	return a.runBot(ctx, deps, true, false)
}

// MonitorMode runs the monitor in dry-run: opportunities are logged and
// published but never traded.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	return a.runBot(ctx, deps, true, true)
}

// ServerMode keeps both venues' books and accounts live for the operator
// API without running the monitor.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	return a.runBot(ctx, deps, false, false)
}

func (a *App) runBot(ctx context.Context, deps *Dependencies, monitor, dryRun bool) error {
	b := bot.New(bot.Config{
		A:         deps.Binance,
		B:         deps.Bitfinex,
		Monitor:   monitor,
		DryRun:    dryRun,
		Alerter:   deps.Alerter,
		Bus:       deps.SignalBus,
		Locker:    deps.LockManager,
		LockTTL:   a.cfg.Trading.LockTTL.Duration,
		ReportTTL: a.cfg.Trading.OpportunityDedupTTL.Duration,
		Logger:    a.logger,
	})
	if err := b.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(gctx, g, deps, b)
	}

	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return b.Stop(stopCtx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// startHTTPServer adds the operator API, and the websocket hub when a signal
// bus is available, to g. The server shuts down when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, b *bot.Bot) {
	serverDeps := server.Deps{
		Bot:     b,
		Limiter: deps.RateLimiter,
	}
	if deps.Redis != nil {
		serverDeps.Redis = deps.Redis
	}

	if deps.SignalBus != nil {
		hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:      a.cfg.Mode,
			StartedAt: time.Now().UTC(),
			Status:    func() any { return b.Status() },
		})
		serverDeps.Hub = hub
		g.Go(func() error {
			return hub.Run(ctx)
		})
	} else {
		a.logger.InfoContext(ctx, "redis disabled, live event websocket not served")
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimitPerMin: a.cfg.Server.RateLimitPerMin,
		TestOrderAmount: a.cfg.Server.TestOrderAmount,
		Mode:            a.cfg.Mode,
	}, serverDeps, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
