package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/loopfi/loopbot/internal/engine"
	"github.com/loopfi/loopbot/internal/server"
	"github.com/loopfi/loopbot/internal/server/handler"
	"github.com/loopfi/loopbot/internal/server/ws"
	"github.com/loopfi/loopbot/internal/service"
)

// version is stamped at build time via -ldflags.
var version = "dev"

// services bundles the domain services built on top of the wired
// dependencies.
type services struct {
	risk     *service.RiskService
	planner  *service.PlannerService
	engine   *engine.Engine
	executor *service.ExecutorService
}

// buildServices constructs the risk, planner, engine, and executor stack.
// events may be nil when no broadcast surface is running.
func (a *App) buildServices(deps *Dependencies, events engine.EventSink) *services {
	risk := service.NewRiskService(service.RiskConfig{
		MaxLTV:          bpsToWad(a.cfg.Risk.MaxLTVBps),
		MaxLoanMultiple: wholeToWad(a.cfg.Risk.MaxLoanMultiple),
	}, a.logger)

	planner := service.NewPlannerService(service.PlannerConfig{
		PremiumRate: bpsToWad(a.cfg.Risk.FlashloanFeeBps),
	}, deps.Ledger, deps.PriceCache, risk, a.logger)

	eng := engine.New(engine.Config{
		Self:     deps.Signer.Address(),
		Operator: deps.Signer.Address(),
	}, deps.Ledger, deps.Venue, deps.Tokens, deps.OperationStore, events, a.logger)

	executor := service.NewExecutorService(eng, deps.LockManager, 2*time.Minute, a.logger)

	return &services{risk: risk, planner: planner, engine: eng, executor: executor}
}

// ServeMode runs the HTTP + WebSocket API.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps)
	return g.Wait()
}

// MonitorMode polls configured owner positions and logs their loan-to-value
// without placing any transactions. The HTTP server is also started when
// enabled, exposing the read-only endpoints.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	svcs := a.buildServices(deps, nil)
	g.Go(func() error {
		return a.runMonitor(ctx, deps, svcs)
	})

	if a.cfg.Server.Enabled {
		a.startServer(ctx, g, deps)
	}

	return g.Wait()
}

// FullMode runs the API server plus the position monitor.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startServer(ctx, g, deps)

	if a.cfg.Monitor.Enabled {
		svcs := a.buildServices(deps, nil)
		g.Go(func() error {
			return a.runMonitor(ctx, deps, svcs)
		})
	}

	return g.Wait()
}

// startServer adds the WebSocket hub and HTTP server goroutines to the
// errgroup. The hub is registered as the engine's event sink so journal
// transitions reach connected clients.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(a.logger)
	g.Go(func() error {
		if err := hub.Run(ctx); err != nil && err != context.Canceled {
			return fmt.Errorf("ws hub: %w", err)
		}
		return nil
	})

	svcs := a.buildServices(deps, hub)
	registry := handler.NewAssetRegistry(deps.Assets)

	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(version),
		Plan:       handler.NewPlanHandler(svcs.planner, registry, a.logger),
		Execute:    handler.NewExecuteHandler(svcs.planner, svcs.executor, registry, a.logger),
		Operations: handler.NewOperationsHandler(deps.OperationStore, a.logger),
		Position:   handler.NewPositionHandler(svcs.planner, registry, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIToken:    a.cfg.Operator.ApiToken,
	}, handlers, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// runMonitor polls each configured owner at the configured interval and logs
// the position snapshot. The first configured asset is treated as the
// collateral side and the second as the borrow side.
func (a *App) runMonitor(ctx context.Context, deps *Dependencies, svcs *services) error {
	if len(deps.Assets) < 2 {
		return fmt.Errorf("monitor: needs at least two configured assets, got %d", len(deps.Assets))
	}
	if len(a.cfg.Monitor.Owners) == 0 {
		a.logger.WarnContext(ctx, "monitor: no owners configured, monitor will idle")
	}

	collateral, borrow := deps.Assets[0], deps.Assets[1]
	maxLTV := bpsToWad(a.cfg.Risk.MaxLTVBps)

	interval := a.cfg.Monitor.PollInterval.Duration
	if interval <= 0 {
		interval = 30 * time.Second
	}

	owners := make([]common.Address, 0, len(a.cfg.Monitor.Owners))
	for _, o := range a.cfg.Monitor.Owners {
		owners = append(owners, common.HexToAddress(o))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		for _, owner := range owners {
			pos, ltv, err := svcs.planner.Snapshot(ctx, owner, collateral, borrow)
			if err != nil {
				a.logger.WarnContext(ctx, "monitor: snapshot failed",
					slog.String("owner", owner.Hex()),
					slog.String("error", err.Error()),
				)
				continue
			}

			attrs := []any{
				slog.String("owner", owner.Hex()),
				slog.String("collateral", pos.CollateralAmount.String()),
				slog.String("debt", pos.DebtAmount.String()),
				slog.String("ltv", ltv.String()),
			}
			if ltv.Cmp(maxLTV) >= 0 {
				a.logger.WarnContext(ctx, "monitor: position above max loan-to-value", attrs...)
			} else {
				a.logger.InfoContext(ctx, "monitor: position snapshot", attrs...)
			}
		}
	}
}
