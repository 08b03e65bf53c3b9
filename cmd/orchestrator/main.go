// Command orchestrator runs the Orchestrator: the privileged,
// internal-only service that owns container lifecycle against the
// runtime driver, reconciling on startup and reaping idle containers in
// the background. Grounded on the teacher's cmd/workerNode/main.go
// (runtime driver selection, structured startup logging).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/esb-platform/esb/pkg/config"
	"github.com/esb-platform/esb/pkg/obs/logging"
	"github.com/esb-platform/esb/pkg/orchestrator"
	"github.com/esb-platform/esb/pkg/orchestrator/adoptsync"
	"github.com/esb-platform/esb/pkg/orchestrator/lifecycle"
	"github.com/esb-platform/esb/pkg/orchestrator/portalloc"
	"github.com/esb-platform/esb/pkg/orchestrator/reaper"
	"github.com/esb-platform/esb/pkg/orchestrator/runtime"
	"github.com/esb-platform/esb/pkg/orchestrator/runtime/docker"
	"github.com/esb-platform/esb/pkg/orchestrator/runtime/mock"
	"github.com/esb-platform/esb/pkg/routing"
)

func main() {
	cmd := &cli.Command{
		Name:  "orchestrator",
		Usage: "esb Orchestrator: container lifecycle control plane",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen-addr", Value: ":9090"},
			&cli.StringFlag{Name: "routes", Value: "routes.json"},
			&cli.StringFlag{Name: "runtime", Value: "docker", Usage: "runtime backend: docker or mock"},
			&cli.StringFlag{Name: "network", Usage: "runtime network (default: LAMBDA_NETWORK, else bridge)"},
			&cli.StringFlag{Name: "log-level", Value: "info"},
			&cli.StringFlag{Name: "log-format", Value: "text"},
			&cli.StringFlag{Name: "log-file"},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg := config.DefaultOrchestrator()
	if v := cmd.String("listen-addr"); v != "" {
		cfg.ListenAddr = v
	}
	if v := cmd.String("routes"); v != "" {
		cfg.RoutingTablePath = v
	}
	if v := cmd.String("runtime"); v != "" {
		cfg.RuntimeBackend = v
	}
	if v := cmd.String("network"); v != "" {
		cfg.RuntimeNetwork = v
	}

	logger := logging.Setup(cmd.String("log-level"), cmd.String("log-format"), cmd.String("log-file"))

	table, err := routing.Load(cfg.RoutingTablePath)
	if err != nil {
		return fmt.Errorf("load routing table: %w", err)
	}

	driver, err := buildDriver(cfg.RuntimeBackend, cfg.RuntimeNetwork, logger)
	if err != nil {
		return fmt.Errorf("build runtime driver: %w", err)
	}

	store := lifecycle.New(16)

	adoptCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	result, err := adoptsync.Run(adoptCtx, driver, store, logger)
	cancel()
	if err != nil {
		return fmt.Errorf("adopt/sync failed: %w", err)
	}
	logger.Info("startup reconciliation complete", "adopted", result.Adopted, "removed", result.Removed)

	ports := portalloc.New(cfg.PortRangeLow, cfg.PortRangeHigh)

	perFunctionIdle := func(name string) time.Duration {
		fn := table.Function(name)
		if fn == nil || fn.IdleTimeoutS <= 0 {
			return 0
		}
		return time.Duration(fn.IdleTimeoutS) * time.Second
	}
	r := reaper.New(store, driver, ports, cfg.ReaperInterval, cfg.IdleTimeout, perFunctionIdle, logger)

	server := orchestrator.New(store, driver, table, ports, cfg.ColdStartTimeout, logger)
	mux := http.NewServeMux()
	server.Routes(mux)
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(sigCtx)
	group.Go(func() error {
		r.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	group.Go(func() error {
		logger.Info("orchestrator listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	return group.Wait()
}

func buildDriver(backend, network string, logger *slog.Logger) (runtime.Driver, error) {
	switch backend {
	case "mock":
		return mock.New(), nil
	default:
		return docker.New(network, false, logger)
	}
}
