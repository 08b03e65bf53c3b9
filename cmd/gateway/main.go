// Command gateway runs the Gateway: the stateless, public-facing HTTP
// entry point that routes, authenticates and proxies function
// invocations, delegating container provisioning to the Orchestrator.
// Grounded on the teacher's cmd/leafv2/main.go (flag parsing, signal
// handling, graceful server construction).
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/esb-platform/esb/pkg/config"
	"github.com/esb-platform/esb/pkg/gateway"
	"github.com/esb-platform/esb/pkg/gateway/auth"
	"github.com/esb-platform/esb/pkg/gateway/heartbeat"
	"github.com/esb-platform/esb/pkg/gateway/orchclient"
	"github.com/esb-platform/esb/pkg/obs/logging"
	"github.com/esb-platform/esb/pkg/routing"
)

func main() {
	cmd := &cli.Command{
		Name:  "gateway",
		Usage: "esb Gateway: public HTTPS entry point for function invocations",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen-addr", Value: ":8443"},
			&cli.StringFlag{Name: "routes", Value: "routes.json", Usage: "path to the routing table"},
			&cli.StringFlag{Name: "orchestrator-addr", Value: "http://127.0.0.1:9090"},
			&cli.StringFlag{Name: "tls-cert"},
			&cli.StringFlag{Name: "tls-key"},
			&cli.StringFlag{Name: "log-level", Value: "info"},
			&cli.StringFlag{Name: "log-format", Value: "text"},
			&cli.StringFlag{Name: "log-file"},
			&cli.StringFlag{Name: "jwt-secret", Usage: "HMAC secret for issuing/verifying Bearer tokens"},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg := config.DefaultGateway()
	if v := cmd.String("listen-addr"); v != "" {
		cfg.ListenAddr = v
	}
	if v := cmd.String("routes"); v != "" {
		cfg.RoutingTablePath = v
	}
	if v := cmd.String("orchestrator-addr"); v != "" {
		cfg.OrchestratorAddr = v
	}
	cfg.TLSCertPath = cmd.String("tls-cert")
	cfg.TLSKeyPath = cmd.String("tls-key")

	logger := logging.Setup(cmd.String("log-level"), cmd.String("log-format"), cmd.String("log-file"))

	table, err := routing.Load(cfg.RoutingTablePath)
	if err != nil {
		return fmt.Errorf("load routing table: %w", err)
	}

	orch := orchclient.New(cfg.OrchestratorAddr, 10*time.Second)

	gwCfg := gateway.Config{
		ContainerCacheTTL:       cfg.ContainerCacheTTL,
		PoolAcquireTimeout:      cfg.PoolAcquireTimeout,
		CircuitBreakerThreshold: cfg.CircuitBreakerThreshold,
		CircuitBreakerRecovery:  cfg.CircuitBreakerRecovery,
		HeartbeatInterval:       cfg.HeartbeatInterval,
		InvokeTimeoutDefault:    cfg.InvokeTimeoutDefault,
		EnableContainerPooling:  cfg.EnableContainerPooling,
	}
	gwCtx := gateway.NewContext(gwCfg, table, orch, logger)

	secret := []byte(cmd.String("jwt-secret"))
	if len(secret) == 0 {
		secret = randomSecret()
		logger.Warn("no --jwt-secret provided, generated an ephemeral one; tokens will not verify across restarts")
	}
	issuer := auth.NewTokenIssuer(secret, time.Hour)

	server := gateway.NewServer(gwCtx, staticAPIKeys{}, allowAllCredentials{}, issuer, logger)
	mux := http.NewServeMux()
	server.Routes(mux)

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	janitor := heartbeat.New(cfg.HeartbeatInterval, gwCtx.InFlight, gwCtx, logger)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(sigCtx)
	group.Go(func() error {
		janitor.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	group.Go(func() error {
		logger.Info("gateway listening", "addr", cfg.ListenAddr)
		var err error
		if cfg.TLSCertPath != "" && cfg.TLSKeyPath != "" {
			err = httpServer.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			logger.Warn("no TLS cert/key configured, serving plain HTTP (spec requires TLS-terminated 443 in production)")
			err = httpServer.ListenAndServe()
		}
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	})

	return group.Wait()
}

func randomSecret() []byte {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return []byte(hex.EncodeToString(buf))
}

// staticAPIKeys and allowAllCredentials are placeholder auth backends: the
// platform's real key directory and user store are out of scope (spec
// §1 Non-goals). Swap these for real implementations of auth.APIKeyStore
// and auth.CredentialVerifier when wiring to a deployment's identity
// provider.
type staticAPIKeys struct{}

func (staticAPIKeys) Valid(apiKey string) bool { return apiKey != "" }

type allowAllCredentials struct{}

func (allowAllCredentials) Verify(username, password string) bool {
	return username != "" && password != ""
}
