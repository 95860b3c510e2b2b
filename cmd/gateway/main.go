// Command gateway runs the synapse multi-cell ingest router: it loads the
// static YAML configuration, starts the locator's background sync, and
// serves client traffic until interrupted.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammed-shakir/synapse-gateway/internal/config"
	"github.com/mohammed-shakir/synapse-gateway/internal/executor"
	"github.com/mohammed-shakir/synapse-gateway/internal/gateway"
	"github.com/mohammed-shakir/synapse-gateway/internal/handler"
	"github.com/mohammed-shakir/synapse-gateway/internal/locator"
	"github.com/mohammed-shakir/synapse-gateway/internal/locator/backupstore"
	"github.com/mohammed-shakir/synapse-gateway/internal/locator/controlplane"
	"github.com/mohammed-shakir/synapse-gateway/internal/obsv"
	"github.com/mohammed-shakir/synapse-gateway/internal/upstreamclient"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to gateway YAML configuration")
	flag.Parse()

	zl := obsv.Build(obsv.Config{Level: "info", Component: "gateway"}, os.Stderr)
	logger := obsv.NewSlog(&zl)

	if err := run(*configPath, logger); err != nil {
		logger.Error("gateway exited with error", "err", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	obsv.Init(prometheus.DefaultRegisterer, true)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc, err := buildLocator(ctx, cfg, logger)
	if err != nil {
		return err
	}
	loc.Start(ctx)
	defer loc.Shutdown()

	outbound := upstreamclient.New(upstreamclient.NewOutbound())
	exec := executor.New(outbound, logger)

	handlers := map[string]handler.Handler{
		"any_cell":       handler.NewAnyCellHandler(logger),
		"project_configs": handler.NewProjectConfigsHandler(loc, logger),
		"public_keys":    handler.NewPublicKeysHandler(logger),
	}

	gw := &gateway.Gateway{
		Routes:   cfg.RouteTable(),
		Locales:  cfg.Locales(),
		Handlers: handlers,
		Executor: exec,
		Timeouts: executor.Timeouts{
			HTTP:           time.Duration(cfg.RelayTimeouts.HTTPTimeoutSecs) * time.Second,
			TaskInitial:    time.Duration(cfg.RelayTimeouts.TaskInitialTimeoutSecs) * time.Second,
			TaskSubsequent: time.Duration(cfg.RelayTimeouts.TaskSubsequentTimeoutSecs) * time.Second,
		},
		Readiness: loc,
		Logger:    logger,
	}

	return gateway.Serve(ctx, cfg.Listener.Addr(), cfg.AdminListener.Addr(), gw, logger)
}

func buildLocator(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*locator.Locator, error) {
	dt := controlplane.Organization
	if cfg.Locator.DataType == "project_key" {
		dt = controlplane.ProjectKey
	}

	localities := make([]string, 0, len(cfg.Locator.LocalityToDefaultCell))
	for loc := range cfg.Locator.LocalityToDefaultCell {
		localities = append(localities, loc)
	}

	cp := controlplane.New(upstreamclient.NewOutbound(), cfg.Locator.ControlPlaneURL, dt, localities, cfg.HMACSecret, logger)

	var backup backupstore.Provider
	compression := backupstore.ParseCompression(cfg.Locator.BackupStore.Compression)
	switch cfg.Locator.BackupStore.Kind {
	case "gcs":
		p, err := backupstore.NewGCSProvider(ctx, cfg.Locator.BackupStore.Bucket, cfg.Locator.BackupStore.ObjectKey, compression)
		if err != nil {
			return nil, err
		}
		backup = p
	case "filesystem", "":
		if cfg.Locator.BackupStore.Path != "" {
			backup = backupstore.NewFilesystemProvider(cfg.Locator.BackupStore.Path, compression)
		}
	}

	return locator.New(cp, backup, cfg.Locator.LocalityToDefaultCell, 30*time.Second, logger), nil
}
