package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatten/config"
	"chatten/core"
	"chatten/core/types"
	"chatten/observability"
	"chatten/observability/logging"
	"chatten/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	logger := logging.Setup("chattend", os.Getenv("CHATTEN_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("Failed to open database", slog.Any("error", err), slog.String("dir", cfg.DataDir))
		os.Exit(1)
	}
	defer db.Close()

	emitter := observability.NewMetricsEmitter(newLogEmitter(logger))
	processor := core.NewProcessor(db, emitter)

	if err := ensureGenesis(processor, cfg, logger); err != nil {
		logger.Error("Failed to install genesis state", slog.Any("error", err))
		os.Exit(1)
	}

	go serveMetrics(cfg.MetricsAddress, logger)

	logger.Info("chattend ready",
		slog.String("network", cfg.NetworkName),
		slog.String("data_dir", cfg.DataDir),
		slog.String("metrics", cfg.MetricsAddress),
	)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("chattend shutting down")
}

// ensureGenesis installs roles and fee config on a fresh data directory and
// leaves an already-initialised store untouched.
func ensureGenesis(processor *core.Processor, cfg *config.Config, logger *slog.Logger) error {
	if _, initialised, err := processor.Admin(); err != nil {
		return err
	} else if initialised {
		return nil
	}

	admin, ok, err := cfg.GenesisAdmin()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("empty data directory %s requires genesis.Admin in config", cfg.DataDir)
	}
	governance, _, err := cfg.GenesisGovernance()
	if err != nil {
		return err
	}
	oracles, err := cfg.GenesisOracles()
	if err != nil {
		return err
	}
	minters, err := cfg.GenesisMinters()
	if err != nil {
		return err
	}

	genesis := core.Genesis{
		Admin:      admin,
		Governance: governance,
		FeeBps:     cfg.Genesis.SwapFeeBps,
		Oracles:    oracles,
		Minters:    minters,
	}
	if err := processor.InitGenesis(genesis); err != nil {
		return err
	}
	logger.Info("genesis installed",
		slog.String("admin", types.FormatAddress(admin)),
		slog.Int("oracles", len(oracles)),
		slog.Int("minters", len(minters)),
	)
	return nil
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics listener stopped", slog.Any("error", err))
	}
}
