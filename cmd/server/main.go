package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/quailsql/QuailDB"
	"github.com/quailsql/QuailDB/config"
	"github.com/quailsql/QuailDB/logging"
	"github.com/quailsql/QuailDB/metrics"
	"github.com/quailsql/QuailDB/notify"
	"github.com/quailsql/QuailDB/ps"
)

// Version is set at build time via -ldflags
var Version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	port := flag.Int("port", 0, "TCP port to listen on (overrides config)")
	baseDir := flag.String("baseDir", "", "Base directory for persistence (memory if empty)")
	gitUrl := flag.String("gitUrl", "", "Git URL to clone snapshots from")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("QuailDB SQL Server v%s\n", Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *baseDir != "" {
		cfg.Persistence.BaseDir = *baseDir
	}
	if *gitUrl != "" {
		cfg.Persistence.GitURL = *gitUrl
	}

	logger := logging.New(cfg.Logging, Version)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	persistence, err := openPersistence(cfg.Persistence, logger)
	if err != nil {
		return err
	}

	instance := QuailDB.Open(&persistence)
	if err := instance.Load(); err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	logger.Info("registry loaded", "databases", len(instance.Registry.Databases), "snapshot", persistence.LatestTransaction().ShortId())

	opts := []Option{
		WithLogger(logger),
		WithAuth(&cfg.Auth),
		WithAutoSave(cfg.Persistence.AutoSave),
	}

	feed, err := notify.Connect(cfg.MQTT, logger.With("component", "notify").Logger)
	switch {
	case errors.Is(err, notify.ErrDisabled):
	case err != nil:
		logger.Warn("change feed unavailable", "error", err)
	default:
		defer feed.Close()
		opts = append(opts, WithObserver(feed))
		logger.Info("change feed connected", "broker", cfg.MQTT.BrokerURL())
	}

	recorder, err := metrics.Connect(cfg.InfluxDB, logger.With("component", "metrics").Logger)
	switch {
	case errors.Is(err, metrics.ErrDisabled):
	case err != nil:
		logger.Warn("metrics unavailable", "error", err)
	default:
		defer recorder.Close()
		opts = append(opts, WithObserver(recorder))
		logger.Info("metrics connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	server := NewServer(instance, cfg.Identity, opts...)
	if cfg.Server.TLS.Enabled {
		err = server.StartTLS(cfg.Address(), cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
	} else {
		err = server.Start(cfg.Address())
	}
	if err != nil {
		return err
	}

	printBanner(server.Addr())

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	server.Stop()

	if cfg.Persistence.AutoSave {
		if _, err := instance.Save(cfg.Identity, "Server shutdown"); err != nil && !errors.Is(err, ps.ErrNoChanges) {
			logger.Warn("final save failed", "error", err)
		}
	}

	logger.Info("server stopped")
	return nil
}

func openPersistence(cfg config.PersistenceConfig, logger *logging.Logger) (ps.Persistence, error) {
	if cfg.BaseDir == "" {
		logger.Info("using memory persistence")
		persistence, err := ps.NewMemoryPersistence()
		if err != nil {
			return ps.Persistence{}, fmt.Errorf("failed to initialize memory persistence: %w", err)
		}
		return persistence, nil
	}

	logger.Info("using file persistence", "base_dir", cfg.BaseDir, "git_url", cfg.GitURL)
	var gitUrl *string
	if cfg.GitURL != "" {
		gitUrl = &cfg.GitURL
	}
	persistence, err := ps.NewFilePersistence(cfg.BaseDir, gitUrl)
	if err != nil {
		return ps.Persistence{}, fmt.Errorf("failed to initialize file persistence: %w", err)
	}
	return persistence, nil
}

func printBanner(addr string) {
	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Printf("║   QuailDB SQL Server v%-15s  ║\n", Version)
	fmt.Println("║   In-memory SQL with git snapshots    ║")
	fmt.Println("╚═══════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Listening on %s\n", addr)
	fmt.Println("Send SQL statements (one per line), 'quit' to disconnect")
	fmt.Println()
}
