package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vigil/internal/app"
	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/server"
)

// multiFlag collects values from a flag given more than once.
type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }

func (m *multiFlag) Set(value string) error {
	*m = append(*m, value)
	return nil
}

// options holds everything the command line can override.
type options struct {
	configFiles multiFlag
	host        string
	port        int
	dataDir     string
	showVersion bool
}

func parseFlags() options {
	var opts options
	var portShort int
	var versionShort bool

	flag.Var(&opts.configFiles, "config", "Configuration file (repeatable, later files override earlier ones)")
	flag.Var(&opts.configFiles, "c", "Configuration file (shorthand)")
	flag.IntVar(&opts.port, "port", 0, "Server port (overrides config)")
	flag.IntVar(&portShort, "p", 0, "Server port (shorthand)")
	flag.StringVar(&opts.host, "host", "", "Server host (overrides config)")
	flag.StringVar(&opts.dataDir, "data-dir", "", "Data directory (overrides config)")
	flag.BoolVar(&opts.showVersion, "version", false, "Print version information")
	flag.BoolVar(&versionShort, "v", false, "Print version information (shorthand)")
	flag.Parse()

	// Shorthand flags win when both forms are given.
	if portShort != 0 {
		opts.port = portShort
	}
	opts.showVersion = opts.showVersion || versionShort
	return opts
}

// discoverConfig falls back to vigil.toml in the working directory when no
// -config flag was given. deployments/local covers running from a checkout.
func discoverConfig(paths []string) []string {
	if len(paths) > 0 {
		return paths
	}
	for _, candidate := range []string{"vigil.toml", "deployments/local/vigil.toml"} {
		if _, err := os.Stat(candidate); err == nil {
			return []string{candidate}
		}
	}
	return nil
}

func main() {
	common.InstallCrashHandler("")
	defer func() {
		if r := recover(); r != nil {
			common.WriteCrashFile(r, common.GetAllGoroutineStacks())
			os.Exit(1)
		}
	}()

	opts := parseFlags()

	// A .version file next to the binary overrides the compiled-in version.
	common.LoadVersionFromFile()

	if opts.showVersion {
		fmt.Printf("Vigil version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	// Resolution order: defaults, config files in flag order, environment,
	// then CLI overrides. The logger and banner come after so they see the
	// final values.
	configFiles := discoverConfig(opts.configFiles)
	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		boot := arbor.NewLogger()
		boot.Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}
	config.ApplyFlagOverrides(opts.host, opts.port, opts.dataDir)

	logger := common.InitLogger(config)
	common.PrintBanner(common.GetVersion())

	logger.Info().
		Strs("config_files", configFiles).
		Str("host", config.Server.Host).
		Int("port", config.Server.Port).
		Str("database", config.Storage.DatabasePath).
		Str("snapshots", config.Storage.SnapshotDirectory).
		Str("log_file", common.GetLogFilePath(logger)).
		Bool("scheduler", config.Scheduler.Enabled).
		Msg("Configuration resolved")

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer application.Close()

	if err := application.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start application services")
	}

	// The /api/shutdown handler closes this channel to request a stop.
	shutdownChan := make(chan struct{})

	srv := server.New(application)
	srv.SetShutdownChannel(shutdownChan)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Fatal().Str("panic", fmt.Sprintf("%v", r)).Msg("Server goroutine panicked")
			}
		}()
		if err := srv.Start(); err != nil {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)).
		Msg("Server ready - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info().Msg("Interrupt signal received")
	case <-shutdownChan:
		logger.Info().Msg("Shutdown requested via HTTP")
	}

	logger.Info().Msg("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}

	logger.Info().Msg("Server stopped")
}
