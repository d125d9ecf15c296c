package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"

	"github.com/jayheavner/yoto-esp32-controller/internal/bridge"
	"github.com/jayheavner/yoto-esp32-controller/internal/coordinator"
	"github.com/jayheavner/yoto-esp32-controller/internal/yotod"
)

func main() {
	var (
		configPath    string
		username      string
		password      string
		brokerURL     string
		defaultDevice string
		logLevel      string
		logFormat     string
		logOutput     string
		printConfig   bool
		dryRun        bool
	)

	defaultConfig, err := yotod.DefaultConfigPath()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	flag.StringVar(&configPath, "config", defaultConfig, "config file path")
	flag.StringVar(&username, "username", "", "account username override")
	flag.StringVar(&password, "password", "", "account password override")
	flag.StringVar(&brokerURL, "broker", "", "event broker URL override")
	flag.StringVar(&defaultDevice, "device", "", "default device id override")
	flag.StringVar(&logLevel, "log-level", "", "log level override")
	flag.StringVar(&logFormat, "log-format", "", "log format override (console|json)")
	flag.StringVar(&logOutput, "log-output", "", "log output override (stdout|stderr)")
	flag.BoolVar(&printConfig, "print-config", false, "print resolved config and exit")
	flag.BoolVar(&dryRun, "dry-run", false, "validate config and exit")
	flag.Parse()

	cfg, err := yotod.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	applyOverrides(&cfg, username, password, brokerURL, defaultDevice, logLevel, logFormat, logOutput)

	if printConfig {
		if err := printResolvedConfig(cfg); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if dryRun {
		return
	}

	logger := yotod.NewLogger(cfg.Daemon.LogLevel, cfg.Daemon.LogFormat, cfg.Daemon.LogOutput)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	coordCfg, err := cfg.Coordinator()
	if err != nil {
		logger.Error("resolve data directories failed", zap.Error(err))
		os.Exit(1)
	}
	client, err := coordinator.New(coordCfg, logger)
	if err != nil {
		logger.Error("coordinator setup failed", zap.Error(err))
		os.Exit(1)
	}

	stateBridge, err := bridge.New(cfg.BridgeOptions(), client.Store(), logger.Named("bridge"))
	if err != nil {
		logger.Error("bridge setup failed", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("yotod starting",
		zap.String("config", configPath),
		zap.String("default_device", cfg.Daemon.DefaultDevice),
		zap.Bool("bridge_enabled", cfg.Bridge.Enabled),
	)

	services := buildServices(client, stateBridge, cfg.Bridge.Enabled)
	supervisor := yotod.Supervisor{Logger: logger}
	if err := supervisor.Run(ctx, services); err != nil {
		logger.Error("supervisor error", zap.Error(err))
		os.Exit(1)
	}
}

func buildServices(client *coordinator.Client, stateBridge *bridge.Bridge, bridgeEnabled bool) []yotod.ServiceRunner {
	services := []yotod.ServiceRunner{
		{
			Name: "coordinator",
			Run: func(ctx context.Context) error {
				if err := client.Start(ctx); err != nil {
					return err
				}
				<-ctx.Done()
				client.Stop()
				return nil
			},
		},
	}
	if bridgeEnabled {
		services = append(services, yotod.ServiceRunner{
			Name: "bridge",
			Run: func(ctx context.Context) error {
				if err := stateBridge.Start(ctx); err != nil {
					return err
				}
				<-ctx.Done()
				stateBridge.Stop()
				return nil
			},
		})
	}
	return services
}

func applyOverrides(cfg *yotod.Config, username, password, brokerURL, defaultDevice, logLevel, logFormat, logOutput string) {
	if username != "" {
		cfg.Auth.Username = username
	}
	if password != "" {
		cfg.Auth.Password = password
	}
	if brokerURL != "" {
		cfg.Transport.BrokerURL = brokerURL
	}
	if defaultDevice != "" {
		cfg.Daemon.DefaultDevice = defaultDevice
	}
	if logLevel != "" {
		cfg.Daemon.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.Daemon.LogFormat = logFormat
	}
	if logOutput != "" {
		cfg.Daemon.LogOutput = logOutput
	}
}

func printResolvedConfig(cfg yotod.Config) error {
	redacted := cfg
	if redacted.Auth.Password != "" {
		redacted.Auth.Password = "<redacted>"
	}
	if redacted.Bridge.Password != "" {
		redacted.Bridge.Password = "<redacted>"
	}
	return toml.NewEncoder(os.Stdout).Encode(redacted)
}
