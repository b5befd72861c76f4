package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/gpufabric/gpu-stats-analytics/cmd/api"
	"github.com/gpufabric/gpu-stats-analytics/internal/config"
)

func main() {
	var configFile string

	flagset := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	api.RegisterFlags(flagset, &configFile)
	if err := flagset.Parse(os.Args[1:]); err != nil {
		slog.Error("unable to parse flags", "err", err)
		os.Exit(1)
	}

	if configFile != "" {
		if err := config.LoadConfig(configFile); err != nil {
			slog.Error("unable to load config file", "err", err)
			os.Exit(1)
		}
	}

	setupLogger(config.DefaultConfig.Logging)

	if err := api.Run(); err != nil {
		slog.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LoggingConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
