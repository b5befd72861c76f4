package api

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"syscall"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/cors"

	"github.com/gpufabric/gpu-stats-analytics/api/routes"
	"github.com/gpufabric/gpu-stats-analytics/internal/config"
	"github.com/gpufabric/gpu-stats-analytics/internal/db"
	"github.com/gpufabric/gpu-stats-analytics/internal/stats"
)

func RegisterFlags(fs *flag.FlagSet, configFile *string) {
	fs.StringVar(configFile, "config-file", "", "Path to the configuration file, it takes precedence over the command line flags.")
	fs.StringVar(&config.DefaultConfig.Server.InsecureListenAddress, "insecure-listen-address", config.DefaultConfig.Server.InsecureListenAddress, "The address the statistics HTTP server should listen on.")

	config.RegisterPostgreSQLFlags(fs)
	config.RegisterLoggingFlags(fs)
}

func Run() error {
	if _, err := memlimit.SetGoMemLimitWithOpts(); err != nil {
		slog.Warn("unable to set memory limit from cgroup", "err", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg

	pgCfg := config.DefaultConfig.Database.PostgreSQL
	ctx := context.Background()

	if pgCfg.RunMigrations {
		if err := db.RunMigrations(ctx, pgCfg.DSN()); err != nil {
			slog.Error("unable to run migrations", "err", err)
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{
		MinConnections: pgCfg.MinConnections,
		MaxConnections: pgCfg.MaxConnections,
		MaxRetries:     pgCfg.MaxRetries,
		RetryDelay:     pgCfg.RetryDelay,
	}, db.PgxConnector(pgCfg.DSN()), slog.Default())
	if err != nil {
		slog.Error("unable to open connection pool", "err", err)
		return fmt.Errorf("open connection pool: %w", err)
	}
	defer pool.Shutdown(context.Background())

	statsService := stats.NewService(pool, db.NewStore(slog.Default()), slog.Default())

	var g run.Group

	{
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		routesHandler, err := routes.NewRoutes(
			routes.WithStatsProvider(statsService),
			routes.WithHandlers(reg),
		)
		if err != nil {
			slog.Error("unable to create routes", "err", err)
			return fmt.Errorf("create routes: %w", err)
		}

		mux := http.NewServeMux()
		mux.Handle("/", routesHandler)

		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-XSS-Protection", "1; mode=block")
			mux.ServeHTTP(w, r)
		})

		corsHandler := cors.New(cors.Options{
			AllowedOrigins:   config.DefaultConfig.CORS.AllowedOrigins,
			AllowedMethods:   config.DefaultConfig.CORS.AllowedMethods,
			AllowedHeaders:   config.DefaultConfig.CORS.AllowedHeaders,
			AllowCredentials: config.DefaultConfig.CORS.AllowCredentials,
			MaxAge:           config.DefaultConfig.CORS.MaxAge,
		}).Handler(handler)

		l, err := net.Listen("tcp", config.DefaultConfig.Server.InsecureListenAddress)
		if err != nil {
			slog.Error("failed to listen on address", "err", err)
			return fmt.Errorf("listen: %w", err)
		}

		srv := &http.Server{
			Handler: corsHandler,
		}

		g.Add(func() error {
			slog.Info("listening insecurely", "addr", l.Addr())
			if err := srv.Serve(l); err != nil && err != http.ErrServerClosed {
				slog.Error("server stopped", "err", err)
				return err
			}
			return nil
		}, func(error) {
			slog.Info("stopping HTTP Server")
			cancel()
			if err := srv.Shutdown(ctx); err != nil {
				slog.Error("error shutting down server", "err", err)
			}
		})
	}

	{
		g.Add(run.SignalHandler(context.Background(), syscall.SIGINT, syscall.SIGTERM))
	}

	if err := g.Run(); err != nil {
		if !errors.As(err, &run.SignalError{}) {
			return err
		}
	}
	return nil
}
