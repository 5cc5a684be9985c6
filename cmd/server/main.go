// Command server runs the noria API.
//
// Usage:
//
//	server serve
//	server migrate
//	server version
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"
	"golang.org/x/sync/errgroup"

	"noria-api/internal/config"
	"noria-api/internal/factory"
	"noria-api/internal/handler"
	"noria-api/internal/util"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve   ServeCmd   `cmd:"" default:"1" help:"Migrate the database and start the HTTP server."`
	Migrate MigrateCmd `cmd:"" help:"Apply database migrations and exit."`
	Version VersionCmd `cmd:"" help:"Show version information."`

	EnvFile string `name:"env-file" help:"Optional .env file loaded before the environment is read." type:"path"`
}

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("noria-api version %s\n", version)
	return nil
}

type MigrateCmd struct{}

func (c *MigrateCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	f, err := newFactory(ctx, cli)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	util.Info("Database migrated")
	return nil
}

type ServeCmd struct {
	Port        int  `help:"Port to listen on (overrides PORT)."`
	SkipMigrate bool `name:"skip-migrate" help:"Start without applying database migrations."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	f, err := newFactory(ctx, cli)
	if err != nil {
		return err
	}
	defer f.Close()

	cfg := f.Config()
	if c.Port > 0 {
		cfg.Server.Port = c.Port
	}

	if !c.SkipMigrate {
		if err := f.Migrate(ctx); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	router, err := setupRouter(f)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		util.Info("Server started successfully",
			util.String("environment", cfg.Environment),
			util.String("address", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		util.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			util.Error("Failed to shutdown server gracefully", util.ErrorField(err))
			return err
		}
		util.Info("Server shutdown completed")
		return nil
	})

	return g.Wait()
}

func newFactory(ctx context.Context, cli *CLI) (*factory.Factory, error) {
	if cli.EnvFile != "" {
		if err := config.LoadEnvFile(cli.EnvFile); err != nil {
			return nil, err
		}
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return factory.NewFactory(ctx, cfg)
}

// setupRouter creates the HTTP router with all handlers using Chi
func setupRouter(f *factory.Factory) (http.Handler, error) {
	cfg := f.Config()
	logger := f.Logger()
	services := f.ServiceFactory()

	proxies, err := handler.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, err
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}

	return handler.NewRouter(handler.RouterConfig{
		Environment:        cfg.Environment,
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
		MetricsPath:        metricsPath,
		Metrics:            f.Metrics(),
		Health:             f,
		Logger:             logger,
	},
		handler.NewAuthHandler(services.UserService(), f.SignupLimiter(), proxies, f.Metrics(), logger),
		handler.NewUserHandler(services.UserService(), logger),
		handler.NewConversationHandler(services.ConversationService(), logger),
		handler.NewAnalysisHandler(services.AnalysisService(), logger),
		handler.NewJobHandler(services.JobService(), logger),
	), nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("server"),
		kong.Description("noria API - coaching conversations, signup and analysis scheduling"),
		kong.UsageOnError(),
	)

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
