package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/lumakey/lumakey/internal/cache"
	"github.com/lumakey/lumakey/internal/config"
	cbctrl "github.com/lumakey/lumakey/internal/http/controllers/callback"
	"github.com/lumakey/lumakey/internal/http/router"
	cbsvc "github.com/lumakey/lumakey/internal/http/services/callback"
	"github.com/lumakey/lumakey/internal/metrics"
	"github.com/lumakey/lumakey/internal/oauth/authserver"
	"github.com/lumakey/lumakey/internal/oauth/provider"
	"github.com/lumakey/lumakey/internal/observability/logger"
	"github.com/lumakey/lumakey/internal/security/secretbox"
	"github.com/lumakey/lumakey/internal/store/pg"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	var cfgPath string

	root := &cobra.Command{
		Use:   "lumakey",
		Short: "lumakey authentication service",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to the YAML config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cfgPath)
		},
	}

	var migrationsDir string
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return migrate(cmd.Context(), cfgPath, migrationsDir)
		},
	}
	migrateCmd.Flags().StringVar(&migrationsDir, "dir", "migrations/postgres", "migrations directory")

	root.AddCommand(serveCmd, migrateCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.Log.Level,
		ServiceName: "lumakey",
		Version:     version,
	})
	defer func() { _ = logger.Sync() }()
	log := logger.Named("main")

	store, err := pg.New(ctx, cfg.Storage.DSN, pg.Config{
		MaxConns:        cfg.Storage.MaxConns,
		MinConns:        cfg.Storage.MinConns,
		ConnMaxLifetime: cfg.Storage.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer store.Close()

	cacheClient, err := cache.New(cache.Config{
		Driver:   cfg.Cache.Driver,
		Addr:     cfg.Cache.Addr,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
		Prefix:   cfg.Cache.Prefix,
	})
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer func() { _ = cacheClient.Close() }()

	issuer, err := authserver.NewIssuer(cfg.Issuer.Iss, cfg.Issuer.SeedBase64, cfg.Issuer.AccessTTL, cfg.Issuer.RefreshTTL)
	if err != nil {
		return fmt.Errorf("issuer: %w", err)
	}
	if cfg.Issuer.SeedBase64 == "" {
		log.Warn("issuer running with an ephemeral key; tokens will not survive restarts")
	}

	var box *secretbox.Box
	if cfg.Secretbox.KeyBase64 != "" {
		box, err = secretbox.NewFromBase64(cfg.Secretbox.KeyBase64)
		if err != nil {
			return fmt.Errorf("secretbox: %w", err)
		}
	} else {
		log.Warn("provider token sealing disabled; set LUMAKEY_SECRETBOX_KEY in production")
	}

	server := authserver.New(authserver.Deps{
		Cache:     cacheClient,
		Issuer:    issuer,
		Tenancies: store,
		CodeTTL:   cfg.Issuer.CodeTTL,
	})

	registry := provider.StaticRegistry{}
	for _, p := range cfg.Providers {
		registry[p.ID] = &provider.OAuth2Client{
			Config: oauth2.Config{
				ClientID:     p.ClientID,
				ClientSecret: p.ClientSecret,
				RedirectURL:  p.RedirectURL,
				Scopes:       p.Scopes,
				Endpoint: oauth2.Endpoint{
					AuthURL:  p.AuthURL,
					TokenURL: p.TokenURL,
				},
			},
			UserInfoURL: p.UserInfoURL,
		}
	}

	service := cbsvc.New(cbsvc.Deps{
		Outer:     store,
		Tenancies: store,
		Accounts:  store,
		Providers: registry,
		Resolver:  cbsvc.NewResolver(store),
		Tokens:    cbsvc.NewTokenPersister(store, box),
		Finalizer: cbsvc.NewGrantFinalizer(server),
	})

	handler := router.New(router.Deps{
		Callback:   cbctrl.NewController(service, cfg.Server.SecureCookie),
		Token:      cbctrl.NewTokenController(server),
		ReadyCheck: store.Ping,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	metricsSrv := &http.Server{
		Addr:    cfg.Server.MetricsAddr,
		Handler: metrics.Handler(nil),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", logger.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info("metrics listening", logger.String("addr", cfg.Server.MetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// migrate applies .sql files in lexical order, tracking them in
// schema_migrations.
func migrate(ctx context.Context, cfgPath, dir string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, ServiceName: "lumakey-migrate"})
	defer func() { _ = logger.Sync() }()
	log := logger.Named("migrate")

	store, err := pg.New(ctx, cfg.Storage.DSN, pg.Config{})
	if err != nil {
		return err
	}
	defer store.Close()
	pool := store.Pool()

	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		var done bool
		if err := pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE name=$1)`, name).Scan(&done); err != nil {
			return err
		}
		if done {
			continue
		}

		b, err := os.ReadFile(dir + "/" + name)
		if err != nil {
			return err
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, string(b)); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("migration %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		log.Info("applied", logger.String("migration", name))
	}
	return nil
}
