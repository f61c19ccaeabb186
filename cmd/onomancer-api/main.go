package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/onomancer/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/onomancer/backend/internal/cache"
	"github.com/MarcoPoloResearchLab/onomancer/backend/internal/config"
	"github.com/MarcoPoloResearchLab/onomancer/backend/internal/database"
	"github.com/MarcoPoloResearchLab/onomancer/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/onomancer/backend/internal/names"
	"github.com/MarcoPoloResearchLab/onomancer/backend/internal/replay"
	"github.com/MarcoPoloResearchLab/onomancer/backend/internal/server"
)

var (
	cfgFile string
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "onomancer-api",
		Short: "Onomancer name composition and ranking service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
		SilenceUsage: true,
	}

	setupFlags(rootCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	})
	rootCmd.AddCommand(newSeedCommand(), newPurgeCommand(), newDumpCommand())
	return rootCmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", "", "Postgres DSN")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("moderator-key", "", "Shared moderator key (overrides env)")
	cmd.PersistentFlags().String("signing-secret", "", "Moderator session signing secret (overrides env)")
	cmd.PersistentFlags().String("redis-url", "", "Redis address for the leaderboard cache")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "moderator.key", "moderator-key")
	bindFlag(cmd, "moderator.signing_secret", "signing-secret")
	bindFlag(cmd, "redis.url", "redis-url")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

// openStorage opens the database and builds the engine on top of it. The returned close
// function releases the connection pool.
func openStorage(appConfig config.AppConfig, leaderboardCache names.LeaderboardCache, observer names.VoteObserver, logger *zap.Logger) (*names.Service, func(), error) {
	tokens := names.NewUUIDTokenProvider()
	db, err := database.Open(database.Options{
		Driver:        appConfig.Database.Driver,
		Path:          appConfig.Database.Path,
		DSN:           appConfig.Database.DSN,
		TokenProvider: tokens,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	closeDB := closer(db)

	engine := appConfig.Engine
	service, err := names.NewService(names.ServiceConfig{
		Database:      db,
		Clock:         time.Now,
		TokenProvider: tokens,
		Engine:        &engine,
		Cache:         leaderboardCache,
		Observer:      observer,
		Logger:        logger,
	})
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	return service, closeDB, nil
}

func closer(db *gorm.DB) func() {
	return func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	leaderboardCache, err := cache.Connect(ctx, appConfig.RedisURL, cache.Options{TTL: appConfig.LeaderboardCacheTTL}, logger)
	if err != nil {
		return err
	}
	var serviceCache names.LeaderboardCache
	if leaderboardCache != nil {
		defer leaderboardCache.Close() //nolint:errcheck
		serviceCache = leaderboardCache
	}

	dispatcher := server.NewRealtimeDispatcher()
	service, closeDB, err := openStorage(appConfig, serviceCache, dispatcher, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	sessions, err := auth.NewSessionIssuer(auth.SessionIssuerConfig{
		ModeratorKey:  appConfig.Moderator.Key,
		SigningSecret: []byte(appConfig.Moderator.SigningSecret),
		Issuer:        "onomancer-auth",
		Audience:      "onomancer-moderation",
		SessionTTL:    appConfig.Moderator.SessionTTL,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Names:          service,
		Sessions:       sessions,
		Nonces:         replay.NewNonceCache(appConfig.NonceCapacity),
		Dispatcher:     dispatcher,
		FallbackNames:  appConfig.FallbackNames,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
