package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/florianbrrl/pixelboard/internal/auth"
	"github.com/florianbrrl/pixelboard/internal/board"
	"github.com/florianbrrl/pixelboard/internal/config"
	"github.com/florianbrrl/pixelboard/internal/database"
	"github.com/florianbrrl/pixelboard/internal/hub"
	"github.com/florianbrrl/pixelboard/internal/logging"
	"github.com/florianbrrl/pixelboard/internal/placement"
	"github.com/florianbrrl/pixelboard/internal/redisbridge"
	"github.com/florianbrrl/pixelboard/internal/server"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pixelboard-api",
		Short: "Pixel placement and real-time distribution engine",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Backend token TTL in minutes")
	cmd.PersistentFlags().Int("commit-timeout-ms", defaults.GetInt("placement.commit_timeout_ms"), "Board commit lock timeout in milliseconds")
	cmd.PersistentFlags().Int("subscriber-buffer", defaults.GetInt("hub.subscriber_buffer"), "Per-subscriber event buffer size")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("redis.address"), "Redis address for cross-instance fan-out (empty disables)")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Backend signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "placement.commit_timeout_ms", "commit-timeout-ms")
	bindFlag(cmd, "hub.subscriber_buffer", "subscriber-buffer")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
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

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "pixelboard-auth",
		Audience:      "pixelboard-api",
		TokenTTL:      appConfig.TokenTTL,
	})

	boardService, err := board.NewService(board.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	broadcastHub := hub.New(hub.Config{
		BufferSize: appConfig.SubscriberBuffer,
		Logger:     logger,
	})

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var publisher placement.EventPublisher = broadcastHub
	if appConfig.RedisAddress != "" {
		bridge, err := redisbridge.New(redisbridge.Config{
			Client: redis.NewClient(&redis.Options{Addr: appConfig.RedisAddress}),
			Local:  broadcastHub,
			Logger: logger,
		})
		if err != nil {
			return err
		}
		go func() {
			if err := bridge.Run(signalCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("redis bridge stopped", zap.Error(err))
			}
		}()
		publisher = bridge
		logger.Info("redis fan-out enabled", zap.String("address", appConfig.RedisAddress))
	}

	placementService, err := placement.NewService(placement.ServiceConfig{
		Database:      db,
		Boards:        boardService,
		IDProvider:    placement.NewUUIDProvider(),
		Publisher:     publisher,
		Logger:        logger,
		CommitTimeout: appConfig.CommitTimeout,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:     tokenManager,
		TokenMinter:      tokenManager,
		MintSecret:       []byte(appConfig.SigningSecret),
		BoardService:     boardService,
		PlacementService: placementService,
		Hub:              broadcastHub,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

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
