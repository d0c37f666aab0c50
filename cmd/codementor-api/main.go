package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/codementor/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/codementor/backend/internal/config"
	"github.com/MarcoPoloResearchLab/codementor/backend/internal/database"
	"github.com/MarcoPoloResearchLab/codementor/backend/internal/execution"
	"github.com/MarcoPoloResearchLab/codementor/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/codementor/backend/internal/notify"
	"github.com/MarcoPoloResearchLab/codementor/backend/internal/problems"
	"github.com/MarcoPoloResearchLab/codementor/backend/internal/ratelimit"
	"github.com/MarcoPoloResearchLab/codementor/backend/internal/relay"
	"github.com/MarcoPoloResearchLab/codementor/backend/internal/rooms"
	"github.com/MarcoPoloResearchLab/codementor/backend/internal/server"
	"github.com/MarcoPoloResearchLab/codementor/backend/internal/sessions"
	"github.com/MarcoPoloResearchLab/codementor/backend/internal/users"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "codementor-api",
		Short: "CodeMentor backend service",
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
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database path")
	flags.String("room-store", defaults.GetString("rooms.store"), "Room document store (sqlite or mongo)")
	flags.String("mongo-uri", defaults.GetString("mongo.uri"), "MongoDB connection URI")
	flags.String("mongo-database", defaults.GetString("mongo.database"), "MongoDB database name")
	flags.Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Access token TTL in minutes")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("signing-secret", "", "Token signing secret (overrides env)")
	flags.String("execution-base-url", defaults.GetString("execution.base_url"), "Piston API base URL")
	flags.Int("execution-timeout-seconds", defaults.GetInt("execution.timeout_seconds"), "Code execution timeout in seconds")
	flags.String("redis-address", defaults.GetString("ratelimit.redis_address"), "Redis address for shared rate limiting")
	flags.Int("requests-per-minute", defaults.GetInt("ratelimit.requests_per_minute"), "Requests allowed per client per minute")
	flags.String("allowed-origins", defaults.GetString("cors.allowed_origins"), "Comma separated CORS origins")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "rooms.store", "room-store")
	bindFlag(cmd, "mongo.uri", "mongo-uri")
	bindFlag(cmd, "mongo.database", "mongo-database")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "execution.base_url", "execution-base-url")
	bindFlag(cmd, "execution.timeout_seconds", "execution-timeout-seconds")
	bindFlag(cmd, "ratelimit.redis_address", "redis-address")
	bindFlag(cmd, "ratelimit.requests_per_minute", "requests-per-minute")
	bindFlag(cmd, "cors.allowed_origins", "allowed-origins")
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

	var roomStore rooms.Store = rooms.NewGormStore(db)
	if appConfig.RoomStore == config.RoomStoreMongo {
		mongoClient, mongoDatabase, err := database.OpenMongo(ctx, appConfig.MongoURI, appConfig.MongoDatabase, logger)
		if err != nil {
			return err
		}
		defer func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := mongoClient.Disconnect(disconnectCtx); err != nil {
				logger.Warn("mongo disconnect failed", zap.Error(err))
			}
		}()
		mongoStore := rooms.NewMongoStore(mongoDatabase)
		if err := mongoStore.EnsureIndexes(ctx); err != nil {
			return err
		}
		roomStore = mongoStore
	}

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "codementor-auth",
		Audience:      "codementor-api",
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	dispatcher := notify.NewDispatcher()

	userService, err := users.NewService(users.ServiceConfig{Database: db, Clock: time.Now, Logger: logger})
	if err != nil {
		return err
	}
	roomService, err := rooms.NewService(rooms.ServiceConfig{
		Store:         roomStore,
		CodeGenerator: rooms.NewUUIDCodeGenerator(),
		Notifier:      dispatcher,
		Clock:         time.Now,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	sessionService, err := sessions.NewService(sessions.ServiceConfig{
		Database: db,
		Users:    userService,
		Rooms:    roomService,
		Notifier: dispatcher,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	runner, err := execution.NewClient(execution.ClientConfig{
		BaseURL: appConfig.ExecutionBaseURL,
		Timeout: appConfig.ExecutionTimeout,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	problemService, err := problems.NewService(problems.ServiceConfig{
		Database: db,
		Runner:   runner,
		Solves:   userService,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	roomRelay, err := relay.NewRelay(relay.Config{Rooms: roomService, Logger: logger})
	if err != nil {
		return err
	}
	defer roomRelay.Close()

	limiter, closeLimiter, err := newLimiter(appConfig, logger)
	if err != nil {
		return err
	}
	defer closeLimiter()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:   tokenManager,
		Users:          userService,
		Rooms:          roomService,
		Sessions:       sessionService,
		Problems:       problemService,
		Runner:         runner,
		Relay:          roomRelay,
		Notifications:  dispatcher,
		Limiter:        limiter,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("room_store", appConfig.RoomStore),
		)
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Hijacked websocket connections are not tracked by Shutdown.
		roomRelay.Close()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func newLimiter(appConfig config.AppConfig, logger *zap.Logger) (ratelimit.Limiter, func(), error) {
	if appConfig.RedisAddress == "" {
		limiter, err := ratelimit.NewMemoryLimiter(appConfig.RequestsPerMinute, time.Now)
		return limiter, func() {}, err
	}
	client := redis.NewClient(&redis.Options{Addr: appConfig.RedisAddress})
	limiter, err := ratelimit.NewRedisLimiter(client, appConfig.RequestsPerMinute, time.Now)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	logger.Info("using redis rate limiter", zap.String("address", appConfig.RedisAddress))
	return limiter, func() {
		if err := client.Close(); err != nil {
			logger.Warn("redis close failed", zap.Error(err))
		}
	}, nil
}
