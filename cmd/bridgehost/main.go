package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	firebase "firebase.google.com/go/v4"
	"github.com/dgraph-io/badger/v4"
	"google.golang.org/api/option"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-sdk-bridge/bridgeservice"
	"github.com/tinywideclouds/go-sdk-bridge/bridgeservice/config"
	"github.com/tinywideclouds/go-sdk-bridge/internal/adapter/klaviyo"
	"github.com/tinywideclouds/go-sdk-bridge/internal/adapter/memory"
	"github.com/tinywideclouds/go-sdk-bridge/internal/mirror"
	"github.com/tinywideclouds/go-sdk-bridge/internal/platform/apns"
	"github.com/tinywideclouds/go-sdk-bridge/internal/platform/fcm"
	"github.com/tinywideclouds/go-sdk-bridge/internal/platform/static"
	badgerstore "github.com/tinywideclouds/go-sdk-bridge/internal/storage/badger"
	"github.com/tinywideclouds/go-sdk-bridge/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-sdk-bridge/internal/storage/firestore"
	keyringstore "github.com/tinywideclouds/go-sdk-bridge/internal/storage/keyring"
	"github.com/tinywideclouds/go-sdk-bridge/pkg/sdk"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-sdk-bridge")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		logger.Error("Config mapping failed", "err", err)
		os.Exit(1)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	var cleanups []func()
	defer func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}()
	fail := func(msg string, err error) {
		logger.Error(msg, "err", err)
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
		os.Exit(1)
	}

	// --- Token Store (Decorated) ---
	tokenStore, closeStore, err := newTokenStore(ctx, cfg, logger)
	if err != nil {
		fail("Token store initialization failed", err)
	}
	cleanups = append(cleanups, closeStore)
	logger.Info("TokenStore initialized", "type", cfg.TokenStore.Driver)

	if cfg.TokenStore.Redis.Enabled {
		logger.Info("Initializing Redis Cache layer...", "addr", cfg.TokenStore.Redis.Addr)
		redisClient, err := cache.NewRedisClient(ctx, cache.RedisConfig{
			Addr:     cfg.TokenStore.Redis.Addr,
			Password: cfg.TokenStore.Redis.Password,
			DB:       cfg.TokenStore.Redis.DB,
		})
		if err != nil {
			fail("Failed to connect to Redis", err)
		}
		cleanups = append(cleanups, func() { _ = redisClient.Close() })
		tokenStore = cache.NewCachedTokenStore(tokenStore, redisClient, cfg.TokenStore.InstallationID, cfg.TokenStore.CacheTTL)
		logger.Info("TokenStore upgraded", "type", "redis_cached_"+cfg.TokenStore.Driver)
	}

	// --- SDK Adapter ---
	var adapter sdk.Adapter
	switch cfg.SDK.Provider {
	case config.ProviderKlaviyo:
		adapter = klaviyo.New(klaviyo.Config{
			BaseURL:  cfg.SDK.APIBaseURL,
			Revision: cfg.SDK.Revision,
			Platform: cfg.SDK.Platform,
			Vendor:   cfg.SDK.Vendor,
		}, logger)
	default:
		adapter = memory.New()
	}
	logger.Info("SDK adapter initialized", "provider", cfg.SDK.Provider)

	deps := bridgeservice.Deps{
		Adapter: adapter,
		Store:   tokenStore,
		Platform: static.New(static.Config{
			PushAvailable:      cfg.Platform.PushAvailable,
			GrantAuthorization: cfg.Platform.GrantAuthorization,
			Status:             sdk.ParsePermissionStatus(cfg.Platform.Status),
			Token:              cfg.Platform.Token,
		}),
	}

	// --- Token Verification ---
	switch {
	case cfg.Verifier.FCM.Enabled:
		var opts []option.ClientOption
		if cfg.Verifier.FCM.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.Verifier.FCM.CredentialsFile))
		}
		fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.Verifier.FCM.ProjectID}, opts...)
		if err != nil {
			fail("Failed to initialize Firebase App", err)
		}
		fcmMessaging, err := fbApp.Messaging(ctx)
		if err != nil {
			fail("Failed to create FCM messaging client", err)
		}
		deps.Verifier = fcm.NewVerifier(fcmMessaging, logger)
		logger.Info("Token verifier enabled", "type", "fcm")
	case cfg.Verifier.APNS.Enabled:
		verifier, err := apns.NewVerifier(apns.Config{
			KeyID:        cfg.Verifier.APNS.KeyID,
			TeamID:       cfg.Verifier.APNS.TeamID,
			BundleID:     cfg.Verifier.APNS.BundleID,
			P8KeyContent: cfg.Verifier.APNS.P8Key,
			Sandbox:      cfg.Verifier.APNS.Sandbox,
		}, logger)
		if err != nil {
			fail("Failed to create APNs verifier", err)
		}
		deps.Verifier = verifier
		logger.Info("Token verifier enabled", "type", "apns")
	}

	// --- Event Mirror ---
	if cfg.Mirror.Enabled {
		psClient, err := pubsub.NewClient(ctx, cfg.Mirror.ProjectID)
		if err != nil {
			fail("PubSub client failed", err)
		}
		cleanups = append(cleanups, func() { _ = psClient.Close() })
		sink, err := mirror.NewPubsubSink(psClient, cfg.Mirror.TopicID, cfg.TokenStore.InstallationID, logger)
		if err != nil {
			fail("Event mirror initialization failed", err)
		}
		cleanups = append(cleanups, func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := sink.Stop(stopCtx); err != nil {
				logger.Warn("Event mirror did not flush", "err", err)
			}
		})
		deps.Sink = sink
		logger.Info("Event mirror enabled", "topic", cfg.Mirror.TopicID)
	}

	// --- Service ---
	service, err := bridgeservice.New(cfg, deps, logger)
	if err != nil {
		fail("Service creation failed", err)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := service.Shutdown(shutdownCtx); err != nil {
			logger.Error("Shutdown failed", "err", err)
		}
	}()

	logger.Info("Starting service...", "addr", cfg.ListenAddr)
	if err := service.Start(ctx); err != nil {
		fail("Service shutdown with error", err)
	}
}

func newTokenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (sdk.TokenStore, func(), error) {
	id := cfg.TokenStore.InstallationID

	switch cfg.TokenStore.Driver {
	case config.DriverBadger, config.DriverMemory:
		var (
			db  *badger.DB
			err error
		)
		if cfg.TokenStore.Driver == config.DriverMemory {
			db, err = badgerstore.OpenInMemory(logger)
		} else {
			db, err = badgerstore.Open(cfg.TokenStore.BadgerPath, logger)
		}
		if err != nil {
			return nil, nil, err
		}
		return badgerstore.NewTokenStore(db, id), func() { _ = db.Close() }, nil

	case config.DriverKeyring:
		return keyringstore.NewTokenStore(id), func() {}, nil

	case config.DriverFirestore:
		fsClient, err := firestore.NewClient(ctx, cfg.TokenStore.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("firestore client failed: %w", err)
		}
		return fsStore.NewFirestoreStore(fsClient, id, cfg.SDK.Platform), func() { _ = fsClient.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unsupported token store driver %q", cfg.TokenStore.Driver)
}
