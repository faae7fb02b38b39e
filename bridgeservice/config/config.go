package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

const (
	ProviderMemory  = "memory"
	ProviderKlaviyo = "klaviyo"

	DriverBadger    = "badger"
	DriverFirestore = "firestore"
	DriverKeyring   = "keyring"
	DriverMemory    = "memory"
)

type SDKConfig struct {
	Provider   string
	APIBaseURL string
	Revision   string
	Platform   string
	Vendor     string
}

type PlatformConfig struct {
	PushAvailable      bool
	GrantAuthorization bool
	Status             string
	Token              string
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type TokenStoreConfig struct {
	Driver         string
	BadgerPath     string
	InstallationID string
	ProjectID      string
	CacheTTL       time.Duration
	Redis          RedisConfig
}

type FCMConfig struct {
	Enabled         bool
	ProjectID       string
	CredentialsFile string
}

type APNSConfig struct {
	Enabled  bool
	KeyID    string
	TeamID   string
	BundleID string
	P8Key    string
	Sandbox  bool
}

type VerifierConfig struct {
	FCM     FCMConfig
	APNS    APNSConfig
	Timeout time.Duration
}

type MirrorConfig struct {
	Enabled   bool
	ProjectID string
	TopicID   string
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ListenAddr        string
	CorsConfig        middleware.CorsConfig
	SDK               SDKConfig
	Platform          PlatformConfig
	TokenStore        TokenStoreConfig
	Verifier          VerifierConfig
	Mirror            MirrorConfig
	TokenFetchTimeout time.Duration
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("SDK_PROVIDER"); val != "" {
		logger.Debug("Overriding config value", "key", "SDK_PROVIDER", "source", "env")
		cfg.SDK.Provider = val
	}
	if val := os.Getenv("KLAVIYO_API_BASE_URL"); val != "" {
		logger.Debug("Overriding config value", "key", "KLAVIYO_API_BASE_URL", "source", "env")
		cfg.SDK.APIBaseURL = val
	}
	if val := os.Getenv("PUSH_AVAILABLE"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			logger.Debug("Overriding config value", "key", "PUSH_AVAILABLE", "source", "env")
			cfg.Platform.PushAvailable = b
		}
	}

	// Token store overrides
	if val := os.Getenv("TOKEN_STORE_DRIVER"); val != "" {
		logger.Debug("Overriding config value", "key", "TOKEN_STORE_DRIVER", "source", "env")
		cfg.TokenStore.Driver = val
	}
	if val := os.Getenv("BADGER_PATH"); val != "" {
		logger.Debug("Overriding config value", "key", "BADGER_PATH", "source", "env")
		cfg.TokenStore.BadgerPath = val
	}
	if val := os.Getenv("INSTALLATION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "INSTALLATION_ID", "source", "env")
		cfg.TokenStore.InstallationID = val
	}
	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.TokenStore.ProjectID = val
		cfg.Mirror.ProjectID = val
		cfg.Verifier.FCM.ProjectID = val
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.TokenStore.Redis.Addr = val
		cfg.TokenStore.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.TokenStore.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.TokenStore.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.TokenStore.Redis.Enabled = enabled
	}

	// Verifier overrides
	if val := os.Getenv("FCM_CREDENTIALS_FILE"); val != "" {
		logger.Debug("Overriding config value", "key", "FCM_CREDENTIALS_FILE", "source", "env")
		cfg.Verifier.FCM.CredentialsFile = val
		cfg.Verifier.FCM.Enabled = true
	}
	if val := os.Getenv("APNS_P8_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_P8_KEY", "source", "env")
		cfg.Verifier.APNS.P8Key = val
		cfg.Verifier.APNS.Enabled = true
	}

	// Mirror overrides
	if val := os.Getenv("MIRROR_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "MIRROR_TOPIC_ID", "source", "env")
		cfg.Mirror.TopicID = val
		cfg.Mirror.Enabled = true
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 2. Final Validation
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.SDK.Provider == "" {
		cfg.SDK.Provider = ProviderMemory
	}
	if cfg.SDK.Provider != ProviderMemory && cfg.SDK.Provider != ProviderKlaviyo {
		return nil, fmt.Errorf("sdk.provider %q is not supported (memory or klaviyo)", cfg.SDK.Provider)
	}
	if cfg.TokenStore.Driver == "" {
		cfg.TokenStore.Driver = DriverBadger
	}
	if cfg.TokenStore.InstallationID == "" {
		cfg.TokenStore.InstallationID = "default"
	}
	if cfg.TokenStore.CacheTTL <= 0 {
		cfg.TokenStore.CacheTTL = 24 * time.Hour
	}

	switch cfg.TokenStore.Driver {
	case DriverBadger:
		if cfg.TokenStore.BadgerPath == "" {
			return nil, fmt.Errorf("token_store.badger_path is required for the badger driver (set via YAML or BADGER_PATH env var)")
		}
	case DriverFirestore:
		if cfg.TokenStore.ProjectID == "" {
			return nil, fmt.Errorf("token_store.project_id is required for the firestore driver (set via YAML or PROJECT_ID env var)")
		}
	case DriverKeyring, DriverMemory:
	default:
		return nil, fmt.Errorf("token_store.driver %q is not supported", cfg.TokenStore.Driver)
	}

	if cfg.TokenStore.Redis.Enabled && cfg.TokenStore.Redis.Addr == "" {
		return nil, fmt.Errorf("token_store.redis.addr is required when redis is enabled")
	}
	if cfg.Verifier.FCM.Enabled && cfg.Verifier.APNS.Enabled {
		return nil, fmt.Errorf("only one of verifier.fcm and verifier.apns may be enabled")
	}
	if cfg.Verifier.APNS.Enabled && (cfg.Verifier.APNS.KeyID == "" || cfg.Verifier.APNS.TeamID == "" || cfg.Verifier.APNS.BundleID == "" || cfg.Verifier.APNS.P8Key == "") {
		return nil, fmt.Errorf("verifier.apns requires key_id, team_id, bundle_id and p8_key")
	}
	if cfg.Mirror.Enabled && (cfg.Mirror.ProjectID == "" || cfg.Mirror.TopicID == "") {
		return nil, fmt.Errorf("mirror requires project_id and topic_id (set via YAML or PROJECT_ID / MIRROR_TOPIC_ID env vars)")
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
