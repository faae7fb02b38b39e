package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlSDKConfig struct {
	Provider   string `yaml:"provider"`
	APIBaseURL string `yaml:"api_base_url"`
	Revision   string `yaml:"revision"`
	Platform   string `yaml:"platform"`
	Vendor     string `yaml:"vendor"`
}

type YamlPlatformConfig struct {
	PushAvailable bool   `yaml:"push_available"`
	Authorization bool   `yaml:"authorization"`
	Status        string `yaml:"status"`
	Token         string `yaml:"token"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

type YamlTokenStoreConfig struct {
	Driver         string          `yaml:"driver"`
	BadgerPath     string          `yaml:"badger_path"`
	InstallationID string          `yaml:"installation_id"`
	ProjectID      string          `yaml:"project_id"`
	CacheTTL       string          `yaml:"cache_ttl"`
	RedisConfig    YamlRedisConfig `yaml:"redis"`
}

type YamlFCMConfig struct {
	Enabled         bool   `yaml:"enabled"`
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
}

type YamlAPNSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	KeyID    string `yaml:"key_id"`
	TeamID   string `yaml:"team_id"`
	BundleID string `yaml:"bundle_id"`
	P8Key    string `yaml:"p8_key"`
	Sandbox  bool   `yaml:"sandbox"`
}

type YamlVerifierConfig struct {
	FCM     YamlFCMConfig  `yaml:"fcm"`
	APNS    YamlAPNSConfig `yaml:"apns"`
	Timeout string         `yaml:"timeout"`
}

type YamlMirrorConfig struct {
	Enabled   bool   `yaml:"enabled"`
	ProjectID string `yaml:"project_id"`
	TopicID   string `yaml:"topic_id"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ListenAddr        string               `yaml:"listen_addr"`
	CorsConfig        YamlCorsConfig       `yaml:"cors"`
	SDKConfig         YamlSDKConfig        `yaml:"sdk"`
	PlatformConfig    YamlPlatformConfig   `yaml:"platform"`
	TokenStoreConfig  YamlTokenStoreConfig `yaml:"token_store"`
	VerifierConfig    YamlVerifierConfig   `yaml:"verifier"`
	MirrorConfig      YamlMirrorConfig     `yaml:"mirror"`
	TokenFetchTimeout string               `yaml:"token_fetch_timeout"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
// Durations are Go duration strings; empty means "use the default".
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cacheTTL, err := parseDuration("token_store.cache_ttl", baseCfg.TokenStoreConfig.CacheTTL)
	if err != nil {
		return nil, err
	}
	verifyTimeout, err := parseDuration("verifier.timeout", baseCfg.VerifierConfig.Timeout)
	if err != nil {
		return nil, err
	}
	fetchTimeout, err := parseDuration("token_fetch_timeout", baseCfg.TokenFetchTimeout)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ListenAddr: baseCfg.ListenAddr,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		SDK: SDKConfig{
			Provider:   baseCfg.SDKConfig.Provider,
			APIBaseURL: baseCfg.SDKConfig.APIBaseURL,
			Revision:   baseCfg.SDKConfig.Revision,
			Platform:   baseCfg.SDKConfig.Platform,
			Vendor:     baseCfg.SDKConfig.Vendor,
		},
		Platform: PlatformConfig{
			PushAvailable:      baseCfg.PlatformConfig.PushAvailable,
			GrantAuthorization: baseCfg.PlatformConfig.Authorization,
			Status:             baseCfg.PlatformConfig.Status,
			Token:              baseCfg.PlatformConfig.Token,
		},
		TokenStore: TokenStoreConfig{
			Driver:         baseCfg.TokenStoreConfig.Driver,
			BadgerPath:     baseCfg.TokenStoreConfig.BadgerPath,
			InstallationID: baseCfg.TokenStoreConfig.InstallationID,
			ProjectID:      baseCfg.TokenStoreConfig.ProjectID,
			CacheTTL:       cacheTTL,
			Redis: RedisConfig{
				Addr:     baseCfg.TokenStoreConfig.RedisConfig.Addr,
				Password: baseCfg.TokenStoreConfig.RedisConfig.Password,
				DB:       baseCfg.TokenStoreConfig.RedisConfig.DB,
				Enabled:  baseCfg.TokenStoreConfig.RedisConfig.Enabled,
			},
		},
		Verifier: VerifierConfig{
			FCM: FCMConfig{
				Enabled:         baseCfg.VerifierConfig.FCM.Enabled,
				ProjectID:       baseCfg.VerifierConfig.FCM.ProjectID,
				CredentialsFile: baseCfg.VerifierConfig.FCM.CredentialsFile,
			},
			APNS: APNSConfig{
				Enabled:  baseCfg.VerifierConfig.APNS.Enabled,
				KeyID:    baseCfg.VerifierConfig.APNS.KeyID,
				TeamID:   baseCfg.VerifierConfig.APNS.TeamID,
				BundleID: baseCfg.VerifierConfig.APNS.BundleID,
				P8Key:    baseCfg.VerifierConfig.APNS.P8Key,
				Sandbox:  baseCfg.VerifierConfig.APNS.Sandbox,
			},
			Timeout: verifyTimeout,
		},
		Mirror: MirrorConfig{
			Enabled:   baseCfg.MirrorConfig.Enabled,
			ProjectID: baseCfg.MirrorConfig.ProjectID,
			TopicID:   baseCfg.MirrorConfig.TopicID,
		},
		TokenFetchTimeout: fetchTimeout,
	}

	logger.Debug("YAML config mapping complete",
		"listen_addr", cfg.ListenAddr,
		"sdk_provider", cfg.SDK.Provider,
		"token_store", cfg.TokenStore.Driver,
	)

	return cfg, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return d, nil
}
