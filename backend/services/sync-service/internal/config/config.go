package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "wattmint/backend/libs/config"
)

// HTTPConfig controls the inbound listener.
type HTTPConfig struct {
	Port string `yaml:"port" env:"SYNC_HTTP_PORT"`
	// WriteTimeout must exceed Sync.Budget so a full run can be answered.
	WriteTimeout time.Duration `yaml:"writeTimeout" env:"SYNC_HTTP_WRITE_TIMEOUT"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn" env:"SYNC_POSTGRES_DSN"`
}

// RedisConfig is optional; without an address cooldowns and cached results are disabled.
type RedisConfig struct {
	Addr      string        `yaml:"addr" env:"SYNC_REDIS_ADDR"`
	Password  string        `yaml:"password" env:"SYNC_REDIS_PASSWORD"`
	DB        int           `yaml:"db" env:"SYNC_REDIS_DB"`
	ResultTTL time.Duration `yaml:"resultTTL" env:"SYNC_REDIS_RESULT_TTL"`
}

type JWTConfig struct {
	Secret string `yaml:"secret" env:"SYNC_JWT_SECRET"`
}

// SyncConfig tunes the orchestrator and its helpers.
type SyncConfig struct {
	ProviderConcurrency int           `yaml:"providerConcurrency" env:"SYNC_PROVIDER_CONCURRENCY"`
	PageSize            int           `yaml:"pageSize" env:"SYNC_PAGE_SIZE"`
	ItemCeiling         int           `yaml:"itemCeiling" env:"SYNC_ITEM_CEILING"`
	WakeAttempts        int           `yaml:"wakeAttempts" env:"SYNC_WAKE_ATTEMPTS"`
	WakeInterval        time.Duration `yaml:"wakeInterval" env:"SYNC_WAKE_INTERVAL"`
	RefreshWindow       time.Duration `yaml:"refreshWindow" env:"SYNC_REFRESH_WINDOW"`
	ChunkSize           int           `yaml:"chunkSize" env:"SYNC_CHUNK_SIZE"`
	MilesPerKWh         float64       `yaml:"milesPerKWh" env:"SYNC_MILES_PER_KWH"`
	Budget              time.Duration `yaml:"budget" env:"SYNC_BUDGET"`
	DefaultCooldown     time.Duration `yaml:"defaultCooldown" env:"SYNC_DEFAULT_COOLDOWN"`
	VendorTimeout       time.Duration `yaml:"vendorTimeout" env:"SYNC_VENDOR_TIMEOUT"`
}

// ProviderConfig describes one vendor API. Env keys derive from the parent,
// e.g. SYNC_PROVIDERS_TESLA_CLIENTID.
type ProviderConfig struct {
	BaseURL      string  `yaml:"baseURL"`
	RPS          float64 `yaml:"rps"`
	Burst        int     `yaml:"burst"`
	ClientID     string  `yaml:"clientID"`
	ClientSecret string  `yaml:"clientSecret"`
	TokenURL     string  `yaml:"tokenURL"`
}

type ProvidersConfig struct {
	SolarEdge ProviderConfig `yaml:"solaredge"`
	Tesla     ProviderConfig `yaml:"tesla"`
	Wallbox   ProviderConfig `yaml:"wallbox"`
}

// CryptoConfig holds the vendor token sealing secret. Empty disables sealing.
type CryptoConfig struct {
	TokenKey string `yaml:"tokenKey" env:"SYNC_TOKEN_KEY"`
}

// ArchiveConfig enables S3 run snapshots when Bucket is set.
type ArchiveConfig struct {
	Bucket       string `yaml:"bucket" env:"SYNC_ARCHIVE_BUCKET"`
	Region       string `yaml:"region" env:"SYNC_ARCHIVE_REGION"`
	BaseEndpoint string `yaml:"baseEndpoint" env:"SYNC_ARCHIVE_ENDPOINT"`
	AccessKey    string `yaml:"accessKey" env:"SYNC_ARCHIVE_ACCESS_KEY"`
	SecretKey    string `yaml:"secretKey" env:"SYNC_ARCHIVE_SECRET_KEY"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlpEndpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure     bool   `yaml:"insecure" env:"SYNC_OTLP_INSECURE"`
	ServiceName  string `yaml:"serviceName" env:"OTEL_SERVICE_NAME"`
}

// Config represents service configuration loaded from YAML/env.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	JWT       JWTConfig       `yaml:"jwt"`
	Sync      SyncConfig      `yaml:"sync"`
	Providers ProvidersConfig `yaml:"providers" env:"SYNC_PROVIDERS"`
	Crypto    CryptoConfig    `yaml:"crypto"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// Defaults returns configuration with every tunable set.
func Defaults() *Config {
	return &Config{
		HTTP:  HTTPConfig{Port: "8085", WriteTimeout: 70 * time.Second},
		Redis: RedisConfig{ResultTTL: 24 * time.Hour},
		Sync: SyncConfig{
			ProviderConcurrency: 2,
			PageSize:            100,
			ItemCeiling:         10000,
			WakeAttempts:        3,
			WakeInterval:        5 * time.Second,
			RefreshWindow:       5 * time.Minute,
			ChunkSize:           500,
			MilesPerKWh:         3.5,
			Budget:              55 * time.Second,
			DefaultCooldown:     time.Minute,
			VendorTimeout:       15 * time.Second,
		},
		Providers: ProvidersConfig{
			SolarEdge: ProviderConfig{BaseURL: "https://monitoringapi.solaredge.com", RPS: 3, Burst: 3},
			Tesla: ProviderConfig{
				BaseURL:  "https://owner-api.teslamotors.com",
				TokenURL: "https://auth.tesla.com/oauth2/v3/token",
				RPS:      1, Burst: 2,
			},
			Wallbox: ProviderConfig{BaseURL: "https://api.wall-box.com", RPS: 2, Burst: 2},
		},
		Archive:   ArchiveConfig{Region: "us-east-1"},
		Telemetry: TelemetryConfig{ServiceName: "sync-service"},
	}
}

// Load reads configuration using the shared config loader.
func Load() (*Config, error) {
	cfg := Defaults()
	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks fields every command needs.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("config: database DSN is required")
	}
	if c.Sync.ItemCeiling < 0 || c.Sync.PageSize < 0 {
		return errors.New("config: page size and item ceiling must not be negative")
	}
	if c.Sync.Budget > 0 && c.HTTP.WriteTimeout > 0 && c.HTTP.WriteTimeout <= c.Sync.Budget {
		return fmt.Errorf("config: http write timeout %s must exceed sync budget %s", c.HTTP.WriteTimeout, c.Sync.Budget)
	}
	return nil
}

// ValidateServe checks fields needed only by the HTTP server.
func (c *Config) ValidateServe() error {
	if c.JWT.Secret == "" {
		return errors.New("config: jwt secret is required")
	}
	return nil
}

// HTTPAddress ensures we always return host:port formatted string.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8085"
	}
	if strings.Contains(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}
