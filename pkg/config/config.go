package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	SQLite      SQLiteConfig
	Redis       RedisConfig
	ESI         ESIConfig
	Sync        SyncConfig
	Resolver    ResolverConfig
	Scan        ScanConfig
	RateLimit   RateLimitConfig
	Interesting InterestingConfig
	Logging     LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled   bool
	Host      string
	Port      int
	Password  string
	DB        int
	ReportTTL time.Duration
}

// ESIConfig controls the upstream gateway. MaxRetries counts total attempts.
type ESIConfig struct {
	BaseURL           string
	UserAgent         string
	TimeoutSec        int
	MaxRetries        int
	RetryBaseDelay    time.Duration
	MaxConnections    int
	RequestsPerSecond float64
	Burst             int
	PreviewBytes      int
}

type SyncConfig struct {
	Enabled      bool
	Interval     time.Duration
	StaleAfter   time.Duration
	ActiveWindow time.Duration
	BatchSize    BatchSizeConfig
}

type BatchSizeConfig struct {
	Pilots        int
	Organizations int
	Alliances     int
}

type ResolverConfig struct {
	FreshFor        time.Duration
	ProfileBatch    int
	NamesPerRequest int
	IDsPerRequest   int
}

type ScanConfig struct {
	MaxLength int
}

type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

// InterestingConfig overrides the built-in rule table when Rules is non-empty.
// Each entry is a bare type/group id or a map with id, min_count and min_percent.
type InterestingConfig struct {
	Rules []interface{}
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/scan-intel")

	viper.SetEnvPrefix("SCANINTEL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) validate() error {
	if c.ESI.BaseURL == "" {
		return fmt.Errorf("esi.baseURL is required")
	}
	if c.ESI.MaxRetries < 1 {
		return fmt.Errorf("esi.maxRetries must be at least 1, got %d", c.ESI.MaxRetries)
	}
	if c.ESI.MaxConnections < 1 {
		return fmt.Errorf("esi.maxConnections must be at least 1, got %d", c.ESI.MaxConnections)
	}
	if c.Sync.BatchSize.Pilots < 1 || c.Sync.BatchSize.Organizations < 1 || c.Sync.BatchSize.Alliances < 1 {
		return fmt.Errorf("sync batch sizes must be positive")
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 60)
	viper.SetDefault("server.bodyLimit", 4194304)

	viper.SetDefault("sqlite.path", "./data/scanintel.db")

	viper.SetDefault("redis.enabled", true)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.reportTTL", 15*time.Minute)

	viper.SetDefault("esi.baseURL", "https://esi.evetech.net/latest")
	viper.SetDefault("esi.userAgent", "scan-intel/1.0")
	viper.SetDefault("esi.timeoutSec", 20)
	viper.SetDefault("esi.maxRetries", 3)
	viper.SetDefault("esi.retryBaseDelay", 500*time.Millisecond)
	viper.SetDefault("esi.maxConnections", 20)
	viper.SetDefault("esi.requestsPerSecond", 50.0)
	viper.SetDefault("esi.burst", 100)
	viper.SetDefault("esi.previewBytes", 2048)

	viper.SetDefault("sync.enabled", true)
	viper.SetDefault("sync.interval", time.Hour)
	viper.SetDefault("sync.staleAfter", 23*time.Hour+30*time.Minute)
	viper.SetDefault("sync.activeWindow", 365*24*time.Hour)
	viper.SetDefault("sync.batchSize.pilots", 250)
	viper.SetDefault("sync.batchSize.organizations", 100)
	viper.SetDefault("sync.batchSize.alliances", 50)

	viper.SetDefault("resolver.freshFor", 24*time.Hour)
	viper.SetDefault("resolver.profileBatch", 100)
	viper.SetDefault("resolver.namesPerRequest", 500)
	viper.SetDefault("resolver.idsPerRequest", 1000)

	viper.SetDefault("scan.maxLength", 1048576)

	viper.SetDefault("rateLimit.requestsPerMinute", 30)
	viper.SetDefault("rateLimit.burst", 10)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
