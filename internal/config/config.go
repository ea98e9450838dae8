package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	MySQL     MySQLConfig     `mapstructure:"mysql"`
	Store     StoreConfig     `mapstructure:"store"`
	Bidding   BiddingConfig   `mapstructure:"bidding"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Presence  PresenceConfig  `mapstructure:"presence"`
	Leader    LeaderConfig    `mapstructure:"leader"`
	Instance  InstanceConfig  `mapstructure:"instance"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MySQLConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// StoreConfig selects the backing implementations. Driver is one of
// "memory", "redis" or "mysql"; PresenceDriver is "memory" or "redis".
type StoreConfig struct {
	Driver         string `mapstructure:"driver"`
	PresenceDriver string `mapstructure:"presence_driver"`
}

type BiddingConfig struct {
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
	ExtendWindow   time.Duration `mapstructure:"extend_window"`
	ExtendDuration time.Duration `mapstructure:"extend_duration"`
	MaxExtension   time.Duration `mapstructure:"max_extension"`
	RecentBids     int           `mapstructure:"recent_bids"`
}

type SchedulerConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type PresenceConfig struct {
	TTL    time.Duration `mapstructure:"ttl"`
	Window time.Duration `mapstructure:"window"`
}

type LeaderConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type InstanceConfig struct {
	ID string `mapstructure:"id"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func newViper() *viper.Viper {
	v := viper.New()

	// Set default values
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("mysql.dsn", "auction_user:auction_pass@tcp(localhost:3306)/auction_db?parseTime=true")
	v.SetDefault("mysql.max_open_conns", 25)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("mysql.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.presence_driver", "memory")
	v.SetDefault("bidding.max_retries", 5)
	v.SetDefault("bidding.retry_backoff", 5*time.Millisecond)
	v.SetDefault("bidding.extend_window", 60*time.Second)
	v.SetDefault("bidding.extend_duration", 120*time.Second)
	v.SetDefault("bidding.max_extension", 30*time.Minute)
	v.SetDefault("bidding.recent_bids", 20)
	v.SetDefault("scheduler.sweep_interval", 2*time.Second)
	v.SetDefault("presence.ttl", 2*time.Minute)
	v.SetDefault("presence.window", 30*time.Second)
	v.SetDefault("leader.enabled", false)
	v.SetDefault("leader.ttl", 30*time.Second)
	v.SetDefault("instance.id", "auction-service-1")
	v.SetDefault("log.level", "info")

	// Environment variable support
	v.AutomaticEnv()

	// Environment variable mappings
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("server.host", "SERVER_HOST")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")
	v.BindEnv("mysql.dsn", "MYSQL_DSN")
	v.BindEnv("mysql.max_open_conns", "MYSQL_MAX_OPEN_CONNS")
	v.BindEnv("mysql.max_idle_conns", "MYSQL_MAX_IDLE_CONNS")
	v.BindEnv("mysql.conn_max_lifetime", "MYSQL_CONN_MAX_LIFETIME")
	v.BindEnv("store.driver", "STORE_DRIVER")
	v.BindEnv("store.presence_driver", "PRESENCE_DRIVER")
	v.BindEnv("bidding.max_retries", "BIDDING_MAX_RETRIES")
	v.BindEnv("bidding.extend_window", "BIDDING_EXTEND_WINDOW")
	v.BindEnv("bidding.extend_duration", "BIDDING_EXTEND_DURATION")
	v.BindEnv("bidding.max_extension", "BIDDING_MAX_EXTENSION")
	v.BindEnv("scheduler.sweep_interval", "SCHEDULER_SWEEP_INTERVAL")
	v.BindEnv("leader.enabled", "LEADER_ENABLED")
	v.BindEnv("leader.ttl", "LEADER_TTL")
	v.BindEnv("instance.id", "INSTANCE_ID")
	v.BindEnv("log.level", "LOG_LEVEL")

	return v
}

func Load() (*Config, error) {
	v := newViper()

	// Configuration file settings
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/diamond-auction/")

	// Read configuration file (optional - will use defaults/env vars if not found)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	return unmarshal(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	return unmarshal(v)
}

// Resolve loads configPath when it is set and falls back to Load otherwise.
func Resolve(configPath string) (*Config, error) {
	if configPath == "" {
		return Load()
	}
	return LoadFromFile(configPath)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// MaxBidRetries bounds bidding.max_retries. Past this many attempts a bid is
// better reported as contended than kept waiting.
const MaxBidRetries = 20

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "redis", "mysql":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Store.PresenceDriver {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown presence driver %q", c.Store.PresenceDriver)
	}
	if c.Bidding.MaxRetries < 0 || c.Bidding.MaxRetries > MaxBidRetries {
		return fmt.Errorf("bidding.max_retries must be between 0 and %d", MaxBidRetries)
	}
	if c.Bidding.RetryBackoff < 0 {
		return errors.New("bidding.retry_backoff must not be negative")
	}
	if c.Bidding.ExtendWindow < 0 || c.Bidding.ExtendDuration < 0 || c.Bidding.MaxExtension < 0 {
		return errors.New("bidding extension durations must not be negative")
	}
	if c.Scheduler.SweepInterval <= 0 {
		return errors.New("scheduler.sweep_interval must be positive")
	}
	return nil
}

// GetConfigString returns a formatted string representation of the config
func (c *Config) GetConfigString() string {
	return fmt.Sprintf(
		"Server: %s:%d, Store: %s, Redis: %s, Instance: %s",
		c.Server.Host,
		c.Server.Port,
		c.Store.Driver,
		c.Redis.Address,
		c.Instance.ID,
	)
}
