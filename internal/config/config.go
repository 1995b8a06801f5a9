package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	NATS      NATSConfig      `yaml:"nats"`
	MinIO     MinIOConfig     `yaml:"minio"`
	Redis     RedisConfig     `yaml:"redis"`
	Biometric BiometricConfig `yaml:"biometric"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Audit     AuditConfig     `yaml:"audit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	APIKey      string `yaml:"api_key"`
	AdminAPIKey string `yaml:"admin_api_key"`
	MetricsPort int    `yaml:"metrics_port"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	// Prefix is the key prefix under which embedding documents live.
	Prefix string `yaml:"prefix"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type BiometricConfig struct {
	Dimension        int           `yaml:"dimension"`
	Tolerance        float64       `yaml:"tolerance"`
	AlgorithmVersion string        `yaml:"algorithm_version"`
	Matcher          string        `yaml:"matcher"` // "brute" or "hnsw"
	StoreTimeout     time.Duration `yaml:"store_timeout"`
}

type RateLimitConfig struct {
	Backend     string        `yaml:"backend"` // "postgres", "memory" or "redis"
	MaxFailures int           `yaml:"max_failures"`
	Lockout     time.Duration `yaml:"lockout"`
}

type AuditConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
// A .env file in the working directory, when present, is loaded into the
// environment first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	_ = godotenv.Load()
	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the core cannot run with.
func (c *Config) Validate() error {
	if c.Biometric.Tolerance <= 0 || c.Biometric.Tolerance > 2 {
		return fmt.Errorf("biometric.tolerance must be in (0, 2], got %v", c.Biometric.Tolerance)
	}
	switch c.Biometric.Matcher {
	case "brute", "hnsw":
	default:
		return fmt.Errorf("unknown biometric.matcher %q", c.Biometric.Matcher)
	}
	switch c.RateLimit.Backend {
	case "postgres", "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("ratelimit.backend is redis but redis.addr is empty")
		}
	default:
		return fmt.Errorf("unknown ratelimit.backend %q", c.RateLimit.Backend)
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 8082
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "biometrics"
	}
	if cfg.MinIO.Prefix == "" {
		cfg.MinIO.Prefix = "embeddings/"
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "facesync:attempts:"
	}
	if cfg.Biometric.Dimension == 0 {
		cfg.Biometric.Dimension = 128
	}
	if cfg.Biometric.Tolerance == 0 {
		cfg.Biometric.Tolerance = 0.4
	}
	if cfg.Biometric.AlgorithmVersion == "" {
		cfg.Biometric.AlgorithmVersion = "dlib_resnet_v1"
	}
	if cfg.Biometric.Matcher == "" {
		cfg.Biometric.Matcher = "brute"
	}
	if cfg.Biometric.StoreTimeout == 0 {
		cfg.Biometric.StoreTimeout = 5 * time.Second
	}
	if cfg.RateLimit.Backend == "" {
		cfg.RateLimit.Backend = "postgres"
	}
	if cfg.RateLimit.MaxFailures == 0 {
		cfg.RateLimit.MaxFailures = 5
	}
	if cfg.RateLimit.Lockout == 0 {
		cfg.RateLimit.Lockout = 5 * time.Minute
	}
	if cfg.Audit.Interval == 0 {
		cfg.Audit.Interval = time.Hour
	}
	if cfg.Audit.Timeout == 0 {
		cfg.Audit.Timeout = 2 * time.Minute
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FACESYNC_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FACESYNC_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("FACESYNC_ADMIN_API_KEY"); v != "" {
		cfg.Server.AdminAPIKey = v
	}
	if v := os.Getenv("FACESYNC_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("FACESYNC_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("FACESYNC_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("FACESYNC_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("FACESYNC_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("FACESYNC_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("FACESYNC_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("FACESYNC_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("FACESYNC_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("FACESYNC_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("FACESYNC_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("FACESYNC_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("FACESYNC_MATCH_TOLERANCE"); v != "" {
		if t, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Biometric.Tolerance = t
		}
	}
	if v := os.Getenv("FACESYNC_MATCHER"); v != "" {
		cfg.Biometric.Matcher = v
	}
	if v := os.Getenv("FACESYNC_RATELIMIT_BACKEND"); v != "" {
		cfg.RateLimit.Backend = v
	}
	if v := os.Getenv("FACESYNC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
