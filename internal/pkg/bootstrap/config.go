// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 是服务的完整配置，来自 YAML 文件并可被环境变量覆盖。
type Config struct {
	App       AppConfig       `yaml:"app"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Locker    LockerConfig    `yaml:"locker"`
	Auth      AuthConfig      `yaml:"auth"`
	Infra     InfraConfig     `yaml:"infra"`
}

type AppConfig struct {
	Name      string `yaml:"name"`
	Port      int    `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	CodePrefix            string `yaml:"code_prefix"`
	MaxCodeAttempts       int    `yaml:"max_code_attempts"`
	DefaultMaxRedemptions int    `yaml:"default_max_redemptions"`
	// OnDuplicateCheckFailure 取值 proceed 或 reject
	OnDuplicateCheckFailure string `yaml:"on_duplicate_check_failure"`
	// TrustedProxies 列出允许携带 X-Forwarded-For 的直连地址（CIDR 或 IP），为空时只用直连地址
	TrustedProxies []string `yaml:"trusted_proxies"`
}

type Budget struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

type RateLimitConfig struct {
	Backend  string `yaml:"backend"` // redis | memory
	Issuance Budget `yaml:"issuance"`
	Check    Budget `yaml:"check"`
}

type LockerConfig struct {
	Backend string        `yaml:"backend"` // none | redis | zookeeper
	TTL     time.Duration `yaml:"ttl"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type InfraConfig struct {
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Jaeger    JaegerConfig    `yaml:"jaeger"`
	Nacos     NacosConfig     `yaml:"nacos"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
}

type DatabaseConfig struct {
	Driver      string `yaml:"driver"` // mysql | postgres
	DSN         string `yaml:"dsn"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	Name        string `yaml:"name"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

type RedisConfig struct {
	Addrs string `yaml:"addrs"`
}

type KafkaConfig struct {
	Enabled bool   `yaml:"enabled"`
	Brokers string `yaml:"brokers"`
	Topic   string `yaml:"topic"`
}

type JaegerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

type NacosConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServerAddrs string `yaml:"server_addrs"`
	Namespace   string `yaml:"namespace"`
	Group       string `yaml:"group"`
}

type ZookeeperConfig struct {
	Servers        string        `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
}

var current atomic.Pointer[Config]

// GetCurrentConfig 返回已加载的配置。Init 之前调用会得到默认值。
func GetCurrentConfig() *Config {
	if c := current.Load(); c != nil {
		return c
	}
	c := DefaultConfig()
	return &c
}

// DefaultConfig 返回开发环境下可直接运行的默认配置。
func DefaultConfig() Config {
	return Config{
		App: AppConfig{
			Name:                    "coupon-service",
			Port:                    8090,
			LogLevel:                "info",
			LogFormat:               "json",
			CodePrefix:              "CPN",
			MaxCodeAttempts:         10,
			DefaultMaxRedemptions:   1,
			OnDuplicateCheckFailure: "proceed",
		},
		RateLimit: RateLimitConfig{
			Backend:  "redis",
			Issuance: Budget{Limit: 5, Window: time.Minute},
			Check:    Budget{Limit: 30, Window: time.Minute},
		},
		Locker: LockerConfig{Backend: "none", TTL: 5 * time.Second},
		Auth:   AuthConfig{Issuer: "nexus-coupon"},
		Infra: InfraConfig{
			Database:  DatabaseConfig{Driver: "mysql", Host: "localhost", Port: 3306, User: "root", Name: "coupons", AutoMigrate: true},
			Redis:     RedisConfig{Addrs: "localhost:6379"},
			Kafka:     KafkaConfig{Brokers: "localhost:9092", Topic: "coupon-lifecycle"},
			Jaeger:    JaegerConfig{Endpoint: "http://localhost:14268/api/traces"},
			Nacos:     NacosConfig{ServerAddrs: "localhost:8848", Group: "DEFAULT_GROUP"},
			Zookeeper: ZookeeperConfig{Servers: "localhost:2181", SessionTimeout: 10 * time.Second},
		},
	}
}

// LoadConfig 读取 YAML 文件（path 为空或文件不存在时跳过），再叠加环境变量并校验。
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查配置的取值范围。
func (c *Config) Validate() error {
	if c.App.Port <= 0 || c.App.Port > 65535 {
		return fmt.Errorf("app.port out of range: %d", c.App.Port)
	}
	if c.App.MaxCodeAttempts <= 0 {
		return fmt.Errorf("app.max_code_attempts must be positive")
	}
	if c.App.DefaultMaxRedemptions <= 0 {
		return fmt.Errorf("app.default_max_redemptions must be positive")
	}
	switch c.App.OnDuplicateCheckFailure {
	case "proceed", "reject":
	default:
		return fmt.Errorf("app.on_duplicate_check_failure must be proceed or reject, got %q", c.App.OnDuplicateCheckFailure)
	}
	for _, p := range c.App.TrustedProxies {
		if _, err := netip.ParsePrefix(p); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(p); err != nil {
			return fmt.Errorf("app.trusted_proxies: invalid entry %q", p)
		}
	}
	switch c.RateLimit.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("rate_limit.backend must be redis or memory, got %q", c.RateLimit.Backend)
	}
	for name, b := range map[string]Budget{"issuance": c.RateLimit.Issuance, "check": c.RateLimit.Check} {
		if b.Limit <= 0 || b.Window <= 0 {
			return fmt.Errorf("rate_limit.%s needs a positive limit and window", name)
		}
	}
	switch c.Locker.Backend {
	case "none", "redis", "zookeeper":
	default:
		return fmt.Errorf("locker.backend must be none, redis or zookeeper, got %q", c.Locker.Backend)
	}
	switch c.Infra.Database.Driver {
	case "mysql", "postgres":
	default:
		return fmt.Errorf("infra.database.driver must be mysql or postgres, got %q", c.Infra.Database.Driver)
	}
	return nil
}

func applyEnv(c *Config) {
	c.App.Port = getEnvInt("PORT", c.App.Port)
	c.App.LogLevel = getEnv("LOG_LEVEL", c.App.LogLevel)
	c.App.LogFormat = getEnv("LOG_FORMAT", c.App.LogFormat)
	c.App.OnDuplicateCheckFailure = getEnv("ON_DUPLICATE_CHECK_FAILURE", c.App.OnDuplicateCheckFailure)
	if v := getEnv("TRUSTED_PROXIES", ""); v != "" {
		c.App.TrustedProxies = splitList(v)
	}
	c.RateLimit.Backend = getEnv("RATE_LIMIT_BACKEND", c.RateLimit.Backend)
	c.Locker.Backend = getEnv("LOCKER_BACKEND", c.Locker.Backend)
	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)

	c.Infra.Database.Driver = getEnv("DB_DRIVER", c.Infra.Database.Driver)
	c.Infra.Database.DSN = getEnv("DB_DSN", c.Infra.Database.DSN)
	c.Infra.Database.Host = getEnv("DB_HOST", c.Infra.Database.Host)
	c.Infra.Database.Port = getEnvInt("DB_PORT", c.Infra.Database.Port)
	c.Infra.Database.User = getEnv("DB_USER", c.Infra.Database.User)
	c.Infra.Database.Password = getEnv("DB_PASSWORD", c.Infra.Database.Password)
	c.Infra.Database.Name = getEnv("DB_NAME", c.Infra.Database.Name)

	c.Infra.Redis.Addrs = getEnv("REDIS_ADDRS", c.Infra.Redis.Addrs)
	c.Infra.Kafka.Enabled = getEnvBool("KAFKA_ENABLED", c.Infra.Kafka.Enabled)
	c.Infra.Kafka.Brokers = getEnv("KAFKA_BROKERS", c.Infra.Kafka.Brokers)
	c.Infra.Jaeger.Enabled = getEnvBool("JAEGER_ENABLED", c.Infra.Jaeger.Enabled)
	c.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", c.Infra.Jaeger.Endpoint)
	c.Infra.Nacos.Enabled = getEnvBool("NACOS_ENABLED", c.Infra.Nacos.Enabled)
	c.Infra.Nacos.ServerAddrs = getEnv("NACOS_SERVER_ADDRS", c.Infra.Nacos.ServerAddrs)
	c.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", c.Infra.Nacos.Namespace)
	c.Infra.Nacos.Group = getEnv("NACOS_GROUP", c.Infra.Nacos.Group)
	c.Infra.Zookeeper.Servers = getEnv("ZOOKEEPER_SERVERS", c.Infra.Zookeeper.Servers)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv 是一个内部辅助函数，从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(strings.TrimSpace(getEnv(key, ""))); err == nil {
		return v
	}
	return fallback
}
