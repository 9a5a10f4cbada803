package config

import (
	"errors"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strings"
	"time"
	"unicode"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

const megabyte = 1 << 20

// DefaultServices are the downstream services the gateway knows about. Each one
// is registered with an empty URL unless the config file or the environment
// supplies one.
var DefaultServices = []string{
	"slack",
	"gmail",
	"calendar",
	"calendarIntelligence",
	"crm",
	"aiRouting",
	"marketing",
	"aso",
}

type ServerConfig struct {
	Address     string `mapstructure:"address"`
	OpsAddress  string `mapstructure:"ops_address"`
	Environment string `mapstructure:"environment"`
}

type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type LoggingConfig struct {
	Level     string        `mapstructure:"level"`
	AddSource bool          `mapstructure:"add_source"`
	File      LogFileConfig `mapstructure:"file"`
}

// ServiceConfig describes one downstream service. An empty URL leaves the
// service unconfigured.
type ServiceConfig struct {
	Name             string        `mapstructure:"name"`
	URL              string        `mapstructure:"url"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxRequestBytes  int64         `mapstructure:"max_request_bytes"`
	MaxResponseBytes int64         `mapstructure:"max_response_bytes"`
}

type TimeoutRule struct {
	Contains string        `mapstructure:"contains"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type TimeoutsConfig struct {
	Default time.Duration `mapstructure:"default"`
	Rules   []TimeoutRule `mapstructure:"rules"`
}

type LimitsConfig struct {
	MaxRequestBytes  int64 `mapstructure:"max_request_bytes"`
	MaxResponseBytes int64 `mapstructure:"max_response_bytes"`
}

type TransportConfig struct {
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `mapstructure:"idle_conn_timeout"`
	DialTimeout         time.Duration `mapstructure:"dial_timeout"`
}

type CircuitBreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	OpenDuration     time.Duration `mapstructure:"open_duration"`
	MonitoringPeriod time.Duration `mapstructure:"monitoring_period"`
}

type MemoryCacheConfig struct {
	SizeBytes int `mapstructure:"size_bytes"`
}

type RedisCacheConfig struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type CacheConfig struct {
	Enabled       bool              `mapstructure:"enabled"`
	Backend       string            `mapstructure:"backend"`
	DefaultTTL    time.Duration     `mapstructure:"default_ttl"`
	SweepInterval time.Duration     `mapstructure:"sweep_interval"`
	Memory        MemoryCacheConfig `mapstructure:"memory"`
	Redis         RedisCacheConfig  `mapstructure:"redis"`
}

type HealthCheckConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Path     string        `mapstructure:"path"`
}

type MetricsConfig struct {
	BufferSize    int    `mapstructure:"buffer_size"`
	StatsdAddress string `mapstructure:"statsd_address"`
	Namespace     string `mapstructure:"namespace"`
}

type GatewayConfig struct {
	CacheGets bool          `mapstructure:"cache_gets"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Services       []ServiceConfig      `mapstructure:"services"`
	Timeouts       TimeoutsConfig       `mapstructure:"timeouts"`
	Limits         LimitsConfig         `mapstructure:"limits"`
	Transport      TransportConfig      `mapstructure:"transport"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Cache          CacheConfig          `mapstructure:"cache"`
	HealthCheck    HealthCheckConfig    `mapstructure:"health_check"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
	Gateway        GatewayConfig        `mapstructure:"gateway"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to read .env file", slog.String("error", err.Error()))
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Warn("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	cfg.Services = mergeServices(v, cfg.Services)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.ops_address", "")
	v.SetDefault("logging.level", LogLevelInfo)
	v.SetDefault("logging.file.max_size_mb", 100)
	v.SetDefault("logging.file.max_backups", 5)
	v.SetDefault("logging.file.max_age_days", 14)
	v.SetDefault("timeouts.default", 30*time.Second)
	v.SetDefault("timeouts.rules", []map[string]any{
		{"contains": "/ai/", "timeout": "120s"},
		{"contains": "/generate", "timeout": "120s"},
	})
	v.SetDefault("limits.max_request_bytes", 10*megabyte)
	v.SetDefault("limits.max_response_bytes", 10*megabyte)
	v.SetDefault("transport.max_idle_conns_per_host", 32)
	v.SetDefault("transport.idle_conn_timeout", 90*time.Second)
	v.SetDefault("transport.dial_timeout", 10*time.Second)
	v.SetDefault("circuit_breaker.failure_threshold", 5)
	v.SetDefault("circuit_breaker.success_threshold", 2)
	v.SetDefault("circuit_breaker.open_duration", 60*time.Second)
	v.SetDefault("circuit_breaker.monitoring_period", 120*time.Second)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.backend", CacheBackendMemory)
	v.SetDefault("cache.default_ttl", 300*time.Second)
	v.SetDefault("cache.sweep_interval", 60*time.Second)
	v.SetDefault("cache.memory.size_bytes", 64*megabyte)
	v.SetDefault("cache.redis.address", "localhost:6379")
	v.SetDefault("cache.redis.key_prefix", "service-router")
	v.SetDefault("health_check.enabled", true)
	v.SetDefault("health_check.interval", 30*time.Second)
	v.SetDefault("health_check.path", "/health")
	v.SetDefault("metrics.buffer_size", 1000)
	v.SetDefault("metrics.namespace", "service_router.")
	v.SetDefault("gateway.cache_gets", false)
	v.SetDefault("gateway.cache_ttl", 300*time.Second)
}

// mergeServices makes sure every default service is present and applies the
// <UPPER_SNAKE_NAME>_SERVICE_URL environment override to each service.
func mergeServices(v *viper.Viper, services []ServiceConfig) []ServiceConfig {
	seen := make(map[string]bool, len(services))
	for _, s := range services {
		seen[s.Name] = true
	}
	for _, name := range DefaultServices {
		if !seen[name] {
			services = append(services, ServiceConfig{Name: name})
		}
	}

	for i := range services {
		envName := ServiceURLEnv(services[i].Name)
		key := "service_urls." + strings.ToLower(envName)
		_ = v.BindEnv(key, envName)
		if u := v.GetString(key); u != "" {
			services[i].URL = u
		}
	}

	return services
}

// ServiceURLEnv returns the environment variable consulted for a service's
// URL, e.g. "aiRouting" -> "AI_ROUTING_SERVICE_URL".
func ServiceURLEnv(name string) string {
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) && i > 0 {
			b.WriteByte('_')
		}
		if r == '-' || r == '.' {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	b.WriteString("_SERVICE_URL")
	return b.String()
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Address,
						validation.Required,
						validation.By(validateHostPort),
					),
					validation.Field(&sc.OpsAddress,
						validation.By(validateHostPort),
					),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.Services,
			validation.Length(1, 0),
			validation.Each(validation.By(validateServiceConfig)),
			validation.By(validateUniqueServiceNames),
		),
		validation.Field(&c.Timeouts,
			validation.By(func(value interface{}) error {
				tc, ok := value.(TimeoutsConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a TimeoutsConfig")
				}
				return validation.ValidateStruct(&tc,
					validation.Field(&tc.Default, validation.Required, validation.Min(time.Millisecond)),
					validation.Field(&tc.Rules, validation.Each(validation.By(validateTimeoutRule))),
				)
			}),
		),
		validation.Field(&c.Limits,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LimitsConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LimitsConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.MaxRequestBytes, validation.Required, validation.Min(int64(1))),
					validation.Field(&lc.MaxResponseBytes, validation.Required, validation.Min(int64(1))),
				)
			}),
		),
		validation.Field(&c.CircuitBreaker,
			validation.By(func(value interface{}) error {
				cb, ok := value.(CircuitBreakerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a CircuitBreakerConfig")
				}
				return validation.ValidateStruct(&cb,
					validation.Field(&cb.FailureThreshold, validation.Required, validation.Min(1)),
					validation.Field(&cb.SuccessThreshold, validation.Required, validation.Min(1)),
					validation.Field(&cb.OpenDuration, validation.Required, validation.Min(time.Millisecond)),
					validation.Field(&cb.MonitoringPeriod, validation.Min(time.Duration(0))),
				)
			}),
		),
		validation.Field(&c.Cache,
			validation.By(func(value interface{}) error {
				cc, ok := value.(CacheConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a CacheConfig")
				}
				if !cc.Enabled {
					return nil
				}
				return validation.ValidateStruct(&cc,
					validation.Field(&cc.Backend,
						validation.Required,
						validation.In(CacheBackendMemory, CacheBackendRedis),
					),
					validation.Field(&cc.DefaultTTL, validation.Required, validation.Min(time.Second)),
					validation.Field(&cc.SweepInterval, validation.Required, validation.Min(time.Second)),
					validation.Field(&cc.Memory,
						validation.When(cc.Backend == CacheBackendMemory, validation.By(func(value interface{}) error {
							mc, _ := value.(MemoryCacheConfig)
							return validation.ValidateStruct(&mc,
								validation.Field(&mc.SizeBytes, validation.Required, validation.Min(512*1024)),
							)
						})),
					),
					validation.Field(&cc.Redis,
						validation.When(cc.Backend == CacheBackendRedis, validation.By(func(value interface{}) error {
							rc, _ := value.(RedisCacheConfig)
							return validation.ValidateStruct(&rc,
								validation.Field(&rc.Address, validation.Required, validation.By(validateHostPort)),
								validation.Field(&rc.DB, validation.Min(0)),
							)
						})),
					),
				)
			}),
		),
		validation.Field(&c.HealthCheck,
			validation.By(func(value interface{}) error {
				hc, ok := value.(HealthCheckConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a HealthCheckConfig")
				}
				if !hc.Enabled {
					return nil
				}
				return validation.ValidateStruct(&hc,
					validation.Field(&hc.Interval, validation.Required, validation.Min(100*time.Millisecond)),
					validation.Field(&hc.Path, validation.Required, validation.By(validatePath)),
				)
			}),
		),
		validation.Field(&c.Metrics,
			validation.By(func(value interface{}) error {
				mc, ok := value.(MetricsConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a MetricsConfig")
				}
				return validation.ValidateStruct(&mc,
					validation.Field(&mc.BufferSize, validation.Required, validation.Min(1)),
					validation.Field(&mc.StatsdAddress, validation.By(validateHostPort)),
				)
			}),
		),
	)
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if addr == "" {
		return nil
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validatePath(value interface{}) error {
	p, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if !strings.HasPrefix(p, "/") {
		return validation.NewError("validation_invalid_path", "path must start with /")
	}
	return nil
}

func validateServerURL(value interface{}) error {
	serverURL, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	parsedURL, err := url.Parse(serverURL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	return nil
}

func validateServiceConfig(value interface{}) error {
	sc, ok := value.(ServiceConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a ServiceConfig")
	}

	return validation.ValidateStruct(&sc,
		validation.Field(&sc.Name, validation.Required),
		// An empty URL is allowed: the service is simply not configured.
		validation.Field(&sc.URL, validation.When(sc.URL != "", validation.By(validateServerURL))),
		validation.Field(&sc.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&sc.MaxRequestBytes, validation.Min(int64(0))),
		validation.Field(&sc.MaxResponseBytes, validation.Min(int64(0))),
	)
}

func validateUniqueServiceNames(value interface{}) error {
	services, ok := value.([]ServiceConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a list of ServiceConfig")
	}

	seen := make(map[string]bool, len(services))
	for _, s := range services {
		if seen[s.Name] {
			return validation.NewError("validation_duplicate_service", "duplicate service name "+s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

func validateTimeoutRule(value interface{}) error {
	rule, ok := value.(TimeoutRule)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a TimeoutRule")
	}

	return validation.ValidateStruct(&rule,
		validation.Field(&rule.Contains, validation.Required),
		validation.Field(&rule.Timeout, validation.Required, validation.Min(time.Millisecond)),
	)
}
