package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dunamismax/manipulatr/internal/settings"
)

const EnvPrefix = "MANIPULATR"

type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Canvas   CanvasConfig   `mapstructure:"canvas"`
	Settings SettingsConfig `mapstructure:"settings"`
	Source   SourceConfig   `mapstructure:"source"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	API      APIConfig      `mapstructure:"api"`
	Watch    WatchConfig    `mapstructure:"watch"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

type CanvasConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	JPEGQuality int  `mapstructure:"jpeg_quality"`
}

type SettingsConfig struct {
	CoerceNested bool `mapstructure:"coerce_nested"`
}

// Mode maps the flag onto the parser mode.
func (s SettingsConfig) Mode() settings.Mode {
	if s.CoerceNested {
		return settings.CoerceNested
	}
	return settings.RawNested
}

// SourceConfig governs image fetching. AllowPrivateNetworks is only consulted
// by the API, which otherwise refuses loopback and private addresses.
type SourceConfig struct {
	Root                 string        `mapstructure:"root"`
	MaxBytes             string        `mapstructure:"max_bytes"`
	HTTPTimeout          time.Duration `mapstructure:"http_timeout"`
	AllowedHosts         []string      `mapstructure:"allowed_hosts"`
	AllowPrivateNetworks bool          `mapstructure:"allow_private_networks"`
}

type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type TracingConfig struct {
	Exporter     string `mapstructure:"exporter"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
	ServiceName  string `mapstructure:"service_name"`
}

type APIConfig struct {
	Addr    string `mapstructure:"addr"`
	MaxBody string `mapstructure:"max_body"`
}

type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

var defaults = map[string]any{
	"log.level":                     "info",
	"log.format":                    "json",
	"canvas.enabled":                true,
	"canvas.jpeg_quality":           92,
	"settings.coerce_nested":        true,
	"source.root":                   "",
	"source.max_bytes":              "20MB",
	"source.http_timeout":           15 * time.Second,
	"source.allowed_hosts":          []string{},
	"source.allow_private_networks": false,
	"storage.enabled":               false,
	"storage.endpoint":              "localhost:9000",
	"storage.access_key":            "minioadmin",
	"storage.secret_key":            "minioadmin",
	"storage.use_ssl":               false,
	"tracing.exporter":              "none",
	"tracing.otlp_endpoint":         "",
	"tracing.otlp_insecure":         false,
	"tracing.service_name":          "manipulatr",
	"api.addr":                      ":8080",
	"api.max_body":                  "5MB",
	"watch.debounce":                200 * time.Millisecond,
}

// Unprefixed variable names accepted alongside MANIPULATR_*.
var envAliases = map[string][]string{
	"storage.endpoint":      {"MINIO_ENDPOINT"},
	"storage.access_key":    {"MINIO_ACCESS_KEY"},
	"storage.secret_key":    {"MINIO_SECRET_KEY"},
	"storage.use_ssl":       {"MINIO_USE_SSL"},
	"tracing.exporter":      {"OTEL_TRACES_EXPORTER"},
	"tracing.otlp_endpoint": {"OTEL_EXPORTER_OTLP_ENDPOINT"},
	"tracing.service_name":  {"OTEL_SERVICE_NAME"},
}

// Load reads defaults, then the optional YAML file at path, then the
// environment. An empty path means no file.
func Load(path string) (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		// The prefixed name stays first so it wins over the alias.
		args := append([]string{key, EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)
		if err := v.BindEnv(args...); err != nil {
			return Config{}, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}
	if c.Canvas.JPEGQuality < 1 || c.Canvas.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("canvas.jpeg_quality must be in [1,100], got %d", c.Canvas.JPEGQuality))
	}
	if c.Source.HTTPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("source.http_timeout must be positive"))
	}
	if c.Storage.Enabled && strings.TrimSpace(c.Storage.Endpoint) == "" {
		errs = append(errs, fmt.Errorf("storage.endpoint is required when storage is enabled"))
	}
	if c.Watch.Debounce < 0 {
		errs = append(errs, fmt.Errorf("watch.debounce must not be negative"))
	}
	return errors.Join(errs...)
}
