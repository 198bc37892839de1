package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultAppName names the config directory searched under /etc.
const DefaultAppName = "commentproxy"

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Backend BackendConfig `mapstructure:"backend"`
	Webhook WebhookConfig `mapstructure:"webhook"`
	Log     LogConfig     `mapstructure:"log"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Widget  WidgetConfig  `mapstructure:"widget"`
}

// ServerConfig stores the HTTP listener settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// BackendConfig stores NoCodeBackend connection details.
type BackendConfig struct {
	URL       string        `mapstructure:"url"`
	Instance  string        `mapstructure:"instance"`
	APIKey    string        `mapstructure:"api_key"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// WebhookConfig enables comment notifications when URL is set.
type WebhookConfig struct {
	URL string `mapstructure:"url"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// CacheSettings sizes one cache.
type CacheSettings struct {
	TTL      time.Duration `mapstructure:"ttl"`
	Capacity int           `mapstructure:"capacity"`
}

// CacheConfig holds one entry per cached collection.
type CacheConfig struct {
	Comments   CacheSettings `mapstructure:"comments"`
	Threads    CacheSettings `mapstructure:"threads"`
	Moderation CacheSettings `mapstructure:"moderation"`
	Widget     CacheSettings `mapstructure:"widget"`
}

type WidgetConfig struct {
	ScriptURL string `mapstructure:"script_url"`
}

// envBindings maps config keys onto the variable names deployments already use.
var envBindings = map[string]string{
	"backend.api_key":  "NOCODEBACKEND_API_KEY",
	"backend.url":      "NOCODEBACKEND_URL",
	"backend.instance": "INSTANCE",
	"webhook.url":      "WEBHOOK_URL",
	"log.level":        "LOG_LEVEL",
	"server.port":      "PORT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("backend.url", "https://openapi.nocodebackend.com")
	v.SetDefault("backend.instance", "41300_teste")
	v.SetDefault("backend.api_key", "")
	v.SetDefault("backend.timeout", 30*time.Second)
	v.SetDefault("backend.user_agent", "commentproxy/1.0")

	v.SetDefault("webhook.url", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("cache.comments.ttl", 120*time.Second)
	v.SetDefault("cache.comments.capacity", 500)
	v.SetDefault("cache.threads.ttl", 120*time.Second)
	v.SetDefault("cache.threads.capacity", 500)
	v.SetDefault("cache.moderation.ttl", 120*time.Second)
	v.SetDefault("cache.moderation.capacity", 500)
	v.SetDefault("cache.widget.ttl", 300*time.Second)
	v.SetDefault("cache.widget.capacity", 100)

	v.SetDefault("widget.script_url", "/static/js/widgetv01.js")
}

// LoadConfig reads configuration from file or environment variables. An empty
// configPath searches the working directory and /etc/commentproxy for
// config.yaml; a missing file is not an error.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/" + DefaultAppName)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.AutomaticEnv()
	// e.g. cache.comments.ttl becomes CACHE_COMMENTS_TTL
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the proxy cannot start with. A missing API key is
// allowed; /health reports it.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Backend.URL) == "" {
		return errors.New("backend.url is required")
	}
	if strings.TrimSpace(c.Backend.Instance) == "" {
		return errors.New("backend.instance is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}

	for name, s := range map[string]CacheSettings{
		"comments":   c.Cache.Comments,
		"threads":    c.Cache.Threads,
		"moderation": c.Cache.Moderation,
		"widget":     c.Cache.Widget,
	} {
		if s.TTL <= 0 {
			return fmt.Errorf("cache.%s.ttl must be positive", name)
		}
		if s.Capacity <= 0 {
			return fmt.Errorf("cache.%s.capacity must be positive", name)
		}
	}
	return nil
}
