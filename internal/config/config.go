package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Config struct {
	AppName            string        `mapstructure:"app_name"`
	StorePath          string        `mapstructure:"store_path"`
	BackupDir          string        `mapstructure:"backup_dir"`
	MaxUploadBytes     int64         `mapstructure:"max_upload_bytes"`
	StrictSafetyBackup bool          `mapstructure:"strict_safety_backup"`
	LogJSON            bool          `mapstructure:"log_json"`
	NoColor            bool          `mapstructure:"no_color"`
	LogLevel           string        `mapstructure:"log_level"`
	Server             ServerConfig  `mapstructure:"server"`
	Retention          Retention     `mapstructure:"retention"`
	Schedule           Schedule      `mapstructure:"schedule"`
	Notifications      Notifications `mapstructure:"notifications"`
	Mirror             Mirror        `mapstructure:"mirror"`
}

type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

// Retention keeps the newest Keep snapshots plus GFS buckets; all zero disables it.
type Retention struct {
	Keep        int           `mapstructure:"keep"`
	KeepDaily   int           `mapstructure:"keep_daily"`
	KeepWeekly  int           `mapstructure:"keep_weekly"`
	KeepMonthly int           `mapstructure:"keep_monthly"`
	MaxAge      time.Duration `mapstructure:"max_age"`
}

func (r Retention) Enabled() bool {
	return r.Keep > 0 || r.KeepDaily > 0 || r.KeepWeekly > 0 || r.KeepMonthly > 0 || r.MaxAge > 0
}

type Schedule struct {
	Cron        string `mapstructure:"cron"`
	Description string `mapstructure:"description"`
}

type Notifications struct {
	Slack    SlackConfig     `mapstructure:"slack"`
	Webhooks []WebhookConfig `mapstructure:"webhooks"`
}

type SlackConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
	Template   string `mapstructure:"template"`
}

type WebhookConfig struct {
	URL      string            `mapstructure:"url"`
	Method   string            `mapstructure:"method"`
	Template string            `mapstructure:"template"`
	Headers  map[string]string `mapstructure:"headers"`
}

type Mirror struct {
	S3 S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Endpoint    string `mapstructure:"endpoint"`
	Region      string `mapstructure:"region"`
	Bucket      string `mapstructure:"bucket"`
	Prefix      string `mapstructure:"prefix"`
	AccessKey   string `mapstructure:"access_key"`
	SecretKey   string `mapstructure:"secret_key"`
	UseSSL      bool   `mapstructure:"use_ssl"`
	Compression string `mapstructure:"compression"`
	Passphrase  string `mapstructure:"passphrase"`
}

func (s S3Config) Enabled() bool {
	return s.Bucket != ""
}

var (
	mu           sync.RWMutex
	globalConfig *Config
)

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("app_name", d.AppName)
	v.SetDefault("store_path", d.StorePath)
	v.SetDefault("backup_dir", d.BackupDir)
	v.SetDefault("max_upload_bytes", d.MaxUploadBytes)
	v.SetDefault("strict_safety_backup", false)
	v.SetDefault("log_json", false)
	v.SetDefault("no_color", false)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.requests_per_minute", d.Server.RequestsPerMinute)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("retention.keep", 0)
	v.SetDefault("retention.keep_daily", 0)
	v.SetDefault("retention.keep_weekly", 0)
	v.SetDefault("retention.keep_monthly", 0)
	v.SetDefault("retention.max_age", time.Duration(0))
	v.SetDefault("schedule.cron", "")
	v.SetDefault("schedule.description", "scheduled")
	v.SetDefault("notifications.slack.webhook_url", "")
	v.SetDefault("mirror.s3.endpoint", "")
	v.SetDefault("mirror.s3.region", "")
	v.SetDefault("mirror.s3.bucket", "")
	v.SetDefault("mirror.s3.prefix", "")
	v.SetDefault("mirror.s3.access_key", "")
	v.SetDefault("mirror.s3.secret_key", "")
	v.SetDefault("mirror.s3.use_ssl", true)
	v.SetDefault("mirror.s3.compression", "zstd")
	v.SetDefault("mirror.s3.passphrase", "")
}

// Default is the configuration used when no file or environment is present.
func Default() *Config {
	return &Config{
		AppName:        "eraport",
		StorePath:      filepath.Join("storage", "data.sqlite"),
		BackupDir:      filepath.Join("storage", "backups"),
		MaxUploadBytes: 16 << 20,
		LogLevel:       "info",
		Server: ServerConfig{
			Addr:              ":5005",
			RequestsPerMinute: 60,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      10 * time.Minute,
		},
		Schedule: Schedule{Description: "scheduled"},
		Mirror:   Mirror{S3: S3Config{UseSSL: true, Compression: "zstd"}},
	}
}

func Initialize(configPath string) error {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("eraport")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".eraport"))
		}
	}

	v.SetEnvPrefix("ERAPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	store(cfg)

	if v.ConfigFileUsed() != "" {
		v.OnConfigChange(func(e fsnotify.Event) {
			next := &Config{}
			if err := v.Unmarshal(next); err == nil && next.Validate() == nil {
				store(next)
			}
		})
		v.WatchConfig()
	}

	return nil
}

// Validate rejects settings that would make every lifecycle operation fail.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.StorePath) == "" {
		return fmt.Errorf("store_path must not be empty")
	}
	if strings.TrimSpace(c.BackupDir) == "" {
		return fmt.Errorf("backup_dir must not be empty")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive, got %d", c.MaxUploadBytes)
	}
	if c.Retention.Keep < 0 || c.Retention.KeepDaily < 0 || c.Retention.KeepWeekly < 0 || c.Retention.KeepMonthly < 0 || c.Retention.MaxAge < 0 {
		return fmt.Errorf("retention counts must not be negative")
	}
	return nil
}

func store(c *Config) {
	mu.Lock()
	globalConfig = c
	mu.Unlock()
}

func GetConfig() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if globalConfig == nil {
		return Default()
	}
	return globalConfig
}
