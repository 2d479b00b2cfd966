// Package config loads renderd settings once at startup from defaults, an
// optional config file and RENDER_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment key (workers -> RENDER_WORKERS).
const EnvPrefix = "RENDER"

type Config struct {
	HTTP       HTTPConfig
	Log        LogConfig
	Workers    int
	QueueDepth int

	RequestTimeout time.Duration
	KillGrace      time.Duration
	ShutdownGrace  time.Duration

	FFmpegBin  string
	FFprobeBin string

	Fonts     FontsConfig
	Workspace WorkspaceConfig
	Media     MediaConfig
	Limits    LimitsConfig
	Jobs      JobsConfig

	Redis  RedisConfig
	NATS   NATSConfig
	GDrive GDriveConfig
	S3     S3Config
	CORS   CORSConfig
}

type HTTPConfig struct {
	Port        int
	IdleTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type FontsConfig struct {
	Dir           string
	DefaultFamily string
}

type WorkspaceConfig struct {
	Root string
}

type MediaConfig struct {
	Root string
}

type LimitsConfig struct {
	MaxBodyBytes    int64
	MaxOverlays     int
	MaxTextRunes    int
	MaxInputBytes   int64
	DiagnosticBytes int
}

type JobsConfig struct {
	Store           string
	Retention       time.Duration
	JanitorInterval time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type NATSConfig struct {
	URL     string
	Subject string
}

type GDriveConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// Enabled reports whether Drive inputs can be served.
func (g GDriveConfig) Enabled() bool {
	return g.ClientID != "" && g.ClientSecret != "" && g.RefreshToken != ""
}

type S3Config struct {
	Enabled         bool
	Region          string
	Endpoint        string
	Profile         string
	ForcePathStyle  bool
	AccessKeyID     string
	SecretAccessKey string
}

type CORSConfig struct {
	AllowedOrigins []string
}

// setDefaults registers every key so AutomaticEnv can resolve it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.idle_timeout", "120s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("workers", 4)
	v.SetDefault("queue_depth", 8)
	v.SetDefault("request_timeout", "600s")
	v.SetDefault("kill_grace", "5s")
	v.SetDefault("shutdown_grace", "30s")

	v.SetDefault("ffmpeg.bin", "ffmpeg")
	v.SetDefault("ffprobe.bin", "ffprobe")

	v.SetDefault("fonts.dir", "/usr/share/fonts")
	v.SetDefault("fonts.default_family", "Noto Sans CJK SC")
	v.SetDefault("workspace.root", filepath.Join(os.TempDir(), "renderd"))
	v.SetDefault("media.root", "/data/media")

	v.SetDefault("limits.max_body_bytes", 64<<10)
	v.SetDefault("limits.max_overlays", 32)
	v.SetDefault("limits.max_text_runes", 500)
	v.SetDefault("limits.max_input_bytes", int64(2)<<30)
	v.SetDefault("limits.diagnostic_bytes", 8<<10)

	v.SetDefault("jobs.store", "memory")
	v.SetDefault("jobs.retention", "1h")
	v.SetDefault("jobs.janitor_interval", "1m")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "renderd")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", "render.jobs.completed")

	v.SetDefault("gdrive.client_id", "")
	v.SetDefault("gdrive.client_secret", "")
	v.SetDefault("gdrive.refresh_token", "")

	v.SetDefault("s3.enabled", false)
	v.SetDefault("s3.region", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.profile", "")
	v.SetDefault("s3.force_path_style", false)
	v.SetDefault("s3.access_key_id", "")
	v.SetDefault("s3.secret_access_key", "")

	v.SetDefault("cors.allowed_origins", []string{})
}

// bindAliases maps the plain names used by the container image and by the
// Drive helper onto config keys.
func bindAliases(v *viper.Viper) error {
	aliases := map[string][]string{
		"http.port":            {"RENDER_HTTP_PORT", "PORT"},
		"log.level":            {"RENDER_LOG_LEVEL", "LOG_LEVEL"},
		"log.format":           {"RENDER_LOG_FORMAT", "LOG_FORMAT"},
		"gdrive.client_id":     {"RENDER_GDRIVE_CLIENT_ID", "GDRIVE_CLIENT_ID"},
		"gdrive.client_secret": {"RENDER_GDRIVE_CLIENT_SECRET", "GDRIVE_CLIENT_SECRET"},
		"gdrive.refresh_token": {"RENDER_GDRIVE_REFRESH_TOKEN", "GDRIVE_REFRESH_TOKEN"},
	}
	for key, envs := range aliases {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

// Load reads configuration. When path is empty, RENDER_CONFIG is consulted;
// a missing file is only an error when one was named explicitly.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindAliases(v); err != nil {
		return nil, err
	}

	if path == "" {
		path = strings.TrimSpace(os.Getenv(EnvPrefix + "_CONFIG"))
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:        v.GetInt("http.port"),
			IdleTimeout: v.GetDuration("http.idle_timeout"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Workers:        v.GetInt("workers"),
		QueueDepth:     v.GetInt("queue_depth"),
		RequestTimeout: v.GetDuration("request_timeout"),
		KillGrace:      v.GetDuration("kill_grace"),
		ShutdownGrace:  v.GetDuration("shutdown_grace"),
		FFmpegBin:      v.GetString("ffmpeg.bin"),
		FFprobeBin:     v.GetString("ffprobe.bin"),
		Fonts: FontsConfig{
			Dir:           v.GetString("fonts.dir"),
			DefaultFamily: v.GetString("fonts.default_family"),
		},
		Workspace: WorkspaceConfig{Root: v.GetString("workspace.root")},
		Media:     MediaConfig{Root: v.GetString("media.root")},
		Limits: LimitsConfig{
			MaxBodyBytes:    v.GetInt64("limits.max_body_bytes"),
			MaxOverlays:     v.GetInt("limits.max_overlays"),
			MaxTextRunes:    v.GetInt("limits.max_text_runes"),
			MaxInputBytes:   v.GetInt64("limits.max_input_bytes"),
			DiagnosticBytes: v.GetInt("limits.diagnostic_bytes"),
		},
		Jobs: JobsConfig{
			Store:           strings.ToLower(v.GetString("jobs.store")),
			Retention:       v.GetDuration("jobs.retention"),
			JanitorInterval: v.GetDuration("jobs.janitor_interval"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Prefix:   v.GetString("redis.prefix"),
		},
		NATS: NATSConfig{
			URL:     v.GetString("nats.url"),
			Subject: v.GetString("nats.subject"),
		},
		GDrive: GDriveConfig{
			ClientID:     v.GetString("gdrive.client_id"),
			ClientSecret: v.GetString("gdrive.client_secret"),
			RefreshToken: v.GetString("gdrive.refresh_token"),
		},
		S3: S3Config{
			Enabled:         v.GetBool("s3.enabled"),
			Region:          v.GetString("s3.region"),
			Endpoint:        v.GetString("s3.endpoint"),
			Profile:         v.GetString("s3.profile"),
			ForcePathStyle:  v.GetBool("s3.force_path_style"),
			AccessKeyID:     v.GetString("s3.access_key_id"),
			SecretAccessKey: v.GetString("s3.secret_access_key"),
		},
		CORS: CORSConfig{AllowedOrigins: splitCSV(v.GetStringSlice("cors.allowed_origins"))},
	}
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.HTTP.Port <= 0 || c.HTTP.Port > 65535:
		return fmt.Errorf("invalid http.port %d", c.HTTP.Port)
	case c.Workers < 1:
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	case c.QueueDepth < 0:
		return fmt.Errorf("queue_depth must not be negative, got %d", c.QueueDepth)
	case c.RequestTimeout < time.Second:
		return fmt.Errorf("request_timeout must be at least 1s, got %s", c.RequestTimeout)
	case c.KillGrace <= 0:
		return fmt.Errorf("kill_grace must be positive, got %s", c.KillGrace)
	case c.ShutdownGrace <= 0:
		return fmt.Errorf("shutdown_grace must be positive, got %s", c.ShutdownGrace)
	case strings.TrimSpace(c.FFmpegBin) == "":
		return fmt.Errorf("ffmpeg.bin is required")
	case strings.TrimSpace(c.Workspace.Root) == "":
		return fmt.Errorf("workspace.root is required")
	case c.Limits.MaxBodyBytes <= 0:
		return fmt.Errorf("limits.max_body_bytes must be positive")
	case c.Limits.MaxOverlays < 0:
		return fmt.Errorf("limits.max_overlays must not be negative")
	case c.Limits.MaxTextRunes <= 0:
		return fmt.Errorf("limits.max_text_runes must be positive")
	case c.Limits.DiagnosticBytes <= 0:
		return fmt.Errorf("limits.diagnostic_bytes must be positive")
	case c.Jobs.Retention <= 0 || c.Jobs.JanitorInterval <= 0:
		return fmt.Errorf("jobs.retention and jobs.janitor_interval must be positive")
	}

	switch c.Jobs.Store {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return fmt.Errorf("jobs.store=redis requires redis.addr")
		}
	default:
		return fmt.Errorf("unknown jobs.store %q", c.Jobs.Store)
	}
	return nil
}

// Capacity is the total number of jobs the pool admits at once.
func (c *Config) Capacity() int {
	return c.Workers + c.QueueDepth
}

// viper returns env-provided slices as a single comma separated element.
func splitCSV(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, p := range strings.Split(item, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
