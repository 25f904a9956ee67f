package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	telegramTokenEnv = "TELEGRAM_BOT_TOKEN"
	youtubeAPIKeyEnv = "YOUTUBE_API_KEY"
	gofileTokenEnv   = "GOFILE_API_TOKEN"
)

// Default values
const (
	DefaultSizeThresholdMiB = 50
	DefaultPrimaryTimeout   = 2 * time.Minute
	DefaultPollInterval     = time.Second
	DefaultPublishInterval  = 10 * time.Second
	DefaultRecountInterval  = 15 * time.Second
	DefaultCleanupGrace     = 2 * time.Second
	DefaultLongPollSeconds  = 10
	DefaultWorkSubdir       = "tunegrab"
)

// Config holds the settings required across the application.
type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	YouTube  YouTubeConfig  `yaml:"youtube"`
	GoFile   GoFileConfig   `yaml:"gofile"`
	Download DownloadConfig `yaml:"download"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// TelegramConfig carries the bot API token and polling settings.
type TelegramConfig struct {
	Token           string `yaml:"token"`
	LongPollSeconds int    `yaml:"longPollSeconds"`
}

// YouTubeConfig carries the Data API v3 key used for enrichment. The key is
// optional; enrichment degrades to the yt-dlp library probe without it.
type YouTubeConfig struct {
	APIKey string `yaml:"apiKey"`
}

// GoFileConfig carries the upload service token.
type GoFileConfig struct {
	Token string `yaml:"token"`
}

// DownloadConfig bounds the pipeline: working directory root, direct-send
// size threshold and the orchestration timers.
type DownloadConfig struct {
	WorkRoot         string        `yaml:"workRoot"`
	SizeThresholdMiB int64         `yaml:"sizeThresholdMiB"`
	PrimaryTimeout   time.Duration `yaml:"primaryTimeout"`
	PollInterval     time.Duration `yaml:"pollInterval"`
	PublishInterval  time.Duration `yaml:"publishInterval"`
	RecountInterval  time.Duration `yaml:"recountInterval"`
	CleanupGrace     time.Duration `yaml:"cleanupGrace"`
}

// UnmarshalYAML decodes the duration fields from strings like "90s".
func (d *DownloadConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		WorkRoot         string `yaml:"workRoot"`
		SizeThresholdMiB int64  `yaml:"sizeThresholdMiB"`
		PrimaryTimeout   string `yaml:"primaryTimeout"`
		PollInterval     string `yaml:"pollInterval"`
		PublishInterval  string `yaml:"publishInterval"`
		RecountInterval  string `yaml:"recountInterval"`
		CleanupGrace     string `yaml:"cleanupGrace"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	d.WorkRoot = raw.WorkRoot
	d.SizeThresholdMiB = raw.SizeThresholdMiB

	for _, f := range []struct {
		src string
		dst *time.Duration
	}{
		{raw.PrimaryTimeout, &d.PrimaryTimeout},
		{raw.PollInterval, &d.PollInterval},
		{raw.PublishInterval, &d.PublishInterval},
		{raw.RecountInterval, &d.RecountInterval},
		{raw.CleanupGrace, &d.CleanupGrace},
	} {
		if f.src == "" {
			continue
		}
		parsed, err := time.ParseDuration(f.src)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", f.src, err)
		}
		*f.dst = parsed
	}
	return nil
}

// LoggingConfig selects the log verbosity.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SizeThresholdBytes returns the direct-send threshold in bytes.
func (d DownloadConfig) SizeThresholdBytes() int64 {
	return d.SizeThresholdMiB * 1024 * 1024
}

// Load reads the YAML config at path (optional) and applies environment
// overrides for the secrets.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv(youtubeAPIKeyEnv); v != "" {
		cfg.YouTube.APIKey = v
	}
	if v := os.Getenv(gofileTokenEnv); v != "" {
		cfg.GoFile.Token = v
	}

	cfg.applyFallbacks()

	if cfg.Telegram.Token == "" {
		return nil, fmt.Errorf("telegram token is not set (config telegram.token or %s)", telegramTokenEnv)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Telegram: TelegramConfig{LongPollSeconds: DefaultLongPollSeconds},
		Download: DownloadConfig{
			WorkRoot:         filepath.Join(os.TempDir(), DefaultWorkSubdir),
			SizeThresholdMiB: DefaultSizeThresholdMiB,
			PrimaryTimeout:   DefaultPrimaryTimeout,
			PollInterval:     DefaultPollInterval,
			PublishInterval:  DefaultPublishInterval,
			RecountInterval:  DefaultRecountInterval,
			CleanupGrace:     DefaultCleanupGrace,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

func (c *Config) applyFallbacks() {
	d := defaults()
	if c.Telegram.LongPollSeconds <= 0 {
		c.Telegram.LongPollSeconds = d.Telegram.LongPollSeconds
	}
	if c.Download.WorkRoot == "" {
		c.Download.WorkRoot = d.Download.WorkRoot
	}
	if c.Download.SizeThresholdMiB <= 0 {
		c.Download.SizeThresholdMiB = d.Download.SizeThresholdMiB
	}
	if c.Download.PrimaryTimeout <= 0 {
		c.Download.PrimaryTimeout = d.Download.PrimaryTimeout
	}
	if c.Download.PollInterval <= 0 {
		c.Download.PollInterval = d.Download.PollInterval
	}
	if c.Download.PublishInterval <= 0 {
		c.Download.PublishInterval = d.Download.PublishInterval
	}
	if c.Download.RecountInterval <= 0 {
		c.Download.RecountInterval = d.Download.RecountInterval
	}
	if c.Download.CleanupGrace < 0 {
		c.Download.CleanupGrace = d.Download.CleanupGrace
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
}
