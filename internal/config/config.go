package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath       = "config.toml"
	DefaultHTTPAddr         = ":8080"
	DefaultLedgerURL        = "http://coin.foxsrv.net:26450"
	DefaultLedgerTimeout    = 15 * time.Second
	DefaultSessionTTL       = 24 * time.Hour
	DefaultAccountsDSN      = "file://data/accounts"
	DefaultQueueDSN         = "file://data/download_queue.json"
	DefaultCommandPrefix    = "!"
	DefaultDownloaderPath   = "yt-dlp"
	DefaultFFmpegPath       = "ffmpeg"
	DefaultWorkDir          = "data/downloads"
	DefaultConcurrency      = 4
	DefaultPollInterval     = time.Second
	DefaultStatusInterval   = 700 * time.Millisecond
	DefaultMaxUploadBytes   = 35 * 1024 * 1024
	DefaultMaxAudioBytes    = 16 * 1024 * 1024
	DefaultMaxVideoHeight   = 720
	DefaultSweepSchedule    = "@every 10m"
	DefaultPruneSchedule    = "@every 1h"
	DefaultOrphanWorkDirTTL = 6 * time.Hour
	DefaultRateLimitPerSec  = 1.0
	DefaultRateLimitBurst   = 5
	DefaultMaxInboundLength = 4000
	DefaultInboundWorkers   = 8
	AuthModeSession         = "session"
	AuthModeCard            = "card"
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Storage  StorageConfig  `toml:"storage"`
	Commands CommandsConfig `toml:"commands"`
	Download DownloadConfig `toml:"download"`
	Schedule ScheduleConfig `toml:"schedule"`
	Telegram TelegramConfig `toml:"telegram"`
	Discord  DiscordConfig  `toml:"discord"`
}

type LogConfig struct {
	Level  string `toml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `toml:"format" validate:"omitempty,oneof=text json"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type LedgerConfig struct {
	BaseURL  string        `toml:"base_url" validate:"required,url"`
	Timeout  time.Duration `toml:"timeout"`
	AuthMode string        `toml:"auth_mode" validate:"required,oneof=session card"`
	// SessionTTL is the default lifetime of a login session.
	SessionTTL time.Duration `toml:"session_ttl"`
}

type StorageConfig struct {
	AccountsDSN string `toml:"accounts_dsn" validate:"required"`
	QueueDSN    string `toml:"queue_dsn" validate:"required"`
}

type CommandsConfig struct {
	Prefix           string  `toml:"prefix" validate:"required"`
	RateLimitPerSec  float64 `toml:"rate_limit_per_sec" validate:"gte=0"`
	RateLimitBurst   int     `toml:"rate_limit_burst" validate:"gte=0"`
	MaxInboundLength int     `toml:"max_inbound_length" validate:"gte=0"`
	InboundWorkers   int     `toml:"inbound_workers" validate:"gte=1"`
}

type DownloadConfig struct {
	Enabled          bool          `toml:"enabled"`
	Price            float64       `toml:"price" validate:"gte=0"`
	ReceiverID       string        `toml:"receiver_id"`
	ReceiverCard     string        `toml:"receiver_card"`
	ReceiverSession  string        `toml:"receiver_session"`
	ReceiverLogin    string        `toml:"receiver_login"`
	ReceiverPassword string        `toml:"receiver_password"`
	DownloaderPath   string        `toml:"downloader_path" validate:"required"`
	FFmpegPath       string        `toml:"ffmpeg_path" validate:"required"`
	WorkDir          string        `toml:"work_dir" validate:"required"`
	Concurrency      int           `toml:"concurrency" validate:"gte=1"`
	PollInterval     time.Duration `toml:"poll_interval"`
	StatusInterval   time.Duration `toml:"status_interval"`
	MaxUploadBytes   int64         `toml:"max_upload_bytes" validate:"gt=0"`
	MaxAudioBytes    int64         `toml:"max_audio_bytes" validate:"gt=0"`
	MaxVideoHeight   int           `toml:"max_video_height" validate:"gt=0"`
}

type ScheduleConfig struct {
	SessionSweep     string        `toml:"session_sweep"`
	WorkDirPrune     string        `toml:"workdir_prune"`
	OrphanWorkDirTTL time.Duration `toml:"orphan_workdir_ttl"`
}

type TelegramConfig struct {
	BotToken string `toml:"bot_token"`
}

type DiscordConfig struct {
	BotToken string `toml:"bot_token"`
}

// Defaults returns the configuration used when no file or environment is present.
func Defaults() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Ledger: LedgerConfig{
			BaseURL:    DefaultLedgerURL,
			Timeout:    DefaultLedgerTimeout,
			AuthMode:   AuthModeSession,
			SessionTTL: DefaultSessionTTL,
		},
		Storage: StorageConfig{
			AccountsDSN: DefaultAccountsDSN,
			QueueDSN:    DefaultQueueDSN,
		},
		Commands: CommandsConfig{
			Prefix:           DefaultCommandPrefix,
			RateLimitPerSec:  DefaultRateLimitPerSec,
			RateLimitBurst:   DefaultRateLimitBurst,
			MaxInboundLength: DefaultMaxInboundLength,
			InboundWorkers:   DefaultInboundWorkers,
		},
		Download: DownloadConfig{
			Enabled:        true,
			Price:          0,
			DownloaderPath: DefaultDownloaderPath,
			FFmpegPath:     DefaultFFmpegPath,
			WorkDir:        DefaultWorkDir,
			Concurrency:    DefaultConcurrency,
			PollInterval:   DefaultPollInterval,
			StatusInterval: DefaultStatusInterval,
			MaxUploadBytes: DefaultMaxUploadBytes,
			MaxAudioBytes:  DefaultMaxAudioBytes,
			MaxVideoHeight: DefaultMaxVideoHeight,
		},
		Schedule: ScheduleConfig{
			SessionSweep:     DefaultSweepSchedule,
			WorkDirPrune:     DefaultPruneSchedule,
			OrphanWorkDirTTL: DefaultOrphanWorkDirTTL,
		},
	}
}

// Load reads the TOML file at path (missing file means defaults), applies
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Defaults()

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return cfg, err
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct-level constraints and cross-field rules.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Download.Enabled && cfg.Download.Price > 0 {
		switch cfg.Ledger.AuthMode {
		case AuthModeCard:
			if strings.TrimSpace(cfg.Download.ReceiverCard) == "" {
				return fmt.Errorf("invalid config: download.receiver_card is required in card mode")
			}
		default:
			if strings.TrimSpace(cfg.Download.ReceiverID) == "" {
				return fmt.Errorf("invalid config: download.receiver_id is required in session mode")
			}
		}
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("COIN_API_URL", &cfg.Ledger.BaseURL)
	str("COIN_AUTH_MODE", &cfg.Ledger.AuthMode)
	str("TELEGRAM_BOT_TOKEN", &cfg.Telegram.BotToken)
	str("DISCORD_BOT_TOKEN", &cfg.Discord.BotToken)
	str("ACCOUNTS_DSN", &cfg.Storage.AccountsDSN)
	str("QUEUE_DSN", &cfg.Storage.QueueDSN)
	str("DOWNLOAD_RECEIVER_ID", &cfg.Download.ReceiverID)
	str("DOWNLOAD_RECEIVER_CARD", &cfg.Download.ReceiverCard)
	str("DOWNLOAD_RECEIVER_SESSION", &cfg.Download.ReceiverSession)
	str("DOWNLOAD_RECEIVER_LOGIN", &cfg.Download.ReceiverLogin)
	str("DOWNLOAD_RECEIVER_PASSWORD", &cfg.Download.ReceiverPassword)
	str("YTDLP_PATH", &cfg.Download.DownloaderPath)
	str("FFMPEG_PATH", &cfg.Download.FFmpegPath)
	str("DOWNLOAD_WORK_DIR", &cfg.Download.WorkDir)
	str("HTTP_ADDR", &cfg.Server.Addr)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)

	if v, ok := lookup("DOWNLOAD_PRICE"); ok && strings.TrimSpace(v) != "" {
		price, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("DOWNLOAD_PRICE: %w", err)
		}
		cfg.Download.Price = price
	}
	if v, ok := lookup("DOWNLOAD_CONCURRENCY"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("DOWNLOAD_CONCURRENCY: %w", err)
		}
		cfg.Download.Concurrency = n
	}
	millis := []struct {
		key string
		dst *time.Duration
	}{
		{"DOWNLOAD_POLL_INTERVAL_MS", &cfg.Download.PollInterval},
		{"STATUS_THROTTLE_MS", &cfg.Download.StatusInterval},
	}
	for _, item := range millis {
		if v, ok := lookup(item.key); ok && strings.TrimSpace(v) != "" {
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", item.key, err)
			}
			*item.dst = time.Duration(n) * time.Millisecond
		}
	}
	megabytes := []struct {
		key string
		dst *int64
	}{
		{"MAX_UPLOAD_MB", &cfg.Download.MaxUploadBytes},
		{"MAX_AUDIO_UPLOAD_MB", &cfg.Download.MaxAudioBytes},
	}
	for _, item := range megabytes {
		if v, ok := lookup(item.key); ok && strings.TrimSpace(v) != "" {
			n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return fmt.Errorf("%s: %w", item.key, err)
			}
			*item.dst = int64(n * 1024 * 1024)
		}
	}
	return nil
}
