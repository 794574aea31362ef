// Package config provides configuration management for avatarchat
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Backend      BackendConfig      `mapstructure:"backend"`
	Conversation ConversationConfig `mapstructure:"conversation"`
	Playback     PlaybackConfig     `mapstructure:"playback"`
	Avatar       AvatarConfig       `mapstructure:"avatar"`
	Server       ServerConfig       `mapstructure:"server"`
	Transcript   TranscriptConfig   `mapstructure:"transcript"`
	Speech       SpeechConfig       `mapstructure:"speech"`
	Log          LogConfig          `mapstructure:"log"`
}

// BackendConfig configures the conversational backend client
type BackendConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	GreetingPath string        `mapstructure:"greeting_path"`
	ChatPath     string        `mapstructure:"chat_path"`
	Timeout      time.Duration `mapstructure:"timeout"` // 0 = no timeout
	UserAgent    string        `mapstructure:"user_agent"`
}

// ConversationConfig configures the conversation store
type ConversationConfig struct {
	ErrorMessage  string        `mapstructure:"error_message"`
	RetryAttempts int           `mapstructure:"retry_attempts"` // 1 = no retry
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
	RequireIdle   bool          `mapstructure:"require_idle"` // also refuse input while a reply plays
}

// PlaybackConfig configures the playback coordinator
type PlaybackConfig struct {
	MaxDuration time.Duration `mapstructure:"max_duration"`
	SkipSilent  bool          `mapstructure:"skip_silent"` // replies without audio are not waited for
}

// AvatarConfig configures the avatar controller
type AvatarConfig struct {
	CameraZoomed  bool          `mapstructure:"camera_zoomed"`
	BlinkInterval time.Duration `mapstructure:"blink_interval"`
	CharsPerSec   float64       `mapstructure:"chars_per_second"` // speaking rate when no audio timing exists
}

// ServerConfig configures the web presentation bridge
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// TranscriptConfig configures the transcript archive
type TranscriptConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// SpeechConfig configures speech transcript handling
type SpeechConfig struct {
	FilterFillers bool `mapstructure:"filter_fillers"`
}

// LogConfig configures logging
type LogConfig struct {
	Level   string `mapstructure:"level"`
	Dir     string `mapstructure:"dir"`
	Console bool   `mapstructure:"console"`
}

// DefaultErrorMessage is the apology shown when the backend cannot be reached.
const DefaultErrorMessage = "Sorry, I encountered an error. Please try again."

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	dir := configDir()
	return &Config{
		Backend: BackendConfig{
			BaseURL:      "http://localhost:3000",
			GreetingPath: "/greeting",
			ChatPath:     "/chat",
			Timeout:      0,
			UserAgent:    "avatarchat/1.0",
		},
		Conversation: ConversationConfig{
			ErrorMessage:  DefaultErrorMessage,
			RetryAttempts: 1,
			RetryBackoff:  time.Second,
			RequireIdle:   false,
		},
		Playback: PlaybackConfig{
			MaxDuration: 2 * time.Minute,
		},
		Avatar: AvatarConfig{
			CameraZoomed:  true,
			BlinkInterval: 4 * time.Second,
			CharsPerSec:   15,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Transcript: TranscriptConfig{
			Enabled: true,
			Path:    filepath.Join(dir, "transcripts.db"),
		},
		Speech: SpeechConfig{
			FilterFillers: false,
		},
		Log: LogConfig{
			Level:   "info",
			Dir:     filepath.Join(dir, "logs"),
			Console: true,
		},
	}
}

// Loader reads and watches one configuration file.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader. An empty path searches ~/.avatarchat and the
// working directory for config.yaml.
func NewLoader(path string) *Loader {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("AVATARCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, DefaultConfig())
	return &Loader{v: v}
}

// Load reads configuration from file and environment. A missing file is not
// an error; defaults and env overrides still apply.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(), fmt.Errorf("read config: %w", err)
		}
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	cfg := DefaultConfig()
	if err := l.v.Unmarshal(cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Watch re-decodes the file whenever it changes and hands the result to fn.
func (l *Loader) Watch(fn func(*Config, fsnotify.Event)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.decode()
		if err != nil {
			return
		}
		fn(cfg, e)
	})
	l.v.WatchConfig()
}

// Path returns the file the loader read, if any.
func (l *Loader) Path() string {
	return l.v.ConfigFileUsed()
}

// Load reads configuration from the default locations.
func Load() (*Config, error) {
	return NewLoader("").Load()
}

// Save writes the configuration to path as YAML.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	v := viper.New()
	setDefaults(v, cfg)
	return v.WriteConfigAs(path)
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() string {
	return configDir()
}

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".avatarchat"
	}
	return filepath.Join(home, ".avatarchat")
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("backend.base_url", cfg.Backend.BaseURL)
	v.SetDefault("backend.greeting_path", cfg.Backend.GreetingPath)
	v.SetDefault("backend.chat_path", cfg.Backend.ChatPath)
	v.SetDefault("backend.timeout", cfg.Backend.Timeout)
	v.SetDefault("backend.user_agent", cfg.Backend.UserAgent)

	v.SetDefault("conversation.error_message", cfg.Conversation.ErrorMessage)
	v.SetDefault("conversation.retry_attempts", cfg.Conversation.RetryAttempts)
	v.SetDefault("conversation.retry_backoff", cfg.Conversation.RetryBackoff)
	v.SetDefault("conversation.require_idle", cfg.Conversation.RequireIdle)

	v.SetDefault("playback.max_duration", cfg.Playback.MaxDuration)
	v.SetDefault("playback.skip_silent", cfg.Playback.SkipSilent)

	v.SetDefault("avatar.camera_zoomed", cfg.Avatar.CameraZoomed)
	v.SetDefault("avatar.blink_interval", cfg.Avatar.BlinkInterval)
	v.SetDefault("avatar.chars_per_second", cfg.Avatar.CharsPerSec)

	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.allowed_origins", cfg.Server.AllowedOrigins)
	v.SetDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout)

	v.SetDefault("transcript.enabled", cfg.Transcript.Enabled)
	v.SetDefault("transcript.path", cfg.Transcript.Path)

	v.SetDefault("speech.filter_fillers", cfg.Speech.FilterFillers)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.dir", cfg.Log.Dir)
	v.SetDefault("log.console", cfg.Log.Console)
}
