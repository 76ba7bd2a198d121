// Package config loads go-rehearse service configuration.
//
// Values are resolved in order: built-in defaults, an optional YAML file,
// then REHEARSE_* environment variables (e.g. REHEARSE_SERVER_ADDR). A few
// well-known provider variables such as GROQ_API_KEY are honored as well.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "REHEARSE"

// Store backends.
const (
	StoreJSON   = "json"
	StoreRedis  = "redis"
	StoreSheets = "sheets"
	StoreSQL    = "mysql"
)

// Inference providers.
const (
	ProviderNone   = "none"
	ProviderGroq   = "groq"
	ProviderGemini = "gemini"
	ProviderChain  = "chain"
)

// Config is the full service configuration.
type Config struct {
	Env       string          `mapstructure:"env"`
	LogLevel  string          `mapstructure:"log_level"`
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Inference InferenceConfig `mapstructure:"inference"`
	Audio     AudioConfig     `mapstructure:"audio"`
	Face      FaceConfig      `mapstructure:"face"`
	Fusion    FusionConfig    `mapstructure:"fusion"`
	Session   SessionConfig   `mapstructure:"session"`
}

// ServerConfig configures the HTTP/websocket surface.
type ServerConfig struct {
	Addr          string `mapstructure:"addr"`
	JWTSecret     string `mapstructure:"jwt_secret"`
	AllowGuest    bool   `mapstructure:"allow_guest"`
	ScenariosFile string `mapstructure:"scenarios_file"`
	// STUNServer is offered to WebRTC peers. Empty disables ICE servers.
	STUNServer string `mapstructure:"stun_server"`
}

// StoreConfig selects and configures the session store.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	// Path is the JSON store file. Empty means ~/.rehearse/sessions.json.
	Path          string `mapstructure:"path"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	// SheetID is the Google spreadsheet receiving appended records.
	SheetID string `mapstructure:"sheet_id"`
	// SheetCredentials is a service account JSON key file.
	SheetCredentials string `mapstructure:"sheet_credentials"`
	// DSN is the MySQL data source name for the mysql backend.
	DSN      string `mapstructure:"dsn"`
	PoolSize int    `mapstructure:"pool_size"`
}

// InferenceConfig configures the coaching text provider.
type InferenceConfig struct {
	Provider    string        `mapstructure:"provider"`
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	GeminiKey   string        `mapstructure:"gemini_key"`
	GeminiModel string        `mapstructure:"gemini_model"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// AudioConfig tunes the audio activity detector.
type AudioConfig struct {
	SampleRate    int     `mapstructure:"sample_rate"`
	FrameSize     int     `mapstructure:"frame_size"`
	Threshold     float64 `mapstructure:"threshold"`
	OnsetFrames   int     `mapstructure:"onset_frames"`
	SilenceFrames int     `mapstructure:"silence_frames"`
}

// FaceConfig tunes the face signal extractor.
type FaceConfig struct {
	ModelPath          string  `mapstructure:"model_path"`
	CenterMin          float64 `mapstructure:"center_min"`
	CenterMax          float64 `mapstructure:"center_max"`
	MouthOpenThreshold float64 `mapstructure:"mouth_open_threshold"`
}

// FusionConfig controls how the confidence engine is driven.
type FusionConfig struct {
	// TickMode is "fixed" or "video".
	TickMode     string        `mapstructure:"tick_mode"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// SessionConfig controls session aggregation.
type SessionConfig struct {
	BaselineCategory string        `mapstructure:"baseline_category"`
	DefaultDuration  time.Duration `mapstructure:"default_duration"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Env:      "dev",
		LogLevel: "info",
		Server: ServerConfig{
			Addr:       ":8080",
			AllowGuest: true,
			STUNServer: "stun:stun.l.google.com:19302",
		},
		Store: StoreConfig{
			Backend:   StoreJSON,
			RedisAddr: "localhost:6379",
			PoolSize:  10,
		},
		Inference: InferenceConfig{
			Provider:    ProviderNone,
			BaseURL:     "https://api.groq.com/openai/v1",
			Model:       "llama-3.1-8b-instant",
			GeminiModel: "gemini-2.0-flash",
			Timeout:     20 * time.Second,
		},
		Audio: AudioConfig{
			SampleRate:    48000,
			FrameSize:     2048,
			Threshold:     0.035,
			OnsetFrames:   6,
			SilenceFrames: 20,
		},
		Face: FaceConfig{
			CenterMin:          0.45,
			CenterMax:          0.55,
			MouthOpenThreshold: 0.02,
		},
		Fusion: FusionConfig{
			TickMode:     "fixed",
			TickInterval: time.Second / 60,
		},
		Session: SessionConfig{
			BaselineCategory: "casual",
			DefaultDuration:  90 * time.Second,
		},
	}
}

// Load resolves configuration from defaults, the YAML file at path (when
// non-empty, or ./rehearse.yaml when present), and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindProviderEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		v.SetConfigName("rehearse")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("env", d.Env)
	v.SetDefault("log_level", d.LogLevel)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.jwt_secret", d.Server.JWTSecret)
	v.SetDefault("server.allow_guest", d.Server.AllowGuest)
	v.SetDefault("server.scenarios_file", d.Server.ScenariosFile)
	v.SetDefault("server.stun_server", d.Server.STUNServer)

	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.redis_addr", d.Store.RedisAddr)
	v.SetDefault("store.redis_password", d.Store.RedisPassword)
	v.SetDefault("store.redis_db", d.Store.RedisDB)
	v.SetDefault("store.sheet_id", d.Store.SheetID)
	v.SetDefault("store.sheet_credentials", d.Store.SheetCredentials)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("store.pool_size", d.Store.PoolSize)

	v.SetDefault("inference.provider", d.Inference.Provider)
	v.SetDefault("inference.base_url", d.Inference.BaseURL)
	v.SetDefault("inference.api_key", d.Inference.APIKey)
	v.SetDefault("inference.model", d.Inference.Model)
	v.SetDefault("inference.gemini_key", d.Inference.GeminiKey)
	v.SetDefault("inference.gemini_model", d.Inference.GeminiModel)
	v.SetDefault("inference.timeout", d.Inference.Timeout)

	v.SetDefault("audio.sample_rate", d.Audio.SampleRate)
	v.SetDefault("audio.frame_size", d.Audio.FrameSize)
	v.SetDefault("audio.threshold", d.Audio.Threshold)
	v.SetDefault("audio.onset_frames", d.Audio.OnsetFrames)
	v.SetDefault("audio.silence_frames", d.Audio.SilenceFrames)

	v.SetDefault("face.model_path", d.Face.ModelPath)
	v.SetDefault("face.center_min", d.Face.CenterMin)
	v.SetDefault("face.center_max", d.Face.CenterMax)
	v.SetDefault("face.mouth_open_threshold", d.Face.MouthOpenThreshold)

	v.SetDefault("fusion.tick_mode", d.Fusion.TickMode)
	v.SetDefault("fusion.tick_interval", d.Fusion.TickInterval)

	v.SetDefault("session.baseline_category", d.Session.BaselineCategory)
	v.SetDefault("session.default_duration", d.Session.DefaultDuration)
}

func bindProviderEnv(v *viper.Viper) {
	_ = v.BindEnv("inference.api_key", EnvPrefix+"_INFERENCE_API_KEY", "GROQ_API_KEY")
	_ = v.BindEnv("inference.gemini_key", EnvPrefix+"_INFERENCE_GEMINI_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("server.jwt_secret", EnvPrefix+"_SERVER_JWT_SECRET", "JWT_SECRET")
	_ = v.BindEnv("store.redis_addr", EnvPrefix+"_STORE_REDIS_ADDR", "REDIS_ADDR")
	_ = v.BindEnv("store.dsn", EnvPrefix+"_STORE_DSN", "MYSQL_DSN")
}

// Validate checks the configuration for inconsistent values.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreJSON, StoreRedis:
	case StoreSheets:
		if c.Store.SheetID == "" {
			return &ConfigError{Field: "store.sheet_id", Message: "store.sheet_id is required for the sheets backend"}
		}
	case StoreSQL:
		if c.Store.DSN == "" {
			return &ConfigError{Field: "store.dsn", Message: "store.dsn is required for the mysql backend"}
		}
	default:
		return &ConfigError{Field: "store.backend", Message: fmt.Sprintf("unknown store backend %q", c.Store.Backend)}
	}

	switch c.Inference.Provider {
	case ProviderNone, ProviderGroq, ProviderGemini, ProviderChain:
	default:
		return &ConfigError{Field: "inference.provider", Message: fmt.Sprintf("unknown inference provider %q", c.Inference.Provider)}
	}

	switch c.Fusion.TickMode {
	case "fixed", "video":
	default:
		return &ConfigError{Field: "fusion.tick_mode", Message: fmt.Sprintf("tick_mode must be fixed or video, got %q", c.Fusion.TickMode)}
	}
	if c.Fusion.TickInterval <= 0 {
		return &ConfigError{Field: "fusion.tick_interval", Message: "fusion.tick_interval must be positive"}
	}

	if c.Audio.FrameSize <= 0 || c.Audio.SampleRate <= 0 {
		return &ConfigError{Field: "audio", Message: "audio.frame_size and audio.sample_rate must be positive"}
	}
	if c.Face.CenterMin >= c.Face.CenterMax {
		return &ConfigError{Field: "face.center_min", Message: "face.center_min must be below face.center_max"}
	}
	if !c.Server.AllowGuest && c.Server.JWTSecret == "" {
		return &ConfigError{Field: "server.jwt_secret", Message: "server.jwt_secret is required when guests are not allowed"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}
