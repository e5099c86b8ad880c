package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	WandB    WandBConfig    `mapstructure:"wandb"`
	Rating   RatingConfig   `mapstructure:"rating"`
	Plot     PlotConfig     `mapstructure:"plot"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// WandBConfig holds experiment-tracking access and the tables to evaluate
type WandBConfig struct {
	APIURL         string         `mapstructure:"api_url"`
	APIKey         string         `mapstructure:"api_key"`
	Entity         string         `mapstructure:"entity"`
	Project        string         `mapstructure:"project"`
	Timeout        time.Duration  `mapstructure:"timeout"`
	MaxRetries     int            `mapstructure:"max_retries"`
	RetryDelayBase time.Duration  `mapstructure:"retry_delay_base"`
	Sources        []SourceConfig `mapstructure:"sources"`
}

// SourceConfig lists the exported tables of one model
type SourceConfig struct {
	Model string   `mapstructure:"model"`
	Dirs  []string `mapstructure:"dirs"`
	Files []string `mapstructure:"files"`
	URLs  []string `mapstructure:"urls"`
}

// RatingConfig holds Glicko-2 and opponent pool settings
type RatingConfig struct {
	Tau               float64            `mapstructure:"tau"`
	Epsilon           float64            `mapstructure:"epsilon"`
	MaxIterations     int                `mapstructure:"max_iterations"`
	InitialRating     float64            `mapstructure:"initial_rating"`
	InitialDeviation  float64            `mapstructure:"initial_deviation"`
	InitialVolatility float64            `mapstructure:"initial_volatility"`
	OpponentDeviation float64            `mapstructure:"opponent_deviation"`
	EngineElo         map[string]float64 `mapstructure:"engine_elo"` // skill level -> Elo
	Workers           int                `mapstructure:"workers"`
}

// PlotConfig holds rendering configuration
type PlotConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	OutputDir    string  `mapstructure:"output_dir"`
	Width        float64 `mapstructure:"width"`  // inches
	Height       float64 `mapstructure:"height"` // inches
	HeatmapMin   float64 `mapstructure:"heatmap_min"`
	HeatmapMax   float64 `mapstructure:"heatmap_max"`
	XTicksByData bool    `mapstructure:"x_ticks_by_data"`
}

// StorageConfig holds report archive configuration
type StorageConfig struct {
	Driver     string `mapstructure:"driver"`
	DSN        string `mapstructure:"dsn"`
	MaxReports int    `mapstructure:"max_reports"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// ServerConfig holds the report API configuration
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	setDefaults(v)

	// TRANSCENDENCE_RATING_TAU overrides rating.tau
	v.SetEnvPrefix("TRANSCENDENCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("wandb.api_key", "WANDB_API_KEY")
	_ = v.BindEnv("telegram.bot_token", "TELEGRAM_BOT_TOKEN")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// DefaultEngineElo is an approximate Stockfish skill-level calibration used
// when a table carries no stockfish_elo column.
var DefaultEngineElo = map[string]float64{
	"0": 1320, "1": 1467, "2": 1608, "3": 1742, "4": 1862,
	"5": 1965, "6": 2053, "7": 2127, "8": 2190, "9": 2245,
	"10": 2295, "11": 2343, "12": 2390, "13": 2437, "14": 2485,
	"15": 2535, "16": 2587, "17": 2641, "18": 2697, "19": 2755,
	"20": 2816,
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// W&B defaults
	v.SetDefault("wandb.api_url", "https://api.wandb.ai")
	v.SetDefault("wandb.entity", "project-eval")
	v.SetDefault("wandb.timeout", "30s")
	v.SetDefault("wandb.max_retries", 3)
	v.SetDefault("wandb.retry_delay_base", "1s")

	// Rating defaults
	v.SetDefault("rating.tau", 0.5)
	v.SetDefault("rating.epsilon", 1e-6)
	v.SetDefault("rating.max_iterations", 100)
	v.SetDefault("rating.initial_rating", 1500.0)
	v.SetDefault("rating.initial_deviation", 350.0)
	v.SetDefault("rating.initial_volatility", 0.06)
	v.SetDefault("rating.opponent_deviation", 50.0)
	v.SetDefault("rating.engine_elo", DefaultEngineElo)
	v.SetDefault("rating.workers", 4)

	// Plot defaults
	v.SetDefault("plot.enabled", true)
	v.SetDefault("plot.output_dir", "./figures")
	v.SetDefault("plot.width", 12.0)
	v.SetDefault("plot.height", 8.0)
	v.SetDefault("plot.heatmap_min", 1500.0)
	v.SetDefault("plot.heatmap_max", 1800.0)
	v.SetDefault("plot.x_ticks_by_data", true)

	// Storage defaults
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.dsn", "./data/transcendence.db")
	v.SetDefault("storage.max_reports", 100)

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Server defaults
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate W&B config
	if c.WandB.Timeout <= 0 {
		return fmt.Errorf("wandb.timeout must be positive")
	}
	if c.WandB.MaxRetries < 1 {
		return fmt.Errorf("wandb.max_retries must be at least 1")
	}

	// Validate Rating config
	if c.Rating.Tau <= 0 || c.Rating.Tau > 2 {
		return fmt.Errorf("rating.tau must be in (0, 2]")
	}
	if c.Rating.Epsilon <= 0 {
		return fmt.Errorf("rating.epsilon must be positive")
	}
	if c.Rating.MaxIterations < 1 {
		return fmt.Errorf("rating.max_iterations must be at least 1")
	}
	if math.IsNaN(c.Rating.InitialRating) || math.IsInf(c.Rating.InitialRating, 0) {
		return fmt.Errorf("rating.initial_rating must be finite")
	}
	if c.Rating.InitialDeviation <= 0 || c.Rating.InitialVolatility <= 0 {
		return fmt.Errorf("rating.initial_deviation and rating.initial_volatility must be positive")
	}
	if c.Rating.OpponentDeviation < 0 {
		return fmt.Errorf("rating.opponent_deviation must not be negative")
	}
	if _, err := c.Rating.EngineElos(); err != nil {
		return err
	}
	if c.Rating.Workers < 1 {
		return fmt.Errorf("rating.workers must be at least 1")
	}

	// Validate Plot config
	if c.Plot.Enabled {
		if c.Plot.OutputDir == "" {
			return fmt.Errorf("plot.output_dir is required when plotting is enabled")
		}
		if c.Plot.Width <= 0 || c.Plot.Height <= 0 {
			return fmt.Errorf("plot.width and plot.height must be positive")
		}
		if c.Plot.HeatmapMin >= c.Plot.HeatmapMax {
			return fmt.Errorf("plot.heatmap_min must be below plot.heatmap_max")
		}
	}

	// Validate Storage config
	validDrivers := map[string]bool{"sqlite": true, "postgres": true}
	if !validDrivers[c.Storage.Driver] {
		return fmt.Errorf("storage.driver must be one of: sqlite, postgres")
	}
	if c.Storage.Driver == "postgres" && c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required for postgres")
	}
	if c.Storage.MaxReports < 1 {
		return fmt.Errorf("storage.max_reports must be at least 1")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Server config
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// ValidateSources checks the table sources. Only commands that load tables
// need them.
func (c *Config) ValidateSources() error {
	if len(c.WandB.Sources) == 0 {
		return fmt.Errorf("wandb.sources must contain at least one source")
	}
	for i, s := range c.WandB.Sources {
		if s.Model == "" {
			return fmt.Errorf("wandb.sources[%d].model is required", i)
		}
		if len(s.Dirs)+len(s.Files)+len(s.URLs) == 0 {
			return fmt.Errorf("wandb.sources[%d] must list at least one dir, file or url", i)
		}
	}
	return nil
}

// EngineElos parses the skill-level calibration table
func (r RatingConfig) EngineElos() (map[int]float64, error) {
	out := make(map[int]float64, len(r.EngineElo))
	for k, elo := range r.EngineElo {
		level, err := strconv.Atoi(k)
		if err != nil || level < 0 {
			return nil, fmt.Errorf("rating.engine_elo key %q is not a skill level", k)
		}
		if math.IsNaN(elo) || math.IsInf(elo, 0) || elo <= 0 {
			return nil, fmt.Errorf("rating.engine_elo[%s] must be a positive finite rating", k)
		}
		out[level] = elo
	}
	return out, nil
}
