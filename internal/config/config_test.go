package config

import (
	"math"
	"os"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		WandB: WandBConfig{
			Timeout:    30 * time.Second,
			MaxRetries: 3,
			Sources: []SourceConfig{
				{Model: "50M", Dirs: []string{"./tables/50M"}},
			},
		},
		Rating: RatingConfig{
			Tau:               0.5,
			Epsilon:           1e-6,
			MaxIterations:     100,
			InitialRating:     1500,
			InitialDeviation:  350,
			InitialVolatility: 0.06,
			OpponentDeviation: 50,
			EngineElo:         map[string]float64{"0": 1320, "1": 1467},
			Workers:           2,
		},
		Plot: PlotConfig{
			Enabled:    true,
			OutputDir:  "./figures",
			Width:      12,
			Height:     8,
			HeatmapMin: 1500,
			HeatmapMax: 1800,
		},
		Storage: StorageConfig{
			Driver:     "sqlite",
			DSN:        ":memory:",
			MaxReports: 10,
		},
		Server: ServerConfig{Addr: ":8080"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func TestLoadAndValidate(t *testing.T) {
	// Create temp config file
	content := `
wandb:
  entity: "project-eval"
  project: "full-eval-770_2000-Eval-Full"
  sources:
    - model: "50M"
      dirs:
        - ./tables/50M
    - model: "770M"
      urls:
        - https://example.com/eval.table.json

rating:
  tau: 0.4
  opponent_deviation: 80
  engine_elo:
    "3": 1900

storage:
  driver: sqlite
  dsn: ":memory:"

logging:
  level: "debug"
  format: "text"
`
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Remove(tmpfile.Name()) }()

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(tmpfile.Name())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(cfg.WandB.Sources) != 2 {
		t.Fatalf("Expected 2 sources, got %d", len(cfg.WandB.Sources))
	}
	if cfg.WandB.Sources[1].Model != "770M" {
		t.Errorf("Unexpected second source model: %q", cfg.WandB.Sources[1].Model)
	}
	if cfg.Rating.Tau != 0.4 {
		t.Errorf("Unexpected tau: %f", cfg.Rating.Tau)
	}
	if cfg.Rating.OpponentDeviation != 80 {
		t.Errorf("Unexpected opponent deviation: %f", cfg.Rating.OpponentDeviation)
	}
	if cfg.Rating.InitialDeviation != 350 {
		t.Errorf("Expected default initial deviation 350, got %f", cfg.Rating.InitialDeviation)
	}
	if cfg.WandB.Timeout != 30*time.Second {
		t.Errorf("Expected default timeout 30s, got %v", cfg.WandB.Timeout)
	}

	elos, err := cfg.Rating.EngineElos()
	if err != nil {
		t.Fatalf("EngineElos: %v", err)
	}
	if elos[3] != 1900 {
		t.Errorf("Expected level 3 overridden to 1900, got %f", elos[3])
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	content := `
wandb:
  sources:
    - model: "50M"
      dirs: [./tables]
`
	path := t.TempDir() + "/config.yaml"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("WANDB_API_KEY", "secret-key")
	t.Setenv("TRANSCENDENCE_RATING_WORKERS", "8")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.WandB.APIKey != "secret-key" {
		t.Errorf("Expected api key from WANDB_API_KEY, got %q", cfg.WandB.APIKey)
	}
	if cfg.Rating.Workers != 8 {
		t.Errorf("Expected workers 8 from env, got %d", cfg.Rating.Workers)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(t.TempDir() + "/missing.yaml"); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"no sources is fine for serving", func(c *Config) { c.WandB.Sources = nil }, false},
		{"non-finite initial rating", func(c *Config) { c.Rating.InitialRating = math.Inf(1) }, true},
		{"NaN initial rating", func(c *Config) { c.Rating.InitialRating = math.NaN() }, true},
		{"invalid tau", func(c *Config) { c.Rating.Tau = 0 }, true},
		{"negative opponent deviation", func(c *Config) { c.Rating.OpponentDeviation = -1 }, true},
		{"bad engine level key", func(c *Config) { c.Rating.EngineElo = map[string]float64{"max": 3000} }, true},
		{"zero workers", func(c *Config) { c.Rating.Workers = 0 }, true},
		{"inverted heatmap range", func(c *Config) { c.Plot.HeatmapMin = 1900 }, true},
		{"plot disabled skips plot checks", func(c *Config) { c.Plot = PlotConfig{} }, false},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mysql" }, true},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres"; c.Storage.DSN = "" }, true},
		{"missing telegram token when enabled", func(c *Config) {
			c.Telegram = TelegramConfig{Enabled: true, ChatID: "1"}
		}, true},
		{"invalid log level", func(c *Config) { c.Logging.Level = "trace" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateSources(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"no sources", func(c *Config) { c.WandB.Sources = nil }, true},
		{"source without model", func(c *Config) { c.WandB.Sources[0].Model = "" }, true},
		{"source without tables", func(c *Config) { c.WandB.Sources[0].Dirs = nil }, true},
		{"url only", func(c *Config) {
			c.WandB.Sources[0].Dirs = nil
			c.WandB.Sources[0].URLs = []string{"r5gi54js/eval.table.json"}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.ValidateSources()
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSources() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
