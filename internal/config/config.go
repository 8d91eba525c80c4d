package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/kalambet/intelliinspect/internal/dataset"
	"github.com/kalambet/intelliinspect/internal/gbdt"
)

const appName = "intelliinspect"

type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	Log        LogConfig
	Training   TrainingConfig
	Dataset    DatasetConfig
	Simulation SimulationConfig
	Jobs       JobsConfig
}

type ServerConfig struct {
	Host     string
	Port     int
	MaxConns int
	// Token, when set, is required as a bearer token on every API route
	// except /health.
	Token string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level  string
	Format string
}

// TrainingConfig holds the boosting hyperparameters exposed as settings.
type TrainingConfig struct {
	NumRounds           int
	MaxDepth            int
	NumLeaves           int
	LearningRate        float64
	Subsample           float64
	ColSample           float64
	Seed                int
	MinDataInLeaf       int
	Lambda              float64
	EarlyStoppingRounds int
}

type DatasetConfig struct {
	BatchSize int
}

type SimulationConfig struct {
	Interval time.Duration
}

type JobsConfig struct {
	PollInterval time.Duration
}

func defaults() Config {
	p := gbdt.DefaultParams()
	return Config{
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     8000,
			MaxConns: 64,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Training: TrainingConfig{
			NumRounds:           p.NumRounds,
			MaxDepth:            p.MaxDepth,
			NumLeaves:           p.NumLeaves,
			LearningRate:        p.LearningRate,
			Subsample:           p.Subsample,
			ColSample:           p.ColSample,
			Seed:                int(p.Seed),
			MinDataInLeaf:       p.MinDataInLeaf,
			Lambda:              p.Lambda,
			EarlyStoppingRounds: p.EarlyStoppingRounds,
		},
		Dataset: DatasetConfig{
			BatchSize: dataset.DefaultBatchSize,
		},
		Simulation: SimulationConfig{
			Interval: 500 * time.Millisecond,
		},
		Jobs: JobsConfig{
			PollInterval: 2 * time.Second,
		},
	}
}

// Params converts the training settings to boosting parameters. Settings
// with no key keep their defaults.
func (c Config) Params() gbdt.Params {
	p := gbdt.DefaultParams()
	t := c.Training
	p.NumRounds = t.NumRounds
	p.MaxDepth = t.MaxDepth
	p.NumLeaves = t.NumLeaves
	p.LearningRate = t.LearningRate
	p.Subsample = t.Subsample
	p.ColSample = t.ColSample
	p.Seed = uint64(t.Seed)
	p.MinDataInLeaf = t.MinDataInLeaf
	p.Lambda = t.Lambda
	p.EarlyStoppingRounds = t.EarlyStoppingRounds
	return p
}

// Load reads configuration in increasing precedence: defaults, the JSON file
// at $XDG_CONFIG_HOME/intelliinspect/config.json, a .env file in the working
// directory, and INSPECT_* environment variables.
func Load() (Config, error) {
	b, err := newPlatformBackend()
	if err != nil {
		return Config{}, err
	}
	return loadWith(b, ".env")
}

func loadWith(b ConfigBackend, dotenv string) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	fileEnv, err := readDotenv(dotenv)
	if err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg, func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return fileEnv[key]
	})

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// readDotenv returns the variables in path. A missing file is not an error.
func readDotenv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	env, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return env, nil
}

func validate(cfg Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", cfg.Server.Port)
	}
	if cfg.Server.MaxConns < 0 {
		return fmt.Errorf("server.max_conns must not be negative")
	}
	if cfg.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir must be set")
	}
	if cfg.Simulation.Interval < 0 || cfg.Jobs.PollInterval <= 0 {
		return fmt.Errorf("simulation.interval must be >= 0 and jobs.poll_interval > 0")
	}
	if err := cfg.Params().Validate(); err != nil {
		return fmt.Errorf("training settings: %w", err)
	}
	return nil
}
