package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "INSPECT_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "INSPECT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_conns", typ: kInt, env: "INSPECT_SERVER_MAX_CONNS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConns = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConns },
	},
	{
		key: "server.token", typ: kString, env: "INSPECT_SERVER_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "storage.data_dir", typ: kString, env: "INSPECT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "INSPECT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "INSPECT_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
	{
		key: "training.num_rounds", typ: kInt, env: "INSPECT_TRAINING_NUM_ROUNDS",
		apply:   func(cfg *Config, v any) { cfg.Training.NumRounds = v.(int) },
		extract: func(cfg Config) any { return cfg.Training.NumRounds },
	},
	{
		key: "training.max_depth", typ: kInt, env: "INSPECT_TRAINING_MAX_DEPTH",
		apply:   func(cfg *Config, v any) { cfg.Training.MaxDepth = v.(int) },
		extract: func(cfg Config) any { return cfg.Training.MaxDepth },
	},
	{
		key: "training.num_leaves", typ: kInt, env: "INSPECT_TRAINING_NUM_LEAVES",
		apply:   func(cfg *Config, v any) { cfg.Training.NumLeaves = v.(int) },
		extract: func(cfg Config) any { return cfg.Training.NumLeaves },
	},
	{
		key: "training.learning_rate", typ: kFloat, env: "INSPECT_TRAINING_LEARNING_RATE",
		apply:   func(cfg *Config, v any) { cfg.Training.LearningRate = v.(float64) },
		extract: func(cfg Config) any { return cfg.Training.LearningRate },
	},
	{
		key: "training.subsample", typ: kFloat, env: "INSPECT_TRAINING_SUBSAMPLE",
		apply:   func(cfg *Config, v any) { cfg.Training.Subsample = v.(float64) },
		extract: func(cfg Config) any { return cfg.Training.Subsample },
	},
	{
		key: "training.colsample", typ: kFloat, env: "INSPECT_TRAINING_COLSAMPLE",
		apply:   func(cfg *Config, v any) { cfg.Training.ColSample = v.(float64) },
		extract: func(cfg Config) any { return cfg.Training.ColSample },
	},
	{
		key: "training.seed", typ: kInt, env: "INSPECT_TRAINING_SEED",
		apply:   func(cfg *Config, v any) { cfg.Training.Seed = v.(int) },
		extract: func(cfg Config) any { return cfg.Training.Seed },
	},
	{
		key: "training.min_data_in_leaf", typ: kInt, env: "INSPECT_TRAINING_MIN_DATA_IN_LEAF",
		apply:   func(cfg *Config, v any) { cfg.Training.MinDataInLeaf = v.(int) },
		extract: func(cfg Config) any { return cfg.Training.MinDataInLeaf },
	},
	{
		key: "training.lambda", typ: kFloat, env: "INSPECT_TRAINING_LAMBDA",
		apply:   func(cfg *Config, v any) { cfg.Training.Lambda = v.(float64) },
		extract: func(cfg Config) any { return cfg.Training.Lambda },
	},
	{
		key: "training.early_stopping_rounds", typ: kInt, env: "INSPECT_TRAINING_EARLY_STOPPING_ROUNDS",
		apply:   func(cfg *Config, v any) { cfg.Training.EarlyStoppingRounds = v.(int) },
		extract: func(cfg Config) any { return cfg.Training.EarlyStoppingRounds },
	},
	{
		key: "dataset.batch_size", typ: kInt, env: "INSPECT_DATASET_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Dataset.BatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Dataset.BatchSize },
	},
	{
		key: "simulation.interval", typ: kDuration, env: "INSPECT_SIMULATION_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Simulation.Interval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Simulation.Interval },
	},
	{
		key: "jobs.poll_interval", typ: kDuration, env: "INSPECT_JOBS_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Jobs.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Jobs.PollInterval },
	},
}

func specFor(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parse converts raw to the key's Go type.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}
		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", s.key, err)
		}
		s.apply(cfg, v)
	}
	return nil
}

// applyEnvOverrides applies every non-empty variable returned by lookup.
// Unparseable values keep the previous setting.
func applyEnvOverrides(cfg *Config, lookup func(string) string) {
	for _, s := range specs {
		raw := lookup(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s=%q: %v. Using previous value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
