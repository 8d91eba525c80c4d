package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// mockBackend is an in-memory ConfigBackend.
type mockBackend struct {
	strings map[string]string
	ints    map[string]int
}

func newMockBackend() *mockBackend {
	return &mockBackend{strings: map[string]string{}, ints: map[string]int{}}
}

func (m *mockBackend) GetString(key string) (string, bool, error) {
	v, ok := m.strings[key]
	return v, ok, nil
}

func (m *mockBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.ints[key]
	return v, ok, nil
}

func (m *mockBackend) SetString(key, val string) error { m.strings[key] = val; return nil }
func (m *mockBackend) SetInt(key string, val int) error { m.ints[key] = val; return nil }
func (m *mockBackend) Delete(key string) error {
	delete(m.strings, key)
	delete(m.ints, key)
	return nil
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestDefaults verifies all default values are applied with an empty backend.
func TestDefaults(t *testing.T) {
	cfg, err := loadWith(newMockBackend(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q", cfg.Server.Host)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "console" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Simulation.Interval != 500*time.Millisecond {
		t.Errorf("Simulation.Interval = %v, want 500ms", cfg.Simulation.Interval)
	}
	if cfg.Training.NumRounds != 50 || cfg.Training.LearningRate != 0.1 || cfg.Training.Seed != 42 {
		t.Errorf("Training = %+v", cfg.Training)
	}
	if cfg.Storage.DataDir == "" {
		t.Error("Storage.DataDir is empty")
	}
}

func TestBackendValues(t *testing.T) {
	b := newMockBackend()
	b.ints["server.port"] = 9000
	b.ints["training.num_rounds"] = 120
	b.strings["training.learning_rate"] = "0.05"
	b.strings["simulation.interval"] = "1s"
	b.strings["storage.data_dir"] = "/tmp/inspect"

	cfg, err := loadWith(b, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9000 || cfg.Training.NumRounds != 120 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Training.LearningRate != 0.05 || cfg.Simulation.Interval != time.Second {
		t.Errorf("Training.LearningRate = %v, Simulation.Interval = %v", cfg.Training.LearningRate, cfg.Simulation.Interval)
	}
	if cfg.Storage.DataDir != "/tmp/inspect" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
}

func TestBackendInvalidValue(t *testing.T) {
	b := newMockBackend()
	b.strings["jobs.poll_interval"] = "soon"
	if _, err := loadWith(b, ""); err == nil {
		t.Fatal("expected error for an unparseable duration")
	}
}

// TestEnvOverride verifies that environment variables override backend values.
func TestEnvOverride(t *testing.T) {
	b := newMockBackend()
	b.ints["server.port"] = 9000

	t.Setenv("INSPECT_SERVER_PORT", "9100")
	t.Setenv("INSPECT_LOG_FORMAT", "json")

	cfg, err := loadWith(b, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want json", cfg.Log.Format)
	}
}

func TestEnvOverride_BadValueKeepsPrevious(t *testing.T) {
	t.Setenv("INSPECT_TRAINING_NUM_ROUNDS", "many")
	cfg, err := loadWith(newMockBackend(), "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Training.NumRounds != 50 {
		t.Errorf("Training.NumRounds = %d, want 50", cfg.Training.NumRounds)
	}
}

func TestDotenv(t *testing.T) {
	path := writeTempFile(t, ".env", "INSPECT_STORAGE_DATA_DIR=/srv/inspect\nINSPECT_SERVER_PORT=7000\n")
	t.Setenv("INSPECT_SERVER_PORT", "7100")

	cfg, err := loadWith(newMockBackend(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Storage.DataDir != "/srv/inspect" {
		t.Errorf("Storage.DataDir = %q, want value from .env", cfg.Storage.DataDir)
	}
	if cfg.Server.Port != 7100 {
		t.Errorf("Server.Port = %d, want process env to win over .env", cfg.Server.Port)
	}
}

func TestDotenvMissingIsIgnored(t *testing.T) {
	if _, err := loadWith(newMockBackend(), filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"port", "INSPECT_SERVER_PORT", "70000"},
		{"learning rate", "INSPECT_TRAINING_LEARNING_RATE", "0"},
		{"subsample", "INSPECT_TRAINING_SUBSAMPLE", "1.5"},
		{"poll interval", "INSPECT_JOBS_POLL_INTERVAL", "0s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if _, err := loadWith(newMockBackend(), ""); err == nil {
				t.Errorf("%s=%s: expected validation error", tt.key, tt.val)
			}
		})
	}
}

func TestParams(t *testing.T) {
	cfg := defaults()
	cfg.Training.NumRounds = 7
	cfg.Training.Seed = 3
	p := cfg.Params()
	if p.NumRounds != 7 || p.Seed != 3 || p.MaxBins != 255 {
		t.Errorf("Params = %+v", p)
	}
}

func openFileBackend(t *testing.T, path string) *fileBackend {
	t.Helper()
	b, err := newFileBackend(path)
	if err != nil {
		t.Fatalf("newFileBackend: %v", err)
	}
	return b
}

func TestFileBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intelliinspect", "config.json")
	b := openFileBackend(t, path)
	for key, value := range map[string]string{
		"server.port":         "8100",
		"training.lambda":     "0.5",
		"simulation.interval": "0.25s",
		"log.format":          "json",
	} {
		if err := setKeyWith(b, key, value); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}

	cfg, err := loadWith(openFileBackend(t, path), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8100 || cfg.Training.Lambda != 0.5 {
		t.Errorf("Server.Port = %d, Training.Lambda = %v", cfg.Server.Port, cfg.Training.Lambda)
	}
	if cfg.Simulation.Interval != 250*time.Millisecond || cfg.Log.Format != "json" {
		t.Errorf("Simulation.Interval = %v, Log.Format = %q", cfg.Simulation.Interval, cfg.Log.Format)
	}
}

func TestFileBackend_SectionedLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	b := openFileBackend(t, path)
	if err := setKeyWith(b, "training.learning_rate", "0.05"); err != nil {
		t.Fatal(err)
	}
	if err := setKeyWith(b, "training.num_rounds", "80"); err != nil {
		t.Fatal(err)
	}
	if err := setKeyWith(b, "simulation.interval", "0.5s"); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("config file is not sectioned JSON: %s", data)
	}
	if doc["training"]["learning_rate"] != 0.05 || doc["training"]["num_rounds"] != float64(80) {
		t.Errorf("training section = %v", doc["training"])
	}
	if doc["simulation"]["interval"] != "500ms" {
		t.Errorf("simulation section = %v", doc["simulation"])
	}

	if err := b.Delete("simulation.interval"); err != nil {
		t.Fatal(err)
	}
	b = openFileBackend(t, path)
	if _, ok := b.sections["simulation"]; ok {
		t.Error("empty section kept after Delete")
	}
}

func TestFileBackend_RejectsBadFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown key", `{"server": {"prot": 8100}}`},
		{"unknown section", `{"cache": {"size": 1}}`},
		{"fractional int", `{"server": {"port": 80.5}}`},
		{"string for int", `{"training": {"num_rounds": "80"}}`},
		{"bad duration", `{"jobs": {"poll_interval": "soon"}}`},
		{"number for string", `{"log": {"level": 3}}`},
		{"secret in file", `{"server": {"token": "s3cret"}}`},
		{"not sectioned", `{"server.port": 8100}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json")
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := newFileBackend(path); err == nil {
				t.Errorf("expected error for %s", tt.content)
			}
		})
	}
}

func TestFileBackend_MissingFileIsEmpty(t *testing.T) {
	b := openFileBackend(t, filepath.Join(t.TempDir(), "absent.json"))
	cfg, err := loadWith(b, "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want default", cfg.Server.Port)
	}
}

func TestSetKeyErrors(t *testing.T) {
	b := newMockBackend()
	if err := setKeyWith(b, "nope", "1"); err == nil {
		t.Error("expected error for unknown key")
	}
	if err := setKeyWith(b, "server.port", "abc"); err == nil {
		t.Error("expected error for non-integer port")
	}
	if err := setKeyWith(b, "simulation.interval", "fast"); err == nil {
		t.Error("expected error for bad duration")
	}
}

func TestSecretToken(t *testing.T) {
	b := newMockBackend()
	b.strings["server.token"] = "from-file"
	cfg, err := loadWith(b, "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Token != "" {
		t.Errorf("Server.Token = %q, secrets must not be read from the config file", cfg.Server.Token)
	}

	t.Setenv("INSPECT_SERVER_TOKEN", "s3cret")
	cfg, err = loadWith(b, "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Token != "s3cret" {
		t.Errorf("Server.Token = %q, want s3cret", cfg.Server.Token)
	}

	if err := setKeyWith(b, "server.token", "x"); err == nil {
		t.Error("expected error setting a secret key")
	}
	for _, ki := range ShowAll(cfg) {
		if ki.Key == "server.token" {
			t.Error("ShowAll exposes server.token")
		}
	}
}

func TestShowAll(t *testing.T) {
	infos := ShowAll(defaults())
	if len(infos) != len(ValidKeys()) {
		t.Fatalf("ShowAll returned %d keys, ValidKeys %d", len(infos), len(ValidKeys()))
	}
	found := false
	for _, ki := range infos {
		if ki.Key == "simulation.interval" {
			found = true
			if ki.Value != "500ms" || ki.EnvVar != "INSPECT_SIMULATION_INTERVAL" {
				t.Errorf("simulation.interval = %+v", ki)
			}
		}
	}
	if !found {
		t.Error("simulation.interval missing from ShowAll")
	}
}
