package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func restore(t *testing.T) {
	t.Helper()
	prev, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})
}

func TestInitWriter_JSON(t *testing.T) {
	restore(t)
	var buf bytes.Buffer
	if err := InitWriter(&buf, "debug", "json", false); err != nil {
		t.Fatal(err)
	}
	logger := log.With().Str("component", "test").Logger()
	logger.Info().Int("rows", 3).Msg("loaded")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %q", buf.String())
	}
	if entry["component"] != "test" || entry["message"] != "loaded" || entry["rows"] != float64(3) {
		t.Errorf("entry = %v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Error("missing timestamp")
	}
}

func TestInitWriter_LevelFilters(t *testing.T) {
	restore(t)
	var buf bytes.Buffer
	if err := InitWriter(&buf, "warn", "json", false); err != nil {
		t.Fatal(err)
	}
	log.Info().Msg("hidden")
	log.Warn().Msg("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestInitWriter_Console(t *testing.T) {
	restore(t)
	var buf bytes.Buffer
	if err := InitWriter(&buf, "", "console", true); err != nil {
		t.Fatal(err)
	}
	log.Info().Str("model", "model.gob").Msg("artifacts saved")
	out := buf.String()
	if !strings.Contains(out, "artifacts saved") || !strings.Contains(out, "model=model.gob") {
		t.Errorf("output = %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("console output has color codes with noColor set")
	}
}

func TestInitWriter_Errors(t *testing.T) {
	restore(t)
	var buf bytes.Buffer
	if err := InitWriter(&buf, "loud", "json", false); err == nil {
		t.Error("expected error for unknown level")
	}
	if err := InitWriter(&buf, "info", "xml", false); err == nil {
		t.Error("expected error for unknown format")
	}
}
