package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return appName + "-data"
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, appName)
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "config.json"
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, appName, "config.json")
}

// fileBackend keeps settings in a JSON document grouped by section, mirroring
// Config:
//
//	{
//	  "server":     {"port": 8100},
//	  "training":   {"learning_rate": 0.05, "num_rounds": 80},
//	  "simulation": {"interval": "250ms"}
//	}
//
// Integers and floats are JSON numbers, durations and strings are JSON
// strings. Every entry is checked against the key table when the file is
// read, so a typo or a wrongly typed value fails at load instead of being
// ignored. Secret keys are never accepted from the file.
type fileBackend struct {
	path     string
	sections map[string]map[string]any
}

func newPlatformBackend() (ConfigBackend, error) {
	b, err := newFileBackend(configFilePath())
	if err != nil {
		return nil, err
	}
	return b, nil
}

// newFileBackend reads and validates path. A missing file is an empty config.
func newFileBackend(path string) (*fileBackend, error) {
	b := &fileBackend{path: path, sections: make(map[string]map[string]any)}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return b, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &b.sections); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if b.sections == nil {
		b.sections = make(map[string]map[string]any)
	}
	if err := b.validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return b, nil
}

func (b *fileBackend) validate() error {
	var problems []string
	for section, entries := range b.sections {
		for name, v := range entries {
			key := section + "." + name
			s, ok := specFor(key)
			switch {
			case !ok:
				problems = append(problems, fmt.Sprintf("unknown key %s", key))
			case s.secret:
				problems = append(problems, fmt.Sprintf("%s must be set with %s", key, s.env))
			default:
				if err := checkFileValue(s, v); err != nil {
					problems = append(problems, err.Error())
				}
			}
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

func checkFileValue(s keySpec, v any) error {
	switch s.typ {
	case kInt:
		f, ok := v.(float64)
		if !ok || f != math.Trunc(f) || f < math.MinInt || f > math.MaxInt {
			return fmt.Errorf("%s must be an integer, got %v", s.key, v)
		}
	case kFloat:
		if _, ok := v.(float64); !ok {
			return fmt.Errorf("%s must be a number, got %v", s.key, v)
		}
	case kDuration:
		str, ok := v.(string)
		if !ok {
			return fmt.Errorf("%s must be a duration string such as \"500ms\", got %v", s.key, v)
		}
		if _, err := time.ParseDuration(str); err != nil {
			return fmt.Errorf("%s: %w", s.key, err)
		}
	default:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("%s must be a string, got %v", s.key, v)
		}
	}
	return nil
}

func splitKey(key string) (section, name string) {
	section, name, _ = strings.Cut(key, ".")
	return section, name
}

func (b *fileBackend) get(key string) (any, bool) {
	section, name := splitKey(key)
	v, ok := b.sections[section][name]
	return v, ok
}

func (b *fileBackend) put(key string, v any) error {
	section, name := splitKey(key)
	if b.sections[section] == nil {
		b.sections[section] = make(map[string]any)
	}
	b.sections[section][name] = v
	return b.save()
}

// save replaces the file atomically.
func (b *fileBackend) save() error {
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := json.MarshalIndent(b.sections, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "config.json.tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp config file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), b.path)
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	v, ok := b.get(key)
	if !ok {
		return "", false, nil
	}
	switch val := v.(type) {
	case string:
		return val, true, nil
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64), true, nil
	default:
		return "", true, fmt.Errorf("invalid type %T for %s", v, key)
	}
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.get(key)
	if !ok {
		return 0, false, nil
	}
	f, isNum := v.(float64)
	if !isNum || f != math.Trunc(f) {
		return 0, true, fmt.Errorf("value %v for %s is not an integer", v, key)
	}
	return int(f), true, nil
}

// SetString stores val with the JSON type of its key: floats become numbers,
// durations are normalized ("0.5s" is written as "500ms").
func (b *fileBackend) SetString(key, val string) error {
	s, ok := specFor(key)
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}
	v, err := s.parse(val)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	switch s.typ {
	case kFloat:
		return b.put(key, v.(float64))
	case kDuration:
		return b.put(key, v.(time.Duration).String())
	case kInt:
		return b.put(key, float64(v.(int)))
	default:
		return b.put(key, val)
	}
}

func (b *fileBackend) SetInt(key string, val int) error {
	return b.put(key, float64(val))
}

func (b *fileBackend) Delete(key string) error {
	section, name := splitKey(key)
	delete(b.sections[section], name)
	if len(b.sections[section]) == 0 {
		delete(b.sections, section)
	}
	return b.save()
}
