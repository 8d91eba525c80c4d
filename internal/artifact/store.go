// Package artifact reads and writes the files shared between training,
// simulation and the transports, all under one storage directory.
package artifact

import (
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/kalambet/intelliinspect/internal/apperr"
	"github.com/kalambet/intelliinspect/internal/classifier"
	"github.com/kalambet/intelliinspect/internal/evaluate"
)

// Fixed artifact names inside the storage directory.
const (
	CSVName       = "parsed.csv"
	SelectionName = "range_selection.json"
	ModelName     = "model.gob"
	RecordName    = "metrics.json"
)

const modelVersion = 1

// modelFile is the on-disk envelope for a model.
type modelFile struct {
	Version int
	Model   *classifier.Model
}

// Store is a storage directory.
type Store struct {
	Dir string
}

// New returns a store rooted at dir. The directory is created on first save.
func New(dir string) *Store {
	return &Store{Dir: dir}
}

func (s *Store) path(name string) string { return filepath.Join(s.Dir, name) }

// CSVPath is the location of the input table.
func (s *Store) CSVPath() string { return s.path(CSVName) }

// SelectionPath is the location of the range selection.
func (s *Store) SelectionPath() string { return s.path(SelectionName) }

// ModelPath is the location of the trained model.
func (s *Store) ModelPath() string { return s.path(ModelName) }

// RecordPath is the location of the latest results or error record.
func (s *Store) RecordPath() string { return s.path(RecordName) }

// Save persists a model and its results record, replacing both.
func (s *Store) Save(m *classifier.Model, rec evaluate.Record) error {
	err := s.writeAtomic(ModelName, func(w io.Writer) error {
		return gob.NewEncoder(w).Encode(&modelFile{Version: modelVersion, Model: m})
	})
	if err != nil {
		return err
	}
	return s.SaveRecord(rec)
}

// SaveRecord persists only the results or error record.
func (s *Store) SaveRecord(rec evaluate.Record) error {
	return s.writeAtomic(RecordName, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "    ")
		return enc.Encode(rec)
	})
}

// writeAtomic writes to a temp file in the store directory and renames it
// over the target.
func (s *Store) writeAtomic(name string, write func(io.Writer) error) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return apperr.Wrap(apperr.Storage, err, "creating storage directory %s", s.Dir)
	}
	tmp, err := os.CreateTemp(s.Dir, name+".tmp.*")
	if err != nil {
		return apperr.Wrap(apperr.Storage, err, "creating temp file for %s", name)
	}
	tmpName := tmp.Name()
	defer func() {
		tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if err := write(tmp); err != nil {
		return apperr.Wrap(apperr.Storage, err, "encoding %s", name)
	}
	if err := tmp.Close(); err != nil {
		return apperr.Wrap(apperr.Storage, err, "closing temp file for %s", name)
	}
	if err := os.Rename(tmpName, s.path(name)); err != nil {
		return apperr.Wrap(apperr.Storage, err, "replacing %s", name)
	}
	return nil
}

// LoadModel reads the trained model. An absent file is a StorageError that
// also matches fs.ErrNotExist.
func (s *Store) LoadModel() (*classifier.Model, error) {
	f, err := os.Open(s.ModelPath())
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, err, "opening model")
	}
	defer f.Close()

	var mf modelFile
	if err := gob.NewDecoder(f).Decode(&mf); err != nil {
		return nil, apperr.Wrap(apperr.Storage, err, "decoding model %s", s.ModelPath())
	}
	if mf.Version != modelVersion {
		return nil, apperr.New(apperr.Storage, "model version mismatch: file=%d expected=%d", mf.Version, modelVersion)
	}
	if mf.Model == nil || mf.Model.Booster == nil {
		return nil, apperr.New(apperr.Storage, "model file %s is empty", s.ModelPath())
	}
	return mf.Model, nil
}

// ReadRecord returns metrics.json verbatim.
func (s *Store) ReadRecord() ([]byte, error) {
	data, err := os.ReadFile(s.RecordPath())
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, err, "reading results record")
	}
	return data, nil
}

// LoadRecord decodes metrics.json.
func (s *Store) LoadRecord() (evaluate.Record, error) {
	data, err := s.ReadRecord()
	if err != nil {
		return evaluate.Record{}, err
	}
	var rec evaluate.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return evaluate.Record{}, apperr.Wrap(apperr.Storage, err, "decoding results record")
	}
	return rec, nil
}

// FileInfo describes one artifact on disk.
type FileInfo struct {
	Path   string  `json:"path"`
	Exists bool    `json:"exists"`
	SizeMB float64 `json:"size_mb"`
}

// Inventory reports every artifact by name.
func (s *Store) Inventory() (map[string]FileInfo, error) {
	out := make(map[string]FileInfo, 4)
	for key, name := range map[string]string{
		"parsed_csv":      CSVName,
		"range_selection": SelectionName,
		"model":           ModelName,
		"metrics":         RecordName,
	} {
		fi := FileInfo{Path: s.path(name)}
		st, err := os.Stat(fi.Path)
		switch {
		case err == nil:
			fi.Exists = true
			fi.SizeMB = evaluate.Round2(float64(st.Size()) / (1024 * 1024))
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, apperr.Wrap(apperr.Storage, err, "stat %s", fi.Path)
		}
		out[key] = fi
	}
	return out, nil
}

// Exists reports whether the named artifact is present.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.path(name))
	return err == nil
}

// String implements fmt.Stringer for log fields.
func (s *Store) String() string { return fmt.Sprintf("artifact.Store(%s)", s.Dir) }
