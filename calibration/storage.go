package calibration

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Storage persists the full per-distance result set.
type Storage interface {
	Save(results map[float64]Result) error
	Load() (map[float64]Result, error)
	Clear() error
}

// fileFormat is the on-disk layout. Results are a list because JSON object
// keys cannot carry float distances.
type fileFormat struct {
	LastUpdatedMs int64    `json:"lastUpdatedMs"`
	Results       []Result `json:"results"`
}

// FileStore keeps results in a single JSON file.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Path() string { return f.path }

// Load returns an empty map when the file does not exist yet.
func (f *FileStore) Load() (map[float64]Result, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[float64]Result{}, nil
		}
		return nil, fmt.Errorf("reading calibration file: %w", err)
	}

	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("parsing calibration file: %w", err)
	}

	out := make(map[float64]Result, len(ff.Results))
	for _, r := range ff.Results {
		out[r.Distance] = r
	}
	return out, nil
}

// Save writes to a temporary file and renames it over the old one.
func (f *FileStore) Save(results map[float64]Result) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating calibration directory: %w", err)
	}

	data, err := json.MarshalIndent(fileFormat{
		LastUpdatedMs: time.Now().UnixMilli(),
		Results:       sortedResults(results),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling calibration data: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing calibration file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing calibration file: %w", err)
	}
	return nil
}

func (f *FileStore) Clear() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing calibration file: %w", err)
	}
	return nil
}
