// Package testdata serves records from the data files that drive
// parameterized endpoint runs.
package testdata

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
)

// Record is one row of test data. Values keep the type they were decoded
// with; CSV values are always strings.
type Record map[string]any

var (
	// ErrUnsupportedFormat is returned for files that are not YAML, JSON or CSV.
	ErrUnsupportedFormat = errors.New("unsupported data format")
	// ErrEmpty is returned when a record is requested from a file without any.
	ErrEmpty = errors.New("test data file has no records")
)

// Loader reads data files relative to a directory and caches them by name.
// It is safe for concurrent use.
type Loader struct {
	dir string

	mu    sync.Mutex
	cache map[string][]Record
}

// NewLoader creates a loader rooted at dir.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir, cache: map[string][]Record{}}
}

// Dir returns the directory files are resolved against.
func (l *Loader) Dir() string {
	return l.dir
}

// Load returns every record of the named file. The result is cached and
// shared between callers, which must not modify it.
func (l *Loader) Load(name string) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if records, ok := l.cache[name]; ok {
		return records, nil
	}

	path := filepath.Join(l.dir, name)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("test data file not found: %s: %w", path, err)
	}
	records, err := readFile(path)
	if err != nil {
		return nil, err
	}
	l.cache[name] = records
	return records, nil
}

// Random returns a random record of the named file.
func (l *Loader) Random(name string) (Record, error) {
	records, err := l.nonEmpty(name)
	if err != nil {
		return nil, err
	}
	return records[rand.Intn(len(records))], nil
}

// ByIndex returns record index of the named file, wrapping around past
// the end. Negative indexes count from the end.
func (l *Loader) ByIndex(name string, index int) (Record, error) {
	records, err := l.nonEmpty(name)
	if err != nil {
		return nil, err
	}
	n := len(records)
	return records[((index%n)+n)%n], nil
}

// Cycle returns an endless round-robin iterator over the named file.
func (l *Loader) Cycle(name string) (*Cycle, error) {
	records, err := l.nonEmpty(name)
	if err != nil {
		return nil, err
	}
	return &Cycle{records: records}, nil
}

func (l *Loader) nonEmpty(name string) ([]Record, error) {
	records, err := l.Load(name)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrEmpty)
	}
	return records, nil
}

// Cycle hands out records in order, starting over after the last one.
// It is safe for concurrent use.
type Cycle struct {
	mu      sync.Mutex
	records []Record
	index   int
}

// Next returns the next record.
func (c *Cycle) Next() Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	record := c.records[c.index]
	c.index = (c.index + 1) % len(c.records)
	return record
}

// Len returns the number of distinct records.
func (c *Cycle) Len() int {
	return len(c.records)
}
