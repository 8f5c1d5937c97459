package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bdougie/fresque/internal/models"
)

const batchSize = 10 // Number of records to batch write

// LedgerFile is the name of the JSON run ledger inside the output directory
const LedgerFile = "fresque_runs.json"

// ErrNotFound is returned when a run id is unknown
var ErrNotFound = errors.New("run not found")

// Storage records step invocations
type Storage interface {
	// AddRecord adds a single run record
	AddRecord(ctx context.Context, record models.RunRecord) error

	// Recent returns up to limit records, newest first
	Recent(ctx context.Context, limit int) ([]models.RunRecord, error)

	// Flush ensures all pending records are saved
	Flush() error
}

// Searcher ranks past runs by collage signature
type Searcher interface {
	SearchSimilar(ctx context.Context, id string, limit int) ([]models.SimilarRun, error)
}

// FileStorage keeps the ledger as a JSON array on disk
type FileStorage struct {
	records []models.RunRecord
	mu      sync.Mutex
	path    string
}

// NewFileStorage creates a ledger at dir/fresque_runs.json
func NewFileStorage(dir string) *FileStorage {
	return &FileStorage{
		records: []models.RunRecord{},
		path:    filepath.Join(dir, LedgerFile),
	}
}

// Path is the ledger file location
func (s *FileStorage) Path() string {
	return s.path
}

// AddRecord adds a record to the batch and flushes if the batch is full
func (s *FileStorage) AddRecord(ctx context.Context, record models.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)

	if len(s.records) >= batchSize {
		if err := s.flush(); err != nil {
			return fmt.Errorf("failed to flush run ledger: %w", err)
		}
	}
	return nil
}

// Recent merges the file with pending records
func (s *FileStorage) Recent(ctx context.Context, limit int) ([]models.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return nil, err
	}
	all = append(all, s.records...)

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Flush writes all pending records to disk
func (s *FileStorage) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush()
}

func (s *FileStorage) load() ([]models.RunRecord, error) {
	var existing []models.RunRecord
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return existing, nil
		}
		return nil, fmt.Errorf("failed to read run ledger: %w", err)
	}
	if err := json.Unmarshal(data, &existing); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run ledger: %w", err)
	}
	return existing, nil
}

func (s *FileStorage) flush() error {
	if len(s.records) == 0 {
		return nil
	}

	existing, err := s.load()
	if err != nil {
		return err
	}
	all := append(existing, s.records...)

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for run ledger: %w", err)
	}

	tmp := s.path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(all); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to encode run ledger: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace run ledger: %w", err)
	}

	s.records = nil // Clear the batch
	return nil
}

// Nop discards records; used when the ledger is disabled
type Nop struct{}

func (Nop) AddRecord(context.Context, models.RunRecord) error { return nil }

func (Nop) Recent(context.Context, int) ([]models.RunRecord, error) {
	return []models.RunRecord{}, nil
}

func (Nop) Flush() error { return nil }
