package storage

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/IshaanNene/scrapegoat-spiders/internal/config"
	"github.com/IshaanNene/scrapegoat-spiders/internal/types"
)

// --- JSON Storage ---

// JSONStorage buffers records and writes them as one JSON array on Close.
// In append mode the records of an existing array are kept.
type JSONStorage struct {
	path      string
	overwrite bool
	records   []json.RawMessage
	mu        sync.Mutex
	logger    *slog.Logger
}

// NewJSONStorage creates a new JSON file storage.
func NewJSONStorage(outputPath string, overwrite bool, logger *slog.Logger) (*JSONStorage, error) {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return nil, &types.StorageError{Backend: "json", Err: fmt.Errorf("create output dir: %w", err)}
	}

	s := &JSONStorage{
		path:      outputPath,
		overwrite: overwrite,
		logger:    logger.With("component", "json_storage"),
	}

	if !overwrite {
		existing, err := os.ReadFile(outputPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, &types.StorageError{Backend: "json", Err: fmt.Errorf("read existing output: %w", err)}
		case len(bytes.TrimSpace(existing)) > 0:
			if err := json.Unmarshal(existing, &s.records); err != nil {
				return nil, &types.StorageError{Backend: "json", Err: fmt.Errorf("existing output is not a JSON array: %w", err)}
			}
		}
	}

	return s, nil
}

func (s *JSONStorage) Name() string { return "json" }

func (s *JSONStorage) Store(records []*types.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		data, err := rec.MarshalJSON()
		if err != nil {
			return &types.StorageError{Backend: "json", Err: fmt.Errorf("encode record: %w", err)}
		}
		s.records = append(s.records, data)
	}
	s.logger.Debug("records buffered", "count", len(records), "total", len(s.records))
	return nil
}

func (s *JSONStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Create(s.path)
	if err != nil {
		return &types.StorageError{Backend: "json", Err: fmt.Errorf("create output file: %w", err)}
	}
	defer f.Close()

	out := s.records
	if out == nil {
		out = []json.RawMessage{}
	}

	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return &types.StorageError{Backend: "json", Err: fmt.Errorf("encode JSON: %w", err)}
	}

	s.logger.Info("JSON written", "path", s.path, "records", len(s.records))
	return nil
}

// --- JSONL Storage ---

// JSONLStorage writes records as newline-delimited JSON. Each line is
// encoded in full and written with a single Write under the lock, so
// concurrent callers never interleave partial lines.
type JSONLStorage struct {
	path   string
	file   *os.File
	mu     sync.Mutex
	count  int
	logger *slog.Logger
}

// NewJSONLStorage creates a new JSONL file storage (streaming writes).
func NewJSONLStorage(outputPath string, overwrite bool, logger *slog.Logger) (*JSONLStorage, error) {
	f, err := openFile("jsonl", outputPath, overwrite)
	if err != nil {
		return nil, err
	}

	return &JSONLStorage{
		path:   outputPath,
		file:   f,
		logger: logger.With("component", "jsonl_storage"),
	}, nil
}

func (s *JSONLStorage) Name() string { return "jsonl" }

func (s *JSONLStorage) Store(records []*types.Record) error {
	for _, rec := range records {
		line, err := rec.MarshalJSON()
		if err != nil {
			return &types.StorageError{Backend: "jsonl", Err: fmt.Errorf("encode record: %w", err)}
		}
		line = append(line, '\n')

		s.mu.Lock()
		_, err = s.file.Write(line)
		if err == nil {
			s.count++
		}
		s.mu.Unlock()

		if err != nil {
			return &types.StorageError{Backend: "jsonl", Err: fmt.Errorf("write line: %w", err)}
		}
	}
	return nil
}

// Count returns the number of lines written so far.
func (s *JSONLStorage) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *JSONLStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("JSONL written", "path", s.path, "records", s.count)
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return &types.StorageError{Backend: "jsonl", Err: err}
	}
	return nil
}

// --- CSV Storage ---

// CSVStorage writes records as CSV rows. The header follows the field
// order of the first record, which is its schema order.
type CSVStorage struct {
	path       string
	file       *os.File
	writer     *csv.Writer
	headers    []string
	appendMode bool
	mu         sync.Mutex
	count      int
	logger     *slog.Logger
}

// NewCSVStorage creates a new CSV file storage.
func NewCSVStorage(outputPath string, overwrite bool, logger *slog.Logger) (*CSVStorage, error) {
	f, err := openFile("csv", outputPath, overwrite)
	if err != nil {
		return nil, err
	}

	// Appending to a non-empty file reuses its header row.
	appending := false
	if !overwrite {
		if info, err := f.Stat(); err == nil && info.Size() > 0 {
			appending = true
		}
	}

	return &CSVStorage{
		path:       outputPath,
		file:       f,
		writer:     csv.NewWriter(f),
		appendMode: appending,
		logger:     logger.With("component", "csv_storage"),
	}, nil
}

func (s *CSVStorage) Name() string { return "csv" }

func (s *CSVStorage) Store(records []*types.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		flat := rec.ToFlatMap()

		if s.headers == nil {
			s.headers = rec.Keys()
			if !s.appendMode {
				if err := s.writer.Write(s.headers); err != nil {
					return &types.StorageError{Backend: "csv", Err: fmt.Errorf("write CSV header: %w", err)}
				}
			}
		}

		row := make([]string, len(s.headers))
		for i, h := range s.headers {
			row[i] = flat[h]
		}
		if err := s.writer.Write(row); err != nil {
			return &types.StorageError{Backend: "csv", Err: fmt.Errorf("write CSV row: %w", err)}
		}
		s.count++
	}

	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return &types.StorageError{Backend: "csv", Err: err}
	}
	return nil
}

func (s *CSVStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("CSV written", "path", s.path, "records", s.count)
	if s.writer != nil {
		s.writer.Flush()
	}
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return &types.StorageError{Backend: "csv", Err: err}
	}
	return nil
}

// OutputFile resolves the feed file for a spider. A path with an
// extension is used as-is; otherwise it is a directory and the file is
// named after the spider.
func OutputFile(cfg config.StorageConfig, spiderName string) string {
	if filepath.Ext(cfg.OutputPath) != "" {
		return cfg.OutputPath
	}
	return filepath.Join(cfg.OutputPath, spiderName+"."+cfg.Type)
}

// NewFileStorage creates the appropriate record storage by type.
func NewFileStorage(cfg config.StorageConfig, spiderName string, logger *slog.Logger) (Storage, error) {
	path := OutputFile(cfg, spiderName)
	switch cfg.Type {
	case "json":
		return NewJSONStorage(path, cfg.Overwrite, logger)
	case "jsonl":
		return NewJSONLStorage(path, cfg.Overwrite, logger)
	case "csv":
		return NewCSVStorage(path, cfg.Overwrite, logger)
	default:
		return nil, fmt.Errorf("unsupported record storage type: %s", cfg.Type)
	}
}
