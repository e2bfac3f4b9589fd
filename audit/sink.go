package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Sink persists finished logs.
type Sink interface {
	Write(ctx context.Context, log *Log) error
}

// MultiSink writes to every sink and joins their errors.
type MultiSink []Sink

// Write implements Sink.
func (m MultiSink) Write(ctx context.Context, log *Log) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, log); err != nil {
			errs = append(errs, err)
		}
	}
	return joinErrors(errs)
}

// FileSink writes the JSON document of a log to a file.
type FileSink struct {
	// Path is a file path. When it names an existing directory, or ends in a
	// separator, the file is named <runId>.json inside it.
	Path   string
	Indent bool
	logger *zap.Logger
}

// NewFileSink creates a FileSink writing indented JSON.
func NewFileSink(path string, logger *zap.Logger) *FileSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSink{Path: path, Indent: true, logger: logger.With(zap.String("component", "audit_file_sink"))}
}

// Write implements Sink.
func (s *FileSink) Write(ctx context.Context, log *Log) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := s.encode(log)
	if err != nil {
		return fmt.Errorf("encode audit log: %w", err)
	}

	path := s.target(log)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create audit dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	if s.logger != nil {
		s.logger.Info("audit log written", zap.String("path", path), zap.String("run_id", log.RunID))
	}
	return nil
}

func (s *FileSink) encode(log *Log) ([]byte, error) {
	if s.Indent {
		return json.MarshalIndent(log.Document(), "", "  ")
	}
	return json.Marshal(log.Document())
}

func (s *FileSink) target(log *Log) string {
	if s.Path == "" {
		return log.RunID + ".json"
	}
	if os.IsPathSeparator(s.Path[len(s.Path)-1]) {
		return filepath.Join(s.Path, log.RunID+".json")
	}
	if fi, err := os.Stat(s.Path); err == nil && fi.IsDir() {
		return filepath.Join(s.Path, log.RunID+".json")
	}
	return s.Path
}

// LoadDocument reads a document written by FileSink.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode audit log: %w", err)
	}
	return &doc, nil
}
