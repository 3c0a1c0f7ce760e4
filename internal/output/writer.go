// Package output validates the aggregated document and persists it as JSON.
package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/giftlists/internal/giftlist"
)

const filePerm = 0o644

// ErrNotFound is returned by Read when no document has been written yet.
var ErrNotFound = errors.New("output file not found")

// Writer persists documents to a single JSON file.
type Writer struct {
	path   string
	logger *zap.Logger
}

// NewWriter creates a Writer targeting path.
func NewWriter(path string, logger *zap.Logger) (*Writer, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("output path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{path: path, logger: logger.Named("output")}, nil
}

// Path returns the target file.
func (w *Writer) Path() string {
	return w.path
}

// Encode renders doc as 4-space indented UTF-8 JSON without HTML escaping.
func Encode(doc giftlist.Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return buf.Bytes(), nil
}

// Persist validates doc and overwrites the output file with it. Nothing is
// written when validation fails.
func (w *Writer) Persist(ctx context.Context, doc giftlist.Document) error {
	if err := Validate(doc); err != nil {
		return err
	}
	data, err := Encode(doc)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("persist canceled: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0o750); err != nil {
		return fmt.Errorf("failed to create parent directories: %w", err)
	}
	// #nosec G306 -- the document is public and served over HTTP.
	if err := os.WriteFile(w.path, data, filePerm); err != nil {
		return fmt.Errorf("write output file: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(w.path, filePerm); err != nil {
		return fmt.Errorf("chmod output file: %w", err)
	}
	w.logger.Info("document written",
		zap.String("path", w.path),
		zap.Int("lists", doc.NumberOfLists),
		zap.Int("bytes", len(data)),
	)
	return nil
}

// Read returns the current file contents.
func (w *Writer) Read(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(w.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, w.path)
	}
	if err != nil {
		return nil, fmt.Errorf("read output file: %w", err)
	}
	return data, nil
}
