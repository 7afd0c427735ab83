package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentstation/utc"
	"github.com/goccy/go-yaml"

	"github.com/agentstation/reclaim/pkg/constants"
	"github.com/agentstation/reclaim/pkg/errors"
)

// Format is a report serialization format.
type Format int

// Format constants.
const (
	FormatJSON Format = iota
	FormatYAML
)

// String returns the format name, which is also the file extension.
func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatYAML:
		return "yaml"
	}
	return "unknown"
}

// ParseFormat parses "json", "yaml" or "yml". Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return FormatJSON, errors.NewValidationError("report_format", s, "must be json or yaml")
}

// Writer persists reports under a directory.
type Writer struct {
	dir    string
	format Format
	now    func() time.Time
}

// Option configures a Writer.
type Option func(*Writer)

// WithFormat for custom output format.
func WithFormat(f Format) Option {
	return func(w *Writer) {
		w.format = f
	}
}

// WithClock overrides the clock used in file names.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) {
		w.now = now
	}
}

// NewWriter creates a writer for dir. An empty dir means the working directory.
func NewWriter(dir string, opts ...Option) *Writer {
	if dir == "" {
		dir = constants.DefaultReportDir
	}
	w := &Writer{
		dir:    dir,
		format: FormatJSON,
		now:    func() time.Time { return utc.Now().Time },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// FileName returns the report file name for a phase, time and run id.
func FileName(phase Phase, t time.Time, runID string, f Format) string {
	return fmt.Sprintf("%s%s-%s-%s.%s", constants.ReportFilePrefix, phase,
		t.UTC().Format(constants.TimeFormatFilename), runID, f)
}

// Write renders r and stores it in a new file, returning its path. An
// existing file is never overwritten.
func (w *Writer) Write(r *Report) (string, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, r, w.format); err != nil {
		return "", err
	}
	if err := os.MkdirAll(w.dir, constants.DirPermissions); err != nil {
		return "", errors.WrapIO("create", w.dir, err)
	}

	path := filepath.Join(w.dir, FileName(r.Meta.Phase, w.now(), r.Meta.RunID, w.format))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, constants.FilePermissions)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("report %s: %w", path, errors.ErrAlreadyExists)
		}
		return "", errors.WrapIO("create", path, err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return "", errors.WrapIO("write", path, err)
	}
	if err := f.Close(); err != nil {
		return "", errors.WrapIO("close", path, err)
	}
	return path, nil
}

// Encode writes r to out in the given format.
func Encode(out io.Writer, r *Report, f Format) error {
	switch f {
	case FormatYAML:
		data, err := yaml.MarshalWithOptions(r, yaml.Indent(2), yaml.IndentSequence(false))
		if err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		_, err = out.Write(data)
		return err
	default:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
}

// Load reads a report written by Write. The format follows the extension.
func Load(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.NewNotFoundError("report", path)
		}
		return nil, errors.WrapIO("read", path, err)
	}
	var r Report
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &r)
	default:
		err = json.Unmarshal(data, &r)
	}
	if err != nil {
		return nil, errors.WrapValidation("report", fmt.Errorf("%s: %w", path, err))
	}
	return &r, nil
}
