package history

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/agentstation/reclaim/internal/matcher"
	"github.com/agentstation/reclaim/pkg/constants"
	"github.com/agentstation/reclaim/pkg/logging"
)

// DefaultLogPatterns selects which files under a log directory are read.
var DefaultLogPatterns = []string{"*.log", "*.txt", "*.out"}

// LogDir searches plain-text log files under a directory. Each hit is one
// line together with the line before it, since upload tools commonly log
// the owner on one line and the object key on the next.
type LogDir struct {
	root    string
	include *matcher.Set
	exclude *matcher.Set
	maxSize int64

	once    sync.Once
	loadErr error
	lines   []logLine
}

type logLine struct {
	ref  string
	prev string
	text string
}

// LogDirOption configures a LogDir.
type LogDirOption func(*LogDir) error

// WithInclude replaces the file name patterns that are read.
func WithInclude(patterns ...string) LogDirOption {
	return func(l *LogDir) error {
		s, err := matcher.NewSet(patterns, matcher.Options{BaseName: true, CaseInsensitive: true})
		if err != nil {
			return err
		}
		l.include = s
		return nil
	}
}

// WithExclude adds file name patterns that are skipped.
func WithExclude(patterns ...string) LogDirOption {
	return func(l *LogDir) error {
		s, err := matcher.NewSet(patterns, matcher.Options{BaseName: true})
		if err != nil {
			return err
		}
		l.exclude = s
		return nil
	}
}

// WithMaxFileSize skips files larger than n bytes.
func WithMaxFileSize(n int64) LogDirOption {
	return func(l *LogDir) error {
		l.maxSize = n
		return nil
	}
}

// NewLogDir creates a source over text logs under root. The engine's own
// report files are always excluded.
func NewLogDir(root string, opts ...LogDirOption) (*LogDir, error) {
	l := &LogDir{root: root, maxSize: constants.MaxHistoryFileSize}
	defaults := []LogDirOption{
		WithInclude(DefaultLogPatterns...),
		WithExclude(constants.ReportFilePrefix + "*"),
	}
	for _, opt := range append(defaults, opts...) {
		if err := opt(l); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Name implements Source.
func (l *LogDir) Name() string { return "logs:" + l.root }

func (l *LogDir) load(ctx context.Context) error {
	l.once.Do(func() {
		log := logging.FromContext(ctx)
		l.loadErr = filepath.WalkDir(l.root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			name := d.Name()
			if !l.include.Match(name) || l.exclude.Match(name) || strings.HasPrefix(name, constants.ReportFilePrefix) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			if l.maxSize > 0 && info.Size() > l.maxSize {
				log.Warn().Str("file", p).Int64("size", info.Size()).Msg("Skipping oversized log file")
				return nil
			}
			return l.readFile(p)
		})
		if l.loadErr == nil {
			log.Debug().Str("dir", l.root).Int("lines", len(l.lines)).Msg("Indexed log directory")
		}
	})
	return l.loadErr
}

func (l *LogDir) readFile(p string) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()

	rel, err := filepath.Rel(l.root, p)
	if err != nil {
		rel = p
	}
	rel = filepath.ToSlash(rel)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var prev string
	n := 0
	for scanner.Scan() {
		n++
		text := scanner.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		l.lines = append(l.lines, logLine{ref: fmt.Sprintf("log:%s:%d", rel, n), prev: prev, text: text})
		prev = text
	}
	return scanner.Err()
}

// Search implements Source.
func (l *LogDir) Search(ctx context.Context, pattern string) ([]Hit, error) {
	if err := l.load(ctx); err != nil {
		return nil, err
	}
	var out []Hit
	for _, line := range l.lines {
		if !strings.Contains(line.text, pattern) {
			continue
		}
		text := line.text
		if line.prev != "" {
			text = line.prev + "\n" + line.text
		}
		out = append(out, Hit{
			SourceRef:   line.ref,
			Tier:        Unverified,
			MatchedText: truncate(text, 2048),
		})
		if len(out) >= constants.MaxHistoryHits {
			break
		}
	}
	return out, nil
}
