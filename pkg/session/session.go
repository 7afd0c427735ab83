// Package session holds the state of one reconciliation run: its id, the
// start time, the dry-run flag and the data-quality notes gathered while
// the run progresses. A Session is passed explicitly to the components
// that record into it; there is no process-wide tracker.
package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agentstation/utc"
	"github.com/google/uuid"

	"github.com/agentstation/reclaim/pkg/errors"
)

// NoteKind classifies a data-quality note.
type NoteKind string

// Note kinds.
const (
	NoteCollectorFailure NoteKind = "collector_failure"
	NoteCollectorTimeout NoteKind = "collector_timeout"
	NoteSampleFailure    NoteKind = "sample_failure"
	NoteHistoryFailure   NoteKind = "history_failure"
	NoteInvalidEvidence  NoteKind = "invalid_evidence"
	NoteNoEvidence       NoteKind = "no_evidence"
	NoteExecution        NoteKind = "execution"
)

// Note is one observation worth surfacing in the report.
type Note struct {
	Time      time.Time `json:"time" yaml:"time"`
	Kind      NoteKind  `json:"kind" yaml:"kind"`
	Collector string    `json:"collector,omitempty" yaml:"collector,omitempty"`
	AssetID   string    `json:"asset_id,omitempty" yaml:"asset_id,omitempty"`
	Message   string    `json:"message" yaml:"message"`
}

// Session is the run context. It is safe for concurrent use.
type Session struct {
	ID        string
	StartedAt time.Time
	DryRun    bool

	mu       sync.Mutex
	notes    []Note
	counters map[string]int
}

// Option configures a Session.
type Option func(*Session)

// WithID sets the run id instead of generating one.
func WithID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.ID = id
		}
	}
}

// WithDryRun marks the run as a dry run.
func WithDryRun(dryRun bool) Option {
	return func(s *Session) {
		s.DryRun = dryRun
	}
}

// WithStartTime overrides the start time.
func WithStartTime(t time.Time) Option {
	return func(s *Session) {
		s.StartedAt = t.UTC()
	}
}

// New starts a session with a fresh run id.
func New(opts ...Option) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		StartedAt: utc.Now().Time,
		counters:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Note records a data-quality note.
func (s *Session) Note(n Note) {
	if n.Time.IsZero() {
		n.Time = utc.Now().Time
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append(s.notes, n)
	s.counters["notes."+string(n.Kind)]++
}

// Notef records a note with a formatted message.
func (s *Session) Notef(kind NoteKind, assetID, format string, args ...any) {
	s.Note(Note{Kind: kind, AssetID: assetID, Message: fmt.Sprintf(format, args...)})
}

// RecordCollectorError records a collector failure, classifying timeouts
// separately from analysis errors.
func (s *Session) RecordCollectorError(collector string, err error) {
	if err == nil {
		return
	}
	kind := NoteCollectorFailure
	if errors.IsTimeout(err) {
		kind = NoteCollectorTimeout
	}
	n := Note{Kind: kind, Collector: collector, Message: err.Error()}
	var ce *errors.CollectorError
	if errors.As(err, &ce) {
		n.AssetID = ce.AssetID
	}
	s.Note(n)
}

// Notes returns the notes recorded so far ordered by time, then kind and asset.
func (s *Session) Notes() []Note {
	s.mu.Lock()
	out := append([]Note(nil), s.notes...)
	s.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Time.Equal(out[j].Time) {
			return out[i].Time.Before(out[j].Time)
		}
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].AssetID < out[j].AssetID
	})
	return out
}

// Add increments a named counter.
func (s *Session) Add(counter string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[counter] += n
}

// Counters returns a copy of the counters.
func (s *Session) Counters() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.counters))
	for k, v := range s.counters {
		out[k] = v
	}
	return out
}

// Elapsed returns the time since the session started.
func (s *Session) Elapsed() time.Duration {
	return utc.Now().Time.Sub(s.StartedAt)
}
