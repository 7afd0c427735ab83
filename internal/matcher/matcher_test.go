package matcher

import (
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		pattern     string
		patternType PatternType
		wantType    PatternType
		wantErr     bool
	}{
		{name: "valid glob", pattern: "*.log", patternType: Glob, wantType: Glob},
		{name: "valid regex", pattern: `^upload-\d+\.txt$`, patternType: Regex, wantType: Regex},
		{name: "invalid regex", pattern: "(unclosed", patternType: Regex, wantErr: true},
		{name: "auto detects glob", pattern: "reclaim-*", patternType: Auto, wantType: Glob},
		{name: "auto detects regex", pattern: `^run\d+$`, patternType: Auto, wantType: Regex},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(tt.patternType, tt.pattern)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if m.Type() != tt.wantType {
				t.Errorf("Type() = %v, want %v", m.Type(), tt.wantType)
			}
			if m.Pattern() != tt.pattern {
				t.Errorf("Pattern() = %q, want %q", m.Pattern(), tt.pattern)
			}
		})
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		opts    Options
		input   string
		want    bool
	}{
		{"glob suffix", "*.log", Options{}, "upload.log", true},
		{"glob miss", "*.log", Options{}, "upload.txt", false},
		{"glob is case sensitive by default", "*.LOG", Options{}, "upload.log", false},
		{"glob case insensitive", "*.LOG", Options{CaseInsensitive: true}, "upload.log", true},
		{"glob full path without basename", "*.log", Options{}, "logs/2024/upload.log", false},
		{"glob basename", "*.log", Options{BaseName: true}, "logs/2024/upload.log", true},
		{"regex", `^s3_upload_\d+\.json$`, Options{}, "s3_upload_502.json", true},
		{"regex case insensitive", `^readme`, Options{CaseInsensitive: true}, "README.md", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(Auto, tt.pattern, tt.opts)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if got := m.Match(tt.input); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestSet(t *testing.T) {
	s, err := NewSet([]string{"*.log", "*.txt", ""}, Options{BaseName: true})
	if err != nil {
		t.Fatalf("NewSet() error = %v", err)
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
	for input, want := range map[string]bool{
		"a/b/upload.log": true,
		"notes.txt":      true,
		"image.png":      false,
	} {
		if got := s.Match(input); got != want {
			t.Errorf("Match(%q) = %v, want %v", input, got, want)
		}
	}

	var empty *Set
	if empty.Match("anything") {
		t.Error("nil set should match nothing")
	}
}

func TestPatternTypeString(t *testing.T) {
	for pt, want := range map[PatternType]string{Glob: "glob", Regex: "regex", Auto: "auto", PatternType(9): "unknown"} {
		if got := pt.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}
