package collectors

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/goccy/go-yaml"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/agentstation/reclaim/pkg/assets"
)

// normalize folds case and strips diacritics so "José Núñez" compares
// equal to "jose nunez".
func normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC, cases.Fold())
	out, _, err := transform.String(t, s)
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}

// printable keeps the readable runs of a possibly binary sample.
func printable(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	space := false
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		b = b[size:]
		if r == utf8.RuneError || !(unicode.IsPrint(r) || r == '\n' || r == '\t') {
			if !space {
				sb.WriteByte(' ')
				space = true
			}
			continue
		}
		sb.WriteRune(r)
		space = r == ' '
	}
	return sb.String()
}

// searchText is an asset's key and readable sample, for substring tests.
func searchText(a assets.Asset) string {
	if len(a.Sample) == 0 {
		return a.Key
	}
	return a.Key + "\n" + printable(a.Sample)
}

var (
	nonWord   = regexp.MustCompile(`[^\p{L}\p{N}]+`)
	identRun  = regexp.MustCompile(`[A-Za-z0-9][A-Za-z0-9_-]{2,}`)
	identPart = regexp.MustCompile(`[A-Za-z0-9]{3,}`)
)

// nameTokens splits a display name into normalized tokens of at least
// three characters.
func nameTokens(name string) []string {
	var out []string
	for _, tok := range nonWord.Split(normalize(name), -1) {
		if utf8.RuneCountInString(tok) >= 3 {
			out = append(out, tok)
		}
	}
	return out
}

// tokensFound counts how many tokens occur in the normalized text.
func tokensFound(text string, tokens []string) (found []string) {
	for _, tok := range tokens {
		if strings.Contains(text, tok) {
			found = append(found, tok)
		}
	}
	return found
}

// identifiers returns the candidate identifier tokens of a text: runs of
// letters, digits, '-' and '_', plus their alphanumeric parts.
func identifiers(text string) map[string]bool {
	out := make(map[string]bool)
	for _, run := range identRun.FindAllString(text, -1) {
		out[run] = true
		for _, part := range identPart.FindAllString(run, -1) {
			out[part] = true
		}
	}
	return out
}

// fields are the scalar values of a structured sample, keyed by the
// lower-cased key they appeared under. Nested objects are flattened.
type fields map[string][]string

func (f fields) get(keys ...string) []string {
	var out []string
	for _, k := range keys {
		out = append(out, f[strings.ToLower(k)]...)
	}
	return out
}

// structured reports whether an asset is worth parsing as JSON or YAML.
func structured(a assets.Asset) bool {
	switch a.Kind {
	case "json", "yaml", "yml":
		return true
	}
	trimmed := strings.TrimLeftFunc(string(a.Sample[:min(len(a.Sample), 64)]), unicode.IsSpace)
	return strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
}

// extractFields returns the object's user metadata together with the
// fields of a structured sample. Metadata keys are lower-cased with '-'
// read as '_', so x-amz-meta-person-id answers to person_id. A sample
// truncated mid-document does not parse; the scanner then falls back to
// key/value patterns for the requested keys.
func extractFields(a assets.Asset, keys []string) fields {
	out := make(fields)
	for k, v := range a.Metadata {
		if v = strings.TrimSpace(v); v != "" {
			k = strings.ReplaceAll(strings.ToLower(k), "-", "_")
			out[k] = append(out[k], v)
		}
	}
	if len(a.Sample) == 0 || !structured(a) {
		return out
	}
	parsed := make(fields)
	var doc any
	if err := yaml.Unmarshal(a.Sample, &doc); err == nil {
		flatten(parsed, "", doc)
	}
	if len(parsed) == 0 {
		scanFields(parsed, string(a.Sample), keys)
	}
	for k, v := range parsed {
		out[k] = append(out[k], v...)
	}
	return out
}

func flatten(out fields, key string, v any) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			flatten(out, strings.ToLower(k), child)
		}
	case map[any]any:
		for k, child := range t {
			flatten(out, strings.ToLower(fmt.Sprint(k)), child)
		}
	case []any:
		for _, child := range t {
			flatten(out, key, child)
		}
	case nil:
	default:
		if key == "" {
			return
		}
		s := strings.TrimSpace(fmt.Sprint(t))
		if s != "" {
			out[key] = append(out[key], s)
		}
	}
}

func scanFields(out fields, text string, keys []string) {
	if len(keys) == 0 {
		return
	}
	quoted := make([]string, len(keys))
	for i, k := range keys {
		quoted[i] = regexp.QuoteMeta(strings.ToLower(k))
	}
	sort.Strings(quoted)
	re := regexp.MustCompile(`(?i)["']?\b(` + strings.Join(quoted, "|") + `)\b["']?\s*[:=]\s*(?:"([^"\n]*)"|'([^'\n]*)'|([^\s,}\]]+))`)
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		key := strings.ToLower(m[1])
		val := m[2] + m[3] + m[4]
		if val = strings.TrimSpace(val); val != "" {
			out[key] = append(out[key], val)
		}
	}
}
