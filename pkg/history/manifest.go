package history

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-yaml"

	"github.com/agentstation/reclaim/pkg/constants"
	"github.com/agentstation/reclaim/pkg/logging"
)

// Manifest is a verified upload record: the uploading tool wrote one file
// per owner listing exactly which objects it stored for that owner. JSON
// and YAML manifests are both accepted.
//
//	{"person_id": "502", "person_name": "Sam Torode",
//	 "files": [{"file_uuid": "...", "original_filename": "...", "s3_key": "files/<uuid>.mp4"}]}
type Manifest struct {
	OwnerID    scalar         `yaml:"owner_id"`
	OwnerName  string         `yaml:"owner_name"`
	PersonID   scalar         `yaml:"person_id"`
	PersonName string         `yaml:"person_name"`
	Files      []ManifestFile `yaml:"files"`
}

// scalar accepts ids written either as strings or as numbers.
type scalar string

func (s *scalar) UnmarshalYAML(b []byte) error {
	var v any
	if err := yaml.Unmarshal(b, &v); err != nil {
		return err
	}
	if v == nil {
		*s = ""
		return nil
	}
	*s = scalar(fmt.Sprint(v))
	return nil
}

// ManifestFile is one uploaded object in a manifest.
type ManifestFile struct {
	AssetID          string `yaml:"asset_id"`
	FileUUID         string `yaml:"file_uuid"`
	OriginalFilename string `yaml:"original_filename"`
	FileType         string `yaml:"file_type"`
	Key              string `yaml:"key"`
	S3Key            string `yaml:"s3_key"`
}

// owner returns the owner id and name whichever naming the file used.
func (m Manifest) owner() (string, string) {
	id, name := string(m.OwnerID), m.OwnerName
	if id == "" {
		id = string(m.PersonID)
	}
	if name == "" {
		name = m.PersonName
	}
	return id, name
}

func (f ManifestFile) assetID() string {
	switch {
	case f.AssetID != "":
		return f.AssetID
	case f.FileUUID != "":
		return f.FileUUID
	}
	key := f.key()
	if key == "" {
		return ""
	}
	base := path.Base(key)
	return strings.TrimSuffix(base, path.Ext(base))
}

func (f ManifestFile) key() string {
	if f.Key != "" {
		return f.Key
	}
	return f.S3Key
}

// ManifestDir searches every *.json, *.yaml and *.yml manifest under a
// directory. Manifests are cross-checked records, so hits are verified.
type ManifestDir struct {
	root string

	once    sync.Once
	loadErr error
	index   map[string][]Hit
}

// NewManifestDir creates a source over manifests under root.
func NewManifestDir(root string) *ManifestDir {
	return &ManifestDir{root: root}
}

// Name implements Source.
func (m *ManifestDir) Name() string { return "manifests:" + m.root }

func (m *ManifestDir) load(ctx context.Context) error {
	m.once.Do(func() {
		m.index = make(map[string][]Hit)
		log := logging.FromContext(ctx)
		files := 0
		m.loadErr = filepath.WalkDir(m.root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			switch strings.ToLower(filepath.Ext(p)) {
			case ".json", ".yaml", ".yml":
			default:
				return nil
			}
			if strings.HasPrefix(d.Name(), constants.ReportFilePrefix) {
				return nil
			}
			data, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			var man Manifest
			if err := yaml.Unmarshal(data, &man); err != nil {
				log.Warn().Err(err).Str("file", p).Msg("Skipping unreadable manifest")
				return nil
			}
			ownerID, ownerName := man.owner()
			if ownerID == "" && ownerName == "" {
				return nil
			}
			rel, _ := filepath.Rel(m.root, p)
			files++
			for _, f := range man.Files {
				id := f.assetID()
				if id == "" {
					continue
				}
				m.index[id] = append(m.index[id], Hit{
					SourceRef: "manifest:" + filepath.ToSlash(rel),
					Tier:      Verified,
					MatchedText: fmt.Sprintf("owner_id=%s owner_name=%q asset_id=%s key=%s original_filename=%q",
						ownerID, ownerName, id, f.key(), f.OriginalFilename),
					OwnerID:   ownerID,
					OwnerName: ownerName,
				})
			}
			return nil
		})
		if m.loadErr == nil {
			log.Debug().Str("dir", m.root).Int("manifests", files).Int("assets", len(m.index)).Msg("Indexed upload manifests")
		}
	})
	return m.loadErr
}

// Search implements Source. The pattern is matched against asset ids
// exactly, then as a substring of recorded keys.
func (m *ManifestDir) Search(ctx context.Context, pattern string) ([]Hit, error) {
	if err := m.load(ctx); err != nil {
		return nil, err
	}
	if hits, ok := m.index[pattern]; ok {
		return append([]Hit(nil), hits...), nil
	}
	ids := make([]string, 0, len(m.index))
	for id := range m.index {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []Hit
	for _, id := range ids {
		for _, h := range m.index[id] {
			if strings.Contains(h.MatchedText, pattern) {
				out = append(out, h)
			}
		}
	}
	return out, nil
}
