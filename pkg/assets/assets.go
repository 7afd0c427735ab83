// Package assets defines the asset store collaborator: the object store
// holding the orphan pool and the owners' namespaces. It provides the
// Store interface, a directory-backed and an in-memory implementation,
// a retrying wrapper for transient failures and a cached range-read
// sampler used for content inspection.
package assets

import (
	"context"
	"mime"
	"path"
	"strings"
	"time"
)

// Asset is an object discovered unclaimed in the orphan pool.
type Asset struct {
	ID          string    `json:"id" yaml:"id"`
	Key         string    `json:"key" yaml:"key"`
	Size        int64     `json:"size_bytes" yaml:"size_bytes"`
	Kind        string    `json:"kind" yaml:"kind"`
	ContentType string    `json:"content_type,omitempty" yaml:"content_type,omitempty"`
	ModifiedAt  time.Time `json:"modified_at" yaml:"modified_at"`
	ETag        string    `json:"etag,omitempty" yaml:"etag,omitempty"`
	// Metadata is the object's user metadata, such as S3 x-amz-meta-* headers.
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Sample   []byte            `json:"-" yaml:"-"`
}

// ObjectInfo is what a store reports about one object.
type ObjectInfo struct {
	Key        string    `json:"key" yaml:"key"`
	Size       int64     `json:"size" yaml:"size"`
	ETag       string    `json:"etag,omitempty" yaml:"etag,omitempty"`
	ModifiedAt time.Time `json:"modified_at" yaml:"modified_at"`

	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Store is the asset store collaborator.
//
// Head and Delete return an error matching errors.ErrNotFound when the key
// does not exist. GetRange returns fewer than length bytes at end of object.
type Store interface {
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error)
	Copy(ctx context.Context, src, dst string) error
	Delete(ctx context.Context, key string) error
	Head(ctx context.Context, key string) (ObjectInfo, error)
}

// Pinger is implemented by stores that can check connectivity cheaply.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks that the store is reachable. Stores without a Pinger are
// checked with an empty listing of the orphan prefix.
func Ping(ctx context.Context, s Store, prefix string) error {
	if p, ok := s.(Pinger); ok {
		return p.Ping(ctx)
	}
	_, err := s.List(ctx, prefix)
	return err
}

// SplitKey returns the asset id and extension of a key like "files/<id>.<ext>".
func SplitKey(key string) (id, ext string) {
	base := path.Base(key)
	ext = path.Ext(base)
	id = strings.TrimSuffix(base, ext)
	return id, strings.ToLower(ext)
}

// ContentTypeOf guesses a mime type from an extension.
func ContentTypeOf(ext string) string {
	if ext == "" {
		return ""
	}
	return mime.TypeByExtension(ext)
}
