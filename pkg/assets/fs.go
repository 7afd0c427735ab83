package assets

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agentstation/reclaim/pkg/constants"
	"github.com/agentstation/reclaim/pkg/errors"
)

// FileStore is a Store backed by a directory tree. Object keys are slash
// separated paths relative to the root; the ETag is the hex MD5 of the
// content, which is what S3 reports for single-part uploads. User metadata
// lives in a hidden JSON sidecar next to the object, ".<name>.meta.json",
// and travels with it on copy and delete.
type FileStore struct {
	root string
}

// NewFileStore opens a directory-backed store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.WrapIO("resolve", dir, err)
	}
	return &FileStore{root: abs}, nil
}

// Root returns the store's root directory.
func (s *FileStore) Root() string { return s.root }

// Ping checks that the root directory exists.
func (s *FileStore) Ping(_ context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return errors.WrapIO("stat", s.root, err)
	}
	if !info.IsDir() {
		return errors.NewValidationError("root", s.root, "not a directory")
	}
	return nil
}

func (s *FileStore) path(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" {
		return "", errors.NewValidationError("key", key, "invalid object key")
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return "", errors.NewValidationError("key", key, "object key escapes store root")
		}
	}
	return filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

const metaSuffix = ".meta.json"

func metaPath(p string) string {
	return filepath.Join(filepath.Dir(p), "."+filepath.Base(p)+metaSuffix)
}

// SetMetadata writes the user metadata of an existing object. Nil removes it.
func (s *FileStore) SetMetadata(key string, meta map[string]string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return errors.NewNotFoundError("object", key)
		}
		return errors.WrapIO("stat", key, err)
	}
	if meta == nil {
		if err := os.Remove(metaPath(p)); err != nil && !os.IsNotExist(err) {
			return errors.WrapIO("delete", key+metaSuffix, err)
		}
		return nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return errors.WrapIO("encode", key+metaSuffix, err)
	}
	if err := os.WriteFile(metaPath(p), data, constants.FilePermissions); err != nil {
		return errors.WrapIO("write", key+metaSuffix, err)
	}
	return nil
}

func readMetadata(p string) (map[string]string, error) {
	data, err := os.ReadFile(metaPath(p))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var meta map[string]string
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// List returns every object whose key starts with prefix, sorted by key.
func (s *FileStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) || strings.HasPrefix(path.Base(key), ".") {
			return nil
		}
		info, err := s.Head(ctx, key)
		if err != nil {
			return err
		}
		out = append(out, info)
		return nil
	})
	if err != nil {
		return nil, errors.WrapIO("list", prefix, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// GetRange reads up to length bytes starting at offset.
func (s *FileStore) GetRange(_ context.Context, key string, offset, length int64) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("object", key)
		}
		return nil, errors.WrapIO("open", key, err)
	}
	defer f.Close()

	buf := make([]byte, length)
	n, err := f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, errors.WrapIO("read", key, err)
	}
	return buf[:n], nil
}

// Copy writes src to dst through a temporary file so a crash never leaves
// a partially written destination under its final name.
func (s *FileStore) Copy(ctx context.Context, src, dst string) error {
	sp, err := s.path(src)
	if err != nil {
		return err
	}
	dp, err := s.path(dst)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	in, err := os.Open(sp)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.NewNotFoundError("object", src)
		}
		return errors.WrapIO("open", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dp), constants.DirPermissions); err != nil {
		return errors.WrapIO("create", filepath.Dir(dp), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dp), ".reclaim-copy-*")
	if err != nil {
		return errors.WrapIO("create", dst, err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return errors.WrapIO("write", dst, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return errors.WrapIO("close", dst, err)
	}
	if err := os.Rename(tmpPath, dp); err != nil {
		_ = os.Remove(tmpPath)
		return errors.WrapIO("rename", dst, err)
	}

	meta, err := os.ReadFile(metaPath(sp))
	switch {
	case os.IsNotExist(err):
		if err := os.Remove(metaPath(dp)); err != nil && !os.IsNotExist(err) {
			return errors.WrapIO("delete", dst+metaSuffix, err)
		}
	case err != nil:
		return errors.WrapIO("read", src+metaSuffix, err)
	default:
		if err := os.WriteFile(metaPath(dp), meta, constants.FilePermissions); err != nil {
			return errors.WrapIO("write", dst+metaSuffix, err)
		}
	}
	return nil
}

// Delete removes an object and prunes empty parent directories.
func (s *FileStore) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return errors.NewNotFoundError("object", key)
		}
		return errors.WrapIO("delete", key, err)
	}
	if err := os.Remove(metaPath(p)); err != nil && !os.IsNotExist(err) {
		return errors.WrapIO("delete", key+metaSuffix, err)
	}
	for dir := filepath.Dir(p); dir != s.root && strings.HasPrefix(dir, s.root); dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break
		}
	}
	return nil
}

// Head returns size, MD5 etag and modification time of an object.
func (s *FileStore) Head(_ context.Context, key string) (ObjectInfo, error) {
	p, err := s.path(key)
	if err != nil {
		return ObjectInfo{}, err
	}
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return ObjectInfo{}, errors.NewNotFoundError("object", key)
		}
		return ObjectInfo{}, errors.WrapIO("open", key, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return ObjectInfo{}, errors.WrapIO("stat", key, err)
	}
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return ObjectInfo{}, errors.WrapIO("read", key, err)
	}
	meta, err := readMetadata(p)
	if err != nil {
		return ObjectInfo{}, errors.WrapIO("read", key+metaSuffix, err)
	}
	return ObjectInfo{
		Key:        key,
		Size:       stat.Size(),
		ETag:       hex.EncodeToString(h.Sum(nil)),
		ModifiedAt: stat.ModTime().UTC(),
		Metadata:   meta,
	}, nil
}
