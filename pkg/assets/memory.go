package assets

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentstation/reclaim/pkg/errors"
)

// Store operation names, used for fault injection and call counting.
const (
	OpList   = "list"
	OpGet    = "get"
	OpCopy   = "copy"
	OpDelete = "delete"
	OpHead   = "head"
)

type memObject struct {
	data    []byte
	etag    string
	modTime time.Time
	meta    map[string]string
}

type fault struct {
	op    string
	key   string
	count int
	err   error
}

// MemoryStore is an in-memory Store. It supports injected failures and
// call counting so tests can exercise retry, integrity and resume paths.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memObject
	faults  []*fault
	calls   map[string]int
	// CorruptCopies truncates the destination of every copy by one byte.
	CorruptCopies bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]memObject),
		calls:   make(map[string]int),
	}
}

// Put stores an object.
func (s *MemoryStore) Put(key string, data []byte, modTime time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = memObject{data: data, etag: etagOf(data), modTime: modTime.UTC()}
}

// PutSized stores an object of the given size filled with a repeated header.
func (s *MemoryStore) PutSized(key string, header []byte, size int64, modTime time.Time) {
	data := make([]byte, size)
	copy(data, header)
	s.Put(key, data, modTime)
}

// SetMetadata replaces the user metadata of an existing object.
func (s *MemoryStore) SetMetadata(key string, meta map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.objects[key]; ok {
		o.meta = maps.Clone(meta)
		s.objects[key] = o
	}
}

// Exists reports whether key is present.
func (s *MemoryStore) Exists(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok
}

// Keys returns all keys, sorted.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FailNext makes the next count calls of op on key return err. An empty
// key matches every key.
func (s *MemoryStore) FailNext(op, key string, count int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, &fault{op: op, key: key, count: count, err: err})
}

// Calls returns how many times op was invoked.
func (s *MemoryStore) Calls(op string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[op]
}

// Fingerprint hashes every key and etag so tests can prove a run left the
// store untouched.
func (s *MemoryStore) Fingerprint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := sha256.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%s\n", k, s.objects[k].etag)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// enter records a call and returns an injected fault, if any. Caller holds mu.
func (s *MemoryStore) enter(op, key string) error {
	s.calls[op]++
	for _, f := range s.faults {
		if f.count > 0 && f.op == op && (f.key == "" || f.key == key) {
			f.count--
			return f.err
		}
	}
	return nil
}

// List returns objects under prefix, sorted by key.
func (s *MemoryStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpList, prefix); err != nil {
		return nil, err
	}
	var out []ObjectInfo
	for k, o := range s.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, o.info(k))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// GetRange returns a slice of an object's content.
func (s *MemoryStore) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpGet, key); err != nil {
		return nil, err
	}
	o, ok := s.objects[key]
	if !ok {
		return nil, errors.NewNotFoundError("object", key)
	}
	size := int64(len(o.data))
	if offset >= size {
		return []byte{}, nil
	}
	end := min(offset+length, size)
	out := make([]byte, end-offset)
	copy(out, o.data[offset:end])
	return out, nil
}

// Copy duplicates src to dst.
func (s *MemoryStore) Copy(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpCopy, src); err != nil {
		return err
	}
	o, ok := s.objects[src]
	if !ok {
		return errors.NewNotFoundError("object", src)
	}
	data := append([]byte(nil), o.data...)
	if s.CorruptCopies && len(data) > 0 {
		data = data[:len(data)-1]
	}
	s.objects[dst] = memObject{data: data, etag: etagOf(data), modTime: o.modTime, meta: maps.Clone(o.meta)}
	return nil
}

// Delete removes an object.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpDelete, key); err != nil {
		return err
	}
	if _, ok := s.objects[key]; !ok {
		return errors.NewNotFoundError("object", key)
	}
	delete(s.objects, key)
	return nil
}

// Head returns an object's metadata.
func (s *MemoryStore) Head(ctx context.Context, key string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpHead, key); err != nil {
		return ObjectInfo{}, err
	}
	o, ok := s.objects[key]
	if !ok {
		return ObjectInfo{}, errors.NewNotFoundError("object", key)
	}
	return o.info(key), nil
}

func (o memObject) info(key string) ObjectInfo {
	return ObjectInfo{Key: key, Size: int64(len(o.data)), ETag: o.etag, ModifiedAt: o.modTime, Metadata: maps.Clone(o.meta)}
}

func etagOf(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
