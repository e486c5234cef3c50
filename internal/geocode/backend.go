package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// ErrCorruptCache is returned by Load when persisted data cannot be decoded.
// The cache starts empty in that case.
var ErrCorruptCache = errors.New("geocode: persisted cache is corrupt")

// Backend persists cache entries across runs.
//
// Save merges the given entries into what is already persisted; it never
// removes entries it was not given.
type Backend interface {
	Load(ctx context.Context) (map[string]Entry, error)
	Save(ctx context.Context, entries map[string]Entry) error
}

// FileBackend stores the cache as a JSON object mapping address to
// [lat, lon] or null.
type FileBackend struct {
	path string
	mu   sync.Mutex
}

// NewFileBackend creates a backend writing to path. The file is created
// on the first Save.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Path returns the backing file path
func (b *FileBackend) Path() string {
	return b.path
}

// Load reads the persisted mapping. A missing file is an empty cache.
func (b *FileBackend) Load(_ context.Context) (map[string]Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.read()
}

// Save reads the current file, merges entries over it and replaces the
// file atomically. A corrupt file is moved aside to <path>.corrupt
// instead of being overwritten in place.
func (b *FileBackend) Save(_ context.Context, entries map[string]Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	current, err := b.read()
	if err != nil {
		if !errors.Is(err, ErrCorruptCache) {
			return err
		}
		if renameErr := os.Rename(b.path, b.path+".corrupt"); renameErr != nil {
			return eris.Wrap(renameErr, "geocode: move corrupt cache aside")
		}
		current = make(map[string]Entry)
	}

	for addr, e := range entries {
		current[addr] = e
	}

	return b.write(current)
}

func (b *FileBackend) read() (map[string]Entry, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(map[string]Entry), nil
		}
		return nil, eris.Wrapf(err, "geocode: read cache file %s", b.path)
	}

	entries := make(map[string]Entry)
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return make(map[string]Entry), eris.Wrapf(ErrCorruptCache, "%s: %v", b.path, err)
	}
	return entries, nil
}

func (b *FileBackend) write(entries map[string]Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return eris.Wrap(err, "geocode: encode cache")
	}

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "geocode: create cache dir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return eris.Wrap(err, "geocode: create temp cache file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()        //nolint:errcheck
		os.Remove(tmpName) //nolint:errcheck
		return eris.Wrap(err, "geocode: write temp cache file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()        //nolint:errcheck
		os.Remove(tmpName) //nolint:errcheck
		return eris.Wrap(err, "geocode: sync temp cache file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return eris.Wrap(err, "geocode: close temp cache file")
	}

	if err := os.Rename(tmpName, b.path); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return eris.Wrap(err, "geocode: replace cache file")
	}
	return nil
}

// DefaultRedisKey is the hash holding cached geocodes.
const DefaultRedisKey = "geocode:cache"

// RedisBackend stores entries as fields of a Redis hash, so several
// server instances share one cache. HSET only touches the given fields.
type RedisBackend struct {
	client *redis.Client
	key    string
}

// NewRedisBackend creates a backend on the given hash key.
func NewRedisBackend(client *redis.Client, key string) *RedisBackend {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisBackend{client: client, key: key}
}

// Load reads every field of the hash. Undecodable fields are skipped and
// reported through ErrCorruptCache alongside the entries that did decode.
func (b *RedisBackend) Load(ctx context.Context) (map[string]Entry, error) {
	raw, err := b.client.HGetAll(ctx, b.key).Result()
	if err != nil {
		return nil, eris.Wrap(err, "geocode: redis load cache")
	}

	entries := make(map[string]Entry, len(raw))
	bad := 0
	for addr, val := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(val), &e); err != nil {
			bad++
			continue
		}
		entries[addr] = e
	}

	if bad > 0 {
		return entries, eris.Wrapf(ErrCorruptCache, "redis hash %s: %d undecodable fields", b.key, bad)
	}
	return entries, nil
}

// Save writes the entries as hash fields.
func (b *RedisBackend) Save(ctx context.Context, entries map[string]Entry) error {
	if len(entries) == 0 {
		return nil
	}

	values := make(map[string]interface{}, len(entries))
	for addr, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return eris.Wrap(err, "geocode: encode cache entry")
		}
		values[addr] = string(data)
	}

	if err := b.client.HSet(ctx, b.key, values).Err(); err != nil {
		return eris.Wrap(err, "geocode: redis save cache")
	}
	return nil
}
