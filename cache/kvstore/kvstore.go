// Package kvstore implements a persistent local key-value cache on top of pogreb.
package kvstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/akrylysov/pogreb"
	"github.com/fxamacker/cbor/v2"

	"github.com/ledgerindex/gateway/log"
	"github.com/ledgerindex/gateway/metrics"
)

// How long OpenKVStore waits for pogreb before continuing without the cache.
var openTimeout = 30 * time.Second

// CacheKey is a key in the KVStore.
type CacheKey []byte

// GenerateCacheKey builds a deterministic key from a namespace and its parameters.
func GenerateCacheKey(namespace string, params ...interface{}) CacheKey {
	raw, err := cborEncMode.Marshal([]interface{}{namespace, params})
	if err != nil {
		// Params are plain values built by this module; failure is a programming error.
		panic(fmt.Sprintf("kvstore: unencodable cache key params: %v", err))
	}
	return CacheKey(raw)
}

// Pretty returns a human-readable rendition of the key. Debugging only.
func (k CacheKey) Pretty() string {
	var parsed interface{}
	pretty := fmt.Sprintf("%x", []byte(k))
	if err := cbor.Unmarshal(k, &parsed); err == nil {
		pretty = fmt.Sprintf("%+v", parsed)
	}
	if len(pretty) > 100 {
		pretty = pretty[:95] + "[...]"
	}
	return pretty
}

// Canonical encoding keeps cache keys stable across runs.
var cborEncMode = func() cbor.EncMode {
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return mode
}()

// KVStore is a byte-level key-value store. Typed access goes through the
// generic helpers below.
type KVStore interface {
	Has(key []byte) (bool, error)
	Get(key []byte) ([]byte, error)
	Put(key []byte, value []byte) error
	Close() error
}

type pogrebKVStore struct {
	db *pogreb.DB

	name    string
	path    string
	logger  *log.Logger
	metrics *metrics.ExtensionMetrics // if nil, no metrics are emitted

	// Set once the background open finished.
	initialized atomic.Bool
}

var _ KVStore = (*pogrebKVStore)(nil)

func (s *pogrebKVStore) Get(key []byte) ([]byte, error) {
	if !s.initialized.Load() {
		return nil, fmt.Errorf("kvstore %s: not initialized yet", s.name)
	}
	return s.db.Get(key)
}

func (s *pogrebKVStore) Has(key []byte) (bool, error) {
	if !s.initialized.Load() {
		return false, nil
	}
	return s.db.Has(key)
}

func (s *pogrebKVStore) Put(key []byte, value []byte) error {
	if !s.initialized.Load() {
		s.logger.Debug("skipping write to uninitialized KVStore", "key", CacheKey(key).Pretty())
		return nil
	}
	return s.db.Put(key, value)
}

func (s *pogrebKVStore) Close() error {
	if !s.initialized.Load() {
		// A background reindex dies here and starts over on the next open.
		s.logger.Warn("skipping closing uninitialized KVStore")
		return nil
	}
	s.logger.Info("closing KVStore", "path", s.path)
	return s.db.Close()
}

// dropStaleIndexBackups removes the index backups pogreb leaves behind after
// a crash. Each crash appends another ".bac" suffix, and a crash loop would
// eventually produce file names the filesystem rejects.
func (s *pogrebKVStore) dropStaleIndexBackups() {
	matches, err := filepath.Glob(filepath.Join(s.path, "*.bac.bac"))
	if err != nil {
		s.logger.Warn("failed to list pogreb index backups", "err", err)
		return
	}
	for _, f := range matches {
		if err := os.Remove(f); err != nil {
			s.logger.Warn("failed to delete pogreb index backup", "file", f, "err", err)
		}
	}
}

func (s *pogrebKVStore) open() error {
	s.dropStaleIndexBackups()

	// If a reindex is needed, this can take hours.
	s.logger.Info("(re)opening KVStore", "path", s.path)
	db, err := pogreb.Open(s.path, &pogreb.Options{BackgroundSyncInterval: -1})
	if err != nil {
		s.logger.Error("failed to open pogreb store", "err", err)
		return err
	}
	s.db = db
	s.initialized.Store(true)
	s.logger.Info("KVStore opened", "entries", db.Count())
	return nil
}

// OpenKVStore opens (or creates) the store at path. name labels the cache in
// metrics; m may be nil.
//
// If pogreb is still reindexing after openTimeout, the store is returned
// anyway and behaves as an always-empty cache until the reindex completes.
func OpenKVStore(logger *log.Logger, name string, path string, m *metrics.ExtensionMetrics) (KVStore, error) {
	store := &pogrebKVStore{
		name:    name,
		path:    path,
		logger:  logger.With("cache", name),
		metrics: m,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- store.open()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return nil, err
		}
		return store, nil
	case <-time.After(openTimeout):
		logger.Warn("KVStore open timed out, continuing without cache while pogreb reindexes", "cache", name)
		return store, nil
	}
}

var errNoSuchKey = errors.New("no such key")

func countRead(cache KVStore, status metrics.CacheReadStatus) {
	if s, ok := cache.(*pogrebKVStore); ok && s.metrics != nil {
		s.metrics.LocalCacheReads(s.name, status).Inc()
	}
}

// Get fetches key from the cache and decodes it into a Value. The boolean
// result is false on a miss.
func Get[Value any](cache KVStore, key CacheKey) (*Value, bool, error) {
	var v Value
	switch err := fetchTypedValue(cache, key, &v); {
	case err == nil:
		return &v, true, nil
	case errors.Is(err, errNoSuchKey):
		return nil, false, nil
	default:
		return nil, false, err
	}
}

// Put encodes value and stores it under key.
func Put[Value any](cache KVStore, key CacheKey, value Value) error {
	raw, err := cborEncMode.Marshal(value)
	if err != nil {
		return fmt.Errorf("kvstore: encode value for key %s: %w", key.Pretty(), err)
	}
	return cache.Put(key, raw)
}

func fetchTypedValue[Value any](cache KVStore, key CacheKey, value *Value) error {
	isCached, err := cache.Has(key)
	if err != nil {
		countRead(cache, metrics.CacheReadStatusError)
		return err
	}
	if !isCached {
		countRead(cache, metrics.CacheReadStatusMiss)
		return errNoSuchKey
	}
	raw, err := cache.Get(key)
	if err != nil {
		countRead(cache, metrics.CacheReadStatusError)
		return fmt.Errorf("failed to fetch key %s from cache: %w", key.Pretty(), err)
	}
	if err = cbor.Unmarshal(raw, value); err != nil {
		countRead(cache, metrics.CacheReadStatusBadValue)
		return fmt.Errorf("failed to unmarshal the value for key %s from cache into %T: %w", key.Pretty(), value, err)
	}
	countRead(cache, metrics.CacheReadStatusHit)
	return nil
}

// GetFromCacheOrCall returns the cached Value for key, or calls valueFunc and
// caches its result. A volatile lookup always calls valueFunc and caches nothing.
func GetFromCacheOrCall[Value any](cache KVStore, volatile bool, key CacheKey, valueFunc func() (*Value, error)) (*Value, error) {
	if volatile {
		return valueFunc()
	}

	var cached Value
	switch err := fetchTypedValue(cache, key, &cached); {
	case err == nil:
		return &cached, nil
	case errors.Is(err, errNoSuchKey):
	default:
		if s, ok := cache.(*pogrebKVStore); ok {
			s.logger.Warn("error fetching from cache", "key", key.Pretty(), "err", err)
		}
	}

	computed, err := valueFunc()
	if err != nil {
		return nil, err
	}
	return computed, Put(cache, key, computed)
}

// GetSliceFromCacheOrCall is GetFromCacheOrCall for slice-typed values.
func GetSliceFromCacheOrCall[Item any](cache KVStore, volatile bool, key CacheKey, valueFunc func() ([]Item, error)) ([]Item, error) {
	ptr, err := GetFromCacheOrCall(cache, volatile, key, func() (*[]Item, error) {
		items, err := valueFunc()
		if items == nil {
			return nil, err
		}
		return &items, err
	})
	if ptr == nil {
		return nil, err
	}
	return *ptr, err
}
