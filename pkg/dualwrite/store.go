// Package dualwrite persists one logical entity into the object store (authoritative) and the key-value
// cache (fast) with a compensating rollback when only one of the two writes lands.
package dualwrite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/recordings/pkg/apperr"
	"github.com/aura-webinar/recordings/pkg/cache"
	"github.com/aura-webinar/recordings/pkg/storage"
)

// ErrNotFound is returned by Get when the entity is absent from the authoritative store.
var ErrNotFound = storage.ErrNotFound

// Key addresses one entity in both stores.
type Key struct {
	Path     string // object store key
	CacheKey string
}

func (k Key) String() string { return k.Path }

// Store is the dual-write store.
type Store struct {
	objects storage.ObjectStore
	cache   cache.Cache
	ttl     time.Duration
	logger  *zap.Logger
}

// New creates a dual-write store. Cache entries expire after ttl (0 = never).
func New(objects storage.ObjectStore, kv cache.Cache, ttl time.Duration, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{objects: objects, cache: kv, ttl: ttl, logger: logger}
}

// writeResult is the outcome of one side of a save together with its compensating action.
type writeResult struct {
	target   string
	err      error
	rollback func(context.Context) error
}

// Save writes value to both stores concurrently. If exactly one write fails the other is rolled back
// (best effort) and the failed write's error is returned; if both fail the first error seen is returned.
// Rolling back the object store restores the entity that was there before, or removes it when the save
// created it.
func (s *Store) Save(ctx context.Context, key Key, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "encode "+key.Path, err)
	}

	prior, err := s.objects.GetObject(ctx, key.Path)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		prior = nil
	case err != nil:
		return apperr.Storage("read "+key.Path+" before save", err)
	}

	results := make(chan writeResult, 2)
	go func() {
		results <- writeResult{
			target:   "object_store",
			err:      s.objects.PutObject(ctx, key.Path, data, "application/json"),
			rollback: func(c context.Context) error { return s.restoreObject(c, key.Path, prior) },
		}
	}()
	go func() {
		results <- writeResult{
			target:   "cache",
			err:      s.cache.Set(ctx, key.CacheKey, data, s.ttl),
			rollback: func(c context.Context) error { return s.cache.Delete(c, key.CacheKey) },
		}
	}()

	var failed, written []writeResult
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			failed = append(failed, r)
		} else {
			written = append(written, r)
		}
	}
	if len(failed) == 0 {
		return nil
	}

	rollbackCtx := context.WithoutCancel(ctx)
	for _, w := range written {
		if err := w.rollback(rollbackCtx); err != nil {
			s.logger.Error("dual-write rollback failed",
				zap.String("key", key.Path), zap.String("target", w.target), zap.Error(err))
			continue
		}
		s.logger.Warn("dual-write rolled back",
			zap.String("key", key.Path), zap.String("target", w.target), zap.String("failed_target", failed[0].target))
	}
	return apperr.Storage(fmt.Sprintf("save %s to %s", key.Path, failed[0].target), failed[0].err)
}

func (s *Store) restoreObject(ctx context.Context, path string, prior []byte) error {
	if prior == nil {
		return s.objects.DeleteObject(ctx, path)
	}
	return s.objects.PutObject(ctx, path, prior, "application/json")
}

// Get reads through the cache: a hit is returned directly, a miss is served from the object store and
// written back to the cache.
func (s *Store) Get(ctx context.Context, key Key, out any) error {
	raw, err := s.cache.Get(ctx, key.CacheKey)
	switch {
	case err == nil:
		jsonErr := json.Unmarshal(raw, out)
		if jsonErr == nil {
			return nil
		}
		s.logger.Warn("discarding undecodable cache entry", zap.String("key", key.CacheKey), zap.Error(jsonErr))
	case !errors.Is(err, cache.ErrMiss):
		s.logger.Warn("cache read failed, falling back to object store", zap.String("key", key.CacheKey), zap.Error(err))
	}

	raw, err = s.objects.GetObject(ctx, key.Path)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return apperr.Storage("read "+key.Path, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperr.Storage("decode "+key.Path, err)
	}
	if err := s.cache.Set(ctx, key.CacheKey, raw, s.ttl); err != nil {
		s.logger.Warn("cache populate failed", zap.String("key", key.CacheKey), zap.Error(err))
	}
	return nil
}

// Delete removes the entity from both stores. A cache failure is only logged: a stale cache entry
// expires with its TTL. An object store failure is returned since the entity still exists.
func (s *Store) Delete(ctx context.Context, key Key) error {
	objErr := make(chan error, 1)
	go func() { objErr <- s.objects.DeleteObject(ctx, key.Path) }()
	cacheErr := s.cache.Delete(ctx, key.CacheKey)
	oErr := <-objErr

	if cacheErr != nil {
		s.logger.Warn("dual-write delete: cache delete failed", zap.String("key", key.CacheKey), zap.Error(cacheErr))
	}
	if oErr != nil {
		s.logger.Error("dual-write delete: object delete failed", zap.String("key", key.Path), zap.Error(oErr))
		return apperr.Storage("delete "+key.Path, oErr)
	}
	return nil
}

// List returns the object store keys under prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.objects.ListObjects(ctx, prefix)
	if err != nil {
		return nil, apperr.Storage("list "+prefix, err)
	}
	return keys, nil
}
