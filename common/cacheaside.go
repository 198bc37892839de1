package common

import (
	"encoding/json"
	"fmt"
)

// FetchCached runs the cache-aside read over raw upstream bodies: a hit decodes
// the stored bytes, a miss calls fetch and stores the body only after decode
// accepts it. Failed fetches and undecodable bodies are not cached.
func FetchCached[T any](cache CacheRepository[[]byte], key string, fetch func() ([]byte, error), decode func([]byte) (T, error)) (T, error) {
	if cached, found := cache.Get(key); found {
		if v, err := decode(cached); err == nil {
			return v, nil
		}
		cache.Delete(key)
	}

	data, err := fetch()
	if err != nil {
		var zero T
		return zero, err
	}

	v, err := decode(data)
	if err != nil {
		return v, err
	}

	cache.Set(key, data)
	return v, nil
}

// FetchCachedJSON is FetchCached for computed values: the result of fetch is
// marshalled into the cache and unmarshalled on every hit, so callers never
// share a mutable value.
func FetchCachedJSON[T any](cache CacheRepository[[]byte], key string, fetch func() (T, error)) (T, error) {
	var out T

	if cached, found := cache.Get(key); found {
		if err := json.Unmarshal(cached, &out); err == nil {
			return out, nil
		}
		// unreadable entry, fall through and overwrite it
	}

	v, err := fetch()
	if err != nil {
		return out, err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return out, fmt.Errorf("failed to encode cache entry %q: %w", key, err)
	}
	cache.Set(key, data)
	return v, nil
}
