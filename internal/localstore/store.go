package localstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const healthKey = "_health"

var valueBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "address_local_store_value_bytes",
	Help: "Size in bytes of the last value written to the local store, by key.",
}, []string{"key"})

// Store serializes values as JSON on top of a Backend. A positive quota caps
// the serialized size of any single value; writes above it fail with
// ErrQuotaExceeded and leave the previous value in place.
type Store struct {
	backend Backend
	quota   int64
}

func NewStore(backend Backend, quotaBytes int64) *Store {
	return &Store{backend: backend, quota: quotaBytes}
}

// Put stores value under key.
func (s *Store) Put(ctx context.Context, key string, value any) error {
	data, err := s.encode(key, value)
	if err != nil {
		return err
	}
	if err := s.backend.Save(ctx, key, data); err != nil {
		return err
	}
	valueBytes.WithLabelValues(key).Set(float64(len(data)))
	return nil
}

// Get decodes the value under key into dst. It reports false when the key has
// never been written.
func (s *Store) Get(ctx context.Context, key string, dst any) (bool, error) {
	data, ok, err := s.backend.Load(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, serializationErr("decode "+key, err)
	}
	return true, nil
}

// Update decodes the current value under key into a fresh T, hands it to fn
// and stores whatever fn returns, all inside one backend critical section.
// A missing key yields the zero T with ok set to false.
func Update[T any](ctx context.Context, s *Store, key string, fn func(cur T, ok bool) (T, error)) error {
	var written int
	err := s.backend.Update(ctx, key, func(raw []byte, ok bool) ([]byte, error) {
		var cur T
		if ok {
			if err := json.Unmarshal(raw, &cur); err != nil {
				return nil, serializationErr("decode "+key, err)
			}
		}
		next, err := fn(cur, ok)
		if err != nil {
			return nil, err
		}
		data, err := s.encode(key, next)
		if err != nil {
			return nil, err
		}
		written = len(data)
		return data, nil
	})
	if err != nil {
		return err
	}
	valueBytes.WithLabelValues(key).Set(float64(written))
	return nil
}

// Ping round-trips a small value through the backend.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.backend.Save(ctx, healthKey, []byte(`"ok"`)); err != nil {
		return err
	}
	_, _, err := s.backend.Load(ctx, healthKey)
	return err
}

func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) encode(key string, value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, serializationErr("encode "+key, err)
	}
	if s.quota > 0 && int64(len(data)) > s.quota {
		return nil, fmt.Errorf("%w: %s needs %d bytes, limit is %d", ErrQuotaExceeded, key, len(data), s.quota)
	}
	return data, nil
}
