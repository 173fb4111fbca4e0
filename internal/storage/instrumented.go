package storage

import (
	"context"
	"io"
	"time"
)

// Observer records the outcome of one object store operation.
type Observer interface {
	Observe(backend, operation string, seconds float64, err error)
}

// Instrumented reports every Put, Delete and Exists of the wrapped store
// to an Observer.
type Instrumented struct {
	ObjectStore
	obs Observer
}

// Instrument wraps store. A nil observer returns store unchanged.
func Instrument(store ObjectStore, obs Observer) ObjectStore {
	if obs == nil {
		return store
	}
	return &Instrumented{ObjectStore: store, obs: obs}
}

// Unwrap returns the wrapped store.
func (s *Instrumented) Unwrap() ObjectStore { return s.ObjectStore }

func (s *Instrumented) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	start := time.Now()
	err := s.ObjectStore.Put(ctx, key, r, size, contentType)
	s.obs.Observe(s.Name(), "put", time.Since(start).Seconds(), err)
	return err
}

func (s *Instrumented) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.ObjectStore.Delete(ctx, key)
	s.obs.Observe(s.Name(), "delete", time.Since(start).Seconds(), err)
	return err
}

func (s *Instrumented) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ok, err := s.ObjectStore.Exists(ctx, key)
	s.obs.Observe(s.Name(), "exists", time.Since(start).Seconds(), err)
	return ok, err
}

// Local returns the filesystem backend behind store, looking through
// instrumentation wrappers.
func Local(store ObjectStore) (*LocalStore, bool) {
	for {
		switch s := store.(type) {
		case *LocalStore:
			return s, true
		case interface{ Unwrap() ObjectStore }:
			store = s.Unwrap()
		default:
			return nil, false
		}
	}
}
