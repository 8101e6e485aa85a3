package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned by Get for unknown keys.
var ErrNotFound = errors.New("object not found")

type object struct {
	data     []byte
	modified time.Time
}

// Storage keeps objects in process memory. Only usable when the server and
// the worker share a process.
type Storage struct {
	mu      sync.RWMutex
	objects map[string]object
	now     func() time.Time
}

func New() *Storage {
	return &Storage{
		objects: make(map[string]object),
		now:     time.Now,
	}
}

func (s *Storage) Store(ctx context.Context, reader io.Reader, key string) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("failed to read object: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = object{data: data, modified: s.now()}
	return key, nil
}

func (s *Storage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *Storage) CleanupBefore(ctx context.Context, threshold time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, obj := range s.objects {
		if obj.modified.Before(threshold) {
			delete(s.objects, k)
		}
	}
	return nil
}

// Keys lists stored keys in order.
func (s *Storage) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
