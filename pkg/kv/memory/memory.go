// Package memory provides an in-memory kv.Store. Data is lost on restart.
// Useful for testing and development.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// entry is a single keyed value with an optional expiry.
// Exactly one of hash, list, set, or val is populated per key.
type entry struct {
	hash map[string]string
	list []string
	set  map[string]struct{}
	val  string

	expiresAt time.Time // zero = no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Store is an in-memory keyed store with lazy TTL eviction: expired keys are
// dropped when next touched, mirroring how a real store's reads behave.
type Store struct {
	mu   sync.Mutex
	data map[string]*entry

	// now is swappable so tests can control TTL expiry.
	now func() time.Time
}

// New creates an in-memory store.
func New() *Store {
	return &Store{
		data: make(map[string]*entry),
		now:  time.Now,
	}
}

// SetClock overrides the store's time source. Test use only.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// get returns the live entry for key, evicting it first if expired.
func (s *Store) get(key string) *entry {
	e, ok := s.data[key]
	if !ok {
		return nil
	}
	if e.expired(s.now()) {
		delete(s.data, key)
		return nil
	}
	return e
}

func (s *Store) getOrCreate(key string) *entry {
	if e := s.get(key); e != nil {
		return e
	}
	e := &entry{}
	s.data[key] = e
	return e
}

func (s *Store) HIncrBy(ctx context.Context, key, field string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.getOrCreate(key)
	if e.hash == nil {
		e.hash = make(map[string]string)
	}
	cur, _ := strconv.ParseInt(e.hash[field], 10, 64)
	e.hash[field] = strconv.FormatInt(cur+delta, 10)
	return nil
}

func (s *Store) HIncrByFloat(ctx context.Context, key, field string, delta float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.getOrCreate(key)
	if e.hash == nil {
		e.hash = make(map[string]string)
	}
	cur, _ := strconv.ParseFloat(e.hash[field], 64)
	e.hash[field] = strconv.FormatFloat(cur+delta, 'f', -1, 64)
	return nil
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string)
	if e := s.get(key); e != nil {
		for k, v := range e.hash {
			out[k] = v
		}
	}
	return out, nil
}

func (s *Store) LPush(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.getOrCreate(key)
	e.list = append([]string{value}, e.list...)
	return nil
}

func (s *Store) LTrim(ctx context.Context, key string, start, stop int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.get(key)
	if e == nil {
		return nil
	}
	e.list = sliceRange(e.list, start, stop)
	return nil
}

func (s *Store) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.get(key)
	if e == nil {
		return nil, nil
	}
	out := sliceRange(e.list, start, stop)
	res := make([]string, len(out))
	copy(res, out)
	return res, nil
}

func (s *Store) SAdd(ctx context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.getOrCreate(key)
	if e.set == nil {
		e.set = make(map[string]struct{})
	}
	e.set[member] = struct{}{}
	return nil
}

func (s *Store) SRem(ctx context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e := s.get(key); e != nil {
		delete(e.set, member)
	}
	return nil
}

func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.get(key)
	if e == nil {
		return nil, nil
	}
	out := make([]string, 0, len(e.set))
	for m := range e.set {
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = &entry{val: value, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.get(key) != nil, nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e := s.get(key); e != nil {
		e.expiresAt = s.now().Add(ttl)
	}
	return nil
}

// TTL returns the remaining TTL for key, or zero if the key has no expiry.
// Test helper, not part of the kv.Store contract.
func (s *Store) TTL(key string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.get(key)
	if e == nil || e.expiresAt.IsZero() {
		return 0
	}
	return e.expiresAt.Sub(s.now())
}

// Close is a no-op for memory storage.
func (s *Store) Close() error {
	return nil
}

// sliceRange applies Redis LRANGE/LTRIM index semantics (inclusive stop,
// negative indexes count from the tail).
func sliceRange(list []string, start, stop int64) []string {
	n := int64(len(list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return nil
	}
	return list[start : stop+1]
}
