// Package badger implements kv.Store on BadgerDB.
//
// Each logical key maps to a single Badger entry holding a JSON-encoded body
// (hash, list, set, or plain value). Mutations are read-modify-write inside a
// serializable Badger transaction; write conflicts between racing increments
// are retried. Per-key TTL rides on Badger's native entry TTL and is preserved
// when a live key is rewritten.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/nicktill/webpulse/pkg/kv"
)

const conflictRetries = 8

// Config holds BadgerDB configuration.
type Config struct {
	// Path to store database files.
	Path string

	// InMemory mode (for testing).
	InMemory bool
}

// Store implements kv.Store using BadgerDB.
type Store struct {
	db *badger.DB
}

// New opens a Badger-backed keyed store.
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// Counter bodies are tiny and rewritten often: keep values in the LSM,
	// skip versioning, and bound the memtable for small deployments.
	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(16 << 20).
		WithValueThreshold(1024).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open badger: %v", kv.ErrUnavailable, err)
	}
	return &Store{db: db}, nil
}

// record is the on-disk body of one logical key.
type record struct {
	Hash map[string]string `json:"h,omitempty"`
	List []string          `json:"l,omitempty"`
	Set  []string          `json:"s,omitempty"`
	Val  string            `json:"v,omitempty"`
}

func (s *Store) HIncrBy(ctx context.Context, key, field string, delta int64) error {
	return s.mutate(ctx, key, func(rec *record) error {
		if rec.Hash == nil {
			rec.Hash = make(map[string]string)
		}
		cur, err := parseInt(rec.Hash[field])
		if err != nil {
			return err
		}
		rec.Hash[field] = fmt.Sprintf("%d", cur+delta)
		return nil
	})
}

func (s *Store) HIncrByFloat(ctx context.Context, key, field string, delta float64) error {
	return s.mutate(ctx, key, func(rec *record) error {
		if rec.Hash == nil {
			rec.Hash = make(map[string]string)
		}
		cur, err := parseFloat(rec.Hash[field])
		if err != nil {
			return err
		}
		rec.Hash[field] = trimFloat(cur + delta)
		return nil
	})
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	rec, _, err := s.read(ctx, key)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rec.Hash))
	for k, v := range rec.Hash {
		out[k] = v
	}
	return out, nil
}

func (s *Store) LPush(ctx context.Context, key, value string) error {
	return s.mutate(ctx, key, func(rec *record) error {
		rec.List = append([]string{value}, rec.List...)
		return nil
	})
}

func (s *Store) LTrim(ctx context.Context, key string, start, stop int64) error {
	return s.mutate(ctx, key, func(rec *record) error {
		rec.List = sliceRange(rec.List, start, stop)
		return nil
	})
}

func (s *Store) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	rec, _, err := s.read(ctx, key)
	if err != nil {
		return nil, err
	}
	out := sliceRange(rec.List, start, stop)
	res := make([]string, len(out))
	copy(res, out)
	return res, nil
}

func (s *Store) SAdd(ctx context.Context, key, member string) error {
	return s.mutate(ctx, key, func(rec *record) error {
		for _, m := range rec.Set {
			if m == member {
				return nil
			}
		}
		rec.Set = append(rec.Set, member)
		return nil
	})
}

func (s *Store) SRem(ctx context.Context, key, member string) error {
	return s.mutate(ctx, key, func(rec *record) error {
		for i, m := range rec.Set {
			if m == member {
				rec.Set = append(rec.Set[:i], rec.Set[i+1:]...)
				return nil
			}
		}
		return nil
	})
}

func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	rec, _, err := s.read(ctx, key)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(rec.Set))
	copy(out, rec.Set)
	return out, nil
}

func (s *Store) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		body, err := json.Marshal(record{Val: value})
		if err != nil {
			return err
		}
		return txn.SetEntry(badger.NewEntry([]byte(key), body).WithTTL(ttl))
	})
	if err != nil {
		return fmt.Errorf("%w: setex %s: %v", kv.ErrUnavailable, key, err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: exists %s: %v", kv.ErrUnavailable, key, err)
	}
	return found, nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.withConflictRetry(func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get([]byte(key))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			body, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			return txn.SetEntry(badger.NewEntry([]byte(key), body).WithTTL(ttl))
		})
	})
	if err != nil {
		return fmt.Errorf("%w: expire %s: %v", kv.ErrUnavailable, key, err)
	}
	return nil
}

// Close shuts down BadgerDB cleanly.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection. Returns Badger's
// "nothing to rewrite" error when no GC was needed.
func (s *Store) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// read fetches and decodes the record for key. A missing or expired key yields
// a zero record and exists=false.
func (s *Store) read(ctx context.Context, key string) (record, bool, error) {
	if err := ctx.Err(); err != nil {
		return record{}, false, err
	}
	var rec record
	var exists bool
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return record{}, false, fmt.Errorf("%w: read %s: %v", kv.ErrUnavailable, key, err)
	}
	return rec, exists, nil
}

// mutate applies fn to the decoded record and writes it back, preserving any
// remaining TTL on a live key.
func (s *Store) mutate(ctx context.Context, key string, fn func(*record) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.withConflictRetry(func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			var rec record
			var expiresAt uint64

			item, err := txn.Get([]byte(key))
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
				// Key auto-created by the write below.
			case err != nil:
				return err
			default:
				expiresAt = item.ExpiresAt()
				if err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &rec)
				}); err != nil {
					return err
				}
			}

			if err := fn(&rec); err != nil {
				return err
			}

			body, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			entry := badger.NewEntry([]byte(key), body)
			if expiresAt > 0 {
				remaining := time.Until(time.Unix(int64(expiresAt), 0))
				if remaining <= 0 {
					// Raced with expiry; the rewritten key starts fresh.
					remaining = time.Second
				}
				entry = entry.WithTTL(remaining)
			}
			return txn.SetEntry(entry)
		})
	})
	if err != nil {
		return fmt.Errorf("%w: write %s: %v", kv.ErrUnavailable, key, err)
	}
	return nil
}

// withConflictRetry re-runs fn while it fails with Badger's transaction
// conflict error. Counter increments hitting the same key concurrently are
// expected to conflict occasionally.
func (s *Store) withConflictRetry(fn func() error) error {
	var err error
	for i := 0; i < conflictRetries; i++ {
		err = fn()
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func parseInt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	var n int64
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, fmt.Errorf("hash field is not an integer: %q", s)
	}
	return n, nil
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	var f float64
	if _, err := fmt.Sscanf(s, "%g", &f); err != nil {
		return 0, fmt.Errorf("hash field is not a number: %q", s)
	}
	return f, nil
}

func trimFloat(f float64) string {
	return fmt.Sprintf("%g", f)
}

// sliceRange applies LRANGE/LTRIM index semantics (inclusive stop, negative
// indexes count from the tail).
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
