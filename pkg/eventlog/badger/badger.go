// Package badger implements eventlog.Store on BadgerDB.
//
// Key scheme (all values JSON):
//
//	ev:<unixnano be64><idhash be64>  raw event, time-ordered by key
//	evid:<eventId>                   uniqueness index -> raw event key
//	sess:<sessionId>                 session record
//	hour:<unix be64>                 hourly aggregate
//	day:<unix be64>                  daily aggregate
//
// The big-endian timestamp prefix keeps raw events iterable in CreatedAt
// order; the idhash suffix (xxhash of the event id, or of a random uuid when
// no id was supplied) disambiguates events sharing a nanosecond.
package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/google/uuid"

	"github.com/nicktill/webpulse/pkg/eventlog"
)

var (
	prefixEvent   = []byte("ev:")
	prefixEventID = []byte("evid:")
	prefixSession = []byte("sess:")
	prefixHourly  = []byte("hour:")
	prefixDaily   = []byte("day:")
)

// Config holds BadgerDB configuration.
type Config struct {
	// Path to store database files.
	Path string

	// InMemory mode (for testing).
	InMemory bool
}

// Store implements eventlog.Store using BadgerDB.
type Store struct {
	db *badger.DB
}

// New opens a Badger-backed event log.
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}
	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(16 << 20).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open badger: %v", eventlog.ErrUnavailable, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) AppendEvent(ctx context.Context, rec eventlog.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := eventKey(rec)
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if rec.EventID != "" {
			idKey := append(append([]byte{}, prefixEventID...), rec.EventID...)
			_, err := txn.Get(idKey)
			if err == nil {
				return eventlog.ErrDuplicateID
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := txn.Set(idKey, key); err != nil {
				return err
			}
		}
		return txn.Set(key, body)
	})
	if errors.Is(err, eventlog.ErrDuplicateID) {
		return err
	}
	if err != nil {
		return fmt.Errorf("%w: append event: %v", eventlog.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) HasEvent(ctx context.Context, eventID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(append(append([]byte{}, prefixEventID...), eventID...))
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
		return false, fmt.Errorf("%w: has event: %v", eventlog.ErrUnavailable, err)
	}
	return found, nil
}

func (s *Store) EventsInRange(ctx context.Context, start, end time.Time) ([]eventlog.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []eventlog.Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixEvent

		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek straight to the window start; keys sort by CreatedAt.
		seek := append(append([]byte{}, prefixEvent...), be64(uint64(start.UnixNano()))...)
		for it.Seek(seek); it.ValidForPrefix(prefixEvent); it.Next() {
			ts := keyTime(it.Item().Key())
			if !ts.Before(end) {
				break
			}
			if err := it.Item().Value(func(val []byte) error {
				var rec eventlog.Record
				if err := json.Unmarshal(val, &rec); err != nil {
					return err
				}
				out = append(out, rec)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: events in range: %v", eventlog.ErrUnavailable, err)
	}
	return out, nil
}

func (s *Store) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var keys [][]byte
	var idKeys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixEvent

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefixEvent); it.Next() {
			if !keyTime(it.Item().Key()).Before(cutoff) {
				break
			}
			keys = append(keys, it.Item().KeyCopy(nil))
			if err := it.Item().Value(func(val []byte) error {
				var rec eventlog.Record
				if err := json.Unmarshal(val, &rec); err != nil {
					return err
				}
				if rec.EventID != "" {
					idKeys = append(idKeys, append(append([]byte{}, prefixEventID...), rec.EventID...))
				}
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: delete events: %v", eventlog.ErrUnavailable, err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	// A WriteBatch splits across as many transactions as it needs, so a large
	// retention backlog cannot fail with ErrTxnTooBig the way a single
	// Update would.
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return 0, fmt.Errorf("%w: delete events: %v", eventlog.ErrUnavailable, err)
		}
	}
	for _, key := range idKeys {
		if err := wb.Delete(key); err != nil {
			return 0, fmt.Errorf("%w: delete events: %v", eventlog.ErrUnavailable, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("%w: delete events: %v", eventlog.ErrUnavailable, err)
	}
	return len(keys), nil
}

func (s *Store) TouchSession(ctx context.Context, sessionID string, lastSeen time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(eventlog.Session{SessionID: sessionID, LastSeen: lastSeen})
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(append(append([]byte{}, prefixSession...), sessionID...), body)
	})
	if err != nil {
		return fmt.Errorf("%w: touch session: %v", eventlog.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) Session(ctx context.Context, sessionID string) (*eventlog.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var sess *eventlog.Session
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(append(append([]byte{}, prefixSession...), sessionID...))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var decoded eventlog.Session
			if err := json.Unmarshal(val, &decoded); err != nil {
				return err
			}
			sess = &decoded
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get session: %v", eventlog.ErrUnavailable, err)
	}
	return sess, nil
}

func (s *Store) UpsertHourly(ctx context.Context, agg eventlog.Aggregate) error {
	return s.upsertAggregate(ctx, prefixHourly, agg)
}

func (s *Store) HourlyInRange(ctx context.Context, start, end time.Time) ([]eventlog.Aggregate, error) {
	return s.aggregatesInRange(ctx, prefixHourly, start, end)
}

func (s *Store) LatestHourly(ctx context.Context) (*eventlog.Aggregate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var latest *eventlog.Aggregate
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefixHourly

		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration: seek past the prefix range, first valid key is
		// the newest window.
		seek := append(append([]byte{}, prefixHourly...), bytes.Repeat([]byte{0xff}, 8)...)
		it.Seek(seek)
		if !it.ValidForPrefix(prefixHourly) {
			return nil
		}
		return it.Item().Value(func(val []byte) error {
			var agg eventlog.Aggregate
			if err := json.Unmarshal(val, &agg); err != nil {
				return err
			}
			latest = &agg
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: latest hourly: %v", eventlog.ErrUnavailable, err)
	}
	return latest, nil
}

func (s *Store) UpsertDaily(ctx context.Context, agg eventlog.Aggregate) error {
	return s.upsertAggregate(ctx, prefixDaily, agg)
}

func (s *Store) DailyInRange(ctx context.Context, start, end time.Time) ([]eventlog.Aggregate, error) {
	return s.aggregatesInRange(ctx, prefixDaily, start, end)
}

// Close shuts down BadgerDB cleanly.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection.
func (s *Store) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

func (s *Store) upsertAggregate(ctx context.Context, prefix []byte, agg eventlog.Aggregate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(agg)
	if err != nil {
		return err
	}
	key := append(append([]byte{}, prefix...), be64(uint64(agg.Window.Unix()))...)
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, body)
	})
	if err != nil {
		return fmt.Errorf("%w: upsert aggregate: %v", eventlog.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) aggregatesInRange(ctx context.Context, prefix []byte, start, end time.Time) ([]eventlog.Aggregate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []eventlog.Aggregate
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte{}, prefix...), be64(uint64(start.Unix()))...)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			window := time.Unix(int64(binary.BigEndian.Uint64(it.Item().Key()[len(prefix):])), 0).UTC()
			if !window.Before(end) {
				break
			}
			if err := it.Item().Value(func(val []byte) error {
				var agg eventlog.Aggregate
				if err := json.Unmarshal(val, &agg); err != nil {
					return err
				}
				out = append(out, agg)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: aggregates in range: %v", eventlog.ErrUnavailable, err)
	}
	return out, nil
}

// eventKey builds the time-ordered raw event key.
func eventKey(rec eventlog.Record) []byte {
	token := rec.EventID
	if token == "" {
		token = uuid.NewString()
	}
	key := make([]byte, 0, len(prefixEvent)+16)
	key = append(key, prefixEvent...)
	key = append(key, be64(uint64(rec.CreatedAt.UnixNano()))...)
	key = append(key, be64(xxhash.Sum64String(token))...)
	return key
}

// keyTime extracts the CreatedAt component from a raw event key.
func keyTime(key []byte) time.Time {
	return time.Unix(0, int64(binary.BigEndian.Uint64(key[len(prefixEvent):])))
}

func be64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}
