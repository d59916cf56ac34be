// Package memory provides an in-memory eventlog.Store for testing and
// development. Data is lost on restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nicktill/webpulse/pkg/eventlog"
)

// Store keeps all documents in memory behind one mutex.
type Store struct {
	mu       sync.RWMutex
	events   []eventlog.Record
	byID     map[string]struct{}
	sessions map[string]eventlog.Session
	hourly   map[int64]eventlog.Aggregate // keyed by window unix
	daily    map[int64]eventlog.Aggregate
}

// New creates an in-memory event log.
func New() *Store {
	return &Store{
		byID:     make(map[string]struct{}),
		sessions: make(map[string]eventlog.Session),
		hourly:   make(map[int64]eventlog.Aggregate),
		daily:    make(map[int64]eventlog.Aggregate),
	}
}

func (s *Store) AppendEvent(ctx context.Context, rec eventlog.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.EventID != "" {
		if _, dup := s.byID[rec.EventID]; dup {
			return eventlog.ErrDuplicateID
		}
		s.byID[rec.EventID] = struct{}{}
	}
	s.events = append(s.events, rec)
	return nil
}

func (s *Store) HasEvent(ctx context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.byID[eventID]
	return ok, nil
}

func (s *Store) EventsInRange(ctx context.Context, start, end time.Time) ([]eventlog.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []eventlog.Record
	for _, rec := range s.events {
		if !rec.CreatedAt.Before(start) && rec.CreatedAt.Before(end) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	deleted := 0
	for _, rec := range s.events {
		if rec.CreatedAt.Before(cutoff) {
			deleted++
			if rec.EventID != "" {
				delete(s.byID, rec.EventID)
			}
			continue
		}
		kept = append(kept, rec)
	}
	s.events = kept
	return deleted, nil
}

func (s *Store) TouchSession(ctx context.Context, sessionID string, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sessionID] = eventlog.Session{SessionID: sessionID, LastSeen: lastSeen}
	return nil
}

func (s *Store) Session(ctx context.Context, sessionID string) (*eventlog.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

func (s *Store) UpsertHourly(ctx context.Context, agg eventlog.Aggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hourly[agg.Window.Unix()] = agg
	return nil
}

func (s *Store) HourlyInRange(ctx context.Context, start, end time.Time) ([]eventlog.Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return aggsInRange(s.hourly, start, end), nil
}

func (s *Store) LatestHourly(ctx context.Context) (*eventlog.Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *eventlog.Aggregate
	for _, agg := range s.hourly {
		if latest == nil || agg.Window.After(latest.Window) {
			a := agg
			latest = &a
		}
	}
	return latest, nil
}

func (s *Store) UpsertDaily(ctx context.Context, agg eventlog.Aggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.daily[agg.Window.Unix()] = agg
	return nil
}

func (s *Store) DailyInRange(ctx context.Context, start, end time.Time) ([]eventlog.Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return aggsInRange(s.daily, start, end), nil
}

// Close is a no-op for memory storage.
func (s *Store) Close() error {
	return nil
}

func aggsInRange(m map[int64]eventlog.Aggregate, start, end time.Time) []eventlog.Aggregate {
	var out []eventlog.Aggregate
	for _, agg := range m {
		if !agg.Window.Before(start) && agg.Window.Before(end) {
			out = append(out, agg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Window.Before(out[j].Window)
	})
	return out
}
