package counter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nicktill/webpulse/pkg/kv"
)

// ActionRecord is the compact entry kept on the recent-actions feed.
type ActionRecord struct {
	Action    string `json:"action"`
	Category  string `json:"category,omitempty"`
	Label     string `json:"label,omitempty"`
	Ts        string `json:"ts"`
	SessionID string `json:"sessionId,omitempty"`
}

// Store provides the time-bucketed counter operations on top of a keyed store.
type Store struct {
	kv kv.Store
}

// New creates a counter store backed by the given keyed store.
func New(store kv.Store) *Store {
	return &Store{kv: store}
}

// Incr atomically increments an integer bucket field and applies the bucket's
// TTL on first touch only. Existence is checked before the increment: if the
// key already lived before this write, its TTL is left alone, so a bucket
// expires relative to its first write rather than its last. Two racing first
// writers may both set the TTL, which is harmless since the value is identical.
func (s *Store) Incr(ctx context.Context, bucketKey, field string, delta int64, ttl time.Duration) error {
	existed, err := s.kv.Exists(ctx, bucketKey)
	if err != nil {
		return err
	}
	if err := s.kv.HIncrBy(ctx, bucketKey, field, delta); err != nil {
		return err
	}
	if !existed {
		return s.kv.Expire(ctx, bucketKey, ttl)
	}
	return nil
}

// IncrFloat is the float-safe variant of Incr, used for perf metric sums.
func (s *Store) IncrFloat(ctx context.Context, bucketKey, field string, delta float64, ttl time.Duration) error {
	existed, err := s.kv.Exists(ctx, bucketKey)
	if err != nil {
		return err
	}
	if err := s.kv.HIncrByFloat(ctx, bucketKey, field, delta); err != nil {
		return err
	}
	if !existed {
		return s.kv.Expire(ctx, bucketKey, ttl)
	}
	return nil
}

// ReadAll returns a bucket's full field snapshot. An expired or never-written
// bucket yields an empty map; that is normal, not an error.
func (s *Store) ReadAll(ctx context.Context, bucketKey string) (map[string]string, error) {
	return s.kv.HGetAll(ctx, bucketKey)
}

// PushRecentAction prepends rec to the bounded recent-actions feed and trims
// it to RecentFeedCap in the same operation. The trim runs as a second call,
// so a concurrent reader may transiently observe a slight overshoot. The feed
// TTL is touch-once like bucket TTLs.
func (s *Store) PushRecentAction(ctx context.Context, rec ActionRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	existed, err := s.kv.Exists(ctx, RecentActionsKey)
	if err != nil {
		return err
	}
	if err := s.kv.LPush(ctx, RecentActionsKey, string(body)); err != nil {
		return err
	}
	if err := s.kv.LTrim(ctx, RecentActionsKey, 0, RecentFeedCap-1); err != nil {
		return err
	}
	if !existed {
		return s.kv.Expire(ctx, RecentActionsKey, RecentFeedTTL)
	}
	return nil
}

// RecentActions returns up to n feed entries, newest first. Entries that fail
// to parse are silently dropped.
func (s *Store) RecentActions(ctx context.Context, n int64) ([]ActionRecord, error) {
	raw, err := s.kv.LRange(ctx, RecentActionsKey, 0, n-1)
	if err != nil {
		return nil, err
	}
	out := make([]ActionRecord, 0, len(raw))
	for _, r := range raw {
		var rec ActionRecord
		if err := json.Unmarshal([]byte(r), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// MarkSessionAlive adds the session to the active set and sets its liveness
// marker to SessionMarkerTTL from now. Unlike bucket TTLs, the marker is
// refreshed on every event.
func (s *Store) MarkSessionAlive(ctx context.Context, sessionID string) error {
	if err := s.kv.SAdd(ctx, ActiveSessionsKey, sessionID); err != nil {
		return err
	}
	return s.kv.SetEx(ctx, SessionMarkerKey(sessionID), "1", SessionMarkerTTL)
}

// ActiveSessions returns the session ids whose liveness marker has not yet
// expired. Set membership itself never expires; members whose marker is gone
// are pruned from the set as a side effect of this read.
func (s *Store) ActiveSessions(ctx context.Context) ([]string, error) {
	members, err := s.kv.SMembers(ctx, ActiveSessionsKey)
	if err != nil {
		return nil, err
	}
	live := make([]string, 0, len(members))
	for _, m := range members {
		alive, err := s.kv.Exists(ctx, SessionMarkerKey(m))
		if err != nil {
			return nil, err
		}
		if alive {
			live = append(live, m)
			continue
		}
		if err := s.kv.SRem(ctx, ActiveSessionsKey, m); err != nil {
			// Pruning is best-effort; the next read will try again.
			log.Debug().Err(err).Str("session", m).Msg("failed to prune dead session")
		}
	}
	return live, nil
}
