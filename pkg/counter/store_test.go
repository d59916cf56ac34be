package counter

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nicktill/webpulse/pkg/kv/memory"
)

func TestIncr_MinuteScenario(t *testing.T) {
	kv := memory.New()
	store := New(kv)
	ctx := context.Background()

	ts := time.Date(2025, 11, 4, 10, 59, 12, 0, time.UTC)
	bucket := BucketKey(MinuteKey(ts), KindPageviews)

	for i := 0; i < 3; i++ {
		if err := store.Incr(ctx, bucket, "/home", 1, MinuteBucketTTL); err != nil {
			t.Fatalf("Incr failed: %v", err)
		}
	}
	if err := store.Incr(ctx, bucket, "/about", 1, MinuteBucketTTL); err != nil {
		t.Fatalf("Incr failed: %v", err)
	}

	got, err := store.ReadAll(ctx, bucket)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if got["/home"] != "3" || got["/about"] != "1" {
		t.Errorf("bucket = %v, want /home=3 /about=1", got)
	}
}

func TestIncr_TTLAppliedOnFirstTouchOnly(t *testing.T) {
	kv := memory.New()
	store := New(kv)
	ctx := context.Background()

	base := time.Date(2025, 11, 4, 10, 0, 0, 0, time.UTC)
	now := base
	kv.SetClock(func() time.Time { return now })

	bucket := BucketKey(MinuteKey(base), KindPageviews)
	if err := store.Incr(ctx, bucket, "/home", 1, MinuteBucketTTL); err != nil {
		t.Fatalf("Incr failed: %v", err)
	}
	if ttl := kv.TTL(bucket); ttl != MinuteBucketTTL {
		t.Fatalf("TTL after first write = %v, want %v", ttl, MinuteBucketTTL)
	}

	// A later write must not refresh the TTL.
	now = base.Add(4 * time.Minute)
	if err := store.Incr(ctx, bucket, "/home", 1, MinuteBucketTTL); err != nil {
		t.Fatalf("Incr failed: %v", err)
	}
	if ttl := kv.TTL(bucket); ttl != 6*time.Minute {
		t.Errorf("TTL after second write = %v, want %v", ttl, 6*time.Minute)
	}

	// Past expiry the bucket reads empty and a fresh write restarts the TTL.
	now = base.Add(11 * time.Minute)
	got, err := store.ReadAll(ctx, bucket)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expired bucket = %v, want empty", got)
	}
	if err := store.Incr(ctx, bucket, "/home", 1, MinuteBucketTTL); err != nil {
		t.Fatalf("Incr failed: %v", err)
	}
	if ttl := kv.TTL(bucket); ttl != MinuteBucketTTL {
		t.Errorf("TTL after rebirth = %v, want %v", ttl, MinuteBucketTTL)
	}
}

func TestIncrFloat_PerfPair(t *testing.T) {
	kv := memory.New()
	store := New(kv)
	ctx := context.Background()

	ts := time.Date(2025, 11, 4, 10, 0, 0, 0, time.UTC)
	bucket := BucketKey(HourKey(ts), KindPerformance)

	countField := PerfField{Metric: "lcp", Kind: PerfCount}.String()
	sumField := PerfField{Metric: "lcp", Kind: PerfSum}.String()

	for _, v := range []float64{120.5, 80.25} {
		if err := store.Incr(ctx, bucket, countField, 1, HourBucketTTL); err != nil {
			t.Fatalf("Incr failed: %v", err)
		}
		if err := store.IncrFloat(ctx, bucket, sumField, v, HourBucketTTL); err != nil {
			t.Fatalf("IncrFloat failed: %v", err)
		}
	}

	got, err := store.ReadAll(ctx, bucket)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if got[countField] != "2" {
		t.Errorf("count = %q, want 2", got[countField])
	}
	if got[sumField] != "200.75" {
		t.Errorf("sum = %q, want 200.75", got[sumField])
	}
}

func TestRecentActions_BoundedNewestFirst(t *testing.T) {
	kv := memory.New()
	store := New(kv)
	ctx := context.Background()

	for i := 0; i < 600; i++ {
		err := store.PushRecentAction(ctx, ActionRecord{
			Action: "click",
			Label:  fmt.Sprintf("item-%d", i),
			Ts:     time.Date(2025, 11, 4, 10, 0, i/60, 0, time.UTC).Format(time.RFC3339),
		})
		if err != nil {
			t.Fatalf("PushRecentAction failed: %v", err)
		}
	}

	all, err := store.RecentActions(ctx, RecentFeedCap+100)
	if err != nil {
		t.Fatalf("RecentActions failed: %v", err)
	}
	if len(all) != RecentFeedCap {
		t.Fatalf("feed length = %d, want %d", len(all), RecentFeedCap)
	}
	// Newest first: the last push is at the head, the oldest 100 are gone.
	if all[0].Label != "item-599" {
		t.Errorf("head = %q, want item-599", all[0].Label)
	}
	if all[len(all)-1].Label != "item-100" {
		t.Errorf("tail = %q, want item-100", all[len(all)-1].Label)
	}
}

func TestRecentActions_DropsInvalidEntries(t *testing.T) {
	kv := memory.New()
	store := New(kv)
	ctx := context.Background()

	if err := store.PushRecentAction(ctx, ActionRecord{Action: "click", Ts: "2025-11-04T10:00:00Z"}); err != nil {
		t.Fatalf("PushRecentAction failed: %v", err)
	}
	if err := kv.LPush(ctx, RecentActionsKey, "{not json"); err != nil {
		t.Fatalf("LPush failed: %v", err)
	}

	got, err := store.RecentActions(ctx, 10)
	if err != nil {
		t.Fatalf("RecentActions failed: %v", err)
	}
	if len(got) != 1 || got[0].Action != "click" {
		t.Errorf("got %v, want just the valid record", got)
	}
}

func TestActiveSessions_PrunesExpiredMarkers(t *testing.T) {
	kv := memory.New()
	store := New(kv)
	ctx := context.Background()

	base := time.Date(2025, 11, 4, 10, 0, 0, 0, time.UTC)
	now := base
	kv.SetClock(func() time.Time { return now })

	if err := store.MarkSessionAlive(ctx, "s1"); err != nil {
		t.Fatalf("MarkSessionAlive failed: %v", err)
	}
	if err := store.MarkSessionAlive(ctx, "s2"); err != nil {
		t.Fatalf("MarkSessionAlive failed: %v", err)
	}

	// s2 stays active by emitting again later; s1 goes quiet.
	now = base.Add(8 * time.Minute)
	if err := store.MarkSessionAlive(ctx, "s2"); err != nil {
		t.Fatalf("MarkSessionAlive failed: %v", err)
	}

	now = base.Add(12 * time.Minute)
	live, err := store.ActiveSessions(ctx)
	if err != nil {
		t.Fatalf("ActiveSessions failed: %v", err)
	}
	if len(live) != 1 || live[0] != "s2" {
		t.Fatalf("live = %v, want [s2]", live)
	}

	// s1 was pruned from the membership set, not just filtered.
	members, err := kv.SMembers(ctx, ActiveSessionsKey)
	if err != nil {
		t.Fatalf("SMembers failed: %v", err)
	}
	if len(members) != 1 || members[0] != "s2" {
		t.Errorf("members after prune = %v, want [s2]", members)
	}
}
