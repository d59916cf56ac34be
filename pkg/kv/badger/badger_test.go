package badger

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(Config{InMemory: true})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestHIncrBy_Accumulates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.HIncrBy(ctx, "bucket", "/home", 1); err != nil {
		t.Fatalf("HIncrBy failed: %v", err)
	}
	if err := store.HIncrBy(ctx, "bucket", "/home", 2); err != nil {
		t.Fatalf("HIncrBy failed: %v", err)
	}
	if err := store.HIncrBy(ctx, "bucket", "/about", 1); err != nil {
		t.Fatalf("HIncrBy failed: %v", err)
	}

	got, err := store.HGetAll(ctx, "bucket")
	if err != nil {
		t.Fatalf("HGetAll failed: %v", err)
	}
	if got["/home"] != "3" || got["/about"] != "1" {
		t.Errorf("bucket = %v, want /home=3 /about=1", got)
	}
}

func TestHIncrByFloat(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.HIncrByFloat(ctx, "perf", "lcp::sum", 120.5); err != nil {
		t.Fatalf("HIncrByFloat failed: %v", err)
	}
	if err := store.HIncrByFloat(ctx, "perf", "lcp::sum", 79.5); err != nil {
		t.Fatalf("HIncrByFloat failed: %v", err)
	}

	got, _ := store.HGetAll(ctx, "perf")
	if got["lcp::sum"] != "200" {
		t.Errorf("sum = %q, want 200", got["lcp::sum"])
	}
}

func TestHGetAll_MissingKeyIsEmpty(t *testing.T) {
	store := newTestStore(t)

	got, err := store.HGetAll(context.Background(), "nope")
	if err != nil {
		t.Fatalf("HGetAll failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %v, want empty map", got)
	}
}

func TestList_PushTrimRange(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := store.LPush(ctx, "feed", fmt.Sprintf("item-%d", i)); err != nil {
			t.Fatalf("LPush failed: %v", err)
		}
	}

	if err := store.LTrim(ctx, "feed", 0, 4); err != nil {
		t.Fatalf("LTrim failed: %v", err)
	}

	got, err := store.LRange(ctx, "feed", 0, -1)
	if err != nil {
		t.Fatalf("LRange failed: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("length after trim = %d, want 5", len(got))
	}
	if got[0] != "item-9" || got[4] != "item-5" {
		t.Errorf("got %v, want newest-first item-9..item-5", got)
	}
}

func TestSet_AddIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.SAdd(ctx, "sessions", "s1")
	store.SAdd(ctx, "sessions", "s1")
	store.SAdd(ctx, "sessions", "s2")

	members, err := store.SMembers(ctx, "sessions")
	if err != nil {
		t.Fatalf("SMembers failed: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("members = %v, want 2", members)
	}

	store.SRem(ctx, "sessions", "s1")
	members, _ = store.SMembers(ctx, "sessions")
	if len(members) != 1 || members[0] != "s2" {
		t.Errorf("after SRem = %v, want [s2]", members)
	}
}

func TestSetEx_Expires(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SetEx(ctx, "marker", "1", time.Second); err != nil {
		t.Fatalf("SetEx failed: %v", err)
	}

	exists, err := store.Exists(ctx, "marker")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Fatal("marker should exist before TTL")
	}

	// Badger TTLs have second granularity.
	time.Sleep(1500 * time.Millisecond)

	exists, err = store.Exists(ctx, "marker")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Fatal("marker should have expired")
	}
}

func TestMutate_PreservesTTL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.HIncrBy(ctx, "bucket", "f", 1); err != nil {
		t.Fatalf("HIncrBy failed: %v", err)
	}
	if err := store.Expire(ctx, "bucket", time.Hour); err != nil {
		t.Fatalf("Expire failed: %v", err)
	}

	// A later increment must not clear the TTL (the key stays mortal) and
	// must not lose the value.
	if err := store.HIncrBy(ctx, "bucket", "f", 1); err != nil {
		t.Fatalf("HIncrBy failed: %v", err)
	}
	got, _ := store.HGetAll(ctx, "bucket")
	if got["f"] != "2" {
		t.Errorf("f = %q, want 2", got["f"])
	}
	exists, _ := store.Exists(ctx, "bucket")
	if !exists {
		t.Fatal("bucket should still exist within TTL")
	}
}

func TestExpire_MissingKeyIsNoop(t *testing.T) {
	store := newTestStore(t)

	if err := store.Expire(context.Background(), "ghost", time.Minute); err != nil {
		t.Fatalf("Expire failed: %v", err)
	}
	exists, _ := store.Exists(context.Background(), "ghost")
	if exists {
		t.Fatal("ghost should not exist")
	}
}
