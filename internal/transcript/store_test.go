package transcript

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewStore(rdb, time.Hour), mr
}

func TestAppendAndGet(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	err := store.Append(ctx, "tenant-a", "abc",
		Entry{Role: RoleCaller, Text: "ik wil twee grote friet"},
		Entry{Role: RoleAssistant, Text: "Genoteerd.", State: "COLLECTING_DELIVERY"},
	)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Append(ctx, "tenant-a", "abc", Entry{Role: RoleCaller, Text: "afhalen"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	entries, err := store.Get(ctx, "tenant-a", "abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(entries) != 3 || entries[0].Text != "ik wil twee grote friet" || entries[2].Text != "afhalen" {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[1].State != "COLLECTING_DELIVERY" || entries[0].Timestamp.IsZero() {
		t.Fatalf("entry fields lost: %+v", entries[1])
	}
	if ttl := mr.TTL("transcript:tenant-a:abc"); ttl != time.Hour {
		t.Fatalf("ttl = %v", ttl)
	}
}

func TestTranscriptsAreTenantScoped(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	if err := store.Append(ctx, "tenant-a", "abc", Entry{Role: RoleCaller, Text: "hallo"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	entries, err := store.Get(ctx, "tenant-b", "abc")
	if err != nil || len(entries) != 0 {
		t.Fatalf("entries = %+v err = %v", entries, err)
	}
}

func TestAppendRequiresIDs(t *testing.T) {
	store, _ := newTestStore(t)
	if err := store.Append(context.Background(), "", "abc", Entry{Text: "x"}); err == nil {
		t.Fatal("expected error")
	}
}
