package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestDebouncerLocalWindow(t *testing.T) {
	d := NewDebouncer(nil, 50*time.Millisecond)
	ctx := context.Background()

	if d.Seen(ctx, "batch-1") {
		t.Error("unseen key reported seen")
	}
	d.Mark(ctx, "batch-1")
	if !d.Seen(ctx, "batch-1") {
		t.Error("marked key not seen inside the window")
	}
	if d.Seen(ctx, "batch-2") {
		t.Error("unrelated key reported seen")
	}

	time.Sleep(60 * time.Millisecond)
	if d.Seen(ctx, "batch-1") {
		t.Error("key still seen after the window expired")
	}
}

func TestDebouncerRedisWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	d := NewDebouncer(client, time.Minute)
	ctx := context.Background()

	d.Mark(ctx, "batch-1")
	if !d.Seen(ctx, "batch-1") {
		t.Error("marked key not seen via redis")
	}

	// A second debouncer sharing the redis sees the mark: the window spans
	// replicas.
	other := NewDebouncer(client, time.Minute)
	if !other.Seen(ctx, "batch-1") {
		t.Error("mark not visible across instances")
	}

	mr.FastForward(2 * time.Minute)
	if d.Seen(ctx, "batch-1") {
		t.Error("key still seen after redis TTL expired")
	}
}
