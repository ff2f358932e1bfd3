package natskv_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/signaldesk/signaldesk/internal/adapter/natskv"
)

func setupCache(t *testing.T) *natskv.Cache {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(nc.Close)

	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatalf("jetstream: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bucket := "test-cache-" + uuid.New().String()[:8]
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: bucket,
		TTL:    time.Minute,
	})
	if err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = js.DeleteKeyValue(ctx, bucket)
	})

	return natskv.New(kv)
}

func TestCache_SetGetDelete(t *testing.T) {
	c := setupCache(t)
	ctx := context.Background()

	key := "reason.0a1b2c3d"
	if err := c.Set(ctx, key, []byte(`{"quality_score":8}`), time.Minute); err != nil {
		t.Fatal(err)
	}

	val, found, err := c.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected hit after Set")
	}
	if string(val) != `{"quality_score":8}` {
		t.Fatalf("unexpected value: %s", val)
	}

	if err := c.Delete(ctx, key); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := c.Get(ctx, key); found {
		t.Fatal("expected miss after Delete")
	}
}

func TestCache_MissAndAbsentDelete(t *testing.T) {
	c := setupCache(t)
	ctx := context.Background()

	_, found, err := c.Get(ctx, "reason.never-stored")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected miss")
	}

	if err := c.Delete(ctx, "reason.never-stored"); err != nil {
		t.Fatal("deleting an absent key should not error:", err)
	}
}
