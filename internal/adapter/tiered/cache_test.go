package tiered_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/phasegate/internal/adapter/tiered"
	"github.com/Strob0t/phasegate/internal/port/cache/cachetest"
)

// memCache is a simple in-memory cache for testing. When fail is set every
// call returns it.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
	fail error
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (m *memCache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, false, m.fail
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	delete(m.data, key)
	return nil
}

func TestTieredCompliance(t *testing.T) {
	cachetest.Run(t, tiered.New(newMemCache(), newMemCache(), 5*time.Minute))
}

func TestTieredCompliance_L1Only(t *testing.T) {
	cachetest.Run(t, tiered.New(newMemCache(), nil, 5*time.Minute))
}

func TestTiered_L2HitWithBackfill(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)
	ctx := context.Background()

	l2.data["plan.US-001"] = []byte("plan")

	val, found, err := c.Get(ctx, "plan.US-001")
	if err != nil {
		t.Fatal(err)
	}
	if !found || string(val) != "plan" {
		t.Fatalf("expected L2 hit, got %q %v", val, found)
	}
	if string(l1.data["plan.US-001"]) != "plan" {
		t.Fatal("expected L1 backfill")
	}
	if l1.ttls["plan.US-001"] != 5*time.Minute {
		t.Fatalf("expected backfill ttl 5m, got %v", l1.ttls["plan.US-001"])
	}
}

func TestTiered_L1TTLIsCapped(t *testing.T) {
	l1 := newMemCache()
	c := tiered.New(l1, newMemCache(), time.Minute)
	ctx := context.Background()

	_ = c.Set(ctx, "long", []byte("v"), time.Hour)
	_ = c.Set(ctx, "short", []byte("v"), time.Second)
	_ = c.Set(ctx, "forever", []byte("v"), 0)

	if l1.ttls["long"] != time.Minute || l1.ttls["short"] != time.Second || l1.ttls["forever"] != time.Minute {
		t.Fatalf("unexpected L1 ttls %v", l1.ttls)
	}
}

func TestTiered_L2FailureDegradesToMiss(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	l2.fail = errors.New("nats down")
	c := tiered.New(l1, l2, time.Minute)
	ctx := context.Background()

	_, found, err := c.Get(ctx, "k")
	if err != nil || found {
		t.Fatalf("expected silent miss, got %v %v", found, err)
	}
	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("expected L2 set failure to be tolerated, got %v", err)
	}
	if val, found, _ := c.Get(ctx, "k"); !found || string(val) != "v" {
		t.Fatal("expected L1 to serve the value")
	}
	if err := c.Delete(ctx, "k"); err == nil {
		t.Fatal("expected L2 delete failure to surface")
	}
}
