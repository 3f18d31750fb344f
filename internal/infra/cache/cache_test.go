package cache_test

import (
	"testing"
	"time"

	"github.com/boddenberg/bank-ledger-go/internal/infra/cache"
)

func TestCache_SetAndGet(t *testing.T) {
	c := cache.New[bool](5 * time.Minute)
	defer c.Close()

	c.Set("owner:1", true)
	val, ok := c.Get("owner:1")
	if !ok {
		t.Fatal("expected key to exist")
	}
	if !val {
		t.Errorf("expected true, got %v", val)
	}
}

func TestCache_GetMiss(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	_, ok := c.Get("nonexistent")
	if ok {
		t.Fatal("expected cache miss for nonexistent key")
	}
}

func TestCache_Expiration(t *testing.T) {
	c := cache.New[string](50 * time.Millisecond)
	defer c.Close()

	c.Set("key1", "value1")
	time.Sleep(100 * time.Millisecond)

	_, ok := c.Get("key1")
	if ok {
		t.Fatal("expected cache entry to be expired")
	}
}

func TestCache_CleanupEvicts(t *testing.T) {
	c := cache.New[string](20 * time.Millisecond)
	defer c.Close()

	c.Set("key1", "value1")
	time.Sleep(100 * time.Millisecond)

	if n := c.Len(); n != 0 {
		t.Errorf("expected cleanup to evict expired entries, %d left", n)
	}
}

func TestCache_Delete(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	c.Set("key1", "value1")
	c.Delete("key1")

	_, ok := c.Get("key1")
	if ok {
		t.Fatal("expected key to be deleted")
	}
}

func TestCache_CloseTwice(t *testing.T) {
	c := cache.New[int](time.Minute)
	c.Close()
	c.Close()
}
