package cache

import (
	"bytes"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestCache_BasicOperations(t *testing.T) {
	c := New(5*time.Minute, 10*time.Minute)

	t.Run("Set and Get", func(t *testing.T) {
		c.Set(Key("files/a.json", "e1"), []byte(`{"id":"VID123"}`))

		val, found := c.Get(Key("files/a.json", "e1"))
		if !found {
			t.Fatal("expected sample to be found")
		}
		if !bytes.Equal(val, []byte(`{"id":"VID123"}`)) {
			t.Errorf("unexpected sample %q", val)
		}
	})

	t.Run("different etag misses", func(t *testing.T) {
		if _, found := c.Get(Key("files/a.json", "e2")); found {
			t.Error("expected a new object version to miss")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		c.Set("k", []byte("v"))
		c.Delete("k")
		if _, found := c.Get("k"); found {
			t.Error("expected k to be deleted")
		}
	})
}

func TestCache_SetWithTTL(t *testing.T) {
	c := New(5*time.Minute, 10*time.Minute)
	c.SetWithTTL("expiring", []byte("x"), 50*time.Millisecond)

	if _, found := c.Get("expiring"); !found {
		t.Error("expected key to exist immediately")
	}

	time.Sleep(100 * time.Millisecond)

	if _, found := c.Get("expiring"); found {
		t.Error("expected key to be expired")
	}
}

func TestCache_Stats(t *testing.T) {
	c := New(5*time.Minute, 10*time.Minute)
	c.Set("a", []byte("1"))
	c.Set("b", []byte("2"))

	c.Get("a")
	c.Get("a")
	c.Get("missing")

	stats := c.GetStats()
	if stats.ItemCount != 2 {
		t.Errorf("expected ItemCount=2, got %d", stats.ItemCount)
	}
	if stats.Hits != 2 || stats.Misses != 1 {
		t.Errorf("expected 2 hits and 1 miss, got %d/%d", stats.Hits, stats.Misses)
	}

	c.Clear()
	if c.ItemCount() != 0 {
		t.Errorf("expected empty cache after Clear, got %d", c.ItemCount())
	}
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New(5*time.Minute, 10*time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			key := fmt.Sprintf("files/%d.mp4", id)
			c.Set(key, []byte(key))
			if v, ok := c.Get(key); !ok || string(v) != key {
				t.Errorf("goroutine %d read back %q", id, v)
			}
		}(i)
	}
	wg.Wait()

	if c.ItemCount() != 50 {
		t.Errorf("expected 50 items, got %d", c.ItemCount())
	}
}
