package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestNotifier(t *testing.T) *Notifier {
	s := miniredis.RunT(t)
	notifier, err := NewNotifier("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create notifier: %v", err)
	}
	t.Cleanup(func() { notifier.Close() })
	return notifier
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	notifier := setupTestNotifier(t)
	ctx := context.Background()

	var mu sync.Mutex
	var got []string
	sub, err := notifier.Subscribe(ctx, []string{EntityThreads, EntityReplies}, func(entity string) {
		mu.Lock()
		got = append(got, entity)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	if err := notifier.Publish(ctx, EntityThreads); err != nil {
		t.Fatalf("Publish threads failed: %v", err)
	}
	if err := notifier.Publish(ctx, EntityReplies); err != nil {
		t.Fatalf("Publish replies failed: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	seen := map[string]bool{}
	for _, entity := range got {
		seen[entity] = true
	}
	if !seen[EntityThreads] || !seen[EntityReplies] {
		t.Errorf("expected threads and replies events, got %v", got)
	}
}

func TestSubscriberIgnoresOtherEntities(t *testing.T) {
	notifier := setupTestNotifier(t)
	ctx := context.Background()

	var mu sync.Mutex
	count := 0
	sub, err := notifier.Subscribe(ctx, []string{EntityReactions}, func(string) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	if err := notifier.Publish(ctx, EntityThreads); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := notifier.Publish(ctx, EntityReactions); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})

	// Give the unrelated event a chance to arrive wrongly.
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("expected exactly 1 event, got %d", count)
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	notifier := setupTestNotifier(t)
	ctx := context.Background()

	var mu sync.Mutex
	count := 0
	sub, err := notifier.Subscribe(ctx, []string{EntityThreads}, func(string) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := notifier.Publish(ctx, EntityThreads); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Errorf("expected no events after Close, got %d", count)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	notifier := setupTestNotifier(t)

	sub, err := notifier.Subscribe(context.Background(), []string{EntityTags}, func(string) {})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}
