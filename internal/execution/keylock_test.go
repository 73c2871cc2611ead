package execution

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"paper_trade/internal/domain"
)

func TestWithLockRunsFunction(t *testing.T) {
	kl := NewKeyLock(time.Second)

	ran := false
	err := kl.WithLock(context.Background(), "user1", "AAPL", func() error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock failed: %v", err)
	}
	if !ran {
		t.Error("expected fn to run")
	}
}

func TestWithLockPropagatesError(t *testing.T) {
	kl := NewKeyLock(time.Second)

	want := errors.New("boom")
	err := kl.WithLock(context.Background(), "user1", "AAPL", func() error {
		return want
	})
	if !errors.Is(err, want) {
		t.Errorf("expected fn error, got %v", err)
	}
}

func TestWithLockTimeout(t *testing.T) {
	kl := NewKeyLock(50 * time.Millisecond)

	held := make(chan struct{})
	release := make(chan struct{})
	go kl.WithLock(context.Background(), "user1", "AAPL", func() error {
		close(held)
		<-release
		return nil
	})
	<-held

	err := kl.WithLock(context.Background(), "user1", "AAPL", func() error {
		t.Error("fn must not run when the lock is held")
		return nil
	})
	if !errors.Is(err, domain.ErrLockTimeout) {
		t.Errorf("expected ErrLockTimeout, got %v", err)
	}

	close(release)
}

func TestKeysAreIndependent(t *testing.T) {
	kl := NewKeyLock(100 * time.Millisecond)

	held := make(chan struct{})
	release := make(chan struct{})
	go kl.WithLock(context.Background(), "user1", "AAPL", func() error {
		close(held)
		<-release
		return nil
	})
	<-held
	defer close(release)

	// Different symbol, same user
	if err := kl.WithLock(context.Background(), "user1", "MSFT", func() error { return nil }); err != nil {
		t.Errorf("(user1, MSFT) must not block on (user1, AAPL): %v", err)
	}

	// Different user, same symbol
	if err := kl.WithLock(context.Background(), "user2", "AAPL", func() error { return nil }); err != nil {
		t.Errorf("(user2, AAPL) must not block on (user1, AAPL): %v", err)
	}
}

func TestSerializationUnderContention(t *testing.T) {
	kl := NewKeyLock(5 * time.Second)

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := kl.WithLock(context.Background(), "user1", "AAPL", func() error {
				// Unsynchronized increment; the lock is the only guard
				v := counter
				time.Sleep(time.Microsecond)
				counter = v + 1
				return nil
			})
			if err != nil {
				t.Errorf("WithLock failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("expected 50 serialized increments, got %d", counter)
	}
}

func TestReleaseOnPanic(t *testing.T) {
	kl := NewKeyLock(100 * time.Millisecond)

	func() {
		defer func() { recover() }()
		kl.WithLock(context.Background(), "user1", "AAPL", func() error {
			panic("listener blew up")
		})
	}()

	// Lock must be free again
	if err := kl.WithLock(context.Background(), "user1", "AAPL", func() error { return nil }); err != nil {
		t.Errorf("lock not released after panic: %v", err)
	}
}

func TestContextCancellation(t *testing.T) {
	kl := NewKeyLock(5 * time.Second)

	held := make(chan struct{})
	release := make(chan struct{})
	go kl.WithLock(context.Background(), "user1", "AAPL", func() error {
		close(held)
		<-release
		return nil
	})
	<-held
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := kl.WithLock(ctx, "user1", "AAPL", func() error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestEntryCleanup(t *testing.T) {
	kl := NewKeyLock(time.Second)

	for i := 0; i < 10; i++ {
		kl.WithLock(context.Background(), "user1", "AAPL", func() error { return nil })
	}

	kl.mu.Lock()
	defer kl.mu.Unlock()
	if len(kl.entries) != 0 {
		t.Errorf("expected empty entry map after release, got %d entries", len(kl.entries))
	}
}
