package rate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLimiter_NilNeverBlocks(t *testing.T) {
	lim := NewLimiter(0)
	if lim != nil {
		t.Fatal("NewLimiter(0) should return nil")
	}

	start := time.Now()
	for i := 0; i < 1000; i++ {
		if err := lim.Wait(context.Background()); err != nil {
			t.Fatalf("Wait() error: %v", err)
		}
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("nil limiter should not block")
	}
	if lim.Rate() != 0 {
		t.Errorf("Rate() = %v, want 0", lim.Rate())
	}
}

func TestLimiter_SpacesRequests(t *testing.T) {
	lim := NewLimiter(100) // 10ms per request

	start := time.Now()
	for i := 0; i < 10; i++ {
		if err := lim.Wait(context.Background()); err != nil {
			t.Fatalf("Wait() error: %v", err)
		}
	}
	elapsed := time.Since(start)

	if elapsed < 80*time.Millisecond {
		t.Errorf("10 requests at 100/s took %v, want >= ~90ms", elapsed)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("10 requests at 100/s took %v, too slow", elapsed)
	}
}

func TestLimiter_ConcurrentCallersShareRate(t *testing.T) {
	lim := NewLimiter(200) // 5ms per request

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				_ = lim.Wait(context.Background())
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	// 40 requests at 200/s need roughly 200ms.
	if elapsed < 150*time.Millisecond {
		t.Errorf("40 concurrent requests at 200/s took %v, rate not shared", elapsed)
	}
	if got := lim.Stats().Granted; got != 40 {
		t.Errorf("Granted = %d, want 40", got)
	}
}

func TestLimiter_WaitHonorsContext(t *testing.T) {
	lim := NewLimiter(1)
	_ = lim.Wait(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := lim.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want DeadlineExceeded", err)
	}
}

func TestLimiter_SetRate(t *testing.T) {
	lim := NewLimiter(10)
	lim.SetRate(50)
	if lim.Rate() != 50 {
		t.Errorf("Rate() = %v, want 50", lim.Rate())
	}

	lim.SetRate(-1)
	if lim.Rate() != 50 {
		t.Errorf("SetRate(-1) should be ignored, Rate() = %v", lim.Rate())
	}
}
