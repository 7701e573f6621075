package optimistic

import (
	"sync"
	"testing"
)

func TestPlaceholderIDsAreNegativeAndUnique(t *testing.T) {
	seen := make(map[int64]bool)
	for i := 0; i < 100; i++ {
		id := PlaceholderID()
		if id >= 0 {
			t.Fatalf("Placeholder id %d is not negative", id)
		}
		if seen[id] {
			t.Fatalf("Placeholder id %d issued twice", id)
		}
		seen[id] = true
	}
}

// TestPlaceholderIDConcurrent verifies the counter is safe under
// concurrent writers from multiple UI actions.
func TestPlaceholderIDConcurrent(t *testing.T) {
	const goroutines = 8
	const perGoroutine = 50

	var mu sync.Mutex
	seen := make(map[int64]bool)
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				id := PlaceholderID()
				mu.Lock()
				if seen[id] {
					t.Errorf("Duplicate placeholder id %d", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
}

func TestIsPlaceholder(t *testing.T) {
	if !IsPlaceholder(-1) {
		t.Error("Expected -1 to be a placeholder")
	}
	if IsPlaceholder(0) || IsPlaceholder(1) {
		t.Error("Non-negative ids must not be placeholders")
	}
}
