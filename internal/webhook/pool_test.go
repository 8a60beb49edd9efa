package webhook

import (
	"context"
	"sync"
	"testing"

	"github.com/promptlane/relay/internal/models"
)

func TestWorkerPoolProcessesAll(t *testing.T) {
	pool := NewWorkerPool(4, 16)

	var mu sync.Mutex
	seen := make(map[string]bool)

	pool.Start(context.Background(), func(_ context.Context, d *models.WebhookDelivery) {
		mu.Lock()
		seen[d.ID] = true
		mu.Unlock()
	})

	ctx := context.Background()
	want := 32
	for i := 0; i < want; i++ {
		d := &models.WebhookDelivery{ID: string(rune('a'+i%26)) + string(rune('0'+i/26))}
		if err := pool.Submit(ctx, d); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	pool.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != want {
		t.Errorf("processed %d distinct deliveries, want %d", len(seen), want)
	}
}

func TestWorkerPoolSubmitHonorsContext(t *testing.T) {
	pool := NewWorkerPool(1, 1)
	// Not started: the buffer fills and Submit must respect cancellation.
	ctx := context.Background()
	if err := pool.Submit(ctx, &models.WebhookDelivery{ID: "1"}); err != nil {
		t.Fatal(err)
	}

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := pool.Submit(canceled, &models.WebhookDelivery{ID: "2"}); err == nil {
		t.Error("submit into a full queue with a canceled context did not error")
	}
}
