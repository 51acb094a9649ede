package purge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docquer/docquer/internal/storage"
)

type mockPurger struct {
	mu     sync.Mutex
	purged []storage.PurgePayload
	fn     func(p storage.PurgePayload) error
}

func (m *mockPurger) PurgeIndex(_ context.Context, p storage.PurgePayload) error {
	if m.fn != nil {
		if err := m.fn(p); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purged = append(m.purged, p)
	return nil
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func enqueuePurge(t *testing.T, store *storage.Store, convID string, maxAttempts int) string {
	t.Helper()
	payload, _ := json.Marshal(storage.PurgePayload{IndexName: "docquer-" + convID, ConversationID: convID})
	id := "job-" + convID
	job := storage.Job{
		ID:          id,
		Type:        storage.JobPurgeIndex,
		PayloadJSON: string(payload),
		MaxAttempts: maxAttempts,
	}
	if err := store.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	return id
}

// resetRunAfter makes a job claimable immediately after FailJob's backoff.
func resetRunAfter(t *testing.T, store *storage.Store, jobID string) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := store.DB().Exec(`UPDATE jobs SET run_after = ? WHERE id = ?`, now, jobID); err != nil {
		t.Fatalf("resetRunAfter: %v", err)
	}
}

func jobStatus(t *testing.T, store *storage.Store, jobID string) (status string, attempts int) {
	t.Helper()
	if err := store.DB().QueryRow(`SELECT status, attempts FROM jobs WHERE id = ?`, jobID).Scan(&status, &attempts); err != nil {
		t.Fatalf("query job %s: %v", jobID, err)
	}
	return status, attempts
}

func TestWorker_PurgesIndex(t *testing.T) {
	store := openTestStore(t)
	id := enqueuePurge(t, store, "c1", 0)

	purger := &mockPurger{}
	w := NewWorker(store, purger, 0, nil)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}

	purger.mu.Lock()
	defer purger.mu.Unlock()
	if len(purger.purged) != 1 {
		t.Fatalf("purged %d indexes, want 1", len(purger.purged))
	}
	want := storage.PurgePayload{IndexName: "docquer-c1", ConversationID: "c1"}
	if purger.purged[0] != want {
		t.Errorf("payload = %+v, want %+v", purger.purged[0], want)
	}
	if status, _ := jobStatus(t, store, id); status != "completed" {
		t.Errorf("status = %q, want completed", status)
	}
}

func TestWorker_NoJobs(t *testing.T) {
	store := openTestStore(t)
	w := NewWorker(store, &mockPurger{}, 0, nil)

	didWork, err := w.RunOnce(context.Background())
	if err != nil || didWork {
		t.Fatalf("RunOnce = %v, %v; want false, nil", didWork, err)
	}
}

func TestWorker_RetriesUntilBackendRecovers(t *testing.T) {
	store := openTestStore(t)
	id := enqueuePurge(t, store, "c2", 5)

	var calls atomic.Int32
	w := NewWorker(store, &mockPurger{fn: func(storage.PurgePayload) error {
		if calls.Add(1) <= 2 {
			return fmt.Errorf("vector store unreachable")
		}
		return nil
	}}, 0, nil)

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		didWork, err := w.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce %d error: %v", i, err)
		}
		if !didWork {
			t.Fatalf("RunOnce %d returned false", i)
		}
		status, attempts := jobStatus(t, store, id)
		if i < 3 {
			if status != "pending" || attempts != i {
				t.Errorf("after attempt %d: status=%q attempts=%d, want pending/%d", i, status, attempts, i)
			}
			resetRunAfter(t, store, id)
		} else if status != "completed" {
			t.Errorf("after attempt %d: status=%q, want completed", i, status)
		}
	}
}

func TestWorker_GivesUpAfterMaxAttempts(t *testing.T) {
	store := openTestStore(t)
	id := enqueuePurge(t, store, "c3", 2)

	w := NewWorker(store, &mockPurger{fn: func(storage.PurgePayload) error {
		return fmt.Errorf("permanent error")
	}}, 0, nil)

	ctx := context.Background()
	for i := 1; i <= 2; i++ {
		if _, err := w.RunOnce(ctx); err != nil {
			t.Fatalf("RunOnce %d error: %v", i, err)
		}
		if i < 2 {
			resetRunAfter(t, store, id)
		}
	}

	if status, _ := jobStatus(t, store, id); status != "failed" {
		t.Errorf("final status = %q, want failed", status)
	}
}

func TestWorker_BadPayloadFails(t *testing.T) {
	store := openTestStore(t)
	if err := store.EnqueueJob(storage.Job{ID: "bad", Type: storage.JobPurgeIndex, PayloadJSON: "{", MaxAttempts: 1}); err != nil {
		t.Fatal(err)
	}
	purger := &mockPurger{}
	w := NewWorker(store, purger, 0, nil)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if status, _ := jobStatus(t, store, "bad"); status != "failed" {
		t.Errorf("status = %q, want failed", status)
	}
	if len(purger.purged) != 0 {
		t.Error("purger called with unparseable payload")
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	store := openTestStore(t)
	enqueuePurge(t, store, "c4", 0)
	purger := &mockPurger{}
	w := NewWorker(store, purger, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		purger.mu.Lock()
		n := len(purger.purged)
		purger.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("job not processed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
