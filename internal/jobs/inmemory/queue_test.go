package inmemory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/bookkeeper/internal/jobs"
)

func waitForStatus(t *testing.T, s *Store, id string, want jobs.JobStatus) *jobs.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := s.GetJob(context.Background(), id)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := s.GetJob(context.Background(), id)
	t.Fatalf("job %s did not reach %s, last state %+v", id, want, job)
	return nil
}

func TestQueue_PublishAndProcess(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, store, WithWorkers(2))
	ctx := context.Background()

	var seen atomic.Value
	if err := q.Start(ctx, func(ctx context.Context, job *jobs.Job) error {
		seen.Store(job.TransactionID)
		return nil
	}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer q.Stop(ctx)

	job := &jobs.Job{Type: jobs.JobTypeExportTransaction, UserID: "u1", TransactionID: "tx1"}
	if err := q.Publish(ctx, job); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if job.JobID == "" || job.MaxRetries != jobs.DefaultMaxRetries {
		t.Errorf("Publish did not fill defaults: %+v", job)
	}

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	if done.StartedAt == nil || done.CompletedAt == nil {
		t.Errorf("timestamps missing: %+v", done)
	}
	if seen.Load() != "tx1" {
		t.Errorf("handler saw %v", seen.Load())
	}
}

func TestQueue_RetryThenSucceed(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, store, WithBackoff(time.Millisecond))
	ctx := context.Background()

	var calls int32
	q.Start(ctx, func(ctx context.Context, job *jobs.Job) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("warehouse unavailable")
		}
		return nil
	})
	defer q.Stop(ctx)

	job := &jobs.Job{Type: jobs.JobTypeArchiveReport, UserID: "u1", Month: "2025-05"}
	q.Publish(ctx, job)

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	if done.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", done.RetryCount)
	}
	if done.Error != "" {
		t.Errorf("Error = %q after success", done.Error)
	}
}

func TestQueue_RetriesExhausted(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, store, WithBackoff(time.Millisecond))
	ctx := context.Background()

	q.Start(ctx, func(ctx context.Context, job *jobs.Job) error {
		return errors.New("permanent")
	})
	defer q.Stop(ctx)

	job := &jobs.Job{Type: jobs.JobTypeDispatchReminders, MaxRetries: 1}
	q.Publish(ctx, job)

	failed := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	if failed.RetryCount != 1 || failed.Error != "permanent" {
		t.Errorf("failed job = %+v", failed)
	}
}

func TestQueue_PublishAfterStop(t *testing.T) {
	q := NewQueue(1, nil)
	if err := q.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := q.Publish(context.Background(), &jobs.Job{Type: jobs.JobTypeExportTransaction}); err == nil {
		t.Error("Publish() after Stop succeeded")
	}
	if err := q.Start(context.Background(), nil); err == nil {
		t.Error("Start() after Stop succeeded")
	}
}

func TestQueue_PublishBlockedByFullBufferUnblocksOnStop(t *testing.T) {
	q := NewQueue(1, nil)
	ctx := context.Background()
	if err := q.Publish(ctx, &jobs.Job{Type: jobs.JobTypeExportTransaction}); err != nil {
		t.Fatal(err)
	}

	errc := make(chan error, 1)
	go func() { errc <- q.Publish(ctx, &jobs.Job{Type: jobs.JobTypeExportTransaction}) }()
	time.Sleep(10 * time.Millisecond)
	q.Stop(ctx)

	select {
	case err := <-errc:
		if err == nil {
			t.Error("blocked Publish() returned nil after Stop")
		}
	case <-time.After(time.Second):
		t.Fatal("Publish() still blocked after Stop")
	}
}
