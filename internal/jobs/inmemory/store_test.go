package inmemory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/bookkeeper/internal/jobs"
)

func TestStore_SaveGetIsolation(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	started := time.Now()
	job := &jobs.Job{JobID: "j1", Type: jobs.JobTypeExportTransaction, StartedAt: &started}
	if err := s.SaveJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	job.Status = jobs.JobStatusFailed
	got, err := s.GetJob(ctx, "j1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status == jobs.JobStatusFailed {
		t.Error("store shares memory with the saved job")
	}
	if got.StartedAt == job.StartedAt {
		t.Error("StartedAt pointer is shared")
	}

	if err := s.SaveJob(ctx, &jobs.Job{}); err == nil {
		t.Error("SaveJob() without ID succeeded")
	}
	if _, err := s.GetJob(ctx, "missing"); !errors.Is(err, jobs.ErrJobNotFound) {
		t.Errorf("GetJob(missing) error = %v", err)
	}
}

func TestStore_ListJobs(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, j := range []*jobs.Job{
		{JobID: "a", Type: jobs.JobTypeExportTransaction, UserID: "u1", Status: jobs.JobStatusCompleted},
		{JobID: "b", Type: jobs.JobTypeExportTransaction, UserID: "u2", Status: jobs.JobStatusFailed},
		{JobID: "c", Type: jobs.JobTypeArchiveReport, UserID: "u1", Status: jobs.JobStatusCompleted},
		{JobID: "d", Type: jobs.JobTypeExportTransaction, UserID: "u1", Status: jobs.JobStatusCompleted},
	} {
		j.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		s.SaveJob(ctx, j)
	}

	tests := []struct {
		name   string
		filter jobs.JobFilter
		want   []string
	}{
		{name: "all newest first", filter: jobs.JobFilter{}, want: []string{"d", "c", "b", "a"}},
		{name: "by type", filter: jobs.JobFilter{Type: jobs.JobTypeExportTransaction}, want: []string{"d", "b", "a"}},
		{name: "by user and status", filter: jobs.JobFilter{UserID: "u1", Status: jobs.JobStatusCompleted}, want: []string{"d", "c", "a"}},
		{name: "paged", filter: jobs.JobFilter{Limit: 2, Offset: 1}, want: []string{"c", "b"}},
		{name: "offset past end", filter: jobs.JobFilter{Offset: 10}, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListJobs(ctx, tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ListJobs() returned %d jobs, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].JobID != tt.want[i] {
					t.Errorf("position %d = %s, want %s", i, got[i].JobID, tt.want[i])
				}
			}
		})
	}
}

func TestStore_UpdateJobStatus(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	s.SaveJob(ctx, &jobs.Job{JobID: "j1", Status: jobs.JobStatusRunning})

	if err := s.UpdateJobStatus(ctx, "j1", jobs.JobStatusFailed, "boom"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetJob(ctx, "j1")
	if got.Status != jobs.JobStatusFailed || got.Error != "boom" {
		t.Errorf("job = %+v", got)
	}
	if err := s.UpdateJobStatus(ctx, "nope", jobs.JobStatusFailed, ""); !errors.Is(err, jobs.ErrJobNotFound) {
		t.Errorf("UpdateJobStatus(nope) error = %v", err)
	}
}
