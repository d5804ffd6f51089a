package ingest

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bugbusters/bugbuster/internal/defect"
	"github.com/bugbusters/bugbuster/internal/storage"
)

type mockIncidents struct {
	fetchFn func(ctx context.Context) ([]map[string]any, error)
}

func (m *mockIncidents) FetchIncidents(ctx context.Context) ([]map[string]any, error) {
	return m.fetchFn(ctx)
}

// flakyWriter fails the first failures calls, then delegates to the store.
type flakyWriter struct {
	store    *storage.Store
	failures int32
	calls    atomic.Int32
}

func (f *flakyWriter) UpsertDefects(ctx context.Context, recs []defect.Record) error {
	if n := f.calls.Add(1); n <= f.failures {
		return fmt.Errorf("transient error %d", n)
	}
	return f.store.UpsertDefects(ctx, recs)
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

func enqueueTestJob(t *testing.T, store *storage.Store, id, jobType string, payload any) {
	t.Helper()
	job, err := NewJob(jobType, payload)
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	job.ID = id
	if err := store.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
}

// resetRunAfter sets run_after to now so the job is immediately claimable after FailJob backoff.
func resetRunAfter(t *testing.T, store *storage.Store, jobID string) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := store.DB().Exec(`UPDATE jobs SET run_after = ? WHERE id = ?`, now, jobID)
	if err != nil {
		t.Fatalf("resetRunAfter: %v", err)
	}
}

func jobStatus(t *testing.T, store *storage.Store, id string) (string, int) {
	t.Helper()
	var status string
	var attempts int
	if err := store.DB().QueryRow(`SELECT status, attempts FROM jobs WHERE id = ?`, id).Scan(&status, &attempts); err != nil {
		t.Fatalf("query job %s: %v", id, err)
	}
	return status, attempts
}

const sampleRCA = `Defect Summary:
Login button unresponsive on mobile

Detailed Root Cause:
Touch events are not captured
on small screens.

Error Logs:
TypeError: handler is undefined

Detailed Solution:
Register touchstart listeners.
`

func TestWorker_ProcessesRCAJob(t *testing.T) {
	store := openTestStore(t)
	enqueueTestJob(t, store, "job-rca", JobRCA, RCAPayload{
		BugID:    "SCRUM-15",
		BugURL:   "https://nish09.atlassian.net/browse/SCRUM-15",
		Owner:    "Nisha",
		Filename: "SCRUM-15-RCA.txt",
		Content:  base64.StdEncoding.EncodeToString([]byte(sampleRCA)),
	})

	var changed atomic.Int32
	w := NewWorker(store, store, nil, "", 0)
	w.OnChange(func(context.Context) { changed.Add(1) })

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}

	rec, err := store.GetDefect(context.Background(), "SCRUM-15")
	if err != nil {
		t.Fatalf("GetDefect: %v", err)
	}
	if rec.Summary != "Login button unresponsive on mobile" {
		t.Errorf("Summary = %q", rec.Summary)
	}
	if rec.RootCause.Text() != "Touch events are not captured on small screens." {
		t.Errorf("root cause = %q", rec.RootCause.Text())
	}
	if rec.Logs() != "TypeError: handler is undefined" || rec.Solution != "Register touchstart listeners." {
		t.Errorf("record = %+v", rec)
	}
	if status, _ := jobStatus(t, store, "job-rca"); status != "completed" {
		t.Errorf("status = %q, want completed", status)
	}
	if changed.Load() != 1 {
		t.Errorf("OnChange called %d times, want 1", changed.Load())
	}
}

func TestWorker_ProcessesBugJob(t *testing.T) {
	store := openTestStore(t)
	enqueueTestJob(t, store, "job-bug", JobBug, BugPayload{
		BugID:   "SCRUM-20",
		Summary: "Checkout slow under load",
		Comments: []string{
			"looks fine to me",
			"RCA below\nRoot cause:\nN+1 queries in cart service\nFix:\nBatch the lookups",
		},
	})

	w := NewWorker(store, store, nil, "", 0)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	rec, err := store.GetDefect(context.Background(), "SCRUM-20")
	if err != nil {
		t.Fatalf("GetDefect: %v", err)
	}
	if rec.RootCause.Text() != "N+1 queries in cart service" || rec.Solution != "Batch the lookups" {
		t.Errorf("record = %+v", rec)
	}
	if rec.Owner != defect.Unassigned {
		t.Errorf("Owner = %q", rec.Owner)
	}
}

func TestWorker_ProcessesServiceNowJob(t *testing.T) {
	store := openTestStore(t)
	enqueueTestJob(t, store, "job-sn", JobServiceNow, struct{}{})

	incidents := &mockIncidents{fetchFn: func(context.Context) ([]map[string]any, error) {
		return []map[string]any{
			{"number": "INC0010001", "short_description": "Kafka lag", "description": "<p>Rebalanced</p>", "sys_id": "a1"},
			{"number": "INC0010002", "short_description": "Policy service 500", "sys_id": "a2",
				"assigned_to": map[string]any{"display_value": "Ravi"}},
		}, nil
	}}
	w := NewWorker(store, store, incidents, "https://dev.service-now.com", 0)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	recs, err := store.ListDefects(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("stored %d records, want 2", len(recs))
	}
	if recs[0].ID != "INC0010001" || recs[0].Solution != "Rebalanced" || recs[0].Source != defect.SourceIncident {
		t.Errorf("first incident = %+v", recs[0])
	}
	if recs[1].Owner != "Ravi" {
		t.Errorf("assigned_to display value not used: %+v", recs[1])
	}
}

func TestWorker_ServiceNowNotConfigured(t *testing.T) {
	store := openTestStore(t)
	enqueueTestJob(t, store, "job-sn", JobServiceNow, struct{}{})

	w := NewWorker(store, store, nil, "", 0)
	didWork, err := w.RunOnce(context.Background())
	if err != nil || !didWork {
		t.Fatalf("RunOnce = %v, %v", didWork, err)
	}
	if status, attempts := jobStatus(t, store, "job-sn"); status != "pending" || attempts != 1 {
		t.Errorf("status=%q attempts=%d, want pending/1", status, attempts)
	}
}

func TestWorker_RetryOnFailure(t *testing.T) {
	store := openTestStore(t)
	enqueueTestJob(t, store, "job-r", JobRCA, RCAPayload{BugID: "SCRUM-1", Text: "Detailed Solution:\nRestart"})

	writer := &flakyWriter{store: store, failures: 2}
	w := NewWorker(store, writer, nil, "", 0)
	ctx := context.Background()

	// 1st attempt — fails
	if didWork, err := w.RunOnce(ctx); err != nil || !didWork {
		t.Fatalf("RunOnce 1 = %v, %v", didWork, err)
	}
	if status, attempts := jobStatus(t, store, "job-r"); status != "pending" || attempts != 1 {
		t.Errorf("after 1st fail: status=%q attempts=%d, want pending/1", status, attempts)
	}

	resetRunAfter(t, store, "job-r")

	// 2nd attempt — fails
	if didWork, err := w.RunOnce(ctx); err != nil || !didWork {
		t.Fatalf("RunOnce 2 = %v, %v", didWork, err)
	}
	if _, attempts := jobStatus(t, store, "job-r"); attempts != 2 {
		t.Errorf("after 2nd fail: attempts=%d, want 2", attempts)
	}

	resetRunAfter(t, store, "job-r")

	// 3rd attempt — succeeds
	if didWork, err := w.RunOnce(ctx); err != nil || !didWork {
		t.Fatalf("RunOnce 3 = %v, %v", didWork, err)
	}
	if status, _ := jobStatus(t, store, "job-r"); status != "completed" {
		t.Errorf("after 3rd attempt: status=%q, want completed", status)
	}
	if _, err := store.GetDefect(ctx, "SCRUM-1"); err != nil {
		t.Errorf("GetDefect: %v", err)
	}
}

func TestWorker_MaxRetriesExceeded(t *testing.T) {
	store := openTestStore(t)
	enqueueTestJob(t, store, "job-m", JobRCA, RCAPayload{BugID: "SCRUM-1", Filename: "rca.docx", Content: "aGVsbG8="})

	w := NewWorker(store, store, nil, "", 0)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		didWork, err := w.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce %d error: %v", i, err)
		}
		if !didWork {
			t.Fatalf("RunOnce %d returned false", i)
		}
		if i < 3 {
			resetRunAfter(t, store, "job-m")
		}
	}

	if status, _ := jobStatus(t, store, "job-m"); status != "failed" {
		t.Errorf("final status = %q, want %q", status, "failed")
	}
}

func TestWorker_NoJobs(t *testing.T) {
	store := openTestStore(t)
	w := NewWorker(store, store, nil, "", 0)
	didWork, err := w.RunOnce(context.Background())
	if err != nil || didWork {
		t.Errorf("RunOnce = %v, %v; want false, nil", didWork, err)
	}
}

func TestWorker_ConcurrentEnqueue(t *testing.T) {
	store := openTestStore(t)

	const goroutines = 5
	const jobsPerGoroutine = 10
	const total = goroutines * jobsPerGoroutine

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for j := 0; j < jobsPerGoroutine; j++ {
				id := fmt.Sprintf("SCRUM-%d%02d", g, j)
				job, err := NewJob(JobRCA, RCAPayload{BugID: id, Text: "Defect Summary:\nsummary " + id})
				if err != nil {
					t.Errorf("NewJob %s: %v", id, err)
					return
				}
				if err := store.EnqueueJob(job); err != nil {
					t.Errorf("EnqueueJob %s: %v", id, err)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	w := NewWorker(store, store, nil, "", 0)

	ctx := context.Background()
	deadline := time.After(5 * time.Second)
	processed := 0
	for processed < total {
		select {
		case <-deadline:
			t.Fatalf("timed out after processing %d/%d jobs", processed, total)
		default:
		}
		didWork, err := w.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce error at job %d: %v", processed, err)
		}
		if didWork {
			processed++
		}
	}

	n, err := store.CountDefects(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != total {
		t.Errorf("stored %d defects, want %d", n, total)
	}
}
