package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bugbusters/bugbuster/internal/defect"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()
	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) || len(v1) != 2 {
		t.Errorf("migrations = %v then %v, want two each", v1, v2)
	}
}

func TestSchemaObjectsExist(t *testing.T) {
	s := openTestStore(t)

	for _, obj := range []struct{ kind, name string }{
		{"table", "defects"},
		{"table", "interactions"},
		{"table", "jobs"},
		{"table", "embedding_cache"},
		{"index", "idx_interactions_created"},
		{"index", "idx_jobs_status_run_after"},
	} {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?", obj.kind, obj.name).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %s: %v", obj.name, err)
		}
		if count != 1 {
			t.Errorf("%s %q missing", obj.kind, obj.name)
		}
	}
}

func TestUpsertDefectKeepsPosition(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	recs := []defect.Record{
		{ID: "SCRUM-1", Summary: "login button unresponsive", RootCause: defect.StructuredCause("touch events", "at Foo()")},
		{ID: "SCRUM-2", Summary: "kafka lag", RootCause: defect.TextCause("consumer rebalance")},
		{ID: "INC0010001", Summary: "mongodb pool", Source: defect.SourceIncident},
	}
	if err := s.UpsertDefects(ctx, recs); err != nil {
		t.Fatalf("UpsertDefects: %v", err)
	}

	updated := recs[0]
	updated.Owner = "Nisha"
	if err := s.UpsertDefect(ctx, updated); err != nil {
		t.Fatalf("UpsertDefect: %v", err)
	}

	got, err := s.ListDefects(ctx)
	if err != nil {
		t.Fatalf("ListDefects: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d defects, want 3", len(got))
	}
	for i, want := range []string{"SCRUM-1", "SCRUM-2", "INC0010001"} {
		if got[i].ID != want {
			t.Errorf("got[%d].ID = %s, want %s", i, got[i].ID, want)
		}
	}
	if got[0].Owner != "Nisha" {
		t.Errorf("owner not updated: %+v", got[0])
	}
	if got[0].RootCause != recs[0].RootCause || got[1].RootCause != recs[1].RootCause {
		t.Errorf("root cause shape lost: %+v / %+v", got[0].RootCause, got[1].RootCause)
	}
	if got[2].RootCause.Kind != defect.RootCauseAbsent || got[2].Source != defect.SourceIncident {
		t.Errorf("incident row = %+v", got[2])
	}
	if got[1].Source != defect.SourceTracker {
		t.Errorf("default source = %q, want tracker", got[1].Source)
	}
}

func TestGetAndDeleteDefect(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertDefect(ctx, defect.Record{ID: "SCRUM-7", Summary: "x"}); err != nil {
		t.Fatalf("UpsertDefect: %v", err)
	}
	if r, err := s.GetDefect(ctx, "SCRUM-7"); err != nil || r.Summary != "x" {
		t.Fatalf("GetDefect = %+v, %v", r, err)
	}
	if err := s.DeleteDefect(ctx, "SCRUM-7"); err != nil {
		t.Fatalf("DeleteDefect: %v", err)
	}
	if _, err := s.GetDefect(ctx, "SCRUM-7"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetDefect after delete: err = %v, want ErrNotFound", err)
	}
	if err := s.DeleteDefect(ctx, "SCRUM-7"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: err = %v, want ErrNotFound", err)
	}
	if n, _ := s.CountDefects(ctx); n != 0 {
		t.Errorf("CountDefects = %d, want 0", n)
	}
}

func TestUpsertDefectRequiresID(t *testing.T) {
	s := openTestStore(t)
	err := s.UpsertDefect(context.Background(), defect.Record{Summary: "orphan"})
	if !errors.Is(err, defect.ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}

func TestSaveAndGetInteraction(t *testing.T) {
	s := openTestStore(t)

	in := Interaction{
		ID:           "int-1",
		CreatedAt:    time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		SessionID:    "conv-1",
		UserQuery:    "root cause of SCRUM-1",
		Intent:       "exact_record",
		State:        "root_cause",
		ContentType:  "markdown",
		Response:     "Root Cause Analysis for ...",
		CandidateIDs: `["SCRUM-1"]`,
		LatencyMS:    12,
	}
	if err := s.SaveInteraction(in); err != nil {
		t.Fatalf("SaveInteraction: %v", err)
	}

	got, err := s.GetInteraction("int-1")
	if err != nil {
		t.Fatalf("GetInteraction: %v", err)
	}
	if got.Status != "completed" {
		t.Errorf("Status = %q, want default completed", got.Status)
	}
	if !got.CreatedAt.Equal(in.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, in.CreatedAt)
	}
	got.Status = ""
	got.CreatedAt = in.CreatedAt
	if got != in {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, in)
	}

	if _, err := s.GetInteraction("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetRecentInteractions(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		session := "a"
		if i%2 == 1 {
			session = "b"
		}
		err := s.SaveInteraction(Interaction{
			ID:        fmt.Sprintf("int-%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			SessionID: session,
			UserQuery: "q",
		})
		if err != nil {
			t.Fatalf("SaveInteraction: %v", err)
		}
	}

	all, err := s.GetRecentInteractions("", 3)
	if err != nil {
		t.Fatalf("GetRecentInteractions: %v", err)
	}
	if len(all) != 3 || all[0].ID != "int-4" || all[2].ID != "int-2" {
		t.Errorf("recent = %v", ids(all))
	}

	b, err := s.GetRecentInteractions("b", 10)
	if err != nil {
		t.Fatalf("GetRecentInteractions(b): %v", err)
	}
	if len(b) != 2 || b[0].ID != "int-3" || b[1].ID != "int-1" {
		t.Errorf("session b = %v", ids(b))
	}

	if n, _ := s.CountInteractions(); n != 5 {
		t.Errorf("CountInteractions = %d, want 5", n)
	}
}

func ids(is []Interaction) []string {
	out := make([]string, len(is))
	for i, in := range is {
		out[i] = in.ID
	}
	return out
}

func TestEnqueueAndClaimJob(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j1", Type: "ingest_rca", PayloadJSON: `{"bug_id":"SCRUM-1"}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	got, err := s.ClaimNextJob([]string{"ingest_rca"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got == nil {
		t.Fatal("ClaimNextJob returned nil")
	}
	if got.ID != "j1" || got.Status != "running" || got.MaxAttempts != 3 {
		t.Errorf("claimed %+v", got)
	}

	again, err := s.ClaimNextJob([]string{"ingest_rca"})
	if err != nil || again != nil {
		t.Errorf("second claim = %+v, %v; want nothing", again, err)
	}

	if err := s.CompleteJob("j1"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	j, err := s.GetJob("j1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != "completed" {
		t.Errorf("status = %q, want completed", j.Status)
	}
}

func TestClaimNextJob_Filters(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "future", Type: "ingest_rca", PayloadJSON: `{}`, RunAfter: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if err := s.EnqueueJob(Job{ID: "other", Type: "ingest_incident", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	got, err := s.ClaimNextJob([]string{"ingest_rca"})
	if err != nil || got != nil {
		t.Errorf("claim = %+v, %v; want nothing runnable", got, err)
	}
	if got, _ := s.ClaimNextJob(nil); got != nil {
		t.Errorf("claim with no types = %+v", got)
	}
	got, err = s.ClaimNextJob([]string{"ingest_incident"})
	if err != nil || got == nil || got.ID != "other" {
		t.Errorf("claim = %+v, %v; want other", got, err)
	}
}

func TestFailJob_RetriesThenFails(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j", Type: "ingest_rca", PayloadJSON: `{}`, MaxAttempts: 2}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	before := time.Now().UTC()
	if err := s.FailJob("j", "parse error"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	j, err := s.GetJob("j")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != "pending" || j.Attempts != 1 || j.LastError != "parse error" {
		t.Errorf("after first failure: %+v", j)
	}
	if !j.RunAfter.After(before) {
		t.Errorf("run_after %v should be after %v", j.RunAfter, before)
	}

	if err := s.FailJob("j", "parse error"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	if j, _ = s.GetJob("j"); j.Status != "failed" {
		t.Errorf("status = %q, want failed", j.Status)
	}

	if err := s.FailJob("missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
