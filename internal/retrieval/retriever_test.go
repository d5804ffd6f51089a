package retrieval

import (
	"context"
	"testing"

	"github.com/bugbusters/bugbuster/internal/defect"
	"github.com/bugbusters/bugbuster/internal/intent"
)

func testRecords() []defect.Record {
	return []defect.Record{
		{ID: "SCRUM-1", Summary: "login button unresponsive"},
		{ID: "SCRUM-2", Summary: "kafka consumer lag"},
		{ID: "SCRUM-3", Summary: "mongodb connection pool exhausted"},
	}
}

func newTestRetriever(t *testing.T) *Retriever {
	t.Helper()
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"login button unresponsive":         {1, 0, 0},
		"kafka consumer lag":                {0, 1, 0},
		"mongodb connection pool exhausted": {0, 0, 1},
		"why is login broken":               {0.9, 0.1, 0},
	}}
	recs := testRecords()
	texts := make([]string, len(recs))
	for i, r := range recs {
		texts[i] = r.Summary
	}
	idx := buildTestIndex(t, emb, texts...)
	r, err := NewRetriever(recs, idx, DefaultTopK, DefaultThreshold)
	if err != nil {
		t.Fatalf("NewRetriever: %v", err)
	}
	return r
}

func TestRetrieve_ExactRecord(t *testing.T) {
	r := newTestRetriever(t)
	got, err := r.Retrieve(context.Background(), "", intent.Intent{Kind: intent.ExactRecord, TargetID: "SCRUM-2"})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 || got[0].Record.ID != "SCRUM-2" || got[0].Scored {
		t.Errorf("got %+v, want unscored SCRUM-2", got)
	}

	got, _ = r.Retrieve(context.Background(), "", intent.Intent{Kind: intent.ExactRecord, TargetID: "SCRUM-99"})
	if len(got) != 0 {
		t.Errorf("unknown ID returned %+v", got)
	}
}

func TestRetrieve_AllRecordsKeepsStorageOrder(t *testing.T) {
	r := newTestRetriever(t)
	got, err := r.Retrieve(context.Background(), "list all", intent.Intent{Kind: intent.AllRecords})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	want := []string{"SCRUM-1", "SCRUM-2", "SCRUM-3"}
	if len(got) != len(want) {
		t.Fatalf("got %d candidates, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].Record.ID != id {
			t.Errorf("got[%d] = %s, want %s", i, got[i].Record.ID, id)
		}
	}
}

func TestRetrieve_InvalidIdentifierIsEmpty(t *testing.T) {
	r := newTestRetriever(t)
	got, err := r.Retrieve(context.Background(), "SCRUM-404", intent.Intent{Kind: intent.InvalidIdentifier})
	if err != nil || len(got) != 0 {
		t.Errorf("Retrieve = %+v, %v; want empty", got, err)
	}
}

func TestRetrieve_Semantic(t *testing.T) {
	r := newTestRetriever(t)
	got, err := r.Retrieve(context.Background(), "why is login broken", intent.Intent{Kind: intent.Semantic})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 || got[0].Record.ID != "SCRUM-1" || !got[0].Scored {
		t.Fatalf("got %+v, want scored SCRUM-1 only", got)
	}
	if got[0].Score <= DefaultThreshold {
		t.Errorf("score %f not above threshold", got[0].Score)
	}
}

func TestRelevanceScore(t *testing.T) {
	tests := []struct {
		score float64
		want  float64
	}{
		{0.87654, 87.65},
		{0.3, 30},
		{1, 100},
	}
	for _, tt := range tests {
		if got := (Candidate{Score: tt.score, Scored: true}).RelevanceScore(); got != tt.want {
			t.Errorf("RelevanceScore(%v) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestNewRetriever_LengthMismatch(t *testing.T) {
	idx := buildTestIndex(t, &fakeEmbedder{vectors: map[string][]float32{"a": {1}}}, "a")
	if _, err := NewRetriever(testRecords(), idx, 10, 0.3); err == nil {
		t.Fatal("expected error for mismatched index")
	}
}
