package defect

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestRootCauseShapes(t *testing.T) {
	tests := []struct {
		name     string
		doc      map[string]any
		kind     RootCauseKind
		wantText string
		wantLogs string
	}{
		{
			name: "structured",
			doc: map[string]any{"bug_id": "SCRUM-1", "rootCause": map[string]any{
				"description": "Touch events not captured",
				"analysis":    map[string]any{"logs": "  at Foo.bar()\n"},
			}},
			kind:     RootCauseStructured,
			wantText: "Touch events not captured",
			wantLogs: "  at Foo.bar()\n",
		},
		{
			name:     "bare string",
			doc:      map[string]any{"bug_id": "SCRUM-2", "rootCause": "Race in cache warmup"},
			kind:     RootCauseText,
			wantText: "Race in cache warmup",
		},
		{
			name: "absent",
			doc:  map[string]any{"bug_id": "SCRUM-3"},
			kind: RootCauseAbsent,
		},
		{
			name: "unsupported type is dropped",
			doc:  map[string]any{"bug_id": "SCRUM-4", "rootCause": 42},
			kind: RootCauseAbsent,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := FromDocument(tt.doc)
			if err != nil {
				t.Fatalf("FromDocument: %v", err)
			}
			if r.RootCause.Kind != tt.kind {
				t.Errorf("kind = %v, want %v", r.RootCause.Kind, tt.kind)
			}
			if got := r.RootCause.Text(); got != tt.wantText {
				t.Errorf("Text() = %q, want %q", got, tt.wantText)
			}
			if got := r.Logs(); got != tt.wantLogs {
				t.Errorf("Logs() = %q, want %q", got, tt.wantLogs)
			}
		})
	}
}

func TestFieldDefaults(t *testing.T) {
	r := Record{ID: "SCRUM-9"}
	if got := r.OwnerOrDefault(); got != Unassigned {
		t.Errorf("OwnerOrDefault() = %q, want %q", got, Unassigned)
	}
	if got := r.SolutionOrDefault(); got != NoSolution {
		t.Errorf("SolutionOrDefault() = %q, want %q", got, NoSolution)
	}
	if got := r.StatusOrDefault(); got != UnknownStatus {
		t.Errorf("StatusOrDefault() = %q, want %q", got, UnknownStatus)
	}
	if got := r.RootCauseOr(NoRootCause); got != NoRootCause {
		t.Errorf("RootCauseOr() = %q, want %q", got, NoRootCause)
	}
	if got := r.SummaryOrDefault(); got != NoSummary {
		t.Errorf("SummaryOrDefault() = %q, want %q", got, NoSummary)
	}

	r = Record{ID: "SCRUM-9", Owner: "dana", Solution: "Patch", Status: "Done", RootCause: TextCause("Bad config")}
	if r.OwnerOrDefault() != "dana" || r.SolutionOrDefault() != "Patch" || r.StatusOrDefault() != "Done" {
		t.Errorf("defaults overrode set values: %+v", r)
	}
	if got := r.RootCauseOr(NoRootCause); got != "Bad config" {
		t.Errorf("RootCauseOr() = %q, want %q", got, "Bad config")
	}
}

func TestLogsPrefersErrorLogField(t *testing.T) {
	r := Record{ErrorLog: "NullPointerException", RootCause: StructuredCause("x", "analysis log")}
	if got := r.Logs(); got != "NullPointerException" {
		t.Errorf("Logs() = %q, want the error log field", got)
	}
	r.ErrorLog = "   "
	if got := r.Logs(); got != "analysis log" {
		t.Errorf("Logs() = %q, want the analysis log", got)
	}
}

func TestLink(t *testing.T) {
	base := "https://nish09.atlassian.net/browse/"
	if got := (Record{ID: "SCRUM-7"}).Link(base); got != "https://nish09.atlassian.net/browse/SCRUM-7" {
		t.Errorf("Link() = %q", got)
	}
	if got := (Record{ID: "SCRUM-7", URL: "https://x/y"}).Link(base); got != "https://x/y" {
		t.Errorf("Link() with URL = %q, want stored URL", got)
	}
	if got := JoinURL("https://jira.example.com/browse", "SCRUM-7"); got != "https://jira.example.com/SCRUM-7" {
		t.Errorf("JoinURL without trailing slash = %q", got)
	}
}

func TestFromDocumentFieldNames(t *testing.T) {
	r, err := FromDocument(map[string]any{
		"_id":            "abc",
		"bug_id":         "SCRUM-15",
		"Defect Summary": "Login button unresponsive on mobile",
		"owner":          "Nisha",
		"solution":       "Update listeners",
		"bug_url":        "https://jira/browse/SCRUM-15",
		"Error log":      "TypeError: undefined",
	})
	if err != nil {
		t.Fatalf("FromDocument: %v", err)
	}
	if r.ID != "SCRUM-15" || r.Summary != "Login button unresponsive on mobile" || r.Owner != "Nisha" {
		t.Errorf("unexpected record: %+v", r)
	}
	if r.URL != "https://jira/browse/SCRUM-15" {
		t.Errorf("URL = %q", r.URL)
	}
	if r.Logs() != "TypeError: undefined" {
		t.Errorf("Logs() = %q", r.Logs())
	}
	if r.Source != SourceTracker {
		t.Errorf("Source = %q, want tracker", r.Source)
	}
}

func TestFromDocumentMissingID(t *testing.T) {
	_, err := FromDocument(map[string]any{"Defect Summary": "orphan"})
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}

func TestFromIncident(t *testing.T) {
	r := FromIncident(map[string]any{
		"incident_id":       "INC0010001",
		"short_description": "Kafka consumer lag",
		"description":       "Consumer group rebalanced",
		"assigned_to":       map[string]any{"display_value": "Ravi"},
		"sys_id":            "abc123",
		"state":             "2",
	}, "https://dev.service-now.com/")

	if r.ID != "INC0010001" || r.Summary != "Kafka consumer lag" || r.Owner != "Ravi" {
		t.Errorf("unexpected record: %+v", r)
	}
	if r.Solution != "Consumer group rebalanced" || r.RootCause.Text() != "Consumer group rebalanced" {
		t.Errorf("description should be solution and root cause: %+v", r)
	}
	want := "https://dev.service-now.com/nav_to.do?uri=incident.do?sys_id=abc123"
	if r.URL != want {
		t.Errorf("URL = %q, want %q", r.URL, want)
	}

	empty := FromIncident(map[string]any{}, "https://sn")
	if empty.ID != "UNKNOWN" || empty.Owner != Unassigned || empty.Solution != NoSolution || empty.Summary != NoSummary {
		t.Errorf("incident defaults not applied: %+v", empty)
	}
}

func TestRecordJSONKeepsRootCauseShape(t *testing.T) {
	in := []Record{
		{ID: "A-1", RootCause: TextCause("bare")},
		{ID: "A-2", RootCause: StructuredCause("desc", "log")},
		{ID: "A-3"},
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out []Record
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	for i := range in {
		if out[i].RootCause != in[i].RootCause {
			t.Errorf("record %s: root cause = %+v, want %+v", in[i].ID, out[i].RootCause, in[i].RootCause)
		}
	}
}

func TestDedupe(t *testing.T) {
	recs := []Record{{ID: "A", Summary: "first"}, {ID: "B"}, {ID: "A", Summary: "second"}}
	out, dropped := Dedupe(recs)
	if len(out) != 2 || out[0].Summary != "first" {
		t.Errorf("Dedupe kept %+v", out)
	}
	if len(dropped) != 1 || dropped[0] != "A" {
		t.Errorf("dropped = %v, want [A]", dropped)
	}
}
