package intent

import (
	"slices"
	"testing"
)

func TestExtractIDs(t *testing.T) {
	tests := []struct {
		query    string
		families []Family
		want     []string
	}{
		{"scrum-15 root cause", ValidationFamilies, []string{"SCRUM-15"}},
		{"compare SCRUM-1, SCRUM-2 and scrum-1?", ValidationFamilies, []string{"SCRUM-1", "SCRUM-2"}},
		{"what about inc0010001 (kafka)", ValidationFamilies, []string{"INC0010001"}},
		{"what about inc0010001", LookupFamilies, nil},
		{"show incidents for the login service", ValidationFamilies, nil},
		{"the incorrect owner is shown", ValidationFamilies, nil},
		{"scrum- is not an id", ValidationFamilies, nil},
		{"(SCRUM-7).", LookupFamilies, []string{"SCRUM-7"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got := ExtractIDs(tt.query, tt.families)
			if !slices.Equal(got, tt.want) {
				t.Errorf("ExtractIDs(%q) = %v, want %v", tt.query, got, tt.want)
			}
		})
	}
}

func TestLookupFamiliesOmitIncidents(t *testing.T) {
	if !slices.Contains(ValidationFamilies, IncidentFamily) {
		t.Error("incident IDs must be validated")
	}
	if slices.Contains(LookupFamilies, IncidentFamily) {
		t.Error("incident IDs must not be lookup targets")
	}
	if !slices.Contains(LookupFamilies, TrackerFamily) {
		t.Error("tracker IDs must be lookup targets")
	}
}

func TestClassify(t *testing.T) {
	valid := NewIDSet("SCRUM-15", "SCRUM-7", "INC0010001")
	tests := []struct {
		name     string
		query    string
		kind     Kind
		rule     string
		targetID string
		invalid  []string
	}{
		{"unknown tracker id", "SCRUM-99 why", InvalidIdentifier, "invalid-identifier", "", []string{"SCRUM-99"}},
		{"unknown incident id", "status of INC9999999", InvalidIdentifier, "invalid-identifier", "", []string{"INC9999999"}},
		{"invalid wins over listing", "list all defects like SCRUM-99", InvalidIdentifier, "invalid-identifier", "", []string{"SCRUM-99"}},
		{"several unknown ids sorted", "scrum-99 and scrum-42 root cause", InvalidIdentifier, "invalid-identifier", "", []string{"SCRUM-42", "SCRUM-99"}},
		{"root cause with id", "SCRUM-15 root cause", ExactRecord, "cause-lookup", "SCRUM-15", nil},
		{"solution with id", "how to fix scrum-7", ExactRecord, "cause-lookup", "SCRUM-7", nil},
		{"cause keyword beats listing", "who owns the fix for SCRUM-7", ExactRecord, "cause-lookup", "SCRUM-7", nil},
		{"cause keyword with incident only", "root cause of INC0010001", AllRecords, "cause-lookup", "", nil},
		{"cause keyword without id", "why do logins fail", AllRecords, "cause-lookup", "", nil},
		{"listing", "list all defects", AllRecords, "listing", "", nil},
		{"owner question", "who owns the login bug", AllRecords, "listing", "", nil},
		{"semantic", "mobile login button unresponsive", Semantic, "semantic", "", nil},
		{"valid id without keywords", "tell me about SCRUM-15", Semantic, "semantic", "", nil},
	}
	c := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.query, valid)
			if got.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Rule != tt.rule {
				t.Errorf("Rule = %q, want %q", got.Rule, tt.rule)
			}
			if got.TargetID != tt.targetID {
				t.Errorf("TargetID = %q, want %q", got.TargetID, tt.targetID)
			}
			if !slices.Equal(got.InvalidIDs, tt.invalid) {
				t.Errorf("InvalidIDs = %v, want %v", got.InvalidIDs, tt.invalid)
			}
		})
	}
}

func TestClassifyLowercasesQuery(t *testing.T) {
	got := New().Classify("  Mobile LOGIN Crash ", NewIDSet())
	if got.Query != "mobile login crash" {
		t.Errorf("Query = %q, want lower-cased and trimmed", got.Query)
	}
}

func TestClassifyRuleOrderIsConfigurable(t *testing.T) {
	c := NewWithRules([]Rule{
		{Name: "listing", Match: matchListing},
		{Name: "invalid-identifier", Match: matchInvalidIdentifier},
	})
	got := c.Classify("list SCRUM-99", NewIDSet())
	if got.Kind != AllRecords || got.Rule != "listing" {
		t.Errorf("got %v via %q, want all_records via listing", got.Kind, got.Rule)
	}

	got = c.Classify("plain query", NewIDSet())
	if got.Kind != Semantic || got.Rule != "none" {
		t.Errorf("got %v via %q, want semantic fallback", got.Kind, got.Rule)
	}
}

func TestIDSet(t *testing.T) {
	s := NewIDSet("SCRUM-2", "INC1", "SCRUM-10")
	if !s.Has("INC1") || s.Has("inc1") {
		t.Error("Has should be exact")
	}
	if s.Len() != 3 {
		t.Errorf("Len() = %d, want 3", s.Len())
	}
	want := []string{"INC1", "SCRUM-10", "SCRUM-2"}
	if got := s.Sorted(); !slices.Equal(got, want) {
		t.Errorf("Sorted() = %v, want %v", got, want)
	}
}

func TestTopicOf(t *testing.T) {
	tests := []struct {
		query string
		want  Topic
	}{
		{"show error logs", TopicError},
		{"kafka service issues", TopicService},
		{"What is the kafka api status", TopicDescription},
		{"kafka error payload", TopicError},
		{"check the kafka consumers", TopicAnalysis},
		{"current state of mongodb", TopicStatus},
		{"validate the downstream api", TopicValidation},
		{"mobile touch problems", TopicGeneral},
	}
	for _, tt := range tests {
		if got := TopicOf(tt.query); got != tt.want {
			t.Errorf("TopicOf(%q) = %s, want %s", tt.query, got, tt.want)
		}
	}
}
