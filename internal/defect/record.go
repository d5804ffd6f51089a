// Package defect holds the normalised defect/incident record shared by every
// stage of the answer pipeline.
package defect

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Sentinel values rendered in place of missing fields.
const (
	Unassigned    = "Unassigned"
	NoSolution    = "No solution provided"
	UnknownStatus = "Unknown"
	NoRootCause   = "No root cause specified"
	NoSummary     = "No summary"
	NotAvailable  = "N/A"
)

// Source identifies which upstream system a record came from.
type Source string

const (
	SourceTracker  Source = "tracker"
	SourceIncident Source = "incident"
)

// RootCauseKind tags which shape a root cause arrived in.
type RootCauseKind int

const (
	RootCauseAbsent RootCauseKind = iota
	RootCauseStructured
	RootCauseText
)

func (k RootCauseKind) String() string {
	switch k {
	case RootCauseStructured:
		return "structured"
	case RootCauseText:
		return "text"
	default:
		return "absent"
	}
}

// RootCause is either absent, a structure with a description and optional
// analysis logs, or a bare string. Text-shaped causes never carry logs.
type RootCause struct {
	Kind        RootCauseKind
	Description string
	Logs        string
}

// StructuredCause builds a structured root cause.
func StructuredCause(description, logs string) RootCause {
	return RootCause{Kind: RootCauseStructured, Description: description, Logs: logs}
}

// TextCause builds a bare-string root cause.
func TextCause(s string) RootCause {
	return RootCause{Kind: RootCauseText, Description: s}
}

// Text returns the description regardless of shape. Empty when absent.
func (rc RootCause) Text() string {
	if rc.Kind == RootCauseAbsent {
		return ""
	}
	return rc.Description
}

type causeAnalysis struct {
	Logs string `json:"logs,omitempty"`
}

type causeDoc struct {
	Description string         `json:"description"`
	Analysis    *causeAnalysis `json:"analysis,omitempty"`
}

// MarshalJSON writes the root cause back in the shape it arrived in: null,
// a bare string, or {"description", "analysis": {"logs"}}.
func (rc RootCause) MarshalJSON() ([]byte, error) {
	switch rc.Kind {
	case RootCauseText:
		return json.Marshal(rc.Description)
	case RootCauseStructured:
		d := causeDoc{Description: rc.Description}
		if rc.Logs != "" {
			d.Analysis = &causeAnalysis{Logs: rc.Logs}
		}
		return json.Marshal(d)
	default:
		return []byte("null"), nil
	}
}

func (rc *RootCause) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	parsed, err := rootCauseFrom(v)
	if err != nil {
		return err
	}
	*rc = parsed
	return nil
}

// rootCauseFrom interprets a decoded JSON or BSON value as a root cause.
func rootCauseFrom(v any) (RootCause, error) {
	switch val := v.(type) {
	case nil:
		return RootCause{}, nil
	case string:
		return TextCause(val), nil
	case map[string]any:
		desc := stringField(val, "description")
		var logs string
		if a, ok := val["analysis"].(map[string]any); ok {
			// Logs are kept verbatim.
			logs, _ = a["logs"].(string)
		}
		return StructuredCause(desc, logs), nil
	default:
		return RootCause{}, fmt.Errorf("%w: root cause has unsupported type %T", ErrMalformed, v)
	}
}

// Record is one normalised defect or incident.
type Record struct {
	ID        string    `json:"id"`
	Summary   string    `json:"summary"`
	Owner     string    `json:"owner,omitempty"`
	RootCause RootCause `json:"root_cause"`
	Solution  string    `json:"solution,omitempty"`
	URL       string    `json:"url,omitempty"`
	Status    string    `json:"status,omitempty"`
	// ErrorLog holds a top-level "Error log" field when the source had one.
	ErrorLog string `json:"error_log,omitempty"`
	Source   Source `json:"source,omitempty"`
}

func (r Record) SummaryOrDefault() string {
	if strings.TrimSpace(r.Summary) == "" {
		return NoSummary
	}
	return r.Summary
}

func (r Record) OwnerOrDefault() string {
	return or(r.Owner, Unassigned)
}

func (r Record) SolutionOrDefault() string {
	return or(r.Solution, NoSolution)
}

func (r Record) StatusOrDefault() string {
	return or(r.Status, UnknownStatus)
}

// RootCauseOr returns the root-cause text, or fallback when there is none.
func (r Record) RootCauseOr(fallback string) string {
	return or(r.RootCause.Text(), fallback)
}

// Logs returns the log text attached to the record. A literal error-log field
// wins over root-cause analysis logs.
func (r Record) Logs() string {
	if strings.TrimSpace(r.ErrorLog) != "" {
		return r.ErrorLog
	}
	if r.RootCause.Kind == RootCauseStructured {
		return r.RootCause.Logs
	}
	return ""
}

// Link returns the record URL, deriving it from base when the record has none.
func (r Record) Link(base string) string {
	if r.URL != "" {
		return r.URL
	}
	return JoinURL(base, r.ID)
}

// JoinURL resolves ref against base the way a browser resolves a relative
// link: "https://x/browse/" + "A-1" gives "https://x/browse/A-1".
func JoinURL(base, ref string) string {
	if base == "" {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return base + ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return base + ref
	}
	return b.ResolveReference(r).String()
}

func or(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// Dedupe keeps the first record for each ID and returns the IDs it dropped.
func Dedupe(records []Record) ([]Record, []string) {
	seen := make(map[string]bool, len(records))
	out := make([]Record, 0, len(records))
	var dropped []string
	for _, r := range records {
		if seen[r.ID] {
			dropped = append(dropped, r.ID)
			continue
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	return out, dropped
}
