package defect

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrMalformed marks a source document that cannot become a Record.
var ErrMalformed = errors.New("malformed record")

// FromDocument normalises a tracker RCA document. Both the stored field
// names ("bug_id", "Defect Summary", "rootCause") and their snake_case
// equivalents are accepted. Nested documents must already be plain
// map[string]any values.
func FromDocument(doc map[string]any) (Record, error) {
	id := firstString(doc, "bug_id", "id", "incident_id")
	if id == "" {
		return Record{}, fmt.Errorf("%w: missing id", ErrMalformed)
	}

	rc, err := rootCauseFrom(firstValue(doc, "rootCause", "root_cause"))
	if err != nil {
		slog.Warn("ignoring root cause", "id", id, "error", err)
		rc = RootCause{}
	}

	return Record{
		ID:        id,
		Summary:   firstString(doc, "Defect Summary", "summary", "short_description"),
		Owner:     firstString(doc, "owner", "assignee", "assigned_to"),
		RootCause: rc,
		Solution:  firstString(doc, "solution"),
		URL:       firstString(doc, "url", "bug_url"),
		Status:    firstString(doc, "status", "state"),
		ErrorLog:  errorLog(doc),
		Source:    SourceTracker,
	}, nil
}

// FromIncident normalises an incident document as stored by the incident
// loader. The incident description doubles as both solution and root cause.
func FromIncident(doc map[string]any, serviceNowURL string) Record {
	desc := stringField(doc, "description")
	r := Record{
		ID:        or(stringField(doc, "incident_id"), "UNKNOWN"),
		Summary:   or(stringField(doc, "short_description"), NoSummary),
		Owner:     or(stringField(doc, "assigned_to"), Unassigned),
		Solution:  or(desc, NoSolution),
		RootCause: StructuredCause(desc, ""),
		URL:       stringField(doc, "url"),
		Status:    stringField(doc, "state"),
		Source:    SourceIncident,
	}
	if r.URL == "" {
		r.URL = IncidentURL(serviceNowURL, stringField(doc, "sys_id"))
	}
	return r
}

// IncidentURL links to an incident by sys_id.
func IncidentURL(serviceNowURL, sysID string) string {
	return strings.TrimRight(serviceNowURL, "/") + "/nav_to.do?uri=incident.do?sys_id=" + sysID
}

func firstValue(doc map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := doc[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstString(doc map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringField(doc, k); s != "" {
			return s
		}
	}
	return ""
}

func stringField(doc map[string]any, key string) string {
	switch v := doc[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		// Reference fields carry a display value.
		return stringField(v, "display_value")
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func errorLog(doc map[string]any) string {
	for _, k := range []string{"Error log", "error_log"} {
		if s, ok := doc[k].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}
