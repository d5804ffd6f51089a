package ingest

import (
	"strings"

	"github.com/bugbusters/bugbuster/internal/defect"
)

// rcaSections are header lines recognised without a trailing colon.
var rcaSections = []string{
	"defect summary", "description", "detailed root cause",
	"error logs", "analysis artifacts", "detailed solution",
}

// ParseRCA turns a sectioned RCA document into a record. A line ending in a
// colon, or one of the well-known headers, opens a section; the following
// non-blank lines are joined with spaces. Sections are routed by name:
// "logs" to the analysis logs, "root cause" to the description, "solution"
// to the solution and "summary" to the summary.
func ParseRCA(text, bugID, bugURL, owner string) defect.Record {
	var (
		order    []string
		sections = map[string][]string{}
		current  string
	)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.HasSuffix(line, ":") || isSectionHeader(line) {
			current = strings.TrimSpace(strings.Trim(line, ":"))
			if _, ok := sections[current]; !ok {
				order = append(order, current)
			}
			sections[current] = nil
			continue
		}
		if current != "" {
			sections[current] = append(sections[current], strings.TrimSpace(line))
		}
	}

	rec := defect.Record{
		ID:     bugID,
		URL:    bugURL,
		Owner:  owner,
		Source: defect.SourceTracker,
	}
	var desc, logs string
	var hasCause bool
	for _, name := range order {
		content := strings.Join(sections[name], " ")
		lower := strings.ToLower(name)
		switch {
		case strings.Contains(lower, "logs"):
			logs, hasCause = content, true
		case strings.Contains(lower, "artifacts"), strings.Contains(lower, "xml"):
			hasCause = true
		case strings.Contains(lower, "root cause"):
			desc, hasCause = content, true
		case strings.Contains(lower, "solution"):
			rec.Solution = content
		case strings.Contains(lower, "summary"):
			rec.Summary = content
		}
	}
	if hasCause {
		rec.RootCause = defect.StructuredCause(desc, logs)
	}
	if rec.Owner == "" {
		rec.Owner = defect.Unassigned
	}
	return rec
}

func isSectionHeader(line string) bool {
	lower := strings.ToLower(line)
	for _, s := range rcaSections {
		if lower == s {
			return true
		}
	}
	return false
}

// RCA is the root-cause information found in free text.
type RCA struct {
	Description string
	Solution    string
	Logs        string
}

func (r RCA) empty() bool { return r.Description == "" && r.Solution == "" }

type marker struct {
	prefix  string
	section string
}

var rcaMarkers = []marker{
	{"root cause:", "description"}, {"cause:", "description"}, {"reason:", "description"},
	{"solution:", "solution"}, {"fix:", "solution"}, {"resolution:", "solution"},
	{"error log:", "logs"}, {"stack trace:", "logs"}, {"exception:", "logs"},
}

// ExtractRCA scans free text for lines starting with a marker such as
// "Root cause:" or "Fix:" and collects the lines after each marker into the
// matching field. Text on the marker line itself is discarded.
func ExtractRCA(text string) RCA {
	buf := map[string]*strings.Builder{
		"description": {}, "solution": {}, "logs": {},
	}
	current := ""
	for _, line := range strings.Split(text, "\n") {
		lower := strings.ToLower(strings.TrimSpace(line))
		if s, ok := markerSection(lower); ok {
			current = s
			continue
		}
		if current != "" {
			buf[current].WriteString(line)
			buf[current].WriteByte('\n')
		}
	}
	return RCA{
		Description: strings.TrimSpace(buf["description"].String()),
		Solution:    strings.TrimSpace(buf["solution"].String()),
		Logs:        strings.TrimSpace(buf["logs"].String()),
	}
}

func markerSection(lower string) (string, bool) {
	for _, m := range rcaMarkers {
		if strings.HasPrefix(lower, m.prefix) {
			return m.section, true
		}
	}
	return "", false
}

type issueClass struct {
	keywords []string
	guess    RCA
}

// summaryClasses are checked in order; the first class with a keyword in
// the summary supplies a provisional analysis.
var summaryClasses = []issueClass{
	{
		keywords: []string{"button", "click", "tap", "interface", "unresponsive", "display", "screen", "mobile"},
		guess: RCA{
			Description: "Initial analysis indicates a UI/UX issue affecting user interaction with the interface.",
			Logs:        "User interaction events not being captured or processed correctly.",
			Solution:    "Investigate event handling and touch listeners on the affected UI elements.",
		},
	},
	{
		keywords: []string{"endpoint", "request", "response", "api", "service"},
		guess: RCA{
			Description: "Potential API integration or service communication issue.",
			Logs:        "API endpoint communication needs to be verified.",
			Solution:    "Check API endpoints and request/response handling.",
		},
	},
	{
		keywords: []string{"database", "data", "record", "null", "missing"},
		guess: RCA{
			Description: "Data handling or database interaction issue.",
			Logs:        "Data flow and database operations need verification.",
			Solution:    "Verify data persistence and retrieval operations.",
		},
	},
	{
		keywords: []string{"login", "authentication", "password", "credential", "session"},
		guess: RCA{
			Description: "Authentication or session management issue.",
			Logs:        "Authentication flow and session handling require investigation.",
			Solution:    "Review authentication process and session management.",
		},
	},
	{
		keywords: []string{"slow", "timeout", "performance", "latency", "loading"},
		guess: RCA{
			Description: "Performance optimization required.",
			Logs:        "Performance metrics indicate optimization needed.",
			Solution:    "Conduct performance profiling and optimization.",
		},
	},
}

var pendingAnalysis = RCA{
	Description: "Initial analysis pending. Bug reported for investigation.",
	Logs:        "No specific error patterns identified yet.",
	Solution:    "Investigation needed to determine root cause and solution.",
}

// AnalyzeSummary guesses a provisional analysis from a bug summary.
func AnalyzeSummary(summary string) RCA {
	lower := strings.ToLower(summary)
	for _, c := range summaryClasses {
		for _, k := range c.keywords {
			if strings.Contains(lower, k) {
				return c.guess
			}
		}
	}
	return pendingAnalysis
}

// BasicRCA builds a record for a bug that has no RCA attachment. Each field
// comes from the description first, then the first comment carrying RCA
// markers, then the summary-based guess.
func BasicRCA(bugID, bugURL, owner, summary, description string, comments []string) defect.Record {
	desc := ExtractRCA(description)

	var fromComment RCA
	for _, c := range comments {
		lower := strings.ToLower(c)
		if !containsAny(lower, "root cause", "rca", "fixed", "solution") {
			continue
		}
		if fromComment = ExtractRCA(c); !fromComment.empty() {
			break
		}
	}
	guess := AnalyzeSummary(summary)

	return defect.Record{
		ID:        bugID,
		URL:       bugURL,
		Owner:     firstNonEmpty(owner, defect.Unassigned),
		Summary:   summary,
		RootCause: defect.StructuredCause(
			firstNonEmpty(desc.Description, fromComment.Description, guess.Description),
			firstNonEmpty(desc.Logs, fromComment.Logs, guess.Logs),
		),
		Solution: firstNonEmpty(desc.Solution, fromComment.Solution, guess.Solution),
		Source:   defect.SourceTracker,
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
