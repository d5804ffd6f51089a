package intent

import (
	"slices"
	"strings"
	"unicode"
)

// Family is a record-identifier scheme recognised by its prefix.
type Family struct {
	Name   string
	Prefix string
}

var (
	TrackerFamily  = Family{Name: "tracker", Prefix: "SCRUM-"}
	IncidentFamily = Family{Name: "incident", Prefix: "INC"}
)

// ValidationFamilies are checked against the valid-ID set: a mention of an
// unknown identifier from any of these families is rejected.
var ValidationFamilies = []Family{TrackerFamily, IncidentFamily}

// LookupFamilies are the identifiers that can target a single record for a
// lookup card. Incident IDs are validated but never targeted.
var LookupFamilies = []Family{TrackerFamily}

// ExtractIDs returns the identifiers from families mentioned in query,
// upper-cased, de-duplicated, in order of first mention. A token counts when
// it starts with a family prefix followed by a digit; surrounding punctuation
// is ignored.
func ExtractIDs(query string, families []Family) []string {
	var ids []string
	for _, tok := range strings.Fields(query) {
		tok = strings.ToUpper(strings.TrimFunc(tok, isTrimmable))
		for _, f := range families {
			if matchesFamily(tok, f) && !slices.Contains(ids, tok) {
				ids = append(ids, tok)
				break
			}
		}
	}
	return ids
}

// matchesFamily needs a digit after the prefix, so words such as
// "incorrect" or "incidents" are not identifiers.
func matchesFamily(tok string, f Family) bool {
	rest, ok := strings.CutPrefix(tok, f.Prefix)
	return ok && rest != "" && rest[0] >= '0' && rest[0] <= '9'
}

func isTrimmable(r rune) bool {
	return r != '-' && (unicode.IsPunct(r) || unicode.IsSymbol(r))
}

// Keywords is a family of substrings matched against the lower-cased query.
type Keywords []string

// In reports whether any keyword occurs in the lower-cased query.
func (k Keywords) In(query string) bool {
	for _, kw := range k {
		if strings.Contains(query, kw) {
			return true
		}
	}
	return false
}

var (
	// CauseKeywords route a query with a tracker ID straight to that record.
	CauseKeywords = Keywords{"root", "cause", "why", "solution", "fix", "resolve"}
	// ListingKeywords select the whole collection instead of similarity search.
	ListingKeywords = Keywords{"owner", "who", "list", "all defect"}

	SolutionKeywords  = Keywords{"solution", "fix", "resolve"}
	RootCauseKeywords = Keywords{"root", "cause", "why"}
	ListKeywords      = Keywords{"list", "all"}
	ErrorKeywords     = Keywords{"error", "log", "exception", "payload"}
	ServiceKeywords   = Keywords{"service", "kafka", "mongodb", "api", "downstream"}
)

// Topic is the single subject a query is filed under by TopicOf.
type Topic string

const (
	TopicDescription Topic = "description"
	TopicError       Topic = "error"
	TopicAnalysis    Topic = "analysis"
	TopicImpact      Topic = "impact"
	TopicStatus      Topic = "status"
	TopicValidation  Topic = "validation"
	TopicService     Topic = "service"
	TopicGeneral     Topic = "general"
)

// TopicFamily ties a Topic to the keywords that select it.
type TopicFamily struct {
	Topic    Topic
	Keywords Keywords
}

// Topics is checked in order and the first family with a keyword in the
// query wins, so "what is the kafka api status" is a description query
// and never reaches service grouping.
var Topics = []TopicFamily{
	{TopicDescription, Keywords{"what is", "describe", "explain", "tell me about"}},
	{TopicError, ErrorKeywords},
	{TopicAnalysis, Keywords{"analyze", "check", "investigate", "debug"}},
	{TopicImpact, Keywords{"impact", "affect", "consequence", "result"}},
	{TopicStatus, Keywords{"status", "state", "progress", "current"}},
	{TopicValidation, Keywords{"test", "verify", "validate", "qa"}},
	{TopicService, ServiceKeywords},
}

// TopicOf returns the first matching topic for query, or TopicGeneral.
func TopicOf(query string) Topic {
	lower := strings.ToLower(query)
	for _, f := range Topics {
		if f.Keywords.In(lower) {
			return f.Topic
		}
	}
	return TopicGeneral
}

// Services are the groups a service-related answer is split into, in order.
var Services = []string{"kafka", "mongodb", "notification", "login", "policy"}

// IDSet is an immutable set of valid record identifiers.
type IDSet struct {
	ids map[string]struct{}
}

// NewIDSet builds a set from ids.
func NewIDSet(ids ...string) IDSet {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return IDSet{ids: m}
}

func (s IDSet) Has(id string) bool {
	_, ok := s.ids[id]
	return ok
}

func (s IDSet) Len() int { return len(s.ids) }

// Sorted returns the identifiers in lexical order.
func (s IDSet) Sorted() []string {
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
