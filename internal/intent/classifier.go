// Package intent decides, from the query text alone, which retrieval path a
// query takes.
package intent

import (
	"slices"
	"strings"
)

// Kind is the retrieval path chosen for a query.
type Kind int

const (
	// Semantic retrieves by vector similarity.
	Semantic Kind = iota
	// InvalidIdentifier short-circuits: the query names unknown records.
	InvalidIdentifier
	// ExactRecord targets the single record named by TargetID.
	ExactRecord
	// AllRecords selects the whole collection in storage order.
	AllRecords
)

func (k Kind) String() string {
	switch k {
	case InvalidIdentifier:
		return "invalid_identifier"
	case ExactRecord:
		return "exact_record"
	case AllRecords:
		return "all_records"
	default:
		return "semantic"
	}
}

// Intent is the classification of one query.
type Intent struct {
	Kind Kind
	// Rule names the rule that matched.
	Rule string
	// Query is the lower-cased query text.
	Query string
	// TargetID is set for ExactRecord.
	TargetID string
	// InvalidIDs lists unknown identifiers, sorted, for InvalidIdentifier.
	InvalidIDs []string
	// Mentioned holds every identifier from ValidationFamilies.
	Mentioned []string
	// LookupIDs holds identifiers from LookupFamilies only.
	LookupIDs []string
}

// Input is what a Rule sees.
type Input struct {
	Query     string
	ValidIDs  IDSet
	Mentioned []string
	LookupIDs []string
}

// Rule inspects an Input and either decides the Intent or passes.
type Rule struct {
	Name  string
	Match func(in Input) (Intent, bool)
}

// DefaultRules is the precedence order: unknown identifiers, then cause or
// solution questions, then listing, then similarity search.
var DefaultRules = []Rule{
	{Name: "invalid-identifier", Match: matchInvalidIdentifier},
	{Name: "cause-lookup", Match: matchCauseLookup},
	{Name: "listing", Match: matchListing},
	{Name: "semantic", Match: func(Input) (Intent, bool) { return Intent{Kind: Semantic}, true }},
}

// Classifier evaluates rules in order and returns the first match.
type Classifier struct {
	rules []Rule
}

// New creates a Classifier with DefaultRules.
func New() *Classifier {
	return &Classifier{rules: DefaultRules}
}

// NewWithRules creates a Classifier with a custom rule table.
func NewWithRules(rules []Rule) *Classifier {
	return &Classifier{rules: rules}
}

// Classify lower-cases query and runs the rule table against it.
func (c *Classifier) Classify(query string, valid IDSet) Intent {
	in := Input{
		Query:    strings.ToLower(strings.TrimSpace(query)),
		ValidIDs: valid,
	}
	in.Mentioned = ExtractIDs(in.Query, ValidationFamilies)
	in.LookupIDs = ExtractIDs(in.Query, LookupFamilies)

	for _, r := range c.rules {
		if it, ok := r.Match(in); ok {
			it.Rule = r.Name
			it.Query = in.Query
			it.Mentioned = in.Mentioned
			it.LookupIDs = in.LookupIDs
			return it
		}
	}
	return Intent{Kind: Semantic, Rule: "none", Query: in.Query, Mentioned: in.Mentioned, LookupIDs: in.LookupIDs}
}

func matchInvalidIdentifier(in Input) (Intent, bool) {
	var invalid []string
	for _, id := range in.Mentioned {
		if !in.ValidIDs.Has(id) {
			invalid = append(invalid, id)
		}
	}
	if len(invalid) == 0 {
		return Intent{}, false
	}
	slices.Sort(invalid)
	return Intent{Kind: InvalidIdentifier, InvalidIDs: invalid}, true
}

// matchCauseLookup targets the first tracker ID when the query asks about a
// cause or fix. Without a tracker ID the whole collection becomes the
// candidate set.
func matchCauseLookup(in Input) (Intent, bool) {
	if !CauseKeywords.In(in.Query) {
		return Intent{}, false
	}
	if len(in.LookupIDs) > 0 && in.ValidIDs.Has(in.LookupIDs[0]) {
		return Intent{Kind: ExactRecord, TargetID: in.LookupIDs[0]}, true
	}
	return Intent{Kind: AllRecords}, true
}

func matchListing(in Input) (Intent, bool) {
	if ListingKeywords.In(in.Query) {
		return Intent{Kind: AllRecords}, true
	}
	return Intent{}, false
}
