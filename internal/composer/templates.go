package composer

import (
	"fmt"
	"html"
	"strings"

	"github.com/bugbusters/bugbuster/internal/defect"
	"github.com/bugbusters/bugbuster/internal/intent"
	"github.com/bugbusters/bugbuster/internal/retrieval"
)

const (
	listingIntro = "Here are all the currently active defects in the system:"
	listingNote  = "Note: Only these defects are currently in our database. If you're looking for other defect IDs, they may have been resolved or not yet added."
)

func (c *Composer) link(r defect.Record) string {
	return fmt.Sprintf("[%s](%s)", r.ID, r.Link(c.linkBase))
}

func (c *Composer) invalidIdentifier(req Request) (string, bool) {
	if req.Intent.Kind != intent.InvalidIdentifier {
		return "", false
	}
	return fmt.Sprintf(`**Invalid Defect IDs**

The following defect IDs are not in the current database:
- %s

**Currently Active Defects:**
- %s

---
**Summary:**
Please check the list of active defects above and try your query with a valid defect ID.`,
		strings.Join(req.Intent.InvalidIDs, ", "),
		strings.Join(req.ValidIDs.Sorted(), ", ")), true
}

// errorLogs lists every candidate carrying log text, verbatim in a fenced
// block.
func (c *Composer) errorLogs(req Request) (string, bool) {
	if intent.TopicOf(req.lower()) != intent.TopicError {
		return "", false
	}
	var sb strings.Builder
	for _, cand := range req.Candidates {
		r := cand.Record
		logs := r.Logs()
		if strings.TrimSpace(logs) == "" {
			continue
		}
		fmt.Fprintf(&sb, "%s:\nSummary: %s\nLog: ```\n%s\n```\n\n", c.link(r), r.SummaryOrDefault(), logs)
	}
	if sb.Len() == 0 {
		return "", false
	}
	return "Error Log Analysis:\n\n" + sb.String(), true
}

// serviceGroups buckets candidates by the service their summary mentions. A
// record mentioning two services appears under both.
func (c *Composer) serviceGroups(req Request) (string, bool) {
	if intent.TopicOf(req.lower()) != intent.TopicService {
		return "", false
	}
	var sb strings.Builder
	for _, svc := range intent.Services {
		var group strings.Builder
		for _, cand := range req.Candidates {
			r := cand.Record
			if !strings.Contains(strings.ToLower(r.Summary), svc) {
				continue
			}
			fmt.Fprintf(&group, "- %s: %s\n", c.link(r), r.SummaryOrDefault())
			if rc := r.RootCause.Text(); rc != "" {
				fmt.Fprintf(&group, "  Root Cause: %s\n", rc)
			}
		}
		if group.Len() > 0 {
			fmt.Fprintf(&sb, "\n%s Service Issues:\n%s", strings.ToUpper(svc), group.String())
		}
	}
	if sb.Len() == 0 {
		return "", false
	}
	return "Service-related Issues Analysis:\n\n" + sb.String(), true
}

func (c *Composer) solutionCard(req Request) (string, bool) {
	if !intent.SolutionKeywords.In(req.lower()) {
		return "", false
	}
	cand, ok := req.lookupRecord()
	if !ok {
		return "", false
	}
	r := cand.Record
	return fmt.Sprintf(`Solution Details for %s:

Defect Summary: %s

Solution: %s

Root Cause: %s
Owner: %s`, c.link(r), r.SummaryOrDefault(), r.SolutionOrDefault(),
		r.RootCauseOr(defect.NotAvailable), r.OwnerOrDefault()), true
}

func (c *Composer) rootCauseCard(req Request) (string, bool) {
	if !intent.RootCauseKeywords.In(req.lower()) {
		return "", false
	}
	cand, ok := req.lookupRecord()
	if !ok {
		return "", false
	}
	r := cand.Record
	return fmt.Sprintf(`Root Cause Analysis for %s:

Defect Summary: %s

Root Cause: %s

Solution: %s

Owner: %s`, c.link(r), r.SummaryOrDefault(), r.RootCauseOr(defect.NoRootCause),
		r.SolutionOrDefault(), r.OwnerOrDefault()), true
}

func (c *Composer) detailsCard(req Request) (string, bool) {
	cand, ok := req.lookupRecord()
	if !ok {
		return "", false
	}
	r := cand.Record
	return fmt.Sprintf(`Defect Details for %s:

Summary: %s

Root Cause: %s

Solution: %s

Owner: %s

Status: %s`, c.link(r), r.SummaryOrDefault(), r.RootCauseOr(defect.NoRootCause),
		r.SolutionOrDefault(), r.OwnerOrDefault(), r.StatusOrDefault()), true
}

func (c *Composer) listing(req Request) (string, bool) {
	if !intent.ListKeywords.In(req.lower()) || len(req.Candidates) == 0 {
		return "", false
	}
	return listingIntro + "\n" + c.Table(req.Candidates) + "\n" + listingNote, true
}

// Table renders candidates as an HTML table of ID link, summary and owner, in
// candidate order.
func (c *Composer) Table(cands []retrieval.Candidate) string {
	var sb strings.Builder
	sb.WriteString(`<div class="defect-table">
<table border="1">
<thead>
<tr><th>Defect ID</th><th>Summary</th><th>Owner</th></tr>
</thead>
<tbody>
`)
	for _, cand := range cands {
		r := cand.Record
		fmt.Fprintf(&sb, "<tr><td><a href=\"%s\" target=\"_blank\">%s</a></td><td>%s</td><td>%s</td></tr>\n",
			html.EscapeString(r.Link(c.linkBase)), html.EscapeString(r.ID),
			html.EscapeString(r.SummaryOrDefault()), html.EscapeString(r.OwnerOrDefault()))
	}
	sb.WriteString("</tbody>\n</table>\n</div>")
	return sb.String()
}
