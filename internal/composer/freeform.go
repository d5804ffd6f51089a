package composer

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/bugbusters/bugbuster/internal/conversation"
	"github.com/bugbusters/bugbuster/internal/defect"
	"github.com/bugbusters/bugbuster/internal/retrieval"
)

const defaultMaxContextTokens = 4000

// SystemPrompt is the assistant persona sent ahead of every free-form prompt.
const SystemPrompt = `You are Bugbuster, a friendly AI assistant that helps with defect analysis.

Keep your responses simple and clear, like this:
1. Start with a direct answer to the question
2. Add relevant details or examples if needed
3. End with "Summary: " followed by 1-2 sentences highlighting key points

Format:
- Use bullet points for lists
- Keep sentences short
- Highlight important terms in **bold**
- Link Jira tickets like [SCRUM-7](https://nish09.atlassian.net/browse/SCRUM-7)

Example response:
The login issue in [SCRUM-15] is caused by **event handling problems** in the mobile UI.

- Issue affects mobile users only
- Root cause: Touch events not being captured
- Solution: Update event listeners

Summary: Mobile login needs UI event handling fixes. Team should focus on touch event listeners.`

// NoMatchesMessage answers a free-form query that retrieved nothing.
const NoMatchesMessage = `I couldn't find any defects matching your query in the current database.

- Try rephrasing with terms from the defect summary
- Ask to **list all defects** to see what is available

Summary: No matching defect records were found for this query.`

const (
	answerInstruction = "Provide a clear, focused answer based on the available information. If the query is about specific aspects (owner, root cause, solution), only include that information."
	defaultSummary    = "Key points from the analysis"
	summaryMarker     = "Summary:"
	omittedNote       = "(%d more matching defect records were omitted to fit the context budget.)"
)

// summaryKeys mark lines worth lifting into a synthesised summary.
var summaryKeys = []string{"root cause:", "solution:", "status:", "owner:", "impact:"}

// BuildPrompt assembles the free-form prompt: persona, candidate records,
// recent turns and the user query. Candidates that would push the record
// block past the token budget are left out, lowest ranked first, and the
// prompt says how many were omitted.
func (c *Composer) BuildPrompt(query string, cands []retrieval.Candidate, turns []conversation.Turn) string {
	remaining := c.maxContextTokens
	var entries []string
	dropped := 0
	for _, cand := range cands {
		entry := c.contextEntry(cand)
		tokens := EstimateTokens(entry)
		if tokens > remaining {
			dropped++
			continue
		}
		entries = append(entries, entry)
		remaining -= tokens
	}
	if dropped > 0 {
		slog.Debug("context budget reached", "kept", len(entries), "dropped", dropped, "budget", c.maxContextTokens)
		entries = append(entries, fmt.Sprintf(omittedNote, dropped))
	}

	var sb strings.Builder
	sb.WriteString(c.systemPrompt)
	sb.WriteString("\n\nAvailable defect information:\n")
	sb.WriteString(strings.Join(entries, "\n\n"))
	sb.WriteString("\n\n")
	sb.WriteString(conversation.Render(turns))
	sb.WriteString("\n\nUser Query: ")
	sb.WriteString(query)
	sb.WriteString("\n\n")
	sb.WriteString(answerInstruction)
	return sb.String()
}

func (c *Composer) contextEntry(cand retrieval.Candidate) string {
	r := cand.Record
	entry := fmt.Sprintf("Defect: %s\nID: %s\nRoot Cause: %s\nSolution: %s\nOwner: %s",
		r.SummaryOrDefault(), c.link(r), r.RootCauseOr(defect.NotAvailable),
		orNA(r.Solution), orNA(r.Owner))
	if cand.Scored {
		entry += fmt.Sprintf("\nRelevance: %.2f%%", cand.RelevanceScore())
	}
	return entry
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return defect.NotAvailable
	}
	return s
}

// FormatResponse post-processes model output: it ensures a summary line,
// sets it apart, renders markdown to HTML and wraps the result in the
// response card.
func (c *Composer) FormatResponse(text string) string {
	if !strings.Contains(text, summaryMarker) {
		text += "\n\n" + summaryMarker + " " + SynthesizeSummary(text)
	}
	text = strings.ReplaceAll(text, summaryMarker, "\n---\n**Summary:**")
	return `<div class="response-card"><div class="response-content">` +
		c.renderer.Render(text) +
		`</div></div>`
}

// SynthesizeSummary builds a summary from the first non-empty line and any
// lines naming a root cause, solution, status, owner or impact, keeping at
// most three points.
func SynthesizeSummary(text string) string {
	lines := strings.Split(text, "\n")
	var points []string
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			points = append(points, l)
			break
		}
	}
	for _, l := range lines {
		l = strings.ToLower(strings.TrimSpace(l))
		for _, k := range summaryKeys {
			if strings.Contains(l, k) {
				points = append(points, l)
				break
			}
		}
	}
	if len(points) == 0 {
		return defaultSummary
	}
	return strings.Join(points[:min(len(points), 3)], " ")
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
