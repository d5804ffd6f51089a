// Package composer turns a classified query and its candidate records into
// the final answer, either from a fixed template or by prompting a language
// model.
package composer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bugbusters/bugbuster/internal/conversation"
	"github.com/bugbusters/bugbuster/internal/intent"
	"github.com/bugbusters/bugbuster/internal/render"
	"github.com/bugbusters/bugbuster/internal/retrieval"
)

// ContentType tells the front-end how to display a message.
type ContentType string

const (
	ContentMarkdown ContentType = "markdown"
	ContentHTML     ContentType = "html"
)

// State names the composition path that produced an answer.
type State string

const (
	StateInvalidIdentifier State = "invalid_identifier"
	StateErrorLog          State = "error_log"
	StateService           State = "service"
	StateSolution          State = "solution"
	StateRootCause         State = "root_cause"
	StateDirectLookup      State = "direct_lookup"
	StateListing           State = "listing"
	StateFreeForm          State = "free_form"
)

// Answer is the composed response.
type Answer struct {
	Message     string
	ContentType ContentType
	State       State
	// Generated is true when a language model produced the text.
	Generated bool
}

// Generator completes a prompt. generation.Provider satisfies it.
type Generator interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// History is the per-conversation turn store consulted by free-form prompts.
type History interface {
	Recent(id string, n int) []conversation.Turn
	Append(id string, t conversation.Turn)
}

// Request carries everything one composition needs.
type Request struct {
	SessionID  string
	Query      string
	Intent     intent.Intent
	Candidates []retrieval.Candidate
	ValidIDs   intent.IDSet
}

// lower returns the lower-cased query keyword families are matched against.
func (r Request) lower() string {
	if r.Intent.Query != "" {
		return r.Intent.Query
	}
	return strings.ToLower(strings.TrimSpace(r.Query))
}

// lookupRecord returns the candidate named by the first tracker identifier.
func (r Request) lookupRecord() (retrieval.Candidate, bool) {
	if len(r.Intent.LookupIDs) == 0 {
		return retrieval.Candidate{}, false
	}
	id := r.Intent.LookupIDs[0]
	for _, c := range r.Candidates {
		if c.Record.ID == id {
			return c, true
		}
	}
	return retrieval.Candidate{}, false
}

// state is one row of the composition table. compose returns false to pass
// the request on to the next row.
type state struct {
	name    State
	compose func(c *Composer, req Request) (string, bool)
}

// states is evaluated top to bottom; the first match wins. Anything left
// over becomes a free-form answer.
var states = []state{
	{StateInvalidIdentifier, (*Composer).invalidIdentifier},
	{StateErrorLog, (*Composer).errorLogs},
	{StateService, (*Composer).serviceGroups},
	{StateSolution, (*Composer).solutionCard},
	{StateRootCause, (*Composer).rootCauseCard},
	{StateDirectLookup, (*Composer).detailsCard},
	{StateListing, (*Composer).listing},
}

// Options configure a Composer. Zero values take defaults.
type Options struct {
	// LinkBase is joined with a record ID when the record has no URL.
	LinkBase string
	// PromptTurns is how many recent turns a free-form prompt includes.
	PromptTurns int
	// MaxContextTokens bounds the rendered candidate block.
	MaxContextTokens int
	// SystemPrompt overrides the assistant persona.
	SystemPrompt string
}

// Composer is safe for concurrent use as long as its History is.
type Composer struct {
	gen              Generator
	history          History
	renderer         render.Renderer
	linkBase         string
	promptTurns      int
	maxContextTokens int
	systemPrompt     string
}

// New creates a Composer. history may be nil, in which case free-form
// prompts carry no conversation.
func New(gen Generator, history History, renderer render.Renderer, opts Options) *Composer {
	if opts.PromptTurns <= 0 {
		opts.PromptTurns = conversation.DefaultPromptTurns
	}
	if opts.MaxContextTokens <= 0 {
		opts.MaxContextTokens = defaultMaxContextTokens
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = SystemPrompt
	}
	if renderer == nil {
		renderer = render.NewMarkdown()
	}
	return &Composer{
		gen:              gen,
		history:          history,
		renderer:         renderer,
		linkBase:         opts.LinkBase,
		promptTurns:      opts.PromptTurns,
		maxContextTokens: opts.MaxContextTokens,
		systemPrompt:     opts.SystemPrompt,
	}
}

// Compose picks the first matching template state, falling back to a
// free-form answer. Only the free-form path can fail, and only when the
// generator does.
func (c *Composer) Compose(ctx context.Context, req Request) (Answer, error) {
	start := time.Now()
	for _, s := range states {
		if msg, ok := s.compose(c, req); ok {
			slog.Debug("composed answer", "state", s.name, "candidates", len(req.Candidates), "duration", time.Since(start))
			return Answer{Message: msg, ContentType: ContentMarkdown, State: s.name}, nil
		}
	}

	ans, err := c.freeForm(ctx, req)
	if err != nil {
		return Answer{}, err
	}
	slog.Debug("composed answer", "state", ans.State, "candidates", len(req.Candidates),
		"generated", ans.Generated, "duration", time.Since(start))
	return ans, nil
}

func (c *Composer) freeForm(ctx context.Context, req Request) (Answer, error) {
	if len(req.Candidates) == 0 {
		return Answer{Message: c.FormatResponse(NoMatchesMessage), ContentType: ContentHTML, State: StateFreeForm}, nil
	}

	var turns []conversation.Turn
	if c.history != nil {
		turns = c.history.Recent(req.SessionID, c.promptTurns)
	}
	prompt := c.BuildPrompt(req.Query, req.Candidates, turns)

	completion, err := c.gen.Complete(ctx, prompt)
	if err != nil {
		return Answer{}, fmt.Errorf("generating answer: %w", err)
	}

	if c.history != nil {
		c.history.Append(req.SessionID, conversation.Turn{Query: req.Query, Answer: completion, Timestamp: time.Now()})
	}
	return Answer{
		Message:     c.FormatResponse(completion),
		ContentType: ContentHTML,
		State:       StateFreeForm,
		Generated:   true,
	}, nil
}
