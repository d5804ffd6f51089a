// Package conversation keeps a short, bounded history of free-form exchanges
// per conversation.
package conversation

import (
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultMaxTurns    = 5
	DefaultPromptTurns = 3
	DefaultMaxSessions = 1024
)

// Turn is one completed exchange.
type Turn struct {
	Query     string    `json:"query"`
	Answer    string    `json:"answer"`
	Timestamp time.Time `json:"timestamp"`
}

type session struct {
	mu    sync.Mutex
	turns []Turn
}

// Store maps conversation IDs to their recent turns. Each conversation keeps
// at most maxTurns, dropping the oldest first. The least recently used
// conversation is forgotten once maxSessions is exceeded.
type Store struct {
	maxTurns int
	sessions *lru.Cache[string, *session]
	// mu serialises get-or-create so two first turns share one session.
	mu sync.Mutex
}

// New creates a Store. Non-positive limits fall back to the defaults.
func New(maxSessions, maxTurns int) (*Store, error) {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	c, err := lru.New[string, *session](maxSessions)
	if err != nil {
		return nil, fmt.Errorf("creating session cache: %w", err)
	}
	return &Store{maxTurns: maxTurns, sessions: c}, nil
}

func (s *Store) session(id string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions.Get(id); ok {
		return sess
	}
	sess := &session{}
	s.sessions.Add(id, sess)
	return sess
}

// Append records a turn for conversation id.
func (s *Store) Append(id string, t Turn) {
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	sess := s.session(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.turns = append(sess.turns, t)
	if over := len(sess.turns) - s.maxTurns; over > 0 {
		sess.turns = append([]Turn(nil), sess.turns[over:]...)
	}
}

// Recent returns up to n of the newest turns, oldest first.
func (s *Store) Recent(id string, n int) []Turn {
	sess, ok := s.sessions.Get(id)
	if !ok || n <= 0 {
		return nil
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	start := max(len(sess.turns)-n, 0)
	return append([]Turn(nil), sess.turns[start:]...)
}

// Len returns the number of stored turns for id.
func (s *Store) Len(id string) int {
	sess, ok := s.sessions.Peek(id)
	if !ok {
		return 0
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return len(sess.turns)
}

// Reset forgets conversation id.
func (s *Store) Reset(id string) {
	s.sessions.Remove(id)
}

// Sessions returns the number of tracked conversations.
func (s *Store) Sessions() int {
	return s.sessions.Len()
}

// Render formats turns for a prompt. No turns render as the empty string.
func Render(turns []Turn) string {
	if len(turns) == 0 {
		return ""
	}
	lines := make([]string, len(turns))
	for i, t := range turns {
		lines[i] = "User: " + t.Query + "\nAssistant: " + t.Answer
	}
	return "\nRecent conversation:\n" + strings.Join(lines, "\n")
}
