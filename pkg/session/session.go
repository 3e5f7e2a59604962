package session

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harun/parley/internal/observability"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"
)

// DefaultDisplayName is used when no display name is given.
const DefaultDisplayName = "Usuario"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a single conversation turn
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats is a point-in-time summary of a session.
type Stats struct {
	Messages      int
	UserMessages  int
	DisplayName   string
	CreatedAt     time.Time
	LastMessageAt time.Time
}

// Session is the conversation state of one user.
type Session struct {
	id          string
	createdAt   time.Time
	displayName string
	messages    []Message
	userCount   int
	mu          sync.RWMutex
	now         func() time.Time
}

// New creates an empty session. A blank display name falls back to DefaultDisplayName.
func New(displayName string) *Session {
	observability.EnsureRegistered()

	name := strings.TrimSpace(displayName)
	if name == "" {
		name = DefaultDisplayName
	}

	s := &Session{
		id:          uuid.NewString(),
		displayName: name,
		messages:    make([]Message, 0),
		now:         time.Now,
	}
	s.createdAt = s.now()

	log.Debug().Str("session_id", s.id).Str("display_name", name).Msg("Session created")
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Append records a message at the end of the history.
func (s *Session) Append(role Role, content string) Message {
	msg := Message{
		ID:      newMessageID(),
		Role:    role,
		Content: content,
	}

	s.mu.Lock()
	msg.Timestamp = s.now()
	s.messages = append(s.messages, msg)
	if role == RoleUser {
		s.userCount++
	}
	s.mu.Unlock()

	observability.RecordSessionMessage(string(role))
	return msg
}

// Clear empties the history. Counters are kept.
func (s *Session) Clear() {
	s.mu.Lock()
	removed := len(s.messages)
	s.messages = make([]Message, 0)
	s.mu.Unlock()

	observability.RecordSessionClear()
	log.Debug().Str("session_id", s.id).Int("removed", removed).Msg("Session cleared")
}

// History returns a copy of the messages in insertion order.
func (s *Session) History() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Last returns the most recent message, if any.
func (s *Session) Last() (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.messages) == 0 {
		return Message{}, false
	}
	return s.messages[len(s.messages)-1], true
}

// Len returns the number of messages in the history.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// UserMessageCount returns the number of user messages appended since the session began.
func (s *Session) UserMessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userCount
}

// DisplayName returns the name used as author for the user's messages.
func (s *Session) DisplayName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.displayName
}

// SetDisplayName changes the display name. Blank names are ignored.
func (s *Session) SetDisplayName(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}

	s.mu.Lock()
	s.displayName = name
	s.mu.Unlock()
	return true
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Messages:     len(s.messages),
		UserMessages: s.userCount,
		DisplayName:  s.displayName,
		CreatedAt:    s.createdAt,
	}
	if n := len(s.messages); n > 0 {
		st.LastMessageAt = s.messages[n-1].Timestamp
	}
	return st
}

// exportEntry is one line of a JSONL transcript export.
type exportEntry struct {
	SessionID string  `json:"sessionId"`
	Author    string  `json:"author"`
	Message   Message `json:"message"`
}

// Export writes the current history as JSON lines.
func (s *Session) Export(w io.Writer) (int, error) {
	history := s.History()
	author := s.DisplayName()

	enc := json.NewEncoder(w)
	for i, msg := range history {
		entry := exportEntry{
			SessionID: s.id,
			Author:    author,
			Message:   msg,
		}
		if msg.Role == RoleAssistant {
			entry.Author = string(RoleAssistant)
		}
		if err := enc.Encode(entry); err != nil {
			return i, fmt.Errorf("failed to write message %d: %w", i, err)
		}
	}
	return len(history), nil
}

func newMessageID() string {
	id, err := gonanoid.New()
	if err != nil {
		return uuid.NewString()
	}
	return id
}
