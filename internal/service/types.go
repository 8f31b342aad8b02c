// Package service defines the domain types and interfaces shared by the client components.
package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// User is the authenticated identity.
type User struct {
	ID    int    `json:"id"`
	Email string `json:"email"`
}

// Status is the session lifecycle state.
type Status int

const (
	Anonymous Status = iota
	Authenticating
	Authenticated
	Expired
)

func (s Status) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Expired:
		return "expired"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Session is a point-in-time copy of the session state.
// Token and User are set if and only if Status is Authenticated.
type Session struct {
	Status Status
	Token  string
	User   *User

	// Generation increases on every transition; responses issued under an
	// older generation belong to a session that no longer exists.
	Generation uint64
}

// Authenticated reports whether the session carries a usable identity.
func (s Session) Authenticated() bool {
	return s.Status == Authenticated && s.Token != "" && s.User != nil
}

// Task is a server-owned task item.
type Task struct {
	ID          int       `json:"id"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	Completed   bool      `json:"completed"`
	Owner       int       `json:"user_id"`
	CreatedAt   Timestamp `json:"created_at"`
	UpdatedAt   Timestamp `json:"updated_at"`
}

// Role is the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in the conversation transcript.
type Turn struct {
	ID     string
	Role   Role
	Text   string
	SentAt time.Time

	// ToolCalls names the task actions the assistant performed, if any.
	ToolCalls []string
}

// Timestamp accepts RFC 3339 and the zone-less ISO form the service emits.
// Zone-less values are taken as UTC.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("timestamp: unrecognized format %q", s)
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}
