// Package chat manages the assistant conversation.
//
// The transcript lives in memory for the life of the process. Only the
// server-assigned conversation handle is durable.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"pkt.systems/pslog"

	"taskchat/internal/apperr"
	"taskchat/internal/credstore"
	"taskchat/internal/logx"
	"taskchat/internal/service"
)

// Fixed assistant notices.
const (
	NoticeSignIn     = "Please sign in to use the assistant."
	NoticeAuthFailed = "Authentication failed, please sign in again."
)

// Doer performs authenticated requests. *gateway.Gateway implements it.
type Doer interface {
	Do(ctx context.Context, method, path string, in, out any) error
}

// SessionSource is the part of the Session Manager the conversation needs.
type SessionSource interface {
	Current() service.Session
	Subscribe(fn func(service.Session)) (cancel func())
}

// Config wires a Manager.
type Config struct {
	Gateway  Doer
	Sessions SessionSource
	Store    credstore.Store
	Logger   pslog.Logger

	// Now and NewID default to time.Now and uuid.NewString.
	Now   func() time.Time
	NewID func() string
}

// Manager is the Conversation Manager.
type Manager struct {
	gw       Doer
	sessions SessionSource
	store    credstore.Store
	log      pslog.Logger
	now      func() time.Time
	newID    func() string
	cancel   func()

	mu     sync.Mutex
	gen    uint64
	handle string
	turns  []service.Turn
}

// New returns a Manager. The stored conversation handle is loaded when the
// current session is signed in.
func New(ctx context.Context, cfg Config) (*Manager, error) {
	m := &Manager{
		gw:       cfg.Gateway,
		sessions: cfg.Sessions,
		store:    cfg.Store,
		log:      logx.Or(cfg.Logger),
		now:      cfg.Now,
		newID:    cfg.NewID,
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}

	sess := m.sessions.Current()
	m.gen = sess.Generation
	if sess.Authenticated() {
		handle, ok, err := m.store.Get(ctx, credstore.KeyConversation)
		if err != nil {
			return nil, fmt.Errorf("load conversation handle: %w", err)
		}
		if ok {
			m.handle = handle
		}
	}
	m.cancel = m.sessions.Subscribe(m.onSession)
	return m, nil
}

// Close stops following session changes.
func (m *Manager) Close() {
	m.cancel()
}

// onSession forgets the handle when the session changes. The Session Manager
// has already removed it from the store.
func (m *Manager) onSession(sess service.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess.Generation <= m.gen {
		return
	}
	m.gen = sess.Generation
	if m.handle != "" {
		logx.WithConversation(m.log, m.handle).Debug("session changed, dropping conversation handle")
	}
	m.handle = ""
}

// Handle returns the conversation handle, or "" before the first reply.
func (m *Manager) Handle() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle
}

// Transcript returns a copy of all turns in append order.
func (m *Manager) Transcript() []service.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]service.Turn, len(m.turns))
	for i, t := range m.turns {
		t.ToolCalls = append([]string(nil), t.ToolCalls...)
		out[i] = t
	}
	return out
}

// Send appends the user's turn, then exactly one assistant turn closing it,
// and returns the closing turn. When that turn is a notice instead of a
// reply, the error says why. Whitespace-only input appends nothing and
// returns a zero Turn and nil.
func (m *Manager) Send(ctx context.Context, message string) (service.Turn, error) {
	if strings.TrimSpace(message) == "" {
		return service.Turn{}, nil
	}
	m.appendTurn(service.RoleUser, message, nil)

	sess := m.sessions.Current()
	if !sess.Authenticated() {
		return m.appendTurn(service.RoleAssistant, NoticeSignIn, nil), apperr.New(apperr.NotAuthenticated, "not signed in")
	}
	log := logx.WithUser(m.log, sess.User)

	req := chatRequest{Message: message}
	if h := m.Handle(); h != "" {
		req.ConversationID = &h
	}
	var resp chatResponse
	err := m.gw.Do(ctx, http.MethodPost, chatPath(sess.User.ID), req, &resp)
	if err == nil && resp.Response == nil {
		err = apperr.New(apperr.MalformedResponse, "the assistant sent an empty reply")
	}
	if err != nil {
		log.Debug("chat request failed", "kind", apperr.KindOf(err).String())
		text := apperr.MessageOf(err)
		if apperr.KindOf(err) == apperr.SessionExpired {
			text = NoticeAuthFailed
		}
		return m.appendTurn(service.RoleAssistant, text, nil), err
	}

	handle := resp.ConversationID.String()
	if err := m.adoptHandle(ctx, sess.Generation, handle); err != nil {
		log.Warn("failed to store conversation handle", "err", err)
	}
	logx.WithConversation(log, handle).Debug("assistant replied", "tool_calls", len(resp.ToolCalls))
	return m.appendTurn(service.RoleAssistant, *resp.Response, resp.toolNames()), nil
}

// adoptHandle keeps the first handle the server assigns for this session.
func (m *Manager) adoptHandle(ctx context.Context, gen uint64, handle string) error {
	if handle == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle != "" || m.gen != gen || m.sessions.Current().Generation != gen {
		return nil
	}
	if err := m.store.Set(ctx, credstore.KeyConversation, handle); err != nil {
		return err
	}
	m.handle = handle
	return nil
}

func (m *Manager) appendTurn(role service.Role, text string, tools []string) service.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	sentAt := m.now()
	// Turns are monotonic by send time even if the clock steps back.
	if n := len(m.turns); n > 0 && sentAt.Before(m.turns[n-1].SentAt) {
		sentAt = m.turns[n-1].SentAt
	}
	turn := service.Turn{ID: m.newID(), Role: role, Text: text, SentAt: sentAt, ToolCalls: tools}
	m.turns = append(m.turns, turn)
	turn.ToolCalls = append([]string(nil), tools...)
	return turn
}

func chatPath(userID int) string {
	return "/api/" + strconv.Itoa(userID) + "/chat"
}

type chatRequest struct {
	ConversationID *string `json:"conversation_id,omitempty"`
	Message        string  `json:"message"`
}

type chatResponse struct {
	ConversationID handleID   `json:"conversation_id"`
	Response       *string    `json:"response"`
	ToolCalls      []toolCall `json:"tool_calls"`
}

type toolCall struct {
	Name string `json:"name"`
}

func (r chatResponse) toolNames() []string {
	var names []string
	for _, tc := range r.ToolCalls {
		if tc.Name != "" {
			names = append(names, tc.Name)
		}
	}
	return names
}

// handleID accepts the conversation id as a JSON string or number.
type handleID string

func (h *handleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*h = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*h = handleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("conversation_id: %w", err)
	}
	*h = handleID(n.String())
	return nil
}

func (h handleID) String() string { return string(h) }
