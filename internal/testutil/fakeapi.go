// Package testutil provides testing utilities.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// Route names used for error injection and request counting.
const (
	RouteSignin = "signin"
	RouteSignup = "signup"
	RouteList   = "list"
	RouteCreate = "create"
	RouteUpdate = "update"
	RouteToggle = "toggle"
	RouteDelete = "delete"
	RouteChat   = "chat"
)

// wireTime is the zone-less layout the real service emits.
const wireTime = "2006-01-02T15:04:05.000000"

// Failure is an injected response.
type Failure struct {
	Status      int
	ContentType string
	Body        string
}

// FakeTask is a task as stored by FakeAPI.
type FakeTask struct {
	ID          int
	Title       string
	Description *string
	Completed   bool
	Owner       int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type fakeUser struct {
	id       int
	email    string
	password string
}

// FakeAPI is an in-memory implementation of the remote task and assistant
// service, served over httptest.
type FakeAPI struct {
	Server *httptest.Server

	mu            sync.Mutex
	users         map[string]*fakeUser // email -> user
	tokens        map[string]int       // token -> user id
	tasks         map[int]*FakeTask
	conversations map[string]int // conversation id -> user id
	messages      map[string][]string
	nextUserID    int
	nextTaskID    int
	nextConvID    int
	nextToken     int
	counts        map[string]int
	headers       map[string]http.Header
	bodies        map[string][]byte

	fail          map[string]Failure
	failNext      map[string]Failure
	hold          map[string]chan struct{}
	flatLogin     bool
	omitLoginUser bool
	chatReply     func(message string) string
	chatToolCalls []string

	now func() time.Time
}

// NewFakeAPI starts a FakeAPI and stops it when the test ends.
func NewFakeAPI(t testing.TB) *FakeAPI {
	t.Helper()
	f := &FakeAPI{
		users:         make(map[string]*fakeUser),
		tokens:        make(map[string]int),
		tasks:         make(map[int]*FakeTask),
		conversations: make(map[string]int),
		messages:      make(map[string][]string),
		counts:        make(map[string]int),
		headers:       make(map[string]http.Header),
		bodies:        make(map[string][]byte),
		fail:          make(map[string]Failure),
		failNext:      make(map[string]Failure),
		hold:          make(map[string]chan struct{}),
		nextUserID:    1,
		nextTaskID:    1,
		nextConvID:    1,
		nextToken:     1,
		now:           func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/signin", f.route(RouteSignin, false, f.handleSignin))
	mux.HandleFunc("POST /api/auth/signup", f.route(RouteSignup, false, f.handleSignup))
	mux.HandleFunc("GET /api/tasks", f.route(RouteList, true, f.handleList))
	mux.HandleFunc("POST /api/tasks", f.route(RouteCreate, true, f.handleCreate))
	mux.HandleFunc("PUT /api/tasks/{id}", f.route(RouteUpdate, true, f.handleUpdate))
	mux.HandleFunc("PATCH /api/tasks/{id}/toggle", f.route(RouteToggle, true, f.handleToggle))
	mux.HandleFunc("DELETE /api/tasks/{id}", f.route(RouteDelete, true, f.handleDelete))
	mux.HandleFunc("POST /api/{userId}/chat", f.route(RouteChat, true, f.handleChat))

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the base URL of the fake.
func (f *FakeAPI) URL() string { return f.Server.URL }

// AddUser registers an account and returns its id.
func (f *FakeAPI) AddUser(email, password string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addUserLocked(email, password).id
}

func (f *FakeAPI) addUserLocked(email, password string) *fakeUser {
	u := &fakeUser{id: f.nextUserID, email: email, password: password}
	f.nextUserID++
	f.users[email] = u
	return u
}

// IssueToken returns a new valid token for userID.
func (f *FakeAPI) IssueToken(userID int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.issueTokenLocked(userID)
}

func (f *FakeAPI) issueTokenLocked(userID int) string {
	token := fmt.Sprintf("token-%d-%d", userID, f.nextToken)
	f.nextToken++
	f.tokens[token] = userID
	return token
}

// Revoke invalidates token; later requests carrying it get 401.
func (f *FakeAPI) Revoke(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokens, token)
}

// AddTask stores a task for owner and returns its id.
func (f *FakeAPI) AddTask(owner int, title string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	t := &FakeTask{ID: f.nextTaskID, Title: title, Owner: owner, CreatedAt: now, UpdatedAt: now}
	f.nextTaskID++
	f.tasks[t.ID] = t
	return t.ID
}

// RemoveTask deletes a task behind the client's back.
func (f *FakeAPI) RemoveTask(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tasks, id)
}

// Task returns a copy of the stored task.
func (f *FakeAPI) Task(id int) (FakeTask, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return FakeTask{}, false
	}
	return *t, true
}

// Messages returns the user messages received for a conversation.
func (f *FakeAPI) Messages(conversationID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages[conversationID]...)
}

// Count returns how many requests reached route.
func (f *FakeAPI) Count(route string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[route]
}

// TotalRequests returns the number of requests across all routes.
func (f *FakeAPI) TotalRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.counts {
		total += n
	}
	return total
}

// LastHeader returns the headers of the most recent request to route.
func (f *FakeAPI) LastHeader(route string) http.Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.headers[route].Clone()
}

// LastBody returns the body of the most recent request to route.
func (f *FakeAPI) LastBody(route string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.bodies[route]...)
}

// FailRoute makes every request to route answer with failure.
func (f *FakeAPI) FailRoute(route string, failure Failure) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[route] = failure
}

// FailNext makes only the next request to route answer with failure.
func (f *FakeAPI) FailNext(route string, failure Failure) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext[route] = failure
}

// Recover removes an injected failure.
func (f *FakeAPI) Recover(route string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.fail, route)
}

// HoldRoute blocks requests to route until the returned release func is called.
func (f *FakeAPI) HoldRoute(route string) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.hold[route] = ch
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.hold, route)
			f.mu.Unlock()
			close(ch)
		})
	}
}

// SetFlatLogin answers signin with top-level user_id/email instead of a nested user.
func (f *FakeAPI) SetFlatLogin(flat bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flatLogin = flat
}

// SetOmitLoginUser answers signin without any identity fields.
func (f *FakeAPI) SetOmitLoginUser(omit bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.omitLoginUser = omit
}

// SetChatReply sets how the assistant text is built. The default echoes the message.
func (f *FakeAPI) SetChatReply(reply func(message string) string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatReply = reply
}

// SetChatToolCalls sets the tool calls reported on every chat response.
func (f *FakeAPI) SetChatToolCalls(names ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatToolCalls = names
}

type handler func(w http.ResponseWriter, r *http.Request, userID int)

func (f *FakeAPI) route(name string, needsAuth bool, h handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if r.Body != nil {
			body, _ = readAll(r)
		}

		f.mu.Lock()
		f.counts[name]++
		f.headers[name] = r.Header.Clone()
		f.bodies[name] = body
		failure, failing := f.fail[name]
		if once, ok := f.failNext[name]; ok {
			failure, failing = once, true
			delete(f.failNext, name)
		}
		hold := f.hold[name]
		f.mu.Unlock()

		if hold != nil {
			<-hold
		}

		if failing {
			if failure.ContentType != "" {
				w.Header().Set("Content-Type", failure.ContentType)
			}
			w.WriteHeader(failure.Status)
			fmt.Fprint(w, failure.Body)
			return
		}

		userID := 0
		if needsAuth {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			f.mu.Lock()
			id, valid := f.tokens[token]
			f.mu.Unlock()
			if !ok || !valid {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Could not validate credentials"})
				return
			}
			userID = id
		}

		r.Body = nopBody(body)
		h(w, r, userID)
	}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (f *FakeAPI) handleSignin(w http.ResponseWriter, r *http.Request, _ int) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Email and password are required"})
		return
	}
	f.mu.Lock()
	u, ok := f.users[req.Email]
	if !ok || u.password != req.Password {
		f.mu.Unlock()
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid email or password"})
		return
	}
	token := f.issueTokenLocked(u.id)
	flat, omit := f.flatLogin, f.omitLoginUser
	f.mu.Unlock()

	resp := map[string]any{
		"message":      "Login successful",
		"access_token": token,
		"token_type":   "bearer",
	}
	switch {
	case omit:
	case flat:
		resp["user_id"] = u.id
		resp["email"] = u.email
	default:
		resp["user"] = map[string]any{"id": u.id, "email": u.email}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (f *FakeAPI) handleSignup(w http.ResponseWriter, r *http.Request, _ int) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Email and password are required"})
		return
	}
	if len(req.Password) < 8 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Password must be at least 8 characters"})
		return
	}
	f.mu.Lock()
	if _, exists := f.users[req.Email]; exists {
		f.mu.Unlock()
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Email already registered"})
		return
	}
	u := f.addUserLocked(req.Email, req.Password)
	token := f.issueTokenLocked(u.id)
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"message":      "User registered successfully",
		"user":         map[string]any{"id": u.id, "email": u.email},
		"access_token": token,
		"token_type":   "bearer",
	})
}

func (f *FakeAPI) handleList(w http.ResponseWriter, r *http.Request, userID int) {
	f.mu.Lock()
	var out []map[string]any
	for _, t := range f.tasks {
		if t.Owner == userID {
			out = append(out, taskJSON(t))
		}
	}
	f.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i]["id"].(int) < out[j]["id"].(int) })
	if out == nil {
		out = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, out)
}

type taskBody struct {
	Title       string  `json:"title"`
	Description *string `json:"description"`
}

func (f *FakeAPI) handleCreate(w http.ResponseWriter, r *http.Request, userID int) {
	var req taskBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"detail": []map[string]string{{"msg": "String should have at least 1 character"}},
		})
		return
	}
	f.mu.Lock()
	now := f.now()
	t := &FakeTask{ID: f.nextTaskID, Title: req.Title, Description: req.Description, Owner: userID, CreatedAt: now, UpdatedAt: now}
	f.nextTaskID++
	f.tasks[t.ID] = t
	resp := taskJSON(t)
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

func (f *FakeAPI) ownedTask(w http.ResponseWriter, r *http.Request, userID int) (*FakeTask, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "invalid task id"})
		return nil, false
	}
	t, ok := f.tasks[id]
	if !ok || t.Owner != userID {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Task not found"})
		return nil, false
	}
	return t, true
}

func (f *FakeAPI) handleUpdate(w http.ResponseWriter, r *http.Request, userID int) {
	var req taskBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "invalid body"})
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.ownedTask(w, r, userID)
	if !ok {
		return
	}
	t.Title = req.Title
	t.Description = req.Description
	t.UpdatedAt = f.now()
	writeJSON(w, http.StatusOK, taskJSON(t))
}

func (f *FakeAPI) handleToggle(w http.ResponseWriter, r *http.Request, userID int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.ownedTask(w, r, userID)
	if !ok {
		return
	}
	t.Completed = !t.Completed
	t.UpdatedAt = f.now()
	writeJSON(w, http.StatusOK, taskJSON(t))
}

func (f *FakeAPI) handleDelete(w http.ResponseWriter, r *http.Request, userID int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.ownedTask(w, r, userID)
	if !ok {
		return
	}
	delete(f.tasks, t.ID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Task deleted successfully"})
}

func (f *FakeAPI) handleChat(w http.ResponseWriter, r *http.Request, userID int) {
	if r.PathValue("userId") != strconv.Itoa(userID) {
		writeJSON(w, http.StatusForbidden, map[string]string{"detail": "Not authorized to access this user's conversations"})
		return
	}
	var req struct {
		ConversationID *string `json:"conversation_id"`
		Message        string  `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "invalid body"})
		return
	}

	f.mu.Lock()
	var convID string
	if req.ConversationID != nil {
		owner, ok := f.conversations[*req.ConversationID]
		if !ok || owner != userID {
			f.mu.Unlock()
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Conversation not found"})
			return
		}
		convID = *req.ConversationID
	} else {
		convID = strconv.Itoa(f.nextConvID)
		f.nextConvID++
		f.conversations[convID] = userID
	}
	f.messages[convID] = append(f.messages[convID], req.Message)
	reply := f.chatReply
	toolNames := f.chatToolCalls
	f.mu.Unlock()

	text := "You said: " + req.Message
	if reply != nil {
		text = reply(req.Message)
	}
	toolCalls := []map[string]any{}
	for _, name := range toolNames {
		toolCalls = append(toolCalls, map[string]any{"name": name, "arguments": map[string]any{}})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": convID,
		"response":        text,
		"tool_calls":      toolCalls,
	})
}

func taskJSON(t *FakeTask) map[string]any {
	return map[string]any{
		"id":          t.ID,
		"title":       t.Title,
		"description": t.Description,
		"completed":   t.Completed,
		"user_id":     t.Owner,
		"created_at":  t.CreatedAt.Format(wireTime),
		"updated_at":  t.UpdatedAt.Format(wireTime),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readAll(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

func nopBody(b []byte) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(b))
}
