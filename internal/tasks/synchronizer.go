// Package tasks keeps a local cache of the signed-in user's tasks.
//
// The server is the source of truth. Entries change only after the server
// confirms an operation, and the whole cache is dropped whenever the session
// changes.
package tasks

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"pkt.systems/pslog"

	"taskchat/internal/apperr"
	"taskchat/internal/logx"
	"taskchat/internal/service"
)

// Field limits enforced before any request.
const (
	MaxTitleLength       = 255
	MaxDescriptionLength = 1000
)

const tasksPath = "/api/tasks"

// Doer performs authenticated requests. *gateway.Gateway implements it.
type Doer interface {
	Do(ctx context.Context, method, path string, in, out any) error
}

// SessionSource is the part of the Session Manager the synchronizer needs.
type SessionSource interface {
	Current() service.Session
	Subscribe(fn func(service.Session)) (cancel func())
}

// Synchronizer is the Task Synchronizer.
type Synchronizer struct {
	gw       Doer
	sessions SessionSource
	log      pslog.Logger
	cancel   func()

	mu    sync.Mutex
	gen   uint64
	tasks map[int]service.Task
}

// New returns a Synchronizer bound to the current session.
func New(gw Doer, sessions SessionSource, logger pslog.Logger) *Synchronizer {
	s := &Synchronizer{
		gw:       gw,
		sessions: sessions,
		log:      logx.Or(logger),
		gen:      sessions.Current().Generation,
		tasks:    make(map[int]service.Task),
	}
	s.cancel = sessions.Subscribe(s.onSession)
	return s
}

// Close stops following session changes.
func (s *Synchronizer) Close() {
	s.cancel()
}

func (s *Synchronizer) onSession(sess service.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked(sess.Generation)
}

// resetLocked drops the cache when gen is newer than the one it belongs to.
func (s *Synchronizer) resetLocked(gen uint64) {
	if gen <= s.gen {
		return
	}
	if len(s.tasks) > 0 {
		s.log.Debug("session changed, dropping task cache", "tasks", len(s.tasks), "generation", gen)
	}
	s.gen = gen
	s.tasks = make(map[int]service.Task)
}

// apply runs fn against the cache if the session that issued the request is
// still current, and reports whether it did.
func (s *Synchronizer) apply(gen uint64, fn func(map[int]service.Task)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked(s.sessions.Current().Generation)
	if s.gen != gen {
		s.log.Debug("discarding response for ended session", "generation", gen)
		return false
	}
	fn(s.tasks)
	return true
}

// List replaces the cache with the server's tasks.
func (s *Synchronizer) List(ctx context.Context) ([]service.Task, error) {
	gen := s.sessions.Current().Generation
	var got []service.Task
	if err := s.gw.Do(ctx, http.MethodGet, tasksPath, nil, &got); err != nil {
		return nil, err
	}
	s.apply(gen, func(m map[int]service.Task) {
		clear(m)
		for _, t := range got {
			m[t.ID] = t
		}
	})
	s.log.Debug("tasks listed", "count", len(got))
	return sortTasks(got), nil
}

// Create inserts the server-assigned task once the server confirms it.
func (s *Synchronizer) Create(ctx context.Context, title string, description *string) (service.Task, error) {
	body, err := newTaskBody(title, description)
	if err != nil {
		return service.Task{}, err
	}
	gen := s.sessions.Current().Generation
	var created service.Task
	if err := s.gw.Do(ctx, http.MethodPost, tasksPath, body, &created); err != nil {
		return service.Task{}, err
	}
	if created.ID == 0 {
		return service.Task{}, apperr.New(apperr.MalformedResponse, "created task has no id")
	}
	s.apply(gen, func(m map[int]service.Task) { m[created.ID] = created })
	logx.WithTask(s.log, created.ID).Debug("task created")
	return created, nil
}

// Update replaces title and description.
func (s *Synchronizer) Update(ctx context.Context, id int, title string, description *string) (service.Task, error) {
	if err := validateID(id); err != nil {
		return service.Task{}, err
	}
	body, err := newTaskBody(title, description)
	if err != nil {
		return service.Task{}, err
	}
	return s.replace(ctx, http.MethodPut, taskPath(id), body, id)
}

// Toggle flips completion. The local entry takes the server's answer; nothing
// is flipped before the response arrives.
func (s *Synchronizer) Toggle(ctx context.Context, id int) (service.Task, error) {
	if err := validateID(id); err != nil {
		return service.Task{}, err
	}
	return s.replace(ctx, http.MethodPatch, taskPath(id)+"/toggle", nil, id)
}

func (s *Synchronizer) replace(ctx context.Context, method, path string, body any, id int) (service.Task, error) {
	gen := s.sessions.Current().Generation
	var updated service.Task
	if err := s.gw.Do(ctx, method, path, body, &updated); err != nil {
		return service.Task{}, err
	}
	if updated.ID != id {
		return service.Task{}, apperr.Newf(apperr.MalformedResponse, "server returned task %d for task %d", updated.ID, id)
	}
	s.apply(gen, func(m map[int]service.Task) { m[id] = updated })
	logx.WithTask(s.log, id).Debug("task replaced", "completed", updated.Completed)
	return updated, nil
}

// Delete removes a task. A task the server no longer has counts as deleted.
func (s *Synchronizer) Delete(ctx context.Context, id int) error {
	if err := validateID(id); err != nil {
		return err
	}
	gen := s.sessions.Current().Generation
	err := s.gw.Do(ctx, http.MethodDelete, taskPath(id), nil, nil)
	if err != nil && apperr.StatusOf(err) == http.StatusNotFound && apperr.KindOf(err) == apperr.RequestFailed {
		logx.WithTask(s.log, id).Debug("task already gone")
		err = nil
	}
	if err != nil {
		return err
	}
	s.apply(gen, func(m map[int]service.Task) { delete(m, id) })
	logx.WithTask(s.log, id).Debug("task deleted")
	return nil
}

// Snapshot returns the cached tasks ordered by id.
func (s *Synchronizer) Snapshot() []service.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked(s.sessions.Current().Generation)
	out := make([]service.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return sortTasks(out)
}

// Lookup returns the cached task with id.
func (s *Synchronizer) Lookup(id int) (service.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked(s.sessions.Current().Generation)
	t, ok := s.tasks[id]
	return t, ok
}

type taskBody struct {
	Title       string  `json:"title"`
	Description *string `json:"description"`
}

func newTaskBody(title string, description *string) (taskBody, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return taskBody{}, apperr.New(apperr.ValidationError, "title is required")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return taskBody{}, apperr.Newf(apperr.ValidationError, "title must be at most %d characters", MaxTitleLength)
	}
	body := taskBody{Title: title}
	if description != nil {
		d := strings.TrimSpace(*description)
		if utf8.RuneCountInString(d) > MaxDescriptionLength {
			return taskBody{}, apperr.Newf(apperr.ValidationError, "description must be at most %d characters", MaxDescriptionLength)
		}
		if d != "" {
			body.Description = &d
		}
	}
	return body, nil
}

func validateID(id int) error {
	if id <= 0 {
		return apperr.Newf(apperr.ValidationError, "invalid task id %d", id)
	}
	return nil
}

func taskPath(id int) string {
	return fmt.Sprintf("%s/%d", tasksPath, id)
}

func sortTasks(tasks []service.Task) []service.Task {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks
}
