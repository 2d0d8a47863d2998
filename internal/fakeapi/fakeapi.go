// Package fakeapi is an in-memory task server. It backs tests and the shell's
// offline mode, in process (Conn) or over HTTP (Server.Handler).
package fakeapi

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/swrcache/api"
	"github.com/unkn0wn-root/swrcache/model"
)

// Operation names. They double as the HTTP routes of Server.Handler.
const (
	OpLogin         = "POST /login"
	OpFetchUser     = "GET /me"
	OpUpdateProfile = "PATCH /me"
	OpDeleteProfile = "DELETE /me"
	OpLogout        = "DELETE /logout"
	OpFetchTasks    = "GET /tasks/me"
	OpCreateTask    = "POST /tasks"
	OpUpdateTask    = "PATCH /tasks/{id}"
	OpDeleteTask    = "DELETE /tasks/{id}"
)

type account struct {
	profile  model.UserProfile
	password string
}

// Server holds accounts, sessions and tasks. Safe for concurrent use.
type Server struct {
	now func() time.Time

	mu       sync.Mutex
	accounts map[string]*account // by user id
	sessions map[string]string   // token -> user id
	tasks    []model.Task        // in creation order

	calls map[string]int
	fail  map[string][]error
	holds map[string]chan struct{}
}

type Option func(*Server)

// WithClock sets the clock used for created/updated stamps.
func WithClock(now func() time.Time) Option { return func(s *Server) { s.now = now } }

func New(opts ...Option) *Server {
	s := &Server{
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Second) },
		accounts: make(map[string]*account),
		sessions: make(map[string]string),
		calls:    make(map[string]int),
		fail:     make(map[string][]error),
		holds:    make(map[string]chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SignUp creates an account.
func (s *Server) SignUp(username, displayName, password string) (model.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if username == "" || password == "" {
		return model.UserProfile{}, api.Errorf(api.KindValidation, "POST /signup", "username and password are required")
	}
	if s.usernameTakenLocked(username, "") {
		return model.UserProfile{}, api.Errorf(api.KindValidation, "POST /signup", "username %q is taken", username)
	}
	now := s.now()
	p := model.UserProfile{ID: uuid.NewString(), Username: username, DisplayName: displayName, CreatedAt: now, UpdatedAt: now}
	s.accounts[p.ID] = &account{profile: p, password: password}
	return p, nil
}

// Connect signs in and returns an in-process client bound to the new session.
func (s *Server) Connect(ctx context.Context, username, password string) (*Conn, error) {
	tok, err := s.login(ctx, username, password)
	if err != nil {
		return nil, err
	}
	return &Conn{srv: s, token: tok}, nil
}

// FailNext makes the next call of op fail with err. Calls queue up per op.
func (s *Server) FailNext(op string, err error) {
	s.mu.Lock()
	s.fail[op] = append(s.fail[op], err)
	s.mu.Unlock()
}

// Hold blocks calls of op until release is called or their context ends.
func (s *Server) Hold(op string) (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.holds[op] = ch
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.holds[op] == ch {
				delete(s.holds, op)
			}
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Calls reports how many times op was invoked.
func (s *Server) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// TaskCount reports the number of stored tasks across all users.
func (s *Server) TaskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// enter records the call, waits on a hold and pops an injected failure.
func (s *Server) enter(ctx context.Context, op string) error {
	s.mu.Lock()
	s.calls[op]++
	hold := s.holds[op]
	s.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return &api.Error{Kind: api.KindNetwork, Op: op, Err: ctx.Err()}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if q := s.fail[op]; len(q) > 0 {
		s.fail[op] = q[1:]
		return q[0]
	}
	return nil
}

func (s *Server) authLocked(op, token string) (*account, error) {
	uid, ok := s.sessions[token]
	if !ok {
		return nil, &api.Error{Kind: api.KindUnauthorized, Op: op, Status: 401, Msg: "no session"}
	}
	acc, ok := s.accounts[uid]
	if !ok {
		delete(s.sessions, token)
		return nil, &api.Error{Kind: api.KindUnauthorized, Op: op, Status: 401, Msg: "no session"}
	}
	return acc, nil
}

func (s *Server) usernameTakenLocked(username, exceptID string) bool {
	for id, a := range s.accounts {
		if id != exceptID && a.profile.Username == username {
			return true
		}
	}
	return false
}

func (s *Server) login(ctx context.Context, username, password string) (string, error) {
	if err := s.enter(ctx, OpLogin); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.profile.Username == username && a.password == password {
			tok := uuid.NewString()
			s.sessions[tok] = a.profile.ID
			return tok, nil
		}
	}
	return "", &api.Error{Kind: api.KindUnauthorized, Op: OpLogin, Status: 401, Msg: "wrong username or password"}
}

func (s *Server) fetchUser(ctx context.Context, token string) (model.UserProfile, error) {
	if err := s.enter(ctx, OpFetchUser); err != nil {
		return model.UserProfile{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, err := s.authLocked(OpFetchUser, token)
	if err != nil {
		return model.UserProfile{}, err
	}
	return acc.profile, nil
}

func (s *Server) updateProfile(ctx context.Context, token, currentPassword string, patch model.ProfilePatch) error {
	if err := s.enter(ctx, OpUpdateProfile); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, err := s.authLocked(OpUpdateProfile, token)
	if err != nil {
		return err
	}
	if acc.password != currentPassword {
		return &api.Error{Kind: api.KindUnauthorized, Op: OpUpdateProfile, Status: 401, Msg: "wrong password"}
	}
	if err := patch.Validate(); err != nil {
		return &api.Error{Kind: api.KindValidation, Op: OpUpdateProfile, Status: 400, Msg: err.Error()}
	}
	if v, ok := patch.Username.Value(); ok && s.usernameTakenLocked(v, acc.profile.ID) {
		return &api.Error{Kind: api.KindValidation, Op: OpUpdateProfile, Status: 400, Msg: fmt.Sprintf("username %q is taken", v)}
	}
	acc.profile = patch.Apply(acc.profile)
	acc.profile.UpdatedAt = s.now()
	if v, ok := patch.Password.Value(); ok {
		acc.password = v
	}
	return nil
}

func (s *Server) deleteProfile(ctx context.Context, token, currentPassword string) error {
	if err := s.enter(ctx, OpDeleteProfile); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, err := s.authLocked(OpDeleteProfile, token)
	if err != nil {
		return err
	}
	if acc.password != currentPassword {
		return &api.Error{Kind: api.KindUnauthorized, Op: OpDeleteProfile, Status: 401, Msg: "wrong password"}
	}
	uid := acc.profile.ID
	delete(s.accounts, uid)
	for tok, id := range s.sessions {
		if id == uid {
			delete(s.sessions, tok)
		}
	}
	kept := s.tasks[:0:0]
	for _, t := range s.tasks {
		if t.AuthorID != uid {
			kept = append(kept, t)
		}
	}
	s.tasks = kept
	return nil
}

func (s *Server) logout(ctx context.Context, token string) error {
	if err := s.enter(ctx, OpLogout); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.authLocked(OpLogout, token); err != nil {
		return err
	}
	delete(s.sessions, token)
	return nil
}

func (s *Server) fetchTasks(ctx context.Context, token string, q model.PageQuery, limit, offset int) (model.TaskListPage, error) {
	if err := s.enter(ctx, OpFetchTasks); err != nil {
		return model.TaskListPage{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, err := s.authLocked(OpFetchTasks, token)
	if err != nil {
		return model.TaskListPage{}, err
	}
	if limit < 0 || offset < 0 {
		return model.TaskListPage{}, &api.Error{Kind: api.KindValidation, Op: OpFetchTasks, Status: 400, Msg: "negative limit or offset"}
	}

	phrase := strings.ToLower(q.Phrase)
	var matched []model.Task
	for _, t := range s.tasks {
		if t.AuthorID != acc.profile.ID {
			continue
		}
		if q.States != nil && !hasState(q.States, t.State) {
			continue
		}
		if phrase != "" && !strings.Contains(strings.ToLower(t.Title), phrase) &&
			!strings.Contains(strings.ToLower(t.Description), phrase) {
			continue
		}
		matched = append(matched, t)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.Before(matched[j].CreatedAt) })

	page := model.TaskListPage{Items: []model.Task{}, Total: len(matched)}
	if offset < len(matched) {
		end := len(matched)
		if limit > 0 && offset+limit < end {
			end = offset + limit
		}
		page.Items = append(page.Items, matched[offset:end]...)
	}
	return page, nil
}

func hasState(states []model.State, s model.State) bool {
	for _, v := range states {
		if v == s {
			return true
		}
	}
	return false
}

func (s *Server) createTask(ctx context.Context, token string, in model.NewTask) (model.Task, error) {
	if err := s.enter(ctx, OpCreateTask); err != nil {
		return model.Task{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, err := s.authLocked(OpCreateTask, token)
	if err != nil {
		return model.Task{}, err
	}
	if err := in.Validate(); err != nil {
		return model.Task{}, &api.Error{Kind: api.KindValidation, Op: OpCreateTask, Status: 400, Msg: err.Error()}
	}
	now := s.now()
	t := model.Task{
		ID:          uuid.NewString(),
		AuthorID:    acc.profile.ID,
		Title:       in.Title,
		Description: in.Description,
		State:       in.State,
		Priority:    in.Priority,
		DueDate:     in.DueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.tasks = append(s.tasks, t)
	return t, nil
}

func (s *Server) updateTask(ctx context.Context, token, id string, patch model.TaskPatch) (model.Task, error) {
	if err := s.enter(ctx, OpUpdateTask); err != nil {
		return model.Task{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, err := s.authLocked(OpUpdateTask, token)
	if err != nil {
		return model.Task{}, err
	}
	if err := patch.Validate(); err != nil {
		return model.Task{}, &api.Error{Kind: api.KindValidation, Op: OpUpdateTask, Status: 400, Msg: err.Error()}
	}
	i := s.findLocked(acc.profile.ID, id)
	if i < 0 {
		return model.Task{}, &api.Error{Kind: api.KindNotFound, Op: OpUpdateTask, Status: 404, Msg: "task " + id}
	}
	t := patch.Apply(s.tasks[i])
	t.UpdatedAt = s.now()
	s.tasks[i] = t
	return t, nil
}

func (s *Server) deleteTask(ctx context.Context, token, id string) error {
	if err := s.enter(ctx, OpDeleteTask); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, err := s.authLocked(OpDeleteTask, token)
	if err != nil {
		return err
	}
	i := s.findLocked(acc.profile.ID, id)
	if i < 0 {
		return &api.Error{Kind: api.KindNotFound, Op: OpDeleteTask, Status: 404, Msg: "task " + id}
	}
	s.tasks = append(s.tasks[:i:i], s.tasks[i+1:]...)
	return nil
}

func (s *Server) findLocked(uid, id string) int {
	for i, t := range s.tasks {
		if t.ID == id && t.AuthorID == uid {
			return i
		}
	}
	return -1
}

// Conn is an in-process api.Client bound to one session.
type Conn struct {
	srv *Server

	mu    sync.Mutex
	token string
}

func (c *Conn) tok() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

var _ api.Client = (*Conn)(nil)

func (c *Conn) FetchCurrentUser(ctx context.Context) (model.UserProfile, error) {
	return c.srv.fetchUser(ctx, c.tok())
}

func (c *Conn) UpdateProfile(ctx context.Context, currentPassword string, patch model.ProfilePatch) error {
	return c.srv.updateProfile(ctx, c.tok(), currentPassword, patch)
}

func (c *Conn) DeleteProfile(ctx context.Context, currentPassword string) error {
	return c.srv.deleteProfile(ctx, c.tok(), currentPassword)
}

func (c *Conn) Logout(ctx context.Context) error { return c.srv.logout(ctx, c.tok()) }

func (c *Conn) FetchTaskPage(ctx context.Context, q model.PageQuery, limit, offset int) (model.TaskListPage, error) {
	return c.srv.fetchTasks(ctx, c.tok(), q, limit, offset)
}

func (c *Conn) CreateTask(ctx context.Context, t model.NewTask) (model.Task, error) {
	return c.srv.createTask(ctx, c.tok(), t)
}

func (c *Conn) UpdateTask(ctx context.Context, id string, patch model.TaskPatch) (model.Task, error) {
	return c.srv.updateTask(ctx, c.tok(), id, patch)
}

func (c *Conn) DeleteTask(ctx context.Context, id string) error {
	return c.srv.deleteTask(ctx, c.tok(), id)
}

// Login replaces the connection's session.
func (c *Conn) Login(ctx context.Context, username, password string) error {
	tok, err := c.srv.login(ctx, username, password)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.token = tok
	c.mu.Unlock()
	return nil
}
