package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Opt is a patch field with three states: omitted (zero value, leave as is),
// set to a value, or explicitly cleared.
type Opt[T any] struct {
	set   bool
	clear bool
	v     T
}

func Set[T any](v T) Opt[T]   { return Opt[T]{set: true, v: v} }
func Clear[T any]() Opt[T]    { return Opt[T]{set: true, clear: true} }
func (o Opt[T]) Omitted() bool { return !o.set }
func (o Opt[T]) Cleared() bool { return o.set && o.clear }

// Value returns the set value; ok is false when omitted or cleared.
func (o Opt[T]) Value() (v T, ok bool) {
	return o.v, o.set && !o.clear
}

func (o Opt[T]) String() string {
	switch {
	case !o.set:
		return "<omitted>"
	case o.clear:
		return "null"
	default:
		return fmt.Sprint(o.v)
	}
}

// NewTask is the input of a create. The server assigns ID, author and stamps.
type NewTask struct {
	Title       string
	Description string
	State       State
	Priority    Priority
	DueDate     *time.Time
}

func (n NewTask) Validate() error {
	var errs []error
	if n.Title == "" {
		errs = append(errs, errors.New("title is required"))
	}
	if !n.State.Valid() {
		errs = append(errs, fmt.Errorf("unknown state %q", n.State))
	}
	if !n.Priority.Valid() {
		errs = append(errs, fmt.Errorf("unknown priority %q", n.Priority))
	}
	return errors.Join(errs...)
}

func (n NewTask) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		"title":       n.Title,
		"description": n.Description,
		"state":       n.State,
	}
	if n.Priority != PriorityNone {
		m["priority"] = n.Priority
	}
	if n.DueDate != nil {
		m["due_date"] = formatDate(*n.DueDate)
	}
	return json.Marshal(m)
}

func (n *NewTask) UnmarshalJSON(b []byte) error {
	var w struct {
		Title       string   `json:"title"`
		Description string   `json:"description"`
		State       State    `json:"state"`
		Priority    Priority `json:"priority"`
		DueDate     string   `json:"due_date"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	out := NewTask{Title: w.Title, Description: w.Description, State: w.State, Priority: w.Priority}
	if w.DueDate != "" {
		d, err := ParseDate(w.DueDate)
		if err != nil {
			return err
		}
		out.DueDate = &d
	}
	*n = out
	return nil
}

// TaskPatch is a partial task update. Omitted fields are never touched; only
// Priority and DueDate can be cleared.
type TaskPatch struct {
	Title       Opt[string]
	Description Opt[string]
	State       Opt[State]
	Priority    Opt[Priority]
	DueDate     Opt[time.Time]
}

func (p TaskPatch) Empty() bool {
	return p.Title.Omitted() && p.Description.Omitted() && p.State.Omitted() &&
		p.Priority.Omitted() && p.DueDate.Omitted()
}

func (p TaskPatch) Validate() error {
	var errs []error
	if p.Title.Cleared() || p.Description.Cleared() || p.State.Cleared() {
		errs = append(errs, errors.New("only priority and due_date can be cleared"))
	}
	if v, ok := p.Title.Value(); ok && v == "" {
		errs = append(errs, errors.New("title must not be empty"))
	}
	if v, ok := p.State.Value(); ok && !v.Valid() {
		errs = append(errs, fmt.Errorf("unknown state %q", v))
	}
	if v, ok := p.Priority.Value(); ok && (v == PriorityNone || !v.Valid()) {
		errs = append(errs, fmt.Errorf("unknown priority %q", v))
	}
	return errors.Join(errs...)
}

// Apply shallow-merges p into t and returns the result; t is not modified.
func (p TaskPatch) Apply(t Task) Task {
	if v, ok := p.Title.Value(); ok {
		t.Title = v
	}
	if v, ok := p.Description.Value(); ok {
		t.Description = v
	}
	if v, ok := p.State.Value(); ok {
		t.State = v
	}
	switch {
	case p.Priority.Cleared():
		t.Priority = PriorityNone
	case !p.Priority.Omitted():
		t.Priority, _ = p.Priority.Value()
	}
	switch {
	case p.DueDate.Cleared():
		t.DueDate = nil
	case !p.DueDate.Omitted():
		d, _ := p.DueDate.Value()
		t.DueDate = &d
	}
	return t
}

// MarshalJSON writes set fields, null for cleared ones, and leaves omitted ones out.
func (p TaskPatch) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, 5)
	put := func(name string, set, clear bool, v any) {
		switch {
		case clear:
			m[name] = nil
		case set:
			m[name] = v
		}
	}
	put("title", !p.Title.Omitted(), p.Title.Cleared(), p.Title.v)
	put("description", !p.Description.Omitted(), p.Description.Cleared(), p.Description.v)
	put("state", !p.State.Omitted(), p.State.Cleared(), p.State.v)
	put("priority", !p.Priority.Omitted(), p.Priority.Cleared(), p.Priority.v)
	put("due_date", !p.DueDate.Omitted(), p.DueDate.Cleared(), formatDate(p.DueDate.v))
	return json.Marshal(m)
}

func (p *TaskPatch) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var out TaskPatch
	var err error
	if out.Title, err = optField[string](raw, "title"); err != nil {
		return err
	}
	if out.Description, err = optField[string](raw, "description"); err != nil {
		return err
	}
	if out.State, err = optField[State](raw, "state"); err != nil {
		return err
	}
	if out.Priority, err = optField[Priority](raw, "priority"); err != nil {
		return err
	}
	due, err := optField[string](raw, "due_date")
	if err != nil {
		return err
	}
	switch {
	case due.Cleared():
		out.DueDate = Clear[time.Time]()
	case !due.Omitted():
		d, err := ParseDate(due.v)
		if err != nil {
			return err
		}
		out.DueDate = Set(d)
	}
	*p = out
	return nil
}

func optField[T any](raw map[string]json.RawMessage, name string) (Opt[T], error) {
	b, ok := raw[name]
	if !ok {
		return Opt[T]{}, nil
	}
	if string(b) == "null" {
		return Clear[T](), nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return Opt[T]{}, fmt.Errorf("%s: %w", name, err)
	}
	return Set(v), nil
}

// ProfilePatch changes account fields. Password is forwarded to the server and
// never applied to a cached profile.
type ProfilePatch struct {
	Username    Opt[string]
	DisplayName Opt[string]
	Password    Opt[string]
}

func (p ProfilePatch) Empty() bool {
	return p.Username.Omitted() && p.DisplayName.Omitted() && p.Password.Omitted()
}

func (p ProfilePatch) Validate() error {
	if p.Username.Cleared() || p.DisplayName.Cleared() || p.Password.Cleared() {
		return errors.New("profile fields cannot be cleared")
	}
	if v, ok := p.Username.Value(); ok && v == "" {
		return errors.New("username must not be empty")
	}
	return nil
}

// Apply shallow-merges the visible fields into u.
func (p ProfilePatch) Apply(u UserProfile) UserProfile {
	if v, ok := p.Username.Value(); ok {
		u.Username = v
	}
	if v, ok := p.DisplayName.Value(); ok {
		u.DisplayName = v
	}
	return u
}

// ProfileUpdate is the body of PATCH /me.
type ProfileUpdate struct {
	CurrentPassword string
	Patch           ProfilePatch
}

func (r ProfileUpdate) MarshalJSON() ([]byte, error) {
	m := map[string]any{"current_password": r.CurrentPassword}
	if v, ok := r.Patch.Username.Value(); ok {
		m["username"] = v
	}
	if v, ok := r.Patch.DisplayName.Value(); ok {
		m["display_name"] = v
	}
	if v, ok := r.Patch.Password.Value(); ok {
		m["password"] = v
	}
	return json.Marshal(m)
}

func (r *ProfileUpdate) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var out ProfileUpdate
	if cp, ok := raw["current_password"]; ok {
		if err := json.Unmarshal(cp, &out.CurrentPassword); err != nil {
			return fmt.Errorf("current_password: %w", err)
		}
	}
	var err error
	if out.Patch.Username, err = optField[string](raw, "username"); err != nil {
		return err
	}
	if out.Patch.DisplayName, err = optField[string](raw, "display_name"); err != nil {
		return err
	}
	if out.Patch.Password, err = optField[string](raw, "password"); err != nil {
		return err
	}
	*r = out
	return nil
}

// PageQuery selects one page of the caller's tasks.
type PageQuery struct {
	Page   int // 1-based
	Phrase string
	States []State // nil => any state
}

// Window converts the page number to limit/offset for pageSize items per page.
func (q PageQuery) Window(pageSize int) (limit, offset int) {
	page := q.Page
	if page < 1 {
		page = 1
	}
	return pageSize, pageSize * (page - 1)
}
