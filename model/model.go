// Package model holds the task server's domain types and their wire form.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DateLayout is how the server renders timestamps and due dates.
const DateLayout = "2006-01-02 15:04:05"

// State is a task's workflow position: icebox → todo → in-progress → done.
type State string

const (
	StateIcebox     State = "icebox"
	StateTodo       State = "todo"
	StateInProgress State = "in-progress"
	StateDone       State = "done"
)

// States lists every state in workflow order.
var States = []State{StateIcebox, StateTodo, StateInProgress, StateDone}

func (s State) Valid() bool {
	for _, v := range States {
		if s == v {
			return true
		}
	}
	return false
}

func ParseState(s string) (State, error) {
	st := State(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown state %q (want one of icebox, todo, in-progress, done)", s)
	}
	return st, nil
}

// Priority is optional on a task; the empty value means absent.
type Priority string

const (
	PriorityNone   Priority = ""
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityNone, PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown priority %q (want low, medium or high)", s)
	}
	return p, nil
}

// ParseDate accepts the server layout or a bare YYYY-MM-DD.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD [HH:MM:SS])", s)
	}
	return t, nil
}

func formatDate(t time.Time) string { return t.UTC().Format(DateLayout) }

// Task is one task as the server reports it. ID is server-assigned.
type Task struct {
	ID          string
	AuthorID    string
	Title       string
	Description string
	State       State
	Priority    Priority   // PriorityNone => absent
	DueDate     *time.Time // nil => absent
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type taskWire struct {
	ID          string   `json:"id"`
	AuthorID    string   `json:"author_id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	State       State    `json:"state"`
	Priority    Priority `json:"priority,omitempty"`
	DueDate     string   `json:"due_date,omitempty"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

func (t Task) MarshalJSON() ([]byte, error) {
	w := taskWire{
		ID: t.ID, AuthorID: t.AuthorID, Title: t.Title, Description: t.Description,
		State: t.State, Priority: t.Priority,
		CreatedAt: formatDate(t.CreatedAt), UpdatedAt: formatDate(t.UpdatedAt),
	}
	if t.DueDate != nil {
		w.DueDate = formatDate(*t.DueDate)
	}
	return json.Marshal(w)
}

func (t *Task) UnmarshalJSON(b []byte) error {
	var w taskWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	if !w.State.Valid() {
		return fmt.Errorf("task %s: unknown state %q", w.ID, w.State)
	}
	if !w.Priority.Valid() {
		return fmt.Errorf("task %s: unknown priority %q", w.ID, w.Priority)
	}
	out := Task{ID: w.ID, AuthorID: w.AuthorID, Title: w.Title, Description: w.Description, State: w.State, Priority: w.Priority}
	var err error
	if out.CreatedAt, err = parseStamp(w.CreatedAt); err != nil {
		return fmt.Errorf("task %s created_at: %w", w.ID, err)
	}
	if out.UpdatedAt, err = parseStamp(w.UpdatedAt); err != nil {
		return fmt.Errorf("task %s updated_at: %w", w.ID, err)
	}
	if w.DueDate != "" {
		d, err := ParseDate(w.DueDate)
		if err != nil {
			return fmt.Errorf("task %s due_date: %w", w.ID, err)
		}
		out.DueDate = &d
	}
	*t = out
	return nil
}

func parseStamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return ParseDate(s)
}

// TaskListPage is one page of a filtered task list. Total counts every
// matching task, not just Items.
type TaskListPage struct {
	Items []Task `json:"items"`
	Total int    `json:"total"`
}

// UnmarshalJSON also accepts a bare array, in which case Total is its length.
func (p *TaskListPage) UnmarshalJSON(b []byte) error {
	trimmed := strings.TrimSpace(string(b))
	if strings.HasPrefix(trimmed, "[") {
		var items []Task
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		*p = TaskListPage{Items: items, Total: len(items)}
		return nil
	}
	type plain TaskListPage
	var v plain
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if v.Total < len(v.Items) {
		return fmt.Errorf("task page: total %d below item count %d", v.Total, len(v.Items))
	}
	*p = TaskListPage(v)
	return nil
}

// UserProfile is the signed-in account. The password is never part of it.
type UserProfile struct {
	ID          string
	Username    string
	DisplayName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type profileWire struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func (u UserProfile) MarshalJSON() ([]byte, error) {
	return json.Marshal(profileWire{
		ID: u.ID, Username: u.Username, DisplayName: u.DisplayName,
		CreatedAt: formatDate(u.CreatedAt), UpdatedAt: formatDate(u.UpdatedAt),
	})
}

func (u *UserProfile) UnmarshalJSON(b []byte) error {
	var w profileWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	out := UserProfile{ID: w.ID, Username: w.Username, DisplayName: w.DisplayName}
	var err error
	if out.CreatedAt, err = parseStamp(w.CreatedAt); err != nil {
		return fmt.Errorf("user created_at: %w", err)
	}
	if out.UpdatedAt, err = parseStamp(w.UpdatedAt); err != nil {
		return fmt.Errorf("user updated_at: %w", err)
	}
	*u = out
	return nil
}
