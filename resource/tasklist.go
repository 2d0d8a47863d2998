package resource

import (
	"context"
	"fmt"

	"github.com/unkn0wn-root/swrcache"
	"github.com/unkn0wn-root/swrcache/api"
	"github.com/unkn0wn-root/swrcache/model"
)

// TaskListSnapshot is what a task list view renders.
type TaskListSnapshot struct {
	Status     swrcache.Status
	Items      []model.Task
	Total      int
	TotalPages int
	HasData    bool
	Err        error

	IsLoading bool // no data and no error yet
	IsEmpty   bool // loaded and the page has no items
}

// TaskList is one page of the caller's tasks under a phrase and state filter.
// Another page or filter is another TaskList with its own key.
type TaskList struct {
	store *swrcache.Store
	tasks api.Tasks
	query model.PageQuery
	key   swrcache.Key
	opts  options
}

func NewTaskList(s *swrcache.Store, tasks api.Tasks, q model.PageQuery, opts ...Option) *TaskList {
	if q.Page < 1 {
		q.Page = 1
	}
	r := &TaskList{store: s, tasks: tasks, query: q, key: TaskListKey(q), opts: buildOptions(opts)}
	r.bind()
	return r
}

func (r *TaskList) Key() swrcache.Key      { return r.key }
func (r *TaskList) Query() model.PageQuery { return r.query }
func (r *TaskList) PageSize() int          { return r.opts.pageSize }

// WithPage returns the same list at another page.
func (r *TaskList) WithPage(page int) *TaskList {
	q := r.query
	q.Page = page
	return r.with(q)
}

// WithFilter returns the list's first page under another phrase and state filter.
func (r *TaskList) WithFilter(phrase string, states []model.State) *TaskList {
	return r.with(model.PageQuery{Page: 1, Phrase: phrase, States: states})
}

func (r *TaskList) with(q model.PageQuery) *TaskList {
	if q.Page < 1 {
		q.Page = 1
	}
	n := &TaskList{store: r.store, tasks: r.tasks, query: q, key: TaskListKey(q), opts: r.opts}
	n.bind()
	return n
}

func (r *TaskList) bind() {
	var bopts []swrcache.BindOption
	if r.opts.pageCodec != nil {
		bopts = append(bopts, swrcache.WithCodec(r.opts.pageCodec))
	}
	q, size := r.query, r.opts.pageSize
	swrcache.Bind(r.store, r.key, func(ctx context.Context) (model.TaskListPage, error) {
		limit, offset := q.Window(size)
		return r.tasks.FetchTaskPage(ctx, q, limit, offset)
	}, bopts...)
}

func (r *TaskList) Snapshot() TaskListSnapshot { return r.snapshot(r.store.Get(r.key)) }

// Subscribe watches the page and revalidates it.
func (r *TaskList) Subscribe(fn func(TaskListSnapshot)) (unsubscribe func()) {
	r.bind()
	return r.store.Subscribe(r.key, func(_ swrcache.Key, e swrcache.Entry) { fn(r.snapshot(e)) })
}

// Refresh fetches the page now.
func (r *TaskList) Refresh(ctx context.Context) (model.TaskListPage, error) {
	r.bind()
	return swrcache.Fetch[model.TaskListPage](ctx, r.store, r.key)
}

func (r *TaskList) snapshot(e swrcache.Entry) TaskListSnapshot {
	v := swrcache.ViewOf[model.TaskListPage](e)
	s := TaskListSnapshot{
		Status:    v.Status,
		HasData:   v.HasData,
		Err:       v.Err,
		IsLoading: !v.HasData && v.Err == nil,
	}
	if v.HasData {
		s.Items = v.Data.Items
		s.Total = v.Data.Total
		s.TotalPages = TotalPages(v.Data.Total, r.opts.pageSize)
		s.IsEmpty = len(v.Data.Items) == 0
	}
	return s
}

// TotalPages is ceil(total / pageSize).
func TotalPages(total, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

// Add creates a task and then refetches the page: where the new task lands is
// up to the server, so nothing is inserted locally.
func (r *TaskList) Add(ctx context.Context, t model.NewTask) (model.Task, error) {
	if err := t.Validate(); err != nil {
		return model.Task{}, &api.Error{Kind: api.KindValidation, Op: "task.add", Msg: err.Error()}
	}
	r.bind()
	resp, err := r.store.Mutate(ctx, r.key, swrcache.Mutation{
		Op: "task.add",
		Commit: func(ctx context.Context) (any, error) {
			created, err := r.tasks.CreateTask(ctx, t)
			return created, err
		},
		Revalidate: true,
	})
	if err != nil {
		return model.Task{}, err
	}
	return resp.(model.Task), nil
}

// Update merges patch into the cached task at once, sends it, and takes the
// server's copy of the task when it answers. Omitted fields stay as they are.
func (r *TaskList) Update(ctx context.Context, id string, patch model.TaskPatch) (model.Task, error) {
	return r.update(ctx, "task.update", id, patch)
}

// ChangeState moves a task to state. Any target state is accepted.
func (r *TaskList) ChangeState(ctx context.Context, id string, state model.State) (model.Task, error) {
	if !state.Valid() {
		return model.Task{}, &api.Error{Kind: api.KindValidation, Op: "task.state", Msg: fmt.Sprintf("unknown state %q", state)}
	}
	return r.update(ctx, "task.state", id, model.TaskPatch{State: model.Set(state)})
}

func (r *TaskList) update(ctx context.Context, op, id string, patch model.TaskPatch) (model.Task, error) {
	if err := patch.Validate(); err != nil {
		return model.Task{}, &api.Error{Kind: api.KindValidation, Op: op, Msg: err.Error()}
	}
	r.bind()
	resp, err := r.store.Mutate(ctx, r.key, swrcache.Mutation{
		Op:         op,
		Optimistic: editTask(id, patch.Apply),
		Commit: func(ctx context.Context) (any, error) {
			updated, err := r.tasks.UpdateTask(ctx, id, patch)
			return updated, err
		},
		Reconcile: func(cur, resp any) any {
			srv, ok := resp.(model.Task)
			if !ok || srv.ID == "" {
				return swrcache.Unchanged
			}
			return editTask(srv.ID, func(model.Task) model.Task { return srv })(cur)
		},
	})
	if err != nil {
		return model.Task{}, err
	}
	return resp.(model.Task), nil
}

// Delete removes the task and lowers Total by one. Deleting a task that is not
// on the cached page changes nothing locally.
func (r *TaskList) Delete(ctx context.Context, id string) error {
	r.bind()
	_, err := r.store.Mutate(ctx, r.key, swrcache.Mutation{
		Op:         "task.delete",
		Optimistic: removeTask(id),
		Commit: func(ctx context.Context) (any, error) {
			return nil, r.tasks.DeleteTask(ctx, id)
		},
	})
	return err
}

// editTask replaces the task with id by fn(task) in a copy of the page.
func editTask(id string, fn func(model.Task) model.Task) swrcache.Transform {
	return swrcache.Edit(func(p model.TaskListPage) (model.TaskListPage, bool) {
		for i, t := range p.Items {
			if t.ID != id {
				continue
			}
			items := make([]model.Task, len(p.Items))
			copy(items, p.Items)
			items[i] = fn(t)
			return model.TaskListPage{Items: items, Total: p.Total}, true
		}
		return p, false
	})
}

func removeTask(id string) swrcache.Transform {
	return swrcache.Edit(func(p model.TaskListPage) (model.TaskListPage, bool) {
		for i, t := range p.Items {
			if t.ID != id {
				continue
			}
			items := make([]model.Task, 0, len(p.Items)-1)
			items = append(items, p.Items[:i]...)
			items = append(items, p.Items[i+1:]...)
			total := p.Total - 1
			if total < len(items) {
				total = len(items)
			}
			return model.TaskListPage{Items: items, Total: total}, true
		}
		return p, false
	})
}
