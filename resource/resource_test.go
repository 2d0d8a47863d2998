package resource

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/swrcache"
	"github.com/unkn0wn-root/swrcache/api"
	"github.com/unkn0wn-root/swrcache/codec"
	"github.com/unkn0wn-root/swrcache/internal/fakeapi"
	"github.com/unkn0wn-root/swrcache/model"
)

const (
	waitFor = 2 * time.Second
	tick    = time.Millisecond
)

type env struct {
	store *swrcache.Store
	srv   *fakeapi.Server
	conn  *fakeapi.Conn
}

func newEnv(t *testing.T, opts ...func(*swrcache.Options)) env {
	t.Helper()
	o := swrcache.Options{Namespace: "resource-test"}
	for _, fn := range opts {
		fn(&o)
	}
	store, err := swrcache.New(o)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = store.Close(ctx)
	})

	srv := fakeapi.New()
	_, err = srv.SignUp("ada", "Ada", "pw")
	require.NoError(t, err)
	conn, err := srv.Connect(context.Background(), "ada", "pw")
	require.NoError(t, err)
	return env{store: store, srv: srv, conn: conn}
}

func (e env) seedTasks(t *testing.T, titles ...string) []model.Task {
	t.Helper()
	var out []model.Task
	for _, title := range titles {
		task, err := e.conn.CreateTask(context.Background(), model.NewTask{Title: title, State: model.StateTodo, Priority: model.PriorityHigh})
		require.NoError(t, err)
		out = append(out, task)
	}
	return out
}

func watchReady(t *testing.T, l *TaskList) func() {
	t.Helper()
	unsub := l.Subscribe(func(TaskListSnapshot) {})
	require.Eventually(t, func() bool { return l.Snapshot().Status == swrcache.StatusReady }, waitFor, tick)
	return unsub
}

func TestTaskListKey(t *testing.T) {
	a := TaskListKey(model.PageQuery{Page: 2, Phrase: "milk", States: []model.State{model.StateTodo, model.StateDone}})
	b := TaskListKey(model.PageQuery{Page: 2, Phrase: "milk", States: []model.State{model.StateDone, model.StateTodo}})
	assert.Equal(t, a, b, "state filter is order independent")

	assert.NotEqual(t, a, TaskListKey(model.PageQuery{Page: 3, Phrase: "milk", States: []model.State{model.StateTodo, model.StateDone}}))
	assert.NotEqual(t, TaskListKey(model.PageQuery{Page: 1}), TaskListKey(model.PageQuery{Page: 1, States: []model.State{}}))
	assert.Equal(t, TaskListKey(model.PageQuery{Page: 0}), TaskListKey(model.PageQuery{Page: 1}))
	assert.Equal(t, KindTaskList, a.Kind())
	assert.Equal(t, KindMe, MeKey().Kind())
}

func TestTotalPages(t *testing.T) {
	assert.Equal(t, 5, TotalPages(45, 10))
	assert.Equal(t, 1, TotalPages(1, 20))
	assert.Equal(t, 2, TotalPages(21, 20))
	assert.Equal(t, 0, TotalPages(0, 20))
}

func TestCreateThenList(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	list := NewTaskList(e.store, e.conn, model.PageQuery{Page: 1})
	defer watchReady(t, list)()

	snap := list.Snapshot()
	require.True(t, snap.IsEmpty)
	assert.False(t, snap.IsLoading)

	created, err := list.Add(ctx, model.NewTask{Title: "Buy milk", State: model.StateTodo})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	snap = list.Snapshot()
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "Buy milk", snap.Items[0].Title)
	assert.Equal(t, model.StateTodo, snap.Items[0].State)
	assert.Equal(t, 1, snap.Total)
	assert.Equal(t, 1, snap.TotalPages)
	assert.False(t, snap.IsEmpty)
}

func TestAddRejectsInvalidInputLocally(t *testing.T) {
	e := newEnv(t)
	list := NewTaskList(e.store, e.conn, model.PageQuery{Page: 1})
	_, err := list.Add(context.Background(), model.NewTask{State: model.StateTodo})
	assert.ErrorIs(t, err, api.ErrValidation)
	assert.Equal(t, 0, e.srv.Calls(fakeapi.OpCreateTask))
}

func TestConcurrentSubscriptionsShareOneFetch(t *testing.T) {
	e := newEnv(t)
	e.seedTasks(t, "a", "b")
	release := e.srv.Hold(fakeapi.OpFetchTasks)

	const n = 6
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		got    = make([][]model.Task, n)
		unsubs = make([]func(), n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l := NewTaskList(e.store, e.conn, model.PageQuery{Page: 1})
			unsubs[i] = l.Subscribe(func(s TaskListSnapshot) {
				if s.Status == swrcache.StatusReady {
					mu.Lock()
					got[i] = s.Items
					mu.Unlock()
				}
			})
		}(i)
	}
	wg.Wait()
	release()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, items := range got {
			if items == nil {
				return false
			}
		}
		return true
	}, waitFor, tick)
	for _, u := range unsubs {
		u()
	}

	assert.Equal(t, 1, e.srv.Calls(fakeapi.OpFetchTasks))
	for i := 1; i < n; i++ {
		assert.Empty(t, cmp.Diff(got[0], got[i]), "subscriber %d saw different data", i)
	}
}

func TestUpdateKeepsOmittedFieldsAndClearsNull(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	seeded := e.seedTasks(t, "milk")
	list := NewTaskList(e.store, e.conn, model.PageQuery{Page: 1})
	defer watchReady(t, list)()

	updated, err := list.Update(ctx, seeded[0].ID, model.TaskPatch{Title: model.Set("oat milk")})
	require.NoError(t, err)
	assert.Equal(t, model.PriorityHigh, updated.Priority)
	assert.Equal(t, model.PriorityHigh, list.Snapshot().Items[0].Priority)
	assert.Equal(t, "oat milk", list.Snapshot().Items[0].Title)

	_, err = list.Update(ctx, seeded[0].ID, model.TaskPatch{Priority: model.Clear[model.Priority]()})
	require.NoError(t, err)
	assert.Equal(t, model.PriorityNone, list.Snapshot().Items[0].Priority)
	assert.Equal(t, 1, list.Snapshot().Total, "update leaves total alone")
}

func TestUpdateIsVisibleBeforeServerAnswers(t *testing.T) {
	e := newEnv(t)
	seeded := e.seedTasks(t, "milk")
	list := NewTaskList(e.store, e.conn, model.PageQuery{Page: 1})
	defer watchReady(t, list)()

	release := e.srv.Hold(fakeapi.OpUpdateTask)
	done := make(chan error, 1)
	go func() {
		_, err := list.ChangeState(context.Background(), seeded[0].ID, model.StateDone)
		done <- err
	}()
	require.Eventually(t, func() bool { return e.srv.Calls(fakeapi.OpUpdateTask) == 1 }, waitFor, tick)

	assert.Equal(t, model.StateDone, list.Snapshot().Items[0].State, "optimistic state visible while the write is in flight")
	release()
	require.NoError(t, <-done)
	assert.Equal(t, model.StateDone, list.Snapshot().Items[0].State)
}

func TestFailedUpdateRollsBack(t *testing.T) {
	e := newEnv(t)
	seeded := e.seedTasks(t, "milk", "eggs")
	list := NewTaskList(e.store, e.conn, model.PageQuery{Page: 1})
	defer watchReady(t, list)()
	before := e.store.Get(list.Key()).Data

	e.srv.FailNext(fakeapi.OpUpdateTask, &api.Error{Kind: api.KindNetwork, Op: fakeapi.OpUpdateTask})
	_, err := list.Update(context.Background(), seeded[1].ID, model.TaskPatch{Title: model.Set("brown eggs"), DueDate: model.Set(time.Now())})

	var me *swrcache.MutationError
	require.ErrorAs(t, err, &me)
	assert.True(t, me.RolledBack)
	assert.ErrorIs(t, err, api.ErrNetwork)
	assert.Empty(t, cmp.Diff(before, e.store.Get(list.Key()).Data))
	assert.Equal(t, swrcache.StatusReady, list.Snapshot().Status, "a failed write does not mark the list errored")
}

func TestFailedDeleteRollsBack(t *testing.T) {
	e := newEnv(t)
	seeded := e.seedTasks(t, "milk", "eggs")
	list := NewTaskList(e.store, e.conn, model.PageQuery{Page: 1})
	defer watchReady(t, list)()
	before := e.store.Get(list.Key()).Data

	e.srv.FailNext(fakeapi.OpDeleteTask, &api.Error{Kind: api.KindNotFound, Op: fakeapi.OpDeleteTask})
	err := list.Delete(context.Background(), seeded[0].ID)

	var me *swrcache.MutationError
	require.ErrorAs(t, err, &me)
	assert.True(t, me.RolledBack)
	assert.ErrorIs(t, err, api.ErrNotFound)
	assert.Empty(t, cmp.Diff(before, e.store.Get(list.Key()).Data))
	snap := list.Snapshot()
	assert.Equal(t, 2, snap.Total)
	assert.Len(t, snap.Items, 2)
}

func TestDeleteMissingTaskIsNoOpLocally(t *testing.T) {
	e := newEnv(t)
	e.seedTasks(t, "milk", "eggs")
	list := NewTaskList(e.store, e.conn, model.PageQuery{Page: 1})
	defer watchReady(t, list)()
	before := list.Snapshot()

	err := list.Delete(context.Background(), "not-on-this-page")
	assert.ErrorIs(t, err, api.ErrNotFound)
	after := list.Snapshot()
	assert.Equal(t, before.Total, after.Total)
	assert.Empty(t, cmp.Diff(before.Items, after.Items))
}

func TestDeleteRemovesItemAndDecrementsTotal(t *testing.T) {
	e := newEnv(t)
	seeded := e.seedTasks(t, "milk", "eggs", "bread")
	list := NewTaskList(e.store, e.conn, model.PageQuery{Page: 1}, WithPageSize(2))
	defer watchReady(t, list)()
	require.Equal(t, 3, list.Snapshot().Total)
	require.Equal(t, 2, list.Snapshot().TotalPages)

	require.NoError(t, list.Delete(context.Background(), seeded[0].ID))
	snap := list.Snapshot()
	assert.Equal(t, 2, snap.Total)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "eggs", snap.Items[0].Title)
}

func TestPagesAndFiltersAreSeparateEntries(t *testing.T) {
	e := newEnv(t)
	e.seedTasks(t, "buy milk", "walk dog", "buy eggs")
	first := NewTaskList(e.store, e.conn, model.PageQuery{Page: 1}, WithPageSize(2))
	defer watchReady(t, first)()
	second := first.WithPage(2)
	defer watchReady(t, second)()
	filtered := first.WithFilter("buy", []model.State{model.StateTodo})
	defer watchReady(t, filtered)()

	assert.Len(t, first.Snapshot().Items, 2)
	assert.Len(t, second.Snapshot().Items, 1)
	assert.Equal(t, 2, filtered.Snapshot().Total)
	assert.Equal(t, 3, e.store.Stats().Entries)
}

func TestUnauthorizedProfileFetch(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.conn.Logout(context.Background()))

	me := NewUserProfile(e.store, e.conn)
	assert.True(t, me.Snapshot().IsLoading)
	defer me.Subscribe(func(ProfileSnapshot) {})()

	require.Eventually(t, func() bool { return me.Snapshot().Status == swrcache.StatusErrored }, waitFor, tick)
	snap := me.Snapshot()
	assert.True(t, snap.IsUnauthorized)
	assert.False(t, snap.HasData)
	assert.False(t, snap.IsLoading)
}

func TestUpdateProfile(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	me := NewUserProfile(e.store, e.conn)
	defer me.Subscribe(func(ProfileSnapshot) {})()
	require.Eventually(t, func() bool { return me.Snapshot().HasData }, waitFor, tick)
	before := me.Snapshot().Data

	err := me.UpdateProfile(ctx, "wrong", model.ProfilePatch{DisplayName: model.Set("Countess")})
	assert.ErrorIs(t, err, api.ErrUnauthorized)
	assert.Empty(t, cmp.Diff(before, me.Snapshot().Data))
	assert.False(t, me.Snapshot().IsUnauthorized, "a rejected password does not sign the user out")

	require.NoError(t, me.UpdateProfile(ctx, "pw", model.ProfilePatch{DisplayName: model.Set("Countess"), Password: model.Set("pw2")}))
	assert.Equal(t, "Countess", me.Snapshot().Data.DisplayName)
	assert.Equal(t, "ada", me.Snapshot().Data.Username)

	fresh, err := me.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Countess", fresh.DisplayName)
}

func TestLogoutClearsProfile(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	me := NewUserProfile(e.store, e.conn)
	list := NewTaskList(e.store, e.conn, model.PageQuery{Page: 1})
	defer watchReady(t, list)()
	defer me.Subscribe(func(ProfileSnapshot) {})()
	require.Eventually(t, func() bool { return me.Snapshot().HasData }, waitFor, tick)

	require.NoError(t, me.Logout(ctx))
	snap := me.Snapshot()
	assert.True(t, snap.IsUnauthorized)
	assert.False(t, snap.HasData)
	assert.Equal(t, swrcache.StatusReady, list.Snapshot().Status, "other resources are not invalidated")

	_, err := me.Refresh(ctx)
	assert.ErrorIs(t, err, api.ErrUnauthorized)
	assert.True(t, me.Snapshot().IsUnauthorized)
}

func TestDeleteProfile(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	me := NewUserProfile(e.store, e.conn)
	defer me.Subscribe(func(ProfileSnapshot) {})()
	require.Eventually(t, func() bool { return me.Snapshot().HasData }, waitFor, tick)

	err := me.DeleteProfile(ctx, "wrong")
	assert.ErrorIs(t, err, api.ErrUnauthorized)
	assert.True(t, me.Snapshot().HasData, "failed delete keeps the profile")

	require.NoError(t, me.DeleteProfile(ctx, "pw"))
	assert.True(t, me.Snapshot().IsUnauthorized)
	assert.False(t, me.Snapshot().HasData)
}

func TestMutationSurvivesUnsubscribe(t *testing.T) {
	e := newEnv(t)
	seeded := e.seedTasks(t, "milk")
	list := NewTaskList(e.store, e.conn, model.PageQuery{Page: 1})
	unsub := watchReady(t, list)

	release := e.srv.Hold(fakeapi.OpUpdateTask)
	done := make(chan error, 1)
	go func() {
		_, err := list.Update(context.Background(), seeded[0].ID, model.TaskPatch{Title: model.Set("oat milk")})
		done <- err
	}()
	require.Eventually(t, func() bool { return e.srv.Calls(fakeapi.OpUpdateTask) == 1 }, waitFor, tick)

	unsub()
	assert.Equal(t, 1, e.store.Stats().Entries, "entry kept while the write is pending")
	release()
	require.NoError(t, <-done)
	assert.Equal(t, 0, e.store.Stats().Entries)
}

func TestReleasedPagesLeaveNoEntries(t *testing.T) {
	e := newEnv(t)
	e.seedTasks(t, "milk")
	list := NewTaskList(e.store, e.conn, model.PageQuery{Page: 1}, WithPageSize(1))
	for page := 1; page <= 50; page++ {
		l := list.WithPage(page)
		watchReady(t, l)()
		assert.Equal(t, swrcache.StatusEmpty, l.Snapshot().Status)
	}
	assert.Equal(t, 0, e.store.Stats().Entries)
}

func TestMutationAfterEvictionRebinds(t *testing.T) {
	e := newEnv(t)
	seeded := e.seedTasks(t, "milk")
	list := NewTaskList(e.store, e.conn, model.PageQuery{Page: 1})
	watchReady(t, list)()
	require.Equal(t, 0, e.store.Stats().Entries)

	_, err := list.ChangeState(context.Background(), seeded[0].ID, model.StateDone)
	require.NoError(t, err)
	assert.Equal(t, 0, e.store.Stats().Entries, "nothing cached and nobody watching")

	page, err := list.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, model.StateDone, page.Items[0].State)
	_, err = e.store.Revalidate(context.Background(), list.Key())
	assert.NoError(t, err)
}

func TestProfileUpdateAfterEvictionRebinds(t *testing.T) {
	e := newEnv(t)
	me := NewUserProfile(e.store, e.conn)
	unsub := me.Subscribe(func(ProfileSnapshot) {})
	require.Eventually(t, func() bool { return me.Snapshot().HasData }, waitFor, tick)
	unsub()

	require.NoError(t, me.UpdateProfile(context.Background(), "pw", model.ProfilePatch{DisplayName: model.Set("Ada L.")}))
	assert.Equal(t, 0, e.store.Stats().Entries)
	_, err := e.store.Revalidate(context.Background(), me.Key())
	assert.ErrorIs(t, err, swrcache.ErrNoFetcher, "no entry, so no binding, until the next read")

	got, err := me.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Ada L.", got.DisplayName)
}

func TestRetainedPageSeedsNextSubscription(t *testing.T) {
	mp := newRetainProvider()
	e := newEnv(t, func(o *swrcache.Options) { o.Provider = mp })
	e.seedTasks(t, "milk")
	pageCodec := codec.JSON[model.TaskListPage]{}

	list := NewTaskList(e.store, e.conn, model.PageQuery{Page: 1}, WithPageCodec(pageCodec))
	watchReady(t, list)()
	require.Equal(t, 0, e.store.Stats().Entries)

	release := e.srv.Hold(fakeapi.OpFetchTasks)
	defer release()
	again := NewTaskList(e.store, e.conn, model.PageQuery{Page: 1}, WithPageCodec(pageCodec))
	defer again.Subscribe(func(TaskListSnapshot) {})()

	snap := again.Snapshot()
	assert.Equal(t, swrcache.StatusLoading, snap.Status, "revalidating behind retained data")
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "milk", snap.Items[0].Title)
}
