// Package resource binds the task server's resources to a swrcache.Store:
// the signed-in user profile and filtered, paginated task lists.
package resource

import (
	"github.com/unkn0wn-root/swrcache"
	"github.com/unkn0wn-root/swrcache/codec"
	"github.com/unkn0wn-root/swrcache/model"
)

const (
	KindMe       = "me"
	KindTaskList = "task-list"

	// DefaultPageSize is the number of tasks per list page.
	DefaultPageSize = 20
)

// MeKey identifies the signed-in user's profile.
func MeKey() swrcache.Key { return swrcache.NewKey(KindMe) }

// TaskListKey identifies one page of a task list. A nil states slice means no
// state filter; an empty one filters everything out and is a different key.
func TaskListKey(q model.PageQuery) swrcache.Key {
	page := q.Page
	if page < 1 {
		page = 1
	}
	params := []swrcache.Param{swrcache.P("page", page), swrcache.P("phrase", q.Phrase)}
	if q.States != nil {
		members := make([]string, len(q.States))
		for i, s := range q.States {
			members[i] = string(s)
		}
		params = append(params, swrcache.SetP("state", members...))
	}
	return swrcache.NewKey(KindTaskList, params...)
}

type options struct {
	pageSize     int
	profileCodec codec.Codec[model.UserProfile]
	pageCodec    codec.Codec[model.TaskListPage]
}

// Option configures a resource.
type Option func(*options)

// WithPageSize sets the task list page size. Values below 1 are ignored.
func WithPageSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.pageSize = n
		}
	}
}

// WithProfileCodec lets the profile outlive eviction in the store's retention tier.
func WithProfileCodec(c codec.Codec[model.UserProfile]) Option {
	return func(o *options) { o.profileCodec = c }
}

// WithPageCodec lets task pages outlive eviction in the store's retention tier.
func WithPageCodec(c codec.Codec[model.TaskListPage]) Option {
	return func(o *options) { o.pageCodec = c }
}

func buildOptions(opts []Option) options {
	o := options{pageSize: DefaultPageSize}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
