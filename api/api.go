// Package api declares what the cache needs from the task server and the
// errors the server can answer with.
package api

import (
	"context"

	"github.com/unkn0wn-root/swrcache/model"
)

// Users is the account side of the server.
type Users interface {
	// FetchCurrentUser fails with ErrUnauthorized when there is no valid session.
	FetchCurrentUser(ctx context.Context) (model.UserProfile, error)
	// UpdateProfile fails with ErrUnauthorized when currentPassword is wrong.
	UpdateProfile(ctx context.Context, currentPassword string, patch model.ProfilePatch) error
	DeleteProfile(ctx context.Context, currentPassword string) error
	Logout(ctx context.Context) error
}

// Tasks is the task side of the server.
type Tasks interface {
	FetchTaskPage(ctx context.Context, q model.PageQuery, limit, offset int) (model.TaskListPage, error)
	CreateTask(ctx context.Context, t model.NewTask) (model.Task, error)
	UpdateTask(ctx context.Context, id string, patch model.TaskPatch) (model.Task, error)
	DeleteTask(ctx context.Context, id string) error
}

// Client is a full server connection.
type Client interface {
	Users
	Tasks
}
