package resource

import (
	"context"

	"github.com/unkn0wn-root/swrcache"
	"github.com/unkn0wn-root/swrcache/api"
	"github.com/unkn0wn-root/swrcache/model"
)

// ProfileSnapshot is what a profile view renders.
type ProfileSnapshot struct {
	Status  swrcache.Status
	Data    model.UserProfile
	HasData bool
	Err     error

	// IsLoading is true until the first answer (data or error) arrives.
	IsLoading bool
	// IsUnauthorized is true when the last fetch (or a logout) says there is no session.
	IsUnauthorized bool
}

// UserProfile is the signed-in user's profile resource.
type UserProfile struct {
	store *swrcache.Store
	users api.Users
	key   swrcache.Key
	opts  options
}

func NewUserProfile(s *swrcache.Store, users api.Users, opts ...Option) *UserProfile {
	r := &UserProfile{store: s, users: users, key: MeKey(), opts: buildOptions(opts)}
	r.bind()
	return r
}

func (r *UserProfile) Key() swrcache.Key { return r.key }

// bind is repeated before every subscription and mutation: bindings go away
// with their entry.
func (r *UserProfile) bind() {
	var bopts []swrcache.BindOption
	if r.opts.profileCodec != nil {
		bopts = append(bopts, swrcache.WithCodec(r.opts.profileCodec))
	}
	swrcache.Bind(r.store, r.key, r.users.FetchCurrentUser, bopts...)
}

func (r *UserProfile) Snapshot() ProfileSnapshot { return profileSnapshot(r.store.Get(r.key)) }

// Subscribe watches the profile and revalidates it.
func (r *UserProfile) Subscribe(fn func(ProfileSnapshot)) (unsubscribe func()) {
	r.bind()
	return r.store.Subscribe(r.key, func(_ swrcache.Key, e swrcache.Entry) { fn(profileSnapshot(e)) })
}

// Refresh fetches the profile now.
func (r *UserProfile) Refresh(ctx context.Context) (model.UserProfile, error) {
	r.bind()
	return swrcache.Fetch[model.UserProfile](ctx, r.store, r.key)
}

func profileSnapshot(e swrcache.Entry) ProfileSnapshot {
	v := swrcache.ViewOf[model.UserProfile](e)
	return ProfileSnapshot{
		Status:         v.Status,
		Data:           v.Data,
		HasData:        v.HasData,
		Err:            v.Err,
		IsLoading:      !v.HasData && v.Err == nil,
		IsUnauthorized: v.Status == swrcache.StatusErrored && api.KindOf(v.Err) == api.KindUnauthorized,
	}
}

// UpdateProfile shows the changed username/display name at once and sends the
// change with currentPassword. A rejected change is rolled back.
func (r *UserProfile) UpdateProfile(ctx context.Context, currentPassword string, patch model.ProfilePatch) error {
	if err := patch.Validate(); err != nil {
		return &api.Error{Kind: api.KindValidation, Op: "profile.update", Msg: err.Error()}
	}
	if patch.Empty() {
		return nil
	}
	r.bind()
	_, err := r.store.Mutate(ctx, r.key, swrcache.Mutation{
		Op: "profile.update",
		Optimistic: swrcache.Edit(func(p model.UserProfile) (model.UserProfile, bool) {
			next := patch.Apply(p)
			return next, next != p
		}),
		Commit: func(ctx context.Context) (any, error) {
			return nil, r.users.UpdateProfile(ctx, currentPassword, patch)
		},
	})
	return err
}

// DeleteProfile deletes the account. Afterwards the profile reads as unauthorized.
func (r *UserProfile) DeleteProfile(ctx context.Context, currentPassword string) error {
	return r.endSession(ctx, "profile.delete", "account deleted", func(ctx context.Context) error {
		return r.users.DeleteProfile(ctx, currentPassword)
	})
}

// Logout ends the session. Afterwards the profile reads as unauthorized. Other
// cached resources are left alone; callers derive new keys for the next user.
func (r *UserProfile) Logout(ctx context.Context) error {
	return r.endSession(ctx, "logout", "logged out", r.users.Logout)
}

func (r *UserProfile) endSession(ctx context.Context, op, msg string, call func(context.Context) error) error {
	r.bind()
	_, err := r.store.Mutate(ctx, r.key, swrcache.Mutation{
		Op: op,
		Commit: func(ctx context.Context) (any, error) {
			return nil, call(ctx)
		},
	})
	if err != nil {
		return err
	}
	r.store.Clear(r.key, &api.Error{Kind: api.KindUnauthorized, Op: op, Msg: msg})
	return nil
}
