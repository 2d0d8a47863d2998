// Package swrcache is a client-side resource cache with optimistic mutations.
//
// A Store maps Keys to Entries (Empty, Loading, Ready, Errored) and notifies
// subscribers synchronously on every change. Data is fetched lazily through a
// bound Fetcher when a key is first watched and revalidated on every
// (re)subscription; concurrent fetches of one key are coalesced into one call.
//
// Writes go through Mutate: the local change is applied before the remote call,
// then reconciled with the server response or rolled back to the exact
// pre-mutation value if the call fails.
//
// Components:
//   - GenStore: generation per key. Clear bumps it; fetches and mutations that
//     began before a clear are not applied after it.
//   - Provider + Codec (optional): retention tier. Evicted entries are framed with
//     their generation and kept with a TTL; a recreated entry starts from them.
//
// Keys:
//
//	swrcache.NewKey("me")
//	swrcache.NewKey("task-list", swrcache.P("page", 2), swrcache.P("phrase", "milk"), swrcache.SetP("state", "todo", "done"))
//
// Typical use:
//
//	swrcache.Bind(store, key, api.FetchCurrentUser)
//	stop := store.Subscribe(key, func(k swrcache.Key, e swrcache.Entry) { render(e) })
//	defer stop()
//	_, err := store.Mutate(ctx, key, swrcache.Mutation{Op: "rename", Optimistic: ..., Commit: ...})
package swrcache
