// The [adminsync] package keeps an e-commerce admin console consistent with
// its backend: mutations are applied optimistically and reconciled or rolled
// back, and the activity feed merges a push channel with a poll fallback
// without duplicating or reordering events.
//
// # Client
//
// Build a [Config] with [NewConfig] or [LoadConfig], then [New] a [Client] and
// call [Client.Run]. Run loads the activity history, supervises the event
// channel and polls the activity log in the background until its context is
// cancelled.
//
// The event channel is a websocket from [github.com/storefront/adminsync/pkg/connection/gorillaws]
// supervised by [github.com/storefront/adminsync/pkg/connection/rews], which
// retries a bounded number of times and then reports the channel degraded.
// Polling keeps delivering while the channel is down, so a degraded channel is
// invisible in the feed.
//
// # Collections
//
// [NewCollection] returns a [Collection] for one entity kind. Its
// Create/Update/Delete methods update the local snapshot immediately and
// return an Intent that resolves once the server confirms or rejects the
// change. A rejected change restores the snapshot exactly as it was.
//
// Renderers read collections through View and the feed through
// [Client.Feed]; both notify subscribers after every change.
package adminsync
