// Package notifier delivers chat notifications to users.
//
// Notify only enqueues. A small worker pool drains the queue through a
// transport.Sender under a shared token bucket, retrying failed sends with
// jittered exponential backoff. Identical messages to the same user inside
// the dedup window are dropped, optionally across restarts through the
// storage dedup table.
//
// Delivery is best-effort: callers log a Notify error and move on.
package notifier
