// Package state holds the per-device view of shower state and reconciles
// the two sources that update it: REST polls and realtime pushes.
//
// State is split into independent field groups (connection, system, warmup
// and valves). Each group carries the timestamp of the update
// that last wrote it, and an update is applied to a group only when it is
// not older than that timestamp. A REST snapshot that was requested before
// a realtime push arrived therefore cannot overwrite the pushed values,
// while the groups the push did not mention still take the snapshot. A push
// that names only some valves updates those valves and stamps the whole
// valves group.
//
// Commands never write to the Store; their effects become visible when the
// device reports them through either source.
//
// All Store methods are safe for concurrent use. Values returned by Get are
// deep copies.
package state
