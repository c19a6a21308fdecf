// Package realtime implements carelink's connection hub: authenticated
// persistent connections, room membership, and typed message relay
// (chat, presence, typing, device-pairing signaling, emergency alerts,
// role-scoped health updates).
//
// Every connection is admitted only after its access token verifies
// against live session state, then auto-joined to the personal room of
// its user. Rooms are transient: a room is nothing but the set of live
// connections currently holding its id. Fanout is non-blocking through
// bounded per-connection mailboxes, so one slow consumer never stalls a
// room, and per-sender ordering is preserved by the single dispatch loop
// each connection runs.
package realtime
