// Package session keeps per-user conversation history in memory.
//
// Invariants:
// - A user has at most one live session; a session idle longer than the
//   store timeout is never observed by Resolve, it is replaced.
// - History is append-only and kept in insertion order.
// - The store mutex guards only map operations; each session guards its own
//   history.
// - Sessions do not survive a process restart.
//
// Usage:
//
//	store := session.NewStore(session.WithTimeout(30 * time.Minute))
//	s := store.Resolve("psid-1", time.Now())
//	store.Append(s, session.RoleUser, "hello")
//	turns := s.History()
//	_ = turns
package session
