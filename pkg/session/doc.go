// Package session holds the in-memory state of one chat conversation.
//
// Invariants:
// - History is append-only and kept in insertion order; Clear empties it atomically.
// - UserMessageCount counts every user message appended since the session began,
//   including messages removed by Clear.
// - Messages are values; callers never observe later mutation.
//
// Usage:
//
//	s := session.New("")
//	s.Append(session.RoleUser, "hello")
//	for _, m := range s.History() {
//		fmt.Println(m.Role, m.Content)
//	}
package session
