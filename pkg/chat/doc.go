// Package chat runs conversation turns: it records the user's message, streams
// the model's reply to a Sink, and records the completed reply.
//
// Invariants:
// - At most one turn per session is in flight; concurrent Submit calls queue
//   on the session's commandqueue lane.
// - The selected model is resolved before anything is recorded; an unknown
//   label never reaches the inference client.
// - A reply is recorded only when its stream completes without error, and
//   the recorded text equals the concatenation of the fragments delivered.
// - Persistence is best-effort and never changes the session.
package chat
