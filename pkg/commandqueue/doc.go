// Package commandqueue runs tasks on named lanes. Each lane is a FIFO with its
// own concurrency limit; lanes drain independently of one another.
//
// Parley uses two kinds of lane: one lane per chat session
// (SessionLane) so a session never has two turns in flight, and the shared
// LanePersist lane that writes transcript records in submission order.
//
// A task whose context is already cancelled when its turn comes is dropped
// with the context error. A panicking task fails with an error and the lane
// keeps draining. ClearLane drops every queued task with ErrLaneCleared, and
// TaskOptions.WarnAfterMs reports tasks that wait too long to start.
//
//	queue := commandqueue.New()
//	defer queue.Close()
//
//	reply, err := queue.EnqueueWithContext(ctx, commandqueue.SessionLane(id), runTurn, nil)
//	queue.Submit(ctx, commandqueue.LanePersist, writeRecord, nil) // result ignored
package commandqueue
