// Package commandqueue provides lane-based task execution with FIFO ordering per lane.
//
// Invariants:
// - Tasks in the same lane execute one at a time in submission order.
// - Tasks in different lanes may execute concurrently.
// - A lane exists only while it has queued or running tasks.
// - A panicking task fails with an error and does not block its lane.
//
// Usage:
//
//	queue := commandqueue.New()
//	defer queue.Close()
//	result, err := queue.Enqueue("conversation:abc", func(ctx context.Context) (interface{}, error) {
//		return "ok", nil
//	}, nil)
package commandqueue
