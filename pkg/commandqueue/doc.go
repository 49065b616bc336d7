// Package commandqueue provides lane-based task execution with FIFO ordering per lane.
//
// Invariants:
// - Tasks in the same lane execute one at a time in submission order.
// - Tasks in different lanes may execute concurrently.
// - A lane with nothing queued or running is removed, so the lane map is
//   bounded by the number of busy lanes.
// - A request id seen within the dedup TTL is not executed twice.
//
// Usage:
//
//	queue := commandqueue.New(commandqueue.Config{})
//	defer queue.Close()
//	result, err := queue.Enqueue("user:42", func(ctx context.Context) (interface{}, error) {
//		return "ok", nil
//	})
package commandqueue
