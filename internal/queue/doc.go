// Package queue implements the active item queue: an ordered command queue
// drained by a single worker.
//
// Actions run in ascending priority (lower value first), FIFO among equal
// priorities. Exactly one action executes at a time per queue, so at most
// one action per item is ever running. Finished actions are kept in a
// bounded history, oldest dropped first, and can be looked up by id until
// they age out.
//
// Driver failures and panics are captured on the action; they never stop
// the worker. Stopping a queue marks every pending action "ignored" and
// lets the running action finish.
//
// Pre-emption is explicit and configured per queue:
//
//   - PreemptQueue (default): a new action for an item waits behind the
//     item's running action.
//   - PreemptRunning: accepting a new action for an item cancels the
//     item's running action cooperatively with cause driver.ErrPreempted.
package queue
