// Package coalescer batches field changes for many entities and writes them
// back to the document store.
//
// Changes queued for the same entity merge field by field, later values
// winning. The first change after an idle period arms a debounce timer; when
// it fires a single pass takes a snapshot of every pending entity and, in
// queue order, resolves its document and applies the accumulated patch.
// Updates run under the connection monitor and the retry executor.
//
// When the monitor reports the store unreachable the pass stops. The current
// entity and everything after it go back into the pending set, with fields
// queued in the meantime taking precedence, and a cooldown pass is scheduled.
// Any other failure is logged and the pass moves on to the next entity.
//
// At most one pass runs at a time. A timer that fires while a pass is running
// schedules another debounce once the running pass finishes.
package coalescer
