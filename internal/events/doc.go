// Package events decouples services that stage work from the workers that
// perform it.
//
// A service confirming a CSV batch or a statement calls EmitAfterCommit
// inside its transaction. The TaskRequestEvent is built immediately but only
// delivered once the transaction commits; on rollback it is dropped. The
// in-process emitter hands it to subscribed handlers, normally the task
// package's factory handler, which turns it into a queued task.
package events
