// Package task manages background work queuing and processing.
// It provides a bounded in-memory queue drained by a worker pool, so
// imports, statement parsing and manual job triggers never run on the
// request path. Submission never blocks; a full queue is reported to the
// caller and left for the periodic sweeps to pick up.
package task
