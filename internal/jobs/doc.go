// Package jobs schedules recurring background jobs and keeps the audit
// trail of every run.
//
// A Scheduler binds job names to cron expressions and runs manual triggers
// on the task runner. A Tracker records each run as a JobExecution made of
// ordered steps: steps run strictly in sequence, the first failure marks the
// step and the execution FAILED and halts the run, and terminal executions
// are never modified again.
package jobs
