// Package schedule is the in-process job scheduler behind the polling and
// dispatch cycles.
//
// Jobs are registered under a stable logical name ("poll.fast",
// "notify.dispatch") and run on a small worker pool. Each job enforces at
// most one in-flight run of itself: a tick that finds the previous run still
// active is skipped, never queued. Different jobs may run concurrently.
//
// There is no retry inside the scheduler. A failed run is logged and recorded
// in the bounded history; recovery is the next scheduled tick.
//
// Schedule strings are either cron expressions (5- or 6-field, or "@hourly" /
// "@every 55m" descriptors) or plain Go durations like "45s". A "cron:" or
// "every:" prefix forces the interpretation.
package schedule
