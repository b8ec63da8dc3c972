// Package monitor is the price pipeline: polling jobs that compare fresh
// marketplace snapshots against the ledger, the change detector, pool price
// aggregation, and the notification dispatcher that fans detected changes out
// to subscribers.
//
// Failures are contained at the smallest unit. A fetch failure skips one
// product for one cycle, a send failure skips one user for one cycle; nothing
// propagates out of a job run except storage-level listing errors.
package monitor
