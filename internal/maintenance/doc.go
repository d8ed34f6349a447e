// Package maintenance drives the background cycles that keep storage
// bounded and the derived views fresh: chunk compression, retention, and
// the latest-view refresh.
//
// Cycles run on cron schedules and are best-effort: a failed cycle is
// logged and the work picked up again next time, since every cycle
// operates on whatever is currently eligible. Maintenance never takes
// locks that block the write path.
package maintenance
