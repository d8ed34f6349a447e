// Package views serves the read-optimised projections dashboards poll:
// latest value per point, recent activity, and stale devices.
//
// The latest-per-point view is materialised into the point_latest table
// and refreshed on a timer; readers get a fast indexed lookup and may see
// values up to one refresh interval old. A refresh that finds the
// previous one still running skips instead of queueing, so refresh work
// never piles up behind a slow cycle.
//
// The recent-activity and stale-device views are computed live on every
// call, since their outputs depend on the query instant.
package views
