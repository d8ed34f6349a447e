// Package devstate maintains one operational status row per field device,
// reconciled from heartbeat reports.
//
// Heartbeats are sparse: a device reports only the fields it has fresh
// values for. Reconciliation is a single upsert that merges the incoming
// report over the stored row column by column, COALESCE keeping the stored
// value wherever the report is silent. There is no read-modify-write in
// application code, so concurrent heartbeats for the same device cannot
// lose fields to interleaving.
//
// last_seen always advances to the report's receive time; a heartbeat is
// proof of life even when it carries nothing else.
package devstate
