// Package mlog is the measurement log: durable, queryable storage of the
// full history of point readings, bounded in long-term size by policy.
//
// # Partitioning
//
// The log is partitioned along two axes: time, into fixed-width windows
// (default 24h, UTC-aligned), and site identity, into a fixed number of
// hash buckets (8). A chunk is one (window, bucket) pair with its own
// lifecycle:
//
//	open ──compress──▶ compressed ──late write──▶ dirty ──recompress──▶ compressed
//
// Chunks whose window has aged past the retention horizon are dropped
// wholesale; rows inside live chunks are never individually expired.
//
// # Storage layout
//
// Raw rows live in the measurements table, keyed by
// (site_id, point_id, ts_utc); a write for an existing key is an atomic
// upsert, which makes at-least-once delivery from field devices safe.
// Compression rewrites a chunk's rows into a single zstd block in
// chunk_archive and deletes the raw rows. Queries merge raw rows with
// decoded archive blocks of overlapping chunks, raw rows winning per key,
// so results are identical across compressed and uncompressed chunks.
//
// # Concurrency
//
// Appends are independent per key and never wait on maintenance: a late
// write into a compressed chunk lands in the raw table and marks the chunk
// dirty for the next compression cycle. Each chunk's maintenance runs in
// its own short transaction; one chunk failing to compress is logged and
// retried next cycle without affecting other chunks.
package mlog
