// Package tile reorders a point cloud so records are grouped by spatial
// proximity. Points are routed into cubic grid cells by a CellKey derived
// from their coordinates; each cell's Bucket buffers points in memory and
// spills to uncompressed disk segments under a working directory, so inputs
// far larger than memory stay bounded. After ingest, buckets are replayed in
// ascending key order into the output writer.
//
// Key types: CellKey, Bucket, Grid, Session.
// The package does no logging itself; callers observe progress through a
// Progress callback.
package tile
