// Package las reads and writes a minimal subset of the ASPRS LAS 1.2
// point-cloud container: the 227-byte public header and fixed-length point
// records. Coordinates are stored as scaled int32 triples; everything after
// the 12 coordinate bytes of a record is carried as an opaque payload and is
// never interpreted.
//
// Files with a .laz extension hold the point-data section as a zstd stream.
// This is the tool's own compressed variant, not LASzip; the header stays
// uncompressed so the record count can be patched in place on Close.
package las
