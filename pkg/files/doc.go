// Package files owns the on-disk blobs of uploaded documents.
//
// Every stored blob gets a collision-free name inside the upload directory.
// Release is idempotent so callers can release on every exit path.
package files
