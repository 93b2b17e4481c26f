// Package printjob submits stored documents to a network printer.
//
// Invariants:
// - A job is never submitted without a configured printer endpoint.
// - Copies below one are sent as one.
// - The submitter never deletes the document; the caller owns the file.
// - Only connector failures are retried, and only when retry is enabled.
package printjob
