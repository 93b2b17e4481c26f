// Package session holds per-conversation progress records and their stores.
//
// Invariants:
// - At most one record exists per conversation id.
// - A conversation without a record is in the AwaitingWelcome state.
// - Finished sessions are never persisted.
// - Stores are safe for concurrent use; ordering per conversation is the
//   caller's responsibility.
//
// Usage:
//
//	store := session.NewMemoryStore()
//	s, err := session.Load(ctx, store, "5511999999999")
//	s.Status = session.AwaitingFile
//	err = store.Set(ctx, s.ConversationID, s)
package session
