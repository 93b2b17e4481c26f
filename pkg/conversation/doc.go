// Package conversation decides how a print conversation advances.
//
// The Machine is pure: given a session and a normalized input it returns the
// next session, the texts to send and at most one side effect for the caller
// to execute. Outcomes of side effects are fed back through Stored, Submitted
// and Failed.
//
// Invariants:
// - A greeting restarts the flow from any state.
// - ColorMode is set only when leaving AwaitingColorChoice.
// - Copies is set only when leaving AwaitingCopies and is always positive.
// - Every terminal decision carries a Release directive for the stored file.
package conversation
