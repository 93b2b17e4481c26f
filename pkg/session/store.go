package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrFinished is returned when a caller tries to persist a finished session
var ErrFinished = errors.New("finished sessions are not persisted")

// Store persists sessions keyed by conversation id
type Store interface {
	// Get returns the stored session and whether it exists
	Get(ctx context.Context, conversationID string) (Session, bool, error)
	// Set creates or replaces the session
	Set(ctx context.Context, conversationID string, s Session) error
	// Delete removes the session; deleting a missing session is not an error
	Delete(ctx context.Context, conversationID string) error
	// List returns every stored session
	List(ctx context.Context) ([]Session, error)
}

// Load returns the stored session or the initial one when none exists
func Load(ctx context.Context, store Store, conversationID string) (Session, error) {
	s, ok, err := store.Get(ctx, conversationID)
	if err != nil {
		return Session{}, err
	}
	if !ok {
		return New(conversationID), nil
	}
	return s, nil
}

// validateKey rejects ids that cannot be stored
func validateKey(conversationID string) error {
	if strings.TrimSpace(conversationID) == "" {
		return fmt.Errorf("conversation id cannot be empty")
	}
	return nil
}

func validateSet(conversationID string, s Session) error {
	if err := validateKey(conversationID); err != nil {
		return err
	}
	if s.Status == Finished {
		return ErrFinished
	}
	return nil
}
