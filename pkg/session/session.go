package session

import (
	"fmt"
	"time"

	"github.com/harun/printdesk/pkg/printjob"
)

// Status is the conversation state
type Status int

const (
	// AwaitingWelcome is the initial state of an unknown conversation
	AwaitingWelcome Status = iota
	// AwaitingFile waits for a document or image
	AwaitingFile
	// AwaitingColorChoice waits for "1" or "2"
	AwaitingColorChoice
	// AwaitingCopies waits for a positive number of copies
	AwaitingCopies
	// Finished marks a completed or aborted flow; it is never stored
	Finished
)

var statusNames = map[Status]string{
	AwaitingWelcome:     "awaiting_welcome",
	AwaitingFile:        "awaiting_file",
	AwaitingColorChoice: "awaiting_color_choice",
	AwaitingCopies:      "awaiting_copies",
	Finished:            "finished",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler
func (s Status) MarshalText() ([]byte, error) {
	name, ok := statusNames[s]
	if !ok {
		return nil, fmt.Errorf("unknown session status %d", int(s))
	}
	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Status) UnmarshalText(text []byte) error {
	for status, name := range statusNames {
		if name == string(text) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown session status %q", string(text))
}

// Session is the progress of one conversation
type Session struct {
	ConversationID string             `json:"conversation_id"`
	Status         Status             `json:"status"`
	FilePath       string             `json:"file_path,omitempty"`
	FileName       string             `json:"file_name,omitempty"`
	ColorMode      printjob.ColorMode `json:"color_mode,omitempty"`
	Copies         int                `json:"copies,omitempty"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// New returns the initial session for a conversation
func New(conversationID string) Session {
	return Session{
		ConversationID: conversationID,
		Status:         AwaitingWelcome,
	}
}

// HasFile reports whether the session owns a stored file
func (s Session) HasFile() bool {
	return s.FilePath != ""
}

// IdleSince reports whether the session was last touched before cutoff
func (s Session) IdleSince(cutoff time.Time) bool {
	return !s.UpdatedAt.IsZero() && s.UpdatedAt.Before(cutoff)
}
