package router

import (
	"context"
	"strings"
	"time"

	"github.com/harun/printdesk/pkg/conversation"
	"github.com/harun/printdesk/pkg/journal"
	"github.com/harun/printdesk/pkg/printjob"
)

// Event is an inbound message from a messaging transport
type Event struct {
	ConversationID string
	MessageID      string
	FromSelf       bool
	Text           string
	Attachment     *conversation.Attachment
	Timestamp      time.Time
}

// Transport sends texts and fetches attachment bytes
type Transport interface {
	Send(ctx context.Context, conversationID, text string) error
	Download(ctx context.Context, event Event) ([]byte, error)
}

// Submitter submits print jobs
type Submitter interface {
	Submit(ctx context.Context, job printjob.Job) (string, error)
}

// FileStore stores and releases uploaded documents
type FileStore interface {
	Store(conversationID string, blob []byte, suggestedName string) (string, error)
	Release(path string) error
}

// JobRecorder journals print submissions
type JobRecorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Normalize classifies an event. Media wins over text, so an attachment
// with a caption is an attachment. Blank text is unsupported.
func Normalize(e Event) conversation.Input {
	if e.Attachment != nil {
		return conversation.NewAttachment(*e.Attachment)
	}
	if strings.TrimSpace(e.Text) != "" {
		return conversation.NewText(e.Text)
	}
	return conversation.Input{Kind: conversation.KindUnsupported}
}

// LaneFor returns the command queue lane of a conversation
func LaneFor(conversationID string) string {
	return "conversation:" + conversationID
}
