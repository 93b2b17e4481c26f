package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// ConversationKey is the context key for the conversation identifier
	ConversationKey ContextKey = "conversation_id"
	// LaneKey is the context key for the command queue lane
	LaneKey ContextKey = "lane"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID        string
	ConversationID string
	Lane           string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithConversationID adds a conversation identifier to the context
func WithConversationID(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, ConversationKey, conversationID)
}

// WithLane adds a queue lane name to the context
func WithLane(ctx context.Context, lane string) context.Context {
	return context.WithValue(ctx, LaneKey, lane)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetConversationID retrieves the conversation identifier from the context
func GetConversationID(ctx context.Context) string {
	if id, ok := ctx.Value(ConversationKey).(string); ok {
		return id
	}
	return ""
}

// GetLane retrieves the lane name from the context
func GetLane(ctx context.Context) string {
	if lane, ok := ctx.Value(LaneKey).(string); ok {
		return lane
	}
	return ""
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:        GetTraceID(ctx),
		ConversationID: GetConversationID(ctx),
		Lane:           GetLane(ctx),
	}
}

// NewRequestContext creates a new context for an inbound event with a new trace ID
func NewRequestContext(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}
