package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	s := New("chat-1")
	assert.Equal(t, "chat-1", s.ConversationID)
	assert.Equal(t, AwaitingWelcome, s.Status)
	assert.False(t, s.HasFile())
}

func TestStatusText(t *testing.T) {
	for status, name := range statusNames {
		text, err := status.MarshalText()
		require.NoError(t, err)
		assert.Equal(t, name, string(text))

		var back Status
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, status, back)
	}

	var s Status
	assert.Error(t, s.UnmarshalText([]byte("printing")))

	_, err := Status(99).MarshalText()
	assert.Error(t, err)
	assert.Equal(t, "status(99)", Status(99).String())
}

func TestSessionJSON(t *testing.T) {
	data, err := json.Marshal(Session{ConversationID: "c", Status: AwaitingColorChoice})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"awaiting_color_choice"`)
}

func TestIdleSince(t *testing.T) {
	now := time.Now()

	assert.True(t, Session{UpdatedAt: now.Add(-time.Hour)}.IdleSince(now.Add(-time.Minute)))
	assert.False(t, Session{UpdatedAt: now}.IdleSince(now.Add(-time.Minute)))
	assert.False(t, Session{}.IdleSince(now))
}
