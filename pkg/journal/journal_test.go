package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "data", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordAndRecent(t *testing.T) {
	j := openTest(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, j.Record(ctx, Entry{
		ConversationID: "a",
		DocumentName:   "relatorio.pdf",
		Copies:         3,
		ColorMode:      "color",
		Outcome:        OutcomePrinted,
		JobID:          "17",
		CreatedAt:      base,
	}))
	require.NoError(t, j.Record(ctx, Entry{
		ConversationID: "b",
		DocumentName:   "foto.jpg",
		Copies:         1,
		ColorMode:      "mono",
		Outcome:        OutcomeFailed,
		ErrorKind:      "not_configured",
		Error:          "printer endpoint is not configured",
		CreatedAt:      base.Add(time.Minute),
	}))

	entries, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "b", entries[0].ConversationID)
	assert.Equal(t, OutcomeFailed, entries[0].Outcome)
	assert.Equal(t, "not_configured", entries[0].ErrorKind)

	assert.Equal(t, "a", entries[1].ConversationID)
	assert.Equal(t, "17", entries[1].JobID)
	assert.Equal(t, 3, entries[1].Copies)
	assert.True(t, base.Equal(entries[1].CreatedAt))
}

func TestRecentLimit(t *testing.T) {
	j := openTest(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, j.Record(ctx, Entry{ConversationID: "a", DocumentName: "x", Copies: 1, ColorMode: "mono", Outcome: OutcomePrinted}))
	}

	entries, err := j.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestCounts(t *testing.T) {
	j := openTest(t)
	ctx := context.Background()

	require.NoError(t, j.Record(ctx, Entry{ConversationID: "a", DocumentName: "x", Copies: 1, ColorMode: "mono", Outcome: OutcomePrinted}))
	require.NoError(t, j.Record(ctx, Entry{ConversationID: "a", DocumentName: "y", Copies: 1, ColorMode: "mono", Outcome: OutcomePrinted}))
	require.NoError(t, j.Record(ctx, Entry{ConversationID: "b", DocumentName: "z", Copies: 1, ColorMode: "color", Outcome: OutcomeFailed}))

	counts, err := j.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[OutcomePrinted])
	assert.Equal(t, 1, counts[OutcomeFailed])
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Record(context.Background(), Entry{ConversationID: "a", DocumentName: "x", Copies: 1, ColorMode: "mono", Outcome: OutcomePrinted}))
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()

	entries, err := j.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
