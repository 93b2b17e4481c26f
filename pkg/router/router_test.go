package router

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/printdesk/internal/observability"
	"github.com/harun/printdesk/pkg/commandqueue"
	"github.com/harun/printdesk/pkg/conversation"
	"github.com/harun/printdesk/pkg/files"
	"github.com/harun/printdesk/pkg/journal"
	"github.com/harun/printdesk/pkg/printjob"
	"github.com/harun/printdesk/pkg/session"
)

type sent struct {
	conversationID string
	text           string
}

type fakeTransport struct {
	mu          sync.Mutex
	sent        []sent
	blob        []byte
	downloadErr error
	sendErr     error
}

func (f *fakeTransport) Send(ctx context.Context, conversationID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{conversationID, text})
	return f.sendErr
}

func (f *fakeTransport) Download(ctx context.Context, e Event) ([]byte, error) {
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	if f.blob == nil {
		return []byte("%PDF-1.4"), nil
	}
	return f.blob, nil
}

func (f *fakeTransport) texts(conversationID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sent {
		if s.conversationID == conversationID {
			out = append(out, s.text)
		}
	}
	return out
}

func (f *fakeTransport) last(conversationID string) string {
	texts := f.texts(conversationID)
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

type fakeConnector struct {
	mu     sync.Mutex
	calls  []printjob.Attributes
	result printjob.Result
	err    error
	onCall func()
}

func (f *fakeConnector) SubmitJob(ctx context.Context, endpoint string, attrs printjob.Attributes, data []byte) (printjob.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, attrs)
	onCall := f.onCall
	f.mu.Unlock()
	if onCall != nil {
		onCall()
	}
	return f.result, f.err
}

type panicSubmitter struct{}

func (panicSubmitter) Submit(ctx context.Context, job printjob.Job) (string, error) {
	panic("boom")
}

type plainErrSubmitter struct{}

func (plainErrSubmitter) Submit(ctx context.Context, job printjob.Job) (string, error) {
	return "", errors.New("unexpected")
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (f *fakeJournal) Record(ctx context.Context, e journal.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

type failingStore struct {
	*session.MemoryStore
	setErr error
}

func (f *failingStore) Set(ctx context.Context, id string, s session.Session) error {
	if f.setErr != nil {
		return f.setErr
	}
	return f.MemoryStore.Set(ctx, id, s)
}

type stuckFiles struct {
	*files.Manager
	releaseErr error
}

func (f *stuckFiles) Release(path string) error {
	if f.releaseErr != nil {
		return &files.StorageError{Op: "release", Path: path, Err: f.releaseErr}
	}
	return f.Manager.Release(path)
}

type harness struct {
	router    *Router
	transport *fakeTransport
	connector *fakeConnector
	store     *session.MemoryStore
	files     *files.Manager
	journal   *fakeJournal
	queue     *commandqueue.CommandQueue
	msgs      conversation.Messages
	now       time.Time
	mu        sync.Mutex
}

type harnessOption func(*Config, *harness)

func withEndpoint(endpoint string) harnessOption {
	return func(cfg *Config, h *harness) {
		cfg.Printer = printjob.NewSubmitter(h.connector, printjob.StaticEndpoint(endpoint))
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		transport: &fakeTransport{},
		connector: &fakeConnector{result: printjob.Result{Accepted: true, JobID: "42"}},
		store:     session.NewMemoryStore(),
		files:     files.New(filepath.Join(t.TempDir(), "uploads"), zerolog.Nop()),
		journal:   &fakeJournal{},
		queue:     commandqueue.New(),
		now:       time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC),
	}
	t.Cleanup(func() { h.queue.Close() })

	machine := conversation.New(conversation.DefaultOptions())
	h.msgs = machine.Messages()

	cfg := Config{
		Machine:   machine,
		Store:     h.store,
		Queue:     h.queue,
		Transport: h.transport,
		Printer:   printjob.NewSubmitter(h.connector, printjob.StaticEndpoint("ipp://printer.local/ipp/print")),
		Files:     h.files,
		Journal:   h.journal,
		Logger:    zerolog.Nop(),
		Clock:     h.clock,
	}
	for _, opt := range opts {
		opt(&cfg, h)
	}

	r, err := New(cfg)
	require.NoError(t, err)
	h.router = r
	return h
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = h.now.Add(d)
}

func (h *harness) text(t *testing.T, id, text string) {
	t.Helper()
	require.NoError(t, h.router.Handle(context.Background(), Event{ConversationID: id, Text: text}))
}

func (h *harness) document(t *testing.T, id, name string) {
	t.Helper()
	require.NoError(t, h.router.Handle(context.Background(), Event{
		ConversationID: id,
		Attachment: &conversation.Attachment{
			Media:    conversation.MediaDocument,
			MimeType: "application/pdf",
			FileName: name,
		},
	}))
}

func (h *harness) session(t *testing.T, id string) (session.Session, bool) {
	t.Helper()
	s, ok, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return s, ok
}

func uploads(t *testing.T, m *files.Manager) []string {
	t.Helper()
	entries, err := os.ReadDir(m.Dir())
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	in := Normalize(Event{Text: "  OI "})
	assert.Equal(t, conversation.KindText, in.Kind)
	assert.Equal(t, "oi", in.Text)

	in = Normalize(Event{Text: "caption", Attachment: &conversation.Attachment{Media: conversation.MediaImage}})
	assert.Equal(t, conversation.KindAttachment, in.Kind)

	in = Normalize(Event{Text: "   "})
	assert.Equal(t, conversation.KindUnsupported, in.Kind)
}

func TestRouter_HappyPath(t *testing.T) {
	h := newHarness(t)

	h.text(t, "c1", "Oi")
	assert.Equal(t, h.msgs.Welcome, h.transport.last("c1"))
	s, ok := h.session(t, "c1")
	require.True(t, ok)
	assert.Equal(t, session.AwaitingFile, s.Status)

	h.document(t, "c1", "relatorio.pdf")
	assert.Contains(t, h.transport.last("c1"), "relatorio.pdf")
	s, _ = h.session(t, "c1")
	assert.Equal(t, session.AwaitingColorChoice, s.Status)
	assert.FileExists(t, s.FilePath)
	storedPath := s.FilePath

	h.text(t, "c1", "2")
	s, _ = h.session(t, "c1")
	assert.Equal(t, session.AwaitingCopies, s.Status)
	assert.Equal(t, printjob.Color, s.ColorMode)

	h.text(t, "c1", "3")
	texts := h.transport.texts("c1")
	require.GreaterOrEqual(t, len(texts), 2)
	assert.Contains(t, texts[len(texts)-2], "3 cópia(s)")
	assert.Equal(t, h.msgs.Success, texts[len(texts)-1])

	_, ok = h.session(t, "c1")
	assert.False(t, ok)
	assert.NoFileExists(t, storedPath)

	require.Len(t, h.connector.calls, 1)
	assert.Equal(t, 3, h.connector.calls[0].Copies)
	assert.Equal(t, "color", h.connector.calls[0].ColorMode)
	assert.Equal(t, "relatorio.pdf", h.connector.calls[0].JobName)

	require.Len(t, h.journal.entries, 1)
	assert.Equal(t, journal.OutcomePrinted, h.journal.entries[0].Outcome)
	assert.Equal(t, "42", h.journal.entries[0].JobID)
}

func TestRouter_FirstMessageAlwaysWelcomes(t *testing.T) {
	h := newHarness(t)

	h.text(t, "c1", "qualquer coisa")
	assert.Equal(t, h.msgs.Welcome, h.transport.last("c1"))
	s, _ := h.session(t, "c1")
	assert.Equal(t, session.AwaitingFile, s.Status)
}

func TestRouter_InvalidInputsKeepState(t *testing.T) {
	h := newHarness(t)

	h.text(t, "c1", "oi")
	h.text(t, "c1", "isto não é arquivo")
	assert.Equal(t, h.msgs.InvalidAttachment, h.transport.last("c1"))

	require.NoError(t, h.router.Handle(context.Background(), Event{
		ConversationID: "c1",
		Attachment:     &conversation.Attachment{Media: conversation.MediaVideo, MimeType: "video/mp4"},
	}))
	assert.Equal(t, h.msgs.InvalidAttachment, h.transport.last("c1"))
	assert.Empty(t, uploads(t, h.files))

	h.document(t, "c1", "a.pdf")
	h.text(t, "c1", "3")
	assert.Equal(t, h.msgs.InvalidOption, h.transport.last("c1"))
	s, _ := h.session(t, "c1")
	assert.Equal(t, session.AwaitingColorChoice, s.Status)

	h.text(t, "c1", "1")
	for _, bad := range []string{"0", "-2", "abc", "x3", "0.9"} {
		h.text(t, "c1", bad)
		assert.Equal(t, h.msgs.InvalidNumber, h.transport.last("c1"), bad)
	}
	s, _ = h.session(t, "c1")
	assert.Equal(t, session.AwaitingCopies, s.Status)
	assert.FileExists(t, s.FilePath)
	assert.Empty(t, h.connector.calls)
}

func TestRouter_GreetingRestartsAndReleases(t *testing.T) {
	h := newHarness(t)

	h.text(t, "c1", "oi")
	h.document(t, "c1", "a.pdf")
	s, _ := h.session(t, "c1")
	stored := s.FilePath

	h.text(t, "c1", "OLÁ")
	assert.Equal(t, h.msgs.Welcome, h.transport.last("c1"))
	s, _ = h.session(t, "c1")
	assert.Equal(t, session.AwaitingFile, s.Status)
	assert.False(t, s.HasFile())
	assert.NoFileExists(t, stored)
}

func TestRouter_PrinterNotConfigured(t *testing.T) {
	h := newHarness(t, withEndpoint(""))

	h.text(t, "c1", "oi")
	h.document(t, "c1", "a.pdf")
	s, _ := h.session(t, "c1")
	stored := s.FilePath
	h.text(t, "c1", "1")
	h.text(t, "c1", "1")

	assert.Equal(t, h.msgs.Failure, h.transport.last("c1"))
	assert.NoFileExists(t, stored)
	_, ok := h.session(t, "c1")
	assert.False(t, ok)
	assert.Empty(t, h.connector.calls)

	require.Len(t, h.journal.entries, 1)
	assert.Equal(t, journal.OutcomeFailed, h.journal.entries[0].Outcome)
	assert.Equal(t, "not_configured", h.journal.entries[0].ErrorKind)
}

func TestRouter_PrinterRejected(t *testing.T) {
	h := newHarness(t)
	h.connector.result = printjob.Result{Accepted: false, Detail: "server-error-busy"}

	h.text(t, "c1", "oi")
	h.document(t, "c1", "a.pdf")
	h.text(t, "c1", "1")
	h.text(t, "c1", "1")

	assert.Equal(t, h.msgs.Failure, h.transport.last("c1"))
	assert.Empty(t, uploads(t, h.files))
	_, ok := h.session(t, "c1")
	assert.False(t, ok)
}

func TestRouter_DownloadFailureAborts(t *testing.T) {
	h := newHarness(t)
	h.transport.downloadErr = errors.New("network down")

	h.text(t, "c1", "oi")
	err := h.router.Handle(context.Background(), Event{
		ConversationID: "c1",
		Attachment:     &conversation.Attachment{Media: conversation.MediaDocument, FileName: "a.pdf"},
	})
	require.Error(t, err)
	assert.Equal(t, h.msgs.Generic, h.transport.last("c1"))
	_, ok := h.session(t, "c1")
	assert.False(t, ok)
}

func TestRouter_UnexpectedSubmitErrorAborts(t *testing.T) {
	h := newHarness(t, func(cfg *Config, h *harness) { cfg.Printer = plainErrSubmitter{} })

	h.text(t, "c1", "oi")
	h.document(t, "c1", "a.pdf")
	h.text(t, "c1", "2")
	err := h.router.Handle(context.Background(), Event{ConversationID: "c1", Text: "1"})

	require.Error(t, err)
	assert.Equal(t, h.msgs.Generic, h.transport.last("c1"))
	assert.Empty(t, uploads(t, h.files))
	_, ok := h.session(t, "c1")
	assert.False(t, ok)
}

func TestRouter_PanicAborts(t *testing.T) {
	h := newHarness(t, func(cfg *Config, h *harness) { cfg.Printer = panicSubmitter{} })

	h.text(t, "c1", "oi")
	h.document(t, "c1", "a.pdf")
	h.text(t, "c1", "2")
	err := h.router.Handle(context.Background(), Event{ConversationID: "c1", Text: "1"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
	assert.Equal(t, h.msgs.Generic, h.transport.last("c1"))
	assert.Empty(t, uploads(t, h.files))
	_, ok := h.session(t, "c1")
	assert.False(t, ok)

	// The lane keeps working after the panic
	h.text(t, "c1", "oi")
	assert.Equal(t, h.msgs.Welcome, h.transport.last("c1"))
}

func TestRouter_PersistFailureAborts(t *testing.T) {
	store := &failingStore{MemoryStore: session.NewMemoryStore()}
	h := newHarness(t, func(cfg *Config, h *harness) { cfg.Store = store })

	store.setErr = errors.New("disk full")
	err := h.router.Handle(context.Background(), Event{ConversationID: "c1", Text: "oi"})

	require.Error(t, err)
	texts := h.transport.texts("c1")
	require.Len(t, texts, 1)
	assert.Equal(t, h.msgs.Generic, texts[0])
}

func TestRouter_SendFailureDoesNotAbort(t *testing.T) {
	h := newHarness(t)
	h.transport.sendErr = errors.New("telegram unavailable")

	h.text(t, "c1", "oi")
	s, ok := h.session(t, "c1")
	require.True(t, ok)
	assert.Equal(t, session.AwaitingFile, s.Status)
}

func TestRouter_IgnoresSelfAndRejectsAnonymous(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.router.Handle(context.Background(), Event{ConversationID: "c1", Text: "oi", FromSelf: true}))
	assert.Empty(t, h.transport.texts("c1"))

	err := h.router.Handle(context.Background(), Event{Text: "oi"})
	assert.ErrorIs(t, err, ErrNoConversation)
}

func TestRouter_DuplicateMessageDropped(t *testing.T) {
	h := newHarness(t)

	e := Event{ConversationID: "c1", MessageID: "100", Text: "oi"}
	require.NoError(t, h.router.Handle(context.Background(), e))
	require.NoError(t, h.router.Handle(context.Background(), e))

	assert.Len(t, h.transport.texts("c1"), 1)
}

func TestRouter_AcceptPreservesOrder(t *testing.T) {
	h := newHarness(t)

	ctx := context.Background()
	require.NoError(t, h.router.Accept(ctx, Event{ConversationID: "c1", MessageID: "1", Text: "oi"}))
	require.NoError(t, h.router.Accept(ctx, Event{ConversationID: "c1", MessageID: "2", Attachment: &conversation.Attachment{
		Media: conversation.MediaDocument, FileName: "a.pdf",
	}}))
	require.NoError(t, h.router.Accept(ctx, Event{ConversationID: "c1", MessageID: "3", Text: "1"}))

	assert.Eventually(t, func() bool {
		s, ok, _ := h.store.Get(ctx, "c1")
		return ok && s.Status == session.AwaitingCopies
	}, 2*time.Second, 10*time.Millisecond)

	texts := h.transport.texts("c1")
	require.Len(t, texts, 3)
	assert.Equal(t, h.msgs.Welcome, texts[0])
	assert.Contains(t, texts[1], "a.pdf")
}

func TestRouter_ConversationsAreIsolated(t *testing.T) {
	h := newHarness(t)

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			ctx := context.Background()
			doc := &conversation.Attachment{Media: conversation.MediaDocument, FileName: id + ".pdf"}
			for _, e := range []Event{
				{ConversationID: id, Text: "oi"},
				{ConversationID: id, Attachment: doc},
				{ConversationID: id, Text: "1"},
				{ConversationID: id, Text: "2"},
			} {
				assert.NoError(t, h.router.Handle(ctx, e))
			}
		}(id)
	}
	wg.Wait()

	for _, id := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, h.msgs.Success, h.transport.last(id), id)
	}
	h.connector.mu.Lock()
	assert.Len(t, h.connector.calls, 4)
	h.connector.mu.Unlock()
	assert.Empty(t, uploads(t, h.files))
	assert.Equal(t, 0, h.queue.LaneCount())
}

func TestRouter_EvictIdle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.text(t, "old", "oi")
	h.document(t, "old", "a.pdf")
	s, _ := h.session(t, "old")
	stored := s.FilePath

	h.advance(20 * time.Minute)
	h.text(t, "fresh", "oi")
	h.advance(15 * time.Minute)

	n, err := h.router.EvictIdle(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, h.msgs.Expired, h.transport.last("old"))
	assert.NoFileExists(t, stored)
	_, ok := h.session(t, "old")
	assert.False(t, ok)

	_, ok = h.session(t, "fresh")
	assert.True(t, ok)

	n, err = h.router.EvictIdle(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRouter_ReleaseFailureOnRestartAborts(t *testing.T) {
	var stuck *stuckFiles
	h := newHarness(t, func(cfg *Config, h *harness) {
		stuck = &stuckFiles{Manager: h.files}
		cfg.Files = stuck
	})

	h.text(t, "c1", "oi")
	h.document(t, "c1", "a.pdf")
	h.text(t, "c1", "1")

	stuck.releaseErr = errors.New("permission denied")
	err := h.router.Handle(context.Background(), Event{ConversationID: "c1", Text: "oi"})

	require.Error(t, err)
	var se *files.StorageError
	assert.ErrorAs(t, err, &se)
	assert.Equal(t, h.msgs.Generic, h.transport.last("c1"))
	_, ok := h.session(t, "c1")
	assert.False(t, ok)

	// A fresh greeting starts over once the store is usable again
	stuck.releaseErr = nil
	h.text(t, "c1", "oi")
	assert.Equal(t, h.msgs.Welcome, h.transport.last("c1"))
}

func TestRouter_ReleaseFailureOnFinishIsAudited(t *testing.T) {
	var audit bytes.Buffer
	observability.SetAuditWriter(&audit)
	t.Cleanup(func() { observability.SetAuditWriter(io.Discard) })

	var stuck *stuckFiles
	h := newHarness(t, func(cfg *Config, h *harness) {
		stuck = &stuckFiles{Manager: h.files}
		cfg.Files = stuck
	})

	h.text(t, "c1", "oi")
	h.document(t, "c1", "a.pdf")
	h.text(t, "c1", "1")

	stuck.releaseErr = errors.New("permission denied")
	h.text(t, "c1", "2")

	assert.Equal(t, h.msgs.Success, h.transport.last("c1"))
	_, ok := h.session(t, "c1")
	assert.False(t, ok)
	assert.Contains(t, audit.String(), "release_error")
	assert.Contains(t, audit.String(), "permission denied")
}
