package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/printdesk/internal/observability"
	"github.com/harun/printdesk/internal/tracing"
	"github.com/harun/printdesk/pkg/commandqueue"
	"github.com/harun/printdesk/pkg/conversation"
	"github.com/harun/printdesk/pkg/journal"
	"github.com/harun/printdesk/pkg/printjob"
	"github.com/harun/printdesk/pkg/session"
)

// ErrNoConversation is returned for events without a conversation id
var ErrNoConversation = errors.New("event has no conversation id")

// maxChainSteps bounds the directive chain of a single message
const maxChainSteps = 4

// Config holds the router's collaborators
type Config struct {
	Machine   *conversation.Machine
	Store     session.Store
	Queue     *commandqueue.CommandQueue
	Transport Transport
	Printer   Submitter
	Files     FileStore
	Journal   JobRecorder // optional
	Logger    zerolog.Logger
	Clock     func() time.Time
	// WarnAfter logs when a message waits longer than this behind its lane
	WarnAfter time.Duration
}

// Router processes inbound events
type Router struct {
	machine   *conversation.Machine
	store     session.Store
	queue     *commandqueue.CommandQueue
	transport Transport
	printer   Submitter
	files     FileStore
	journal   JobRecorder
	logger    zerolog.Logger
	now       func() time.Time
	warnAfter time.Duration
}

// New creates a router
func New(cfg Config) (*Router, error) {
	switch {
	case cfg.Machine == nil:
		return nil, fmt.Errorf("router: machine is required")
	case cfg.Store == nil:
		return nil, fmt.Errorf("router: session store is required")
	case cfg.Queue == nil:
		return nil, fmt.Errorf("router: command queue is required")
	case cfg.Transport == nil:
		return nil, fmt.Errorf("router: transport is required")
	case cfg.Printer == nil:
		return nil, fmt.Errorf("router: print submitter is required")
	case cfg.Files == nil:
		return nil, fmt.Errorf("router: file store is required")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Router{
		machine:   cfg.Machine,
		store:     cfg.Store,
		queue:     cfg.Queue,
		transport: cfg.Transport,
		printer:   cfg.Printer,
		files:     cfg.Files,
		journal:   cfg.Journal,
		logger:    cfg.Logger.With().Str("component", "router").Logger(),
		now:       clock,
		warnAfter: cfg.WarnAfter,
	}, nil
}

// Handle processes an event and waits until its lane task finished
func (r *Router) Handle(ctx context.Context, e Event) error {
	ch, ok, err := r.submit(ctx, e)
	if err != nil || !ok {
		return err
	}

	res := <-ch
	if errors.Is(res.Err, commandqueue.ErrDuplicate) {
		return nil
	}
	return res.Err
}

// Accept queues an event and returns without waiting. Events accepted in
// sequence are processed in that order per conversation. Cancelling ctx does
// not cancel the queued work.
func (r *Router) Accept(ctx context.Context, e Event) error {
	ch, ok, err := r.submit(context.WithoutCancel(ctx), e)
	if err != nil || !ok {
		return err
	}

	go func() {
		res := <-ch
		if res.Err != nil && !errors.Is(res.Err, commandqueue.ErrDuplicate) {
			r.logger.Error().
				Err(res.Err).
				Str("conversation_id", e.ConversationID).
				Str("message_id", e.MessageID).
				Msg("Message processing failed")
		}
	}()
	return nil
}

// submit validates the event and appends its task to the conversation lane.
// ok is false for events that are dropped.
func (r *Router) submit(ctx context.Context, e Event) (<-chan commandqueue.Result, bool, error) {
	if e.FromSelf {
		r.logger.Debug().Str("conversation_id", e.ConversationID).Msg("Ignoring self-sent message")
		return nil, false, nil
	}
	if e.ConversationID == "" {
		return nil, false, ErrNoConversation
	}

	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewRequestContext(ctx)
	}
	ctx = tracing.WithConversationID(ctx, e.ConversationID)

	observability.RecordInbound(Normalize(e).Kind.String())

	opts := &commandqueue.TaskOptions{}
	if e.MessageID != "" {
		opts.RequestID = e.ConversationID + ":" + e.MessageID
	}
	if r.warnAfter > 0 {
		opts.WarnAfterMs = int(r.warnAfter.Milliseconds())
	}

	ch := r.queue.Submit(ctx, LaneFor(e.ConversationID), func(ctx context.Context) (interface{}, error) {
		return nil, r.process(ctx, e)
	}, opts)

	return ch, true, nil
}

// process runs one event inside its lane
func (r *Router) process(ctx context.Context, e Event) error {
	ctx, span := tracing.StartSpan(ctx, "printdesk.router", "router.process",
		attribute.String("conversation_id", e.ConversationID),
	)
	defer span.End()

	s, err := session.Load(ctx, r.store, e.ConversationID)
	if err != nil {
		return r.abort(ctx, session.New(e.ConversationID), fmt.Errorf("failed to load session: %w", err))
	}

	in := Normalize(e)
	d := r.machine.Decide(s, in)

	logger := tracing.LoggerFromContext(ctx, r.logger)
	logger.Debug().
		Str("input", in.Kind.String()).
		Str("from", s.Status.String()).
		Str("directive", d.Directive.Kind.String()).
		Str("reason", string(d.Reason)).
		Msg("Decided")

	return r.execute(ctx, s, d, &e)
}

// execute runs the directive chain, persists the outcome and sends the reply.
// Any unexpected error or panic aborts the flow.
func (r *Router) execute(ctx context.Context, prev session.Session, d conversation.Decision, e *Event) (err error) {
	current := prev
	var releaseErr error
	defer func() {
		if rec := recover(); rec != nil {
			err = r.abort(ctx, current, fmt.Errorf("panic while processing message: %v", rec))
		}
	}()

	logger := tracing.LoggerFromContext(ctx, r.logger)

	for step := 0; d.Directive.Kind != conversation.DirectiveNone; step++ {
		if step >= maxChainSteps {
			return r.abort(ctx, current, fmt.Errorf("directive chain did not settle"))
		}

		r.send(ctx, prev.ConversationID, d.Notice)
		d.Notice = ""

		switch d.Directive.Kind {
		case conversation.DirectiveStoreFile:
			blob, err := r.transport.Download(ctx, *e)
			if err != nil {
				return r.abort(ctx, d.Next, fmt.Errorf("failed to download attachment: %w", err))
			}

			path, err := r.files.Store(prev.ConversationID, blob, d.Directive.FileName)
			if err != nil {
				return r.abort(ctx, d.Next, fmt.Errorf("failed to store attachment: %w", err))
			}

			current = d.Next
			current.FilePath = path
			d = r.machine.Stored(d.Next, d.Directive.FileName, path)

		case conversation.DirectiveSubmit:
			job := d.Directive.Job
			jobID, err := r.printer.Submit(ctx, job)

			var pe *printjob.Error
			if err != nil && !errors.As(err, &pe) {
				return r.abort(ctx, d.Next, fmt.Errorf("failed to submit print job: %w", err))
			}

			r.recordJob(ctx, d.Next, job, jobID, err)
			d = r.machine.Submitted(d.Next, err)

		case conversation.DirectiveRelease:
			if err := r.files.Release(d.Directive.ReleasePath); err != nil {
				if !d.Terminal() {
					return r.abort(ctx, current, fmt.Errorf("failed to release file: %w", err))
				}
				logger.Error().Err(err).Str("path", d.Directive.ReleasePath).Msg("Failed to release file")
				releaseErr = err
			}
			d.Directive = conversation.Directive{}

		default:
			return r.abort(ctx, current, fmt.Errorf("unknown directive %d", d.Directive.Kind))
		}

		current = d.Next
	}

	r.send(ctx, prev.ConversationID, d.Notice)

	if err := r.persist(ctx, d.Next); err != nil {
		return r.abort(ctx, d.Next, err)
	}

	observability.RecordTransition(prev.Status.String(), d.Next.Status.String())
	if d.Terminal() || d.Reason == conversation.ReasonRestart {
		metadata := map[string]interface{}{
			"file_name": d.Next.FileName,
		}
		if releaseErr != nil {
			metadata["release_error"] = releaseErr.Error()
		}
		observability.RecordSessionAudit(ctx, string(d.Reason), prev.ConversationID, d.Next.Status.String(), metadata)
	}

	logger.Info().
		Str("from", prev.Status.String()).
		Str("to", d.Next.Status.String()).
		Str("reason", string(d.Reason)).
		Msg("Conversation advanced")

	r.send(ctx, prev.ConversationID, d.Reply)
	return nil
}

// persist stores the next session, or removes it once the flow finished
func (r *Router) persist(ctx context.Context, next session.Session) error {
	if next.Status == session.Finished {
		if err := r.store.Delete(ctx, next.ConversationID); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		return nil
	}

	next.UpdatedAt = r.now()
	if err := r.store.Set(ctx, next.ConversationID, next); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// abort ends the flow after an unexpected error: the stored file is released,
// the session removed and the user told to start over. The cause is returned.
func (r *Router) abort(ctx context.Context, s session.Session, cause error) error {
	logger := tracing.LoggerFromContext(ctx, r.logger)
	logger.Error().Err(cause).Str("status", s.Status.String()).Msg("Aborting conversation")

	d := r.machine.Failed(s)

	if d.Directive.Kind == conversation.DirectiveRelease {
		if err := r.files.Release(d.Directive.ReleasePath); err != nil {
			logger.Warn().Err(err).Str("path", d.Directive.ReleasePath).Msg("Failed to release file")
		}
	}

	if err := r.store.Delete(ctx, s.ConversationID); err != nil {
		logger.Warn().Err(err).Msg("Failed to delete session")
	}

	observability.RecordTransition(s.Status.String(), d.Next.Status.String())
	observability.RecordSessionAudit(ctx, string(d.Reason), s.ConversationID, d.Next.Status.String(), map[string]interface{}{
		"error": cause.Error(),
	})

	r.send(ctx, s.ConversationID, d.Reply)

	return fmt.Errorf("conversation %s aborted: %w", s.ConversationID, cause)
}

// send delivers text; delivery failures are logged and do not change the flow
func (r *Router) send(ctx context.Context, conversationID, text string) {
	if text == "" {
		return
	}
	if err := r.transport.Send(ctx, conversationID, text); err != nil {
		logger := tracing.LoggerFromContext(ctx, r.logger)
		logger.Warn().Err(err).Msg("Failed to send message")
	}
}

func (r *Router) recordJob(ctx context.Context, s session.Session, job printjob.Job, jobID string, err error) {
	entry := journal.Entry{
		ConversationID: s.ConversationID,
		DocumentName:   job.DocumentName,
		Copies:         job.Copies,
		ColorMode:      string(job.ColorMode),
		Outcome:        journal.OutcomePrinted,
		JobID:          jobID,
		CreatedAt:      r.now(),
	}
	status := "success"
	if err != nil {
		entry.Outcome = journal.OutcomeFailed
		entry.ErrorKind = printjob.KindOf(err).String()
		entry.Error = err.Error()
		status = "failure"
	}

	observability.RecordPrintAudit(ctx, s.ConversationID, status, map[string]interface{}{
		"document": job.DocumentName,
		"copies":   job.Copies,
		"color":    string(job.ColorMode),
		"job_id":   jobID,
	})

	if r.journal == nil {
		return
	}
	if jerr := r.journal.Record(ctx, entry); jerr != nil {
		logger := tracing.LoggerFromContext(ctx, r.logger)
		logger.Warn().Err(jerr).Msg("Failed to journal print job")
	}
}

// EvictIdle expires sessions untouched for longer than maxIdle and returns
// how many were expired. Each eviction runs on the conversation's lane and
// re-reads the session, so a message that arrived meanwhile wins.
func (r *Router) EvictIdle(ctx context.Context, maxIdle time.Duration) (int, error) {
	if maxIdle <= 0 {
		return 0, nil
	}

	sessions, err := r.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	cutoff := r.now().Add(-maxIdle)
	var pending []<-chan commandqueue.Result

	for _, s := range sessions {
		if !s.IdleSince(cutoff) {
			continue
		}
		id := s.ConversationID
		taskCtx := tracing.WithConversationID(tracing.NewRequestContext(ctx), id)
		pending = append(pending, r.queue.Submit(taskCtx, LaneFor(id), func(ctx context.Context) (interface{}, error) {
			return r.expire(ctx, id, cutoff)
		}, nil))
	}

	evicted := 0
	var errs []error
	for _, ch := range pending {
		res := <-ch
		if res.Err != nil {
			errs = append(errs, res.Err)
			continue
		}
		if done, _ := res.Value.(bool); done {
			evicted++
		}
	}

	if evicted > 0 {
		r.logger.Info().Int("evicted", evicted).Dur("max_idle", maxIdle).Msg("Evicted idle sessions")
	}

	return evicted, errors.Join(errs...)
}

func (r *Router) expire(ctx context.Context, conversationID string, cutoff time.Time) (interface{}, error) {
	s, ok, err := r.store.Get(ctx, conversationID)
	if err != nil {
		return false, fmt.Errorf("failed to load session: %w", err)
	}
	if !ok || !s.IdleSince(cutoff) {
		return false, nil
	}

	d := r.machine.Expired(s)
	logger := tracing.LoggerFromContext(ctx, r.logger)

	if d.Directive.Kind == conversation.DirectiveRelease {
		if err := r.files.Release(d.Directive.ReleasePath); err != nil {
			logger.Warn().Err(err).Str("path", d.Directive.ReleasePath).Msg("Failed to release file")
		}
	}

	if err := r.store.Delete(ctx, conversationID); err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}

	observability.RecordEviction()
	observability.RecordTransition(s.Status.String(), d.Next.Status.String())
	observability.RecordSessionAudit(ctx, string(d.Reason), conversationID, d.Next.Status.String(), map[string]interface{}{
		"idle_since": s.UpdatedAt,
	})
	logger.Info().Str("status", s.Status.String()).Msg("Session expired")

	r.send(ctx, conversationID, d.Reply)
	return true, nil
}
