package printjob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harun/printdesk/internal/observability"
	"github.com/harun/printdesk/internal/tracing"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultRequestingUser is sent as requesting-user-name when none is configured
const DefaultRequestingUser = "printdesk"

// Submitter turns jobs into connector calls
type Submitter struct {
	connector      Connector
	endpoints      EndpointSource
	requestingUser string
	attempts       int
	delay          time.Duration
	logger         zerolog.Logger
}

// Option configures a Submitter
type Option func(*Submitter)

// WithRetry retries connector failures up to attempts total tries, waiting
// delay between them. Rejections by the printer are never retried.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(s *Submitter) {
		if attempts < 1 {
			attempts = 1
		}
		s.attempts = attempts
		s.delay = delay
	}
}

// WithRequestingUser sets the default requesting-user-name
func WithRequestingUser(user string) Option {
	return func(s *Submitter) {
		if strings.TrimSpace(user) != "" {
			s.requestingUser = user
		}
	}
}

// WithLogger sets the submitter logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Submitter) {
		s.logger = logger
	}
}

// NewSubmitter creates a submitter. Without WithRetry every job is tried once.
func NewSubmitter(connector Connector, endpoints EndpointSource, opts ...Option) *Submitter {
	s := &Submitter{
		connector:      connector,
		endpoints:      endpoints,
		requestingUser: DefaultRequestingUser,
		attempts:       1,
		logger:         log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "printjob").Logger()
	return s
}

// Submit sends the job to the printer and returns the printer's job id
func (s *Submitter) Submit(ctx context.Context, job Job) (string, error) {
	start := time.Now()

	ctx, span := tracing.StartSpan(ctx, "printdesk.printjob", "printjob.submit",
		attribute.Int("copies", job.Copies),
		attribute.String("color_mode", string(job.ColorMode)),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, s.logger)

	jobID, err := s.submit(ctx, job, logger)
	duration := time.Since(start)

	if err != nil {
		kind := KindOf(err)
		tracing.SpanError(span, err)
		observability.RecordPrintJob(kind.String(), duration)
		logger.Error().
			Err(err).
			Str("kind", kind.String()).
			Str("file", job.FilePath).
			Dur("duration", duration).
			Msg("Print job failed")
		return "", err
	}

	span.SetAttributes(attribute.String("job_id", jobID))
	observability.RecordPrintJob("accepted", duration)
	logger.Info().
		Str("job_id", jobID).
		Str("file", job.FilePath).
		Int("copies", job.Copies).
		Str("color_mode", string(job.ColorMode)).
		Dur("duration", duration).
		Msg("Print job accepted")

	return jobID, nil
}

func (s *Submitter) submit(ctx context.Context, job Job, logger zerolog.Logger) (string, error) {
	var endpoint string
	if s.endpoints != nil {
		endpoint = strings.TrimSpace(s.endpoints.PrinterEndpoint())
	}
	if endpoint == "" {
		return "", &Error{Kind: NotConfigured, Err: ErrNoEndpoint}
	}

	data, err := os.ReadFile(job.FilePath)
	if err != nil {
		return "", &Error{Kind: FileMissing, Err: err}
	}

	attrs := s.attributes(job)

	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if attempt > 1 {
			observability.RecordPrintRetry()
			logger.Warn().
				Err(lastErr).
				Int("attempt", attempt).
				Int("max_attempts", s.attempts).
				Msg("Retrying print job")

			if err := sleepContext(ctx, s.delay); err != nil {
				return "", &Error{Kind: ConnectorError, Err: err}
			}
		}

		result, err := s.connector.SubmitJob(ctx, endpoint, attrs, data)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		if !result.Accepted {
			detail := result.Detail
			if detail == "" {
				detail = "unspecified status"
			}
			return "", &Error{Kind: PrinterRejected, Err: fmt.Errorf("printer rejected job: %s", detail)}
		}

		return result.JobID, nil
	}

	return "", &Error{Kind: ConnectorError, Err: lastErr}
}

func (s *Submitter) attributes(job Job) Attributes {
	copies := job.Copies
	if copies < 1 {
		copies = 1
	}

	name := job.DocumentName
	if name == "" {
		name = filepath.Base(job.FilePath)
	}

	user := job.RequestingUser
	if user == "" {
		user = s.requestingUser
	}

	return Attributes{
		RequestingUser: user,
		JobName:        name,
		DocumentFormat: DefaultDocumentFormat,
		Copies:         copies,
		ColorMode:      job.ColorMode.IPPValue(),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
