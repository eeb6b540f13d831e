package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/noah-isme/gema-progress-api/internal/dto"
	"github.com/noah-isme/gema-progress-api/internal/observability"
)

const outcomeEventSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["student_id", "course_id", "unit_id", "kind", "passed"],
  "properties": {
    "student_id": {"type": "integer", "minimum": 1},
    "course_id": {"type": "integer", "minimum": 1},
    "unit_id": {"type": "integer", "minimum": 1},
    "kind": {"enum": ["quiz", "assignment"]},
    "score": {"type": ["number", "null"], "minimum": 0},
    "passed": {"type": "boolean"},
    "grader_id": {"type": "integer", "minimum": 0}
  }
}`

const (
	outcomeQueueGroup = "gema-progress-outcomes"

	// graders forward the id of the HTTP request that produced the grade
	outcomeCorrelationHeader = "X-Correlation-ID"
)

// ErrInvalidOutcomeEvent indicates a grading event that does not match the event schema.
var ErrInvalidOutcomeEvent = errors.New("invalid grading outcome event")

type outcomeEvent struct {
	dto.OutcomeRequest
	GraderID uint `json:"grader_id"`
}

// OutcomeConsumer applies grading outcomes published by assignment and quiz collaborators.
type OutcomeConsumer struct {
	progress    ProgressService
	nats        *nats.Conn
	subject     string
	schema      *jsonschema.Schema
	logger      zerolog.Logger
	maxAttempts int
	backoff     time.Duration
}

// NewOutcomeConsumer compiles the event schema and prepares the subscription.
func NewOutcomeConsumer(progress ProgressService, natsConn *nats.Conn, channelBase string, logger zerolog.Logger) (*OutcomeConsumer, error) {
	schema, err := jsonschema.CompileString("grading_outcome.schema.json", outcomeEventSchema)
	if err != nil {
		return nil, fmt.Errorf("compile outcome schema: %w", err)
	}

	subject := ""
	if channelBase != "" {
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".grading.outcomes"
	}

	return &OutcomeConsumer{
		progress:    progress,
		nats:        natsConn,
		subject:     subject,
		schema:      schema,
		logger:      logger.With().Str("component", "outcome_consumer").Logger(),
		maxAttempts: 3,
		backoff:     200 * time.Millisecond,
	}, nil
}

// Start subscribes with a queue group so each event is applied by one instance only.
func (c *OutcomeConsumer) Start(ctx context.Context) {
	if c.nats == nil || c.subject == "" {
		return
	}

	sub, err := c.nats.QueueSubscribe(c.subject, outcomeQueueGroup, func(msg *nats.Msg) {
		if err := c.Handle(ctx, msg.Data); err != nil {
			event := c.logger.Warn().Err(err).Str("subject", msg.Subject)
			if correlationID := msg.Header.Get(outcomeCorrelationHeader); correlationID != "" {
				event = event.Str("correlation_id", correlationID)
			}
			event.Msg("grading outcome not applied")
		}
	})
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to subscribe to grading outcomes")
		return
	}
	c.logger.Info().Str("subject", c.subject).Msg("grading outcome consumer started")

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			c.logger.Warn().Err(err).Msg("failed to drain grading outcome subscription")
		}
	}()
}

// Handle validates and applies one encoded event. Contention is retried with backoff.
func (c *OutcomeConsumer) Handle(ctx context.Context, data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		observability.OutcomeEvents().WithLabelValues("invalid").Inc()
		return fmt.Errorf("%w: %v", ErrInvalidOutcomeEvent, err)
	}
	if err := c.schema.Validate(raw); err != nil {
		observability.OutcomeEvents().WithLabelValues("invalid").Inc()
		return fmt.Errorf("%w: %v", ErrInvalidOutcomeEvent, err)
	}

	var event outcomeEvent
	if err := json.Unmarshal(data, &event); err != nil {
		observability.OutcomeEvents().WithLabelValues("invalid").Inc()
		return fmt.Errorf("%w: %v", ErrInvalidOutcomeEvent, err)
	}

	actor := ActivityActor{ID: event.GraderID, Role: "grader"}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		response, err := c.progress.RecordOutcome(ctx, actor, event.OutcomeRequest)
		if err == nil {
			result := "recorded"
			if response.Completed {
				result = "completed"
			}
			observability.OutcomeEvents().WithLabelValues(result).Inc()
			return nil
		}

		lastErr = err
		if !Classify(err).Retryable() || attempt == c.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}

	observability.OutcomeEvents().WithLabelValues(Classify(lastErr).String()).Inc()
	return lastErr
}
