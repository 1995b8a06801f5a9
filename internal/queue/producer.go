package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/facesync/internal/audit"
	"github.com/your-org/facesync/internal/models"
)

const (
	AttemptsStreamName  = "ATTEMPTS"
	AttemptsSubjectBase = "attempts"

	AuditRequestsStreamName = "AUDIT_REQUESTS"
	AuditRequestsSubject    = "audit.requests"
	AuditReportsStreamName  = "AUDIT_REPORTS"
	AuditReportsSubject     = "audit.reports"
)

// AuditRequest asks the auditor worker for an immediate run.
type AuditRequest struct {
	RequestID   uuid.UUID `json:"request_id"`
	RequestedBy string    `json:"requested_by,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// AuditReportMessage is a finished audit, tagged with the request that
// triggered it when there was one.
type AuditReportMessage struct {
	RequestID *uuid.UUID    `json:"request_id,omitempty"`
	Report    *audit.Report `json:"report"`
}

type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewProducer(natsURL string) (*Producer, error) {
	nc, err := connect(natsURL)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &Producer{nc: nc, js: js}, nil
}

func connect(natsURL string) (*nats.Conn, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return nc, nil
}

func streamConfigs() []jetstream.StreamConfig {
	return []jetstream.StreamConfig{
		{
			Name:        AttemptsStreamName,
			Subjects:    []string{AttemptsSubjectBase + ".>"},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      24 * time.Hour,
			MaxMsgs:     1000000,
			Storage:     jetstream.FileStorage,
			Discard:     jetstream.DiscardOld,
			Duplicates:  2 * time.Minute,
			Description: "Registration and verification attempts",
		},
		{
			Name:        AuditRequestsStreamName,
			Subjects:    []string{AuditRequestsSubject},
			Retention:   jetstream.WorkQueuePolicy,
			MaxAge:      time.Hour,
			MaxMsgs:     1000,
			Storage:     jetstream.FileStorage,
			Duplicates:  time.Minute,
			Description: "On-demand consistency audit requests",
		},
		{
			Name:        AuditReportsStreamName,
			Subjects:    []string{AuditReportsSubject},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      30 * 24 * time.Hour,
			MaxMsgs:     10000,
			Storage:     jetstream.FileStorage,
			Description: "Consistency audit reports",
		},
	}
}

// EnsureStreams creates JetStream streams if they don't exist.
// Retries up to 30 times (1s apart) to handle NATS startup delay.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	streams := streamConfigs()

	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		allOK := true
		for _, cfg := range streams {
			opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
			cancel()
			if err != nil {
				allOK = false
				if attempt == maxAttempts {
					return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
				}
				slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)
				break
			}
			slog.Info("ensured NATS stream", "name", cfg.Name)
		}
		if allOK {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

// AttemptSubject is the subject an attempt of the given action is published on.
func AttemptSubject(action models.AttemptAction) string {
	return AttemptsSubjectBase + "." + string(action)
}

// PublishAttempt publishes a logged attempt. The attempt id doubles as the
// JetStream message id so retries are deduplicated.
func (p *Producer) PublishAttempt(ctx context.Context, entry *models.AttemptLog) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal attempt: %w", err)
	}

	var opts []jetstream.PublishOpt
	if entry.ID != uuid.Nil {
		opts = append(opts, jetstream.WithMsgID(entry.ID.String()))
	}
	if _, err := p.js.Publish(ctx, AttemptSubject(entry.Action), payload, opts...); err != nil {
		return fmt.Errorf("publish attempt: %w", err)
	}
	return nil
}

// RequestAudit enqueues an on-demand audit and returns its request id.
func (p *Producer) RequestAudit(ctx context.Context, requestedBy string) (uuid.UUID, error) {
	req := AuditRequest{RequestID: uuid.New(), RequestedBy: requestedBy, RequestedAt: time.Now().UTC()}
	payload, err := json.Marshal(req)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal audit request: %w", err)
	}
	if _, err := p.js.Publish(ctx, AuditRequestsSubject, payload, jetstream.WithMsgID(req.RequestID.String())); err != nil {
		return uuid.Nil, fmt.Errorf("publish audit request: %w", err)
	}
	return req.RequestID, nil
}

// PublishAuditReport publishes a finished audit.
func (p *Producer) PublishAuditReport(ctx context.Context, requestID *uuid.UUID, report *audit.Report) error {
	payload, err := json.Marshal(AuditReportMessage{RequestID: requestID, Report: report})
	if err != nil {
		return fmt.Errorf("marshal audit report: %w", err)
	}
	if _, err := p.js.Publish(ctx, AuditReportsSubject, payload); err != nil {
		return fmt.Errorf("publish audit report: %w", err)
	}
	return nil
}

// LatestAuditReport returns the most recent report on the reports stream, or
// nil when none has been published.
func (p *Producer) LatestAuditReport(ctx context.Context) (*AuditReportMessage, error) {
	stream, err := p.js.Stream(ctx, AuditReportsStreamName)
	if err != nil {
		return nil, fmt.Errorf("get stream %s: %w", AuditReportsStreamName, err)
	}
	raw, err := stream.GetLastMsgForSubject(ctx, AuditReportsSubject)
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get last audit report: %w", err)
	}
	var msg AuditReportMessage
	if err := json.Unmarshal(raw.Data, &msg); err != nil {
		return nil, fmt.Errorf("decode audit report: %w", err)
	}
	return &msg, nil
}

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}
