package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/facesync/internal/models"
)

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, err := connect(natsURL)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &Consumer{nc: nc, js: js}, nil
}

// ConsumeAuditRequests starts consuming on-demand audit requests.
// workerCount determines how many goroutines process messages concurrently.
func (c *Consumer) ConsumeAuditRequests(ctx context.Context, consumerName string, handler func(context.Context, AuditRequest) error, workerCount int) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	stream, err := c.js.Stream(ctx, AuditRequestsStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", AuditRequestsStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       5 * time.Minute,
		MaxDeliver:    3,
		FilterSubject: AuditRequestsSubject,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	msgCh := make(chan jetstream.Msg, workerCount*2)

	// Start consumer fetch loop
	go func() {
		defer close(msgCh)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			batch, err := cons.Fetch(workerCount, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("fetch audit requests error", "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				select {
				case msgCh <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	// Start workers
	for i := 0; i < workerCount; i++ {
		go func(workerID int) {
			for msg := range msgCh {
				var req AuditRequest
				if err := json.Unmarshal(msg.Data(), &req); err != nil {
					slog.Error("drop malformed audit request", "worker", workerID, "error", err)
					_ = msg.Term()
					continue
				}
				if err := handler(ctx, req); err != nil {
					slog.Error("process audit request error", "worker", workerID, "error", err, "request_id", req.RequestID)
					_ = msg.Nak()
				} else {
					_ = msg.Ack()
				}
			}
		}(i)
	}

	slog.Info("audit request consumer started", "consumer", consumerName, "workers", workerCount)
	return nil
}

// ConsumeAttempts starts consuming attempt events (for the API to broadcast via WebSocket).
func (c *Consumer) ConsumeAttempts(ctx context.Context, consumerName string, handler func(context.Context, *models.AttemptLog) error) error {
	stream, err := c.js.Stream(ctx, AttemptsStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", AttemptsStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       10 * time.Second,
		MaxDeliver:    3,
		FilterSubject: AttemptsSubjectBase + ".>",
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			batch, err := cons.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				var entry models.AttemptLog
				if err := json.Unmarshal(msg.Data(), &entry); err != nil {
					slog.Error("drop malformed attempt event", "error", err, "subject", msg.Subject())
					_ = msg.Term()
					continue
				}
				if err := handler(ctx, &entry); err != nil {
					slog.Error("process attempt event error", "error", err)
					_ = msg.Nak()
				} else {
					_ = msg.Ack()
				}
			}
		}
	}()

	slog.Info("attempt consumer started", "consumer", consumerName)
	return nil
}

func (c *Consumer) Close() {
	c.nc.Close()
}
