package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ecoledger/marketplace/internal/authenticator"
	"github.com/ecoledger/marketplace/internal/model"
	"github.com/ecoledger/marketplace/internal/repository"
)

// BlobGetter streams a stored certificate back out of the blob store.
type BlobGetter interface {
	Get(ctx context.Context, key string) (io.ReadCloser, int64, string, error)
}

// Verifier is the authenticator call the consumer re-runs per event.
type Verifier interface {
	Authenticate(ctx context.Context, filename string, r io.Reader) (*authenticator.Result, error)
}

// CreditStore is the slice of the credit repository the consumer needs.
type CreditStore interface {
	GetBySerial(ctx context.Context, serial string) (model.Credit, error)
	UpdateStatusFromPending(ctx context.Context, serial, status string, verification []byte) (int64, error)
}

// VerifyConsumer consumes credit.verify events and settles PENDING
// credits to AUTHENTICATED or UNAUTHENTICATED.  Delivery is
// at-least-once: retryable failures (authenticator or blob store
// unreachable) are nacked with requeue, and because the status update
// only touches PENDING rows a redelivered event for an already-settled
// credit is a harmless no-op.
type VerifyConsumer struct {
	Blobs   BlobGetter
	Auth    Verifier
	Credits CreditStore
}

// Start connects to RabbitMQ, declares the credit.verify queue
// (durable), and starts consuming.  It runs a reconnect loop with
// exponential dial backoff and keeps running across broker restarts;
// processing errors are logged and the offending message is rejected or
// requeued depending on whether a retry can ever succeed.
func (vc *VerifyConsumer) Start() error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(brokerURL())
		if err != nil {
			log.Printf("verify-consumer: failed to dial broker: %v; retrying in %s", err, backoff)
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		if err := vc.consumeLoop(conn); err != nil {
			log.Printf("verify-consumer: consume loop ended: %v; reconnecting", err)
			time.Sleep(2 * time.Second)
			continue
		}
	}
}

func (vc *VerifyConsumer) consumeLoop(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	// One verification at a time: each event costs an authenticator
	// round-trip, and the registry service rate-limits aggressively.
	if err := ch.Qos(1, 0, false); err != nil {
		log.Printf("verify-consumer: set QoS failed: %v", err)
	}

	_, err = ch.QueueDeclare(verifyQueueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	msgs, err := ch.Consume(verifyQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for d := range msgs {
		requeue, err := vc.Handle(context.Background(), d.Body)
		if err != nil {
			log.Printf("verify-consumer: handle message failed (requeue=%v): %v", requeue, err)
			_ = d.Nack(false, requeue)
			continue
		}
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}

// Handle processes one raw event body.  It reports whether a failure is
// worth redelivering: broken payloads and vanished credits are not,
// unreachable dependencies are.
func (vc *VerifyConsumer) Handle(ctx context.Context, body []byte) (requeue bool, err error) {
	var ev CreditVerifyEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return false, fmt.Errorf("unmarshal: %w", err)
	}
	if ev.SerialNumber == "" || ev.BlobKey == "" {
		return false, fmt.Errorf("incomplete event: %+v", ev)
	}

	credit, err := vc.Credits.GetBySerial(ctx, ev.SerialNumber)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, fmt.Errorf("credit %s no longer exists", ev.SerialNumber)
		}
		return true, fmt.Errorf("load credit %s: %w", ev.SerialNumber, err)
	}
	if credit.Status != model.CreditStatusPending {
		// Already settled; redelivery after a prior success.
		return false, nil
	}

	blob, _, _, err := vc.Blobs.Get(ctx, ev.BlobKey)
	if err != nil {
		return true, fmt.Errorf("fetch blob %s: %w", ev.BlobKey, err)
	}
	defer blob.Close()

	res, err := vc.Auth.Authenticate(ctx, ev.Filename, blob)
	if err != nil {
		if errors.Is(err, authenticator.ErrUnavailable) {
			return true, fmt.Errorf("authenticate %s: %w", ev.SerialNumber, err)
		}
		return false, fmt.Errorf("authenticate %s: %w", ev.SerialNumber, err)
	}

	status := model.CreditStatusUnauthenticated
	if res.Authenticated {
		status = model.CreditStatusAuthenticated
	}
	payload, err := json.Marshal(res)
	if err != nil {
		payload = nil
	}

	rows, err := vc.Credits.UpdateStatusFromPending(ctx, ev.SerialNumber, status, payload)
	if err != nil {
		return true, fmt.Errorf("update %s: %w", ev.SerialNumber, err)
	}
	if rows == 0 {
		// Settled by someone else between our read and write.
		log.Printf("verify-consumer: %s already settled, skipping", ev.SerialNumber)
		return false, nil
	}
	log.Printf("verify-consumer: %s -> %s", ev.SerialNumber, status)
	return false, nil
}
