// pkg/opencti/queue.go

package opencti

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	cerr "github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// EnrichmentMessage is a work item the platform publishes on the
// connector's listen queue.
type EnrichmentMessage struct {
	Internal struct {
		WorkID      string `json:"work_id"`
		ApplicantID string `json:"applicant_id"`
	} `json:"internal"`
	Event struct {
		EntityID   string `json:"entity_id"`
		EntityType string `json:"entity_type"`
	} `json:"event"`
}

// Queue consumes enrichment work items and pushes result bundles over the
// platform's RabbitMQ broker. It holds no connection state: Listen and
// every PushBundles call dial their own connection, so concurrent workers
// cannot tear down each other's channels.
type Queue struct {
	cfg         QueueConfig
	connectorID string
	log         *zap.Logger
}

// NewQueue creates a Queue for the registered broker configuration.
func NewQueue(cfg QueueConfig, connectorID string, log *zap.Logger) *Queue {
	return &Queue{cfg: cfg, connectorID: connectorID, log: log}
}

func (q *Queue) dial() (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(q.cfg.AMQPURL())
	if err != nil {
		return nil, nil, cerr.Wrap(err, "queue: connecting to broker")
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, cerr.Wrap(err, "queue: opening channel")
	}
	if err := channel.Qos(1, 0, false); err != nil {
		conn.Close()
		return nil, nil, cerr.Wrap(err, "queue: setting QoS")
	}
	return conn, channel, nil
}

// Handler processes one enrichment message. The returned string is the
// completion message reported back to the platform.
type Handler func(ctx context.Context, msg EnrichmentMessage) (string, error)

// Listen consumes the listen queue until the context is canceled,
// reconnecting with backoff on broker failures. Messages are acked after
// the handler returns; handler errors are logged and the message is still
// acked, matching the platform's at-most-once processing expectations.
func (q *Queue) Listen(ctx context.Context, handler Handler) error {
	backoff := time.Second
	for {
		if err := q.listenOnce(ctx, handler); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			q.log.Warn("Broker connection lost, reconnecting",
				zap.Error(err),
				zap.Duration("backoff", backoff))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		return nil
	}
}

func (q *Queue) listenOnce(ctx context.Context, handler Handler) error {
	conn, channel, err := q.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	deliveries, err := channel.Consume(q.cfg.Listen, "", false, false, false, false, nil)
	if err != nil {
		return cerr.Wrap(err, "queue: consuming listen queue")
	}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	q.log.Info("Listening for enrichment requests", zap.String("queue", q.cfg.Listen))
	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr := <-closed:
			return cerr.Wrap(amqpErr, "queue: connection closed")
		case delivery, ok := <-deliveries:
			if !ok {
				return cerr.New("queue: delivery channel closed")
			}
			q.handleDelivery(ctx, delivery, handler)
		}
	}
}

func (q *Queue) handleDelivery(ctx context.Context, delivery amqp.Delivery, handler Handler) {
	var msg EnrichmentMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		q.log.Error("Dropping unparsable enrichment message", zap.Error(err))
		_ = delivery.Ack(false)
		return
	}

	outcome, err := handler(ctx, msg)
	if err != nil {
		q.log.Error("Enrichment failed",
			zap.String("entity_id", msg.Event.EntityID),
			zap.Error(err))
	} else {
		q.log.Info("Enrichment finished",
			zap.String("entity_id", msg.Event.EntityID),
			zap.String("outcome", outcome))
	}
	_ = delivery.Ack(false)
}

// bundleMessage is the envelope the platform workers expect on the push
// exchange.
type bundleMessage struct {
	Type        string `json:"type"`
	ApplicantID string `json:"applicant_id,omitempty"`
	WorkID      string `json:"work_id,omitempty"`
	Update      bool   `json:"update"`
	Content     string `json:"content"`
}

// PushBundles publishes each bundle as its own message, base64-wrapped,
// routed to this connector's push queue. Publishes in confirm mode and
// returns the number of confirmed messages.
func (q *Queue) PushBundles(ctx context.Context, workID, applicantID string, bundles [][]byte) (int, error) {
	conn, channel, err := q.dial()
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	if err := channel.Confirm(false); err != nil {
		return 0, cerr.Wrap(err, "queue: enabling confirm mode")
	}

	routingKey := "push_routing_" + q.connectorID
	sent := 0
	for _, bundle := range bundles {
		payload, err := json.Marshal(bundleMessage{
			Type:        "bundle",
			ApplicantID: applicantID,
			WorkID:      workID,
			Update:      true,
			Content:     base64.StdEncoding.EncodeToString(bundle),
		})
		if err != nil {
			return sent, cerr.Wrap(err, "queue: marshaling bundle message")
		}
		confirm, err := channel.PublishWithDeferredConfirmWithContext(
			ctx, q.cfg.PushExchange, routingKey, false, false, amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Body:         payload,
			})
		if err != nil {
			return sent, cerr.Wrap(err, "queue: publishing bundle")
		}
		acked, err := confirm.WaitContext(ctx)
		if err != nil {
			return sent, cerr.Wrap(err, "queue: awaiting publish confirm")
		}
		if !acked {
			return sent, cerr.New("queue: broker rejected bundle")
		}
		sent++
	}
	q.log.Debug("Pushed bundles to worker queue",
		zap.Int("count", sent),
		zap.String("work_id", workID))
	return sent, nil
}
