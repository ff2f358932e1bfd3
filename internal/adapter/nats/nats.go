// Package nats implements the message queue port using NATS JetStream.
//
// Delivery is a wakeup optimization: workers poll the durable store for
// work and the queue only shortens that poll latency. Consumption is
// still guarded the whole way down: schema validation before dispatch,
// bounded retries after handler errors, and a per-subject DLQ for
// messages that will never succeed.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/signaldesk/signaldesk/internal/logger"
	"github.com/signaldesk/signaldesk/internal/port/messagequeue"
)

const streamName = "SIGNALDESK"

const (
	headerRequestID  = "X-Request-ID"
	headerRetryCount = "Retry-Count"
)

// maxRetries bounds how many times a failing handler sees the same
// message before it moves to the DLQ subject.
const maxRetries = 3

// publishTimeout caps internal publishes (retries, DLQ moves) that run
// outside any caller context.
const publishTimeout = 5 * time.Second

// Queue implements messagequeue.Queue using NATS JetStream.
type Queue struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect establishes a connection to NATS and ensures the JetStream
// stream exists with subjects for every signaldesk topic family.
func Connect(ctx context.Context, url string) (*Queue, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{"tasks.>", "negotiations.>", "predictions.>", "digest.>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName)
	return &Queue{nc: nc, js: js}, nil
}

// Publish sends a message to the given subject. The request ID from the
// context travels as a header so consumers log under the same ID.
func (q *Queue) Publish(ctx context.Context, subject string, data []byte) error {
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  nats.Header{},
	}
	if reqID := logger.RequestID(ctx); reqID != "" {
		msg.Header.Set(headerRequestID, reqID)
	}

	if _, err := q.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a handler for messages on the given subject.
// Malformed messages skip the handler and go straight to the DLQ; a
// failing handler gets the message back up to maxRetries times.
func (q *Queue) Subscribe(ctx context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		hdrs := msg.Headers()

		msgCtx := context.Background()
		if reqID := hdrs.Get(headerRequestID); reqID != "" {
			msgCtx = logger.WithRequestID(msgCtx, reqID)
		}

		// A message that fails schema validation would fail every retry,
		// so it bypasses the retry loop entirely.
		if err := messagequeue.Validate(msg.Subject(), msg.Data()); err != nil {
			slog.Error("message validation failed", "subject", msg.Subject(), "error", err)
			q.moveToDLQ(msg)
			return
		}

		if err := handler(msgCtx, msg.Subject(), msg.Data()); err != nil {
			retries := retryCount(hdrs)
			if retries >= maxRetries {
				slog.Error("message handler failed, retries exhausted",
					"subject", msg.Subject(), "retries", retries, "error", err)
				q.moveToDLQ(msg)
				return
			}
			slog.Error("message handler failed, retrying",
				"subject", msg.Subject(), "retry", retries+1, "error", err)
			q.retry(msg, retries+1)
			return
		}

		if err := msg.Ack(); err != nil {
			slog.Error("nats ack failed", "subject", msg.Subject(), "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}

	return cons.Stop, nil
}

// retry republishes the message with an incremented retry counter and
// acks the original. Republishing, rather than nak, is what lets the
// counter travel with the message.
func (q *Queue) retry(msg jetstream.Msg, attempt int) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	next := &nats.Msg{
		Subject: msg.Subject(),
		Data:    msg.Data(),
		Header:  cloneHeader(msg.Headers()),
	}
	next.Header.Set(headerRetryCount, strconv.Itoa(attempt))

	if _, err := q.js.PublishMsg(ctx, next); err != nil {
		slog.Error("nats retry publish failed", "subject", msg.Subject(), "error", err)
		if nakErr := msg.Nak(); nakErr != nil {
			slog.Error("nats nak failed", "error", nakErr)
		}
		return
	}
	if err := msg.Ack(); err != nil {
		slog.Error("nats ack failed", "subject", msg.Subject(), "error", err)
	}
}

// moveToDLQ parks the message on its subject's DLQ and acks the
// original. The payload survives unchanged for operator inspection.
func (q *Queue) moveToDLQ(msg jetstream.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	dlq := &nats.Msg{
		Subject: msg.Subject() + ".dlq",
		Data:    msg.Data(),
		Header:  cloneHeader(msg.Headers()),
	}

	if _, err := q.js.PublishMsg(ctx, dlq); err != nil {
		slog.Error("nats dlq publish failed", "subject", dlq.Subject, "error", err)
		if nakErr := msg.Nak(); nakErr != nil {
			slog.Error("nats nak failed", "error", nakErr)
		}
		return
	}
	if err := msg.Ack(); err != nil {
		slog.Error("nats ack failed", "subject", msg.Subject(), "error", err)
	}
}

func cloneHeader(h nats.Header) nats.Header {
	cloned := nats.Header{}
	for k, vs := range h {
		for _, v := range vs {
			cloned.Add(k, v)
		}
	}
	return cloned
}

func retryCount(h nats.Header) int {
	n, err := strconv.Atoi(h.Get(headerRetryCount))
	if err != nil {
		return 0
	}
	return n
}

// KeyValue creates or opens a JetStream KV bucket. TTL applies at the
// bucket level; zero means entries never expire.
func (q *Queue) KeyValue(ctx context.Context, bucket string, ttl time.Duration) (jetstream.KeyValue, error) {
	kv, err := q.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: bucket,
		TTL:    ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("jetstream keyvalue %s: %w", bucket, err)
	}
	return kv, nil
}

// Drain gracefully drains all subscriptions before closing.
func (q *Queue) Drain() error {
	if err := q.nc.Drain(); err != nil {
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}

// Close shuts down the NATS connection immediately.
func (q *Queue) Close() error {
	q.nc.Close()
	return nil
}

// IsConnected reports whether the underlying connection is up.
func (q *Queue) IsConnected() bool {
	return q.nc.IsConnected()
}
