package nats

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/signaldesk/signaldesk/internal/logger"
	"github.com/signaldesk/signaldesk/internal/port/messagequeue"
)

// testConnect connects to NATS or skips the test if NATS_URL is not set.
func testConnect(t *testing.T) *Queue {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	q, err := Connect(context.Background(), url)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		if err := q.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return q
}

// uniqueSubject returns a per-test subject under "tasks." which the
// SIGNALDESK stream captures and the validator passes through as an
// unknown subject.
func uniqueSubject(t *testing.T) string {
	t.Helper()
	return "tasks.test." + t.Name()
}

// recv waits for one value or fails the test.
func recv[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	var zero T
	select {
	case v := <-ch:
		return v
	case <-time.After(10 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
	return zero
}

// watchDLQ consumes a subject's DLQ through a raw JetStream consumer so
// parked payloads are not run through the validator a second time.
// DeliverNewPolicy keeps residue from earlier runs out.
func watchDLQ(t *testing.T, q *Queue, subject string) <-chan []byte {
	t.Helper()
	ctx := context.Background()

	consumer, err := q.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		FilterSubject: subject + ".dlq",
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		t.Fatalf("create DLQ consumer: %v", err)
	}

	parked := make(chan []byte, 1)
	sub, err := consumer.Consume(func(msg jetstream.Msg) {
		select {
		case parked <- msg.Data():
		default:
		}
		_ = msg.Ack()
	})
	if err != nil {
		t.Fatalf("consume DLQ: %v", err)
	}
	t.Cleanup(sub.Stop)
	return parked
}

func TestQueue_PublishSubscribe(t *testing.T) {
	q := testConnect(t)
	subject := messagequeue.TaskEnqueuedSubject("analyst")

	want := messagequeue.TaskEnqueuedPayload{
		TaskID:     "task-" + t.Name(),
		TaskType:   "analyze_opportunity",
		AssignedTo: "analyst",
		Priority:   2,
	}
	data, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got := make(chan messagequeue.TaskEnqueuedPayload, 1)
	stop, err := q.Subscribe(context.Background(), subject, func(_ context.Context, _ string, d []byte) error {
		var p messagequeue.TaskEnqueuedPayload
		if err := json.Unmarshal(d, &p); err != nil {
			return err
		}
		// The shared wakeup subject may still hold messages from earlier
		// runs; only report ours.
		if p.TaskID == want.TaskID {
			select {
			case got <- p:
			default:
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	if err := q.Publish(context.Background(), subject, data); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	p := recv(t, got, "task wakeup")
	if p.TaskType != want.TaskType || p.AssignedTo != want.AssignedTo || p.Priority != want.Priority {
		t.Errorf("got %+v, want %+v", p, want)
	}
}

func TestQueue_RequestIDPropagation(t *testing.T) {
	q := testConnect(t)
	subject := uniqueSubject(t)

	const wantReqID = "ingest-run-007"

	got := make(chan string, 1)
	stop, err := q.Subscribe(context.Background(), subject, func(ctx context.Context, _ string, _ []byte) error {
		select {
		case got <- logger.RequestID(ctx):
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	ctx := logger.WithRequestID(context.Background(), wantReqID)
	if err := q.Publish(ctx, subject, []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if reqID := recv(t, got, "consumed message"); reqID != wantReqID {
		t.Errorf("request ID = %q, want %q", reqID, wantReqID)
	}
}

func TestQueue_DLQ(t *testing.T) {
	q := testConnect(t)
	ctx := context.Background()

	// tasks.result enforces the result envelope schema, so a non-JSON
	// payload is parked without ever reaching the handler.
	subject := messagequeue.SubjectTaskResult
	parked := watchDLQ(t, q, subject)

	// A consumer must exist for validation to run. Residue from earlier
	// runs may also arrive here; accept and ack everything.
	stop, err := q.Subscribe(ctx, subject, func(_ context.Context, _ string, _ []byte) error {
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	if err := q.Publish(ctx, subject, []byte("not-json")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if data := recv(t, parked, "DLQ message"); string(data) != "not-json" {
		t.Errorf("DLQ data = %q, want %q", string(data), "not-json")
	}
}

func TestQueue_DLQ_RetryExhaustion(t *testing.T) {
	q := testConnect(t)
	ctx := context.Background()

	subject := uniqueSubject(t)
	parked := watchDLQ(t, q, subject)

	stop, err := q.Subscribe(ctx, subject, func(_ context.Context, _ string, _ []byte) error {
		return errAlwaysFail
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	// Publish through raw JetStream with the retry counter already at the
	// cap. One more handler failure must park the message instead of
	// republishing it.
	msg := &nats.Msg{
		Subject: subject,
		Data:    []byte(`{"exhausted":true}`),
		Header:  nats.Header{},
	}
	msg.Header.Set(headerRetryCount, strconv.Itoa(maxRetries))

	if _, err := q.js.PublishMsg(ctx, msg); err != nil {
		t.Fatalf("PublishMsg: %v", err)
	}

	if data := recv(t, parked, "DLQ message after retry exhaustion"); string(data) != `{"exhausted":true}` {
		t.Errorf("DLQ data = %q, want %q", string(data), `{"exhausted":true}`)
	}
}

func TestQueue_KeyValue(t *testing.T) {
	q := testConnect(t)
	ctx := context.Background()

	kv, err := q.KeyValue(ctx, "test-kv-"+t.Name(), 30*time.Second)
	if err != nil {
		t.Fatalf("KeyValue: %v", err)
	}

	if _, err := kv.Put(ctx, "greeting", []byte("hello")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := kv.Put(ctx, "greeting", []byte("world")); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}

	entry, err := kv.Get(ctx, "greeting")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(entry.Value()) != "world" {
		t.Errorf("value = %q, want %q", string(entry.Value()), "world")
	}

	if err := kv.Delete(ctx, "greeting"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := kv.Get(ctx, "greeting"); !errors.Is(err, jetstream.ErrKeyNotFound) {
		t.Errorf("Get after delete = %v, want ErrKeyNotFound", err)
	}
}

func TestQueue_IsConnected(t *testing.T) {
	q := testConnect(t)

	if !q.IsConnected() {
		t.Error("IsConnected() = false after Connect, want true")
	}
}

var errAlwaysFail = errors.New("handler always fails")
