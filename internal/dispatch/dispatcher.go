package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/shopagent/shopagent/internal/events"
)

const (
	maxAttempts = 5
	baseBackoff = time.Second
)

// Notifier is the opaque email/webhook collaborator.
type Notifier interface {
	Notify(ctx context.Context, kind string, payload []byte) error
}

// Dispatcher consumes durable order events and hands each one to the
// notifier with bounded retries. A job that exhausts its attempts lands in
// the dead-letter log; it is never retried again.
type Dispatcher struct {
	Reader   *kafka.Reader
	Notifier Notifier
	Log      *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewDispatcher(brokers []string, groupID string, notifier Notifier, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		Reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			GroupID:  groupID,
			Topic:    events.TopicOrderEvents,
			MinBytes: 1,
			MaxBytes: 10e6,
			MaxWait:  time.Second,
		}),
		Notifier: notifier,
		Log:      log,
		stopCh:   make(chan struct{}),
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.consumeLoop(ctx)
	}()
}

func (d *Dispatcher) Stop() {
	close(d.stopCh)
	_ = d.Reader.Close()
	d.wg.Wait()
}

func (d *Dispatcher) consumeLoop(ctx context.Context) {
	for {
		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		msg, err := d.Reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.Log.Warn("dispatch_read_failed", "error", err)
			time.Sleep(baseBackoff)
			continue
		}
		d.process(ctx, msg)
	}
}

// process retries with exponential backoff up to maxAttempts, then
// dead-letters the job.
func (d *Dispatcher) process(ctx context.Context, msg kafka.Message) {
	kind := string(msg.Key)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = d.Notifier.Notify(ctx, kind, msg.Value)
		if lastErr == nil {
			d.Log.Info("dispatch_delivered", "kind", kind, "attempt", attempt)
			return
		}

		d.Log.Warn("dispatch_retry", "kind", kind, "attempt", attempt, "error", lastErr)
		select {
		case <-time.After(baseBackoff << (attempt - 1)):
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		}
	}

	d.Log.Error("dispatch_dead_letter", "kind", kind, "payload", truncate(msg.Value), "error", lastErr)
}

func truncate(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

// LogNotifier stands in when no email service is configured: it logs what
// would have been sent. Useful in development and tests.
type LogNotifier struct {
	Log *slog.Logger
}

func (n *LogNotifier) Notify(_ context.Context, kind string, payload []byte) error {
	var body map[string]interface{}
	_ = json.Unmarshal(payload, &body)
	n.Log.Info("notification", "kind", kind, "payload", body)
	return nil
}
