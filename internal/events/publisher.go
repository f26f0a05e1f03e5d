// Package events publishes payment state transitions to Kafka so that
// downstream systems (fulfilment, accounting) can react without polling.
// Publishing is best effort; the transaction store stays authoritative.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/tbourn/go-mpesa-checkout/internal/metrics"
)

// PaymentEvent is emitted when a transaction reaches a terminal status.
type PaymentEvent struct {
	CheckoutRequestID string    `json:"checkout_request_id"`
	Status            string    `json:"status"`
	ResultCode        string    `json:"result_code,omitempty"`
	ResultDesc        string    `json:"result_desc,omitempty"`
	Receipt           string    `json:"mpesa_receipt_number,omitempty"`
	Amount            int64     `json:"amount,omitempty"`
	Phone             string    `json:"phone_number,omitempty"`
	Source            string    `json:"source"` // callback | resolver
	OccurredAt        time.Time `json:"occurred_at"`
}

// Publisher sends payment events. Callers on the payment path expect
// PublishPayment to return promptly; wrap slow publishers in Detached.
type Publisher interface {
	PublishPayment(ctx context.Context, ev PaymentEvent) error
	Close() error
}

// New returns a detached Kafka publisher whose deliveries are each bounded by
// timeout, or a no-op one when brokers is empty.
func New(brokers []string, topic string, timeout time.Duration) Publisher {
	if len(brokers) == 0 || topic == "" {
		return Nop{}
	}
	return NewDetached(NewKafkaPublisher(brokers, topic), timeout)
}

// Detached hands every event to its own goroutine and returns at once.
// Delivery runs with a fresh deadline, independent of the caller's context,
// and failures are logged and counted rather than returned.
type Detached struct {
	next    Publisher
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewDetached(next Publisher, timeout time.Duration) *Detached {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Detached{next: next, timeout: timeout}
}

func (d *Detached) PublishPayment(ctx context.Context, ev PaymentEvent) error {
	lg := zerolog.Ctx(ctx).With().Str("checkout_request_id", ev.CheckoutRequestID).Logger()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		pctx, cancel := context.WithTimeout(lg.WithContext(context.Background()), d.timeout)
		defer cancel()
		if err := d.next.PublishPayment(pctx, ev); err != nil {
			metrics.EventsTotal.WithLabelValues("error").Inc()
			lg.Warn().Err(err).Str("status", ev.Status).Msg("payment event not published")
			return
		}
		metrics.EventsTotal.WithLabelValues("ok").Inc()
	}()
	return nil
}

// Close waits for in-flight deliveries, then closes the wrapped publisher.
// Nothing may publish once Close has been called.
func (d *Detached) Close() error {
	d.wg.Wait()
	return d.next.Close()
}

// KafkaPublisher writes events keyed by checkout id, so every event of one
// transaction lands on the same partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			WriteTimeout: 10 * time.Second,
		},
	}
}

func (k *KafkaPublisher) PublishPayment(ctx context.Context, ev PaymentEvent) error {
	msg, err := paymentMessage(ev)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, msg)
}

func (k *KafkaPublisher) Close() error { return k.writer.Close() }

func paymentMessage(ev PaymentEvent) (kafka.Message, error) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	v, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(ev.CheckoutRequestID),
		Value: v,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte("payment." + ev.Status)},
		},
	}, nil
}

// Nop discards every event.
type Nop struct{}

func (Nop) PublishPayment(context.Context, PaymentEvent) error { return nil }
func (Nop) Close() error                                       { return nil }
