// Package publish ships exchange events to NATS JetStream for downstream
// consumers (risk, settlement, analytics).
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"PerpExchange/internal/event"
	"PerpExchange/internal/observability"
)

// Connect dials NATS with unbounded reconnects and returns a JetStream
// handle.
func Connect(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}

// Envelope wraps every outbound event.
type Envelope struct {
	EventType string      `json:"event_type"`
	Market    string      `json:"market"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// Publisher drains the exchange's event channel into JetStream.
// Subjects follow the pattern: perp.exchange.events.{event_type}.{market}
type Publisher struct {
	js      jetstream.JetStream
	input   <-chan event.Event
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewPublisher(js jetstream.JetStream, input <-chan event.Event, logger zerolog.Logger, metrics *observability.Metrics) *Publisher {
	return &Publisher{
		js:      js,
		input:   input,
		log:     logger.With().Str("component", "publisher").Logger(),
		metrics: metrics,
	}
}

// Run starts the publisher loop. Publish failures are non-fatal; the
// state snapshot remains the source of truth.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-p.input:
			if !ok {
				return nil
			}
			if err := p.publish(ctx, ev); err != nil {
				p.log.Warn().
					Err(err).
					Str("event_type", ev.EventType().String()).
					Str("market", ev.MarketID()).
					Msg("outbound publish failed")
				continue
			}
			if p.metrics != nil {
				p.metrics.EventsPublished.WithLabelValues(ev.EventType().String()).Inc()
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, ev event.Event) error {
	data, err := json.Marshal(Envelope{
		EventType: ev.EventType().String(),
		Market:    ev.MarketID(),
		Payload:   ev,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("perp.exchange.events.%s.%s", ev.EventType().String(), ev.MarketID())
	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// EnsureStream creates the outbound events stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "PERP_EXCHANGE_EVENTS",
		Subjects:  []string{"perp.exchange.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
