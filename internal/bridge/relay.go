// Package bridge forwards every broadcast event to RabbitMQ for the
// analytics pipeline. Delivery mirrors the in-process bus: best effort,
// a broker outage never touches the request path.
package bridge

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"kds_backend/internal/broadcast"
	"kds_backend/pkg/utils"
)

const (
	relayQueue     = "kds.events"
	publishTimeout = 5 * time.Second
)

// Relay taps the hub's firehose and republishes each envelope to a durable
// queue. It owns one connection and reconnects lazily after a failure.
type Relay struct {
	url     string
	hub     *broadcast.Hub
	session *broadcast.Session

	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewRelay creates a relay bound to the hub. Run must be called to start it.
func NewRelay(url string, hub *broadcast.Hub) *Relay {
	return &Relay{url: url, hub: hub}
}

// Run taps the hub and forwards envelopes until the context is cancelled or
// the hub closes. Intended to run in its own goroutine.
func (r *Relay) Run(ctx context.Context) {
	r.session = broadcast.NewSession()
	r.hub.Tap(r.session)
	defer r.hub.Remove(r.session)
	defer r.closeConn()

	utils.LogInfo("Analytics relay started", map[string]interface{}{"queue": relayQueue})

	for {
		select {
		case env, ok := <-r.session.Events():
			if !ok {
				return
			}
			r.forward(ctx, env)
		case <-ctx.Done():
			return
		}
	}
}

// forward publishes one envelope. On failure the event is dropped after
// logging; the next envelope triggers a reconnect attempt.
func (r *Relay) forward(ctx context.Context, env broadcast.Envelope) {
	body, err := json.Marshal(struct {
		Type broadcast.EventType `json:"type"`
		broadcast.Envelope
	}{Type: env.Event.Type(), Envelope: env})
	if err != nil {
		utils.LogError(err, "Analytics relay: marshal event failed")
		return
	}

	if err := r.publish(ctx, body); err != nil {
		utils.LogError(err, "Analytics relay: publish failed, dropping event")
		r.closeConn()
	}
}

func (r *Relay) publish(ctx context.Context, body []byte) error {
	if err := r.ensureChannel(); err != nil {
		return err
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	return r.ch.PublishWithContext(pubCtx,
		"",         // default exchange
		relayQueue, // routing key = queue name
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
}

func (r *Relay) ensureChannel() error {
	if r.ch != nil && !r.ch.IsClosed() {
		return nil
	}

	conn, err := amqp.Dial(r.url)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}

	// Durable so queued events survive broker restarts.
	if _, err := ch.QueueDeclare(
		relayQueue, // name
		true,       // durable
		false,      // autoDelete
		false,      // exclusive
		false,      // noWait
		nil,        // args
	); err != nil {
		ch.Close()
		conn.Close()
		return err
	}

	r.closeConn()
	r.conn = conn
	r.ch = ch
	return nil
}

func (r *Relay) closeConn() {
	if r.ch != nil {
		_ = r.ch.Close()
		r.ch = nil
	}
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn = nil
	}
}
