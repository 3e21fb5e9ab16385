// Package messaging provides a NATS client wrapper for pub/sub messaging
// between lobby services. It handles connection lifecycle, subject-based
// subscriptions, and convenience methods for the audit and event streams.
package messaging

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/whisper/lobby/internal/chat"
)

// NATS subjects used across lobby services.
const (
	SubjectAudit  = "lobby.audit"  // JSON audit.Entry
	SubjectEvents = "lobby.events" // JSON chat.ChatEvent, one per accepted append
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "lobby",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	log := zap.S()
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("[nats] disconnected: %v", err)
			} else {
				log.Warnf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Infof("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Infof("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// QueueSubscribe registers a queue-group handler so that several consumers
// share the subject's messages. The subscription is stored under subject.
func (c *NATSClient) QueueSubscribe(subject, queue string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.QueueSubscribe(subject, queue, handler)
	if err != nil {
		return fmt.Errorf("nats queue subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// PublishAudit publishes an encoded audit entry.
func (c *NATSClient) PublishAudit(data []byte) error {
	return c.Publish(SubjectAudit, data)
}

// SubscribeAudit consumes audit entries as part of queue group queue.
func (c *NATSClient) SubscribeAudit(queue string, handler func(data []byte)) error {
	return c.QueueSubscribe(SubjectAudit, queue, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// PublishEvent publishes an accepted chat event.
func (c *NATSClient) PublishEvent(ev chat.ChatEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("nats: marshal event: %w", err)
	}
	return c.Publish(SubjectEvents, data)
}

// SubscribeEvents delivers every chat event published by lobby servers.
// Undecodable payloads are logged and dropped.
func (c *NATSClient) SubscribeEvents(handler func(ev chat.ChatEvent)) error {
	return c.Subscribe(SubjectEvents, func(msg *nats.Msg) {
		var ev chat.ChatEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			zap.S().Warnf("[nats] bad event payload: %v", err)
			return
		}
		handler(ev)
	})
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	log := zap.S()
	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Warnf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Warnf("[nats] connection drain: %v", err)
	}

	log.Infof("[nats] client closed")
}

// EventSink publishes accepted chat events to the bus. It satisfies the
// lobby's event sink contract next to the history file.
type EventSink struct {
	client *NATSClient
}

// NewEventSink creates an EventSink over client.
func NewEventSink(client *NATSClient) *EventSink {
	return &EventSink{client: client}
}

// Append publishes ev.
func (s *EventSink) Append(ev chat.ChatEvent) error {
	return s.client.PublishEvent(ev)
}
