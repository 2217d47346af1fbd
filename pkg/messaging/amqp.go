package messaging

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"copilot-server/pkg/config"
	"copilot-server/pkg/copilot"
)

// EventMessage is the envelope published to the queue for downstream
// consumers (CRM sync, analytics warehouses).
type EventMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// Outbound events waiting for the broker; overflow is dropped with a warning.
const publishBufferSize = 256

// Publisher maintains an AMQP connection and publishes selected engine
// events. It implements copilot.Subscriber; transcript and metrics churn
// stays local, only coaching artifacts and the final summary go out.
type Publisher struct {
	logger *logrus.Entry
	config config.MessagingConfig

	connMutex sync.RWMutex
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool

	events   chan copilot.Event
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewPublisher creates a publisher; call Connect before subscribing it to
// the engine.
func NewPublisher(logger *logrus.Logger, cfg config.MessagingConfig) *Publisher {
	p := &Publisher{
		logger:   logger.WithField("component", "amqp"),
		config:   cfg,
		events:   make(chan copilot.Event, publishBufferSize),
		stopChan: make(chan struct{}),
	}
	go p.publishLoop()
	return p
}

// Connect dials the broker, declares the queue, and starts the reconnect
// monitor.
func (p *Publisher) Connect() error {
	p.connMutex.Lock()
	defer p.connMutex.Unlock()

	if p.connected {
		return nil
	}
	if p.config.URL == "" || p.config.QueueName == "" {
		return fmt.Errorf("AMQP URL or queue name not configured")
	}

	conn, err := amqp.Dial(p.config.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to AMQP server: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	_, err = channel.QueueDeclare(
		p.config.QueueName,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare AMQP queue: %w", err)
	}

	p.conn = conn
	p.channel = channel
	p.connected = true

	go p.monitorConnection(conn)

	p.logger.WithField("queue", p.config.QueueName).Info("Connected to AMQP server")
	return nil
}

// Disconnect stops the monitor and closes the connection.
func (p *Publisher) Disconnect() {
	p.stopOnce.Do(func() { close(p.stopChan) })

	p.connMutex.Lock()
	defer p.connMutex.Unlock()

	if p.channel != nil {
		p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	p.connected = false
}

// IsConnected returns the connection status.
func (p *Publisher) IsConnected() bool {
	p.connMutex.RLock()
	defer p.connMutex.RUnlock()
	return p.connected
}

// OnEvent implements copilot.Subscriber. The network write happens on the
// publish loop, never on the caller's goroutine; when the buffer is full the
// event is dropped rather than stalling segment processing.
func (p *Publisher) OnEvent(event copilot.Event) {
	switch event.Type {
	case copilot.EventCueCardRaised, copilot.EventNudgeRaised, copilot.EventCallEnded:
	default:
		return
	}

	select {
	case p.events <- event:
	default:
		p.logger.WithField("type", event.Type).Warn("Publish buffer full, dropping event")
	}
}

// publishLoop drains the event buffer onto the broker. Publish failures are
// logged, never propagated.
func (p *Publisher) publishLoop() {
	for {
		select {
		case <-p.stopChan:
			return
		case event := <-p.events:
			if err := p.publish(event); err != nil {
				p.logger.WithError(err).WithField("type", event.Type).Warn("Failed to publish event")
			}
		}
	}
}

func (p *Publisher) publish(event copilot.Event) error {
	body, err := json.Marshal(EventMessage{
		Type:      string(event.Type),
		SessionID: event.SessionID,
		Timestamp: event.Timestamp,
		Payload:   event.Payload,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	p.connMutex.RLock()
	defer p.connMutex.RUnlock()

	if !p.connected || p.channel == nil {
		return fmt.Errorf("not connected to AMQP server")
	}

	return p.channel.Publish(
		"",                 // default exchange
		p.config.QueueName, // routing key
		false,              // mandatory
		false,              // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
}

// monitorConnection reconnects with exponential backoff when the broker
// drops the connection.
func (p *Publisher) monitorConnection(conn *amqp.Connection) {
	closeChan := conn.NotifyClose(make(chan *amqp.Error, 1))

	select {
	case <-p.stopChan:
		return
	case closeErr := <-closeChan:
		p.connMutex.Lock()
		p.connected = false
		p.conn = nil
		p.channel = nil
		p.connMutex.Unlock()

		p.logger.WithError(closeErr).Warn("AMQP connection closed, reconnecting")

		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = time.Second
		policy.MaxInterval = 30 * time.Second
		policy.MaxElapsedTime = 0 // retry until stopped

		err := backoff.Retry(func() error {
			select {
			case <-p.stopChan:
				return backoff.Permanent(fmt.Errorf("publisher stopped"))
			default:
			}
			if err := p.Connect(); err != nil {
				p.logger.WithError(err).Warn("AMQP reconnect attempt failed")
				return err
			}
			return nil
		}, policy)
		if err != nil {
			p.logger.WithError(err).Error("AMQP reconnect abandoned")
			return
		}
		p.logger.Info("Reconnected to AMQP server")
	}
}
