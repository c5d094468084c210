package notify

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/quailsql/QuailDB/config"
	"github.com/quailsql/QuailDB/db"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	defaultKeepAlive         = 60 * time.Second
	defaultQueueSize         = 256
)

// Publisher is the subset of the paho client the feed uses.
type Publisher interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload any) pahomqtt.Token
	Disconnect(quiesce uint)
}

// Change is the JSON payload published for every mutating statement.
type Change struct {
	Type           string    `json:"type"`
	Database       string    `json:"database"`
	Table          string    `json:"table,omitempty"`
	Message        string    `json:"message"`
	RecordsWritten int       `json:"records_written,omitempty"`
	RecordsDeleted int       `json:"records_deleted,omitempty"`
	DurationMs     float64   `json:"duration_ms"`
	Time           time.Time `json:"time"`
}

// Feed publishes registry changes to MQTT. It implements db.Observer;
// events are queued and published from a background goroutine so the
// engine never waits on the broker.
type Feed struct {
	client Publisher
	prefix string
	qos    byte
	logger *slog.Logger

	queue  chan db.Event
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

// Connect dials the broker from cfg and starts a feed on it.
func Connect(cfg config.MQTTConfig, logger *slog.Logger) (*Feed, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	opts := buildClientOptions(cfg)
	client := pahomqtt.NewClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	feed := NewFeed(client, cfg.TopicPrefix, byte(cfg.QoS), logger)
	feed.publishStatus("online")
	return feed, nil
}

func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL())
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	// The broker announces "offline" for us if the connection drops.
	opts.SetWill(statusTopic(cfg.TopicPrefix), "offline", byte(cfg.QoS), true)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	return opts
}

// NewFeed starts a feed on an already connected client.
func NewFeed(client Publisher, prefix string, qos byte, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	f := &Feed{
		client: client,
		prefix: strings.Trim(prefix, "/"),
		qos:    qos,
		logger: logger,
		queue:  make(chan db.Event, defaultQueueSize),
		done:   make(chan struct{}),
	}
	go f.run()
	return f
}

// Observe queues mutating events. When the queue is full the event is
// dropped and logged.
func (f *Feed) Observe(event db.Event) {
	if !event.Mutated() {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	select {
	case f.queue <- event:
	default:
		f.logger.Warn("change feed queue full, dropping event",
			"type", event.Type.String(),
			"database", event.Database,
			"table", event.Table,
		)
	}
}

func (f *Feed) run() {
	defer close(f.done)
	for event := range f.queue {
		if err := f.Publish(event); err != nil {
			f.logger.Warn("failed to publish change",
				"topic", Topic(f.prefix, event),
				"error", err,
			)
		}
	}
}

// Publish sends one event synchronously.
func (f *Feed) Publish(event db.Event) error {
	if !f.client.IsConnected() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(NewChange(event))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	token := f.client.Publish(Topic(f.prefix, event), f.qos, false, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

func (f *Feed) publishStatus(status string) {
	token := f.client.Publish(statusTopic(f.prefix), f.qos, true, status)
	token.WaitTimeout(defaultPublishTimeout)
}

// Close drains queued events, announces offline and disconnects.
func (f *Feed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	close(f.queue)
	f.mu.Unlock()

	<-f.done
	if f.client.IsConnected() {
		f.publishStatus("offline")
	}
	f.client.Disconnect(defaultDisconnectQuiesce)
	return nil
}

// NewChange builds the payload for an event.
func NewChange(event db.Event) Change {
	change := Change{
		Type:       event.Type.String(),
		Database:   event.Database,
		Table:      event.Table,
		DurationMs: float64(event.Duration.Microseconds()) / 1000,
		Time:       event.Time.UTC(),
	}
	if result, ok := event.Result.(db.CommitResult); ok {
		change.Message = result.Message
		change.RecordsWritten = result.RecordsWritten
		change.RecordsDeleted = result.RecordsDeleted
	}
	return change
}

// Topic returns <prefix>/<database>[/<table>]/<action>, where action is the
// statement type in snake case, e.g. quaildb/shop/users/insert.
func Topic(prefix string, event db.Event) string {
	parts := []string{}
	if prefix != "" {
		parts = append(parts, prefix)
	}
	if event.Database != "" {
		parts = append(parts, event.Database)
	}
	if event.Table != "" {
		parts = append(parts, event.Table)
	}
	action := strings.ToLower(strings.ReplaceAll(event.Type.String(), " ", "_"))
	parts = append(parts, action)
	return strings.Join(parts, "/")
}

func statusTopic(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return "status"
	}
	return prefix + "/status"
}
