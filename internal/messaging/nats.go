// Package messaging connects instances over NATS so that moderation state
// which lives in memory, such as the IP blacklist, reaches every peer.
package messaging

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/optiplay/backend/internal/iprep"
	"github.com/optiplay/backend/internal/logger"
)

// SubjectBlacklist carries blacklist inserts between instances.
const SubjectBlacklist = "moderation.blacklist"

// Config holds NATS connection settings.
type Config struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int
}

// DefaultConfig returns defaults for url.
func DefaultConfig(url string) Config {
	return Config{
		URL:           url,
		Name:          "optiplay",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// BlacklistMessage is the wire form of a blacklist insert.
type BlacklistMessage struct {
	Instance  string    `json:"instance"`
	IP        string    `json:"ip"`
	Reason    string    `json:"reason"`
	Origin    string    `json:"origin"`
	ExpiresAt time.Time `json:"expires_at"`
}

// EncodeBlacklist serializes ev as sent by instance.
func EncodeBlacklist(instance string, ev iprep.BlacklistEvent) ([]byte, error) {
	return json.Marshal(BlacklistMessage{
		Instance:  instance,
		IP:        ev.IP,
		Reason:    ev.Reason,
		Origin:    string(ev.Origin),
		ExpiresAt: ev.ExpiresAt.UTC(),
	})
}

// DecodeBlacklist parses a blacklist message.
func DecodeBlacklist(data []byte) (BlacklistMessage, iprep.BlacklistEvent, error) {
	var msg BlacklistMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, iprep.BlacklistEvent{}, fmt.Errorf("decode blacklist message: %w", err)
	}
	if msg.IP == "" {
		return msg, iprep.BlacklistEvent{}, fmt.Errorf("decode blacklist message: missing ip")
	}
	return msg, iprep.BlacklistEvent{
		IP:        msg.IP,
		Reason:    msg.Reason,
		Origin:    iprep.OriginPeer,
		ExpiresAt: msg.ExpiresAt,
	}, nil
}

// Bridge publishes local blacklist inserts and applies those of peers.
type Bridge struct {
	conn     *nats.Conn
	instance string

	mu  sync.Mutex
	sub *nats.Subscription
}

// Connect dials NATS. Own publications are not echoed back.
func Connect(cfg Config) (*Bridge, error) {
	log := logger.Component("nats")
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.NoEcho(),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("disconnected")
			} else {
				log.Warn("disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info("connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	log.WithField("url", nc.ConnectedUrl()).Info("connected")

	return &Bridge{conn: nc, instance: uuid.NewString()}, nil
}

// Instance identifies this process in published messages.
func (b *Bridge) Instance() string {
	return b.instance
}

// PublishBlacklist announces a local insert to peers.
func (b *Bridge) PublishBlacklist(ev iprep.BlacklistEvent) error {
	data, err := EncodeBlacklist(b.instance, ev)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(SubjectBlacklist, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", SubjectBlacklist, err)
	}
	return nil
}

// SubscribeBlacklist applies every peer insert to tracker.
func (b *Bridge) SubscribeBlacklist(tracker *iprep.Tracker) error {
	sub, err := b.conn.Subscribe(SubjectBlacklist, func(m *nats.Msg) {
		msg, ev, err := DecodeBlacklist(m.Data)
		if err != nil {
			logger.Component("nats").WithError(err).Warn("dropping blacklist message")
			return
		}
		if msg.Instance == b.instance {
			return
		}
		tracker.BlacklistRemote(ev)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", SubjectBlacklist, err)
	}

	b.mu.Lock()
	b.sub = sub
	b.mu.Unlock()
	return nil
}

// Close drains the subscription and closes the connection.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
		b.sub = nil
	}
	b.mu.Unlock()
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}
