// Package mqtt wraps paho with callback fan-out per topic and resubscribe on
// reconnect.
package mqtt

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Options configures a broker connection.
type Options struct {
	Broker   string
	Username string
	Password string
	ClientID string

	// WillTopic, when set, receives WillPayload if the connection drops.
	WillTopic   string
	WillPayload string
}

// Client is a connected broker session.
type Client struct {
	client paho.Client
	logger logrus.FieldLogger

	mu     sync.Mutex
	subs   map[string]map[int]func([]byte)
	nextID int
}

// ClientID returns a random client id with the given prefix.
func ClientID(prefix string) string {
	return prefix + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Connect dials the broker and blocks until the first connection succeeds.
func Connect(opts Options, logger logrus.FieldLogger) (*Client, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	broker, useTLS, err := normalizeBroker(opts.Broker)
	if err != nil {
		return nil, err
	}

	po := paho.NewClientOptions()
	po.AddBroker(broker)
	if useTLS {
		po.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	po.SetUsername(opts.Username)
	po.SetPassword(opts.Password)
	clientID := opts.ClientID
	if clientID == "" {
		clientID = ClientID("gohome")
	}
	po.SetClientID(clientID)
	po.SetAutoReconnect(true)
	po.SetConnectRetry(true)
	po.SetConnectTimeout(10 * time.Second)
	po.SetOrderMatters(false)
	if opts.WillTopic != "" {
		po.SetWill(opts.WillTopic, opts.WillPayload, 1, true)
	}

	c := &Client{
		logger: logger.WithField("broker", broker),
		subs:   make(map[string]map[int]func([]byte)),
	}
	po.SetDefaultPublishHandler(c.dispatch)
	po.OnConnect = func(pc paho.Client) {
		c.logger.Info("mqtt connected")
		c.resubscribeAll(pc)
	}
	po.OnConnectionLost = func(_ paho.Client, err error) {
		c.logger.WithError(err).Warn("mqtt connection lost")
	}

	client := paho.NewClient(po)
	token := client.Connect()
	if !token.WaitTimeout(15*time.Second) {
		return nil, fmt.Errorf("mqtt connect %s: timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, err)
	}
	c.client = client
	return c, nil
}

func normalizeBroker(raw string) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("mqtt broker is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "tcp://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("invalid mqtt broker %q: %w", raw, err)
	}
	if parsed.Hostname() == "" {
		return "", false, fmt.Errorf("invalid mqtt broker %q", raw)
	}
	port := parsed.Port()
	switch parsed.Scheme {
	case "tcp", "mqtt":
		if port == "" {
			port = "1883"
		}
		return "tcp://" + parsed.Hostname() + ":" + port, false, nil
	case "ssl", "tls", "mqtts":
		if port == "" {
			port = "8883"
		}
		return "ssl://" + parsed.Hostname() + ":" + port, true, nil
	case "ws", "wss":
		return raw, parsed.Scheme == "wss", nil
	default:
		return "", false, fmt.Errorf("unsupported mqtt scheme %q", parsed.Scheme)
	}
}

// Subscribe registers cb for topic and returns its cancel func.
func (c *Client) Subscribe(topic string, cb func([]byte)) (func(), error) {
	c.mu.Lock()
	if c.subs[topic] == nil {
		c.subs[topic] = make(map[int]func([]byte))
	}
	id := c.nextID
	c.nextID++
	c.subs[topic][id] = cb
	needSubscribe := len(c.subs[topic]) == 1
	c.mu.Unlock()

	if needSubscribe {
		if token := c.client.Subscribe(topic, 1, nil); token.Wait() && token.Error() != nil {
			c.mu.Lock()
			delete(c.subs[topic], id)
			c.mu.Unlock()
			return nil, token.Error()
		}
	}

	return func() {
		c.mu.Lock()
		callbacks := c.subs[topic]
		if callbacks == nil {
			c.mu.Unlock()
			return
		}
		delete(callbacks, id)
		shouldUnsub := len(callbacks) == 0
		if shouldUnsub {
			delete(c.subs, topic)
		}
		c.mu.Unlock()
		if shouldUnsub && c.client.IsConnected() {
			_ = c.client.Unsubscribe(topic).Wait()
		}
	}, nil
}

func (c *Client) Publish(topic string, retain bool, payload []byte) error {
	if token := c.client.Publish(topic, 1, retain, payload); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// Close disconnects after giving in-flight messages a moment to drain.
func (c *Client) Close() {
	c.client.Disconnect(250)
}

func (c *Client) dispatch(_ paho.Client, msg paho.Message) {
	c.mu.Lock()
	callbacks := c.subs[msg.Topic()]
	list := make([]func([]byte), 0, len(callbacks))
	for _, cb := range callbacks {
		list = append(list, cb)
	}
	c.mu.Unlock()
	for _, cb := range list {
		cb(msg.Payload())
	}
}

func (c *Client) resubscribeAll(pc paho.Client) {
	c.mu.Lock()
	topics := make([]string, 0, len(c.subs))
	for topic := range c.subs {
		topics = append(topics, topic)
	}
	c.mu.Unlock()
	for _, topic := range topics {
		token := pc.Subscribe(topic, 1, nil)
		if token.Wait() && token.Error() != nil {
			err := token.Error()
			c.logger.WithError(err).WithField("topic", topic).Warn("mqtt resubscribe failed")
		}
	}
}
