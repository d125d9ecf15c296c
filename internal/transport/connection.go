// Package transport maintains the single long-lived pub-sub session towards
// the device event stream. A supervising goroutine owns the connection
// lifecycle: bounded reconnect attempts with exponential backoff, a terminal
// degraded state once the bound is exhausted, and routing of inbound events
// into the device state store.
package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/jayheavner/yoto-esp32-controller/internal/state"
	"github.com/jayheavner/yoto-esp32-controller/pkg/yoto"
)

// Defaults for the vendor broker endpoint.
const (
	DefaultBrokerURL = "wss://aqrphjqbp3u2z-ats.iot.eu-west-2.amazonaws.com:443/mqtt"
	DefaultAuthName  = "JwtAuthorizer_mGDDmvLsocFY"
)

// ErrNotConnected is returned by Publish while no session is established.
var ErrNotConnected = errors.New("transport not connected")

// ErrAlreadyStarted is returned by a second Start call.
var ErrAlreadyStarted = errors.New("transport already started")

// Credentials supplies a valid access token for the broker handshake.
// Implemented by auth.Session.
type Credentials interface {
	EnsureValid(ctx context.Context) (accessToken string, tokenType string, err error)
}

// Config configures the connection supervisor.
type Config struct {
	BrokerURL      string
	AuthName       string
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.BrokerURL == "" {
		c.BrokerURL = DefaultBrokerURL
	}
	if c.AuthName == "" {
		c.AuthName = DefaultAuthName
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.PublishTimeout == 0 {
		c.PublishTimeout = 5 * time.Second
	}
}

// Connection supervises exactly one broker session.
type Connection struct {
	cfg   Config
	log   *zap.Logger
	creds Credentials
	store *state.Store

	stopCh    chan struct{}
	restartCh chan struct{}
	wg        sync.WaitGroup

	mu      sync.Mutex
	status  yoto.ConnectionState
	client  paho.Client
	devices []string
	started bool
	stopped bool
}

// NewConnection creates an unstarted connection supervisor.
func NewConnection(cfg Config, creds Credentials, store *state.Store, log *zap.Logger) *Connection {
	cfg.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Connection{
		cfg:       cfg,
		log:       log,
		creds:     creds,
		store:     store,
		stopCh:    make(chan struct{}),
		restartCh: make(chan struct{}, 1),
		status:    yoto.ConnDisconnected,
	}
}

// Start launches the supervising loop for the given device set. The loop
// runs until Stop or context cancellation.
func (c *Connection) Start(ctx context.Context, deviceIDs []string) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return errors.New("transport stopped")
	}
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.devices = append([]string(nil), deviceIDs...)
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.supervise(ctx)
	}()
	return nil
}

// Stop tears the session down. Safe to call from any state, including before
// Start and repeatedly.
func (c *Connection) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	client := c.client
	c.mu.Unlock()

	close(c.stopCh)
	if client != nil {
		client.Disconnect(250)
	}
	c.wg.Wait()
	c.setStatus(yoto.ConnDisconnected)
}

// Restart re-arms the reconnect loop after it has entered the degraded
// state. A no-op in any other state.
func (c *Connection) Restart() {
	if c.Status() != yoto.ConnDegraded {
		return
	}
	select {
	case c.restartCh <- struct{}{}:
		c.log.Info("transport restart requested")
	default:
	}
}

// Status returns the current connection state.
func (c *Connection) Status() yoto.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Publish sends a payload to a topic over the live session. While no session
// is established it fails fast with ErrNotConnected; it never blocks waiting
// for a reconnect.
func (c *Connection) Publish(topic string, payload []byte) error {
	c.mu.Lock()
	client := c.client
	connected := c.status == yoto.ConnConnected
	c.mu.Unlock()

	if !connected || client == nil {
		return ErrNotConnected
	}
	token := client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(c.cfg.PublishTimeout) {
		return errors.New("publish timed out")
	}
	return token.Error()
}

func (c *Connection) supervise(ctx context.Context) {
	retries := 0
	backoff := c.cfg.InitialBackoff

	for {
		if c.isStopped() || ctx.Err() != nil {
			return
		}

		c.setStatus(yoto.ConnConnecting)
		lostCh, err := c.connect(ctx)
		if err == nil {
			retries = 0
			backoff = c.cfg.InitialBackoff
			c.setStatus(yoto.ConnConnected)

			select {
			case lossErr := <-lostCh:
				c.logDisconnect(lossErr)
				c.setStatus(yoto.ConnDisconnected)
				continue
			case <-c.stopCh:
				c.teardown()
				return
			case <-ctx.Done():
				c.teardown()
				return
			}
		}

		c.log.Warn("broker connect failed",
			zap.Int("attempt", retries+1),
			zap.Int("max_attempts", c.cfg.MaxRetries),
			zap.Error(err))
		c.setStatus(yoto.ConnDisconnected)

		retries++
		if retries >= c.cfg.MaxRetries {
			c.log.Error("reconnect attempts exhausted, entering degraded mode")
			c.setStatus(yoto.ConnDegraded)
			select {
			case <-c.restartCh:
				retries = 0
				backoff = c.cfg.InitialBackoff
				continue
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-time.After(backoff):
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
}

// connect dials the broker and, on success, subscribes the per-device topic
// set and publishes the initial events probe each device needs to start
// streaming. The returned channel signals connection loss.
func (c *Connection) connect(ctx context.Context) (<-chan error, error) {
	token, _, err := c.creds.EnsureValid(ctx)
	if err != nil {
		return nil, err
	}

	lostCh := make(chan error, 1)

	opts := paho.NewClientOptions().AddBroker(c.cfg.BrokerURL)
	opts.SetClientID(c.clientID())
	opts.SetUsername("_?x-amz-customauthorizer-name=" + c.cfg.AuthName)
	opts.SetPassword(token)
	opts.SetConnectTimeout(c.cfg.ConnectTimeout)
	opts.SetKeepAlive(60 * time.Second)
	// The supervising loop owns reconnection; paho must not race it.
	opts.SetAutoReconnect(false)
	opts.SetCleanSession(true)
	if strings.HasPrefix(c.cfg.BrokerURL, "wss://") || strings.HasPrefix(c.cfg.BrokerURL, "ssl://") {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		select {
		case lostCh <- err:
		default:
		}
	})
	opts.SetOnConnectHandler(func(client paho.Client) {
		c.subscribeAll(client)
	})

	client := paho.NewClient(opts)
	connectToken := client.Connect()
	if !connectToken.WaitTimeout(c.cfg.ConnectTimeout + time.Second) {
		client.Disconnect(0)
		return nil, errors.New("connect timed out")
	}
	if err := connectToken.Error(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		client.Disconnect(0)
		return nil, errors.New("transport stopped")
	}
	c.client = client
	c.mu.Unlock()

	return lostCh, nil
}

// subscribeAll subscribes the events/status/response trio for every known
// device and publishes the events probe.
func (c *Connection) subscribeAll(client paho.Client) {
	c.mu.Lock()
	devices := append([]string(nil), c.devices...)
	c.mu.Unlock()

	for _, deviceID := range devices {
		topics := []string{
			yoto.TopicEvents(deviceID),
			yoto.TopicStatus(deviceID),
			yoto.TopicResponse(deviceID),
		}
		for _, topic := range topics {
			token := client.Subscribe(topic, 0, c.handleMessage)
			if token.WaitTimeout(c.cfg.ConnectTimeout) && token.Error() != nil {
				c.log.Error("subscribe failed",
					zap.String("topic", topic), zap.Error(token.Error()))
			}
		}
	}

	for _, deviceID := range devices {
		probe := yoto.TopicCommand(deviceID, yoto.CommandEvents)
		token := client.Publish(probe, 0, false, []byte{})
		if token.WaitTimeout(c.cfg.PublishTimeout) && token.Error() != nil {
			c.log.Error("events probe failed",
				zap.String("device_id", deviceID), zap.Error(token.Error()))
		}
	}
}

// handleMessage routes one inbound message by topic suffix. Empty payloads
// and unparseable messages are dropped; events and status documents merge
// into the state store as partial updates.
func (c *Connection) handleMessage(_ paho.Client, msg paho.Message) {
	payload := msg.Payload()
	if len(payload) == 0 {
		return
	}

	deviceID, kind, ok := splitTopic(msg.Topic())
	if !ok {
		return
	}

	switch kind {
	case "events", "status":
		var ev yoto.EventPayload
		if err := json.Unmarshal(payload, &ev); err != nil {
			c.log.Debug("unparseable device message",
				zap.String("topic", msg.Topic()), zap.Error(err))
			return
		}
		c.store.ApplyEvent(deviceID, ev)
	case "response":
		c.log.Debug("command response",
			zap.String("device_id", deviceID),
			zap.Int("bytes", len(payload)))
	}
}

// clientID derives the broker client id the backend expects: a fixed prefix
// plus the first device id with dashes stripped.
func (c *Connection) clientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.devices) == 0 {
		return "YOTOAPI"
	}
	return "YOTOAPI" + strings.ReplaceAll(c.devices[0], "-", "")
}

func (c *Connection) setStatus(status yoto.ConnectionState) {
	c.mu.Lock()
	changed := c.status != status
	c.status = status
	c.mu.Unlock()
	if changed && c.store != nil {
		c.store.SetConnection(status)
	}
}

func (c *Connection) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *Connection) teardown() {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()
	if client != nil {
		client.Disconnect(250)
	}
	c.setStatus(yoto.ConnDisconnected)
}

func (c *Connection) logDisconnect(err error) {
	code := reasonCode(err)
	switch {
	case err == nil || code == 0:
		c.log.Info("broker disconnected")
	case code == authFailureReason:
		c.log.Error("broker rejected credentials, token may be stale",
			zap.Int("reason_code", code))
	default:
		c.log.Warn("broker connection lost",
			zap.Int("reason_code", code), zap.Error(err))
	}
}

func splitTopic(topic string) (deviceID string, kind string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[0] != "device" {
		return "", "", false
	}
	return parts[1], parts[2], true
}
