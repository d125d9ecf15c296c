// Package bridge republishes device state onto a local MQTT broker so home
// automation systems can consume it without touching the cloud session. The
// broker can be embedded in-process or an existing one on the network.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"go.uber.org/zap"

	"github.com/jayheavner/yoto-esp32-controller/internal/state"
	"github.com/jayheavner/yoto-esp32-controller/pkg/yoto"
)

// DefaultTopicBase prefixes every topic the bridge publishes.
const DefaultTopicBase = "yoto"

// Config configures the state bridge.
type Config struct {
	Enabled bool
	// Embedded runs an in-process broker on Listen. When false, BrokerURL
	// names an external broker to publish into.
	Embedded       bool
	Listen         string
	BrokerURL      string
	AllowAnonymous bool
	Username       string
	Password       string
	TopicBase      string
}

// Bridge mirrors store notifications onto retained MQTT topics:
// <base>/device/<id>/state for device snapshots and <base>/connection for
// the upstream session state.
type Bridge struct {
	log   *zap.Logger
	cfg   Config
	store *state.Store

	server *mqtt.Server
	client paho.Client
	subID  int

	stopOnce sync.Once
}

// New creates an unstarted bridge.
func New(cfg Config, store *state.Store, log *zap.Logger) (*Bridge, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.TopicBase == "" {
		cfg.TopicBase = DefaultTopicBase
	}
	if cfg.Embedded && strings.TrimSpace(cfg.Listen) == "" {
		cfg.Listen = "127.0.0.1:1883"
	}
	if !cfg.Embedded && cfg.Enabled && strings.TrimSpace(cfg.BrokerURL) == "" {
		return nil, errors.New("bridge requires a broker url when not embedded")
	}
	return &Bridge{log: log, cfg: cfg, store: store}, nil
}

// Start brings the broker side up and begins mirroring state changes.
func (b *Bridge) Start(ctx context.Context) error {
	if !b.cfg.Enabled {
		return nil
	}

	if b.cfg.Embedded {
		server, err := newServer(b.cfg)
		if err != nil {
			return err
		}
		listener := listeners.NewTCP(listeners.Config{ID: "bridge-tcp", Address: b.cfg.Listen})
		if err := server.AddListener(listener); err != nil {
			return fmt.Errorf("bridge listener: %w", err)
		}
		go func() {
			_ = server.Serve()
		}()
		b.server = server
		b.log.Info("embedded bridge broker listening", zap.String("addr", b.cfg.Listen))
	} else {
		client, err := b.connectExternal()
		if err != nil {
			return err
		}
		b.client = client
		b.log.Info("bridge connected", zap.String("broker", b.cfg.BrokerURL))
	}

	b.subID = b.store.Subscribe(b.mirror)
	return nil
}

// Stop detaches from the store and shuts the broker side down. Safe to call
// repeatedly and before Start.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if b.store != nil && b.subID != 0 {
			b.store.Unsubscribe(b.subID)
		}
		if b.client != nil {
			b.client.Disconnect(250)
		}
		if b.server != nil {
			_ = b.server.Close()
		}
	})
}

func (b *Bridge) connectExternal() (paho.Client, error) {
	opts := paho.NewClientOptions().AddBroker(b.cfg.BrokerURL)
	opts.SetClientID("yoto-bridge-" + uuid.NewString()[:8])
	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
		opts.SetPassword(b.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return nil, errors.New("bridge connect timed out")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("bridge connect: %w", err)
	}
	return client, nil
}

// mirror publishes one notification. Retained publishes let late subscribers
// pick up the current snapshot immediately.
func (b *Bridge) mirror(n state.Notification) {
	if n.DeviceID == "" {
		payload, err := json.Marshal(connectionDoc{Connection: n.Connection})
		if err != nil {
			return
		}
		b.publish(b.cfg.TopicBase+"/connection", payload)
		return
	}

	payload, err := json.Marshal(n.State)
	if err != nil {
		b.log.Warn("state encode failed", zap.String("device_id", n.DeviceID), zap.Error(err))
		return
	}
	b.publish(fmt.Sprintf("%s/device/%s/state", b.cfg.TopicBase, n.DeviceID), payload)
}

func (b *Bridge) publish(topic string, payload []byte) {
	switch {
	case b.server != nil:
		if err := b.server.Publish(topic, payload, true, 0); err != nil {
			b.log.Warn("bridge publish failed", zap.String("topic", topic), zap.Error(err))
		}
	case b.client != nil:
		token := b.client.Publish(topic, 0, true, payload)
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			b.log.Warn("bridge publish failed", zap.String("topic", topic), zap.Error(token.Error()))
		}
	}
}

type connectionDoc struct {
	Connection yoto.ConnectionState `json:"connection"`
}

func newServer(cfg Config) (*mqtt.Server, error) {
	server := mqtt.New(&mqtt.Options{InlineClient: true})

	switch {
	case cfg.AllowAnonymous:
		if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
			return nil, err
		}
	case cfg.Username != "":
		ledger := &auth.Ledger{
			Auth: auth.AuthRules{{Username: auth.RString(cfg.Username), Password: auth.RString(cfg.Password), Allow: true}},
			ACL:  auth.ACLRules{{Username: auth.RString(cfg.Username), Filters: auth.Filters{auth.RString("#"): auth.ReadWrite}}},
		}
		if err := server.AddHook(new(auth.Hook), &auth.Options{Ledger: ledger}); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("embedded bridge requires allow_anonymous or a username")
	}

	return server, nil
}
