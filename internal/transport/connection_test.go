package transport

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
	"testing"
	"time"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
	"go.uber.org/zap"

	"github.com/jayheavner/yoto-esp32-controller/internal/state"
	"github.com/jayheavner/yoto-esp32-controller/pkg/yoto"
)

type staticCreds struct{}

func (staticCreds) EnsureValid(context.Context) (string, string, error) {
	return "test-token", "Bearer", nil
}

func freeListenAddr(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		if errors.Is(err, syscall.EPERM) || strings.Contains(err.Error(), "operation not permitted") {
			t.Skip("network listen not permitted in this environment")
		}
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().String()
	if err := listener.Close(); err != nil {
		t.Fatalf("close listener: %v", err)
	}
	return addr
}

func startBroker(t *testing.T) (*mqtt.Server, string) {
	t.Helper()
	addr := freeListenAddr(t)

	server := mqtt.New(&mqtt.Options{InlineClient: true})
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		t.Fatalf("add hook: %v", err)
	}
	listener := listeners.NewTCP(listeners.Config{ID: "test", Address: addr})
	if err := server.AddListener(listener); err != nil {
		t.Fatalf("add listener: %v", err)
	}
	go func() {
		_ = server.Serve()
	}()
	t.Cleanup(func() { _ = server.Close() })

	return server, "tcp://" + addr
}

func waitForStatus(t *testing.T, conn *Connection, want yoto.ConnectionState) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if conn.Status() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("status never reached %s, last %s", want, conn.Status())
}

func TestStopBeforeStart(t *testing.T) {
	store := state.NewStore(zap.NewNop())
	conn := NewConnection(Config{}, staticCreds{}, store, zap.NewNop())
	conn.Stop()
	conn.Stop()
	if got := conn.Status(); got != yoto.ConnDisconnected {
		t.Fatalf("expected disconnected, got %s", got)
	}
}

func TestPublishWhileDisconnected(t *testing.T) {
	store := state.NewStore(zap.NewNop())
	conn := NewConnection(Config{}, staticCreds{}, store, zap.NewNop())
	err := conn.Publish(yoto.TopicCommand("dev-1", yoto.CommandCardPause), nil)
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestDegradedAfterExhaustedRetries(t *testing.T) {
	store := state.NewStore(zap.NewNop())
	conn := NewConnection(Config{
		BrokerURL:      "tcp://127.0.0.1:1",
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		ConnectTimeout: 250 * time.Millisecond,
	}, staticCreds{}, store, zap.NewNop())
	defer conn.Stop()

	if err := conn.Start(context.Background(), []string{"dev-1"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitForStatus(t, conn, yoto.ConnDegraded)

	// Degraded mode must hold until an explicit restart.
	time.Sleep(50 * time.Millisecond)
	if got := conn.Status(); got != yoto.ConnDegraded {
		t.Fatalf("expected connection to stay degraded, got %s", got)
	}
	if got := store.Connection(); got != yoto.ConnDegraded {
		t.Fatalf("expected store to see degraded, got %s", got)
	}
}

func TestStartTwice(t *testing.T) {
	store := state.NewStore(zap.NewNop())
	conn := NewConnection(Config{
		BrokerURL:      "tcp://127.0.0.1:1",
		MaxRetries:     1,
		InitialBackoff: time.Millisecond,
		ConnectTimeout: 100 * time.Millisecond,
	}, staticCreds{}, store, zap.NewNop())
	defer conn.Stop()

	if err := conn.Start(context.Background(), nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := conn.Start(context.Background(), nil); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestConnectSubscribesAndRoutesEvents(t *testing.T) {
	server, url := startBroker(t)

	probe := make(chan struct{}, 1)
	err := server.Subscribe(yoto.TopicCommand("dev-1", yoto.CommandEvents), 1,
		func(_ *mqtt.Client, _ packets.Subscription, _ packets.Packet) {
			select {
			case probe <- struct{}{}:
			default:
			}
		})
	if err != nil {
		t.Fatalf("inline subscribe: %v", err)
	}

	store := state.NewStore(zap.NewNop())
	conn := NewConnection(Config{
		BrokerURL:      url,
		ConnectTimeout: 2 * time.Second,
	}, staticCreds{}, store, zap.NewNop())
	defer conn.Stop()

	if err := conn.Start(context.Background(), []string{"dev-1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForStatus(t, conn, yoto.ConnConnected)

	select {
	case <-probe:
	case <-time.After(5 * time.Second):
		t.Fatalf("events probe never published")
	}

	event := []byte(`{"playbackStatus":"playing","cardId":"abc123","userVolumePercentage":40}`)
	if err := server.Publish(yoto.TopicEvents("dev-1"), event, false, 0); err != nil {
		t.Fatalf("broker publish: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		st, _ := store.Get("dev-1")
		if st.PlaybackStatus == yoto.StatusPlaying && st.CardID == "abc123" && st.Volume == 40 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("event never reached store, state %+v", st)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Publishing through the live session should reach the broker.
	got := make(chan []byte, 1)
	err = server.Subscribe(yoto.TopicCommand("dev-1", yoto.CommandCardPause), 1,
		func(_ *mqtt.Client, _ packets.Subscription, pk packets.Packet) {
			select {
			case got <- pk.Payload:
			default:
			}
		})
	if err != nil {
		t.Fatalf("inline subscribe: %v", err)
	}
	if err := conn.Publish(yoto.TopicCommand("dev-1", yoto.CommandCardPause), []byte(`{}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case payload := <-got:
		if string(payload) != "{}" {
			t.Fatalf("unexpected payload %q", payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("command never reached broker")
	}
}

func TestEmptyPayloadIgnored(t *testing.T) {
	server, url := startBroker(t)

	store := state.NewStore(zap.NewNop())
	conn := NewConnection(Config{
		BrokerURL:      url,
		ConnectTimeout: 2 * time.Second,
	}, staticCreds{}, store, zap.NewNop())
	defer conn.Stop()

	if err := conn.Start(context.Background(), []string{"dev-1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForStatus(t, conn, yoto.ConnConnected)

	if err := server.Publish(yoto.TopicStatus("dev-1"), []byte{}, false, 0); err != nil {
		t.Fatalf("broker publish: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if _, seen := store.Get("dev-1"); seen {
		t.Fatalf("empty payload should not mutate state")
	}
}

func TestReasonCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"trailing code", errors.New("connection refused: not authorized 5"), 5},
		{"bare code", errors.New("135"), 135},
		{"no code", errors.New("EOF"), -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := reasonCode(tc.err); got != tc.want {
				t.Fatalf("reasonCode(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}

func TestSplitTopic(t *testing.T) {
	deviceID, kind, ok := splitTopic("device/dev-1/events")
	if !ok || deviceID != "dev-1" || kind != "events" {
		t.Fatalf("unexpected parse: %s %s %v", deviceID, kind, ok)
	}
	if _, _, ok := splitTopic("other/dev-1/events"); ok {
		t.Fatalf("expected reject for foreign prefix")
	}
	if _, _, ok := splitTopic("device/dev-1"); ok {
		t.Fatalf("expected reject for short topic")
	}
}
