// Package coordinator assembles the auth session, catalog cache, transport
// connection, state store and dispatcher into one client facade and runs the
// background loops that keep them current.
package coordinator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jayheavner/yoto-esp32-controller/internal/api"
	"github.com/jayheavner/yoto-esp32-controller/internal/auth"
	"github.com/jayheavner/yoto-esp32-controller/internal/catalog"
	"github.com/jayheavner/yoto-esp32-controller/internal/dispatch"
	"github.com/jayheavner/yoto-esp32-controller/internal/state"
	"github.com/jayheavner/yoto-esp32-controller/internal/transport"
	"github.com/jayheavner/yoto-esp32-controller/pkg/yoto"
)

// Default cadences for the background loops.
const (
	DefaultPollInterval    = 30 * time.Second
	DefaultRefreshInterval = 60 * time.Second
)

// Config configures the coordinator.
type Config struct {
	Username      string
	Password      string
	BaseURL       string
	ClientID      string
	DefaultDevice string

	PollInterval    time.Duration
	RefreshInterval time.Duration

	Transport transport.Config
	Catalog   catalog.Config
}

// Client is the top-level handle applications use. All methods are safe for
// concurrent use.
type Client struct {
	cfg Config
	log *zap.Logger

	api        *api.Client
	session    *auth.Session
	store      *state.Store
	catalog    *catalog.Cache
	conn       *transport.Connection
	dispatcher *dispatch.Dispatcher

	pollCh   chan string
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu      sync.Mutex
	devices []yoto.Device
	started bool
}

// New wires the component graph without touching the network.
func New(cfg Config, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.ClientID == "" {
		cfg.ClientID = api.DefaultClientID
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}

	apiClient, err := api.NewClient(api.Config{
		BaseURL:  cfg.BaseURL,
		ClientID: cfg.ClientID,
	}, log.Named("api"))
	if err != nil {
		return nil, err
	}
	session := auth.NewSession(apiClient, log.Named("auth"))
	apiClient.SetTokenSource(session)

	store := state.NewStore(log.Named("state"))
	cache, err := catalog.NewCache(apiClient, cfg.Catalog, log.Named("catalog"))
	if err != nil {
		return nil, err
	}
	conn := transport.NewConnection(cfg.Transport, session, store, log.Named("transport"))

	c := &Client{
		cfg:     cfg,
		log:     log,
		api:     apiClient,
		session: session,
		store:   store,
		catalog: cache,
		conn:    conn,
		pollCh:  make(chan string, 8),
		stopCh:  make(chan struct{}),
	}
	c.dispatcher = dispatch.NewDispatcher(conn, store, cache, dispatch.Options{
		DefaultDevice: cfg.DefaultDevice,
		Devices:       c.deviceIDs,
		Online:        c.deviceOnline,
		PollNow:       c.pollNow,
	}, log.Named("dispatch"))
	return c, nil
}

// Connect authenticates and discovers the account's devices without
// bringing up the event transport. Safe to call more than once; a repeat
// call refreshes the device list.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.session.Authenticate(ctx, c.cfg.Username, c.cfg.Password); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	devices, err := c.api.Devices(ctx)
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	c.mu.Lock()
	c.devices = devices
	c.mu.Unlock()
	c.log.Info("devices discovered", zap.Int("count", len(devices)))
	return nil
}

// Start connects, brings up the transport and launches the status-poll and
// token-refresh loops.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("coordinator already started")
	}
	c.started = true
	c.mu.Unlock()

	if err := c.Connect(ctx); err != nil {
		return err
	}

	if err := c.conn.Start(ctx, c.deviceIDs()); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}

	c.wg.Add(2)
	go c.pollLoop()
	go c.refreshLoop()

	// Seed initial state so callers see something before the first event.
	for _, id := range c.deviceIDs() {
		c.pollNow(id)
	}
	return nil
}

// Stop shuts everything down. Idempotent and safe before Start.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.conn.Stop()
		c.wg.Wait()
		c.session.Close()
		c.log.Info("coordinator stopped")
	})
}

// WaitConnected blocks until the transport reaches the connected state or
// the context expires.
func (c *Client) WaitConnected(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		switch c.store.Connection() {
		case yoto.ConnConnected:
			return nil
		case yoto.ConnDegraded:
			return fmt.Errorf("transport degraded, restart required")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Devices returns the discovered devices.
func (c *Client) Devices() []yoto.Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]yoto.Device(nil), c.devices...)
}

// Library returns the content library, cache-first.
func (c *Client) Library(ctx context.Context, force bool) ([]yoto.Card, error) {
	return c.catalog.List(ctx, force)
}

// Chapters returns the chapter listing of a card.
func (c *Client) Chapters(ctx context.Context, cardID string) ([]yoto.Chapter, error) {
	return c.catalog.Chapters(ctx, cardID)
}

// Artwork returns a local path to the card's cover art, fetching and caching
// it on first use. An empty path means no artwork is available.
func (c *Client) Artwork(ctx context.Context, cardID string) string {
	return c.catalog.Artwork(ctx, cardID, "")
}

// Status polls a device's cloud status document, merges it into the store
// and returns the fresh snapshot.
func (c *Client) Status(ctx context.Context, deviceID string) (yoto.DeviceState, error) {
	ev, err := c.api.DeviceStatus(ctx, deviceID)
	if err != nil {
		return yoto.DeviceState{}, err
	}
	c.store.ApplyEvent(deviceID, ev)
	st, _ := c.store.Get(deviceID)
	return st, nil
}

// CurrentState returns the last known state of a device.
func (c *Client) CurrentState(deviceID string) (yoto.DeviceState, bool) {
	return c.store.Get(deviceID)
}

// ConnectionState returns the transport connection state.
func (c *Client) ConnectionState() yoto.ConnectionState {
	return c.store.Connection()
}

// Subscribe registers a state observer; Unsubscribe releases it.
func (c *Client) Subscribe(obs state.Observer) int { return c.store.Subscribe(obs) }

// Unsubscribe removes a state observer.
func (c *Client) Unsubscribe(id int) { c.store.Unsubscribe(id) }

// RestartTransport re-arms the reconnect loop after it degraded.
func (c *Client) RestartTransport() { c.conn.Restart() }

// Play resumes active content on a device.
func (c *Client) Play(ctx context.Context, deviceID string) error {
	return c.dispatcher.Play(ctx, deviceID)
}

// Pause pauses playback.
func (c *Client) Pause(ctx context.Context, deviceID string) error {
	return c.dispatcher.Pause(ctx, deviceID)
}

// Resume resumes paused playback.
func (c *Client) Resume(ctx context.Context, deviceID string) error {
	return c.dispatcher.Resume(ctx, deviceID)
}

// StopPlayback stops playback on a device.
func (c *Client) StopPlayback(ctx context.Context, deviceID string) error {
	return c.dispatcher.Stop(ctx, deviceID)
}

// PlayCard starts a card at the given chapter and track.
func (c *Client) PlayCard(ctx context.Context, deviceID, cardID string, chapter, track int) error {
	return c.dispatcher.PlayCard(ctx, deviceID, cardID, chapter, track)
}

// NextTrack advances to the next chapter.
func (c *Client) NextTrack(ctx context.Context, deviceID string) error {
	return c.dispatcher.NextTrack(ctx, deviceID)
}

// PreviousTrack steps back a chapter.
func (c *Client) PreviousTrack(ctx context.Context, deviceID string) error {
	return c.dispatcher.PreviousTrack(ctx, deviceID)
}

// SleepTimer arms the device sleep timer.
func (c *Client) SleepTimer(ctx context.Context, deviceID string, seconds int) error {
	return c.dispatcher.SleepTimer(ctx, deviceID, seconds)
}

// DeviceConfig fetches a device's configuration document.
func (c *Client) DeviceConfig(ctx context.Context, deviceID string) (map[string]any, error) {
	return c.api.DeviceConfig(ctx, deviceID)
}

// UpdateDeviceConfig pushes a configuration document to a device.
func (c *Client) UpdateDeviceConfig(ctx context.Context, deviceID string, config map[string]any) error {
	return c.api.UpdateDeviceConfig(ctx, deviceID, config)
}

// SetAlarmEnabled flips the enabled flag of one configured alarm via a
// read-modify-write of the player config. Alarm entries are comma-separated
// field lists whose last field holds the flag.
func (c *Client) SetAlarmEnabled(ctx context.Context, deviceID string, index int, enabled bool) error {
	config, err := c.api.DeviceConfig(ctx, deviceID)
	if err != nil {
		return err
	}
	alarms, _ := config["alarms"].([]any)
	if index < 0 || index >= len(alarms) {
		return fmt.Errorf("alarm %d not found", index)
	}
	entry, ok := alarms[index].(string)
	if !ok {
		return fmt.Errorf("alarm %d has an unexpected shape", index)
	}
	parts := strings.Split(entry, ",")
	if len(parts) < 6 {
		return fmt.Errorf("alarm %d is malformed: %q", index, entry)
	}
	if enabled {
		parts[len(parts)-1] = "1"
	} else {
		parts[len(parts)-1] = "0"
	}
	alarms[index] = strings.Join(parts, ",")
	return c.api.UpdateDeviceConfig(ctx, deviceID, map[string]any{"alarms": alarms})
}

// Store exposes the state store for supporting services such as the local
// state bridge.
func (c *Client) Store() *state.Store { return c.store }

func (c *Client) deviceIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.devices))
	for _, d := range c.devices {
		ids = append(ids, d.ID)
	}
	return ids
}

// deviceOnline reports the online flag from the last device discovery.
// Devices we have never discovered are treated as online so explicit
// targets are not silently dropped.
func (c *Client) deviceOnline(deviceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.devices {
		if d.ID == deviceID {
			return d.Online
		}
	}
	return true
}

// pollNow requests an out-of-band status poll. Drops the request when the
// queue is full; the periodic loop will catch up.
func (c *Client) pollNow(deviceID string) {
	select {
	case c.pollCh <- deviceID:
	default:
	}
}

// pollLoop keeps snapshots fresh for observers that joined between events.
func (c *Client) pollLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case deviceID := <-c.pollCh:
			c.pollStatus(deviceID)
		case <-ticker.C:
			for _, id := range c.deviceIDs() {
				c.pollStatus(id)
			}
		}
	}
}

func (c *Client) pollStatus(deviceID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ev, err := c.api.DeviceStatus(ctx, deviceID)
	if err != nil {
		c.log.Warn("status poll failed",
			zap.String("device_id", deviceID), zap.Error(err))
		return
	}
	c.store.ApplyEvent(deviceID, ev)
}

// refreshLoop keeps the access token ahead of its expiry so the transport
// always has a usable credential when it needs to reconnect.
func (c *Client) refreshLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			if _, _, err := c.session.EnsureValid(ctx); err != nil {
				c.log.Warn("token refresh failed", zap.Error(err))
			}
			cancel()
		}
	}
}
