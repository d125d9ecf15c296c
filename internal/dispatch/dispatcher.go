// Package dispatch translates high-level playback intents into device
// command publishes. It is decoupled from the transport through a narrow
// publisher interface so intents can be exercised without a live session.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jayheavner/yoto-esp32-controller/internal/state"
	"github.com/jayheavner/yoto-esp32-controller/pkg/yoto"
)

// ErrNoDevice is returned when no target device can be resolved.
var ErrNoDevice = errors.New("no target device available")

// Publisher sends a payload to a broker topic. Implemented by
// transport.Connection.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Catalog resolves the chapter list of a card. Implemented by
// catalog.Cache.
type Catalog interface {
	Chapters(ctx context.Context, cardID string) ([]yoto.Chapter, error)
}

// Options configures a Dispatcher.
type Options struct {
	// DefaultDevice is used when a command names no device.
	DefaultDevice string
	// Devices lists the known device ids, used as a last resort target.
	Devices func() []string
	// Online reports whether a device was online at the last discovery.
	// When nil the check is skipped and commands are sent regardless.
	Online func(deviceID string) bool
	// PollNow, when set, requests an immediate status poll after a command
	// that changes what is playing, so observers see the transition without
	// waiting for the next periodic poll.
	PollNow func(deviceID string)
}

// Dispatcher sends playback commands to devices.
type Dispatcher struct {
	pub     Publisher
	store   *state.Store
	catalog Catalog
	opts    Options
	log     *zap.Logger
}

// NewDispatcher creates a dispatcher over the given publisher.
func NewDispatcher(pub Publisher, store *state.Store, catalog Catalog, opts Options, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{pub: pub, store: store, catalog: catalog, opts: opts, log: log}
}

// Play resumes playback of whatever content is active on the device. When
// the device is offline or has no active card there is nothing to resume;
// the call logs and returns nil rather than sending a command the device
// would reject.
func (d *Dispatcher) Play(ctx context.Context, deviceID string) error {
	target, err := d.resolve(deviceID)
	if err != nil {
		return err
	}
	if d.opts.Online != nil && !d.opts.Online(target) {
		d.log.Warn("play requested for offline device",
			zap.String("device_id", target))
		return nil
	}
	if st, _ := d.store.Get(target); st.CardID == "" {
		d.log.Warn("play requested with no active content",
			zap.String("device_id", target))
		return nil
	}
	return d.send(target, yoto.CommandCardResume, nil)
}

// Pause pauses playback.
func (d *Dispatcher) Pause(ctx context.Context, deviceID string) error {
	target, err := d.resolve(deviceID)
	if err != nil {
		return err
	}
	return d.send(target, yoto.CommandCardPause, nil)
}

// Resume resumes paused playback.
func (d *Dispatcher) Resume(ctx context.Context, deviceID string) error {
	target, err := d.resolve(deviceID)
	if err != nil {
		return err
	}
	return d.send(target, yoto.CommandCardResume, nil)
}

// Stop stops playback.
func (d *Dispatcher) Stop(ctx context.Context, deviceID string) error {
	target, err := d.resolve(deviceID)
	if err != nil {
		return err
	}
	return d.send(target, yoto.CommandCardStop, nil)
}

// PlayCard starts playback of a card at the given chapter and track
// ordinals. Ordinals below one are normalized to the first chapter/track.
func (d *Dispatcher) PlayCard(ctx context.Context, deviceID, cardID string, chapter, track int) error {
	target, err := d.resolve(deviceID)
	if err != nil {
		return err
	}
	if track < 1 {
		track = 1
	}
	return d.playChapter(target, cardID, yoto.FormatChapterKey(chapter), track)
}

// NextTrack advances to the next chapter of the active card. At the last
// chapter the call is a logged no-op; playback never wraps around.
func (d *Dispatcher) NextTrack(ctx context.Context, deviceID string) error {
	return d.step(ctx, deviceID, 1)
}

// PreviousTrack steps back to the previous chapter of the active card. At
// the first chapter the call is a logged no-op.
func (d *Dispatcher) PreviousTrack(ctx context.Context, deviceID string) error {
	return d.step(ctx, deviceID, -1)
}

// SleepTimer arms the device sleep timer. Zero seconds cancels it.
func (d *Dispatcher) SleepTimer(ctx context.Context, deviceID string, seconds int) error {
	target, err := d.resolve(deviceID)
	if err != nil {
		return err
	}
	body, err := json.Marshal(yoto.SleepBody{Seconds: seconds})
	if err != nil {
		return err
	}
	return d.send(target, yoto.CommandSleep, body)
}

func (d *Dispatcher) step(ctx context.Context, deviceID string, delta int) error {
	target, err := d.resolve(deviceID)
	if err != nil {
		return err
	}
	current, _ := d.store.Get(target)
	if current.CardID == "" {
		d.log.Warn("track step requested with no active card",
			zap.String("device_id", target))
		return nil
	}

	chapters, err := d.catalog.Chapters(ctx, current.CardID)
	if err != nil {
		return fmt.Errorf("resolve chapters for %s: %w", current.CardID, err)
	}
	if len(chapters) == 0 {
		d.log.Warn("active card has no chapter listing",
			zap.String("card_id", current.CardID))
		return nil
	}

	index := chapterIndex(chapters, current.ChapterKey) + delta
	if index < 0 {
		d.log.Info("already at first track", zap.String("device_id", target))
		return nil
	}
	if index >= len(chapters) {
		d.log.Info("already at last track", zap.String("device_id", target))
		return nil
	}

	key := chapters[index].Key
	return d.playChapter(target, current.CardID, key, parseKey(key))
}

func (d *Dispatcher) playChapter(deviceID, cardID, chapterKey string, trackKey int) error {
	body, err := json.Marshal(yoto.CardPlayBody{
		URI:        yoto.CardURIPrefix + cardID,
		ChapterKey: chapterKey,
		TrackKey:   trackKey,
	})
	if err != nil {
		return err
	}
	if err := d.send(deviceID, yoto.CommandCardPlay, body); err != nil {
		return err
	}
	if d.opts.PollNow != nil {
		d.opts.PollNow(deviceID)
	}
	return nil
}

func (d *Dispatcher) send(deviceID, verb string, body []byte) error {
	topic := yoto.TopicCommand(deviceID, verb)
	if err := d.pub.Publish(topic, body); err != nil {
		d.log.Error("command publish failed",
			zap.String("topic", topic), zap.Error(err))
		return fmt.Errorf("publish %s: %w", verb, err)
	}
	d.log.Debug("command sent",
		zap.String("device_id", deviceID), zap.String("verb", verb))
	return nil
}

func (d *Dispatcher) resolve(deviceID string) (string, error) {
	if deviceID != "" {
		return deviceID, nil
	}
	if d.opts.DefaultDevice != "" {
		return d.opts.DefaultDevice, nil
	}
	if d.opts.Devices != nil {
		if known := d.opts.Devices(); len(known) > 0 {
			return known[0], nil
		}
	}
	d.log.Warn("no target device resolvable for command")
	return "", ErrNoDevice
}

// chapterIndex locates the current chapter within the listing, matching on
// the exact key first and falling back to the key's numeric value. Unknown
// keys resolve to the first chapter.
func chapterIndex(chapters []yoto.Chapter, key string) int {
	for i, ch := range chapters {
		if ch.Key == key {
			return i
		}
	}
	if n := parseKey(key); n >= 1 && n <= len(chapters) {
		return n - 1
	}
	return 0
}

// parseKey extracts the numeric value of a chapter key, tolerating
// non-digit decoration. Keys with no digits map to 1.
func parseKey(key string) int {
	n := 0
	seen := false
	for _, r := range key {
		if r >= '0' && r <= '9' {
			n = n*10 + int(r-'0')
			seen = true
		}
	}
	if !seen || n < 1 {
		return 1
	}
	return n
}
