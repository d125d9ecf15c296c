package state

import (
	"sync"

	"go.uber.org/zap"

	"github.com/jayheavner/yoto-esp32-controller/pkg/yoto"
)

// Update carries the fields of one inbound event. Nil fields leave the
// corresponding state untouched; only fields present in the payload are
// applied. CardID pointing at an empty string clears the active card and the
// dependent chapter/track fields.
type Update struct {
	PlaybackStatus *yoto.PlaybackStatus
	CardID         *string
	ChapterKey     *string
	ChapterTitle   *string
	TrackKey       *string
	TrackTitle     *string
	Position       *int
	TrackLength    *int
	Volume         *int
	Battery        *int
	WifiStrength   *int
	Temperature    *float64
	AmbientLight   *int
}

// Notification is delivered to observers after every applied update. A
// device-level change carries the device id and its fresh snapshot; a
// connection-level change carries an empty device id. Connection always
// reflects the current transport state.
type Notification struct {
	DeviceID   string
	State      yoto.DeviceState
	Connection yoto.ConnectionState
}

// Observer receives state-change notifications. Observers run on the
// goroutine that applied the update and must not block for long.
type Observer func(Notification)

// Store holds the authoritative in-memory snapshot of per-device state.
// Reads never touch the network; all mutation funnels through Apply and
// SetConnection so readers never observe a half-applied update.
type Store struct {
	log *zap.Logger

	mu        sync.RWMutex
	devices   map[string]*yoto.DeviceState
	conn      yoto.ConnectionState
	observers map[int]Observer
	nextID    int
}

// NewStore creates an empty store.
func NewStore(log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		log:       log,
		devices:   make(map[string]*yoto.DeviceState),
		conn:      yoto.ConnDisconnected,
		observers: make(map[int]Observer),
	}
}

// Get returns a copy of the last known state for a device. The second result
// is false when no update has ever been applied for that device.
func (s *Store) Get(deviceID string) (yoto.DeviceState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.devices[deviceID]
	if !ok {
		return yoto.DeviceState{PlaybackStatus: yoto.StatusStopped}, false
	}
	return *st, true
}

// Connection returns the current transport connection state.
func (s *Store) Connection() yoto.ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// Subscribe registers an observer and returns a handle for Unsubscribe.
func (s *Store) Subscribe(obs Observer) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.observers[s.nextID] = obs
	return s.nextID
}

// Unsubscribe removes a previously registered observer. Unknown handles are
// ignored.
func (s *Store) Unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.observers, id)
}

// Apply merges a partial update into the device's snapshot and notifies
// observers. Fields absent from the update never overwrite known values.
func (s *Store) Apply(deviceID string, u Update) {
	s.mu.Lock()
	st, ok := s.devices[deviceID]
	if !ok {
		st = &yoto.DeviceState{PlaybackStatus: yoto.StatusStopped}
		s.devices[deviceID] = st
	}

	if u.PlaybackStatus != nil {
		st.PlaybackStatus = *u.PlaybackStatus
	}
	if u.CardID != nil {
		st.CardID = *u.CardID
		if st.CardID == "" {
			st.ChapterKey = ""
			st.ChapterTitle = ""
			st.TrackKey = ""
			st.TrackTitle = ""
		}
	}
	if st.CardID != "" {
		if u.ChapterKey != nil {
			st.ChapterKey = *u.ChapterKey
		}
		if u.ChapterTitle != nil {
			st.ChapterTitle = *u.ChapterTitle
		}
		if u.TrackKey != nil {
			st.TrackKey = *u.TrackKey
		}
		if u.TrackTitle != nil {
			st.TrackTitle = *u.TrackTitle
		}
	}
	if u.Position != nil && *u.Position >= 0 {
		st.Position = *u.Position
	}
	if u.TrackLength != nil && *u.TrackLength >= 0 {
		st.TrackLength = *u.TrackLength
	}
	if st.TrackLength > 0 && st.Position > st.TrackLength {
		st.Position = st.TrackLength
	}
	if u.Volume != nil {
		st.Volume = *u.Volume
	}
	if u.Battery != nil {
		st.Battery = intPtr(*u.Battery)
	}
	if u.WifiStrength != nil {
		st.WifiStrength = intPtr(*u.WifiStrength)
	}
	if u.Temperature != nil {
		v := *u.Temperature
		st.Temperature = &v
	}
	if u.AmbientLight != nil {
		st.AmbientLight = intPtr(*u.AmbientLight)
	}

	snapshot := *st
	conn := s.conn
	observers := s.copyObservers()
	s.mu.Unlock()

	s.notify(observers, Notification{DeviceID: deviceID, State: snapshot, Connection: conn})
}

// ApplyEvent translates a wire event payload into a partial update. The
// "none" card sentinel is normalized to the absent value.
func (s *Store) ApplyEvent(deviceID string, ev yoto.EventPayload) {
	var u Update
	if ev.PlaybackStatus != nil {
		status := yoto.PlaybackStatus(*ev.PlaybackStatus)
		u.PlaybackStatus = &status
	}
	if ev.CardID != nil {
		normalized := yoto.NormalizeCardID(*ev.CardID)
		u.CardID = &normalized
	}
	u.ChapterKey = ev.ChapterKey
	u.ChapterTitle = ev.ChapterTitle
	u.TrackKey = ev.TrackKey
	u.TrackTitle = ev.TrackTitle
	u.Position = ev.Position
	u.TrackLength = ev.TrackLength
	u.Volume = ev.Volume
	u.Battery = ev.Battery
	u.WifiStrength = ev.WifiStrength
	u.Temperature = ev.Temperature
	u.AmbientLight = ev.AmbientLight
	s.Apply(deviceID, u)
}

// SetConnection records a transport state change and notifies observers with
// a connection-level notification. Redundant transitions are dropped.
func (s *Store) SetConnection(conn yoto.ConnectionState) {
	s.mu.Lock()
	if s.conn == conn {
		s.mu.Unlock()
		return
	}
	s.conn = conn
	observers := s.copyObservers()
	s.mu.Unlock()

	s.notify(observers, Notification{Connection: conn})
}

// copyObservers must be called with the lock held.
func (s *Store) copyObservers() []Observer {
	out := make([]Observer, 0, len(s.observers))
	for _, obs := range s.observers {
		out = append(out, obs)
	}
	return out
}

// notify invokes observers outside the lock. A failing observer must not
// prevent the rest from being notified.
func (s *Store) notify(observers []Observer, n Notification) {
	for _, obs := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("state observer panic recovered",
						zap.String("device_id", n.DeviceID),
						zap.Any("panic", r))
				}
			}()
			obs(n)
		}()
	}
}

func intPtr(v int) *int { return &v }
