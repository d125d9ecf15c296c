package state

import (
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/jayheavner/yoto-esp32-controller/pkg/yoto"
)

func strPtr(s string) *string { return &s }
func numPtr(n int) *int { return &n }
func floatPtr(f float64) *float64 { return &f }
func statusPtr(s string) *string { return strPtr(s) }
func testStore(t *testing.T) *Store { t.Helper(); return NewStore(zap.NewNop()) }

func TestApplyEventThenPartialKeepsFields(t *testing.T) {
	store := testStore(t)

	store.ApplyEvent("dev1", yoto.EventPayload{
		PlaybackStatus: statusPtr("playing"),
		CardID:         strPtr("abc123"),
	})

	st, ok := store.Get("dev1")
	if !ok {
		t.Fatalf("expected state for dev1")
	}
	if st.PlaybackStatus != yoto.StatusPlaying || st.CardID != "abc123" {
		t.Fatalf("unexpected state: %+v", st)
	}

	store.ApplyEvent("dev1", yoto.EventPayload{PlaybackStatus: statusPtr("paused")})

	st, _ = store.Get("dev1")
	if st.PlaybackStatus != yoto.StatusPaused {
		t.Fatalf("expected paused, got %s", st.PlaybackStatus)
	}
	if st.CardID != "abc123" {
		t.Fatalf("absent field overwrote card id: %q", st.CardID)
	}
}

func TestApplyPartialMonotonicFreshness(t *testing.T) {
	store := testStore(t)

	store.Apply("dev1", Update{
		Volume:       numPtr(8),
		Battery:      numPtr(90),
		Temperature:  floatPtr(21.5),
		TrackLength:  numPtr(300),
		Position:     numPtr(10),
		WifiStrength: numPtr(-40),
		AmbientLight: numPtr(12),
	})
	store.Apply("dev1", Update{Position: numPtr(20)})

	st, _ := store.Get("dev1")
	if st.Volume != 8 || st.Battery == nil || *st.Battery != 90 {
		t.Fatalf("telemetry lost: %+v", st)
	}
	if st.Temperature == nil || *st.Temperature != 21.5 {
		t.Fatalf("temperature lost: %+v", st)
	}
	if st.Position != 20 || st.TrackLength != 300 {
		t.Fatalf("position not advanced: %+v", st)
	}
}

func TestNoneCardClearsDependentFields(t *testing.T) {
	store := testStore(t)

	store.ApplyEvent("dev1", yoto.EventPayload{
		CardID:       strPtr("abc123"),
		ChapterKey:   strPtr("02"),
		ChapterTitle: strPtr("Chapter Two"),
		TrackKey:     strPtr("02"),
		TrackTitle:   strPtr("Track Two"),
	})
	store.ApplyEvent("dev1", yoto.EventPayload{CardID: strPtr("none")})

	st, _ := store.Get("dev1")
	if st.CardID != "" {
		t.Fatalf("card id not normalized: %q", st.CardID)
	}
	if st.ChapterKey != "" || st.ChapterTitle != "" || st.TrackKey != "" || st.TrackTitle != "" {
		t.Fatalf("dependent fields not cleared: %+v", st)
	}
}

func TestChapterFieldsIgnoredWithoutCard(t *testing.T) {
	store := testStore(t)

	store.Apply("dev1", Update{ChapterKey: strPtr("05"), TrackTitle: strPtr("Orphan")})

	st, _ := store.Get("dev1")
	if st.ChapterKey != "" || st.TrackTitle != "" {
		t.Fatalf("chapter fields set without active card: %+v", st)
	}
}

func TestPositionClampedToTrackLength(t *testing.T) {
	store := testStore(t)

	store.Apply("dev1", Update{TrackLength: numPtr(100), Position: numPtr(250)})

	st, _ := store.Get("dev1")
	if st.Position != 100 {
		t.Fatalf("expected clamp to 100, got %d", st.Position)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	store := testStore(t)
	store.Apply("dev1", Update{Volume: numPtr(5)})

	st, _ := store.Get("dev1")
	st.Volume = 99

	again, _ := store.Get("dev1")
	if again.Volume != 5 {
		t.Fatalf("caller mutated shared state: %d", again.Volume)
	}
}

func TestUnknownDeviceDefaultsStopped(t *testing.T) {
	store := testStore(t)
	st, ok := store.Get("nope")
	if ok {
		t.Fatalf("expected ok=false for unknown device")
	}
	if st.PlaybackStatus != yoto.StatusStopped {
		t.Fatalf("expected stopped default, got %s", st.PlaybackStatus)
	}
}

func TestObserverIsolation(t *testing.T) {
	store := testStore(t)

	var mu sync.Mutex
	var seen []string

	store.Subscribe(func(Notification) { panic("broken observer") })
	store.Subscribe(func(n Notification) {
		mu.Lock()
		seen = append(seen, n.DeviceID)
		mu.Unlock()
	})

	store.Apply("dev1", Update{Volume: numPtr(3)})

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != "dev1" {
		t.Fatalf("healthy observer not notified: %v", seen)
	}
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	store := testStore(t)

	calls := 0
	id := store.Subscribe(func(Notification) { calls++ })

	store.Apply("dev1", Update{Volume: numPtr(1)})
	store.Unsubscribe(id)
	store.Apply("dev1", Update{Volume: numPtr(2)})

	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestConnectionNotifications(t *testing.T) {
	store := testStore(t)

	var got []yoto.ConnectionState
	store.Subscribe(func(n Notification) {
		if n.DeviceID == "" {
			got = append(got, n.Connection)
		}
	})

	store.SetConnection(yoto.ConnConnecting)
	store.SetConnection(yoto.ConnConnecting) // dropped
	store.SetConnection(yoto.ConnConnected)
	store.SetConnection(yoto.ConnDegraded)

	want := []yoto.ConnectionState{yoto.ConnConnecting, yoto.ConnConnected, yoto.ConnDegraded}
	if len(got) != len(want) {
		t.Fatalf("expected %d notifications, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("notification %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if store.Connection() != yoto.ConnDegraded {
		t.Fatalf("connection state: %s", store.Connection())
	}
}

func TestDeviceNotificationCarriesConnection(t *testing.T) {
	store := testStore(t)
	store.SetConnection(yoto.ConnConnected)

	var n Notification
	store.Subscribe(func(got Notification) { n = got })
	store.Apply("dev1", Update{Volume: numPtr(4)})

	if n.DeviceID != "dev1" || n.Connection != yoto.ConnConnected {
		t.Fatalf("unexpected notification: %+v", n)
	}
	if n.State.Volume != 4 {
		t.Fatalf("snapshot missing update: %+v", n.State)
	}
}
