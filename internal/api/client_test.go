package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

type staticTokens struct{}

func (staticTokens) AuthHeader(context.Context) (string, error) {
	return "Bearer tok-1", nil
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{BaseURL: server.URL, ClientID: "cid"}, zap.NewNop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.SetTokenSource(staticTokens{})
	return client, server
}

func TestDevices(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/device-v2/devices/mine" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("unexpected auth header %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"devices": []map[string]any{
				{"deviceId": "dev-1", "name": "Kitchen", "deviceType": "v3", "online": true},
			},
		})
	}))

	devices, err := client.Devices(context.Background())
	if err != nil {
		t.Fatalf("devices: %v", err)
	}
	if len(devices) != 1 || devices[0].ID != "dev-1" || !devices[0].Online {
		t.Fatalf("unexpected devices %+v", devices)
	}
}

func TestLibrary(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/card/family/library" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"cards": []map[string]any{
				{
					"cardId": "card-a",
					"card": map[string]any{
						"title": "Bedtime Stories",
						"metadata": map[string]any{
							"cover": map[string]any{"imageL": "https://img/card-a.png"},
						},
					},
				},
			},
		})
	}))

	entries, err := client.Library(context.Background())
	if err != nil {
		t.Fatalf("library: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if entries[0].CardID != "card-a" || entries[0].Card.Title != "Bedtime Stories" {
		t.Fatalf("unexpected entry %+v", entries[0])
	}
	if entries[0].Card.Metadata.Cover.ImageL != "https://img/card-a.png" {
		t.Fatalf("unexpected cover url")
	}
}

func TestDetail(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/card/card-a" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"card": map[string]any{
				"cardId": "card-a",
				"title":  "Bedtime Stories",
				"content": map[string]any{
					"chapters": []map[string]any{
						{"key": "01", "title": "One", "duration": 90},
						{"key": "02", "title": "Two", "duration": 120},
					},
				},
			},
		})
	}))

	detail, err := client.Detail(context.Background(), "card-a")
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if len(detail.Card.Content.Chapters) != 2 || detail.Card.Content.Chapters[1].Key != "02" {
		t.Fatalf("unexpected detail %+v", detail)
	}
}

func TestDeviceStatus(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"playbackStatus":     "paused",
			"cardId":             "card-a",
			"temperatureCelcius": 21.5,
		})
	}))

	ev, err := client.DeviceStatus(context.Background(), "dev-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if ev.PlaybackStatus == nil || *ev.PlaybackStatus != "paused" {
		t.Fatalf("unexpected status %+v", ev)
	}
	if ev.Temperature == nil || *ev.Temperature != 21.5 {
		t.Fatalf("unexpected temperature %+v", ev.Temperature)
	}
}

func TestUpdateDeviceConfig(t *testing.T) {
	var received map[string]any
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("unexpected method %s", r.Method)
		}
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))

	err := client.UpdateDeviceConfig(context.Background(), "dev-1", map[string]any{"dayVolume": 50})
	if err != nil {
		t.Fatalf("update config: %v", err)
	}
	if received["deviceId"] != "dev-1" {
		t.Fatalf("unexpected body %+v", received)
	}
	config, ok := received["config"].(map[string]any)
	if !ok || config["dayVolume"] != float64(50) {
		t.Fatalf("unexpected config %+v", received["config"])
	}
}

func TestFetchBinary(t *testing.T) {
	client, server := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	}))

	data, contentType, err := client.FetchBinary(context.Background(), server.URL+"/art.png")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(data) != "png-bytes" || contentType != "image/png" {
		t.Fatalf("unexpected result %q %q", data, contentType)
	}
}

func TestStatusErrorClassification(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))

	_, err := client.Devices(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %T", err)
	}
	if statusErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unexpected status %d", statusErr.StatusCode)
	}
	if !IsAuthFailure(err) {
		t.Fatalf("expected auth failure classification")
	}
}

func TestRequiresTokenSource(t *testing.T) {
	client, err := NewClient(Config{BaseURL: "http://127.0.0.1:1", ClientID: "cid"}, zap.NewNop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Devices(context.Background()); err == nil {
		t.Fatalf("expected error without token source")
	}
}

func TestNewClientRequiresClientID(t *testing.T) {
	if _, err := NewClient(Config{}, zap.NewNop()); err == nil {
		t.Fatalf("expected error")
	}
}
