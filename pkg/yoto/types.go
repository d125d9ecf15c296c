package yoto

// Device is a playback unit registered to an account.
type Device struct {
	ID         string `json:"deviceId"`
	Name       string `json:"name"`
	DeviceType string `json:"deviceType"`
	Online     bool   `json:"online"`
}

// DeviceState is the last known playback and telemetry snapshot for one
// device. CardID empty means no card is loaded, in which case the chapter and
// track fields are also empty.
type DeviceState struct {
	PlaybackStatus PlaybackStatus `json:"playbackStatus"`
	CardID         string         `json:"cardId,omitempty"`
	ChapterKey     string         `json:"chapterKey,omitempty"`
	ChapterTitle   string         `json:"chapterTitle,omitempty"`
	TrackKey       string         `json:"trackKey,omitempty"`
	TrackTitle     string         `json:"trackTitle,omitempty"`
	Position       int            `json:"position"`
	TrackLength    int            `json:"trackLength"`
	Volume         int            `json:"volume"`
	Battery        *int           `json:"battery,omitempty"`
	WifiStrength   *int           `json:"wifiStrength,omitempty"`
	Temperature    *float64       `json:"temperature,omitempty"`
	AmbientLight   *int           `json:"ambientLight,omitempty"`
}

// Card is a unit of playable content with optional cached artwork and
// chapter listing. ArtPath is empty until artwork has been fetched; a set
// ArtPath always refers to an existing file.
type Card struct {
	ID       string    `json:"cardId"`
	Title    string    `json:"title"`
	ArtPath  string    `json:"artPath,omitempty"`
	Chapters []Chapter `json:"chapters,omitempty"`
}

// Chapter is one entry in a card's playback structure.
type Chapter struct {
	Key      string `json:"key"`
	Title    string `json:"title"`
	Duration int    `json:"duration"`
	IconURL  string `json:"iconUrl,omitempty"`
}

// ConnectionState describes the transport session towards the broker.
type ConnectionState string

const (
	ConnDisconnected ConnectionState = "disconnected"
	ConnConnecting   ConnectionState = "connecting"
	ConnConnected    ConnectionState = "connected"
	ConnDegraded     ConnectionState = "degraded"
)
