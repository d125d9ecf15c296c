package yoto

import "fmt"

// Command verbs published under the per-device command namespace.
const (
	CommandEvents     = "events"
	CommandCardPlay   = "card-play"
	CommandCardPause  = "card-pause"
	CommandCardResume = "card-resume"
	CommandCardStop   = "card-stop"
	CommandSleep      = "sleep"
)

// NoCardSentinel is the wire value a device reports when no card is loaded.
const NoCardSentinel = "none"

// CardURIPrefix is the URI scheme used to address a card in play commands.
const CardURIPrefix = "https://yoto.io/"

// PlaybackStatus enumerates the playback states a device reports.
type PlaybackStatus string

const (
	StatusPlaying PlaybackStatus = "playing"
	StatusPaused  PlaybackStatus = "paused"
	StatusStopped PlaybackStatus = "stopped"
)

// TopicEvents builds the inbound events topic for a device.
func TopicEvents(deviceID string) string {
	return fmt.Sprintf("device/%s/events", deviceID)
}

// TopicStatus builds the inbound status topic for a device.
func TopicStatus(deviceID string) string {
	return fmt.Sprintf("device/%s/status", deviceID)
}

// TopicResponse builds the inbound command-response topic for a device.
func TopicResponse(deviceID string) string {
	return fmt.Sprintf("device/%s/response", deviceID)
}

// TopicCommand builds the outbound command topic for a device and verb.
func TopicCommand(deviceID string, verb string) string {
	return fmt.Sprintf("device/%s/command/%s", deviceID, verb)
}

// CardPlayBody is the payload for card-play commands. Chapter and track keys
// are zero-padded two-digit ordinals.
type CardPlayBody struct {
	URI        string `json:"uri"`
	ChapterKey string `json:"chapterKey"`
	TrackKey   int    `json:"trackKey"`
	SecondsIn  int    `json:"secondsIn"`
	CutOff     int    `json:"cutOff"`
}

// SleepBody is the payload for sleep-timer commands.
type SleepBody struct {
	Seconds int `json:"seconds"`
}

// EventPayload is a device event or status message. All fields are optional on
// the wire; pointers distinguish an absent field from a zero value so that
// partial updates never clobber previously known state.
//
// The temperature key spelling matches the device firmware.
type EventPayload struct {
	PlaybackStatus *string  `json:"playbackStatus,omitempty"`
	CardID         *string  `json:"cardId,omitempty"`
	ChapterKey     *string  `json:"chapterKey,omitempty"`
	ChapterTitle   *string  `json:"chapterTitle,omitempty"`
	TrackKey       *string  `json:"trackKey,omitempty"`
	TrackTitle     *string  `json:"trackTitle,omitempty"`
	Position       *int     `json:"position,omitempty"`
	TrackLength    *int     `json:"trackLength,omitempty"`
	Volume         *int     `json:"userVolumePercentage,omitempty"`
	Battery        *int     `json:"batteryLevelPercentage,omitempty"`
	WifiStrength   *int     `json:"wifiStrength,omitempty"`
	Temperature    *float64 `json:"temperatureCelcius,omitempty"`
	AmbientLight   *int     `json:"ambientLightSensorReading,omitempty"`
}

// NormalizeCardID maps the device's "none" sentinel to the empty string.
func NormalizeCardID(cardID string) string {
	if cardID == NoCardSentinel {
		return ""
	}
	return cardID
}

// FormatChapterKey renders a chapter ordinal as the zero-padded two-digit
// key the device expects.
func FormatChapterKey(chapter int) string {
	if chapter < 1 {
		chapter = 1
	}
	return fmt.Sprintf("%02d", chapter)
}
