package telephony

// MediaMessage is the JSON frame exchanged on the media websocket.
//
// Inbound events: "audio" (base64 caller audio in Data), "text" (typed
// caller input in Text), "dtmf" (keypad symbol in Text).
// Outbound events: "call.started" (sent once on attach), "audio.out" (base64
// synthesized audio in Data), "cancel" (abort playback), "call.ended".
type MediaMessage struct {
	Event     string `json:"event"`
	Data      string `json:"data,omitempty"`
	Text      string `json:"text,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

const (
	EventAudio       = "audio"
	EventText        = "text"
	EventDTMF        = "dtmf"
	EventCallStarted = "call.started"
	EventAudioOut    = "audio.out"
	EventCancel      = "cancel"
	EventCallEnded   = "call.ended"
)
