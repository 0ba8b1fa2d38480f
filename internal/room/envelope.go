package room

import "github.com/interpres-live/interpres/pkg/types"

// Envelope is the framed message sent to connected peers. Seq increases per
// broadcast event within a room so clients can detect gaps after reconnect.
type Envelope struct {
	Type    string `json:"type"`
	Seq     uint64 `json:"seq"`
	Payload any    `json:"payload,omitempty"`
}

// Envelope types.
const (
	TypeHello    = "hello"
	TypeSnapshot = "snapshot"
	TypePatch    = "patch"
	TypeTTS      = "tts"
	TypeAdvisory = "advisory"
	TypeError    = "error"
)

// HelloPayload greets a freshly attached peer.
type HelloPayload struct {
	Room        string     `json:"room"`
	ListenerID  string     `json:"listenerId"`
	Role        types.Role `json:"role"`
	Lang        string     `json:"lang,omitempty"`
	TargetLangs []string   `json:"targetLangs"`
}

// SnapshotPayload carries the room's retained segments for a late joiner:
// hard segments in unit order, then the soft head.
type SnapshotPayload struct {
	Room     string          `json:"room"`
	Lang     string          `json:"lang,omitempty"`
	Segments []types.Segment `json:"segments"`
}

// TTSPayload carries one synthesized utterance. Audio is base64-encoded by
// JSON marshalling. When the server transcodes 48 kHz PCM to Opus, Audio is
// empty and Packets holds the individual Opus frames instead.
type TTSPayload struct {
	UnitID     string   `json:"unitId"`
	Lang       string   `json:"lang"`
	Format     string   `json:"format"`
	DurationMs int      `json:"durationMs"`
	Audio      []byte   `json:"audio,omitempty"`
	Packets    [][]byte `json:"packets,omitempty"`
}

// AdvisoryPayload carries operational advisories to speakers and admins.
type AdvisoryPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// AdvisoryRestartCapture asks the speaker client to restart its capture
// pipeline after dual-stream silence.
const AdvisoryRestartCapture = "restart_capture"
