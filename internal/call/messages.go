package call

import "encoding/json"

// CloseReason is carried in the WebSocket close frame so clients can tell
// routine teardown from rejection.
type CloseReason string

const (
	CloseUnauthenticated CloseReason = "unauthenticated"
	CloseUnauthorized    CloseReason = "unauthorized"
	CloseUnknownSession  CloseReason = "unknown_session"
	CloseSuperseded      CloseReason = "superseded"
	CloseSlowConsumer    CloseReason = "slow_consumer"
	CloseCallEnded       CloseReason = "call_ended"
)

// clientMessage is the envelope of every text message a participant sends.
// Only the type field is required; ping, mute, unmute and leave carry
// nothing else.
type clientMessage struct {
	Type string `json:"type"`
}

type pongEvent struct {
	Type string `json:"type"`
}

type muteStatusEvent struct {
	Type    string `json:"type"`
	UserID  string `json:"user_id"`
	IsMuted bool   `json:"is_muted"`
}

type participantJoinedEvent struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	JoinedAt int64  `json:"joined_at"`
}

type participantLeftEvent struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	LeftAt int64  `json:"left_at"`
}

type callEndedEvent struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type interimTranscriptEvent struct {
	Type      string `json:"type"`
	SpeakerID string `json:"speaker_id"`
	Text      string `json:"text"`
	Language  string `json:"language"`
	IsFinal   bool   `json:"is_final"`
}

type translationEvent struct {
	Type           string `json:"type"`
	SpeakerID      string `json:"speaker_id"`
	SourceText     string `json:"source_text"`
	TranslatedText string `json:"translated_text"`
	SourceLang     string `json:"source_lang"`
	TargetLang     string `json:"target_lang"`
	TimestampMS    int64  `json:"timestamp_ms"`
	IsFinal        bool   `json:"is_final"`
	Degraded       bool   `json:"degraded,omitempty"`
}

type errorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// mustJSON marshals an event struct. The event types above only carry
// plain fields so marshalling cannot fail.
func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
