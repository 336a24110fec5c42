package translation

import (
	"time"
)

// CallState is a call lifecycle state
type CallState string

const (
	StateDialing    CallState = "dialing"
	StateConnecting CallState = "connecting"
	StateActive     CallState = "active"
	StateWarning    CallState = "warning"
	StateEnding     CallState = "ending"
	StateEnded      CallState = "ended"
	StateFailed     CallState = "failed"
)

// Terminal reports whether no further transitions are possible from s
func (s CallState) Terminal() bool {
	return s == StateEnded || s == StateFailed
}

// routable reports whether inbound audio frames are accepted in s
func (s CallState) routable() bool {
	return s == StateActive || s == StateWarning
}

// CallMode selects how the local user's speech turns are delimited
type CallMode string

const (
	// ModeVoiceToVoice runs both directions hands-free
	ModeVoiceToVoice CallMode = "voice-to-voice"
	// ModeAgentPushToTalk gates the local user's speech on an explicit trigger
	ModeAgentPushToTalk CallMode = "agent-push-to-talk"
)

// Role identifies one of the two translation legs.
// Leg A carries the local user's speech toward the remote party; leg B
// carries the remote party's speech back to the local user.
type Role string

const (
	RoleA Role = "A"
	RoleB Role = "B"
)

// EndReason is the reason code reported with a terminal call outcome
type EndReason string

const (
	ReasonUserRequested       EndReason = "user_requested"
	ReasonTelephonyDisconnect EndReason = "telephony_disconnect"
	ReasonDurationExceeded    EndReason = "duration_exceeded"
	ReasonIdleTimeout         EndReason = "idle_timeout"
	ReasonSetupFailure        EndReason = "setup_failure"
	ReasonLegFailure          EndReason = "leg_failure"
)

// Call is the relay's view of one phone conversation. It is owned exclusively
// by the orchestrator; external readers get copies.
type Call struct {
	ID          string    `json:"id"`
	PhoneNumber string    `json:"phone_number"`
	SourceLang  string    `json:"source_lang"` // local user's language
	TargetLang  string    `json:"target_lang"` // remote party's language
	Mode        CallMode  `json:"mode"`
	State       CallState `json:"state"`
	Reason      EndReason `json:"reason,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	AnsweredAt  time.Time `json:"answered_at,omitempty"`
	EndedAt     time.Time `json:"ended_at,omitempty"`
}

// LegEventType discriminates events emitted by a leg's read loop
type LegEventType int

const (
	// LegEventInputTranscript carries the transcription of inbound speech
	LegEventInputTranscript LegEventType = iota
	// LegEventResponseText carries the completed translated text of a response
	LegEventResponseText
	// LegEventAudioDelta carries one chunk of synthesized audio
	LegEventAudioDelta
	// LegEventResponseDone marks the end of a response (usage recorded)
	LegEventResponseDone
	// LegEventReconnected signals a transparent reconnect; in-flight
	// utterance state must be reset
	LegEventReconnected
	// LegEventFatal signals an irrecoverable leg failure
	LegEventFatal
)

// LegEvent is one event from a leg's translation engine, normalized away
// from the provider wire format
type LegEvent struct {
	Type       LegEventType
	Role       Role
	ResponseID string
	Text       string
	Audio      []byte
	Err        error
}
