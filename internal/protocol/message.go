// Package protocol defines the JSON wire messages exchanged over the
// signaling connection. Both the hub and the client speak this envelope.
package protocol

// Message types carried in the "type" field.
const (
	TypeCreateRoom      = "createRoom"
	TypeRoomCreated     = "roomCreated"
	TypeJoinRoom        = "joinRoom"
	TypeJoinByPin       = "joinByPin"
	TypeRoomNotFound    = "roomNotFound"
	TypeRoomFull        = "roomFull"
	TypeGetParticipants = "getParticipants"
	TypeParticipants    = "participants"
	TypeUserJoined      = "userJoined"
	TypeUserLeft        = "userLeft"
	TypeTrackState      = "trackStateChange"
	TypeChat            = "chat"
	TypeTTSStatus       = "TTSStatus"
	TypeTranscription   = "transcription"
	TypeTranscriptionRq = "transcriptionRequest"
	TypeError           = "error"

	// Targeted SDP relay between two participants of a room.
	TypeWebRTCOffer  = "webrtcOffer"
	TypeWebRTCAnswer = "webrtcAnswer"
)

// ParticipantInfo is the read-only participant view sent to clients.
type ParticipantInfo struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// Message is the single envelope for every signaling frame. Fields are
// omitted when empty; which fields are meaningful depends on Type.
// Every room-scoped message carries RoomID, every participant-scoped
// message carries UserID.
type Message struct {
	Type string `json:"type"`

	RoomID   string `json:"roomId,omitempty"`
	RoomName string `json:"roomName,omitempty"`
	Pin      string `json:"pin,omitempty"`
	MaxUsers int    `json:"maxParticipants,omitempty"`

	UserID       string `json:"userId,omitempty"`
	UserName     string `json:"userName,omitempty"`
	TargetUserID string `json:"targetUserId,omitempty"`

	// trackStateChange fields.
	TrackKind string `json:"trackKind,omitempty"`
	Enabled   *bool  `json:"enabled,omitempty"`

	// chat / transcription fields.
	Text      string `json:"text,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`

	// transcriptionRequest payload: base64-encoded WAV.
	Audio string `json:"audio,omitempty"`

	// TTSStatus payload.
	Active *bool `json:"active,omitempty"`

	// webrtcOffer / webrtcAnswer payload.
	SDP string `json:"sdp,omitempty"`

	Participants []ParticipantInfo `json:"participants,omitempty"`

	Error string `json:"error,omitempty"`
}

// Bool is a helper for the optional bool fields.
func Bool(v bool) *bool { return &v }
