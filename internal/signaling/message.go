package signaling

import "encoding/json"

// Message is the single frame shape for both directions on the signaling
// socket. Payload is opaque to the relay; WebRTC offers, answers and ICE
// candidates all ride through it untouched.
type Message struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"roomId,omitempty"`
	Role    string          `json:"role,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client to server.
const (
	MsgJoin      = "join"
	MsgSignal    = "signal"
	MsgCallEnded = "call-ended"
)

// Server to client. MsgSignal and MsgCallEnded are reused downstream.
const (
	MsgPeerReady = "peer-ready"
	MsgReplaced  = "replaced"
	MsgError     = "error"
)

func errorMessage(detail string) Message {
	payload, _ := json.Marshal(map[string]string{"error": detail})
	return Message{Type: MsgError, Payload: payload}
}
