package core

import (
	"bytes"
	"encoding/json"
)

// CommandEnvelope is the wire form of a command: an action name plus opaque params.
type CommandEnvelope struct {
	Action string          `json:"action"`
	Params json.RawMessage `json:"params,omitempty"`
}

// LocalRequest is one line sent by a local client.
type LocalRequest struct {
	ID          string          `json:"id"`
	Command     CommandEnvelope `json:"command"`
	TargetTabID *int            `json:"targetTabId,omitempty"`
	SessionID   string          `json:"sessionId,omitempty"`
}

// LocalResponse answers exactly one LocalRequest.
type LocalResponse struct {
	ID      string          `json:"id"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *ProtocolError  `json:"error,omitempty"`
}

// Fail builds a failed LocalResponse for id.
func Fail(id string, perr *ProtocolError) LocalResponse {
	return LocalResponse{ID: id, Success: false, Error: perr}
}

// Peer message kinds carried in the "type" field.
const (
	KindHandshake    = "handshake"
	KindHandshakeAck = "handshake_ack"
	KindPing         = "ping"
	KindPong         = "pong"
	KindRequest      = "request"
	KindResponse     = "response"
	KindEvent        = "event"
)

// ProtocolVersion is announced in handshake_ack and compared against the peer's.
const ProtocolVersion = 1

// PeerMessage is the union of every frame exchanged with a browser peer.
// Fields irrelevant to Type are left empty.
type PeerMessage struct {
	Type string `json:"type"`

	// handshake / handshake_ack
	Version   int    `json:"version,omitempty"`
	PeerID    string `json:"peerId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`

	// request / response
	ID          string           `json:"id,omitempty"`
	Command     *CommandEnvelope `json:"command,omitempty"`
	TargetTabID *int             `json:"targetTabId,omitempty"`
	Success     *bool            `json:"success,omitempty"`
	Data        json.RawMessage  `json:"data,omitempty"`
	Error       *ProtocolError   `json:"error,omitempty"`

	// event
	Event string `json:"event,omitempty"`
	TabID *int   `json:"tabId,omitempty"`

	// ping / pong / event
	Timestamp int64 `json:"timestamp,omitempty"`
}

// PeerRequest converts a validated local request into its peer form.
func PeerRequest(req LocalRequest) PeerMessage {
	cmd := req.Command
	return PeerMessage{
		Type:        KindRequest,
		ID:          req.ID,
		Command:     &cmd,
		TargetTabID: req.TargetTabID,
	}
}

// LocalFromPeer copies a peer response into the local response shape, keeping
// id. A response without success is a protocol error, and a null payload is dropped.
func LocalFromPeer(id string, msg PeerMessage) LocalResponse {
	if msg.Success == nil {
		return Fail(id, Errorf(CodeProtocolError, "peer response missing success"))
	}
	resp := LocalResponse{ID: id, Success: *msg.Success, Data: msg.Data, Error: msg.Error}
	if bytes.Equal(bytes.TrimSpace(resp.Data), []byte("null")) {
		resp.Data = nil
	}
	if !resp.Success && resp.Error == nil {
		resp.Error = Errorf(CodeProtocolError, "peer reported failure without an error")
	}
	return resp
}

// StatusRequest is the internal request answered without validation.
type StatusRequest struct {
	Type  string `json:"type"`
	Limit int    `json:"limit,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

// Internal request types.
const (
	InternalStatus = "status"
	InternalEvents = "events"
)

// SessionInfo describes one live peer connection.
type SessionInfo struct {
	SessionID   string `json:"sessionId"`
	PeerID      string `json:"peerId"`
	ConnectedAt int64  `json:"connectedAt"`
	LastPongAt  int64  `json:"lastPongAt"`
	Pending     int    `json:"pending"`
}

// DaemonStatus is the reply to an internal status request.
type DaemonStatus struct {
	Type       string        `json:"type"`
	PID        int           `json:"pid"`
	InstanceID string        `json:"instanceId"`
	Version    string        `json:"version"`
	StartedAt  int64         `json:"startedAt"`
	SocketPath string        `json:"socketPath"`
	PeerAddr   string        `json:"peerAddr"`
	Sessions   []SessionInfo `json:"sessions"`
}

// Event is one entry of the peer event ring buffer.
type Event struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Data      json.RawMessage `json:"data,omitempty"`
	TabID     *int            `json:"tabId,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// EventsReply is the reply to an internal events request.
type EventsReply struct {
	Type   string  `json:"type"`
	Events []Event `json:"events"`
}
