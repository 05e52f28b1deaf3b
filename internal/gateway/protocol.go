package gateway

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/ehrlich-b/nodehost/internal/dispatch"
)

// ProtocolVersion is the only gateway protocol version this node speaks.
const ProtocolVersion = 3

// Frame types.
const (
	TypeRequest  = "req"
	TypeResponse = "res"
	TypeEvent    = "event"
)

// Methods and events.
const (
	MethodConnect      = "connect"              // node → gateway, handshake
	MethodInvokeResult = "node.invoke.result"   // node → gateway, result of an invocation
	EventChallenge     = "connect.challenge"    // gateway → node, carries payload.nonce
	EventInvokeRequest = "node.invoke.request"  // gateway → node, command invocation
	StatusAccepted     = "accepted"             // non-terminal response payload.status
	RoleNode           = "node"
)

// Frame is any inbound frame. Responses carry ID/OK/Payload/Error, events carry Event/Payload.
type Frame struct {
	Type    string          `json:"type,omitempty"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *FrameError     `json:"error,omitempty"`
	Event   string          `json:"event,omitempty"`
}

// FrameError is the error object of a failed response.
type FrameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (f *Frame) isEvent() bool {
	return f.Type == TypeEvent || (f.Type == "" && f.Event != "")
}

func (f *Frame) isResponse() bool {
	return f.Type == TypeResponse || (f.Type == "" && f.ID != "")
}

// RequestFrame is an outbound request.
type RequestFrame struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// ConnectParams are the params of the handshake request.
type ConnectParams struct {
	MinProtocol int         `json:"minProtocol"`
	MaxProtocol int         `json:"maxProtocol"`
	Client      ClientInfo  `json:"client"`
	Caps        []string    `json:"caps"`
	Commands    []string    `json:"commands"`
	Auth        *AuthInfo   `json:"auth,omitempty"`
	Role        string      `json:"role"`
	Scopes      []string    `json:"scopes"`
	Device      *DeviceInfo `json:"device,omitempty"`
}

type ClientInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Version     string `json:"version"`
	Platform    string `json:"platform"`
	Mode        string `json:"mode"`
	InstanceID  string `json:"instanceId"`
}

type AuthInfo struct {
	Token string `json:"token,omitempty"`
}

// DeviceInfo proves possession of the device key. Nonce is set only for v2 signatures.
type DeviceInfo struct {
	ID        string `json:"id"`
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
	SignedAt  int64  `json:"signedAt"`
	Nonce     string `json:"nonce,omitempty"`
}

type challengePayload struct {
	Nonce string `json:"nonce"`
}

// Invocation is a normalized node.invoke.request event.
type Invocation struct {
	ID      string
	NodeID  string
	Command string
	Params  json.RawMessage
	Timeout time.Duration
}

// InvokeResultParams are the params of a node.invoke.result request.
type InvokeResultParams struct {
	ID          string          `json:"id"`
	NodeID      string          `json:"nodeId"`
	OK          bool            `json:"ok"`
	PayloadJSON *string         `json:"payloadJSON,omitempty"`
	Error       *dispatch.Error `json:"error,omitempty"`
}

var emptyParams = json.RawMessage("{}")

// parseInvocation normalizes an invocation payload. ok is false when id, nodeId
// or command is missing, in which case the frame must be dropped without a reply.
func parseInvocation(payload json.RawMessage) (inv Invocation, ok bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return inv, false
	}
	inv.ID = stringField(fields["id"])
	inv.NodeID = stringField(fields["nodeId"])
	inv.Command = stringField(fields["command"])
	if inv.ID == "" || inv.NodeID == "" || inv.Command == "" {
		return inv, false
	}

	inv.Params = emptyParams
	if raw, ok := fields["paramsJSON"]; ok && !isNull(raw) {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			inv.Params = objectOrEmpty([]byte(s))
		} else {
			inv.Params = objectOrEmpty(raw)
		}
	} else if raw, ok := fields["params"]; ok {
		inv.Params = objectOrEmpty(raw)
	}

	if raw, ok := fields["timeoutMs"]; ok {
		var ms float64
		if err := json.Unmarshal(raw, &ms); err == nil && ms > 0 {
			inv.Timeout = time.Duration(ms * float64(time.Millisecond))
		}
	}
	return inv, true
}

func stringField(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

// objectOrEmpty keeps well-formed, non-null JSON and degrades everything else to {}.
func objectOrEmpty(raw []byte) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || !json.Valid(raw) || string(raw) == "null" {
		return emptyParams
	}
	return json.RawMessage(raw)
}

func isAccepted(payload json.RawMessage) bool {
	if len(payload) == 0 {
		return false
	}
	var p struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return false
	}
	return p.Status == StatusAccepted
}
