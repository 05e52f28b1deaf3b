package identity

import (
	"strconv"
	"strings"
)

// Signed payload formats. v2 appends the gateway's challenge nonce.
const (
	PayloadV1 = "v1"
	PayloadV2 = "v2"
)

// Fixed fields of every signed payload. The gateway rebuilds the same string.
const (
	ClientID   = "node-host"
	ClientMode = "node"
)

// PayloadParams are the inputs to the handshake signature.
type PayloadParams struct {
	DeviceID   string
	Role       string
	Scopes     []string
	SignedAtMs int64
	Token      string
	Nonce      string // empty selects v1
}

// Version reports which payload format the params produce.
func (p PayloadParams) Version() string {
	if p.Nonce != "" {
		return PayloadV2
	}
	return PayloadV1
}

// BuildPayload renders the pipe-delimited string that is signed during the handshake:
//
//	version|deviceId|node-host|node|role|scopes|signedAtMs|token[|nonce]
//
// Field order is part of the protocol.
func BuildPayload(p PayloadParams) string {
	version := p.Version()
	parts := []string{
		version,
		p.DeviceID,
		ClientID,
		ClientMode,
		p.Role,
		strings.Join(p.Scopes, ","),
		strconv.FormatInt(p.SignedAtMs, 10),
		p.Token,
	}
	if version == PayloadV2 {
		parts = append(parts, p.Nonce)
	}
	return strings.Join(parts, "|")
}
