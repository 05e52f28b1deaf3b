package gateway

import (
	"context"
	"time"

	"github.com/coder/websocket"
	"github.com/ehrlich-b/nodehost/internal/identity"
	"github.com/google/uuid"
)

// sendHandshake fires the connect request at most once per session, whether the
// challenge event or the challenge-wait timer gets here first.
func (c *Client) sendHandshake(ctx context.Context, sess *session, nonce string) {
	sent := false
	sess.handshakeOnce.Do(func() {
		sent = true
		go c.handshake(ctx, sess, nonce)
	})
	if !sent {
		c.logger.Debug("handshake already sent", "challenge", nonce != "")
	}
}

func (c *Client) handshake(ctx context.Context, sess *session, nonce string) {
	params := c.connectParams(nonce, time.Now())
	if _, err := c.requestOn(ctx, sess, MethodConnect, params); err != nil {
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("gateway handshake failed", "error", err)
		sess.conn.Close(websocket.StatusPolicyViolation, "connect failed")
		return
	}

	c.mu.Lock()
	live := c.sess == sess
	if live {
		c.backoff.Reset()
	}
	c.mu.Unlock()
	if live {
		c.transition(sess, StateConnected)
	}
}

func (c *Client) connectParams(nonce string, now time.Time) ConnectParams {
	caps := c.cfg.Caps
	if caps == nil {
		caps = []string{}
	}
	commands := []string{}
	if c.cfg.Invoker != nil {
		commands = append(commands, c.cfg.Invoker.Commands()...)
	}
	scopes := []string{}

	p := ConnectParams{
		MinProtocol: ProtocolVersion,
		MaxProtocol: ProtocolVersion,
		Client: ClientInfo{
			ID:          identity.ClientID,
			DisplayName: c.cfg.DisplayName,
			Version:     c.cfg.Version,
			Platform:    hostPlatform(),
			Mode:        identity.ClientMode,
			InstanceID:  uuid.NewString(),
		},
		Caps:     caps,
		Commands: commands,
		Role:     RoleNode,
		Scopes:   scopes,
	}
	if c.cfg.Token != "" {
		p.Auth = &AuthInfo{Token: c.cfg.Token}
	}

	if id := c.cfg.Identity; id != nil {
		signedAt := now.UnixMilli()
		payload := identity.BuildPayload(identity.PayloadParams{
			DeviceID:   id.DeviceID,
			Role:       RoleNode,
			Scopes:     scopes,
			SignedAtMs: signedAt,
			Token:      c.cfg.Token,
			Nonce:      nonce,
		})
		p.Device = &DeviceInfo{
			ID:        id.DeviceID,
			PublicKey: id.PublicKeyBase64URL(),
			Signature: id.Sign(payload),
			SignedAt:  signedAt,
			Nonce:     nonce,
		}
	}
	return p
}
