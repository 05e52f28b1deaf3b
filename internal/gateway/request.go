package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Request sends method to the gateway and waits for its definitive response.
// It fails immediately with ErrNotConnected when no connection is open, and
// with a *ClosedError or ErrClientStopped if the connection goes away first.
func (c *Client) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return nil, ErrNotConnected
	}
	return c.requestOn(ctx, sess, method, params)
}

func (c *Client) requestOn(ctx context.Context, sess *session, method string, params any) (json.RawMessage, error) {
	id := uuid.NewString()
	frame := RequestFrame{Type: TypeRequest, ID: id, Method: method, Params: params}

	ch := make(chan response, 1)
	c.mu.Lock()
	if c.sess != sess || sess == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := sess.writeJSON(ctx, frame); err != nil {
		if c.takePending(id) {
			return nil, fmt.Errorf("send %s: %w", method, err)
		}
		r := <-ch
		return r.payload, r.err
	}

	select {
	case r := <-ch:
		return r.payload, r.err
	case <-ctx.Done():
		if c.takePending(id) {
			return nil, ctx.Err()
		}
		r := <-ch
		return r.payload, r.err
	}
}

// takePending removes id and reports whether the caller now owns its settlement.
func (c *Client) takePending(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; !ok {
		return false
	}
	delete(c.pending, id)
	return true
}

// failPendingLocked settles every outstanding request with err. c.mu must be held.
func (c *Client) failPendingLocked(err error) {
	for id, ch := range c.pending {
		ch <- response{err: err}
		delete(c.pending, id)
	}
}

// PendingCount reports the number of requests awaiting a response.
func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Client) handleResponse(f *Frame) {
	if isAccepted(f.Payload) {
		c.logger.Debug("request accepted", "id", f.ID)
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[f.ID]
	if ok {
		delete(c.pending, f.ID)
	}
	c.mu.Unlock()
	if !ok {
		// late or duplicate response
		c.logger.Debug("response for unknown request", "id", f.ID)
		return
	}

	if f.OK != nil && *f.OK {
		ch <- response{payload: f.Payload}
		return
	}
	rerr := &RequestError{Message: "request failed"}
	if f.Error != nil {
		rerr.Code = f.Error.Code
		if f.Error.Message != "" {
			rerr.Message = f.Error.Message
		}
	}
	ch <- response{err: rerr}
}
