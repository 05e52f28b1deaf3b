package gateway

import (
	"context"
	"encoding/json"

	"github.com/ehrlich-b/nodehost/internal/dispatch"
)

// handleInvoke runs one invocation and sends exactly one result for it. The
// result goes back on the session the invocation arrived on; if that session
// is gone the result is logged and dropped.
func (c *Client) handleInvoke(ctx context.Context, sess *session, inv Invocation) {
	res := c.invoke(ctx, inv)
	params := resultParams(inv, res)

	sendCtx, cancel := context.WithTimeout(ctx, resultAckTimeout)
	defer cancel()
	if _, err := c.requestOn(sendCtx, sess, MethodInvokeResult, params); err != nil {
		c.logger.Warn("invocation result not delivered", "id", inv.ID, "command", inv.Command, "error", err)
	}
}

// invoke runs the handler detached from the client's lifetime: neither a dropped
// connection nor Stop interrupts it. Only the invocation's own timeoutMs does.
func (c *Client) invoke(ctx context.Context, inv Invocation) dispatch.Result {
	if c.cfg.Invoker == nil {
		return dispatch.Result{Error: dispatch.Errorf(dispatch.CodeUnknownCommand, "no commands registered")}
	}
	ctx = context.WithoutCancel(ctx)
	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	ch := make(chan dispatch.Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("invocation panicked", "id", inv.ID, "command", inv.Command, "panic", r)
				ch <- dispatch.Result{Error: dispatch.Errorf(dispatch.CodeInternal, "%v", r)}
			}
		}()
		ch <- c.cfg.Invoker.Dispatch(ctx, inv.Command, inv.Params)
	}()

	select {
	case res := <-ch:
		return res
	case <-ctx.Done():
		return dispatch.Result{Error: dispatch.Errorf(dispatch.CodeCommandError, "command timed out after %s", inv.Timeout)}
	}
}

// resultParams never panics: a payload whose MarshalJSON panics becomes an
// INTERNAL_ERROR result like any other encoding failure.
func resultParams(inv Invocation, res dispatch.Result) (p InvokeResultParams) {
	p = InvokeResultParams{ID: inv.ID, NodeID: inv.NodeID, OK: res.OK}
	defer func() {
		if r := recover(); r != nil {
			p.OK = false
			p.PayloadJSON = nil
			p.Error = dispatch.Errorf(dispatch.CodeInternal, "encode result: %v", r)
		}
	}()
	if !res.OK {
		p.Error = res.Error
		if p.Error == nil {
			p.Error = dispatch.Errorf(dispatch.CodeInternal, "command failed")
		}
		return p
	}
	if res.Payload == nil {
		return p
	}
	b, err := json.Marshal(res.Payload)
	if err != nil {
		p.OK = false
		p.Error = dispatch.Errorf(dispatch.CodeInternal, "encode result: %v", err)
		return p
	}
	s := string(b)
	p.PayloadJSON = &s
	return p
}
