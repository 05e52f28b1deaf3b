// Package dispatch maps command names to handlers and turns every call into a
// uniform result envelope. It never returns an error to its caller: unknown
// commands, bad params, handler errors and handler panics all become a
// structured failure.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ehrlich-b/nodehost/internal/activity"
	"golang.org/x/time/rate"
)

// Result is the envelope returned for every dispatched command.
type Result struct {
	OK      bool   `json:"ok"`
	Payload any    `json:"payload,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

func success(payload any) Result {
	return Result{OK: true, Payload: payload}
}

func failure(code, message string) Result {
	return Result{OK: false, Error: &Error{Code: code, Message: message}}
}

// Recorder receives activity side effects. *activity.Store implements it.
type Recorder interface {
	Start(ctx context.Context, command, params string) (string, error)
	Finish(ctx context.Context, id string, o activity.Outcome) error
}

type Config struct {
	Registry *Registry
	Recorder Recorder // nil disables activity recording
	Logger   *slog.Logger

	// InvocationsPerSecond limits dispatch throughput; zero means unlimited.
	InvocationsPerSecond float64
	Burst                int
}

type Dispatcher struct {
	reg      *Registry
	recorder Recorder
	limiter  *rate.Limiter
	logger   *slog.Logger
}

func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	d := &Dispatcher{
		reg:      cfg.Registry,
		recorder: cfg.Recorder,
		logger:   cfg.Logger.With("component", "dispatch"),
	}
	if cfg.InvocationsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = int(cfg.InvocationsPerSecond) + 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(cfg.InvocationsPerSecond), burst)
	}
	return d
}

// Commands lists the registered command names.
func (d *Dispatcher) Commands() []string {
	return d.reg.Names()
}

// Registry exposes the underlying registry.
func (d *Dispatcher) Registry() *Registry {
	return d.reg
}

// Dispatch runs command with params and returns its envelope.
func (d *Dispatcher) Dispatch(ctx context.Context, command string, params json.RawMessage) Result {
	e, ok := d.reg.lookup(command)
	if !ok {
		return failure(CodeUnknownCommand, fmt.Sprintf("unknown command: %s", command))
	}
	if d.limiter != nil && !d.limiter.Allow() {
		d.logger.Warn("invocation rate limited", "command", command)
		return failure(CodeRateLimited, "too many invocations, retry later")
	}
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}

	activityID := d.recordStart(ctx, command, params)
	started := time.Now()

	res := d.call(ctx, e, command, params)

	d.recordFinish(ctx, activityID, res, time.Since(started))
	if !res.OK {
		d.logger.Debug("command failed", "command", command, "code", res.Error.Code, "error", res.Error.Message)
	}
	return res
}

func (d *Dispatcher) call(ctx context.Context, e entry, command string, params json.RawMessage) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("command panicked", "command", command, "panic", r)
			res = failure(CodeCommandError, fmt.Sprintf("panic: %v", r))
		}
	}()

	if e.schema != nil {
		if err := validate(e.schema, params); err != nil {
			return errorResult(err)
		}
	}
	payload, err := e.handler(ctx, params)
	if err != nil {
		return errorResult(err)
	}
	return success(payload)
}

func errorResult(err error) Result {
	var de *Error
	if errors.As(err, &de) && de.Code != "" {
		return Result{OK: false, Error: de}
	}
	return failure(CodeCommandError, err.Error())
}

func (d *Dispatcher) recordStart(ctx context.Context, command string, params json.RawMessage) string {
	if d.recorder == nil {
		return ""
	}
	id, err := d.recorder.Start(context.WithoutCancel(ctx), command, string(params))
	if err != nil {
		d.logger.Warn("record activity start", "command", command, "error", err)
		return ""
	}
	return id
}

func (d *Dispatcher) recordFinish(ctx context.Context, id string, res Result, elapsed time.Duration) {
	if d.recorder == nil || id == "" {
		return
	}
	o := activity.Outcome{OK: res.OK, Duration: elapsed}
	if res.OK {
		if b, err := json.Marshal(res.Payload); err == nil {
			o.Payload = string(b)
		}
	} else {
		o.ErrorCode = res.Error.Code
		o.Error = res.Error.Message
	}
	if err := d.recorder.Finish(context.WithoutCancel(ctx), id, o); err != nil {
		d.logger.Warn("record activity finish", "id", id, "error", err)
	}
}
