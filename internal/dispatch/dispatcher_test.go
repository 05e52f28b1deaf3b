package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/ehrlich-b/nodehost/internal/activity"
)

type fakeRecorder struct {
	mu       sync.Mutex
	started  []string
	finished map[string]activity.Outcome
}

func (f *fakeRecorder) Start(_ context.Context, command, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, command)
	return command, nil
}

func (f *fakeRecorder) Finish(_ context.Context, id string, o activity.Outcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finished == nil {
		f.finished = map[string]activity.Outcome{}
	}
	f.finished[id] = o
	return nil
}

type echoParams struct {
	Text string `json:"text"`
}

type echoResult struct {
	Echo string `json:"echo"`
}

func newTestDispatcher(t *testing.T, rec Recorder) *Dispatcher {
	t.Helper()
	reg := NewRegistry()
	err := Register(reg, "test.echo", func(_ context.Context, p echoParams) (echoResult, error) {
		return echoResult{Echo: p.Text}, nil
	}, WithSchema(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`))
	if err != nil {
		t.Fatalf("register echo: %v", err)
	}
	reg.Handle("test.fail", func(context.Context, json.RawMessage) (any, error) {
		return nil, errors.New("disk on fire")
	})
	reg.Handle("test.coded", func(context.Context, json.RawMessage) (any, error) {
		return nil, Errorf("NOT_FOUND", "no such thing")
	})
	reg.Handle("test.panic", func(context.Context, json.RawMessage) (any, error) {
		panic("handler exploded")
	})
	return NewDispatcher(Config{Registry: reg, Recorder: rec})
}

func TestDispatchSuccess(t *testing.T) {
	rec := &fakeRecorder{}
	d := newTestDispatcher(t, rec)

	res := d.Dispatch(context.Background(), "test.echo", json.RawMessage(`{"text":"hi"}`))
	if !res.OK {
		t.Fatalf("expected ok, got error %+v", res.Error)
	}
	if got, ok := res.Payload.(echoResult); !ok || got.Echo != "hi" {
		t.Errorf("payload = %#v, want echo hi", res.Payload)
	}
	if len(rec.started) != 1 || rec.started[0] != "test.echo" {
		t.Errorf("started = %v", rec.started)
	}
	o := rec.finished["test.echo"]
	if !o.OK || o.Payload != `{"echo":"hi"}` {
		t.Errorf("finish outcome = %+v", o)
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	rec := &fakeRecorder{}
	d := newTestDispatcher(t, rec)

	res := d.Dispatch(context.Background(), "nope", nil)
	if res.OK || res.Error == nil || res.Error.Code != CodeUnknownCommand {
		t.Fatalf("result = %+v, want UNKNOWN_COMMAND", res)
	}
	if len(rec.started) != 0 {
		t.Errorf("unknown command recorded activity: %v", rec.started)
	}
}

func TestDispatchHandlerErrors(t *testing.T) {
	rec := &fakeRecorder{}
	d := newTestDispatcher(t, rec)
	ctx := context.Background()

	tests := []struct {
		command string
		code    string
		message string
	}{
		{"test.fail", CodeCommandError, "disk on fire"},
		{"test.coded", "NOT_FOUND", "no such thing"},
		{"test.panic", CodeCommandError, "panic: handler exploded"},
	}
	for _, tt := range tests {
		res := d.Dispatch(ctx, tt.command, nil)
		if res.OK {
			t.Errorf("%s: expected failure", tt.command)
			continue
		}
		if res.Error.Code != tt.code || res.Error.Message != tt.message {
			t.Errorf("%s: error = %+v, want %s/%s", tt.command, res.Error, tt.code, tt.message)
		}
		o, ok := rec.finished[tt.command]
		if !ok || o.OK || o.ErrorCode != tt.code {
			t.Errorf("%s: finish outcome = %+v", tt.command, o)
		}
	}
}

func TestDispatchSchemaViolation(t *testing.T) {
	var called bool
	reg := NewRegistry()
	Register(reg, "test.strict", func(_ context.Context, p echoParams) (echoResult, error) {
		called = true
		return echoResult{}, nil
	}, WithSchema(`{"type":"object","required":["text"]}`))
	d := NewDispatcher(Config{Registry: reg})

	res := d.Dispatch(context.Background(), "test.strict", json.RawMessage(`{"other":1}`))
	if res.OK || res.Error.Code != CodeInvalidParams {
		t.Fatalf("result = %+v, want INVALID_PARAMS", res)
	}
	if called {
		t.Error("handler ran despite schema violation")
	}
}

func TestDispatchDecodeFailure(t *testing.T) {
	d := NewDispatcher(Config{Registry: NewRegistry()})
	Register(d.Registry(), "test.typed", func(_ context.Context, p echoParams) (echoResult, error) {
		return echoResult{Echo: p.Text}, nil
	})

	res := d.Dispatch(context.Background(), "test.typed", json.RawMessage(`{"text":5}`))
	if res.OK || res.Error.Code != CodeInvalidParams {
		t.Fatalf("result = %+v, want INVALID_PARAMS", res)
	}
}

func TestDispatchRateLimit(t *testing.T) {
	reg := NewRegistry()
	reg.Handle("test.ok", func(context.Context, json.RawMessage) (any, error) { return "ok", nil })
	d := NewDispatcher(Config{Registry: reg, InvocationsPerSecond: 0.001, Burst: 2})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if res := d.Dispatch(ctx, "test.ok", nil); !res.OK {
			t.Fatalf("call %d: %+v", i, res.Error)
		}
	}
	res := d.Dispatch(ctx, "test.ok", nil)
	if res.OK || res.Error.Code != CodeRateLimited {
		t.Errorf("third call = %+v, want RATE_LIMITED", res)
	}
}

func TestRegistryNames(t *testing.T) {
	reg := NewRegistry()
	for _, n := range []string{"git.status", "file.read", "file.write"} {
		reg.Handle(n, func(context.Context, json.RawMessage) (any, error) { return nil, nil })
	}
	if got, want := reg.Names(), []string{"file.read", "file.write", "git.status"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Names = %v, want %v", got, want)
	}
	if got, want := reg.Namespaces(), []string{"file", "git"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Namespaces = %v, want %v", got, want)
	}
	if err := reg.Handle("", nil); err == nil {
		t.Error("expected error for empty name")
	}
}

func TestWithSchemaRejectsBadSchema(t *testing.T) {
	reg := NewRegistry()
	err := reg.Handle("x.y", func(context.Context, json.RawMessage) (any, error) { return nil, nil }, WithSchema(`{not json`))
	if err == nil {
		t.Fatal("expected schema error")
	}
}

func TestResultEnvelopeJSON(t *testing.T) {
	ok, _ := json.Marshal(success(map[string]int{"n": 1}))
	if string(ok) != `{"ok":true,"payload":{"n":1}}` {
		t.Errorf("success JSON = %s", ok)
	}
	bad, _ := json.Marshal(failure(CodeCommandError, "x"))
	if string(bad) != `{"ok":false,"error":{"code":"COMMAND_ERROR","message":"x"}}` {
		t.Errorf("failure JSON = %s", bad)
	}
}
