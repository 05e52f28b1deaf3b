package gateway

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseInvocation(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		ok      bool
		params  string
		timeout time.Duration
	}{
		{"paramsJSON string", `{"id":"i1","nodeId":"n1","command":"file.read","paramsJSON":"{\"path\":\"a\"}"}`, true, `{"path":"a"}`, 0},
		{"structured params", `{"id":"i1","nodeId":"n1","command":"file.read","params":{"path":"a"}}`, true, `{"path":"a"}`, 0},
		{"paramsJSON wins", `{"id":"i1","nodeId":"n1","command":"x","paramsJSON":"{\"a\":1}","params":{"b":2}}`, true, `{"a":1}`, 0},
		{"null paramsJSON falls back", `{"id":"i1","nodeId":"n1","command":"x","paramsJSON":null,"params":{"b":2}}`, true, `{"b":2}`, 0},
		{"bad paramsJSON", `{"id":"i1","nodeId":"n1","command":"x","paramsJSON":"{not json"}`, true, `{}`, 0},
		{"no params", `{"id":"i1","nodeId":"n1","command":"x"}`, true, `{}`, 0},
		{"timeout", `{"id":"i1","nodeId":"n1","command":"x","timeoutMs":1500}`, true, `{}`, 1500 * time.Millisecond},
		{"negative timeout", `{"id":"i1","nodeId":"n1","command":"x","timeoutMs":-5}`, true, `{}`, 0},
		{"missing id", `{"nodeId":"n1","command":"x"}`, false, "", 0},
		{"missing nodeId", `{"id":"i1","command":"x"}`, false, "", 0},
		{"blank command", `{"id":"i1","nodeId":"n1","command":"  "}`, false, "", 0},
		{"numeric id", `{"id":7,"nodeId":"n1","command":"x"}`, false, "", 0},
		{"not an object", `"hello"`, false, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, ok := parseInvocation(json.RawMessage(tt.payload))
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if string(inv.Params) != tt.params {
				t.Errorf("params = %s, want %s", inv.Params, tt.params)
			}
			if inv.Timeout != tt.timeout {
				t.Errorf("timeout = %v, want %v", inv.Timeout, tt.timeout)
			}
		})
	}
}

func TestIsAccepted(t *testing.T) {
	if !isAccepted(json.RawMessage(`{"status":"accepted"}`)) {
		t.Error("accepted payload not detected")
	}
	for _, p := range []string{``, `{}`, `{"status":"done"}`, `[1]`, `null`} {
		if isAccepted(json.RawMessage(p)) {
			t.Errorf("isAccepted(%q) = true", p)
		}
	}
}

func TestFrameKind(t *testing.T) {
	var f Frame
	if err := json.Unmarshal([]byte(`{"event":"connect.challenge","payload":{"nonce":"n"}}`), &f); err != nil {
		t.Fatal(err)
	}
	if !f.isEvent() || f.isResponse() {
		t.Errorf("untyped event frame misclassified")
	}
	f = Frame{}
	if err := json.Unmarshal([]byte(`{"id":"r1","ok":true}`), &f); err != nil {
		t.Fatal(err)
	}
	if f.isEvent() || !f.isResponse() {
		t.Errorf("untyped response frame misclassified")
	}
}

func TestResultParams(t *testing.T) {
	inv := Invocation{ID: "i1", NodeID: "n1", Command: "x"}

	p := resultParams(inv, dispatchOK(map[string]int{"a": 1}))
	if !p.OK || p.PayloadJSON == nil || *p.PayloadJSON != `{"a":1}` || p.Error != nil {
		t.Errorf("ok result = %+v", p)
	}

	p = resultParams(inv, dispatchOK(nil))
	if !p.OK || p.PayloadJSON != nil {
		t.Errorf("empty result = %+v", p)
	}

	p = resultParams(inv, dispatchOK(make(chan int)))
	if p.OK || p.Error == nil || p.Error.Code != "INTERNAL_ERROR" {
		t.Errorf("unserializable result = %+v", p)
	}

	p = resultParams(inv, dispatchOK(explodingPayload{}))
	if p.OK || p.PayloadJSON != nil || p.Error == nil || p.Error.Code != "INTERNAL_ERROR" {
		t.Errorf("panicking payload = %+v", p)
	}

	b, _ := json.Marshal(resultParams(inv, dispatchOK(nil)))
	if string(b) != `{"id":"i1","nodeId":"n1","ok":true}` {
		t.Errorf("wire = %s", b)
	}
}
