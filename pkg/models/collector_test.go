package models

import "testing"

func TestStateTransitions(t *testing.T) {
	cases := []struct {
		from, to State
		ok       bool
	}{
		{StatePending, StateVerifying, true},
		{StatePending, StateInvalid, true},
		{StateVerifying, StateActive, true},
		{StateVerifying, StateInvalid, true},
		{StateInvalid, StateVerifying, true},
		{StateInvalid, StateActive, false},
		{StateActive, StateInvalid, false},
		{StateActive, StateVerifying, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.ok {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.ok, got)
		}
	}
	if err := CheckTransition(StatePending, "bogus"); err == nil {
		t.Fatalf("expected error for unknown state")
	}
}

func TestJSONBScan(t *testing.T) {
	var j JSONB
	if err := j.Scan([]byte(`{"api_key":"k","fail_verify":true}`)); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if j.String("api_key") != "k" || !j.Bool("fail_verify") {
		t.Fatalf("unexpected contents: %v", j)
	}
	if err := j.Scan(nil); err != nil || len(j) != 0 {
		t.Fatalf("nil scan should yield empty map")
	}
	if err := j.Scan(42); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
}

func TestJSONBCloneIsDeep(t *testing.T) {
	orig := JSONB{"nested": map[string]interface{}{"a": "b"}}
	cp := orig.Clone()
	cp["nested"].(map[string]interface{})["a"] = "changed"
	if orig["nested"].(map[string]interface{})["a"] != "b" {
		t.Fatalf("clone shares nested maps")
	}
}

func TestSourcesOf(t *testing.T) {
	got := SourcesOf(StateVerifying)
	want := []State{StatePending, StateVerifying, StateInvalid}
	if len(got) != len(want) {
		t.Fatalf("SourcesOf(verifying) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("SourcesOf(verifying) = %v, want %v", got, want)
		}
	}
	if len(SourcesOf(StatePending)) != 0 {
		t.Fatal("nothing may move back to pending")
	}
}
