package taskflow

import (
	"context"
	"errors"
	"testing"

	"billingstack/pkg/logging"
)

func testLogger() logging.Logger { return logging.NewTestLogger() }

func noop(context.Context, Store) (Store, error) { return nil, nil }

func TestTaskName(t *testing.T) {
	cases := []struct {
		prefix, suffix, want string
	}{
		{"", "", "collector:create"},
		{"pg_config", "", "collector:pg_config_create"},
		{"pg_config", "entry", "collector:pg_config_create_entry"},
	}
	for _, tc := range cases {
		if got := TaskName("collector", "create", tc.prefix, tc.suffix); got != tc.want {
			t.Fatalf("expected %s, got %s", tc.want, got)
		}
	}
}

func TestNewTaskValidation(t *testing.T) {
	cases := []struct {
		name string
		spec TaskSpec
	}{
		{"missing kind", TaskSpec{Namespace: "n", Run: noop}},
		{"no run", TaskSpec{Namespace: "n", Kind: "k"}},
		{"both run forms", TaskSpec{Namespace: "n", Kind: "k", Run: noop, Provides: []string{"a"},
			RunValue: func(context.Context, Store) (any, error) { return nil, nil }}},
		{"value form with two keys", TaskSpec{Namespace: "n", Kind: "k", Provides: []string{"a", "b"},
			RunValue: func(context.Context, Store) (any, error) { return nil, nil }}},
		{"duplicate requires", TaskSpec{Namespace: "n", Kind: "k", Run: noop, Requires: []string{"a", "a"}}},
		{"empty provides key", TaskSpec{Namespace: "n", Kind: "k", Run: noop, Provides: []string{""}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewTask(tc.spec); !errors.Is(err, ErrInvalidTask) {
				t.Fatalf("expected ErrInvalidTask, got %v", err)
			}
		})
	}
}

func TestTaskDeclarationsAreCopies(t *testing.T) {
	requires := []string{"a"}
	task := MustTask(TaskSpec{Namespace: "n", Kind: "k", Requires: requires, Run: noop})
	requires[0] = "mutated"
	task.Requires()[0] = "mutated"
	if task.Requires()[0] != "a" {
		t.Fatalf("task declarations must not change after construction")
	}
}

func TestValueHelper(t *testing.T) {
	s := Store{"n": 3}
	if v, err := Value[int](s, "n"); err != nil || v != 3 {
		t.Fatalf("expected 3, got %v %v", v, err)
	}
	if _, err := Value[string](s, "n"); err == nil {
		t.Fatalf("expected type mismatch error")
	}
	if _, err := Value[int](s, "missing"); err == nil {
		t.Fatalf("expected missing key error")
	}
}
