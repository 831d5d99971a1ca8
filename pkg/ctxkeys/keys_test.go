package ctxkeys

import (
	"context"
	"testing"
)

func TestGetters(t *testing.T) {
	ctx := context.Background()
	if GetUserID(ctx) != "" || IsAdmin(ctx) {
		t.Fatalf("expected zero values on empty context")
	}
	ctx = context.WithValue(ctx, KeyUserID, "u-1")
	ctx = context.WithValue(ctx, KeyIsAdmin, true)
	ctx = context.WithValue(ctx, KeyRequestID, "req-1")
	if GetUserID(ctx) != "u-1" || !IsAdmin(ctx) || GetRequestID(ctx) != "req-1" {
		t.Fatalf("getters did not read typed keys")
	}
	// plain string keys must not collide with typed keys
	ctx = context.WithValue(context.Background(), "user_id", "shadow") //nolint:staticcheck
	if GetUserID(ctx) != "" {
		t.Fatalf("untyped key must not satisfy typed lookup")
	}
}
