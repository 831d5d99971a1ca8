package service

import (
	"errors"
	"fmt"
	"testing"

	"billingstack/api_collector/internal/provider"
	"billingstack/api_collector/internal/store"
	"billingstack/pkg/clients"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("load: %w", store.ErrNotFound), KindNotFound},
		{provider.ErrNotFound, KindNotFound},
		{store.ErrDuplicate, KindDuplicate},
		{store.ErrReferenced, KindReferenced},
		{fmt.Errorf("%w: x", store.ErrInvalidTransition), KindInvalidState},
		{&provider.ConfigurationError{Provider: "stripe", Msg: "bad key"}, KindInvalidConfig},
		{&provider.BadRequestError{Provider: "stripe", Msg: "declined"}, KindBadRequest},
		{store.ErrInvalidRecord, KindInvalidArgument},
		{ErrForbidden, KindForbidden},
		{provider.ErrNotSupported, KindNotSupported},
		{clients.ErrCircuitOpen, KindUnavailable},
		{errors.New("boom"), KindInternal},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Errorf("Classify(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestFromKindClassifiesBack(t *testing.T) {
	for _, kind := range []string{
		KindNotFound, KindDuplicate, KindReferenced, KindInvalidState, KindInvalidConfig,
		KindBadRequest, KindInvalidArgument, KindForbidden, KindNotSupported,
	} {
		err := FromKind(kind, "remote said no")
		if err == nil {
			t.Fatalf("FromKind(%s) returned nil", kind)
		}
		if got := Classify(err); got != kind {
			t.Errorf("Classify(FromKind(%s)) = %s", kind, got)
		}
	}
	if FromKind(KindInternal, "x") != nil {
		t.Fatalf("internal errors have no local equivalent")
	}
}
