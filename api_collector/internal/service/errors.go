package service

import (
	"errors"
	"fmt"

	"billingstack/api_collector/internal/provider"
	"billingstack/api_collector/internal/store"
	"billingstack/pkg/clients"
)

// Error kinds shared by the HTTP and RPC transports.
const (
	KindNotFound        = "not_found"
	KindDuplicate       = "duplicate"
	KindReferenced      = "referenced"
	KindInvalidState    = "invalid_state"
	KindInvalidConfig   = "invalid_configuration"
	KindBadRequest      = "bad_request"
	KindInvalidArgument = "invalid_argument"
	KindForbidden       = "forbidden"
	KindNotSupported    = "not_supported"
	KindUnavailable     = "unavailable"
	KindInternal        = "internal"
)

// Classify maps an error returned by the service to its kind.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, store.ErrNotFound), errors.Is(err, provider.ErrNotFound):
		return KindNotFound
	case errors.Is(err, store.ErrDuplicate):
		return KindDuplicate
	case errors.Is(err, store.ErrReferenced):
		return KindReferenced
	case errors.Is(err, store.ErrInvalidTransition), errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case provider.IsConfigurationError(err):
		return KindInvalidConfig
	case provider.IsBadRequest(err):
		return KindBadRequest
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, store.ErrInvalidRecord):
		return KindInvalidArgument
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, provider.ErrNotSupported):
		return KindNotSupported
	case clients.IsGuardError(err):
		return KindUnavailable
	}
	return KindInternal
}

// FromKind rebuilds an error that Classify maps back to kind.
func FromKind(kind, msg string) error {
	switch kind {
	case KindNotFound:
		return fmt.Errorf("%w: %s", store.ErrNotFound, msg)
	case KindDuplicate:
		return fmt.Errorf("%w: %s", store.ErrDuplicate, msg)
	case KindReferenced:
		return fmt.Errorf("%w: %s", store.ErrReferenced, msg)
	case KindInvalidState:
		return fmt.Errorf("%w: %s", ErrInvalidState, msg)
	case KindInvalidConfig:
		return &provider.ConfigurationError{Provider: "remote", Msg: msg}
	case KindBadRequest:
		return &provider.BadRequestError{Provider: "remote", Msg: msg}
	case KindInvalidArgument:
		return fmt.Errorf("%w: %s", ErrInvalidArgument, msg)
	case KindForbidden:
		return fmt.Errorf("%w: %s", ErrForbidden, msg)
	case KindNotSupported:
		return fmt.Errorf("%w: %s", provider.ErrNotSupported, msg)
	}
	return nil
}
