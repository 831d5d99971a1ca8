// Package rpcapi exposes the collector service over the NATS request/reply
// transport in pkg/rpc.
package rpcapi

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"billingstack/api_collector/internal/service"
	"billingstack/pkg/models"
	"billingstack/pkg/rpc"
)

// Method names.
const (
	MethodCreatePGConfig      = "create_pg_config"
	MethodGetPGConfig         = "get_pg_config"
	MethodListPGConfigs       = "list_pg_configs"
	MethodDeletePGConfig      = "delete_pg_config"
	MethodRetryPGConfig       = "retry_pg_config"
	MethodCancelPGConfig      = "cancel_pg_config"
	MethodCreatePaymentMethod = "create_payment_method"
	MethodGetPaymentMethod    = "get_payment_method"
	MethodListPaymentMethods  = "list_payment_methods"
	MethodDeletePaymentMethod = "delete_payment_method"
	MethodRetryPaymentMethod  = "retry_payment_method"
	MethodCancelPaymentMethod = "cancel_payment_method"
	MethodListPGProviders     = "list_pg_providers"
	MethodGetPGProvider       = "get_pg_provider"
	MethodSyncPGProviders     = "sync_pg_providers"
	MethodListStuck           = "list_stuck"
)

// MerchantRef addresses a gateway config.
type MerchantRef struct {
	MerchantID string `json:"merchant_id"`
	ID         string `json:"id,omitempty"`
}

// CustomerRef addresses a payment method.
type CustomerRef struct {
	CustomerID string `json:"customer_id"`
	ID         string `json:"id,omitempty"`
}

// IDRef addresses an entity by id alone.
type IDRef struct {
	ID string `json:"id"`
}

// StuckArgs selects stuck entities.
type StuckArgs struct {
	OlderThan string `json:"older_than"`
}

// StuckResult lists stuck entities.
type StuckResult struct {
	PGConfigs      []models.PGConfig      `json:"pg_configs"`
	PaymentMethods []models.PaymentMethod `json:"payment_methods"`
}

// Codec carries the service's error kinds across the wire.
type Codec struct{}

var _ rpc.ErrorCodec = Codec{}

func (Codec) Encode(err error) rpc.ErrorBody {
	kind := service.Classify(err)
	if kind == service.KindInternal {
		return rpc.DefaultCodec.Encode(err)
	}
	return rpc.ErrorBody{Kind: kind, Message: err.Error()}
}

func (Codec) Decode(body rpc.ErrorBody) error {
	if err := service.FromKind(body.Kind, body.Message); err != nil {
		return err
	}
	return rpc.DefaultCodec.Decode(body)
}

// handle adapts a typed function to rpc.HandlerFunc.
func handle[A any, R any](fn func(ctx context.Context, rc models.RequestContext, args A) (R, error)) rpc.HandlerFunc {
	return func(ctx context.Context, rc models.RequestContext, raw json.RawMessage) (any, error) {
		args, err := rpc.DecodeArgs[A](raw)
		if err != nil {
			return nil, err
		}
		return fn(ctx, rc, args)
	}
}

type ack struct {
	OK bool `json:"ok"`
}

// Register adds every collector method to srv.
func Register(srv *rpc.Server, svc *service.Service) {
	srv.Register(MethodCreatePGConfig, handle(func(ctx context.Context, rc models.RequestContext, v models.PGConfigValues) (*models.PGConfig, error) {
		if err := service.CheckMerchant(rc, v.MerchantID); err != nil {
			return nil, err
		}
		return svc.CreatePGConfig(ctx, rc, v)
	}))
	srv.Register(MethodGetPGConfig, handle(func(ctx context.Context, rc models.RequestContext, ref MerchantRef) (*models.PGConfig, error) {
		if err := service.CheckMerchant(rc, ref.MerchantID); err != nil {
			return nil, err
		}
		return svc.GetPGConfig(ctx, ref.MerchantID, ref.ID)
	}))
	srv.Register(MethodListPGConfigs, handle(func(ctx context.Context, rc models.RequestContext, ref MerchantRef) ([]models.PGConfig, error) {
		if err := service.CheckMerchant(rc, ref.MerchantID); err != nil {
			return nil, err
		}
		return svc.ListPGConfigs(ctx, ref.MerchantID)
	}))
	srv.Register(MethodDeletePGConfig, handle(func(ctx context.Context, rc models.RequestContext, ref MerchantRef) (ack, error) {
		if err := service.CheckMerchant(rc, ref.MerchantID); err != nil {
			return ack{}, err
		}
		return ack{OK: true}, svc.DeletePGConfig(ctx, ref.MerchantID, ref.ID)
	}))
	srv.Register(MethodRetryPGConfig, handle(func(ctx context.Context, rc models.RequestContext, ref IDRef) (*models.PGConfig, error) {
		return svc.RetryPGConfig(ctx, rc, ref.ID)
	}))
	srv.Register(MethodCancelPGConfig, handle(func(ctx context.Context, rc models.RequestContext, ref IDRef) (*models.PGConfig, error) {
		return svc.CancelPGConfig(ctx, rc, ref.ID)
	}))

	srv.Register(MethodCreatePaymentMethod, handle(func(ctx context.Context, rc models.RequestContext, v models.PaymentMethodValues) (*models.PaymentMethod, error) {
		return svc.CreatePaymentMethod(ctx, rc, v)
	}))
	srv.Register(MethodGetPaymentMethod, handle(func(ctx context.Context, rc models.RequestContext, ref CustomerRef) (*models.PaymentMethod, error) {
		return svc.GetPaymentMethod(ctx, rc, ref.CustomerID, ref.ID)
	}))
	srv.Register(MethodListPaymentMethods, handle(func(ctx context.Context, rc models.RequestContext, ref CustomerRef) ([]models.PaymentMethod, error) {
		return svc.ListPaymentMethods(ctx, rc, ref.CustomerID)
	}))
	srv.Register(MethodDeletePaymentMethod, handle(func(ctx context.Context, rc models.RequestContext, ref CustomerRef) (ack, error) {
		return ack{OK: true}, svc.DeletePaymentMethod(ctx, rc, ref.CustomerID, ref.ID)
	}))
	srv.Register(MethodRetryPaymentMethod, handle(func(ctx context.Context, rc models.RequestContext, ref IDRef) (*models.PaymentMethod, error) {
		return svc.RetryPaymentMethod(ctx, rc, ref.ID)
	}))
	srv.Register(MethodCancelPaymentMethod, handle(func(ctx context.Context, rc models.RequestContext, ref IDRef) (*models.PaymentMethod, error) {
		return svc.CancelPaymentMethod(ctx, rc, ref.ID)
	}))

	srv.Register(MethodListPGProviders, handle(func(ctx context.Context, _ models.RequestContext, _ struct{}) ([]models.PGProvider, error) {
		return svc.ListPGProviders(ctx)
	}))
	srv.Register(MethodGetPGProvider, handle(func(ctx context.Context, _ models.RequestContext, ref IDRef) (*models.PGProvider, error) {
		return svc.GetPGProvider(ctx, ref.ID)
	}))
	srv.Register(MethodSyncPGProviders, handle(func(ctx context.Context, rc models.RequestContext, _ struct{}) ([]models.PGProvider, error) {
		return svc.SyncProviders(ctx, rc)
	}))
	srv.Register(MethodListStuck, handle(func(ctx context.Context, rc models.RequestContext, args StuckArgs) (*StuckResult, error) {
		var olderThan time.Duration
		if args.OlderThan != "" {
			d, err := time.ParseDuration(args.OlderThan)
			if err != nil {
				return nil, fmt.Errorf("%w: older_than: %v", rpc.ErrBadArgs, err)
			}
			olderThan = d
		}
		stuck, err := svc.ListStuck(ctx, rc, olderThan)
		if err != nil {
			return nil, err
		}
		return &StuckResult{PGConfigs: stuck.PGConfigs, PaymentMethods: stuck.PaymentMethods}, nil
	}))
}

// NewClient returns an rpc client for the collector topic that decodes the
// service's error kinds.
func NewClient(conn rpc.Requester, topic string) *rpc.Client {
	return rpc.NewClient(conn, topic, Codec{})
}
