package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/odera-store/api/internal/platform/firestore"
	"github.com/odera-store/api/internal/platform/retry"
	"github.com/odera-store/api/internal/repositories"
)

// Registry bundles the Firestore repositories behind repositories.Registry.
type Registry struct {
	provider   *pfirestore.Provider
	txOpts     []pfirestore.TxOption
	products   *ProductRepository
	stockLogs  *StockLogRepository
	orders     *OrderRepository
	counters   *CounterRepository
	idempotent *IdempotencyRepository
	payments   *PaymentCodeRepository
	rateLimits *RateLimitRepository
	audit      *AuditLogRepository
	settings   *SettingsRepository
	health     repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// RegistryOptions tune transaction behaviour and health probing.
type RegistryOptions struct {
	TxPolicy       retry.Policy
	TxTimeout      time.Duration
	ExtraChecks    []repositories.DependencyCheck
	PingCollection string
}

// NewRegistry builds every repository on the shared provider.
func NewRegistry(provider *pfirestore.Provider, opts RegistryOptions) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	reg := &Registry{provider: provider}
	if opts.TxPolicy.Attempts > 0 {
		reg.txOpts = append(reg.txOpts, pfirestore.WithTxPolicy(opts.TxPolicy))
	}
	if opts.TxTimeout > 0 {
		reg.txOpts = append(reg.txOpts, pfirestore.WithTxTimeout(opts.TxTimeout))
	}

	var err error
	if reg.products, err = NewProductRepository(provider); err != nil {
		return nil, err
	}
	if reg.stockLogs, err = NewStockLogRepository(provider); err != nil {
		return nil, err
	}
	if reg.orders, err = NewOrderRepository(provider); err != nil {
		return nil, err
	}
	if reg.counters, err = NewCounterRepository(provider); err != nil {
		return nil, err
	}
	reg.counters.txOpts = reg.txOpts
	if reg.idempotent, err = NewIdempotencyRepository(provider); err != nil {
		return nil, err
	}
	if reg.payments, err = NewPaymentCodeRepository(provider); err != nil {
		return nil, err
	}
	if reg.rateLimits, err = NewRateLimitRepository(provider); err != nil {
		return nil, err
	}
	if reg.audit, err = NewAuditLogRepository(provider); err != nil {
		return nil, err
	}
	if reg.settings, err = NewSettingsRepository(provider); err != nil {
		return nil, err
	}

	pingCollection := opts.PingCollection
	if pingCollection == "" {
		pingCollection = settingsCollection
	}
	checks := []repositories.DependencyCheck{{
		Name:  "firestore",
		Check: func(ctx context.Context) error { return provider.Ping(ctx, pingCollection) },
	}}
	checks = append(checks, opts.ExtraChecks...)
	if reg.health, err = repositories.NewDependencyHealthRepository(checks); err != nil {
		return nil, fmt.Errorf("firestore registry health: %w", err)
	}
	return reg, nil
}

// RunInTx runs fn inside a Firestore transaction. Repositories join it through the context.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := pfirestore.TransactionFromContext(ctx); ok {
		return fn(ctx)
	}
	return r.provider.RunTransaction(ctx, func(txCtx context.Context, _ *firestore.Transaction) error {
		return fn(txCtx)
	}, r.txOpts...)
}

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

func (r *Registry) Products() repositories.ProductRepository { return r.products }
func (r *Registry) StockMovements() repositories.StockMovementRepository {
	return r.stockLogs
}
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }
func (r *Registry) IdempotencyKeys() repositories.IdempotencyRepository {
	return r.idempotent
}
func (r *Registry) PaymentCodes() repositories.PaymentCodeRepository { return r.payments }
func (r *Registry) RateLimits() repositories.RateLimitRepository { return r.rateLimits }
func (r *Registry) AuditLogs() repositories.AuditLogRepository { return r.audit }
func (r *Registry) Settings() repositories.SettingsRepository { return r.settings }
func (r *Registry) Health() repositories.HealthRepository { return r.health }
