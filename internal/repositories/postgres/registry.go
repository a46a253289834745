// Package postgres implements the repository contracts on top of a shared pgx pool.
package postgres

import (
	"context"
	"errors"
	"fmt"

	ppostgres "github.com/motomarket/api/internal/platform/postgres"
	"github.com/motomarket/api/internal/repositories"
)

// Registry bundles the PostgreSQL repositories and implements repositories.Registry.
type Registry struct {
	provider   *ppostgres.Provider
	unitOfWork *ppostgres.UnitOfWork

	products   *ProductRepository
	categories *CategoryRepository
	orders     *OrderRepository
	users      *UserRepository
	reviews    *ReviewRepository
	health     repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// RegistryOption customises the registry.
type RegistryOption func(*registryConfig)

type registryConfig struct {
	txOptions   []ppostgres.TxOption
	extraChecks []repositories.DependencyCheck
}

// WithTxOptions forwards options to the transactional unit of work.
func WithTxOptions(opts ...ppostgres.TxOption) RegistryOption {
	return func(cfg *registryConfig) {
		cfg.txOptions = append(cfg.txOptions, opts...)
	}
}

// WithHealthChecks adds readiness probes evaluated alongside the database ping.
func WithHealthChecks(checks ...repositories.DependencyCheck) RegistryOption {
	return func(cfg *registryConfig) {
		cfg.extraChecks = append(cfg.extraChecks, checks...)
	}
}

// NewRegistry wires every repository to the provider.
func NewRegistry(provider *ppostgres.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("postgres registry requires provider")
	}
	var cfg registryConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	reg := &Registry{
		provider:   provider,
		unitOfWork: ppostgres.NewUnitOfWork(provider, cfg.txOptions...),
	}
	var err error
	if reg.products, err = NewProductRepository(provider); err != nil {
		return nil, err
	}
	if reg.categories, err = NewCategoryRepository(provider); err != nil {
		return nil, err
	}
	if reg.orders, err = NewOrderRepository(provider); err != nil {
		return nil, err
	}
	if reg.users, err = NewUserRepository(provider); err != nil {
		return nil, err
	}
	if reg.reviews, err = NewReviewRepository(provider); err != nil {
		return nil, err
	}

	checks := append([]repositories.DependencyCheck{{Name: "postgres", Check: provider.Ping}}, cfg.extraChecks...)
	reg.health, err = repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, fmt.Errorf("postgres registry: %w", err)
	}
	return reg, nil
}

func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.unitOfWork.RunInTx(ctx, fn)
}

// Close releases the underlying pool.
func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

func (r *Registry) Products() repositories.ProductRepository     { return r.products }
func (r *Registry) Categories() repositories.CategoryRepository { return r.categories }
func (r *Registry) Orders() repositories.OrderRepository         { return r.orders }
func (r *Registry) Users() repositories.UserRepository           { return r.users }
func (r *Registry) Reviews() repositories.ReviewRepository       { return r.reviews }
func (r *Registry) Health() repositories.HealthRepository        { return r.health }
