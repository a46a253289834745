package repositories

import (
	"context"
	"time"

	domain "github.com/motomarket/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Categories() CategoryRepository
	Orders() OrderRepository
	Users() UserRepository
	Reviews() ReviewRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
// Repositories invoked with the context handed to fn participate in the same transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProductRepository reads and writes catalog products together with their attributes and images.
type ProductRepository interface {
	// List returns aggregates matching the filter, honouring sort, limit and offset.
	List(ctx context.Context, filter domain.ProductFilter) ([]domain.ProductAggregate, error)
	// Count returns the number of distinct products matching the filter predicates. Paging is ignored.
	Count(ctx context.Context, filter domain.ProductFilter) (int, error)
	// FindByID returns the product row without aggregation. Absent products yield a not-found RepositoryError.
	FindByID(ctx context.Context, productID int64) (domain.Product, error)
	Insert(ctx context.Context, draft domain.ProductDraft) (domain.Product, error)
	Update(ctx context.Context, product domain.Product, patch domain.ProductPatch) (domain.Product, error)
	Delete(ctx context.Context, productID int64) error
	// HasOrderLines reports whether any order line references the product.
	HasOrderLines(ctx context.Context, productID int64) (bool, error)
	// AdjustStock applies a signed delta atomically at the storage layer. Stock may go negative.
	AdjustStock(ctx context.Context, productID int64, delta int) error
}

// CategoryRepository persists catalog categories.
type CategoryRepository interface {
	List(ctx context.Context) ([]domain.Category, error)
	FindByID(ctx context.Context, categoryID int64) (domain.Category, error)
	Insert(ctx context.Context, category domain.Category) (domain.Category, error)
	Update(ctx context.Context, category domain.Category) (domain.Category, error)
	Delete(ctx context.Context, categoryID int64) error
	// HasProducts reports whether any product references the category.
	HasProducts(ctx context.Context, categoryID int64) (bool, error)
}

// OrderRepository persists orders and their immutable lines.
type OrderRepository interface {
	// Insert writes the order header and every line, returning the stored order with assigned IDs.
	Insert(ctx context.Context, order domain.Order) (domain.Order, error)
	FindByID(ctx context.Context, orderID int64) (domain.Order, error)
	List(ctx context.Context, filter domain.OrderListFilter) (domain.Page[domain.Order], error)
	// UpdateStatus moves the order from one status to another and returns the updated order with lines.
	// When the stored status no longer equals from, it fails with a conflict RepositoryError.
	UpdateStatus(ctx context.Context, orderID int64, from, to domain.OrderStatus, updatedAt time.Time) (domain.Order, error)
	// Delete removes lines then the order header.
	Delete(ctx context.Context, orderID int64) error
}

// UserRepository exposes account reads for order placement and the admin user listing.
type UserRepository interface {
	FindByID(ctx context.Context, userID int64) (domain.User, error)
	// List returns users in id order with the unpaginated total.
	List(ctx context.Context, pagination domain.Pagination) (domain.Page[domain.User], error)
}

// ReviewRepository persists product reviews.
type ReviewRepository interface {
	List(ctx context.Context, filter domain.ReviewListFilter) (domain.Page[domain.Review], error)
	FindByID(ctx context.Context, reviewID int64) (domain.Review, error)
	Insert(ctx context.Context, review domain.Review) (domain.Review, error)
	Update(ctx context.Context, review domain.Review) (domain.Review, error)
	Delete(ctx context.Context, reviewID int64) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
