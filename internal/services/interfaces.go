package services

import (
	"context"

	domain "github.com/motomarket/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Product            = domain.Product
	ProductAggregate   = domain.ProductAggregate
	ProductAttribute   = domain.ProductAttribute
	ProductImage       = domain.ProductImage
	ProductFilter      = domain.ProductFilter
	ProductDraft       = domain.ProductDraft
	ProductPatch       = domain.ProductPatch
	AttributeDraft     = domain.AttributeDraft
	Category           = domain.Category
	Order              = domain.Order
	OrderLine          = domain.OrderLine
	OrderLineRequest   = domain.OrderLineRequest
	OrderStatus        = domain.OrderStatus
	OrderListFilter    = domain.OrderListFilter
	CustomerDetails    = domain.CustomerDetails
	Review             = domain.Review
	User               = domain.User
	SystemHealthReport = domain.SystemHealthReport
)

// Actor is the trusted caller identity handed to services by the HTTP layer.
type Actor struct {
	UserID int64
	Role   domain.Role
}

// IsAdmin reports whether the actor carries the admin role.
func (a Actor) IsAdmin() bool {
	return a.Role.IsAdmin()
}

// CanAccess reports whether the actor owns resources of userID or is an admin.
func (a Actor) CanAccess(userID int64) bool {
	if a.IsAdmin() {
		return true
	}
	return a.UserID > 0 && a.UserID == userID
}

// CatalogService serves catalog reads and admin catalog writes.
type CatalogService interface {
	ListProducts(ctx context.Context, filter ProductFilter) ([]ProductAggregate, error)
	CountProducts(ctx context.Context, filter ProductFilter) (int, error)
	GetProduct(ctx context.Context, productID int64) (ProductAggregate, error)
	CreateProduct(ctx context.Context, cmd CreateProductCommand) (ProductAggregate, error)
	UpdateProduct(ctx context.Context, cmd UpdateProductCommand) (ProductAggregate, error)
	DeleteProduct(ctx context.Context, cmd DeleteProductCommand) error

	ListCategories(ctx context.Context) ([]Category, error)
	GetCategory(ctx context.Context, categoryID int64) (Category, error)
	CreateCategory(ctx context.Context, cmd UpsertCategoryCommand) (Category, error)
	UpdateCategory(ctx context.Context, cmd UpsertCategoryCommand) (Category, error)
	DeleteCategory(ctx context.Context, categoryID int64) error
}

// CreateProductCommand carries a new product with its attributes and image URLs.
type CreateProductCommand struct {
	Draft   ProductDraft
	ActorID int64
}

// UpdateProductCommand carries a partial product update.
type UpdateProductCommand struct {
	ProductID int64
	Patch     ProductPatch
	ActorID   int64
}

// DeleteProductCommand identifies the product to remove.
type DeleteProductCommand struct {
	ProductID int64
	ActorID   int64
}

// UpsertCategoryCommand carries category fields. CategoryID is ignored on create.
type UpsertCategoryCommand struct {
	CategoryID  int64
	Name        string
	Description string
}

// UserService exposes account reads. Registration and login live outside this API.
type UserService interface {
	ListUsers(ctx context.Context, page Pagination, actor Actor) (domain.Page[User], error)
	GetUser(ctx context.Context, userID int64, actor Actor) (User, error)
}

// OrderService places orders and drives their status lifecycle.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID int64, actor Actor) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter, actor Actor) (domain.Page[Order], error)
	ChangeStatus(ctx context.Context, cmd ChangeOrderStatusCommand) (Order, error)
	DeleteOrder(ctx context.Context, orderID int64, actor Actor) error
}

// CreateOrderCommand captures the purchase request for a user.
type CreateOrderCommand struct {
	UserID   int64
	Customer CustomerDetails
	Lines    []OrderLineRequest
	Actor    Actor
}

// ChangeOrderStatusCommand requests a status transition.
type ChangeOrderStatusCommand struct {
	OrderID int64
	Status  OrderStatus
	Actor   Actor
}

// ReviewService manages product reviews.
type ReviewService interface {
	ListProductReviews(ctx context.Context, productID int64, page Pagination) (domain.Page[Review], error)
	CreateReview(ctx context.Context, cmd CreateReviewCommand) (Review, error)
	UpdateReview(ctx context.Context, cmd UpdateReviewCommand) (Review, error)
	DeleteReview(ctx context.Context, reviewID int64, actor Actor) error
}

// CreateReviewCommand carries a new review for a product.
type CreateReviewCommand struct {
	ProductID int64
	Rating    int
	Comment   string
	Actor     Actor
}

// UpdateReviewCommand carries a partial review edit.
type UpdateReviewCommand struct {
	ReviewID int64
	Rating   *int
	Comment  *string
	Actor    Actor
}

// SystemService exposes health reporting.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}
