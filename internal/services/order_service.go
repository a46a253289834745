package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/motomarket/api/internal/domain"
	"github.com/motomarket/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"
	orderEventDeleted       = "order.deleted"
	inventoryEventAdjusted  = "inventory.adjusted"

	orderIDPrefix = "ord_"

	maxOrderLines = 100
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderEmpty indicates an order was submitted without lines.
	ErrOrderEmpty = errors.New("order: order must contain at least one line")
	// ErrOrderNotFound indicates the order or its owner could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderProductNotFound indicates a requested line references a missing product.
	ErrOrderProductNotFound = errors.New("order: product not found")
	// ErrOrderForbidden indicates the actor may not access the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates a storage level conflict such as a serialization failure.
	ErrOrderConflict = errors.New("order: conflict")
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending: {domain.OrderStatusCompleted, domain.OrderStatusShipped, domain.OrderStatusCancelled},
}

// stockEffects maps a target status to the sign applied to every line quantity on entry.
// Entering Cancelled restocks regardless of the previous status.
var stockEffects = map[domain.OrderStatus]int{
	domain.OrderStatusCompleted: -1,
	domain.OrderStatusCancelled: +1,
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        int64
	Reference      string
	UserID         int64
	PreviousStatus string
	CurrentStatus  string
	ActorID        int64
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderMetrics records order lifecycle measurements.
type OrderMetrics interface {
	OrderCreated(ctx context.Context, lines int)
	StatusTransition(ctx context.Context, from, to string)
	InventoryAdjusted(ctx context.Context, delta int)
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Products    repositories.ProductRepository
	Users       repositories.UserRepository
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Metrics     OrderMetrics
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	products   repositories.ProductRepository
	users      repositories.UserRepository
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	events     OrderEventPublisher
	metrics    OrderMetrics
	logger     func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Users == nil {
		return nil, errors.New("order service: user repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopOrderMetrics{}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		products:   deps.Products,
		users:      deps.Users,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:   idGen,
		events:  deps.Events,
		metrics: metrics,
		logger:  logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if cmd.UserID <= 0 {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if !cmd.Actor.CanAccess(cmd.UserID) {
		return Order{}, fmt.Errorf("%w: cannot place orders for another user", ErrOrderForbidden)
	}
	if len(cmd.Lines) == 0 {
		return Order{}, ErrOrderEmpty
	}
	if len(cmd.Lines) > maxOrderLines {
		return Order{}, fmt.Errorf("%w: at most %d lines are allowed", ErrOrderInvalidInput, maxOrderLines)
	}
	for i, line := range cmd.Lines {
		if line.ProductID <= 0 {
			return Order{}, fmt.Errorf("%w: line %d product id must be positive", ErrOrderInvalidInput, i)
		}
		if line.Quantity <= 0 {
			return Order{}, fmt.Errorf("%w: line %d quantity must be positive", ErrOrderInvalidInput, i)
		}
	}

	if _, err := s.users.FindByID(ctx, cmd.UserID); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	now := s.now()
	var created Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		lines, total, err := s.snapshotLines(txCtx, cmd.Lines)
		if err != nil {
			return err
		}
		order := Order{
			Reference:  s.nextReference(),
			UserID:     cmd.UserID,
			Customer:   normalizeCustomer(cmd.Customer),
			TotalPrice: total,
			Status:     domain.OrderStatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
			Lines:      lines,
		}
		created, err = s.orders.Insert(txCtx, order)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.metrics.OrderCreated(ctx, len(created.Lines))
	s.logger(ctx, orderEventCreated, map[string]any{
		"orderId":    created.ID,
		"reference":  created.Reference,
		"userId":     created.UserID,
		"lines":      len(created.Lines),
		"totalPrice": created.TotalPrice.StringFixed(2),
	})
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       created.ID,
		Reference:     created.Reference,
		UserID:        created.UserID,
		CurrentStatus: string(created.Status),
		ActorID:       cmd.Actor.UserID,
		OccurredAt:    now,
		Metadata: map[string]any{
			"totalPrice": created.TotalPrice.StringFixed(2),
			"lines":      len(created.Lines),
		},
	})

	return created, nil
}

// snapshotLines copies price and product identity from the live catalog into order lines.
func (s *orderService) snapshotLines(ctx context.Context, requests []OrderLineRequest) ([]OrderLine, decimal.Decimal, error) {
	lines := make([]OrderLine, 0, len(requests))
	total := decimal.Zero
	for _, req := range requests {
		product, err := s.products.FindByID(ctx, req.ProductID)
		if err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				return nil, decimal.Zero, fmt.Errorf("%w: Product with ID %d not found", ErrOrderProductNotFound, req.ProductID)
			}
			return nil, decimal.Zero, s.mapRepositoryError(err)
		}
		line := OrderLine{
			ProductID: product.ID,
			Quantity:  req.Quantity,
			Price:     product.Price,
			Make:      product.Make,
			Model:     product.Model,
			Year:      product.Year,
		}
		total = total.Add(line.Subtotal())
		lines = append(lines, line)
	}
	return lines, total, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID int64, actor Actor) (Order, error) {
	if orderID <= 0 {
		return Order{}, fmt.Errorf("%w: order id must be positive", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if !actor.CanAccess(order.UserID) {
		return Order{}, fmt.Errorf("%w: order %d belongs to another user", ErrOrderForbidden, orderID)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter, actor Actor) (domain.Page[Order], error) {
	if !actor.IsAdmin() {
		if actor.UserID <= 0 {
			return domain.Page[Order]{}, fmt.Errorf("%w: authentication required", ErrOrderForbidden)
		}
		if filter.UserID != nil && *filter.UserID != actor.UserID {
			return domain.Page[Order]{}, fmt.Errorf("%w: cannot list orders of another user", ErrOrderForbidden)
		}
		own := actor.UserID
		filter.UserID = &own
	}
	for _, status := range filter.Status {
		if _, ok := domain.ParseOrderStatus(string(status)); !ok {
			return domain.Page[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
	}
	filter.Pagination = filter.Pagination.Normalize()

	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.Page[Order]{}, s.mapRepositoryError(err)
	}
	if page.Items == nil {
		page.Items = []Order{}
	}
	return page, nil
}

func (s *orderService) ChangeStatus(ctx context.Context, cmd ChangeOrderStatusCommand) (Order, error) {
	if cmd.OrderID <= 0 {
		return Order{}, fmt.Errorf("%w: order id must be positive", ErrOrderInvalidInput)
	}
	target, ok := domain.ParseOrderStatus(string(cmd.Status))
	if !ok {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Status)
	}
	if !cmd.Actor.IsAdmin() {
		return Order{}, fmt.Errorf("%w: only admins may change order status", ErrOrderForbidden)
	}

	now := s.now()
	var (
		updated     Order
		previous    domain.OrderStatus
		adjustments []domain.StockAdjustment
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, cmd.OrderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		previous = order.Status
		if previous == target {
			updated = order
			return nil
		}
		if !canTransition(previous, target) {
			return fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, previous, target)
		}

		updated, err = s.orders.UpdateStatus(txCtx, order.ID, previous, target, now)
		if err != nil {
			if isRepositoryConflict(err) {
				return fmt.Errorf("%w: order %d changed status concurrently", ErrOrderInvalidState, order.ID)
			}
			return s.mapRepositoryError(err)
		}

		adjustments = stockAdjustments(order.Lines, target)
		for _, adj := range adjustments {
			if err := s.products.AdjustStock(txCtx, adj.ProductID, adj.Delta); err != nil {
				return s.mapRepositoryError(err)
			}
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	if previous == target {
		return updated, nil
	}

	s.metrics.StatusTransition(ctx, string(previous), string(target))
	for _, adj := range adjustments {
		s.metrics.InventoryAdjusted(ctx, adj.Delta)
		s.logger(ctx, inventoryEventAdjusted, map[string]any{
			"orderId":   updated.ID,
			"productId": adj.ProductID,
			"delta":     adj.Delta,
		})
	}
	s.logger(ctx, orderEventStatusChanged, map[string]any{
		"orderId": updated.ID,
		"from":    string(previous),
		"to":      string(target),
		"actorId": cmd.Actor.UserID,
	})
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        updated.ID,
		Reference:      updated.Reference,
		UserID:         updated.UserID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(updated.Status),
		ActorID:        cmd.Actor.UserID,
		OccurredAt:     now,
	})

	return updated, nil
}

func (s *orderService) DeleteOrder(ctx context.Context, orderID int64, actor Actor) error {
	if orderID <= 0 {
		return fmt.Errorf("%w: order id must be positive", ErrOrderInvalidInput)
	}

	var deleted Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if !actor.CanAccess(order.UserID) {
			return fmt.Errorf("%w: order %d belongs to another user", ErrOrderForbidden, orderID)
		}
		if err := s.orders.Delete(txCtx, orderID); err != nil {
			return s.mapRepositoryError(err)
		}
		deleted = order
		return nil
	})
	if err != nil {
		return err
	}

	s.logger(ctx, orderEventDeleted, map[string]any{
		"orderId": deleted.ID,
		"userId":  deleted.UserID,
		"actorId": actor.UserID,
	})
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventDeleted,
		OrderID:        deleted.ID,
		Reference:      deleted.Reference,
		UserID:         deleted.UserID,
		PreviousStatus: string(deleted.Status),
		ActorID:        actor.UserID,
		OccurredAt:     s.now(),
	})
	return nil
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func isRepositoryConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextReference() string {
	return orderIDPrefix + s.newID()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

type noopOrderMetrics struct{}

func (noopOrderMetrics) OrderCreated(context.Context, int)                 {}
func (noopOrderMetrics) StatusTransition(context.Context, string, string) {}
func (noopOrderMetrics) InventoryAdjusted(context.Context, int)           {}

func stockAdjustments(lines []OrderLine, target domain.OrderStatus) []domain.StockAdjustment {
	sign, ok := stockEffects[target]
	if !ok || len(lines) == 0 {
		return nil
	}
	adjustments := make([]domain.StockAdjustment, 0, len(lines))
	for _, line := range lines {
		adjustments = append(adjustments, domain.StockAdjustment{
			ProductID: line.ProductID,
			Delta:     sign * line.Quantity,
		})
	}
	return adjustments
}

func normalizeCustomer(details CustomerDetails) CustomerDetails {
	return CustomerDetails{
		FirstName:   strings.TrimSpace(details.FirstName),
		LastName:    strings.TrimSpace(details.LastName),
		Phone:       strings.TrimSpace(details.Phone),
		Email:       strings.ToLower(strings.TrimSpace(details.Email)),
		ShipAddress: strings.TrimSpace(details.ShipAddress),
	}
}

func canTransition(current, target domain.OrderStatus) bool {
	if current == target {
		return true
	}
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}
