package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	domain "github.com/motomarket/api/internal/domain"
	"github.com/motomarket/api/internal/repositories"
)

type orderRepository struct {
	store *Store
}

var _ repositories.OrderRepository = orderRepository{}

func (r orderRepository) Insert(_ context.Context, order domain.Order) (domain.Order, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if err := r.store.takeInsertFailure("orders"); err != nil {
		return domain.Order{}, err
	}
	if _, ok := r.store.data.users[order.UserID]; !ok {
		return domain.Order{}, conflict("orders.insert", "user %d does not exist", order.UserID)
	}
	for _, existing := range r.store.data.orders {
		if existing.Reference == order.Reference {
			return domain.Order{}, conflict("orders.insert", "reference %s already exists", order.Reference)
		}
	}

	order.ID = r.store.nextID()
	lines := make([]domain.OrderLine, len(order.Lines))
	for i, line := range order.Lines {
		if _, ok := r.store.data.products[line.ProductID]; !ok {
			return domain.Order{}, conflict("orders.insert", "product %d does not exist", line.ProductID)
		}
		line.ID = r.store.nextID()
		line.OrderID = order.ID
		lines[i] = line
	}
	order.Lines = lines
	r.store.data.orders[order.ID] = order
	return cloneOrder(order), nil
}

func (r orderRepository) FindByID(_ context.Context, orderID int64) (domain.Order, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	order, ok := r.store.data.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("orders.find", "order %d not found", orderID)
	}
	return cloneOrder(order), nil
}

func (r orderRepository) List(_ context.Context, filter domain.OrderListFilter) (domain.Page[domain.Order], error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	all := sortedValues(r.store.data.orders, func(a, b domain.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	matches := make([]domain.Order, 0, len(all))
	for _, order := range all {
		if filter.UserID != nil && order.UserID != *filter.UserID {
			continue
		}
		if len(filter.Status) > 0 && !slices.Contains(filter.Status, order.Status) {
			continue
		}
		matches = append(matches, cloneOrder(order))
	}
	return domain.Page[domain.Order]{
		Items: page(matches, filter.Pagination),
		Total: len(matches),
	}, nil
}

func (r orderRepository) UpdateStatus(_ context.Context, orderID int64, from, to domain.OrderStatus, updatedAt time.Time) (domain.Order, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	order, ok := r.store.data.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("orders.update_status", "order %d not found", orderID)
	}
	if order.Status != from {
		return domain.Order{}, conflict("orders.update_status", "order %d is no longer %s", orderID, from)
	}
	order.Status = to
	order.UpdatedAt = updatedAt
	r.store.data.orders[orderID] = order
	return cloneOrder(order), nil
}

func (r orderRepository) Delete(_ context.Context, orderID int64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.data.orders[orderID]; !ok {
		return notFound("orders.delete", "order %d not found", orderID)
	}
	delete(r.store.data.orders, orderID)
	return nil
}

func cloneOrder(order domain.Order) domain.Order {
	order.Lines = slices.Clone(order.Lines)
	return order
}
