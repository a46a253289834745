package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus enumerates the lifecycle states of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "Pending"
	OrderStatusCompleted OrderStatus = "Completed"
	OrderStatusShipped   OrderStatus = "Shipped"
	OrderStatusCancelled OrderStatus = "Cancelled"
)

// ParseOrderStatus accepts the canonical status names case-insensitively.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	for _, status := range []OrderStatus{OrderStatusPending, OrderStatusCompleted, OrderStatusShipped, OrderStatusCancelled} {
		if strings.EqualFold(string(status), strings.TrimSpace(raw)) {
			return status, true
		}
	}
	return "", false
}

// CustomerDetails is the contact and shipping snapshot captured on an order.
type CustomerDetails struct {
	FirstName   string
	LastName    string
	Phone       string
	Email       string
	ShipAddress string
}

// Order is a purchase placed by a user. Lines are immutable once written.
type Order struct {
	ID         int64
	Reference  string
	UserID     int64
	Customer   CustomerDetails
	TotalPrice decimal.Decimal
	Status     OrderStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Lines      []OrderLine
}

// OrderLine snapshots product identity and price at order creation time.
type OrderLine struct {
	ID        int64
	OrderID   int64
	ProductID int64
	Quantity  int
	Price     decimal.Decimal
	Make      string
	Model     string
	Year      int
}

// Subtotal returns price multiplied by quantity.
func (l OrderLine) Subtotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// OrderLineRequest is a requested product and quantity prior to snapshotting.
type OrderLineRequest struct {
	ProductID int64
	Quantity  int
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	UserID     *int64
	Status     []OrderStatus
	Pagination Pagination
}

// StockAdjustment is a signed delta applied to a product's stock quantity.
type StockAdjustment struct {
	ProductID int64
	Delta     int
}
