package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/motomarket/api/internal/domain"
	"github.com/motomarket/api/internal/platform/auth"
	"github.com/motomarket/api/internal/platform/httpx"
	"github.com/motomarket/api/internal/platform/pagination"
	"github.com/motomarket/api/internal/services"
)

const (
	maxOrderBodySize  = 64 * 1024
	maxStatusBodySize = 1024
)

// OrderHandlers exposes order placement, reads and lifecycle endpoints for authenticated users.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	idempotency func(http.Handler) http.Handler
}

// OrderHandlerOption customises OrderHandlers.
type OrderHandlerOption func(*OrderHandlers)

// WithOrderIdempotency wraps order creation with the supplied idempotency middleware.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlerOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	if h.idempotency != nil {
		r.With(h.idempotency).Post("/", h.createOrder)
	} else {
		r.Post("/", h.createOrder)
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/status", h.changeStatus)
	r.Delete("/{orderID}", h.deleteOrder)
}

// UserRoutes registers the /users endpoints that expose a user's orders.
func (h *OrderHandlers) UserRoutes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Get("/{userID}/orders", h.listUserOrders)
}

type createOrderRequest struct {
	UserID      int64              `json:"userId"`
	FirstName   string             `json:"firstName"`
	LastName    string             `json:"lastName"`
	Phone       string             `json:"phone"`
	Email       string             `json:"email"`
	ShipAddress string             `json:"shipAddress"`
	OrderItems  []orderItemRequest `json:"orderItems"`
}

type orderItemRequest struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

type changeStatusRequest struct {
	Status string `json:"status"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if !decodeJSONBody(w, r, maxOrderBodySize, &req) {
		return
	}
	userID := req.UserID
	if userID == 0 {
		userID = actor.UserID
	}

	lines := make([]services.OrderLineRequest, 0, len(req.OrderItems))
	for _, item := range req.OrderItems {
		lines = append(lines, services.OrderLineRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	order, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		UserID: userID,
		Customer: services.CustomerDetails{
			FirstName:   req.FirstName,
			LastName:    req.LastName,
			Phone:       req.Phone,
			Email:       req.Email,
			ShipAddress: req.ShipAddress,
		},
		Lines: lines,
		Actor: actor,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildOrderPayload(order))
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	userID, err := pagination.ID(r.URL.Query(), "userId")
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	h.respondOrderList(w, r, actor, userID)
}

func (h *OrderHandlers) listUserOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	h.respondOrderList(w, r, actor, &userID)
}

func (h *OrderHandlers) respondOrderList(w http.ResponseWriter, r *http.Request, actor services.Actor, userID *int64) {
	ctx := r.Context()
	query := r.URL.Query()

	paging, err := pagination.Parse(query, pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	var statuses []services.OrderStatus
	for _, raw := range parseFilterValues(query["status"]) {
		status, ok := domain.ParseOrderStatus(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be one of Pending, Completed, Shipped, Cancelled", http.StatusBadRequest))
			return
		}
		statuses = append(statuses, status)
	}

	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		UserID:     userID,
		Status:     statuses,
		Pagination: services.Pagination{Limit: paging.Limit, Offset: paging.Offset},
	}, actor)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{Items: items, Total: page.Total})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID, actor)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) changeStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}

	var req changeStatusRequest
	if !decodeJSONBody(w, r, maxStatusBodySize, &req) {
		return
	}
	status, ok := domain.ParseOrderStatus(req.Status)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be one of Pending, Completed, Shipped, Cancelled", http.StatusBadRequest))
		return
	}

	order, err := h.orders.ChangeStatus(ctx, services.ChangeOrderStatusCommand{OrderID: orderID, Status: status, Actor: actor})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}

	if err := h.orders.DeleteOrder(ctx, orderID, actor); err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, deletedResponse{ID: orderID, Deleted: true})
}

type orderListResponse struct {
	Items []orderPayload `json:"items"`
	Total int            `json:"total"`
}

type orderPayload struct {
	ID          int64              `json:"id"`
	Reference   string             `json:"reference"`
	UserID      int64              `json:"userId"`
	FirstName   string             `json:"firstName"`
	LastName    string             `json:"lastName"`
	Phone       string             `json:"phone"`
	Email       string             `json:"email"`
	ShipAddress string             `json:"shipAddress"`
	TotalPrice  decimal.Decimal    `json:"totalPrice"`
	Status      string             `json:"status"`
	CreatedAt   string             `json:"createdAt,omitempty"`
	UpdatedAt   string             `json:"updatedAt,omitempty"`
	OrderItems  []orderLinePayload `json:"orderItems"`
}

type orderLinePayload struct {
	ID        int64           `json:"id"`
	ProductID int64           `json:"productId"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Make      string          `json:"make"`
	Model     string          `json:"model"`
	Year      int             `json:"year"`
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:          order.ID,
		Reference:   order.Reference,
		UserID:      order.UserID,
		FirstName:   order.Customer.FirstName,
		LastName:    order.Customer.LastName,
		Phone:       order.Customer.Phone,
		Email:       order.Customer.Email,
		ShipAddress: order.Customer.ShipAddress,
		TotalPrice:  order.TotalPrice,
		Status:      string(order.Status),
		CreatedAt:   formatTime(order.CreatedAt),
		UpdatedAt:   formatTime(order.UpdatedAt),
		OrderItems:  make([]orderLinePayload, 0, len(order.Lines)),
	}
	for _, line := range order.Lines {
		payload.OrderItems = append(payload.OrderItems, orderLinePayload{
			ID:        line.ID,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Price:     line.Price,
			Subtotal:  line.Subtotal(),
			Make:      line.Make,
			Model:     line.Model,
			Year:      line.Year,
		})
	}
	return payload
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderEmpty):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order must contain at least one line", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", detail(err, services.ErrOrderInvalidInput), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "one or more ordered products do not exist", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "not allowed to access this order", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order conflicts with a concurrent change, retry the request", http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", "order status cannot change from its current state", http.StatusConflict))
	default:
		httpx.WriteInternal(ctx, w, "order_error", "failed to process order request", err)
	}
}

// parseFilterValues splits repeated and comma separated query values, dropping blanks.
func parseFilterValues(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
