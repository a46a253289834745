package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/motomarket/api/internal/domain"
	"github.com/motomarket/api/internal/platform/auth"
	"github.com/motomarket/api/internal/platform/httpx"
	"github.com/motomarket/api/internal/platform/pagination"
	"github.com/motomarket/api/internal/services"
)

const maxProductBodySize = 256 * 1024

// ProductHandlers exposes catalog reads publicly and catalog writes to admins.
type ProductHandlers struct {
	authn   *auth.Authenticator
	catalog services.CatalogService
}

// NewProductHandlers constructs product endpoints backed by the catalog service.
func NewProductHandlers(authn *auth.Authenticator, catalog services.CatalogService) *ProductHandlers {
	return &ProductHandlers{authn: authn, catalog: catalog}
}

// Routes registers the /products endpoints.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listProducts)
	r.Get("/count", h.countProducts)
	r.Get("/{productID}", h.getProduct)

	r.Group(func(admin chi.Router) {
		if h.authn != nil {
			admin.Use(h.authn.RequireAdmin())
		}
		admin.Post("/", h.createProduct)
		admin.Put("/{productID}", h.updateProduct)
		admin.Delete("/{productID}", h.deleteProduct)
	})
}

func (h *ProductHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		serviceUnavailable(ctx, w, "catalog")
		return
	}
	filter, err := parseProductFilter(r.URL.Query())
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	products, err := h.catalog.ListProducts(ctx, filter)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	items := make([]productPayload, 0, len(products))
	for _, product := range products {
		items = append(items, buildProductPayload(product))
	}
	writeJSONResponse(w, http.StatusOK, productListResponse{Items: items})
}

func (h *ProductHandlers) countProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		serviceUnavailable(ctx, w, "catalog")
		return
	}
	filter, err := parseProductFilter(r.URL.Query())
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	count, err := h.catalog.CountProducts(ctx, filter)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productCountResponse{Count: count})
}

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		serviceUnavailable(ctx, w, "catalog")
		return
	}
	productID, ok := pathID(w, r, "productID")
	if !ok {
		return
	}

	product, err := h.catalog.GetProduct(ctx, productID)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildProductPayload(product))
}

func (h *ProductHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		serviceUnavailable(ctx, w, "catalog")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req createProductRequest
	if !decodeJSONBody(w, r, maxProductBodySize, &req) {
		return
	}
	if req.Price == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "price is required", http.StatusBadRequest))
		return
	}

	draft := services.ProductDraft{
		Make:          req.Make,
		Model:         req.Model,
		Year:          req.Year,
		Price:         *req.Price,
		Description:   req.Description,
		StockQuantity: req.StockQuantity,
		CategoryID:    req.CategoryID,
		Attributes:    toAttributeDrafts(req.Attributes),
		ImageURLs:     req.Images,
	}
	product, err := h.catalog.CreateProduct(ctx, services.CreateProductCommand{Draft: draft, ActorID: actor.UserID})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildProductPayload(product))
}

func (h *ProductHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		serviceUnavailable(ctx, w, "catalog")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	productID, ok := pathID(w, r, "productID")
	if !ok {
		return
	}

	var req updateProductRequest
	if !decodeJSONBody(w, r, maxProductBodySize, &req) {
		return
	}

	patch := services.ProductPatch{
		Make:               req.Make,
		Model:              req.Model,
		Year:               req.Year,
		Price:              req.Price,
		Description:        req.Description,
		StockQuantity:      req.StockQuantity,
		CategoryID:         req.CategoryID,
		AddAttributes:      toAttributeDrafts(req.AddAttributes),
		DeleteAttributeIDs: req.DeleteAttributeIDs,
		AddImageURLs:       req.AddImages,
		DeleteImageURLs:    req.DeleteImages,
	}
	product, err := h.catalog.UpdateProduct(ctx, services.UpdateProductCommand{ProductID: productID, Patch: patch, ActorID: actor.UserID})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildProductPayload(product))
}

func (h *ProductHandlers) deleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		serviceUnavailable(ctx, w, "catalog")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	productID, ok := pathID(w, r, "productID")
	if !ok {
		return
	}

	if err := h.catalog.DeleteProduct(ctx, services.DeleteProductCommand{ProductID: productID, ActorID: actor.UserID}); err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, deletedResponse{ID: productID, Deleted: true})
}

// parseProductFilter maps list and count query parameters onto a filter.
func parseProductFilter(query url.Values) (services.ProductFilter, error) {
	var filter services.ProductFilter

	paging, err := pagination.Parse(query, pagination.Options{})
	if err != nil {
		return filter, err
	}
	filter.Pagination = services.Pagination{Limit: paging.Limit, Offset: paging.Offset}
	filter.Search = strings.TrimSpace(query.Get("search"))

	if raw := query.Get("sortByPrice"); strings.TrimSpace(raw) != "" {
		sort, ok := domain.ParsePriceSort(raw)
		if !ok {
			return filter, errors.New("sortByPrice must be cheap or expensive")
		}
		filter.SortPrice = sort
	}

	if filter.CategoryID, err = pagination.ID(query, "categoryId"); err != nil {
		return filter, err
	}
	if filter.Price.From, err = pagination.Decimal(query, "priceMin"); err != nil {
		return filter, err
	}
	if filter.Price.To, err = pagination.Decimal(query, "priceMax"); err != nil {
		return filter, err
	}
	if filter.Year.From, err = pagination.Int(query, "yearMin"); err != nil {
		return filter, err
	}
	if filter.Year.To, err = pagination.Int(query, "yearMax"); err != nil {
		return filter, err
	}
	return filter, nil
}

func toAttributeDrafts(items []attributeRequest) []services.AttributeDraft {
	if len(items) == 0 {
		return nil
	}
	out := make([]services.AttributeDraft, 0, len(items))
	for _, item := range items {
		out = append(out, services.AttributeDraft{Name: item.Name, Value: item.Value})
	}
	return out
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", detail(err, services.ErrCatalogInvalidInput), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "requested catalog item was not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", "catalog item is in use or already exists", http.StatusConflict))
	default:
		httpx.WriteInternal(ctx, w, "catalog_error", "failed to process catalog request", err)
	}
}

type attributeRequest struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type createProductRequest struct {
	Make          string             `json:"make"`
	Model         string             `json:"model"`
	Year          int                `json:"year"`
	Price         *decimal.Decimal   `json:"price"`
	Description   string             `json:"description"`
	StockQuantity int                `json:"stockQuantity"`
	CategoryID    *int64             `json:"categoryId"`
	Attributes    []attributeRequest `json:"attributes"`
	Images        []string           `json:"images"`
}

type updateProductRequest struct {
	Make               *string            `json:"make"`
	Model              *string            `json:"model"`
	Year               *int               `json:"year"`
	Price              *decimal.Decimal   `json:"price"`
	Description        *string            `json:"description"`
	StockQuantity      *int               `json:"stockQuantity"`
	CategoryID         *int64             `json:"categoryId"`
	AddAttributes      []attributeRequest `json:"addAttributes"`
	DeleteAttributeIDs []int64            `json:"deleteAttributeIds"`
	AddImages          []string           `json:"addImages"`
	DeleteImages       []string           `json:"deleteImages"`
}

type productListResponse struct {
	Items []productPayload `json:"items"`
}

type productCountResponse struct {
	Count int `json:"count"`
}

type deletedResponse struct {
	ID      int64 `json:"id"`
	Deleted bool  `json:"deleted"`
}

type productPayload struct {
	ID            int64              `json:"id"`
	Make          string             `json:"make"`
	Model         string             `json:"model"`
	Year          int                `json:"year"`
	Price         decimal.Decimal    `json:"price"`
	Description   string             `json:"description"`
	StockQuantity int                `json:"stockQuantity"`
	CategoryID    *int64             `json:"categoryId"`
	CategoryName  string             `json:"categoryName,omitempty"`
	CreatedAt     string             `json:"createdAt,omitempty"`
	Attributes    []attributePayload `json:"attributes"`
	Images        []imagePayload     `json:"images"`
}

type attributePayload struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

type imagePayload struct {
	ID  int64  `json:"id"`
	URL string `json:"url"`
}

func buildProductPayload(product services.ProductAggregate) productPayload {
	payload := productPayload{
		ID:            product.ID,
		Make:          product.Make,
		Model:         product.Model,
		Year:          product.Year,
		Price:         product.Price,
		Description:   product.Description,
		StockQuantity: product.StockQuantity,
		CategoryID:    product.CategoryID,
		CategoryName:  product.CategoryName,
		CreatedAt:     formatTime(product.CreatedAt),
		Attributes:    make([]attributePayload, 0, len(product.Attributes)),
		Images:        make([]imagePayload, 0, len(product.Images)),
	}
	for _, attr := range product.Attributes {
		payload.Attributes = append(payload.Attributes, attributePayload{ID: attr.ID, Name: attr.Name, Value: attr.Value})
	}
	for _, img := range product.Images {
		payload.Images = append(payload.Images, imagePayload{ID: img.ID, URL: img.URL})
	}
	return payload
}
