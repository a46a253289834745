package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/motomarket/api/internal/domain"
	"github.com/motomarket/api/internal/platform/auth"
	"github.com/motomarket/api/internal/services"
)

type stubCatalogService struct {
	listFn           func(context.Context, services.ProductFilter) ([]services.ProductAggregate, error)
	countFn          func(context.Context, services.ProductFilter) (int, error)
	getFn            func(context.Context, int64) (services.ProductAggregate, error)
	createFn         func(context.Context, services.CreateProductCommand) (services.ProductAggregate, error)
	updateFn         func(context.Context, services.UpdateProductCommand) (services.ProductAggregate, error)
	deleteFn         func(context.Context, services.DeleteProductCommand) error
	listCategoriesFn func(context.Context) ([]services.Category, error)
	getCategoryFn    func(context.Context, int64) (services.Category, error)
	createCategoryFn func(context.Context, services.UpsertCategoryCommand) (services.Category, error)
	updateCategoryFn func(context.Context, services.UpsertCategoryCommand) (services.Category, error)
	deleteCategoryFn func(context.Context, int64) error
}

func (s *stubCatalogService) ListProducts(ctx context.Context, filter services.ProductFilter) ([]services.ProductAggregate, error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return nil, nil
}

func (s *stubCatalogService) CountProducts(ctx context.Context, filter services.ProductFilter) (int, error) {
	if s.countFn != nil {
		return s.countFn(ctx, filter)
	}
	return 0, nil
}

func (s *stubCatalogService) GetProduct(ctx context.Context, id int64) (services.ProductAggregate, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id)
	}
	return services.ProductAggregate{}, errors.New("not implemented")
}

func (s *stubCatalogService) CreateProduct(ctx context.Context, cmd services.CreateProductCommand) (services.ProductAggregate, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.ProductAggregate{}, errors.New("not implemented")
}

func (s *stubCatalogService) UpdateProduct(ctx context.Context, cmd services.UpdateProductCommand) (services.ProductAggregate, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.ProductAggregate{}, errors.New("not implemented")
}

func (s *stubCatalogService) DeleteProduct(ctx context.Context, cmd services.DeleteProductCommand) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, cmd)
	}
	return errors.New("not implemented")
}

func (s *stubCatalogService) ListCategories(ctx context.Context) ([]services.Category, error) {
	if s.listCategoriesFn != nil {
		return s.listCategoriesFn(ctx)
	}
	return nil, nil
}

func (s *stubCatalogService) GetCategory(ctx context.Context, id int64) (services.Category, error) {
	if s.getCategoryFn != nil {
		return s.getCategoryFn(ctx, id)
	}
	return services.Category{}, errors.New("not implemented")
}

func (s *stubCatalogService) CreateCategory(ctx context.Context, cmd services.UpsertCategoryCommand) (services.Category, error) {
	if s.createCategoryFn != nil {
		return s.createCategoryFn(ctx, cmd)
	}
	return services.Category{}, errors.New("not implemented")
}

func (s *stubCatalogService) UpdateCategory(ctx context.Context, cmd services.UpsertCategoryCommand) (services.Category, error) {
	if s.updateCategoryFn != nil {
		return s.updateCategoryFn(ctx, cmd)
	}
	return services.Category{}, errors.New("not implemented")
}

func (s *stubCatalogService) DeleteCategory(ctx context.Context, id int64) error {
	if s.deleteCategoryFn != nil {
		return s.deleteCategoryFn(ctx, id)
	}
	return errors.New("not implemented")
}

var _ services.CatalogService = (*stubCatalogService)(nil)

const testSecret = "handlers-test-secret"

func productRouter(authn *auth.Authenticator, catalog services.CatalogService) chi.Router {
	router := chi.NewRouter()
	router.Route("/products", NewProductHandlers(authn, catalog).Routes)
	return router
}

func bearer(t *testing.T, authn *auth.Authenticator, role domain.Role) string {
	t.Helper()
	token, err := authn.Issue(domain.User{ID: 1, Email: "admin@example.com", Role: role})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return "Bearer " + token
}

func sampleProduct() services.ProductAggregate {
	categoryID := int64(2)
	return services.ProductAggregate{
		Product: services.Product{
			ID:            3,
			Make:          "Honda",
			Model:         "CB650R",
			Year:          2021,
			Price:         decimal.RequireFromString("8999.99"),
			Description:   "naked",
			StockQuantity: 4,
			CategoryID:    &categoryID,
			CreatedAt:     time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		},
		CategoryName: "Naked",
		Attributes:   []services.ProductAttribute{{ID: 1, Name: "engine", Value: "649cc"}},
		Images:       []services.ProductImage{{ID: 5, URL: "https://img.example.com/cb.jpg"}},
	}
}

func TestParseProductFilter(t *testing.T) {
	query := url.Values{
		"limit":       {"1000"},
		"offset":      {"20"},
		"search":      {"  honda "},
		"sortByPrice": {"expensive"},
		"categoryId":  {"2"},
		"priceMin":    {"100.5"},
		"priceMax":    {"Infinity"},
		"yearMin":     {"2015"},
		"yearMax":     {"2022"},
	}
	filter, err := parseProductFilter(query)
	if err != nil {
		t.Fatalf("parseProductFilter returned error: %v", err)
	}
	if filter.Pagination.Limit != 100 || filter.Pagination.Offset != 20 {
		t.Fatalf("unexpected pagination %+v", filter.Pagination)
	}
	if filter.Search != "honda" {
		t.Fatalf("expected trimmed search, got %q", filter.Search)
	}
	if filter.SortPrice != domain.PriceSortExpensive {
		t.Fatalf("expected expensive sort, got %v", filter.SortPrice)
	}
	if filter.CategoryID == nil || *filter.CategoryID != 2 {
		t.Fatalf("expected category 2, got %v", filter.CategoryID)
	}
	if filter.Price.From == nil || filter.Price.From.String() != "100.5" {
		t.Fatalf("unexpected price from %v", filter.Price.From)
	}
	if filter.Price.To != nil {
		t.Fatalf("expected Infinity price max to be absent, got %v", filter.Price.To)
	}
	if filter.Year.From == nil || *filter.Year.From != 2015 || filter.Year.To == nil || *filter.Year.To != 2022 {
		t.Fatalf("unexpected year range %+v", filter.Year)
	}
}

func TestParseProductFilterRejectsInvalid(t *testing.T) {
	cases := map[string]url.Values{
		"limit":       {"limit": {"ten"}},
		"sortByPrice": {"sortByPrice": {"cheapest"}},
		"categoryId":  {"categoryId": {"x"}},
		"priceMin":    {"priceMin": {"1,000"}},
		"yearMax":     {"yearMax": {"2020.5"}},
	}
	for name, query := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := parseProductFilter(query); err == nil {
				t.Fatalf("expected error for %v", query)
			}
		})
	}
}

func TestProductHandlersList(t *testing.T) {
	var captured services.ProductFilter
	catalog := &stubCatalogService{
		listFn: func(ctx context.Context, filter services.ProductFilter) ([]services.ProductAggregate, error) {
			captured = filter
			return []services.ProductAggregate{sampleProduct()}, nil
		},
	}
	router := productRouter(nil, catalog)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/products?search=cb&sortByPrice=cheap&limit=5", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Search != "cb" || captured.SortPrice != domain.PriceSortCheap || captured.Pagination.Limit != 5 {
		t.Fatalf("unexpected filter %+v", captured)
	}

	var resp productListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("expected one product, got %d", len(resp.Items))
	}
	item := resp.Items[0]
	if item.Make != "Honda" || item.CategoryName != "Naked" || item.StockQuantity != 4 {
		t.Fatalf("unexpected product payload %+v", item)
	}
	if len(item.Attributes) != 1 || len(item.Images) != 1 {
		t.Fatalf("expected children in payload, got %+v", item)
	}
	if !strings.Contains(rr.Body.String(), `"price":"8999.99"`) {
		t.Fatalf("expected price string, got %s", rr.Body.String())
	}
}

func TestProductHandlersListRejectsBadQuery(t *testing.T) {
	router := productRouter(nil, &stubCatalogService{
		listFn: func(context.Context, services.ProductFilter) ([]services.ProductAggregate, error) {
			t.Fatalf("service must not be called")
			return nil, nil
		},
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/products?yearMin=old", nil))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr); code != "invalid_request" {
		t.Fatalf("expected invalid_request, got %s", code)
	}
}

func TestProductHandlersCount(t *testing.T) {
	catalog := &stubCatalogService{
		countFn: func(ctx context.Context, filter services.ProductFilter) (int, error) {
			if filter.CategoryID == nil || *filter.CategoryID != 2 {
				t.Fatalf("expected category filter, got %v", filter.CategoryID)
			}
			return 17, nil
		},
	}
	router := productRouter(nil, catalog)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/products/count?categoryId=2", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if strings.TrimSpace(rr.Body.String()) != `{"count":17}` {
		t.Fatalf("unexpected count body %s", rr.Body.String())
	}
}

func TestProductHandlersGetNotFound(t *testing.T) {
	catalog := &stubCatalogService{
		getFn: func(ctx context.Context, id int64) (services.ProductAggregate, error) {
			return services.ProductAggregate{}, fmt.Errorf("%w: product %d", services.ErrCatalogNotFound, id)
		},
	}
	router := productRouter(nil, catalog)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/products/99", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestProductHandlersWritesRequireAdmin(t *testing.T) {
	authn := auth.NewAuthenticator(testSecret)
	router := productRouter(authn, &stubCatalogService{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/products/3", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 without token, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodDelete, "/products/3", nil)
	req.Header.Set("Authorization", bearer(t, authn, domain.RoleCustomer))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 for customer, got %d", rr.Code)
	}
}

func TestProductHandlersDeleteConflict(t *testing.T) {
	authn := auth.NewAuthenticator(testSecret)
	catalog := &stubCatalogService{
		deleteFn: func(ctx context.Context, cmd services.DeleteProductCommand) error {
			if cmd.ProductID != 3 || cmd.ActorID != 1 {
				t.Fatalf("unexpected command %+v", cmd)
			}
			return fmt.Errorf("%w: product 3 has order lines", services.ErrCatalogConflict)
		},
	}
	router := productRouter(authn, catalog)

	req := httptest.NewRequest(http.MethodDelete, "/products/3", nil)
	req.Header.Set("Authorization", bearer(t, authn, domain.RoleAdmin))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr); code != "conflict" {
		t.Fatalf("expected conflict code, got %s", code)
	}
}

func TestProductHandlersCreate(t *testing.T) {
	authn := auth.NewAuthenticator(testSecret)
	var captured services.CreateProductCommand
	catalog := &stubCatalogService{
		createFn: func(ctx context.Context, cmd services.CreateProductCommand) (services.ProductAggregate, error) {
			captured = cmd
			return sampleProduct(), nil
		},
	}
	router := productRouter(authn, catalog)

	body := `{"make":"Honda","model":"CB650R","year":2021,"price":"8999.99","stockQuantity":4,"categoryId":2,"attributes":[{"name":"engine","value":"649cc"}],"images":["https://img.example.com/cb.jpg"]}`
	req := httptest.NewRequest(http.MethodPost, "/products", strings.NewReader(body))
	req.Header.Set("Authorization", bearer(t, authn, domain.RoleAdmin))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	draft := captured.Draft
	if draft.Make != "Honda" || !draft.Price.Equal(decimal.RequireFromString("8999.99")) {
		t.Fatalf("unexpected draft %+v", draft)
	}
	if draft.CategoryID == nil || *draft.CategoryID != 2 {
		t.Fatalf("expected category id 2, got %v", draft.CategoryID)
	}
	if len(draft.Attributes) != 1 || len(draft.ImageURLs) != 1 {
		t.Fatalf("expected children in draft, got %+v", draft)
	}
}

func TestProductHandlersCreateRequiresPrice(t *testing.T) {
	authn := auth.NewAuthenticator(testSecret)
	router := productRouter(authn, &stubCatalogService{})

	req := httptest.NewRequest(http.MethodPost, "/products", strings.NewReader(`{"make":"Honda","model":"CB650R","year":2021}`))
	req.Header.Set("Authorization", bearer(t, authn, domain.RoleAdmin))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestProductHandlersUpdatePatch(t *testing.T) {
	authn := auth.NewAuthenticator(testSecret)
	var captured services.UpdateProductCommand
	catalog := &stubCatalogService{
		updateFn: func(ctx context.Context, cmd services.UpdateProductCommand) (services.ProductAggregate, error) {
			captured = cmd
			return sampleProduct(), nil
		},
	}
	router := productRouter(authn, catalog)

	body := `{"price":"7999","deleteAttributeIds":[1],"addImages":["https://img.example.com/2.jpg"]}`
	req := httptest.NewRequest(http.MethodPut, "/products/3", strings.NewReader(body))
	req.Header.Set("Authorization", bearer(t, authn, domain.RoleAdmin))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	patch := captured.Patch
	if captured.ProductID != 3 || patch.Make != nil || patch.Price == nil || !patch.Price.Equal(decimal.NewFromInt(7999)) {
		t.Fatalf("unexpected patch %+v", captured)
	}
	if len(patch.DeleteAttributeIDs) != 1 || len(patch.AddImageURLs) != 1 {
		t.Fatalf("unexpected child edits %+v", patch)
	}
}
