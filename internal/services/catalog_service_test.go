package services

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	domain "github.com/motomarket/api/internal/domain"
	"github.com/motomarket/api/internal/repositories"
	"github.com/motomarket/api/internal/repositories/memory"
)

type stubProductRepo struct {
	repositories.ProductRepository
	listFn  func(context.Context, domain.ProductFilter) ([]domain.ProductAggregate, error)
	countFn func(context.Context, domain.ProductFilter) (int, error)
}

func (s *stubProductRepo) List(ctx context.Context, filter domain.ProductFilter) ([]domain.ProductAggregate, error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return nil, nil
}

func (s *stubProductRepo) Count(ctx context.Context, filter domain.ProductFilter) (int, error) {
	if s.countFn != nil {
		return s.countFn(ctx, filter)
	}
	return 0, nil
}

func newCatalogFixture(t *testing.T) (*memory.Store, CatalogService) {
	t.Helper()
	store := memory.NewStore()
	svc, err := NewCatalogService(CatalogServiceDeps{
		Products:   store.Products(),
		Categories: store.Categories(),
		UnitOfWork: store,
	})
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}
	return store, svc
}

func seedCatalog(t *testing.T, svc CatalogService) []ProductAggregate {
	t.Helper()
	ctx := context.Background()
	naked, err := svc.CreateCategory(ctx, UpsertCategoryCommand{Name: "Naked"})
	if err != nil {
		t.Fatalf("CreateCategory: %v", err)
	}
	drafts := []ProductDraft{
		{Make: "Aprilia", Model: "Tuono", Year: 2021, Price: decimal.NewFromInt(140), StockQuantity: 2, CategoryID: &naked.ID},
		{Make: "Honda", Model: "Africa Twin", Year: 2019, Price: decimal.NewFromInt(90), StockQuantity: 1},
		{Make: "Kawasaki", Model: "Z650", Year: 2018, Price: decimal.NewFromInt(60), StockQuantity: 3, CategoryID: &naked.ID},
		{Make: "Yamaha", Model: "Tracer", Year: 2022, Price: decimal.NewFromInt(160), StockQuantity: 1},
		{Make: "Suzuki", Model: "SV650", Year: 2017, Price: decimal.NewFromInt(45), StockQuantity: 4},
	}
	out := make([]ProductAggregate, 0, len(drafts))
	for i, draft := range drafts {
		if i == 0 {
			draft.Attributes = []AttributeDraft{{Name: "engine", Value: "V4"}, {Name: "color", Value: "black"}}
			draft.ImageURLs = []string{"https://img/1.jpg", "https://img/1.jpg", " https://img/2.jpg "}
		}
		agg, err := svc.CreateProduct(ctx, CreateProductCommand{Draft: draft})
		if err != nil {
			t.Fatalf("CreateProduct: %v", err)
		}
		out = append(out, agg)
	}
	return out
}

func TestCatalogServiceCreateProductReturnsAggregate(t *testing.T) {
	_, svc := newCatalogFixture(t)
	products := seedCatalog(t, svc)

	got := products[0]
	if got.CategoryName != "Naked" {
		t.Fatalf("expected category name, got %q", got.CategoryName)
	}
	if len(got.Attributes) != 2 || got.Attributes[0].Name != "engine" {
		t.Fatalf("unexpected attributes %+v", got.Attributes)
	}
	if len(got.Images) != 2 || got.Images[1].URL != "https://img/2.jpg" {
		t.Fatalf("expected deduplicated trimmed images, got %+v", got.Images)
	}
	if len(products[1].Attributes) != 0 || products[1].Images == nil {
		t.Fatalf("expected empty non-nil child lists, got %+v", products[1])
	}
}

func TestCatalogServiceSearchAndPriceRange(t *testing.T) {
	_, svc := newCatalogFixture(t)
	seedCatalog(t, svc)

	low, high := decimal.NewFromInt(50), decimal.NewFromInt(150)
	items, err := svc.ListProducts(context.Background(), ProductFilter{
		Search: "a",
		Price:  domain.RangeQuery[decimal.Decimal]{From: &low, To: &high},
	})
	if err != nil {
		t.Fatalf("ListProducts: %v", err)
	}

	want := map[string]bool{"Aprilia": true, "Honda": true, "Kawasaki": true}
	if len(items) != len(want) {
		t.Fatalf("expected %d products, got %+v", len(want), items)
	}
	for _, item := range items {
		if !want[item.Make] {
			t.Fatalf("unexpected product %s", item.Make)
		}
		if item.Price.LessThan(low) || item.Price.GreaterThan(high) {
			t.Fatalf("price %s out of range", item.Price)
		}
	}
}

func TestCatalogServiceCountMatchesUnpagedList(t *testing.T) {
	_, svc := newCatalogFixture(t)
	seeded := seedCatalog(t, svc)
	ctx := context.Background()

	categoryID := *seeded[0].CategoryID
	yearFrom, yearTo := 2018, 2021
	low := decimal.NewFromInt(100)
	filters := []ProductFilter{
		{},
		{Search: "HONDA"},
		{Search: "650"},
		{CategoryID: &categoryID},
		{Year: domain.RangeQuery[int]{From: &yearFrom, To: &yearTo}},
		{Price: domain.RangeQuery[decimal.Decimal]{From: &low}, SortPrice: domain.PriceSortCheap},
		{Search: "nothing-matches"},
		{Pagination: Pagination{Limit: 2, Offset: 1}},
	}

	for _, filter := range filters {
		count, err := svc.CountProducts(ctx, filter)
		if err != nil {
			t.Fatalf("CountProducts: %v", err)
		}
		all, err := svc.ListProducts(ctx, filter.WithoutPaging())
		if err != nil {
			t.Fatalf("ListProducts: %v", err)
		}
		if count != len(all) {
			t.Fatalf("filter %+v: count %d != list %d", filter, count, len(all))
		}
	}
}

func TestCatalogServiceSortAndPage(t *testing.T) {
	_, svc := newCatalogFixture(t)
	seedCatalog(t, svc)

	items, err := svc.ListProducts(context.Background(), ProductFilter{
		SortPrice:  domain.PriceSortCheap,
		Pagination: Pagination{Limit: 2, Offset: 1},
	})
	if err != nil {
		t.Fatalf("ListProducts: %v", err)
	}
	if len(items) != 2 || items[0].Make != "Kawasaki" || items[1].Make != "Honda" {
		t.Fatalf("unexpected page %+v", items)
	}
}

func TestCatalogServiceRejectsInvertedRanges(t *testing.T) {
	_, svc := newCatalogFixture(t)
	low, high := decimal.NewFromInt(10), decimal.NewFromInt(5)
	_, err := svc.ListProducts(context.Background(), ProductFilter{Price: domain.RangeQuery[decimal.Decimal]{From: &low, To: &high}})
	if !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestCatalogServiceCountStripsPaging(t *testing.T) {
	var captured domain.ProductFilter
	repo := &stubProductRepo{countFn: func(_ context.Context, filter domain.ProductFilter) (int, error) {
		captured = filter
		return 3, nil
	}}
	svc, err := NewCatalogService(CatalogServiceDeps{Products: repo, Categories: memory.NewStore().Categories()})
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}

	count, err := svc.CountProducts(context.Background(), ProductFilter{
		Search:     "  duke ",
		SortPrice:  domain.PriceSortExpensive,
		Pagination: Pagination{Limit: 10, Offset: 20},
	})
	if err != nil || count != 3 {
		t.Fatalf("CountProducts = %d, %v", count, err)
	}
	if captured.Pagination != (Pagination{}) || captured.SortPrice != domain.PriceSortNone || captured.Search != "duke" {
		t.Fatalf("expected normalised unpaged filter, got %+v", captured)
	}
}

func TestCatalogServiceGetProductNotFound(t *testing.T) {
	_, svc := newCatalogFixture(t)
	if _, err := svc.GetProduct(context.Background(), 404); !errors.Is(err, ErrCatalogNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.GetProduct(context.Background(), 0); !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestCatalogServiceUpdateProductChildren(t *testing.T) {
	_, svc := newCatalogFixture(t)
	products := seedCatalog(t, svc)
	target := products[0]

	model := "Tuono V4"
	updated, err := svc.UpdateProduct(context.Background(), UpdateProductCommand{
		ProductID: target.ID,
		Patch: ProductPatch{
			Model:              &model,
			DeleteAttributeIDs: []int64{target.Attributes[1].ID},
			AddAttributes:      []AttributeDraft{{Name: "abs", Value: "yes"}},
			DeleteImageURLs:    []string{"https://img/1.jpg"},
		},
	})
	if err != nil {
		t.Fatalf("UpdateProduct: %v", err)
	}
	if updated.Model != "Tuono V4" || updated.Make != "Aprilia" {
		t.Fatalf("unexpected scalar fields %+v", updated.Product)
	}
	if len(updated.Attributes) != 2 || updated.Attributes[1].Name != "abs" {
		t.Fatalf("unexpected attributes %+v", updated.Attributes)
	}
	if len(updated.Images) != 1 || updated.Images[0].URL != "https://img/2.jpg" {
		t.Fatalf("unexpected images %+v", updated.Images)
	}

	negative := -1
	if _, err := svc.UpdateProduct(context.Background(), UpdateProductCommand{
		ProductID: target.ID,
		Patch:     ProductPatch{StockQuantity: &negative},
	}); !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("expected invalid input for negative stock, got %v", err)
	}
}

func TestCatalogServiceCreateProductValidation(t *testing.T) {
	_, svc := newCatalogFixture(t)
	missing := int64(77)
	tests := []struct {
		name  string
		draft ProductDraft
	}{
		{name: "missing make", draft: ProductDraft{Model: "X", Year: 2020}},
		{name: "missing model", draft: ProductDraft{Make: "X", Year: 2020}},
		{name: "zero year", draft: ProductDraft{Make: "X", Model: "Y"}},
		{name: "negative price", draft: ProductDraft{Make: "X", Model: "Y", Year: 2020, Price: decimal.NewFromInt(-1)}},
		{name: "unknown category", draft: ProductDraft{Make: "X", Model: "Y", Year: 2020, CategoryID: &missing}},
		{name: "blank attribute", draft: ProductDraft{Make: "X", Model: "Y", Year: 2020, Attributes: []AttributeDraft{{Value: "v"}}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.CreateProduct(context.Background(), CreateProductCommand{Draft: tc.draft}); !errors.Is(err, ErrCatalogInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
}

func TestCatalogServiceDeleteProductReferencedByOrders(t *testing.T) {
	store, svc := newCatalogFixture(t)
	products := seedCatalog(t, svc)
	target := products[0]
	user := store.AddUser(domain.User{FirstName: "Ida"})

	if _, err := store.Orders().Insert(context.Background(), domain.Order{
		Reference: "ord_x",
		UserID:    user.ID,
		Status:    domain.OrderStatusPending,
		Lines:     []domain.OrderLine{{ProductID: target.ID, Quantity: 1, Price: target.Price}},
	}); err != nil {
		t.Fatalf("insert order: %v", err)
	}

	err := svc.DeleteProduct(context.Background(), DeleteProductCommand{ProductID: target.ID})
	if !errors.Is(err, ErrCatalogConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	after, err := svc.GetProduct(context.Background(), target.ID)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if len(after.Attributes) != len(target.Attributes) || len(after.Images) != len(target.Images) {
		t.Fatalf("expected children untouched, got %+v", after)
	}

	free := products[1]
	if err := svc.DeleteProduct(context.Background(), DeleteProductCommand{ProductID: free.ID}); err != nil {
		t.Fatalf("DeleteProduct: %v", err)
	}
	if _, err := svc.GetProduct(context.Background(), free.ID); !errors.Is(err, ErrCatalogNotFound) {
		t.Fatalf("expected deleted product to be gone, got %v", err)
	}
	if err := svc.DeleteProduct(context.Background(), DeleteProductCommand{ProductID: free.ID}); !errors.Is(err, ErrCatalogNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestCatalogServiceCategoryLifecycle(t *testing.T) {
	_, svc := newCatalogFixture(t)
	ctx := context.Background()
	products := seedCatalog(t, svc)
	naked := *products[0].CategoryID

	if _, err := svc.CreateCategory(ctx, UpsertCategoryCommand{Name: "  "}); !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := svc.CreateCategory(ctx, UpsertCategoryCommand{Name: "naked"}); !errors.Is(err, ErrCatalogConflict) {
		t.Fatalf("expected duplicate name conflict, got %v", err)
	}
	if err := svc.DeleteCategory(ctx, naked); !errors.Is(err, ErrCatalogConflict) {
		t.Fatalf("expected conflict while products reference category, got %v", err)
	}

	touring, err := svc.CreateCategory(ctx, UpsertCategoryCommand{Name: "Touring", Description: "long distance"})
	if err != nil {
		t.Fatalf("CreateCategory: %v", err)
	}
	renamed, err := svc.UpdateCategory(ctx, UpsertCategoryCommand{CategoryID: touring.ID, Name: "Adventure"})
	if err != nil || renamed.Name != "Adventure" {
		t.Fatalf("UpdateCategory = %+v, %v", renamed, err)
	}
	if err := svc.DeleteCategory(ctx, touring.ID); err != nil {
		t.Fatalf("DeleteCategory: %v", err)
	}
	if _, err := svc.GetCategory(ctx, touring.ID); !errors.Is(err, ErrCatalogNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	list, err := svc.ListCategories(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListCategories = %+v, %v", list, err)
	}
}
