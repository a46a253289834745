//go:build integration

package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/motomarket/api/internal/domain"
	pconfig "github.com/motomarket/api/internal/platform/config"
	ppostgres "github.com/motomarket/api/internal/platform/postgres"
	"github.com/motomarket/api/internal/repositories"
)

func newIntegrationRegistry(t *testing.T) (*Registry, *ppostgres.Provider) {
	t.Helper()
	url := os.Getenv("API_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("API_TEST_DATABASE_URL not set")
	}

	provider := ppostgres.NewProvider(pconfig.DatabaseConfig{URL: url, MaxConns: 4})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	if _, err := provider.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	pool, err := provider.Pool(ctx)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE reviews, order_lines, orders, product_images, product_attributes, products, categories, users RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	reg, err := NewRegistry(provider)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg, provider
}

func seedUser(t *testing.T, provider *ppostgres.Provider) int64 {
	t.Helper()
	ctx := context.Background()
	pool, err := provider.Pool(ctx)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	var id int64
	if err := pool.QueryRow(ctx, `INSERT INTO users (first_name, last_name, email) VALUES ('Ana', 'Lee', 'ana@example.com') RETURNING id`).Scan(&id); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return id
}

func TestRegistryProductAggregatesIntegration(t *testing.T) {
	reg, _ := newIntegrationRegistry(t)
	ctx := context.Background()

	category, err := reg.Categories().Insert(ctx, domain.Category{Name: "Naked"})
	if err != nil {
		t.Fatalf("insert category: %v", err)
	}
	if _, err := reg.Categories().Insert(ctx, domain.Category{Name: "naked"}); !isConflict(err) {
		t.Fatalf("expected duplicate category conflict, got %v", err)
	}

	var product domain.Product
	err = reg.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		product, err = reg.Products().Insert(txCtx, domain.ProductDraft{
			Make: "Honda", Model: "CB650R", Year: 2021, Price: decimal.RequireFromString("90.50"),
			StockQuantity: 4, CategoryID: &category.ID,
			Attributes: []domain.AttributeDraft{{Name: "engine", Value: "649cc"}, {Name: "abs", Value: "yes"}},
			ImageURLs:  []string{"https://img/1.jpg"},
		})
		return err
	})
	if err != nil {
		t.Fatalf("insert product: %v", err)
	}
	if _, err := reg.Products().Insert(ctx, domain.ProductDraft{Make: "Yamaha", Model: "R1", Year: 2019, Price: decimal.NewFromInt(150)}); err != nil {
		t.Fatalf("insert product: %v", err)
	}

	items, err := reg.Products().List(ctx, domain.ProductFilter{Search: "cb6", SortPrice: domain.PriceSortCheap})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected one match, got %d", len(items))
	}
	got := items[0]
	if got.CategoryName != "Naked" || len(got.Attributes) != 2 || len(got.Images) != 1 || !got.Price.Equal(decimal.RequireFromString("90.5")) {
		t.Fatalf("unexpected aggregate %+v", got)
	}

	count, err := reg.Products().Count(ctx, domain.ProductFilter{Pagination: domain.Pagination{Limit: 1}})
	if err != nil || count != 2 {
		t.Fatalf("expected count 2 ignoring paging, got %d err=%v", count, err)
	}

	if err := reg.Categories().Delete(ctx, category.ID); !isConflict(err) {
		t.Fatalf("expected category in use conflict, got %v", err)
	}
	if err := reg.Products().AdjustStock(ctx, product.ID, -6); err != nil {
		t.Fatalf("adjust stock: %v", err)
	}
	stored, err := reg.Products().FindByID(ctx, product.ID)
	if err != nil || stored.StockQuantity != -2 {
		t.Fatalf("expected stock -2, got %+v err=%v", stored, err)
	}
}

func TestRegistryOrderLifecycleIntegration(t *testing.T) {
	reg, provider := newIntegrationRegistry(t)
	ctx := context.Background()
	userID := seedUser(t, provider)

	product, err := reg.Products().Insert(ctx, domain.ProductDraft{Make: "KTM", Model: "Duke", Year: 2022, Price: decimal.NewFromInt(100), StockQuantity: 5})
	if err != nil {
		t.Fatalf("insert product: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	order, err := reg.Orders().Insert(ctx, domain.Order{
		Reference:  "ord_integration",
		UserID:     userID,
		Customer:   domain.CustomerDetails{FirstName: "Ana", LastName: "Lee", Email: "ana@example.com", ShipAddress: "1 Road"},
		TotalPrice: decimal.NewFromInt(200),
		Status:     domain.OrderStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
		Lines: []domain.OrderLine{{
			ProductID: product.ID, Quantity: 2, Price: product.Price, Make: product.Make, Model: product.Model, Year: product.Year,
		}},
	})
	if err != nil {
		t.Fatalf("insert order: %v", err)
	}
	if len(order.Lines) != 1 || order.Lines[0].ID == 0 || order.Lines[0].OrderID != order.ID {
		t.Fatalf("unexpected lines %+v", order.Lines)
	}

	if err := reg.Products().Delete(ctx, product.ID); !isConflict(err) {
		t.Fatalf("expected product delete conflict, got %v", err)
	}

	updated, err := reg.Orders().UpdateStatus(ctx, order.ID, domain.OrderStatusPending, domain.OrderStatusShipped, now.Add(time.Minute))
	if err != nil || updated.Status != domain.OrderStatusShipped || len(updated.Lines) != 1 {
		t.Fatalf("unexpected update %+v err=%v", updated, err)
	}
	if _, err := reg.Orders().UpdateStatus(ctx, order.ID, domain.OrderStatusPending, domain.OrderStatusCancelled, now.Add(2*time.Minute)); !isConflict(err) {
		t.Fatalf("expected conflict for stale status, got %v", err)
	}

	page, err := reg.Orders().List(ctx, domain.OrderListFilter{UserID: &userID, Status: []domain.OrderStatus{domain.OrderStatusShipped}})
	if err != nil || page.Total != 1 || len(page.Items[0].Lines) != 1 {
		t.Fatalf("unexpected page %+v err=%v", page, err)
	}

	if err := reg.Orders().Delete(ctx, order.ID); err != nil {
		t.Fatalf("delete order: %v", err)
	}
	if _, err := reg.Orders().FindByID(ctx, order.ID); !isNotFound(err) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := reg.Products().Delete(ctx, product.ID); err != nil {
		t.Fatalf("expected product delete after order removal, got %v", err)
	}
}

func isConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
