package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/motomarket/api/internal/repositories"
)

const (
	catalogEventProductCreated  = "product.created"
	catalogEventProductUpdated  = "product.updated"
	catalogEventProductDeleted  = "product.deleted"
	catalogEventCategoryDeleted = "category.deleted"

	maxProductNameLength   = 120
	maxCategoryNameLength  = 120
	maxAttributeNameLength = 120
)

var (
	// ErrCatalogInvalidInput indicates the caller supplied invalid catalog data.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogNotFound indicates the product or category does not exist.
	ErrCatalogNotFound = errors.New("catalog: not found")
	// ErrCatalogConflict indicates the entity is still referenced and cannot be removed.
	ErrCatalogConflict = errors.New("catalog: conflict")
)

// CatalogServiceDeps bundles collaborators required to construct the catalog service.
type CatalogServiceDeps struct {
	Products   repositories.ProductRepository
	Categories repositories.CategoryRepository
	UnitOfWork repositories.UnitOfWork
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	products   repositories.ProductRepository
	categories repositories.CategoryRepository
	unitOfWork repositories.UnitOfWork
	logger     func(context.Context, string, map[string]any)
}

var _ CatalogService = (*catalogService)(nil)

// NewCatalogService wires dependencies into a CatalogService implementation.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}
	if deps.Categories == nil {
		return nil, errors.New("catalog service: category repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &catalogService{
		products:   deps.Products,
		categories: deps.Categories,
		unitOfWork: unit,
		logger:     logger,
	}, nil
}

func (s *catalogService) ListProducts(ctx context.Context, filter ProductFilter) ([]ProductAggregate, error) {
	if err := validateProductFilter(filter); err != nil {
		return nil, err
	}
	items, err := s.products.List(ctx, filter.Normalize())
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	if items == nil {
		items = []ProductAggregate{}
	}
	return items, nil
}

func (s *catalogService) CountProducts(ctx context.Context, filter ProductFilter) (int, error) {
	if err := validateProductFilter(filter); err != nil {
		return 0, err
	}
	count, err := s.products.Count(ctx, filter.Normalize().WithoutPaging())
	if err != nil {
		return 0, s.mapRepositoryError(err)
	}
	return count, nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID int64) (ProductAggregate, error) {
	if productID <= 0 {
		return ProductAggregate{}, fmt.Errorf("%w: product id must be positive", ErrCatalogInvalidInput)
	}
	return s.loadAggregate(ctx, productID)
}

func (s *catalogService) CreateProduct(ctx context.Context, cmd CreateProductCommand) (ProductAggregate, error) {
	draft, err := normalizeProductDraft(cmd.Draft)
	if err != nil {
		return ProductAggregate{}, err
	}

	var created ProductAggregate
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.ensureCategory(txCtx, draft.CategoryID); err != nil {
			return err
		}
		product, err := s.products.Insert(txCtx, draft)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		created, err = s.loadAggregate(txCtx, product.ID)
		return err
	})
	if err != nil {
		return ProductAggregate{}, err
	}

	s.logger(ctx, catalogEventProductCreated, map[string]any{
		"productId": created.ID,
		"actorId":   cmd.ActorID,
	})
	return created, nil
}

func (s *catalogService) UpdateProduct(ctx context.Context, cmd UpdateProductCommand) (ProductAggregate, error) {
	if cmd.ProductID <= 0 {
		return ProductAggregate{}, fmt.Errorf("%w: product id must be positive", ErrCatalogInvalidInput)
	}
	patch, err := normalizeProductPatch(cmd.Patch)
	if err != nil {
		return ProductAggregate{}, err
	}

	var updated ProductAggregate
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.products.FindByID(txCtx, cmd.ProductID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.ensureCategory(txCtx, patch.CategoryID); err != nil {
			return err
		}
		next := current
		patch.Apply(&next)
		if err := validateProductFields(next.Make, next.Model, next.Year, next.Price, next.StockQuantity); err != nil {
			return err
		}
		if _, err := s.products.Update(txCtx, next, patch); err != nil {
			return s.mapRepositoryError(err)
		}
		updated, err = s.loadAggregate(txCtx, cmd.ProductID)
		return err
	})
	if err != nil {
		return ProductAggregate{}, err
	}

	s.logger(ctx, catalogEventProductUpdated, map[string]any{
		"productId": updated.ID,
		"actorId":   cmd.ActorID,
	})
	return updated, nil
}

func (s *catalogService) DeleteProduct(ctx context.Context, cmd DeleteProductCommand) error {
	if cmd.ProductID <= 0 {
		return fmt.Errorf("%w: product id must be positive", ErrCatalogInvalidInput)
	}

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		if _, err := s.products.FindByID(txCtx, cmd.ProductID); err != nil {
			return s.mapRepositoryError(err)
		}
		referenced, err := s.products.HasOrderLines(txCtx, cmd.ProductID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if referenced {
			return fmt.Errorf("%w: product referenced by existing order lines", ErrCatalogConflict)
		}
		if err := s.products.Delete(txCtx, cmd.ProductID); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger(ctx, catalogEventProductDeleted, map[string]any{
		"productId": cmd.ProductID,
		"actorId":   cmd.ActorID,
	})
	return nil
}

func (s *catalogService) ListCategories(ctx context.Context) ([]Category, error) {
	items, err := s.categories.List(ctx)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	if items == nil {
		items = []Category{}
	}
	return items, nil
}

func (s *catalogService) GetCategory(ctx context.Context, categoryID int64) (Category, error) {
	if categoryID <= 0 {
		return Category{}, fmt.Errorf("%w: category id must be positive", ErrCatalogInvalidInput)
	}
	category, err := s.categories.FindByID(ctx, categoryID)
	if err != nil {
		return Category{}, s.mapRepositoryError(err)
	}
	return category, nil
}

func (s *catalogService) CreateCategory(ctx context.Context, cmd UpsertCategoryCommand) (Category, error) {
	category, err := normalizeCategory(cmd)
	if err != nil {
		return Category{}, err
	}
	category.ID = 0
	created, err := s.categories.Insert(ctx, category)
	if err != nil {
		return Category{}, s.mapRepositoryError(err)
	}
	return created, nil
}

func (s *catalogService) UpdateCategory(ctx context.Context, cmd UpsertCategoryCommand) (Category, error) {
	if cmd.CategoryID <= 0 {
		return Category{}, fmt.Errorf("%w: category id must be positive", ErrCatalogInvalidInput)
	}
	category, err := normalizeCategory(cmd)
	if err != nil {
		return Category{}, err
	}
	updated, err := s.categories.Update(ctx, category)
	if err != nil {
		return Category{}, s.mapRepositoryError(err)
	}
	return updated, nil
}

func (s *catalogService) DeleteCategory(ctx context.Context, categoryID int64) error {
	if categoryID <= 0 {
		return fmt.Errorf("%w: category id must be positive", ErrCatalogInvalidInput)
	}

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		if _, err := s.categories.FindByID(txCtx, categoryID); err != nil {
			return s.mapRepositoryError(err)
		}
		inUse, err := s.categories.HasProducts(txCtx, categoryID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if inUse {
			return fmt.Errorf("%w: category referenced by existing products", ErrCatalogConflict)
		}
		if err := s.categories.Delete(txCtx, categoryID); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger(ctx, catalogEventCategoryDeleted, map[string]any{"categoryId": categoryID})
	return nil
}

func (s *catalogService) loadAggregate(ctx context.Context, productID int64) (ProductAggregate, error) {
	id := productID
	items, err := s.products.List(ctx, ProductFilter{ProductID: &id})
	if err != nil {
		return ProductAggregate{}, s.mapRepositoryError(err)
	}
	if len(items) == 0 {
		return ProductAggregate{}, fmt.Errorf("%w: product %d", ErrCatalogNotFound, productID)
	}
	return items[0], nil
}

func (s *catalogService) ensureCategory(ctx context.Context, categoryID *int64) error {
	if categoryID == nil {
		return nil
	}
	if _, err := s.categories.FindByID(ctx, *categoryID); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return fmt.Errorf("%w: category %d does not exist", ErrCatalogInvalidInput, *categoryID)
		}
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *catalogService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *catalogService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCatalogNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCatalogConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("catalog: repository unavailable: %w", err)
		}
	}

	return err
}

func validateProductFilter(filter ProductFilter) error {
	if filter.Price.From != nil && filter.Price.To != nil && filter.Price.From.GreaterThan(*filter.Price.To) {
		return fmt.Errorf("%w: priceMin must not exceed priceMax", ErrCatalogInvalidInput)
	}
	if filter.Year.From != nil && filter.Year.To != nil && *filter.Year.From > *filter.Year.To {
		return fmt.Errorf("%w: yearMin must not exceed yearMax", ErrCatalogInvalidInput)
	}
	return nil
}

func normalizeProductDraft(draft ProductDraft) (ProductDraft, error) {
	draft.Make = strings.TrimSpace(draft.Make)
	draft.Model = strings.TrimSpace(draft.Model)
	draft.Description = strings.TrimSpace(draft.Description)
	if err := validateProductFields(draft.Make, draft.Model, draft.Year, draft.Price, draft.StockQuantity); err != nil {
		return ProductDraft{}, err
	}
	attrs, err := normalizeAttributes(draft.Attributes)
	if err != nil {
		return ProductDraft{}, err
	}
	draft.Attributes = attrs
	draft.ImageURLs = normalizeImageURLs(draft.ImageURLs)
	return draft, nil
}

func normalizeProductPatch(patch ProductPatch) (ProductPatch, error) {
	attrs, err := normalizeAttributes(patch.AddAttributes)
	if err != nil {
		return ProductPatch{}, err
	}
	patch.AddAttributes = attrs
	patch.AddImageURLs = normalizeImageURLs(patch.AddImageURLs)
	patch.DeleteImageURLs = normalizeImageURLs(patch.DeleteImageURLs)
	for _, id := range patch.DeleteAttributeIDs {
		if id <= 0 {
			return ProductPatch{}, fmt.Errorf("%w: attribute ids must be positive", ErrCatalogInvalidInput)
		}
	}
	return patch, nil
}

func validateProductFields(brand, model string, year int, price decimal.Decimal, stock int) error {
	switch {
	case brand == "":
		return fmt.Errorf("%w: make is required", ErrCatalogInvalidInput)
	case model == "":
		return fmt.Errorf("%w: model is required", ErrCatalogInvalidInput)
	case len(brand) > maxProductNameLength || len(model) > maxProductNameLength:
		return fmt.Errorf("%w: make and model must be at most %d characters", ErrCatalogInvalidInput, maxProductNameLength)
	case year <= 0:
		return fmt.Errorf("%w: year must be positive", ErrCatalogInvalidInput)
	case price.IsNegative():
		return fmt.Errorf("%w: price must not be negative", ErrCatalogInvalidInput)
	case stock < 0:
		return fmt.Errorf("%w: stock quantity must not be negative", ErrCatalogInvalidInput)
	}
	return nil
}

func normalizeAttributes(attrs []AttributeDraft) ([]AttributeDraft, error) {
	if len(attrs) == 0 {
		return nil, nil
	}
	out := make([]AttributeDraft, 0, len(attrs))
	for _, attr := range attrs {
		name := strings.TrimSpace(attr.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: attribute name is required", ErrCatalogInvalidInput)
		}
		if len(name) > maxAttributeNameLength {
			return nil, fmt.Errorf("%w: attribute name must be at most %d characters", ErrCatalogInvalidInput, maxAttributeNameLength)
		}
		out = append(out, AttributeDraft{Name: name, Value: strings.TrimSpace(attr.Value)})
	}
	return out, nil
}

func normalizeImageURLs(urls []string) []string {
	if len(urls) == 0 {
		return nil
	}
	out := make([]string, 0, len(urls))
	seen := make(map[string]struct{}, len(urls))
	for _, raw := range urls {
		url := strings.TrimSpace(raw)
		if url == "" {
			continue
		}
		if _, ok := seen[url]; ok {
			continue
		}
		seen[url] = struct{}{}
		out = append(out, url)
	}
	return out
}

func normalizeCategory(cmd UpsertCategoryCommand) (Category, error) {
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return Category{}, fmt.Errorf("%w: category name is required", ErrCatalogInvalidInput)
	}
	if len(name) > maxCategoryNameLength {
		return Category{}, fmt.Errorf("%w: category name must be at most %d characters", ErrCatalogInvalidInput, maxCategoryNameLength)
	}
	return Category{
		ID:          cmd.CategoryID,
		Name:        name,
		Description: strings.TrimSpace(cmd.Description),
	}, nil
}
