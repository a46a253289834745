package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	domain "github.com/motomarket/api/internal/domain"
	"github.com/motomarket/api/internal/repositories"
)

type productRepository struct {
	store *Store
}

var _ repositories.ProductRepository = productRepository{}

func (r productRepository) List(_ context.Context, filter domain.ProductFilter) ([]domain.ProductAggregate, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	matches := r.matching(filter)
	switch filter.SortPrice {
	case domain.PriceSortCheap:
		slices.SortStableFunc(matches, func(a, b domain.Product) int { return a.Price.Cmp(b.Price) })
	case domain.PriceSortExpensive:
		slices.SortStableFunc(matches, func(a, b domain.Product) int { return b.Price.Cmp(a.Price) })
	}
	matches = page(matches, filter.Pagination)

	out := make([]domain.ProductAggregate, 0, len(matches))
	for _, product := range matches {
		out = append(out, r.aggregate(product))
	}
	return out, nil
}

func (r productRepository) Count(_ context.Context, filter domain.ProductFilter) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return len(r.matching(filter)), nil
}

func (r productRepository) FindByID(_ context.Context, productID int64) (domain.Product, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	product, ok := r.store.data.products[productID]
	if !ok {
		return domain.Product{}, notFound("products.find", "product %d not found", productID)
	}
	return product, nil
}

func (r productRepository) Insert(_ context.Context, draft domain.ProductDraft) (domain.Product, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if draft.CategoryID != nil {
		if _, ok := r.store.data.categories[*draft.CategoryID]; !ok {
			return domain.Product{}, conflict("products.insert", "category %d does not exist", *draft.CategoryID)
		}
	}

	product := domain.Product{
		ID:            r.store.nextID(),
		Make:          draft.Make,
		Model:         draft.Model,
		Year:          draft.Year,
		Price:         draft.Price,
		Description:   draft.Description,
		StockQuantity: draft.StockQuantity,
		CategoryID:    cloneID(draft.CategoryID),
		CreatedAt:     time.Now().UTC(),
	}
	r.store.data.products[product.ID] = product
	r.addChildren(product.ID, draft.Attributes, draft.ImageURLs)
	return product, nil
}

func (r productRepository) Update(_ context.Context, product domain.Product, patch domain.ProductPatch) (domain.Product, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	current, ok := r.store.data.products[product.ID]
	if !ok {
		return domain.Product{}, notFound("products.update", "product %d not found", product.ID)
	}
	product.CreatedAt = current.CreatedAt
	product.CategoryID = cloneID(product.CategoryID)
	r.store.data.products[product.ID] = product

	for _, attrID := range patch.DeleteAttributeIDs {
		if attr, ok := r.store.data.attributes[attrID]; ok && attr.ProductID == product.ID {
			delete(r.store.data.attributes, attrID)
		}
	}
	for id, image := range r.store.data.images {
		if image.ProductID == product.ID && slices.Contains(patch.DeleteImageURLs, image.URL) {
			delete(r.store.data.images, id)
		}
	}
	r.addChildren(product.ID, patch.AddAttributes, patch.AddImageURLs)
	return product, nil
}

func (r productRepository) Delete(_ context.Context, productID int64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.data.products[productID]; !ok {
		return notFound("products.delete", "product %d not found", productID)
	}
	if r.referencedByOrders(productID) {
		return conflict("products.delete", "product %d is referenced by order lines", productID)
	}
	delete(r.store.data.products, productID)
	for id, attr := range r.store.data.attributes {
		if attr.ProductID == productID {
			delete(r.store.data.attributes, id)
		}
	}
	for id, image := range r.store.data.images {
		if image.ProductID == productID {
			delete(r.store.data.images, id)
		}
	}
	for id, review := range r.store.data.reviews {
		if review.ProductID == productID {
			delete(r.store.data.reviews, id)
		}
	}
	return nil
}

func (r productRepository) HasOrderLines(_ context.Context, productID int64) (bool, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return r.referencedByOrders(productID), nil
}

func (r productRepository) AdjustStock(_ context.Context, productID int64, delta int) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	product, ok := r.store.data.products[productID]
	if !ok {
		return notFound("products.adjust_stock", "product %d not found", productID)
	}
	product.StockQuantity += delta
	r.store.data.products[productID] = product
	return nil
}

func (r productRepository) matching(filter domain.ProductFilter) []domain.Product {
	all := sortedValues(r.store.data.products, func(a, b domain.Product) int { return cmp.Compare(a.ID, b.ID) })
	out := make([]domain.Product, 0, len(all))
	for _, product := range all {
		if filter.Matches(product) {
			out = append(out, product)
		}
	}
	return out
}

func (r productRepository) aggregate(product domain.Product) domain.ProductAggregate {
	agg := domain.ProductAggregate{
		Product:    product,
		Attributes: []domain.ProductAttribute{},
		Images:     []domain.ProductImage{},
	}
	if product.CategoryID != nil {
		agg.CategoryName = r.store.data.categories[*product.CategoryID].Name
	}
	for _, attr := range sortedValues(r.store.data.attributes, func(a, b domain.ProductAttribute) int { return cmp.Compare(a.ID, b.ID) }) {
		if attr.ProductID == product.ID {
			agg.Attributes = append(agg.Attributes, attr)
		}
	}
	for _, image := range sortedValues(r.store.data.images, func(a, b domain.ProductImage) int { return cmp.Compare(a.ID, b.ID) }) {
		if image.ProductID == product.ID {
			agg.Images = append(agg.Images, image)
		}
	}
	return agg
}

func (r productRepository) addChildren(productID int64, attrs []domain.AttributeDraft, urls []string) {
	for _, attr := range attrs {
		id := r.store.nextID()
		r.store.data.attributes[id] = domain.ProductAttribute{ID: id, ProductID: productID, Name: attr.Name, Value: attr.Value}
	}
	for _, url := range urls {
		id := r.store.nextID()
		r.store.data.images[id] = domain.ProductImage{ID: id, ProductID: productID, URL: url}
	}
}

func (r productRepository) referencedByOrders(productID int64) bool {
	for _, order := range r.store.data.orders {
		for _, line := range order.Lines {
			if line.ProductID == productID {
				return true
			}
		}
	}
	return false
}

func cloneID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
