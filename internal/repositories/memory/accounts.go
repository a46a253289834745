package memory

import (
	"cmp"
	"context"
	"strings"

	domain "github.com/motomarket/api/internal/domain"
	"github.com/motomarket/api/internal/repositories"
)

type categoryRepository struct {
	store *Store
}

var _ repositories.CategoryRepository = categoryRepository{}

func (r categoryRepository) List(context.Context) ([]domain.Category, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return sortedValues(r.store.data.categories, func(a, b domain.Category) int { return cmp.Compare(a.ID, b.ID) }), nil
}

func (r categoryRepository) FindByID(_ context.Context, categoryID int64) (domain.Category, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	category, ok := r.store.data.categories[categoryID]
	if !ok {
		return domain.Category{}, notFound("categories.find", "category %d not found", categoryID)
	}
	return category, nil
}

func (r categoryRepository) Insert(_ context.Context, category domain.Category) (domain.Category, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.nameTaken(category.Name, 0) {
		return domain.Category{}, conflict("categories.insert", "category %q already exists", category.Name)
	}
	category.ID = r.store.nextID()
	r.store.data.categories[category.ID] = category
	return category, nil
}

func (r categoryRepository) Update(_ context.Context, category domain.Category) (domain.Category, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.data.categories[category.ID]; !ok {
		return domain.Category{}, notFound("categories.update", "category %d not found", category.ID)
	}
	if r.nameTaken(category.Name, category.ID) {
		return domain.Category{}, conflict("categories.update", "category %q already exists", category.Name)
	}
	r.store.data.categories[category.ID] = category
	return category, nil
}

func (r categoryRepository) Delete(_ context.Context, categoryID int64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.data.categories[categoryID]; !ok {
		return notFound("categories.delete", "category %d not found", categoryID)
	}
	if r.inUse(categoryID) {
		return conflict("categories.delete", "category %d is referenced by products", categoryID)
	}
	delete(r.store.data.categories, categoryID)
	return nil
}

func (r categoryRepository) HasProducts(_ context.Context, categoryID int64) (bool, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return r.inUse(categoryID), nil
}

func (r categoryRepository) inUse(categoryID int64) bool {
	for _, product := range r.store.data.products {
		if product.CategoryID != nil && *product.CategoryID == categoryID {
			return true
		}
	}
	return false
}

func (r categoryRepository) nameTaken(name string, exceptID int64) bool {
	for id, existing := range r.store.data.categories {
		if id != exceptID && strings.EqualFold(existing.Name, name) {
			return true
		}
	}
	return false
}

type userRepository struct {
	store *Store
}

var _ repositories.UserRepository = userRepository{}

func (r userRepository) FindByID(_ context.Context, userID int64) (domain.User, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	user, ok := r.store.data.users[userID]
	if !ok {
		return domain.User{}, notFound("users.find", "user %d not found", userID)
	}
	return user, nil
}

func (r userRepository) List(_ context.Context, pagination domain.Pagination) (domain.Page[domain.User], error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	all := sortedValues(r.store.data.users, func(a, b domain.User) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return domain.Page[domain.User]{Items: page(all, pagination), Total: len(all)}, nil
}

type reviewRepository struct {
	store *Store
}

var _ repositories.ReviewRepository = reviewRepository{}

func (r reviewRepository) List(_ context.Context, filter domain.ReviewListFilter) (domain.Page[domain.Review], error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	all := sortedValues(r.store.data.reviews, func(a, b domain.Review) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	matches := make([]domain.Review, 0, len(all))
	for _, review := range all {
		if filter.ProductID != nil && review.ProductID != *filter.ProductID {
			continue
		}
		if filter.UserID != nil && review.UserID != *filter.UserID {
			continue
		}
		matches = append(matches, review)
	}
	return domain.Page[domain.Review]{Items: page(matches, filter.Pagination), Total: len(matches)}, nil
}

func (r reviewRepository) FindByID(_ context.Context, reviewID int64) (domain.Review, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	review, ok := r.store.data.reviews[reviewID]
	if !ok {
		return domain.Review{}, notFound("reviews.find", "review %d not found", reviewID)
	}
	return review, nil
}

func (r reviewRepository) Insert(_ context.Context, review domain.Review) (domain.Review, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.data.products[review.ProductID]; !ok {
		return domain.Review{}, conflict("reviews.insert", "product %d does not exist", review.ProductID)
	}
	review.ID = r.store.nextID()
	r.store.data.reviews[review.ID] = review
	return review, nil
}

func (r reviewRepository) Update(_ context.Context, review domain.Review) (domain.Review, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	current, ok := r.store.data.reviews[review.ID]
	if !ok {
		return domain.Review{}, notFound("reviews.update", "review %d not found", review.ID)
	}
	current.Rating = review.Rating
	current.Comment = review.Comment
	current.UpdatedAt = review.UpdatedAt
	r.store.data.reviews[review.ID] = current
	return current, nil
}

func (r reviewRepository) Delete(_ context.Context, reviewID int64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.data.reviews[reviewID]; !ok {
		return notFound("reviews.delete", "review %d not found", reviewID)
	}
	delete(r.store.data.reviews, reviewID)
	return nil
}
