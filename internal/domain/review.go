package domain

import "time"

const (
	// MinReviewRating is the lowest accepted review rating.
	MinReviewRating = 1
	// MaxReviewRating is the highest accepted review rating.
	MaxReviewRating = 5
)

// Review is a user's rating and comment on a product.
type Review struct {
	ID        int64
	ProductID int64
	UserID    int64
	Rating    int
	Comment   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ReviewListFilter narrows review listings.
type ReviewListFilter struct {
	ProductID  *int64
	UserID     *int64
	Pagination Pagination
}
