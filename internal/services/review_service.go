package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/motomarket/api/internal/domain"
	"github.com/motomarket/api/internal/repositories"
)

const (
	reviewEventCreated = "review.created"
	reviewEventDeleted = "review.deleted"

	maxReviewCommentLength = 2000
)

var (
	// ErrReviewInvalidInput indicates validation failures for review operations.
	ErrReviewInvalidInput = errors.New("review: invalid input")
	// ErrReviewNotFound indicates the review or its product could not be located.
	ErrReviewNotFound = errors.New("review: not found")
	// ErrReviewForbidden indicates the actor is not allowed to modify the review.
	ErrReviewForbidden = errors.New("review: forbidden")
)

// ReviewServiceDeps bundles collaborators required to construct a ReviewService.
type ReviewServiceDeps struct {
	Reviews   repositories.ReviewRepository
	Products  repositories.ProductRepository
	Clock     func() time.Time
	Sanitizer func(string) string
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type reviewService struct {
	reviews  repositories.ReviewRepository
	products repositories.ProductRepository
	clock    func() time.Time
	sanitize func(string) string
	logger   func(context.Context, string, map[string]any)
}

var _ ReviewService = (*reviewService)(nil)

// NewReviewService constructs a ReviewService.
func NewReviewService(deps ReviewServiceDeps) (ReviewService, error) {
	if deps.Reviews == nil {
		return nil, errors.New("review service: review repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("review service: product repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	sanitize := deps.Sanitizer
	if sanitize == nil {
		sanitize = newReviewSanitizer()
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &reviewService{
		reviews:  deps.Reviews,
		products: deps.Products,
		clock: func() time.Time {
			return clock().UTC()
		},
		sanitize: sanitize,
		logger:   logger,
	}, nil
}

func (s *reviewService) ListProductReviews(ctx context.Context, productID int64, page Pagination) (domain.Page[Review], error) {
	if productID <= 0 {
		return domain.Page[Review]{}, fmt.Errorf("%w: product id must be positive", ErrReviewInvalidInput)
	}
	if err := s.ensureProduct(ctx, productID); err != nil {
		return domain.Page[Review]{}, err
	}
	id := productID
	result, err := s.reviews.List(ctx, domain.ReviewListFilter{ProductID: &id, Pagination: page.Normalize()})
	if err != nil {
		return domain.Page[Review]{}, s.mapRepositoryError(err)
	}
	if result.Items == nil {
		result.Items = []Review{}
	}
	return result, nil
}

func (s *reviewService) CreateReview(ctx context.Context, cmd CreateReviewCommand) (Review, error) {
	if cmd.Actor.UserID <= 0 {
		return Review{}, fmt.Errorf("%w: authentication required", ErrReviewForbidden)
	}
	if cmd.ProductID <= 0 {
		return Review{}, fmt.Errorf("%w: product id must be positive", ErrReviewInvalidInput)
	}
	if err := validateRating(cmd.Rating); err != nil {
		return Review{}, err
	}
	comment, err := s.normalizeComment(cmd.Comment)
	if err != nil {
		return Review{}, err
	}
	if err := s.ensureProduct(ctx, cmd.ProductID); err != nil {
		return Review{}, err
	}

	created, err := s.reviews.Insert(ctx, Review{
		ProductID: cmd.ProductID,
		UserID:    cmd.Actor.UserID,
		Rating:    cmd.Rating,
		Comment:   comment,
		CreatedAt: s.clock(),
	})
	if err != nil {
		return Review{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, reviewEventCreated, map[string]any{
		"reviewId":  created.ID,
		"productId": created.ProductID,
		"userId":    created.UserID,
	})
	return created, nil
}

func (s *reviewService) UpdateReview(ctx context.Context, cmd UpdateReviewCommand) (Review, error) {
	if cmd.ReviewID <= 0 {
		return Review{}, fmt.Errorf("%w: review id must be positive", ErrReviewInvalidInput)
	}
	if cmd.Rating == nil && cmd.Comment == nil {
		return Review{}, fmt.Errorf("%w: nothing to update", ErrReviewInvalidInput)
	}

	review, err := s.reviews.FindByID(ctx, cmd.ReviewID)
	if err != nil {
		return Review{}, s.mapRepositoryError(err)
	}
	if cmd.Actor.UserID <= 0 || review.UserID != cmd.Actor.UserID {
		return Review{}, fmt.Errorf("%w: only the author may edit a review", ErrReviewForbidden)
	}

	if cmd.Rating != nil {
		if err := validateRating(*cmd.Rating); err != nil {
			return Review{}, err
		}
		review.Rating = *cmd.Rating
	}
	if cmd.Comment != nil {
		comment, err := s.normalizeComment(*cmd.Comment)
		if err != nil {
			return Review{}, err
		}
		review.Comment = comment
	}
	review.UpdatedAt = s.clock()

	updated, err := s.reviews.Update(ctx, review)
	if err != nil {
		return Review{}, s.mapRepositoryError(err)
	}
	return updated, nil
}

func (s *reviewService) DeleteReview(ctx context.Context, reviewID int64, actor Actor) error {
	if reviewID <= 0 {
		return fmt.Errorf("%w: review id must be positive", ErrReviewInvalidInput)
	}
	review, err := s.reviews.FindByID(ctx, reviewID)
	if err != nil {
		return s.mapRepositoryError(err)
	}
	if !actor.CanAccess(review.UserID) {
		return fmt.Errorf("%w: only the author or an admin may delete a review", ErrReviewForbidden)
	}
	if err := s.reviews.Delete(ctx, reviewID); err != nil {
		return s.mapRepositoryError(err)
	}
	s.logger(ctx, reviewEventDeleted, map[string]any{
		"reviewId": reviewID,
		"actorId":  actor.UserID,
	})
	return nil
}

func (s *reviewService) ensureProduct(ctx context.Context, productID int64) error {
	if _, err := s.products.FindByID(ctx, productID); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *reviewService) normalizeComment(raw string) (string, error) {
	comment := strings.TrimSpace(s.sanitize(raw))
	if len(comment) > maxReviewCommentLength {
		return "", fmt.Errorf("%w: comment must be at most %d characters", ErrReviewInvalidInput, maxReviewCommentLength)
	}
	return comment, nil
}

func (s *reviewService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrReviewNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: review references a missing product or user", ErrReviewInvalidInput)
		case repoErr.IsUnavailable():
			return fmt.Errorf("review: repository unavailable: %w", err)
		}
	}

	return err
}

func validateRating(rating int) error {
	if rating < domain.MinReviewRating || rating > domain.MaxReviewRating {
		return fmt.Errorf("%w: rating must be between %d and %d", ErrReviewInvalidInput, domain.MinReviewRating, domain.MaxReviewRating)
	}
	return nil
}

// newReviewSanitizer strips all markup from review comments.
func newReviewSanitizer() func(string) string {
	policy := bluemonday.StrictPolicy()
	return func(input string) string {
		return policy.Sanitize(input)
	}
}
