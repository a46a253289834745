package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/motomarket/api/internal/platform/auth"
	"github.com/motomarket/api/internal/platform/httpx"
	"github.com/motomarket/api/internal/platform/pagination"
	"github.com/motomarket/api/internal/services"
)

const (
	maxReviewBodySize = 32 * 1024

	defaultReviewRateLimit  = 10
	defaultReviewRateWindow = time.Minute
)

// ReviewHandlers exposes product review listing and authenticated review management.
type ReviewHandlers struct {
	authn   *auth.Authenticator
	reviews services.ReviewService
	limiter rateLimiter
}

// ReviewHandlerOption customises ReviewHandlers.
type ReviewHandlerOption func(*ReviewHandlers)

// WithReviewRateLimit caps review creation per caller within window. A non-positive limit disables it.
func WithReviewRateLimit(limit int, window time.Duration, clock func() time.Time) ReviewHandlerOption {
	return func(h *ReviewHandlers) {
		h.limiter = newSimpleRateLimiter(limit, window, clock)
	}
}

// NewReviewHandlers constructs a new ReviewHandlers instance.
func NewReviewHandlers(authn *auth.Authenticator, reviews services.ReviewService, opts ...ReviewHandlerOption) *ReviewHandlers {
	h := &ReviewHandlers{
		authn:   authn,
		reviews: reviews,
		limiter: newSimpleRateLimiter(defaultReviewRateLimit, defaultReviewRateWindow, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// ProductRoutes registers the /products/{productID}/reviews endpoints.
func (h *ReviewHandlers) ProductRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listProductReviews)
	r.Group(func(authed chi.Router) {
		if h.authn != nil {
			authed.Use(h.authn.RequireAuth())
		}
		authed.With(rateLimitMiddleware(h.limiter, actorRateKey)).Post("/", h.createReview)
	})
}

// Routes registers the /reviews endpoints.
func (h *ReviewHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Put("/{reviewID}", h.updateReview)
	r.Delete("/{reviewID}", h.deleteReview)
}

type createReviewRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

type updateReviewRequest struct {
	Rating  *int    `json:"rating"`
	Comment *string `json:"comment"`
}

type reviewPayload struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"productId"`
	UserID    int64  `json:"userId"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

type reviewListResponse struct {
	Items []reviewPayload `json:"items"`
	Total int             `json:"total"`
}

func (h *ReviewHandlers) listProductReviews(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reviews == nil {
		serviceUnavailable(ctx, w, "review")
		return
	}
	productID, ok := pathID(w, r, "productID")
	if !ok {
		return
	}
	paging, err := pagination.Parse(r.URL.Query(), pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.reviews.ListProductReviews(ctx, productID, services.Pagination{Limit: paging.Limit, Offset: paging.Offset})
	if err != nil {
		writeReviewError(ctx, w, err)
		return
	}
	items := make([]reviewPayload, 0, len(page.Items))
	for _, review := range page.Items {
		items = append(items, buildReviewPayload(review))
	}
	writeJSONResponse(w, http.StatusOK, reviewListResponse{Items: items, Total: page.Total})
}

func (h *ReviewHandlers) createReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reviews == nil {
		serviceUnavailable(ctx, w, "review")
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

	var req createReviewRequest
	if !decodeJSONBody(w, r, maxReviewBodySize, &req) {
		return
	}

	review, err := h.reviews.CreateReview(ctx, services.CreateReviewCommand{
		ProductID: productID,
		Rating:    req.Rating,
		Comment:   req.Comment,
		Actor:     actor,
	})
	if err != nil {
		writeReviewError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildReviewPayload(review))
}

func (h *ReviewHandlers) updateReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reviews == nil {
		serviceUnavailable(ctx, w, "review")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	reviewID, ok := pathID(w, r, "reviewID")
	if !ok {
		return
	}

	var req updateReviewRequest
	if !decodeJSONBody(w, r, maxReviewBodySize, &req) {
		return
	}

	review, err := h.reviews.UpdateReview(ctx, services.UpdateReviewCommand{
		ReviewID: reviewID,
		Rating:   req.Rating,
		Comment:  req.Comment,
		Actor:    actor,
	})
	if err != nil {
		writeReviewError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildReviewPayload(review))
}

func (h *ReviewHandlers) deleteReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reviews == nil {
		serviceUnavailable(ctx, w, "review")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	reviewID, ok := pathID(w, r, "reviewID")
	if !ok {
		return
	}

	if err := h.reviews.DeleteReview(ctx, reviewID, actor); err != nil {
		writeReviewError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, deletedResponse{ID: reviewID, Deleted: true})
}

func buildReviewPayload(review services.Review) reviewPayload {
	return reviewPayload{
		ID:        review.ID,
		ProductID: review.ProductID,
		UserID:    review.UserID,
		Rating:    review.Rating,
		Comment:   review.Comment,
		CreatedAt: formatTime(review.CreatedAt),
		UpdatedAt: formatTime(review.UpdatedAt),
	}
}

func writeReviewError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrReviewInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", detail(err, services.ErrReviewInvalidInput), http.StatusBadRequest))
	case errors.Is(err, services.ErrReviewForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "insufficient permissions for review", http.StatusForbidden))
	case errors.Is(err, services.ErrReviewNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("review_not_found", "review or product not found", http.StatusNotFound))
	default:
		httpx.WriteInternal(ctx, w, "review_error", "failed to process review request", err)
	}
}
