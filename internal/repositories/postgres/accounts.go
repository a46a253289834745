package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	domain "github.com/motomarket/api/internal/domain"
	ppostgres "github.com/motomarket/api/internal/platform/postgres"
	"github.com/motomarket/api/internal/repositories"
)

// UserRepository reads accounts referenced by orders and reviews.
type UserRepository struct {
	provider *ppostgres.Provider
}

var _ repositories.UserRepository = (*UserRepository)(nil)

// NewUserRepository constructs a PostgreSQL backed user repository.
func NewUserRepository(provider *ppostgres.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires postgres provider")
	}
	return &UserRepository{provider: provider}, nil
}

// FindByID loads the user row.
func (r *UserRepository) FindByID(ctx context.Context, userID int64) (domain.User, error) {
	const op = "users.find"
	db, err := r.provider.Conn(ctx)
	if err != nil {
		return domain.User{}, ppostgres.WrapError(op, err)
	}
	user, err := scanUser(db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, ppostgres.NotFound(op, fmt.Sprintf("user %d not found", userID))
	}
	if err != nil {
		return domain.User{}, ppostgres.WrapError(op, err)
	}
	return user, nil
}

// List returns users ordered by id.
func (r *UserRepository) List(ctx context.Context, pagination domain.Pagination) (domain.Page[domain.User], error) {
	const op = "users.list"
	db, err := r.provider.Conn(ctx)
	if err != nil {
		return domain.Page[domain.User]{}, ppostgres.WrapError(op, err)
	}

	var total int64
	if err := db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return domain.Page[domain.User]{}, ppostgres.WrapError(op, err)
	}

	query, args := withPaging(`SELECT `+userColumns+` FROM users ORDER BY id`, nil, pagination)
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return domain.Page[domain.User]{}, ppostgres.WrapError(op, err)
	}
	defer rows.Close()

	items := make([]domain.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return domain.Page[domain.User]{}, ppostgres.WrapError(op, err)
		}
		items = append(items, user)
	}
	if err := rows.Err(); err != nil {
		return domain.Page[domain.User]{}, ppostgres.WrapError(op, err)
	}
	return domain.Page[domain.User]{Items: items, Total: int(total)}, nil
}

const userColumns = `id, first_name, last_name, phone, email, role, created_at`

func scanUser(row pgx.Row) (domain.User, error) {
	var (
		user domain.User
		role string
	)
	if err := row.Scan(&user.ID, &user.FirstName, &user.LastName, &user.Phone, &user.Email, &role, &user.CreatedAt); err != nil {
		return domain.User{}, err
	}
	user.Role = domain.Role(role)
	user.CreatedAt = user.CreatedAt.UTC()
	return user, nil
}

// ReviewRepository persists product reviews.
type ReviewRepository struct {
	provider *ppostgres.Provider
}

var _ repositories.ReviewRepository = (*ReviewRepository)(nil)

// NewReviewRepository constructs a PostgreSQL backed review repository.
func NewReviewRepository(provider *ppostgres.Provider) (*ReviewRepository, error) {
	if provider == nil {
		return nil, errors.New("review repository requires postgres provider")
	}
	return &ReviewRepository{provider: provider}, nil
}

const reviewColumns = `id, product_id, user_id, rating, comment, created_at, updated_at`

// List returns reviews newest first.
func (r *ReviewRepository) List(ctx context.Context, filter domain.ReviewListFilter) (domain.Page[domain.Review], error) {
	const op = "reviews.list"
	db, err := r.provider.Conn(ctx)
	if err != nil {
		return domain.Page[domain.Review]{}, ppostgres.WrapError(op, err)
	}

	var (
		clauses []string
		args    []any
	)
	if filter.ProductID != nil {
		args = append(args, *filter.ProductID)
		clauses = append(clauses, "product_id = $"+strconv.Itoa(len(args)))
	}
	if filter.UserID != nil {
		args = append(args, *filter.UserID)
		clauses = append(clauses, "user_id = $"+strconv.Itoa(len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int64
	if err := db.QueryRow(ctx, `SELECT COUNT(*) FROM reviews`+where, args...).Scan(&total); err != nil {
		return domain.Page[domain.Review]{}, ppostgres.WrapError(op, err)
	}

	query, args := withPaging(`SELECT `+reviewColumns+` FROM reviews`+where+` ORDER BY created_at DESC, id DESC`, args, filter.Pagination)
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return domain.Page[domain.Review]{}, ppostgres.WrapError(op, err)
	}
	defer rows.Close()

	items := make([]domain.Review, 0)
	for rows.Next() {
		review, err := scanReview(rows)
		if err != nil {
			return domain.Page[domain.Review]{}, ppostgres.WrapError(op, err)
		}
		items = append(items, review)
	}
	if err := rows.Err(); err != nil {
		return domain.Page[domain.Review]{}, ppostgres.WrapError(op, err)
	}
	return domain.Page[domain.Review]{Items: items, Total: int(total)}, nil
}

func (r *ReviewRepository) FindByID(ctx context.Context, reviewID int64) (domain.Review, error) {
	const op = "reviews.find"
	db, err := r.provider.Conn(ctx)
	if err != nil {
		return domain.Review{}, ppostgres.WrapError(op, err)
	}
	review, err := scanReview(db.QueryRow(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id = $1`, reviewID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Review{}, ppostgres.NotFound(op, fmt.Sprintf("review %d not found", reviewID))
	}
	if err != nil {
		return domain.Review{}, ppostgres.WrapError(op, err)
	}
	return review, nil
}

func (r *ReviewRepository) Insert(ctx context.Context, review domain.Review) (domain.Review, error) {
	const op = "reviews.insert"
	db, err := r.provider.Conn(ctx)
	if err != nil {
		return domain.Review{}, ppostgres.WrapError(op, err)
	}
	stored, err := scanReview(db.QueryRow(ctx, `INSERT INTO reviews (product_id, user_id, rating, comment, created_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING `+reviewColumns,
		review.ProductID, review.UserID, review.Rating, review.Comment, review.CreatedAt))
	if err != nil {
		return domain.Review{}, ppostgres.WrapError(op, err)
	}
	return stored, nil
}

func (r *ReviewRepository) Update(ctx context.Context, review domain.Review) (domain.Review, error) {
	const op = "reviews.update"
	db, err := r.provider.Conn(ctx)
	if err != nil {
		return domain.Review{}, ppostgres.WrapError(op, err)
	}
	stored, err := scanReview(db.QueryRow(ctx, `UPDATE reviews SET rating = $2, comment = $3, updated_at = $4
		WHERE id = $1 RETURNING `+reviewColumns,
		review.ID, review.Rating, review.Comment, review.UpdatedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Review{}, ppostgres.NotFound(op, fmt.Sprintf("review %d not found", review.ID))
	}
	if err != nil {
		return domain.Review{}, ppostgres.WrapError(op, err)
	}
	return stored, nil
}

func (r *ReviewRepository) Delete(ctx context.Context, reviewID int64) error {
	const op = "reviews.delete"
	db, err := r.provider.Conn(ctx)
	if err != nil {
		return ppostgres.WrapError(op, err)
	}
	tag, err := db.Exec(ctx, `DELETE FROM reviews WHERE id = $1`, reviewID)
	if err != nil {
		return ppostgres.WrapError(op, err)
	}
	if tag.RowsAffected() == 0 {
		return ppostgres.NotFound(op, fmt.Sprintf("review %d not found", reviewID))
	}
	return nil
}

func scanReview(row pgx.Row) (domain.Review, error) {
	var (
		review    domain.Review
		updatedAt *time.Time
	)
	if err := row.Scan(&review.ID, &review.ProductID, &review.UserID, &review.Rating, &review.Comment, &review.CreatedAt, &updatedAt); err != nil {
		return domain.Review{}, err
	}
	review.CreatedAt = review.CreatedAt.UTC()
	if updatedAt != nil {
		review.UpdatedAt = updatedAt.UTC()
	}
	return review, nil
}

// withPaging appends LIMIT and OFFSET placeholders for positive values only.
func withPaging(query string, args []any, pagination domain.Pagination) (string, []any) {
	paging := pagination.Normalize()
	if paging.Limit > 0 {
		args = append(args, paging.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	if paging.Offset > 0 {
		args = append(args, paging.Offset)
		query += " OFFSET $" + strconv.Itoa(len(args))
	}
	return query, args
}
