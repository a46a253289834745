package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	domain "github.com/motomarket/api/internal/domain"
	ppostgres "github.com/motomarket/api/internal/platform/postgres"
	"github.com/motomarket/api/internal/repositories"
)

// CategoryRepository persists catalog categories. Names are unique case-insensitively.
type CategoryRepository struct {
	provider *ppostgres.Provider
}

var _ repositories.CategoryRepository = (*CategoryRepository)(nil)

// NewCategoryRepository constructs a PostgreSQL backed category repository.
func NewCategoryRepository(provider *ppostgres.Provider) (*CategoryRepository, error) {
	if provider == nil {
		return nil, errors.New("category repository requires postgres provider")
	}
	return &CategoryRepository{provider: provider}, nil
}

func (r *CategoryRepository) List(ctx context.Context) ([]domain.Category, error) {
	const op = "categories.list"
	db, err := r.provider.Conn(ctx)
	if err != nil {
		return nil, ppostgres.WrapError(op, err)
	}
	rows, err := db.Query(ctx, `SELECT id, name, description FROM categories ORDER BY id`)
	if err != nil {
		return nil, ppostgres.WrapError(op, err)
	}
	defer rows.Close()

	categories := make([]domain.Category, 0)
	for rows.Next() {
		var category domain.Category
		if err := rows.Scan(&category.ID, &category.Name, &category.Description); err != nil {
			return nil, ppostgres.WrapError(op, err)
		}
		categories = append(categories, category)
	}
	if err := rows.Err(); err != nil {
		return nil, ppostgres.WrapError(op, err)
	}
	return categories, nil
}

func (r *CategoryRepository) FindByID(ctx context.Context, categoryID int64) (domain.Category, error) {
	const op = "categories.find"
	db, err := r.provider.Conn(ctx)
	if err != nil {
		return domain.Category{}, ppostgres.WrapError(op, err)
	}
	var category domain.Category
	err = db.QueryRow(ctx, `SELECT id, name, description FROM categories WHERE id = $1`, categoryID).
		Scan(&category.ID, &category.Name, &category.Description)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Category{}, ppostgres.NotFound(op, fmt.Sprintf("category %d not found", categoryID))
	}
	if err != nil {
		return domain.Category{}, ppostgres.WrapError(op, err)
	}
	return category, nil
}

func (r *CategoryRepository) Insert(ctx context.Context, category domain.Category) (domain.Category, error) {
	const op = "categories.insert"
	db, err := r.provider.Conn(ctx)
	if err != nil {
		return domain.Category{}, ppostgres.WrapError(op, err)
	}
	err = db.QueryRow(ctx, `INSERT INTO categories (name, description) VALUES ($1, $2) RETURNING id`,
		category.Name, category.Description).Scan(&category.ID)
	if err != nil {
		return domain.Category{}, ppostgres.WrapError(op, err)
	}
	return category, nil
}

func (r *CategoryRepository) Update(ctx context.Context, category domain.Category) (domain.Category, error) {
	const op = "categories.update"
	db, err := r.provider.Conn(ctx)
	if err != nil {
		return domain.Category{}, ppostgres.WrapError(op, err)
	}
	tag, err := db.Exec(ctx, `UPDATE categories SET name = $2, description = $3 WHERE id = $1`,
		category.ID, category.Name, category.Description)
	if err != nil {
		return domain.Category{}, ppostgres.WrapError(op, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Category{}, ppostgres.NotFound(op, fmt.Sprintf("category %d not found", category.ID))
	}
	return category, nil
}

func (r *CategoryRepository) Delete(ctx context.Context, categoryID int64) error {
	const op = "categories.delete"
	db, err := r.provider.Conn(ctx)
	if err != nil {
		return ppostgres.WrapError(op, err)
	}
	tag, err := db.Exec(ctx, `DELETE FROM categories WHERE id = $1`, categoryID)
	if err != nil {
		if ppostgres.IsForeignKeyViolation(err) {
			return ppostgres.Conflict(op, fmt.Sprintf("category %d is referenced by products", categoryID))
		}
		return ppostgres.WrapError(op, err)
	}
	if tag.RowsAffected() == 0 {
		return ppostgres.NotFound(op, fmt.Sprintf("category %d not found", categoryID))
	}
	return nil
}

func (r *CategoryRepository) HasProducts(ctx context.Context, categoryID int64) (bool, error) {
	const op = "categories.has_products"
	db, err := r.provider.Conn(ctx)
	if err != nil {
		return false, ppostgres.WrapError(op, err)
	}
	var exists bool
	if err := db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE category_id = $1)`, categoryID).Scan(&exists); err != nil {
		return false, ppostgres.WrapError(op, err)
	}
	return exists, nil
}
