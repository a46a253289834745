package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	domain "github.com/motomarket/api/internal/domain"
	ppostgres "github.com/motomarket/api/internal/platform/postgres"
	"github.com/motomarket/api/internal/repositories"
)

// ProductRepository persists catalog products, attributes and images in PostgreSQL.
type ProductRepository struct {
	provider *ppostgres.Provider
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a PostgreSQL backed product repository.
func NewProductRepository(provider *ppostgres.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires postgres provider")
	}
	return &ProductRepository{provider: provider}, nil
}

type attributeRow struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

type imageRow struct {
	ID  int64  `json:"id"`
	URL string `json:"url"`
}

// List returns aggregates matching the filter in a single round trip.
func (r *ProductRepository) List(ctx context.Context, filter domain.ProductFilter) ([]domain.ProductAggregate, error) {
	const op = "products.list"
	db, err := r.provider.Conn(ctx)
	if err != nil {
		return nil, ppostgres.WrapError(op, err)
	}

	sql, args := listSQL(filter)
	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, ppostgres.WrapError(op, err)
	}
	defer rows.Close()

	items := make([]domain.ProductAggregate, 0)
	for rows.Next() {
		aggregate, err := scanAggregate(rows)
		if err != nil {
			return nil, ppostgres.WrapError(op, err)
		}
		items = append(items, aggregate)
	}
	if err := rows.Err(); err != nil {
		return nil, ppostgres.WrapError(op, err)
	}
	return items, nil
}

// Count returns the number of products matching the filter predicates.
func (r *ProductRepository) Count(ctx context.Context, filter domain.ProductFilter) (int, error) {
	const op = "products.count"
	db, err := r.provider.Conn(ctx)
	if err != nil {
		return 0, ppostgres.WrapError(op, err)
	}
	sql, args := countSQL(filter.WithoutPaging())
	var count int64
	if err := db.QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return 0, ppostgres.WrapError(op, err)
	}
	return int(count), nil
}

// FindByID loads the bare product row.
func (r *ProductRepository) FindByID(ctx context.Context, productID int64) (domain.Product, error) {
	const op = "products.find"
	db, err := r.provider.Conn(ctx)
	if err != nil {
		return domain.Product{}, ppostgres.WrapError(op, err)
	}
	row := db.QueryRow(ctx, `SELECT `+productColumns+` FROM products p WHERE p.id = $1`, productID)
	product, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Product{}, ppostgres.NotFound(op, fmt.Sprintf("product %d not found", productID))
	}
	if err != nil {
		return domain.Product{}, ppostgres.WrapError(op, err)
	}
	return product, nil
}

// Insert writes the product row and its children. Callers run it inside a transaction.
func (r *ProductRepository) Insert(ctx context.Context, draft domain.ProductDraft) (domain.Product, error) {
	const op = "products.insert"
	db, err := r.provider.Conn(ctx)
	if err != nil {
		return domain.Product{}, ppostgres.WrapError(op, err)
	}

	row := db.QueryRow(ctx, `INSERT INTO products AS p (make, model, year, price, description, stock_quantity, category_id)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)
		RETURNING `+productColumns,
		draft.Make, draft.Model, draft.Year, draft.Price.String(), draft.Description, draft.StockQuantity, draft.CategoryID)
	product, err := scanProduct(row)
	if err != nil {
		return domain.Product{}, ppostgres.WrapError(op, err)
	}

	if err := insertChildren(ctx, db, product.ID, draft.Attributes, draft.ImageURLs); err != nil {
		return domain.Product{}, ppostgres.WrapError(op, err)
	}
	return product, nil
}

// Update writes the patched scalar fields, then removes and appends children.
func (r *ProductRepository) Update(ctx context.Context, product domain.Product, patch domain.ProductPatch) (domain.Product, error) {
	const op = "products.update"
	db, err := r.provider.Conn(ctx)
	if err != nil {
		return domain.Product{}, ppostgres.WrapError(op, err)
	}

	row := db.QueryRow(ctx, `UPDATE products AS p SET make = $2, model = $3, year = $4, price = $5::numeric,
		description = $6, stock_quantity = $7, category_id = $8
		WHERE p.id = $1
		RETURNING `+productColumns,
		product.ID, product.Make, product.Model, product.Year, product.Price.String(), product.Description, product.StockQuantity, product.CategoryID)
	updated, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Product{}, ppostgres.NotFound(op, fmt.Sprintf("product %d not found", product.ID))
	}
	if err != nil {
		return domain.Product{}, ppostgres.WrapError(op, err)
	}

	if len(patch.DeleteAttributeIDs) > 0 {
		if _, err := db.Exec(ctx, `DELETE FROM product_attributes WHERE product_id = $1 AND id = ANY($2)`, product.ID, patch.DeleteAttributeIDs); err != nil {
			return domain.Product{}, ppostgres.WrapError(op, err)
		}
	}
	if len(patch.DeleteImageURLs) > 0 {
		if _, err := db.Exec(ctx, `DELETE FROM product_images WHERE product_id = $1 AND url = ANY($2)`, product.ID, patch.DeleteImageURLs); err != nil {
			return domain.Product{}, ppostgres.WrapError(op, err)
		}
	}
	if err := insertChildren(ctx, db, product.ID, patch.AddAttributes, patch.AddImageURLs); err != nil {
		return domain.Product{}, ppostgres.WrapError(op, err)
	}
	return updated, nil
}

// Delete removes the product. Attributes, images and reviews cascade; order lines block the delete.
func (r *ProductRepository) Delete(ctx context.Context, productID int64) error {
	const op = "products.delete"
	db, err := r.provider.Conn(ctx)
	if err != nil {
		return ppostgres.WrapError(op, err)
	}
	tag, err := db.Exec(ctx, `DELETE FROM products WHERE id = $1`, productID)
	if err != nil {
		if ppostgres.IsForeignKeyViolation(err) {
			return ppostgres.Conflict(op, fmt.Sprintf("product %d is referenced by order lines", productID))
		}
		return ppostgres.WrapError(op, err)
	}
	if tag.RowsAffected() == 0 {
		return ppostgres.NotFound(op, fmt.Sprintf("product %d not found", productID))
	}
	return nil
}

// HasOrderLines reports whether any order line references the product.
func (r *ProductRepository) HasOrderLines(ctx context.Context, productID int64) (bool, error) {
	const op = "products.has_order_lines"
	db, err := r.provider.Conn(ctx)
	if err != nil {
		return false, ppostgres.WrapError(op, err)
	}
	var exists bool
	if err := db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM order_lines WHERE product_id = $1)`, productID).Scan(&exists); err != nil {
		return false, ppostgres.WrapError(op, err)
	}
	return exists, nil
}

// AdjustStock applies a signed delta in a single UPDATE so concurrent adjustments never lose writes.
func (r *ProductRepository) AdjustStock(ctx context.Context, productID int64, delta int) error {
	const op = "products.adjust_stock"
	db, err := r.provider.Conn(ctx)
	if err != nil {
		return ppostgres.WrapError(op, err)
	}
	tag, err := db.Exec(ctx, `UPDATE products SET stock_quantity = stock_quantity + $2 WHERE id = $1`, productID, delta)
	if err != nil {
		return ppostgres.WrapError(op, err)
	}
	if tag.RowsAffected() == 0 {
		return ppostgres.NotFound(op, fmt.Sprintf("product %d not found", productID))
	}
	return nil
}

func insertChildren(ctx context.Context, db ppostgres.Querier, productID int64, attributes []domain.AttributeDraft, imageURLs []string) error {
	for _, attr := range attributes {
		if _, err := db.Exec(ctx, `INSERT INTO product_attributes (product_id, name, value) VALUES ($1, $2, $3)`, productID, attr.Name, attr.Value); err != nil {
			return err
		}
	}
	for _, url := range imageURLs {
		if _, err := db.Exec(ctx, `INSERT INTO product_images (product_id, url) VALUES ($1, $2)`, productID, url); err != nil {
			return err
		}
	}
	return nil
}

func scanProduct(row pgx.Row) (domain.Product, error) {
	var (
		product domain.Product
		price   string
	)
	if err := row.Scan(&product.ID, &product.Make, &product.Model, &product.Year, &price,
		&product.Description, &product.StockQuantity, &product.CategoryID, &product.CreatedAt); err != nil {
		return domain.Product{}, err
	}
	amount, err := decimal.NewFromString(price)
	if err != nil {
		return domain.Product{}, fmt.Errorf("parse price %q: %w", price, err)
	}
	product.Price = amount
	product.CreatedAt = product.CreatedAt.UTC()
	return product, nil
}

func scanAggregate(rows pgx.Rows) (domain.ProductAggregate, error) {
	var (
		aggregate  domain.ProductAggregate
		price      string
		attributes []byte
		images     []byte
	)
	p := &aggregate.Product
	if err := rows.Scan(&p.ID, &p.Make, &p.Model, &p.Year, &price, &p.Description, &p.StockQuantity, &p.CategoryID, &p.CreatedAt,
		&aggregate.CategoryName, &attributes, &images); err != nil {
		return domain.ProductAggregate{}, err
	}
	amount, err := decimal.NewFromString(price)
	if err != nil {
		return domain.ProductAggregate{}, fmt.Errorf("parse price %q: %w", price, err)
	}
	p.Price = amount
	p.CreatedAt = p.CreatedAt.UTC()

	var attrRows []attributeRow
	if err := json.Unmarshal(attributes, &attrRows); err != nil {
		return domain.ProductAggregate{}, fmt.Errorf("decode attributes: %w", err)
	}
	var imgRows []imageRow
	if err := json.Unmarshal(images, &imgRows); err != nil {
		return domain.ProductAggregate{}, fmt.Errorf("decode images: %w", err)
	}

	aggregate.Attributes = make([]domain.ProductAttribute, 0, len(attrRows))
	for _, a := range attrRows {
		aggregate.Attributes = append(aggregate.Attributes, domain.ProductAttribute{ID: a.ID, ProductID: p.ID, Name: a.Name, Value: a.Value})
	}
	aggregate.Images = make([]domain.ProductImage, 0, len(imgRows))
	for _, img := range imgRows {
		aggregate.Images = append(aggregate.Images, domain.ProductImage{ID: img.ID, ProductID: p.ID, URL: img.URL})
	}
	return aggregate, nil
}
