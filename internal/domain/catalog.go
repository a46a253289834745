package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Product is a motorcycle listing as stored in the catalog.
type Product struct {
	ID            int64
	Make          string
	Model         string
	Year          int
	Price         decimal.Decimal
	Description   string
	StockQuantity int
	CategoryID    *int64
	CreatedAt     time.Time
}

// ProductAttribute is a free-form name/value pair owned by a product.
type ProductAttribute struct {
	ID        int64
	ProductID int64
	Name      string
	Value     string
}

// ProductImage references an uploaded image owned by a product.
type ProductImage struct {
	ID        int64
	ProductID int64
	URL       string
}

// ProductAggregate is a product combined with its attributes, images and category name.
type ProductAggregate struct {
	Product
	CategoryName string
	Attributes   []ProductAttribute
	Images       []ProductImage
}

// Category groups products for navigation.
type Category struct {
	ID          int64
	Name        string
	Description string
}

// PriceSort is the closed set of price orderings accepted by catalog listings.
type PriceSort string

const (
	// PriceSortNone keeps insertion order.
	PriceSortNone PriceSort = ""
	// PriceSortCheap orders by ascending price.
	PriceSortCheap PriceSort = "cheap"
	// PriceSortExpensive orders by descending price.
	PriceSortExpensive PriceSort = "expensive"
)

// ParsePriceSort maps a raw query value onto a PriceSort.
func ParsePriceSort(raw string) (PriceSort, bool) {
	switch PriceSort(strings.ToLower(strings.TrimSpace(raw))) {
	case PriceSortNone:
		return PriceSortNone, true
	case PriceSortCheap:
		return PriceSortCheap, true
	case PriceSortExpensive:
		return PriceSortExpensive, true
	default:
		return PriceSortNone, false
	}
}

// ProductFilter is the optional bag of catalog listing parameters. Nil pointers and empty strings are absent.
type ProductFilter struct {
	ProductID  *int64
	CategoryID *int64
	Search     string
	Price      RangeQuery[decimal.Decimal]
	Year       RangeQuery[int]
	SortPrice  PriceSort
	Pagination Pagination
}

// Normalize trims and canonicalises the filter so equivalent inputs build identical queries.
func (f ProductFilter) Normalize() ProductFilter {
	f.Search = NormalizeSearch(f.Search)
	f.Pagination = f.Pagination.Normalize()
	if _, ok := ParsePriceSort(string(f.SortPrice)); !ok {
		f.SortPrice = PriceSortNone
	}
	return f
}

// WithoutPaging strips limit, offset and ordering, leaving only the predicates.
func (f ProductFilter) WithoutPaging() ProductFilter {
	f.Pagination = Pagination{}
	f.SortPrice = PriceSortNone
	return f
}

// Matches evaluates the filter predicates against an aggregate in memory.
func (f ProductFilter) Matches(p Product) bool {
	if f.ProductID != nil && p.ID != *f.ProductID {
		return false
	}
	if f.CategoryID != nil && (p.CategoryID == nil || *p.CategoryID != *f.CategoryID) {
		return false
	}
	if search := NormalizeSearch(f.Search); search != "" {
		needle := foldCase(search)
		if !strings.Contains(foldCase(p.Make), needle) && !strings.Contains(foldCase(p.Model), needle) {
			return false
		}
	}
	if f.Price.From != nil && p.Price.LessThan(*f.Price.From) {
		return false
	}
	if f.Price.To != nil && p.Price.GreaterThan(*f.Price.To) {
		return false
	}
	if f.Year.From != nil && p.Year < *f.Year.From {
		return false
	}
	if f.Year.To != nil && p.Year > *f.Year.To {
		return false
	}
	return true
}

// NormalizeSearch trims and NFC-normalises free text search input.
func NormalizeSearch(raw string) string {
	return norm.NFC.String(strings.TrimSpace(raw))
}

func foldCase(value string) string {
	return cases.Fold().String(value)
}

// ProductDraft carries the writable product fields for creation.
type ProductDraft struct {
	Make          string
	Model         string
	Year          int
	Price         decimal.Decimal
	Description   string
	StockQuantity int
	CategoryID    *int64
	Attributes    []AttributeDraft
	ImageURLs     []string
}

// AttributeDraft is an attribute that has not been persisted yet.
type AttributeDraft struct {
	Name  string
	Value string
}

// ProductPatch carries a partial update. Nil fields are left untouched.
type ProductPatch struct {
	Make               *string
	Model              *string
	Year               *int
	Price              *decimal.Decimal
	Description        *string
	StockQuantity      *int
	CategoryID         *int64
	AddAttributes      []AttributeDraft
	DeleteAttributeIDs []int64
	AddImageURLs       []string
	DeleteImageURLs    []string
}

// Apply writes the non-nil scalar fields onto the product.
func (p ProductPatch) Apply(product *Product) {
	if p.Make != nil {
		product.Make = strings.TrimSpace(*p.Make)
	}
	if p.Model != nil {
		product.Model = strings.TrimSpace(*p.Model)
	}
	if p.Year != nil {
		product.Year = *p.Year
	}
	if p.Price != nil {
		product.Price = *p.Price
	}
	if p.Description != nil {
		product.Description = *p.Description
	}
	if p.StockQuantity != nil {
		product.StockQuantity = *p.StockQuantity
	}
	if p.CategoryID != nil {
		id := *p.CategoryID
		product.CategoryID = &id
	}
}
