package postgres

import (
	"strconv"
	"strings"

	domain "github.com/motomarket/api/internal/domain"
)

const productColumns = `p.id, p.make, p.model, p.year, p.price::text, p.description, p.stock_quantity, p.category_id, p.created_at`

const productAggregateSelect = `SELECT ` + productColumns + `,
	COALESCE(c.name, ''),
	COALESCE((SELECT json_agg(json_build_object('id', a.id, 'name', a.name, 'value', a.value) ORDER BY a.id)
		FROM product_attributes a WHERE a.product_id = p.id), '[]'::json),
	COALESCE((SELECT json_agg(json_build_object('id', i.id, 'url', i.url) ORDER BY i.id)
		FROM product_images i WHERE i.product_id = p.id), '[]'::json)
FROM products p
LEFT JOIN categories c ON c.id = p.category_id`

// predicate is a SQL fragment using ? markers together with its bound values.
type predicate struct {
	clause string
	args   []any
}

// productQuery accumulates the WHERE predicates shared by catalog list and count queries.
type productQuery struct {
	predicates []predicate
}

func newProductQuery(filter domain.ProductFilter) productQuery {
	var q productQuery
	if filter.ProductID != nil {
		q.add("p.id = ?", *filter.ProductID)
	}
	if filter.CategoryID != nil {
		q.add("p.category_id = ?", *filter.CategoryID)
	}
	if search := domain.NormalizeSearch(filter.Search); search != "" {
		pattern := "%" + escapeLike(search) + "%"
		q.add("(p.make ILIKE ? OR p.model ILIKE ?)", pattern, pattern)
	}
	if filter.Price.From != nil {
		q.add("p.price >= ?::numeric", filter.Price.From.String())
	}
	if filter.Price.To != nil {
		q.add("p.price <= ?::numeric", filter.Price.To.String())
	}
	if filter.Year.From != nil {
		q.add("p.year >= ?", *filter.Year.From)
	}
	if filter.Year.To != nil {
		q.add("p.year <= ?", *filter.Year.To)
	}
	return q
}

func (q *productQuery) add(clause string, args ...any) {
	q.predicates = append(q.predicates, predicate{clause: clause, args: args})
}

// where renders the predicates joined by AND with positional placeholders starting at $1.
func (q productQuery) where() (string, []any) {
	if len(q.predicates) == 0 {
		return "", nil
	}
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(" WHERE ")
	for i, p := range q.predicates {
		if i > 0 {
			sb.WriteString(" AND ")
		}
		n := 0
		for _, r := range p.clause {
			if r == '?' {
				sb.WriteByte('$')
				sb.WriteString(strconv.Itoa(len(args) + 1))
				args = append(args, p.args[n])
				n++
				continue
			}
			sb.WriteRune(r)
		}
	}
	return sb.String(), args
}

// listSQL renders the aggregate select with ordering and optional paging.
func listSQL(filter domain.ProductFilter) (string, []any) {
	where, args := newProductQuery(filter).where()

	return withPaging(productAggregateSelect+where+orderBy(filter.SortPrice), args, filter.Pagination)
}

// countSQL renders a distinct product count using the same predicates as listSQL.
func countSQL(filter domain.ProductFilter) (string, []any) {
	where, args := newProductQuery(filter).where()
	return "SELECT COUNT(*) FROM products p" + where, args
}

func orderBy(sort domain.PriceSort) string {
	switch sort {
	case domain.PriceSortCheap:
		return " ORDER BY p.price ASC, p.id ASC"
	case domain.PriceSortExpensive:
		return " ORDER BY p.price DESC, p.id ASC"
	default:
		return " ORDER BY p.id ASC"
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(value string) string {
	return likeEscaper.Replace(value)
}
