package observability

import (
	"net/http"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// cleanString drops control characters and truncates value to limit runes.
func cleanString(value string, limit int) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	if runes := []rune(cleaned); len(runes) > limit {
		cleaned = string(runes[:limit])
	}
	return cleaned
}

// routePattern is the matched chi pattern, e.g. /api/v1/orders/{orderID}. It is only
// complete once the router has run.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return cleanString(pattern, 180)
		}
	}
	return ""
}

// resourceFields turns numeric route ids such as {orderID} or {productID} into
// order_id and product_id log fields.
func resourceFields(r *http.Request) []zap.Field {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return nil
	}
	var fields []zap.Field
	for i, name := range rctx.URLParams.Keys {
		if !strings.HasSuffix(name, "ID") || i >= len(rctx.URLParams.Values) {
			continue
		}
		id, err := strconv.ParseInt(rctx.URLParams.Values[i], 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		fields = append(fields, zap.Int64(strings.ToLower(strings.TrimSuffix(name, "ID"))+"_id", id))
	}
	return fields
}
