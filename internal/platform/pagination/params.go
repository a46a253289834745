// Package pagination parses offset based paging and numeric filter parameters from query strings.
package pagination

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// DefaultMaxLimit caps the supported limit to prevent unbounded pages.
	DefaultMaxLimit = 100

	maxNumberLength = 64
)

var (
	ErrInvalidLimit  = errors.New("pagination: invalid limit")
	ErrInvalidOffset = errors.New("pagination: invalid offset")
	ErrInvalidNumber = errors.New("pagination: invalid number")
)

// Params bundles limit and offset. Zero values mean absent.
type Params struct {
	Limit  int
	Offset int
}

// Options control how Parse behaves for a given handler.
type Options struct {
	MaxLimit int
}

// FromRequest parses limit and offset from the supplied request.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse consumes limit and offset. Omitted, infinite or non-positive values are absent and limits above the
// maximum are clamped.
func Parse(values url.Values, opts Options) (Params, error) {
	maxLimit := opts.MaxLimit
	if maxLimit <= 0 {
		maxLimit = DefaultMaxLimit
	}

	limit, err := Int(values, "limit")
	if err != nil {
		return Params{}, fmt.Errorf("%w: %v", ErrInvalidLimit, err)
	}
	offset, err := Int(values, "offset")
	if err != nil {
		return Params{}, fmt.Errorf("%w: %v", ErrInvalidOffset, err)
	}

	var params Params
	if limit != nil && *limit > 0 {
		params.Limit = min(*limit, maxLimit)
	}
	if offset != nil && *offset > 0 {
		params.Offset = *offset
	}
	return params, nil
}

// Int parses an optional integer parameter. Empty values and Infinity sentinels return nil.
func Int(values url.Values, key string) (*int, error) {
	raw, ok, err := rawNumber(values, key)
	if err != nil || !ok {
		return nil, err
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be numeric", ErrInvalidNumber, key)
	}
	if math.IsInf(f, 0) {
		return nil, nil
	}
	if math.IsNaN(f) || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return nil, fmt.Errorf("%w: %s must be an integer", ErrInvalidNumber, key)
	}
	v := int(f)
	return &v, nil
}

// ID parses an optional positive identifier parameter.
func ID(values url.Values, key string) (*int64, error) {
	raw, ok, err := rawNumber(values, key)
	if err != nil || !ok {
		return nil, err
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("%w: %s must be a positive integer", ErrInvalidNumber, key)
	}
	return &id, nil
}

// Decimal parses an optional decimal parameter. Empty values and Infinity sentinels return nil.
func Decimal(values url.Values, key string) (*decimal.Decimal, error) {
	raw, ok, err := rawNumber(values, key)
	if err != nil || !ok {
		return nil, err
	}
	if isInfinity(raw) {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be numeric", ErrInvalidNumber, key)
	}
	return &d, nil
}

func rawNumber(values url.Values, key string) (string, bool, error) {
	if values == nil {
		return "", false, nil
	}
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return "", false, nil
	}
	if len(raw) > maxNumberLength {
		return "", false, fmt.Errorf("%w: %s is too long", ErrInvalidNumber, key)
	}
	return raw, true, nil
}

func isInfinity(raw string) bool {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(raw, "+"), "-")) {
	case "infinity", "inf":
		return true
	}
	return false
}
