package domain

import (
	"time"
)

// Pagination defines offset based paging inputs for list operations. Zero values mean unbounded.
type Pagination struct {
	Limit  int
	Offset int
}

// Bounded reports whether a positive limit was supplied.
func (p Pagination) Bounded() bool {
	return p.Limit > 0
}

// Normalize drops non-positive values so they behave as absent.
func (p Pagination) Normalize() Pagination {
	if p.Limit < 0 {
		p.Limit = 0
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Page wraps a slice of results together with the unpaginated total.
type Page[T any] struct {
	Items []T
	Total int
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric fields.
type RangeQuery[T any] struct {
	From *T
	To   *T
}

// IsZero reports whether neither bound is set.
func (r RangeQuery[T]) IsZero() bool {
	return r.From == nil && r.To == nil
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
