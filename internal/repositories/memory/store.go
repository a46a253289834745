// Package memory provides map-backed repositories for tests and local runs without Postgres.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	domain "github.com/motomarket/api/internal/domain"
	"github.com/motomarket/api/internal/repositories"
)

type txKey struct{}

type state struct {
	seq        int64
	products   map[int64]domain.Product
	attributes map[int64]domain.ProductAttribute
	images     map[int64]domain.ProductImage
	categories map[int64]domain.Category
	orders     map[int64]domain.Order
	users      map[int64]domain.User
	reviews    map[int64]domain.Review
}

func newState() state {
	return state{
		products:   map[int64]domain.Product{},
		attributes: map[int64]domain.ProductAttribute{},
		images:     map[int64]domain.ProductImage{},
		categories: map[int64]domain.Category{},
		orders:     map[int64]domain.Order{},
		users:      map[int64]domain.User{},
		reviews:    map[int64]domain.Review{},
	}
}

// clone copies every table. Stored values are replaced on write, never mutated in place.
func (s state) clone() state {
	return state{
		seq:        s.seq,
		products:   maps.Clone(s.products),
		attributes: maps.Clone(s.attributes),
		images:     maps.Clone(s.images),
		categories: maps.Clone(s.categories),
		orders:     maps.Clone(s.orders),
		users:      maps.Clone(s.users),
		reviews:    maps.Clone(s.reviews),
	}
}

// Store holds every table in memory and implements repositories.Registry.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data state

	failNextInsert map[string]error
}

var _ repositories.Registry = (*Store)(nil)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		data:           newState(),
		failNextInsert: map[string]error{},
	}
}

// RunInTx executes fn against a snapshot that is restored when fn fails. Nested calls join the outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.data.clone()
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// Close is a no-op.
func (s *Store) Close(context.Context) error { return nil }

func (s *Store) Products() repositories.ProductRepository     { return productRepository{store: s} }
func (s *Store) Categories() repositories.CategoryRepository { return categoryRepository{store: s} }
func (s *Store) Orders() repositories.OrderRepository         { return orderRepository{store: s} }
func (s *Store) Users() repositories.UserRepository           { return userRepository{store: s} }
func (s *Store) Reviews() repositories.ReviewRepository       { return reviewRepository{store: s} }

// Health reports the store as always available.
func (s *Store) Health() repositories.HealthRepository {
	repo, _ := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{{
		Name:  "memory",
		Check: func(context.Context) error { return nil },
	}})
	return repo
}

// AddUser seeds a user account and returns it with an assigned ID when none was set.
func (s *Store) AddUser(user domain.User) domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == 0 {
		user.ID = s.nextID()
	} else if user.ID > s.data.seq {
		s.data.seq = user.ID
	}
	if user.Role == "" {
		user.Role = domain.RoleCustomer
	}
	s.data.users[user.ID] = user
	return user
}

// FailNextOrderInsert makes the next order insert return err, for atomicity tests.
func (s *Store) FailNextOrderInsert(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNextInsert["orders"] = err
}

// OrderLineCount returns the number of stored order lines across all orders.
func (s *Store) OrderLineCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, order := range s.data.orders {
		total += len(order.Lines)
	}
	return total
}

func (s *Store) nextID() int64 {
	s.data.seq++
	return s.data.seq
}

func (s *Store) takeInsertFailure(table string) error {
	err, ok := s.failNextInsert[table]
	if !ok {
		return nil
	}
	delete(s.failNextInsert, table)
	return err
}

func sortedValues[K comparable, V any](m map[K]V, less func(a, b V) int) []V {
	out := make([]V, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	slices.SortFunc(out, less)
	return out
}

func page[T any](items []T, p domain.Pagination) []T {
	p = p.Normalize()
	if p.Offset >= len(items) {
		return []T{}
	}
	items = items[p.Offset:]
	if p.Bounded() && p.Limit < len(items) {
		items = items[:p.Limit]
	}
	return items
}

type repoError struct {
	op       string
	msg      string
	notFound bool
	conflict bool
}

func (e *repoError) Error() string {
	return fmt.Sprintf("memory %s: %s", e.op, e.msg)
}

func (e *repoError) IsNotFound() bool    { return e.notFound }
func (e *repoError) IsConflict() bool    { return e.conflict }
func (e *repoError) IsUnavailable() bool { return false }

func notFound(op, format string, args ...any) error {
	return &repoError{op: op, msg: fmt.Sprintf(format, args...), notFound: true}
}

func conflict(op, format string, args ...any) error {
	return &repoError{op: op, msg: fmt.Sprintf(format, args...), conflict: true}
}
