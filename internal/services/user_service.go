package services

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/motomarket/api/internal/domain"
	"github.com/motomarket/api/internal/repositories"
)

var (
	// ErrUserInvalidInput indicates a malformed user lookup.
	ErrUserInvalidInput = errors.New("user: invalid input")
	// ErrUserNotFound indicates the user does not exist.
	ErrUserNotFound = errors.New("user: not found")
	// ErrUserForbidden indicates the actor may not read the requested account.
	ErrUserForbidden = errors.New("user: forbidden")
)

// UserServiceDeps bundles collaborators required to construct a UserService.
type UserServiceDeps struct {
	Users repositories.UserRepository
}

type userService struct {
	users repositories.UserRepository
}

var _ UserService = (*userService)(nil)

// NewUserService constructs a UserService.
func NewUserService(deps UserServiceDeps) (UserService, error) {
	if deps.Users == nil {
		return nil, errors.New("user service: user repository is required")
	}
	return &userService{users: deps.Users}, nil
}

// ListUsers returns every account to admins.
func (s *userService) ListUsers(ctx context.Context, page Pagination, actor Actor) (domain.Page[User], error) {
	if !actor.IsAdmin() {
		return domain.Page[User]{}, fmt.Errorf("%w: only admins may list users", ErrUserForbidden)
	}
	result, err := s.users.List(ctx, page.Normalize())
	if err != nil {
		return domain.Page[User]{}, s.mapRepositoryError(err)
	}
	if result.Items == nil {
		result.Items = []User{}
	}
	return result, nil
}

// GetUser returns the account to its owner or an admin.
func (s *userService) GetUser(ctx context.Context, userID int64, actor Actor) (User, error) {
	if userID <= 0 {
		return User{}, fmt.Errorf("%w: user id must be positive", ErrUserInvalidInput)
	}
	if !actor.CanAccess(userID) {
		return User{}, fmt.Errorf("%w: user %d is not the caller", ErrUserForbidden, userID)
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return User{}, s.mapRepositoryError(err)
	}
	return user, nil
}

func (s *userService) mapRepositoryError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %w", ErrUserNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("user: repository unavailable: %w", err)
		}
	}
	return err
}
