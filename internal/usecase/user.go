package usecase

import (
	"errors"

	"github.com/filot/docverify/internal/domain"
)

// UserService provisions users lazily from verified identity tokens.
type UserService struct {
	Users domain.UserRepository
}

// NewUserService constructs a UserService.
func NewUserService(users domain.UserRepository) UserService {
	return UserService{Users: users}
}

// EnsureUser returns the user for the identity provider subject, creating the
// row on first sight. Concurrent first requests for the same subject collapse
// onto one row via the unique constraint on sub.
func (s UserService) EnsureUser(ctx domain.Context, sub, email string) (domain.User, error) {
	u, err := s.Users.FindBySub(ctx, sub)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, err
	}
	id, err := s.Users.Create(ctx, domain.User{Sub: sub, Email: email, VerificationStatus: domain.VerifPending})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return s.Users.FindBySub(ctx, sub)
		}
		return domain.User{}, err
	}
	return s.Users.Get(ctx, id)
}
