package postgres

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/filot/docverify/internal/domain"
)

// UserRepo persists and loads users using a minimal pgx pool.
type UserRepo struct{ Pool PgxPool }

// NewUserRepo constructs a UserRepo with the given pool.
func NewUserRepo(p PgxPool) *UserRepo { return &UserRepo{Pool: p} }

// Create inserts a new user and returns its id (generates one if empty).
func (r *UserRepo) Create(ctx domain.Context, u domain.User) (string, error) {
	tracer := otel.Tracer("repo.users")
	ctx, span := tracer.Start(ctx, "users.Create")
	defer span.End()
	id := u.ID
	if id == "" {
		id = uuid.New().String()
	}
	status := u.VerificationStatus
	if status == "" {
		status = domain.VerifPending
	}
	q := `INSERT INTO users (id, sub, email, verification_status, created_at) VALUES ($1,$2,$3,$4,$5)`
	_, err := r.Pool.Exec(ctx, q, id, u.Sub, u.Email, status, time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("op=user.create: %w", domain.ErrConflict)
		}
		return "", fmt.Errorf("op=user.create: %w", err)
	}
	return id, nil
}

// Get loads a user by id.
func (r *UserRepo) Get(ctx domain.Context, id string) (domain.User, error) {
	tracer := otel.Tracer("repo.users")
	ctx, span := tracer.Start(ctx, "users.Get")
	defer span.End()
	q := `SELECT id, sub, email, verification_status, created_at FROM users WHERE id=$1`
	return r.scanOne(r.Pool.QueryRow(ctx, q, id), "user.get")
}

// FindBySub loads a user by the identity provider subject.
func (r *UserRepo) FindBySub(ctx domain.Context, sub string) (domain.User, error) {
	tracer := otel.Tracer("repo.users")
	ctx, span := tracer.Start(ctx, "users.FindBySub")
	defer span.End()
	q := `SELECT id, sub, email, verification_status, created_at FROM users WHERE sub=$1`
	return r.scanOne(r.Pool.QueryRow(ctx, q, sub), "user.find_by_sub")
}

func (r *UserRepo) scanOne(row pgx.Row, op string) (domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Sub, &u.Email, &u.VerificationStatus, &u.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.User{}, fmt.Errorf("op=%s: %w", op, domain.ErrNotFound)
		}
		return domain.User{}, fmt.Errorf("op=%s: %w", op, err)
	}
	return u, nil
}

// UpdateVerificationStatus sets the user's aggregate verification status.
func (r *UserRepo) UpdateVerificationStatus(ctx domain.Context, id string, status domain.VerificationStatus) error {
	tracer := otel.Tracer("repo.users")
	ctx, span := tracer.Start(ctx, "users.UpdateVerificationStatus")
	defer span.End()
	q := `UPDATE users SET verification_status=$2 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, status); err != nil {
		return fmt.Errorf("op=user.update_verification: %w", err)
	}
	return nil
}
