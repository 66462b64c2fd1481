package userdir

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrUserNotFound signals that no user exists for the login or id.
	ErrUserNotFound = errors.New("userdir: user not found")
	// ErrDuplicateLogin signals that the login is already taken.
	ErrDuplicateLogin = errors.New("userdir: login already exists")
)

// Repository handles data access for the user directory.
type Repository interface {
	Create(ctx context.Context, params CreateUserParams) (User, error)
	GetByLogin(ctx context.Context, login string) (User, error)
	GetByID(ctx context.Context, id string) (User, error)
}

// CreateUserParams contains write parameters for creating directory users.
type CreateUserParams struct {
	Login        string
	Name         string
	Email        string
	PasswordHash string
	Role         Role
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id, login, name, email, phone, language, password_hash, role, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, params CreateUserParams) (User, error) {
	const insertSQL = `
INSERT INTO users (login, name, email, password_hash, role)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + userColumns
	user, err := scanUser(r.pool.QueryRow(ctx, insertSQL, params.Login, params.Name, params.Email, params.PasswordHash, params.Role))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, ErrDuplicateLogin
		}
		return User{}, fmt.Errorf("userdir: create user: %w", err)
	}
	return user, nil
}

func (r *PGRepository) GetByLogin(ctx context.Context, login string) (User, error) {
	user, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE login = $1`, login))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("userdir: get by login: %w", err)
	}
	return user, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (User, error) {
	user, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("userdir: get by id: %w", err)
	}
	return user, nil
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	if err := row.Scan(
		&u.ID,
		&u.Login,
		&u.Name,
		&u.Email,
		&u.Phone,
		&u.Language,
		&u.PasswordHash,
		&u.Role,
		&u.CreatedAt,
		&u.UpdatedAt,
	); err != nil {
		return User{}, err
	}
	return u, nil
}
