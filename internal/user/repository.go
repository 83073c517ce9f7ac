package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Repository defines the interface for user account persistence.
// Storage errors are surfaced to the caller, never retried here.
type Repository interface {
	// Create inserts a new user and returns the generated id.
	Create(ctx context.Context, u *User) (int64, error)

	// GetByCredentials performs a single-row email+password lookup.
	// Returns ErrUserNotFound on any mismatch.
	GetByCredentials(ctx context.Context, email, password string) (*User, error)

	// GetByID retrieves a user by id. Returns ErrUserNotFound if absent.
	GetByID(ctx context.Context, id int64) (*User, error)

	// GetByEmail retrieves a user by email, used as the sign-up
	// uniqueness pre-check. Returns ErrUserNotFound if absent.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// Update modifies an existing user's profile.
	// Returns ErrUserNotFound when no row was affected.
	Update(ctx context.Context, u *User) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed user repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const userColumns = "id, email, password, name, date_of_birth, gender, weight, height, profile_image_uri"

// Create inserts a new user account.
func (r *SQLiteRepository) Create(ctx context.Context, u *User) (int64, error) {
	if u.Email == "" || u.Password == "" || u.Name == "" {
		return 0, ErrInvalidUser
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO users (email, password, name, date_of_birth, gender, weight, height, profile_image_uri)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Email, u.Password, u.Name, u.DateOfBirth, u.Gender, u.Weight, u.Height, u.ProfileImageURI,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading inserted user id: %w", err)
	}
	u.ID = id
	return id, nil
}

// GetByCredentials performs a single-row email+password lookup.
func (r *SQLiteRepository) GetByCredentials(ctx context.Context, email, password string) (*User, error) {
	return r.getUser(ctx,
		"SELECT "+userColumns+" FROM users WHERE email = ? AND password = ? LIMIT 1",
		email, password,
	)
}

// GetByID retrieves a user by their unique id.
func (r *SQLiteRepository) GetByID(ctx context.Context, id int64) (*User, error) {
	return r.getUser(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = ? LIMIT 1", id)
}

// GetByEmail retrieves a user by email.
func (r *SQLiteRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.getUser(ctx,
		"SELECT "+userColumns+" FROM users WHERE email = ? LIMIT 1", email)
}

// Update modifies a user's profile fields.
func (r *SQLiteRepository) Update(ctx context.Context, u *User) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET email = ?, password = ?, name = ?, date_of_birth = ?,
		        gender = ?, weight = ?, height = ?, profile_image_uri = ?
		 WHERE id = ?`,
		u.Email, u.Password, u.Name, u.DateOfBirth, u.Gender, u.Weight, u.Height,
		u.ProfileImageURI, u.ID,
	)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

// getUser executes a single-row user query.
func (r *SQLiteRepository) getUser(ctx context.Context, query string, args ...any) (*User, error) {
	var u User
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&u.ID, &u.Email, &u.Password, &u.Name, &u.DateOfBirth,
		&u.Gender, &u.Weight, &u.Height, &u.ProfileImageURI,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return &u, nil
}

// SignUp creates an account after checking that the email is unused.
// The schema carries no unique constraint on email; uniqueness rests
// entirely on this existence pre-check.
func SignUp(ctx context.Context, repo Repository, u *User) (int64, error) {
	_, err := repo.GetByEmail(ctx, u.Email)
	switch {
	case err == nil:
		return 0, ErrEmailTaken
	case !errors.Is(err, ErrUserNotFound):
		return 0, fmt.Errorf("checking email: %w", err)
	}
	return repo.Create(ctx, u)
}
