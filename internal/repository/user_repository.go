package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/expensio/approval-api/internal/models"
)

// UserRepository reads the company directory. The engine treats it as an
// external collaborator: lookups only, no user management.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository constructs the repository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, company_id, email, password_hash, first_name, last_name, role, manager_id, is_active, created_at`

// FindByID loads a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByEmail loads a user by email for authentication.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, email); err != nil {
		return nil, err
	}
	return &user, nil
}

// FindManager returns the current direct manager of a user. sql.ErrNoRows
// means the user has no manager registered; callers treat that as absence,
// not failure.
func (r *UserRepository) FindManager(ctx context.Context, userID string) (*models.User, error) {
	const query = `SELECT m.id, m.company_id, m.email, m.password_hash, m.first_name, m.last_name,
        m.role, m.manager_id, m.is_active, m.created_at
        FROM users u
        JOIN users m ON m.id = u.manager_id
        WHERE u.id = $1 AND m.is_active = TRUE`
	var manager models.User
	if err := r.db.GetContext(ctx, &manager, query, userID); err != nil {
		return nil, err
	}
	return &manager, nil
}

// ExistAll verifies that every given user id resolves to an active directory
// entry, returning the ids that do not.
func (r *UserRepository) ExistAll(ctx context.Context, userIDs []string) ([]string, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT id FROM users WHERE id IN (?) AND is_active = TRUE`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("build user existence query: %w", err)
	}
	query = r.db.Rebind(query)

	var found []string
	if err := r.db.SelectContext(ctx, &found, query, args...); err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("check approver ids: %w", err)
	}
	existing := make(map[string]bool, len(found))
	for _, id := range found {
		existing[id] = true
	}
	var missing []string
	for _, id := range userIDs {
		if !existing[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}
