package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expensio/approval-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

func userRows(id, email string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "company_id", "email", "password_hash", "first_name", "last_name", "role", "manager_id", "is_active", "created_at"}).
		AddRow(id, "co-1", email, "hash", "Ada", "Lovelace", string(models.RoleManager), nil, true, now)
}

func TestUserFindByEmail(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, company_id, email, password_hash, first_name, last_name, role, manager_id, is_active, created_at FROM users WHERE email = $1`)).
		WithArgs("ada@example.com").
		WillReturnRows(userRows("u-1", "ada@example.com"))

	user, err := repo.FindByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", user.Email)
	assert.Equal(t, "Ada Lovelace", user.FullName())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserFindManager(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery("JOIN users m ON m.id = u.manager_id").
		WithArgs("emp-1").
		WillReturnRows(userRows("mgr-1", "mgr@example.com"))

	manager, err := repo.FindManager(context.Background(), "emp-1")
	require.NoError(t, err)
	assert.Equal(t, "mgr-1", manager.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserFindManagerNone(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery("JOIN users m ON m.id = u.manager_id").
		WithArgs("emp-1").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindManager(context.Background(), "emp-1")
	assert.Equal(t, sql.ErrNoRows, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserExistAllReportsMissing(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	found := sqlmock.NewRows([]string{"id"}).AddRow("u-1")
	mock.ExpectQuery("SELECT id FROM users WHERE id IN").
		WithArgs("u-1", "u-2").
		WillReturnRows(found)

	missing, err := repo.ExistAll(context.Background(), []string{"u-1", "u-2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"u-2"}, missing)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserExistAllEmptyInput(t *testing.T) {
	db, _, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	missing, err := repo.ExistAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, missing)
}
