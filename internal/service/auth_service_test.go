package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/expensio/approval-api/internal/models"
	appErrors "github.com/expensio/approval-api/pkg/errors"
)

type userReaderStub struct {
	user *models.User
	err  error
}

func (s *userReaderStub) FindByEmail(_ context.Context, _ string) (*models.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.user, nil
}

func activeUser(t *testing.T, password string) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return &models.User{
		ID:           "u-1",
		CompanyID:    "co-1",
		Email:        "ada@example.com",
		PasswordHash: string(hash),
		FirstName:    "Ada",
		LastName:     "Lovelace",
		Role:         models.RoleManager,
		IsActive:     true,
	}
}

func TestLoginIssuesToken(t *testing.T) {
	audit := &auditStub{}
	svc := NewAuthService(&userReaderStub{user: activeUser(t, "s3cret")}, audit, "test-secret", time.Hour, nil, nil)

	resp, err := svc.Login(context.Background(), models.LoginRequest{Email: "ada@example.com", Password: "s3cret"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.Equal(t, "u-1", resp.User.ID)
	assert.Equal(t, "co-1", resp.User.CompanyID)
	assert.Equal(t, "Ada Lovelace", resp.User.FullName)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionLogin, audit.logs[0].Action)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "co-1", claims.CompanyID)
	assert.Equal(t, models.RoleManager, claims.Role)
}

func TestLoginWrongPassword(t *testing.T) {
	svc := NewAuthService(&userReaderStub{user: activeUser(t, "s3cret")}, nil, "test-secret", time.Hour, nil, nil)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "ada@example.com", Password: "wrong"})
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestLoginUnknownUser(t *testing.T) {
	svc := NewAuthService(&userReaderStub{err: sql.ErrNoRows}, nil, "test-secret", time.Hour, nil, nil)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "ghost@example.com", Password: "s3cret"})
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestLoginInactiveAccount(t *testing.T) {
	user := activeUser(t, "s3cret")
	user.IsActive = false
	svc := NewAuthService(&userReaderStub{user: user}, nil, "test-secret", time.Hour, nil, nil)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "ada@example.com", Password: "s3cret"})
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
}

func TestLoginValidatesPayload(t *testing.T) {
	svc := NewAuthService(&userReaderStub{}, nil, "test-secret", time.Hour, nil, nil)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "not-an-email", Password: ""})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestValidateTokenRejectsForeignSignature(t *testing.T) {
	issuer := NewAuthService(&userReaderStub{user: activeUser(t, "s3cret")}, nil, "secret-a", time.Hour, nil, nil)
	verifier := NewAuthService(&userReaderStub{}, nil, "secret-b", time.Hour, nil, nil)

	resp, err := issuer.Login(context.Background(), models.LoginRequest{Email: "ada@example.com", Password: "s3cret"})
	require.NoError(t, err)

	_, err = verifier.ValidateToken(resp.AccessToken)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	svc := NewAuthService(&userReaderStub{}, nil, "test-secret", time.Hour, nil, nil)

	_, err := svc.ValidateToken("not.a.token")
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}
