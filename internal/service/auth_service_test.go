package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/studio-booking-api/internal/models"
	"github.com/noah-isme/studio-booking-api/internal/repository"
	appErrors "github.com/noah-isme/studio-booking-api/pkg/errors"
)

type mockAuthRepo struct {
	userByEmail      *models.User
	findByEmailErr   error
	createErr        error
	created          []*models.User
	auditLogs        []*models.AuditLog
	lastLoginUpdated bool
}

func (m *mockAuthRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.findByEmailErr != nil {
		return nil, m.findByEmailErr
	}
	if m.userByEmail == nil {
		return nil, sql.ErrNoRows
	}
	return m.userByEmail, nil
}

func (m *mockAuthRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if m.userByEmail != nil && m.userByEmail.ID == id {
		return m.userByEmail, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) Create(ctx context.Context, user *models.User) error {
	if m.createErr != nil {
		return m.createErr
	}
	user.ID = "new-user"
	m.created = append(m.created, user)
	return nil
}

func (m *mockAuthRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.lastLoginUpdated = true
	return nil
}

func (m *mockAuthRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

type mockProfileEnsurer struct {
	ensured []string
}

func (m *mockProfileEnsurer) Ensure(ctx context.Context, userID string, at time.Time) error {
	m.ensured = append(m.ensured, userID)
	return nil
}

func newTestAuthService(repo *mockAuthRepo, profiles profileEnsurer) *AuthService {
	return NewAuthService(repo, profiles, validator.New(), zap.NewNop(), AuthConfig{
		AccessTokenSecret: "secret",
		AccessTokenExpiry: time.Hour,
		Issuer:            "studio-booking-api",
	})
}

func activeUser(t *testing.T, role models.UserRole) *models.User {
	hash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.MinCost)
	require.NoError(t, err)
	return &models.User{ID: "user-1", Email: "user@example.com", PasswordHash: string(hash), FullName: "User", Role: role, Active: true}
}

func TestLoginSuccessIssuesValidToken(t *testing.T) {
	repo := &mockAuthRepo{userByEmail: activeUser(t, models.RoleInstructor)}
	svc := newTestAuthService(repo, nil)

	resp, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.True(t, repo.lastLoginUpdated)
	require.Len(t, repo.auditLogs, 1)
	assert.Equal(t, models.AuditActionLogin, repo.auditLogs[0].Action)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, models.RoleInstructor, claims.Role)
	assert.Equal(t, models.Requester{UserID: "user-1", Role: models.RoleInstructor}, claims.Requester())
}

func TestLoginInvalidPassword(t *testing.T) {
	repo := &mockAuthRepo{userByEmail: activeUser(t, models.RoleUser)}
	svc := newTestAuthService(repo, nil)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "wrong"})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrInvalidCredentials)
}

func TestLoginUnknownEmail(t *testing.T) {
	svc := newTestAuthService(&mockAuthRepo{}, nil)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "nobody@example.com", Password: "password"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidCredentials)
}

func TestLoginInactiveUser(t *testing.T) {
	user := activeUser(t, models.RoleUser)
	user.Active = false
	svc := newTestAuthService(&mockAuthRepo{userByEmail: user}, nil)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	assert.ErrorIs(t, err, appErrors.ErrInactiveAccount)
}

func TestRegisterCreatesMemberAndProfile(t *testing.T) {
	repo := &mockAuthRepo{}
	profiles := &mockProfileEnsurer{}
	svc := newTestAuthService(repo, profiles)

	resp, err := svc.Register(context.Background(), models.RegisterRequest{Email: " New@Example.com ", Password: "secret1", FullName: "New Member"})
	require.NoError(t, err)
	require.Len(t, repo.created, 1)
	assert.Equal(t, "new@example.com", repo.created[0].Email)
	assert.Equal(t, models.RoleUser, repo.created[0].Role)
	assert.NotEqual(t, "secret1", repo.created[0].PasswordHash)
	assert.Equal(t, []string{"new-user"}, profiles.ensured)
	assert.Equal(t, models.RoleUser, resp.User.Role)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc := newTestAuthService(&mockAuthRepo{createErr: repository.ErrDuplicateEmail}, nil)

	_, err := svc.Register(context.Background(), models.RegisterRequest{Email: "dup@example.com", Password: "secret1", FullName: "Dup"})
	assert.ErrorIs(t, err, appErrors.ErrConflict)
}

func TestRegisterValidation(t *testing.T) {
	svc := newTestAuthService(&mockAuthRepo{}, nil)

	_, err := svc.Register(context.Background(), models.RegisterRequest{Email: "bad", Password: "123", FullName: ""})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	repo := &mockAuthRepo{userByEmail: activeUser(t, models.RoleUser)}
	svc := newTestAuthService(repo, nil)
	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return issued }

	resp, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.NoError(t, err)

	svc.now = func() time.Time { return issued.Add(2 * time.Hour) }
	_, err = svc.ValidateToken(resp.AccessToken)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestMeNotFound(t *testing.T) {
	svc := newTestAuthService(&mockAuthRepo{}, nil)
	_, err := svc.Me(context.Background(), "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}
