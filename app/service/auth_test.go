package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nestya/auth-service/app/repository"
	"github.com/nestya/auth-service/app/service"
	"github.com/nestya/auth-service/app/token"
	"github.com/nestya/auth-service/config"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"golang.org/x/crypto/bcrypt"
)

const (
	findByEmailQuery   = `(?s)SELECT id, first_name, last_name, email, password_hash, created_at, updated_at\s+FROM users WHERE email = \?`
	findUserByIDQuery  = `(?s)SELECT id, first_name, last_name, email, password_hash, created_at, updated_at\s+FROM users WHERE id = \?`
	insertUserQuery    = `(?s)INSERT INTO users \(first_name, last_name, email, password_hash, created_at, updated_at\)\s+VALUES \(\?, \?, \?, \?, \?, \?\)`
	insertTokenQuery   = `(?s)INSERT INTO refresh_tokens \(user_id, token, expires_at, created_at\)\s+VALUES \(\?, \?, \?, \?\)`
	findTokenForUpdate = `(?s)SELECT id, user_id, token, expires_at, created_at\s+FROM refresh_tokens WHERE token = \? FOR UPDATE`
	deleteByTokenQuery = `DELETE FROM refresh_tokens WHERE token = \?`
	deleteByUserQuery  = `DELETE FROM refresh_tokens WHERE user_id = \?`
)

var userColumns = []string{
	"id",
	"first_name",
	"last_name",
	"email",
	"password_hash",
	"created_at",
	"updated_at",
}

var refreshTokenColumns = []string{
	"id",
	"user_id",
	"token",
	"expires_at",
	"created_at",
}

func newAuthService(t *testing.T) (*service.AuthService, sqlmock.Sqlmock, func()) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	cfg := &config.Config{
		JWTSecret:       "test-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
	}
	issuer := token.NewJWTIssuer(cfg.JWTSecret, cfg.AccessTokenTTL)
	svc := service.NewAuthService(
		db,
		repository.NewUserRepository(db),
		repository.NewRefreshTokenRepository(db),
		issuer,
		service.NewBcryptHasher(),
		cfg,
	)

	return svc, mock, func() { _ = db.Close() }
}

func bcryptHash(t *testing.T, password string) string {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	return string(hash)
}

func userRow(id uint64, email, passwordHash string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(userColumns).AddRow(id, "Ada", "Lovelace", email, passwordHash, now, now)
}

func expectIssueSession(mock sqlmock.Sqlmock, userID uint64) {
	mock.ExpectExec(deleteByUserQuery).
		WithArgs(userID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertTokenQuery).
		WithArgs(userID, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
}

func TestRegister_Success(t *testing.T) {
	svc, mock, cleanup := newAuthService(t)
	defer cleanup()

	mock.ExpectQuery(findByEmailQuery).
		WithArgs("ada@example.com").
		WillReturnRows(sqlmock.NewRows(userColumns))
	mock.ExpectBegin()
	mock.ExpectExec(insertUserQuery).
		WithArgs("Ada", "Lovelace", "ada@example.com", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	expectIssueSession(mock, 1)
	mock.ExpectCommit()

	result, err := svc.Register(context.Background(), "Ada", "Lovelace", "ada@example.com", "password")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if result.AccessToken == "" {
		t.Fatal("expected non-empty access token")
	}
	if len(result.RefreshToken) != 36 {
		t.Fatalf("expected uuid refresh token, got %q", result.RefreshToken)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	svc, mock, cleanup := newAuthService(t)
	defer cleanup()

	mock.ExpectQuery(findByEmailQuery).
		WithArgs("ada@example.com").
		WillReturnRows(userRow(1, "ada@example.com", "hash"))

	_, err := svc.Register(context.Background(), "Ada", "Lovelace", "ada@example.com", "password")
	if !errors.Is(err, service.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRegister_DuplicateEmailRace(t *testing.T) {
	svc, mock, cleanup := newAuthService(t)
	defer cleanup()

	// the pre-check misses but the unique index catches the concurrent insert
	mock.ExpectQuery(findByEmailQuery).
		WithArgs("ada@example.com").
		WillReturnRows(sqlmock.NewRows(userColumns))
	mock.ExpectBegin()
	mock.ExpectExec(insertUserQuery).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	mock.ExpectRollback()

	_, err := svc.Register(context.Background(), "Ada", "Lovelace", "ada@example.com", "password")
	if !errors.Is(err, service.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLogin_Success(t *testing.T) {
	svc, mock, cleanup := newAuthService(t)
	defer cleanup()

	hash := bcryptHash(t, "password")
	mock.ExpectQuery(findByEmailQuery).
		WithArgs("ada@example.com").
		WillReturnRows(userRow(1, "ada@example.com", hash))
	mock.ExpectQuery(findByEmailQuery).
		WithArgs("ada@example.com").
		WillReturnRows(userRow(1, "ada@example.com", hash))
	mock.ExpectBegin()
	expectIssueSession(mock, 1)
	mock.ExpectCommit()

	result, err := svc.Login(context.Background(), "ada@example.com", "password")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if result.AccessToken == "" || result.RefreshToken == "" {
		t.Fatalf("expected both tokens, got %+v", result)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	svc, mock, cleanup := newAuthService(t)
	defer cleanup()

	mock.ExpectQuery(findByEmailQuery).
		WithArgs("ada@example.com").
		WillReturnRows(userRow(1, "ada@example.com", bcryptHash(t, "password")))

	_, err := svc.Login(context.Background(), "ada@example.com", "wrong")
	if !errors.Is(err, service.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	// no session may be issued on a failed login
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLogin_UnknownEmail(t *testing.T) {
	svc, mock, cleanup := newAuthService(t)
	defer cleanup()

	mock.ExpectQuery(findByEmailQuery).
		WithArgs("nobody@example.com").
		WillReturnRows(sqlmock.NewRows(userColumns))

	_, err := svc.Login(context.Background(), "nobody@example.com", "password")
	if !errors.Is(err, service.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRefreshToken_RotatesToken(t *testing.T) {
	svc, mock, cleanup := newAuthService(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(findTokenForUpdate).
		WithArgs("old-token").
		WillReturnRows(sqlmock.NewRows(refreshTokenColumns).AddRow(
			uint64(3), uint64(7), "old-token", now.Add(time.Hour), now,
		))
	mock.ExpectQuery(findUserByIDQuery).
		WithArgs(uint64(7)).
		WillReturnRows(userRow(7, "ada@example.com", "hash"))
	mock.ExpectExec(deleteByTokenQuery).
		WithArgs("old-token").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectIssueSession(mock, 7)
	mock.ExpectCommit()

	result, err := svc.RefreshToken(context.Background(), "old-token")
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if result.RefreshToken == "" || result.RefreshToken == "old-token" {
		t.Fatalf("expected a fresh refresh token, got %q", result.RefreshToken)
	}
	if result.AccessToken == "" {
		t.Fatal("expected non-empty access token")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRefreshToken_NotFound(t *testing.T) {
	svc, mock, cleanup := newAuthService(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(findTokenForUpdate).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(refreshTokenColumns))
	mock.ExpectRollback()

	_, err := svc.RefreshToken(context.Background(), "missing")
	if !errors.Is(err, service.ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRefreshToken_ExpiredIsDeleted(t *testing.T) {
	svc, mock, cleanup := newAuthService(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(findTokenForUpdate).
		WithArgs("stale-token").
		WillReturnRows(sqlmock.NewRows(refreshTokenColumns).AddRow(
			uint64(3), uint64(7), "stale-token", now.Add(-time.Minute), now.Add(-time.Hour),
		))
	mock.ExpectExec(deleteByTokenQuery).
		WithArgs("stale-token").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := svc.RefreshToken(context.Background(), "stale-token")
	if !errors.Is(err, service.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}

	// the delete and commit above are the mandatory lazy cleanup
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRefreshToken_ConcurrentRotationLoses(t *testing.T) {
	svc, mock, cleanup := newAuthService(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(findTokenForUpdate).
		WithArgs("old-token").
		WillReturnRows(sqlmock.NewRows(refreshTokenColumns).AddRow(
			uint64(3), uint64(7), "old-token", now.Add(time.Hour), now,
		))
	mock.ExpectQuery(findUserByIDQuery).
		WithArgs(uint64(7)).
		WillReturnRows(userRow(7, "ada@example.com", "hash"))
	mock.ExpectExec(deleteByTokenQuery).
		WithArgs("old-token").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := svc.RefreshToken(context.Background(), "old-token")
	if !errors.Is(err, service.ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound for the losing rotation, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLogout_DeletesToken(t *testing.T) {
	svc, mock, cleanup := newAuthService(t)
	defer cleanup()

	mock.ExpectExec(deleteByTokenQuery).
		WithArgs("token-value").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := svc.Logout(context.Background(), "token-value"); err != nil {
		t.Fatalf("logout failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLogout_UnknownTokenIsNoop(t *testing.T) {
	svc, mock, cleanup := newAuthService(t)
	defer cleanup()

	mock.ExpectExec(deleteByTokenQuery).
		WithArgs("never-issued").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := svc.Logout(context.Background(), "never-issued"); err != nil {
		t.Fatalf("logout must be idempotent, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
