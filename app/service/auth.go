package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/nestya/auth-service/app/dto"
	"github.com/nestya/auth-service/app/entity"
	"github.com/nestya/auth-service/app/repository"
	"github.com/nestya/auth-service/config"

	"github.com/google/uuid"
)

var (
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenNotFound      = errors.New("refresh token not found")
	ErrTokenExpired       = errors.New("refresh token has expired")
)

type userRepository interface {
	Create(ctx context.Context, user *entity.User) error
	FindByEmail(ctx context.Context, email string) (*entity.User, error)
	FindByID(ctx context.Context, id uint64) (*entity.User, error)
}

type refreshTokenRepository interface {
	Create(ctx context.Context, token *entity.RefreshToken) error
	FindByTokenForUpdate(ctx context.Context, token string) (*entity.RefreshToken, error)
	DeleteByToken(ctx context.Context, token string) (int64, error)
	DeleteByUserID(ctx context.Context, userID uint64) error
}

// TokenIssuer signs access tokens for a user identity. The orchestrator does
// not look inside the returned string.
type TokenIssuer interface {
	Issue(user *entity.User) (string, error)
}

type AuthService struct {
	db               *sql.DB
	userRepo         userRepository
	refreshTokenRepo refreshTokenRepository
	issuer           TokenIssuer
	hasher           PasswordHasher
	cfg              *config.Config
}

func NewAuthService(
	db *sql.DB,
	userRepo userRepository,
	refreshTokenRepo refreshTokenRepository,
	issuer TokenIssuer,
	hasher PasswordHasher,
	cfg *config.Config,
) *AuthService {
	return &AuthService{
		db:               db,
		userRepo:         userRepo,
		refreshTokenRepo: refreshTokenRepo,
		issuer:           issuer,
		hasher:           hasher,
		cfg:              cfg,
	}
}

func (s *AuthService) Register(ctx context.Context, firstName, lastName, email, password string) (*dto.AuthResult, error) {
	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUserExists
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user := &entity.User{
		FirstName:    firstName,
		LastName:     lastName,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := repository.NewUserRepository(tx).Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			// lost the race against a concurrent register; the unique index
			// is the final arbiter
			return nil, ErrUserExists
		}
		return nil, err
	}

	result, err := s.issueSession(ctx, repository.NewRefreshTokenRepository(tx), user)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*dto.AuthResult, error) {
	if err := s.authenticate(ctx, email, password); err != nil {
		return nil, err
	}

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	result, err := s.issueSession(ctx, repository.NewRefreshTokenRepository(tx), user)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *AuthService) RefreshToken(ctx context.Context, tokenValue string) (*dto.AuthResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	tokens := repository.NewRefreshTokenRepository(tx)

	token, err := tokens.FindByTokenForUpdate(ctx, tokenValue)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, ErrTokenNotFound
	}

	if !token.ExpiresAt.After(time.Now()) {
		// mandatory lazy cleanup: the expired row must be gone before the
		// caller sees the error
		if _, err := tokens.DeleteByToken(ctx, tokenValue); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return nil, ErrTokenExpired
	}

	user, err := repository.NewUserRepository(tx).FindByID(ctx, token.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrTokenNotFound
	}

	rows, err := tokens.DeleteByToken(ctx, tokenValue)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		// a concurrent refresh already rotated this token
		return nil, ErrTokenNotFound
	}

	result, err := s.issueSession(ctx, tokens, user)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return result, nil
}

// Logout revokes the session identified by tokenValue. Unknown or already
// revoked tokens are a no-op.
func (s *AuthService) Logout(ctx context.Context, tokenValue string) error {
	_, err := s.refreshTokenRepo.DeleteByToken(ctx, tokenValue)
	return err
}

// authenticate verifies the credentials without revealing whether the email
// or the password was wrong.
func (s *AuthService) authenticate(ctx context.Context, email, password string) error {
	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrInvalidCredentials
	}
	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// issueSession replaces every refresh token the user holds with a single new
// one and signs a fresh access token. Runs against the caller's transaction.
func (s *AuthService) issueSession(ctx context.Context, tokens refreshTokenRepository, user *entity.User) (*dto.AuthResult, error) {
	if err := tokens.DeleteByUserID(ctx, user.ID); err != nil {
		return nil, err
	}

	now := time.Now()
	refreshToken := &entity.RefreshToken{
		UserID:    user.ID,
		Token:     uuid.New().String(),
		ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
		CreatedAt: now,
	}
	if err := tokens.Create(ctx, refreshToken); err != nil {
		return nil, err
	}

	accessToken, err := s.issuer.Issue(user)
	if err != nil {
		return nil, err
	}

	return &dto.AuthResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken.Token,
	}, nil
}
