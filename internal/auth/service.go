// Package auth handles account registration, login, and JWT session tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/sketchsage/server/internal/settings"
	"github.com/sketchsage/server/internal/storage"
)

var (
	// ErrInvalidCredentials is returned for unknown emails and wrong passwords
	// alike, so a caller can't probe which emails are registered.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken is returned for malformed, expired, or forged tokens.
	ErrInvalidToken = errors.New("invalid token")

	// ErrEmailTaken is returned when registering an email that already exists.
	ErrEmailTaken = errors.New("email already registered")
)

// dummyHash is compared against when the email is unknown, keeping login
// latency uniform. It is a bcrypt hash of a throwaway string.
var dummyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// Claims are the JWT claims embedded in session tokens.
type Claims struct {
	IsAdmin bool `json:"is_admin"`
	jwt.RegisteredClaims
}

// Service issues and validates session tokens and manages accounts.
type Service struct {
	store      storage.Store
	settings   *settings.Service
	jwtSecret  []byte
	tokenTTL   time.Duration
	bcryptCost int
	logger     zerolog.Logger
	now        func() time.Time
}

// NewService creates an auth service.
func NewService(store storage.Store, settingsSvc *settings.Service, jwtSecret string, tokenTTL time.Duration, bcryptCost int, logger zerolog.Logger) *Service {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		store:      store,
		settings:   settingsSvc,
		jwtSecret:  []byte(jwtSecret),
		tokenTTL:   tokenTTL,
		bcryptCost: bcryptCost,
		logger:     logger.With().Str("component", "auth").Logger(),
		now:        time.Now,
	}
}

// Register creates a new account seeded with the welcome credit balance and
// returns it alongside a session token.
func (s *Service) Register(ctx context.Context, email, password, fullName string) (storage.Account, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return storage.Account{}, "", fmt.Errorf("hash password: %w", err)
	}

	welcomeCredits := settings.Defaults().DefaultWelcomeCredits
	if current, err := s.settings.Get(ctx); err == nil {
		welcomeCredits = current.DefaultWelcomeCredits
	} else {
		s.logger.Warn().Err(err).Msg("auth.welcome_credits_fallback")
	}

	now := s.now().UTC()
	account := storage.Account{
		ID:           uuid.NewString(),
		Email:        email,
		FullName:     strings.TrimSpace(fullName),
		PasswordHash: string(hash),
		Credits:      welcomeCredits,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, storage.ErrDuplicateEmail) {
			return storage.Account{}, "", ErrEmailTaken
		}
		return storage.Account{}, "", fmt.Errorf("create account: %w", err)
	}

	token, err := s.issueToken(account)
	if err != nil {
		return storage.Account{}, "", err
	}

	s.logger.Info().Str("user_id", account.ID).Int("welcome_credits", welcomeCredits).
		Msg("auth.registered")
	return account, token, nil
}

// Login verifies credentials and returns the account with a fresh token.
func (s *Service) Login(ctx context.Context, email, password string) (storage.Account, string, error) {
	account, err := s.store.GetAccountByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Burn a hash comparison anyway so response timing doesn't
			// reveal whether the email exists.
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return storage.Account{}, "", ErrInvalidCredentials
		}
		return storage.Account{}, "", fmt.Errorf("lookup account: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return storage.Account{}, "", ErrInvalidCredentials
	}

	token, err := s.issueToken(account)
	if err != nil {
		return storage.Account{}, "", err
	}

	s.logger.Info().Str("user_id", account.ID).Msg("auth.logged_in")
	return account, token, nil
}

func (s *Service) issueToken(account storage.Account) (string, error) {
	now := s.now().UTC()
	claims := Claims{
		IsAdmin: account.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies a session token, returning its claims.
func (s *Service) ValidateToken(tokenString string) (Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return Claims{}, ErrInvalidToken
	}
	return *claims, nil
}
