package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"kasastok/backend/internal/domain"
	"kasastok/backend/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveAccount    = errors.New("account is inactive")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrUserExists         = errors.New("username already exists")
	ErrInvalidUser        = errors.New("invalid user")
)

// AuthManager issues and verifies HS256 access tokens for the accounts in a
// UserStore.
type AuthManager struct {
	secret    []byte
	tokenTTL  time.Duration
	userStore UserStore
	now       func() time.Time
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type posCustomClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, userStore UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AuthManager{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		userStore: userStore,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	account, ok, err := a.findUser(ctx, username)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	if !ok {
		return domain.LoginResponse{}, ErrInvalidCredentials
	}

	if !isPasswordHash(account.Password) {
		// Accounts provisioned with a plain-text password are upgraded on
		// their first successful login.
		if account.Password == "" || account.Password != req.Password {
			return domain.LoginResponse{}, ErrInvalidCredentials
		}
		if hashed, err := hashPassword(req.Password); err == nil {
			if err := a.userStore.UpdateUserPassword(ctx, username, hashed); err != nil {
				log.Printf("[auth] WARN: password upgrade failed user=%s: %v", username, err)
			}
		}
	} else if !verifyPassword(account.Password, req.Password) {
		return domain.LoginResponse{}, ErrInvalidCredentials
	}
	if !account.Active {
		return domain.LoginResponse{}, ErrInactiveAccount
	}

	expiresAt := a.now().Add(a.tokenTTL)
	token, err := a.sign(username, account.Role, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        account.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &posCustomClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithTimeFunc(a.now))
	if err != nil || !token.Valid {
		return domain.Actor{}, ErrInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, ErrInvalidToken
	}
	return domain.Actor{Username: sub, Role: claims.Role}, nil
}

func (a *AuthManager) sign(username, role string, expiresAt time.Time) (string, error) {
	claims := posCustomClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(a.now()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "kasastok",
		},
		Role: role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// CreateUser expects a request already checked for field lengths and role.
func (a *AuthManager) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.User, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if len(username) < 4 {
		return domain.User{}, fmt.Errorf("%w: username must be at least 4 characters", ErrInvalidUser)
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.User{}, fmt.Errorf("%w: username must not contain spaces", ErrInvalidUser)
	}
	if len(strings.TrimSpace(req.Password)) < 6 {
		return domain.User{}, fmt.Errorf("%w: password must be at least 6 characters", ErrInvalidUser)
	}
	role := strings.TrimSpace(req.Role)
	if role == "" {
		role = domain.RoleCashier
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to hash password")
	}

	account := domain.UserAccount{
		Username:  username,
		Password:  passwordHash,
		FullName:  strings.TrimSpace(req.FullName),
		Role:      role,
		Active:    true,
		CreatedAt: a.now(),
	}
	if err := a.userStore.CreateUser(ctx, account); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domain.User{}, ErrUserExists
		}
		return domain.User{}, err
	}
	return toUser(account), nil
}

func (a *AuthManager) ListUsers(ctx context.Context) ([]domain.User, error) {
	accounts, err := a.userStore.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	users := make([]domain.User, 0, len(accounts))
	for _, account := range accounts {
		users = append(users, toUser(account))
	}
	return users, nil
}

func (a *AuthManager) findUser(ctx context.Context, username string) (domain.UserAccount, bool, error) {
	if username == "" {
		return domain.UserAccount{}, false, nil
	}
	accounts, err := a.userStore.ListUsers(ctx)
	if err != nil {
		return domain.UserAccount{}, false, err
	}
	for _, account := range accounts {
		if strings.ToLower(strings.TrimSpace(account.Username)) == username {
			return account, true, nil
		}
	}
	return domain.UserAccount{}, false, nil
}

func toUser(account domain.UserAccount) domain.User {
	return domain.User{
		Username:  account.Username,
		FullName:  account.FullName,
		Role:      account.Role,
		Active:    account.Active,
		CreatedAt: account.CreatedAt,
	}
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
