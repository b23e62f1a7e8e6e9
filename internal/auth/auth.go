package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"miyav/internal/content"
	"miyav/internal/models"
	"miyav/internal/storage"
	"net/http"
	"strings"
	"time"

	"github.com/c-pro/geche"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultTokenExpiry = 24 * time.Hour
	loginFailedMessage = "Invalid credentials"
	// Failed logins beyond this count are throttled with a quadratic backoff.
	freeLoginAttempts = 3
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token has expired")
	ErrValidation   = errors.New("validation failed")
	ErrLoginFailed  = errors.New(loginFailedMessage)
	ErrThrottled    = errors.New("too many failed login attempts")
)

type RegisterRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Password    string `json:"password"`
}

type LoginRequest struct {
	// Username accepts either the username or the email address.
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token       string      `json:"token"`
	TokenExpiry int64       `json:"tokenExpiry"`
	User        models.User `json:"user"`
}

type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

type Config struct {
	Secret      string        `json:"secret"`
	TokenExpiry time.Duration `json:"tokenExpiry"`
}

func (c *Config) Validate() error {
	if c.Secret == "" {
		return errors.New("secret is required")
	}
	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}
	return nil
}

type Store interface {
	CreateAccount(acc models.Account) error
	GetAccount(id string) (models.Account, error)
	GetAccountByUsername(username string) (models.Account, error)
	GetAccountByEmail(email string) (models.Account, error)
}

type loginAttempts struct {
	failed int64
	last   int64
}

type AuthService struct {
	Config
	store    Store
	revoked  geche.Geche[string, struct{}]
	attempts *geche.Locker[string, *loginAttempts]
	cost     int
	now      func() time.Time
}

func NewAuthService(ctx context.Context, config Config, store Store) (*AuthService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &AuthService{
		Config:   config,
		store:    store,
		revoked:  geche.NewMapTTLCache[string, struct{}](ctx, config.TokenExpiry, time.Minute),
		attempts: geche.NewLocker[string, *loginAttempts](geche.NewMapTTLCache[string, *loginAttempts](ctx, time.Hour, time.Minute)),
		cost:     bcrypt.DefaultCost,
		now:      time.Now,
	}, nil
}

func validationError(err error) error {
	return fmt.Errorf("%w: %v", ErrValidation, err)
}

// Register creates an account and logs it in.
func (as *AuthService) Register(req RegisterRequest) (AuthResponse, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.DisplayName = content.StripTags(req.DisplayName)

	if err := content.ValidateUsername(req.Username); err != nil {
		return AuthResponse{}, validationError(err)
	}
	if err := content.ValidateDisplayName(req.DisplayName); err != nil {
		return AuthResponse{}, validationError(err)
	}
	if err := content.ValidateEmail(req.Email); err != nil {
		return AuthResponse{}, validationError(err)
	}
	if err := content.ValidatePassword(req.Password); err != nil {
		return AuthResponse{}, validationError(err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), as.cost)
	if err != nil {
		return AuthResponse{}, fmt.Errorf("failed to hash password: %w", err)
	}

	now := as.now()
	acc := models.Account{
		User: models.User{
			ID:          uuid.NewString(),
			Username:    req.Username,
			DisplayName: req.DisplayName,
			Status:      models.UserStatusOffline,
			LastSeen:    now.Unix(),
		},
		Email:        req.Email,
		PasswordHash: string(hash),
		CreatedAt:    now.Unix(),
	}
	if err := as.store.CreateAccount(acc); err != nil {
		return AuthResponse{}, err
	}

	return as.issue(acc.User)
}

// Login checks the credentials and returns a new token.
func (as *AuthService) Login(req LoginRequest) (AuthResponse, error) {
	now := as.now()
	key := strings.ToLower(strings.TrimSpace(req.Username))

	tx := as.attempts.Lock()
	defer tx.Unlock()

	attempt, err := tx.Get(key)
	if err != nil {
		attempt = &loginAttempts{}
	}
	if attempt.failed > freeLoginAttempts {
		next := attempt.last + 30*attempt.failed*attempt.failed
		if now.Unix() < next {
			return AuthResponse{}, fmt.Errorf("%w, next attempt in %d seconds", ErrThrottled, next-now.Unix())
		}
	}

	acc, err := as.lookup(key)
	if err == nil {
		err = bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(req.Password))
	}
	if err != nil {
		attempt.failed++
		attempt.last = now.Unix()
		tx.Set(key, attempt)
		return AuthResponse{}, ErrLoginFailed
	}

	tx.Set(key, &loginAttempts{last: now.Unix()})
	return as.issue(acc.User)
}

func (as *AuthService) lookup(login string) (models.Account, error) {
	if strings.Contains(login, "@") {
		return as.store.GetAccountByEmail(login)
	}
	return as.store.GetAccountByUsername(login)
}

func (as *AuthService) issue(user models.User) (AuthResponse, error) {
	now := as.now()
	expiresAt := now.Add(as.TokenExpiry)
	claims := Claims{
		UserID: user.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(as.Secret))
	if err != nil {
		slog.Error("token signing failed", "user_id", user.ID, "error", err)
		return AuthResponse{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return AuthResponse{
		Token:       token,
		TokenExpiry: expiresAt.Unix(),
		User:        user,
	}, nil
}

func (as *AuthService) parse(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(as.Secret), nil
	}, jwt.WithTimeFunc(as.now), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// GetUserID validates token and returns the user it was issued to.
func (as *AuthService) GetUserID(token string) (string, error) {
	claims, err := as.parse(token)
	if err != nil {
		return "", err
	}
	if _, err := as.revoked.Get(claims.ID); err == nil {
		return "", ErrInvalidToken
	}
	return claims.UserID, nil
}

// Logoff revokes the token until it would have expired anyway.
func (as *AuthService) Logoff(token string) error {
	claims, err := as.parse(token)
	if err != nil {
		return err
	}
	as.revoked.Set(claims.ID, struct{}{})
	return nil
}

// Me returns the public profile of the token owner.
func (as *AuthService) Me(token string) (models.User, error) {
	userID, err := as.GetUserID(token)
	if err != nil {
		return models.User{}, err
	}
	acc, err := as.store.GetAccount(userID)
	if err != nil {
		return models.User{}, err
	}
	return acc.User, nil
}

// TokenFromRequest reads the bearer token from the Authorization header,
// falling back to the token cookie.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie("token"); err == nil {
		return c.Value
	}
	return ""
}

// IsConflict reports whether err means the username or email is already used.
func IsConflict(err error) bool {
	return errors.Is(err, storage.ErrUsernameTaken) || errors.Is(err, storage.ErrEmailTaken)
}
