package auth

import (
	"errors"
	"time"

	"github.com/ernie/gamehost/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrInvalidState       = errors.New("invalid or expired login state")
	// ErrNoSecret is returned when signing without a JWT secret configured
	ErrNoSecret = errors.New("jwt secret is not configured")
)

// MinSecretLength is the shortest JWT secret serve accepts without a warning
const MinSecretLength = 32

// Claims represents the JWT claims for an authenticated user
type Claims struct {
	UserID    string `json:"sub_id"`
	Email     string `json:"email,omitempty"`
	Username  string `json:"username"`
	IsAdmin   bool   `json:"is_admin"`
	SessionID string `json:"session_id"`
	jwt.RegisteredClaims
}

// stateClaims carry the post-login redirect through an identity provider round trip
type stateClaims struct {
	Provider   string `json:"provider"`
	RedirectTo string `json:"redirect_to"`
	jwt.RegisteredClaims
}

// Service handles authentication operations
type Service struct {
	jwtSecret       []byte
	accessDuration  time.Duration
	refreshDuration time.Duration
	now             func() time.Time
}

// NewService creates a new auth service. With an empty secret it issues
// nothing and rejects every token.
func NewService(jwtSecret string, accessDuration, refreshDuration time.Duration) *Service {
	if accessDuration == 0 {
		accessDuration = time.Hour
	}
	if refreshDuration == 0 {
		refreshDuration = 30 * 24 * time.Hour
	}
	return &Service{
		jwtSecret:       []byte(jwtSecret),
		accessDuration:  accessDuration,
		refreshDuration: refreshDuration,
		now:             time.Now,
	}
}

// RefreshDuration returns how long issued refresh tokens stay valid
func (s *Service) RefreshDuration() time.Duration {
	return s.refreshDuration
}

// HashPassword creates a bcrypt hash of a password
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hash), err
}

// CheckPassword compares a password against a hash
func CheckPassword(password, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// NewSessionID returns an identifier grouping an access token with its refresh tokens
func NewSessionID() string {
	return uuid.NewString()
}

// NewRefreshToken returns an opaque single-use refresh token
func NewRefreshToken() string {
	return uuid.NewString() + uuid.NewString()
}

// GenerateToken creates an access token for a user session and returns it with its expiry
func (s *Service) GenerateToken(user domain.User, sessionID string) (string, time.Time, error) {
	if len(s.jwtSecret) == 0 {
		return "", time.Time{}, ErrNoSecret
	}
	now := s.now()
	expiresAt := now.Add(s.accessDuration)
	claims := Claims{
		UserID:    user.ID,
		Email:     user.Email,
		Username:  user.Username,
		IsAdmin:   user.IsAdmin,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	return signed, expiresAt, err
}

// ValidateToken validates a JWT and returns the claims
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, s.keyFunc, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || claims.UserID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// GenerateState signs the provider and redirect target for an OAuth/OpenID round trip
func (s *Service) GenerateState(provider, redirectTo string) (string, error) {
	if len(s.jwtSecret) == 0 {
		return "", ErrNoSecret
	}
	now := s.now()
	claims := stateClaims{
		Provider:   provider,
		RedirectTo: redirectTo,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}

// ParseState verifies a state token for the given provider and returns the redirect target
func (s *Service) ParseState(state, provider string) (string, error) {
	token, err := jwt.ParseWithClaims(state, &stateClaims{}, s.keyFunc, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return "", ErrInvalidState
	}
	claims, ok := token.Claims.(*stateClaims)
	if !ok || claims.Provider != provider {
		return "", ErrInvalidState
	}
	return claims.RedirectTo, nil
}

func (s *Service) keyFunc(t *jwt.Token) (interface{}, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, ErrInvalidToken
	}
	// jwt accepts an empty HMAC key, which anyone can sign with
	if len(s.jwtSecret) == 0 {
		return nil, ErrInvalidToken
	}
	return s.jwtSecret, nil
}
