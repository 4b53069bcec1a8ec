package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Songmu/flextime"
	"github.com/golang-jwt/jwt/v5"
)

// Authenticator verifies the credentials of a request and returns a new
// request carrying the authentication context.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*http.Request, error)
}

// AuthError represents an authentication error
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Scheme  string `json:"scheme,omitempty"`
}

func (e *AuthError) Error() string {
	if e.Scheme != "" {
		return fmt.Sprintf("authentication failed [%s:%s]: %s", e.Scheme, e.Code, e.Message)
	}
	return fmt.Sprintf("authentication failed [%s]: %s", e.Code, e.Message)
}

// Common auth error codes
const (
	AuthErrorCodeMissingCredentials = "missing_credentials"
	AuthErrorCodeInvalidCredentials = "invalid_credentials"
	AuthErrorCodeExpiredCredentials = "expired_credentials"
)

func newAuthError(code, message, scheme string) *AuthError {
	return &AuthError{Code: code, Message: message, Scheme: scheme}
}

// Context keys for JWT authentication
type jwtContextKey struct{}
type jwtTokenContextKey struct{}

// GetJWTClaims retrieves JWT claims from the request context
func GetJWTClaims(ctx context.Context) (jwt.MapClaims, bool) {
	claims, ok := ctx.Value(jwtContextKey{}).(jwt.MapClaims)
	return claims, ok
}

// GetJWTToken retrieves the raw JWT token string from the request context
func GetJWTToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(jwtTokenContextKey{}).(string)
	return token, ok
}

// GetJWTSubject retrieves the subject (sub) claim from JWT
func GetJWTSubject(ctx context.Context) (string, bool) {
	claims, ok := GetJWTClaims(ctx)
	if !ok {
		return "", false
	}
	sub, ok := claims["sub"].(string)
	return sub, ok
}

// StaticAPIKeyAuthenticator checks a fixed API key header.
type StaticAPIKeyAuthenticator struct {
	APIKey     string // The expected API key value
	HeaderName string // The header name to check (default: X-API-Key)
}

// Authenticate implements Authenticator
func (s StaticAPIKeyAuthenticator) Authenticate(ctx context.Context, r *http.Request) (*http.Request, error) {
	headerName := s.HeaderName
	if headerName == "" {
		headerName = "X-API-Key"
	}
	apiKey := r.Header.Get(headerName)
	if apiKey == "" {
		return nil, newAuthError(AuthErrorCodeMissingCredentials, fmt.Sprintf("missing %s header", headerName), "apiKey")
	}
	if apiKey != s.APIKey {
		return nil, newAuthError(AuthErrorCodeInvalidCredentials, "invalid API key", "apiKey")
	}
	return r, nil
}

// JWTAuthenticator implements JWT (JSON Web Token) based authentication
type JWTAuthenticator struct {
	// SecretKey is used for HMAC signing methods (HS256, HS384, HS512)
	SecretKey []byte

	// SigningMethod specifies the JWT signing method (default: HS256)
	SigningMethod jwt.SigningMethod

	// Audience specifies the expected audience (aud) claim
	// If empty, audience validation is skipped
	Audience string

	// ValidateFunc allows custom validation of JWT claims
	ValidateFunc func(claims jwt.MapClaims) error
}

// NewJWTAuthenticator creates a new JWT authenticator with HMAC-SHA256
func NewJWTAuthenticator(secretKey []byte) *JWTAuthenticator {
	return &JWTAuthenticator{
		SecretKey:     secretKey,
		SigningMethod: jwt.SigningMethodHS256,
	}
}

// WithAudience sets the expected audience for JWT validation
func (j *JWTAuthenticator) WithAudience(audience string) *JWTAuthenticator {
	j.Audience = audience
	return j
}

// WithValidateFunc sets a custom validation function for JWT claims
func (j *JWTAuthenticator) WithValidateFunc(fn func(claims jwt.MapClaims) error) *JWTAuthenticator {
	j.ValidateFunc = fn
	return j
}

// Authenticate implements Authenticator
func (j *JWTAuthenticator) Authenticate(ctx context.Context, r *http.Request) (*http.Request, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, newAuthError(AuthErrorCodeMissingCredentials, "missing Authorization header", "bearer")
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return nil, newAuthError(AuthErrorCodeInvalidCredentials, "invalid Authorization header format", "bearer")
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")

	method := j.SigningMethod
	if method == nil {
		method = jwt.SigningMethodHS256
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithTimeFunc(flextime.Now),
	}
	if j.Audience != "" {
		opts = append(opts, jwt.WithAudience(j.Audience))
	}
	token, err := jwt.ParseWithClaims(tokenString, jwt.MapClaims{}, func(token *jwt.Token) (any, error) {
		return j.SecretKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, newAuthError(AuthErrorCodeExpiredCredentials, "JWT token has expired", "bearer")
		}
		return nil, newAuthError(AuthErrorCodeInvalidCredentials, fmt.Sprintf("invalid JWT: %v", err), "bearer")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, newAuthError(AuthErrorCodeInvalidCredentials, "invalid JWT claims", "bearer")
	}
	if j.ValidateFunc != nil {
		if err := j.ValidateFunc(claims); err != nil {
			return nil, newAuthError(AuthErrorCodeInvalidCredentials, fmt.Sprintf("JWT validation failed: %v", err), "bearer")
		}
	}

	newCtx := context.WithValue(r.Context(), jwtContextKey{}, claims)
	newCtx = context.WithValue(newCtx, jwtTokenContextKey{}, tokenString)
	return r.WithContext(newCtx), nil
}

// AnyAuthenticator accepts a request when any of its authenticators does.
// The error of the last authenticator is returned otherwise.
type AnyAuthenticator []Authenticator

// Authenticate implements Authenticator
func (a AnyAuthenticator) Authenticate(ctx context.Context, r *http.Request) (*http.Request, error) {
	err := error(newAuthError(AuthErrorCodeMissingCredentials, "no authenticator configured", ""))
	for _, auth := range a {
		var req *http.Request
		req, err = auth.Authenticate(ctx, r)
		if err == nil {
			return req, nil
		}
	}
	return nil, err
}

