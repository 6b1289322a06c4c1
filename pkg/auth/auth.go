package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"debridhub/pkg/env"
	"debridhub/pkg/logger"
)

// Credentials stores the authentication information
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// JWTClaims defines the structure for JWT claims
type JWTClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Authenticator issues and validates bearer tokens for the control surface.
type Authenticator struct {
	secret   []byte
	username string
	password string
	enabled  bool
}

// NewAuthenticator reads its settings from the environment:
// JWT_SECRET, AUTH_USERNAME, AUTH_PASSWORD, AUTH_ENABLED.
func NewAuthenticator() *Authenticator {
	return &Authenticator{
		secret:   []byte(env.GetString("JWT_SECRET", "")),
		username: env.GetString("AUTH_USERNAME", "admin"),
		password: env.GetString("AUTH_PASSWORD", "password"),
		enabled:  env.IsBool("AUTH_ENABLED", true),
	}
}

// Enabled reports whether authentication is enforced.
func (a *Authenticator) Enabled() bool {
	return a.enabled
}

func (a *Authenticator) validateCredentials(username, password string) bool {
	return subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1 &&
		subtle.ConstantTimeCompare([]byte(password), []byte(a.password)) == 1
}

// GenerateJWT generates a 24h token for a given username
func (a *Authenticator) GenerateJWT(username string) (string, error) {
	claims := JWTClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *Authenticator) parseToken(tokenStr string) (*jwt.Token, error) {
	return jwt.ParseWithClaims(tokenStr, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
}

func isAuthEndpoint(path string) bool {
	switch path {
	case "/api/auth/login", "/api/auth/check":
		return true
	}
	return false
}

// Middleware protects endpoints with JWT auth. Auth endpoints pass through.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isAuthEndpoint(r.URL.Path) || !a.enabled || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		tokenStr := ""
		if strings.HasPrefix(header, "Bearer ") {
			tokenStr = strings.TrimPrefix(header, "Bearer ")
		} else if token := r.URL.Query().Get("token"); token != "" {
			tokenStr = token
		}

		if tokenStr == "" {
			logger.Warn("[Auth] Missing token for path: %s", r.URL.Path)
			http.Error(w, "Missing or invalid Authorization header or token parameter", http.StatusUnauthorized)
			return
		}

		token, err := a.parseToken(tokenStr)
		if err != nil || !token.Valid {
			logger.Warn("[Auth] Invalid or expired token for path %s: %v", r.URL.Path, err)
			http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HandleLogin handles the login endpoint
func (a *Authenticator) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var creds Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		logger.Warn("[Auth] Invalid request body: %v", err)
		return
	}
	if !a.validateCredentials(creds.Username, creds.Password) {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		logger.Warn("[Auth] Failed login attempt for user '%s'", creds.Username)
		return
	}
	token, err := a.GenerateJWT(creds.Username)
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		logger.Warn("[Auth] Failed to generate token for user '%s': %v", creds.Username, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"token": token})
	logger.Info("[Auth] Successful login for user '%s'", creds.Username)
}

// HandleAuthCheck reports whether the presented JWT is valid
func (a *Authenticator) HandleAuthCheck(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("Authorization")
	valid := false
	if strings.HasPrefix(header, "Bearer ") {
		token, err := a.parseToken(strings.TrimPrefix(header, "Bearer "))
		if err == nil && token.Valid {
			valid = true
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"isAuthenticated": valid,
		"authEnabled":     a.enabled,
	})
}
