package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"sadhana-metering/internal/apperr"
	"sadhana-metering/internal/config"
	"sadhana-metering/internal/logger"
	"sadhana-metering/internal/repository/db"
	"sadhana-metering/pkg/api"
	"sadhana-metering/pkg/validation"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

type contextKey string

const userContextKey contextKey = "user"

// Identity is the authenticated caller of a request.
type Identity struct {
	UserID   string
	Username string
}

// WithIdentity attaches id to ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, userContextKey, id)
}

// IdentityFromContext returns the caller set by the middleware.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(userContextKey).(Identity)
	return id, ok
}

// UserIDFromContext returns the caller's user id, or "" when unauthenticated.
func UserIDFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.UserID
}

// Claims carries the username; the user id is the token subject.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Service issues and verifies tokens and serves the login and register endpoints.
type Service struct {
	users      db.UserStore
	secret     []byte
	expiration time.Duration
	validator  *validation.AuthRequestValidator
	now        func() time.Time
}

func NewService(users db.UserStore, cfg config.AuthConfig) *Service {
	expiration := cfg.TokenExpiration
	if expiration <= 0 {
		expiration = 24 * time.Hour
	}
	return &Service{
		users:      users,
		secret:     cfg.JWTSecret,
		expiration: expiration,
		validator:  validation.NewAuthRequestValidator(),
		now:        time.Now,
	}
}

// sendError sends a standardized JSON error response
func sendError(w http.ResponseWriter, status int, message string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	errResp := api.ErrorResponse{
		Code:    status,
		Message: message,
	}
	if status == http.StatusUnauthorized {
		errResp.Kind = string(apperr.KindAuthentication)
	}
	if err != nil {
		errResp.Error = err.Error()
	}
	json.NewEncoder(w).Encode(errResp)
}

func (s *Service) GenerateToken(user *db.User) (string, error) {
	now := s.now()
	claims := Claims{
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// LoginHandler authenticates user and returns JWT token
func (s *Service) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	var req api.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := s.validator.ValidateLoginRequest(req); err != nil {
		sendError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	log := logger.Log.WithField("username", req.Username)

	user, err := s.users.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			log.WithError(err).Error("Error loading user")
			sendError(w, http.StatusInternalServerError, "Error loading user", nil)
			return
		}
		log.Warn("Login failed: user not found")
		sendError(w, http.StatusUnauthorized, "Invalid credentials", nil)
		return
	}

	if !user.VerifyPassword(req.Password) {
		log.Warn("Login failed: invalid password")
		sendError(w, http.StatusUnauthorized, "Invalid credentials", nil)
		return
	}

	token, err := s.GenerateToken(user)
	if err != nil {
		log.WithError(err).Error("Error generating token")
		sendError(w, http.StatusInternalServerError, "Error generating token", err)
		return
	}

	log.WithField("user_id", user.ID).Info("User logged in successfully")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(api.LoginResponse{Token: token})
}

// RegisterHandler creates a new user account on the free plan
func (s *Service) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	var req api.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := s.validator.ValidateRegisterRequest(req); err != nil {
		sendError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	log := logger.Log.WithField("username", req.Username)

	user, err := s.users.CreateUser(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, db.ErrConflict) {
			log.Warn("Registration failed: username already exists")
			sendError(w, http.StatusConflict, "Username already exists", nil)
			return
		}
		log.WithError(err).Error("Registration failed")
		sendError(w, http.StatusInternalServerError, "Error creating user", nil)
		return
	}

	token, err := s.GenerateToken(user)
	if err != nil {
		log.WithError(err).Error("Error generating token")
		sendError(w, http.StatusInternalServerError, "Error generating token", err)
		return
	}

	log.WithField("user_id", user.ID).Info("User registered successfully")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(api.RegisterResponse{
		Message: "User registered successfully",
		Token:   token,
	})
}

// Middleware rejects requests without a valid bearer token and stores the
// caller's identity in the request context.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			sendError(w, http.StatusUnauthorized, "Missing authorization header", nil)
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			sendError(w, http.StatusUnauthorized, "Invalid authorization header format", nil)
			return
		}

		claims, err := s.ValidateToken(token)
		if err != nil {
			logger.Log.WithFields(logrus.Fields{"path": r.URL.Path}).WithError(err).Debug("Rejected bearer token")
			sendError(w, http.StatusUnauthorized, "Invalid token", err)
			return
		}

		ctx := WithIdentity(r.Context(), Identity{UserID: claims.Subject, Username: claims.Username})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
