package auth

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/veldt-lab/veldt/internal/admission"
	httperr "github.com/veldt-lab/veldt/internal/core/errors"
	"github.com/veldt-lab/veldt/internal/pii"
)

const (
	msgInvalidCredentials = "Invalid credentials"
	msgTooManyAttempts    = "Too many failed attempts"
	msgMissingBearer      = "Missing or invalid bearer token"
)

// Service is the operator front door: a single shared token checked in
// constant time, with the admission gate throttling repeated failures per
// client + account identity.
type Service struct {
	gate      *admission.Gate
	hasher    *pii.Hasher
	tokenHash string
}

// NewService builds the auth service. token is the shared operator secret;
// only its keyed hash is retained.
func NewService(gate *admission.Gate, hasher *pii.Hasher, token string) *Service {
	if gate == nil {
		panic("auth: gate must not be nil")
	}
	if hasher == nil {
		panic("auth: hasher must not be nil")
	}
	if token == "" {
		panic("auth: operator token must not be empty")
	}
	return &Service{
		gate:      gate,
		hasher:    hasher,
		tokenHash: hasher.Hash(token),
	}
}

// RegisterRoutes registers the auth routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/auth/login", s.LoginHandler)
}

type loginRequest struct {
	Account string `json:"account" binding:"required"`
	Token   string `json:"token" binding:"required"`
}

// LoginHandler handles POST /v1/auth/login. The gate is consulted before the
// credential check, so a limited identity learns nothing about token
// validity while the window is closed.
func (s *Service) LoginHandler(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid login request",
			Details:   err.Error(),
		})
		return
	}

	identity := admission.LoginIdentity(admission.IdentityFor(c.Request), req.Account)

	decision := s.gate.CheckLimit(identity)
	if !decision.Allowed {
		slog.Warn("[Auth] Login attempt while rate limited", "account", req.Account)
		c.Header("Retry-After", strconv.Itoa(decision.RetryAfterSeconds()))
		c.JSON(http.StatusTooManyRequests, httperr.ErrorResponse{
			ErrorType: httperr.HttpRateLimitedError,
			Message:   msgTooManyAttempts,
		})
		return
	}

	if !s.hasher.Verify(req.Token, s.tokenHash) {
		s.gate.RecordFailure(identity)
		slog.Warn("[Auth] Login failed", "account", req.Account)
		c.JSON(http.StatusUnauthorized, httperr.ErrorResponse{
			ErrorType: httperr.HttpUnauthorizedError,
			Message:   msgInvalidCredentials,
		})
		return
	}

	s.gate.RecordSuccess(identity)
	slog.Info("[Auth] Login succeeded", "account", req.Account)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Middleware guards a route group with the bearer form of the operator
// token. Comparison is keyed-hash based, so timing reveals nothing.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || !s.hasher.Verify(token, s.tokenHash) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httperr.ErrorResponse{
				ErrorType: httperr.HttpUnauthorizedError,
				Message:   msgMissingBearer,
			})
			return
		}
		c.Next()
	}
}
