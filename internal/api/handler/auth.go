package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/minichain/internal/auth"
)

// AuthHandler exchanges the admin secret for a writer token.
type AuthHandler struct {
	tokens  *auth.TokenIssuer
	secrets *auth.SecretChecker
	logger  *zap.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(tokens *auth.TokenIssuer, secrets *auth.SecretChecker, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{tokens: tokens, secrets: secrets, logger: logger}
}

// Register mounts the auth routes on the given router group.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/auth/token", h.IssueToken)
}

type tokenRequest struct {
	Secret  string `json:"secret" binding:"required"`
	Subject string `json:"subject"`
}

// IssueToken handles POST /auth/token.
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !h.secrets.Check(req.Secret) {
		h.logger.Warn("rejected token request", zap.String("client_ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid secret"})
		return
	}

	subject := req.Subject
	if subject == "" {
		subject = "admin"
	}
	tok, exp, err := h.tokens.Issue(subject, []string{auth.ScopeWrite})
	if err != nil {
		h.logger.Error("issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": tok,
		"token_type":   "Bearer",
		"expires_at":   exp,
		"expires_in":   int(h.tokens.TTL().Seconds()),
	})
}
