package handler_test

import (
	"bytes"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/minichain/internal/api/handler"
	"github.com/jmerrifield20/minichain/internal/auth"
)

func TestIssueToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tokens, err := auth.NewTokenIssuer(bytes.Repeat([]byte("k"), 32), "test", 0)
	if err != nil {
		t.Fatal(err)
	}
	hash, err := auth.HashSecret("s3cret")
	if err != nil {
		t.Fatal(err)
	}
	secrets, err := auth.NewSecretChecker(hash)
	if err != nil {
		t.Fatal(err)
	}

	r := gin.New()
	handler.NewAuthHandler(tokens, secrets, zap.NewNop()).Register(r.Group("/api/v1"))

	mustStatus(t, do(t, r, http.MethodPost, "/api/v1/auth/token", map[string]string{"secret": "nope"}), http.StatusUnauthorized)
	mustStatus(t, do(t, r, http.MethodPost, "/api/v1/auth/token", map[string]string{}), http.StatusBadRequest)

	w := do(t, r, http.MethodPost, "/api/v1/auth/token", map[string]string{"secret": "s3cret"})
	mustStatus(t, w, http.StatusOK)
	resp := decode(t, w)
	tok, _ := resp["access_token"].(string)
	claims, err := tokens.Verify(tok)
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if !claims.HasScope(auth.ScopeWrite) {
		t.Error("issued token should carry the write scope")
	}
}
