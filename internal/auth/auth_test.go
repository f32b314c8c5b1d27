package auth_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jmerrifield20/minichain/internal/auth"
)

var testKey = bytes.Repeat([]byte("k"), 32)

func newIssuer(t *testing.T, ttl time.Duration) *auth.TokenIssuer {
	t.Helper()
	ti, err := auth.NewTokenIssuer(testKey, "http://localhost:8080", ttl)
	if err != nil {
		t.Fatal(err)
	}
	return ti
}

func TestNewTokenIssuer_shortKey(t *testing.T) {
	if _, err := auth.NewTokenIssuer([]byte("short"), "iss", 0); err == nil {
		t.Error("expected error for a short signing key")
	}
}

func TestIssueVerify_roundTrip(t *testing.T) {
	ti := newIssuer(t, 0)
	if ti.TTL() != time.Hour {
		t.Errorf("default TTL: got %s", ti.TTL())
	}

	tok, exp, err := ti.Issue("admin", []string{auth.ScopeWrite})
	if err != nil {
		t.Fatal(err)
	}
	if time.Until(exp) <= 0 {
		t.Error("expiry should be in the future")
	}

	claims, err := ti.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "admin" || !claims.HasScope(auth.ScopeWrite) {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestVerify_rejectsOtherKey(t *testing.T) {
	tok, _, _ := newIssuer(t, 0).Issue("admin", nil)

	other, _ := auth.NewTokenIssuer(bytes.Repeat([]byte("x"), 32), "http://localhost:8080", 0)
	if _, err := other.Verify(tok); err == nil {
		t.Error("token signed with a different key must not verify")
	}
}

func TestVerify_rejectsExpired(t *testing.T) {
	ti := newIssuer(t, -time.Minute)
	tok, _, err := ti.Issue("admin", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ti.Verify(tok); err == nil {
		t.Error("expired token must not verify")
	}
}

func TestSecretChecker(t *testing.T) {
	h, err := auth.HashSecret("s3cret")
	if err != nil {
		t.Fatal(err)
	}
	sc, err := auth.NewSecretChecker(h)
	if err != nil {
		t.Fatal(err)
	}
	if !sc.Check("s3cret") {
		t.Error("correct secret rejected")
	}
	if sc.Check("wrong") {
		t.Error("wrong secret accepted")
	}

	if _, err := auth.NewSecretChecker("not-a-bcrypt-hash"); err == nil {
		t.Error("expected error for a malformed hash")
	}
	if _, err := auth.HashSecret(""); err == nil {
		t.Error("expected error for an empty secret")
	}
}

func TestRequireScope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ti := newIssuer(t, 0)
	r := gin.New()
	r.POST("/w", auth.RequireScope(ti, auth.ScopeWrite), func(c *gin.Context) {
		c.String(http.StatusOK, auth.ClaimsFromCtx(c).Subject)
	})

	writer, _, _ := ti.Issue("admin", []string{auth.ScopeWrite})
	reader, _, _ := ti.Issue("viewer", []string{"chains:read"})

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"malformed", "Bearer nope", http.StatusUnauthorized},
		{"wrong scope", "Bearer " + reader, http.StatusForbidden},
		{"ok", "Bearer " + writer, http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/w", strings.NewReader(""))
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tc.want {
			t.Errorf("%s: expected %d, got %d: %s", tc.name, tc.want, w.Code, w.Body.String())
		}
	}
}
