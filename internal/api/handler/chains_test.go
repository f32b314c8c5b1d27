package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/minichain/internal/api/handler"
	"github.com/jmerrifield20/minichain/internal/auth"
	"github.com/jmerrifield20/minichain/internal/service"
	"github.com/jmerrifield20/minichain/internal/store"
)

func setupChainRouter(t *testing.T, tokens *auth.TokenIssuer) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	svc := service.NewChainService(store.NewMemoryStore(), zap.NewNop())
	svc.SetMetrics(handler.PrometheusMetrics{})
	h := handler.NewChainHandler(svc, tokens, zap.NewNop())
	v1 := r.Group("/api/v1")
	h.Register(v1)
	return r
}

func do(t *testing.T, r *gin.Engine, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		req = httptest.NewRequest(method, path, bytes.NewReader(data))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return resp
}

func mustStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, w.Code, w.Body.String())
	}
}

func TestCreateChain_201(t *testing.T) {
	r := setupChainRouter(t, nil)

	w := do(t, r, http.MethodPost, "/api/v1/chains", map[string]string{"name": "main"})
	mustStatus(t, w, http.StatusCreated)
	resp := decode(t, w)
	if resp["name"] != "main" || resp["length"].(float64) != 0 {
		t.Errorf("unexpected body: %v", resp)
	}

	w = do(t, r, http.MethodPost, "/api/v1/chains", map[string]string{"name": "main"})
	mustStatus(t, w, http.StatusConflict)
}

func TestCreateChain_noBodyGeneratesName(t *testing.T) {
	r := setupChainRouter(t, nil)
	w := do(t, r, http.MethodPost, "/api/v1/chains", nil)
	mustStatus(t, w, http.StatusCreated)
	if name, _ := decode(t, w)["name"].(string); len(name) != 36 {
		t.Errorf("expected a UUID name, got %q", name)
	}
}

func TestCreateChain_400_invalidName(t *testing.T) {
	r := setupChainRouter(t, nil)
	w := do(t, r, http.MethodPost, "/api/v1/chains", map[string]string{"name": "no spaces"})
	mustStatus(t, w, http.StatusBadRequest)
}

func TestAppendAndVerify_endToEnd(t *testing.T) {
	r := setupChainRouter(t, nil)
	mustStatus(t, do(t, r, http.MethodPost, "/api/v1/chains", map[string]string{"name": "main"}), http.StatusCreated)

	for _, tx := range []string{"first", "second", "third"} {
		w := do(t, r, http.MethodPost, "/api/v1/chains/main/blocks", map[string]string{"transaction": tx})
		mustStatus(t, w, http.StatusCreated)
	}

	w := do(t, r, http.MethodGet, "/api/v1/chains/main", nil)
	mustStatus(t, w, http.StatusOK)
	if n := decode(t, w)["length"].(float64); n != 3 {
		t.Errorf("expected length 3, got %v", n)
	}

	w = do(t, r, http.MethodGet, "/api/v1/chains/main/verify", nil)
	mustStatus(t, w, http.StatusOK)
	resp := decode(t, w)
	if resp["valid"] != true {
		t.Errorf("expected valid=true, got %v", resp)
	}
	if vs, _ := resp["violations"].([]any); len(vs) != 0 {
		t.Errorf("expected no violations, got %v", vs)
	}

	w = do(t, r, http.MethodGet, "/api/v1/chains/main/blocks/2", nil)
	mustStatus(t, w, http.StatusOK)
	b2 := decode(t, w)
	w = do(t, r, http.MethodGet, "/api/v1/chains/main/blocks/1", nil)
	b1 := decode(t, w)
	if b2["previous_hash"] != b1["hash"] {
		t.Errorf("block 2 not linked to block 1: %v vs %v", b2["previous_hash"], b1["hash"])
	}
}

func TestAppend_400_missingTransaction(t *testing.T) {
	r := setupChainRouter(t, nil)
	mustStatus(t, do(t, r, http.MethodPost, "/api/v1/chains", map[string]string{"name": "main"}), http.StatusCreated)

	w := do(t, r, http.MethodPost, "/api/v1/chains/main/blocks", map[string]string{})
	mustStatus(t, w, http.StatusBadRequest)
}

func TestAppend_emptyTransactionAllowed(t *testing.T) {
	r := setupChainRouter(t, nil)
	mustStatus(t, do(t, r, http.MethodPost, "/api/v1/chains", map[string]string{"name": "main"}), http.StatusCreated)

	w := do(t, r, http.MethodPost, "/api/v1/chains/main/blocks", map[string]string{"transaction": ""})
	mustStatus(t, w, http.StatusCreated)
}

func TestAppend_404(t *testing.T) {
	r := setupChainRouter(t, nil)
	w := do(t, r, http.MethodPost, "/api/v1/chains/missing/blocks", map[string]string{"transaction": "x"})
	mustStatus(t, w, http.StatusNotFound)
}

func TestListBlocks_window(t *testing.T) {
	r := setupChainRouter(t, nil)
	mustStatus(t, do(t, r, http.MethodPost, "/api/v1/chains", map[string]string{"name": "main"}), http.StatusCreated)
	for _, tx := range []string{"a", "b", "c"} {
		do(t, r, http.MethodPost, "/api/v1/chains/main/blocks", map[string]string{"transaction": tx})
	}

	w := do(t, r, http.MethodGet, "/api/v1/chains/main/blocks?from=1&limit=2", nil)
	mustStatus(t, w, http.StatusOK)
	resp := decode(t, w)
	blocks := resp["blocks"].([]any)
	if len(blocks) != 2 || resp["total"].(float64) != 4 {
		t.Fatalf("unexpected window: %v", resp)
	}
	if first := blocks[0].(map[string]any); first["transaction"] != "a" {
		t.Errorf("window should start at block 1, got %v", first)
	}

	mustStatus(t, do(t, r, http.MethodGet, "/api/v1/chains/main/blocks?from=-1", nil), http.StatusBadRequest)
	w = do(t, r, http.MethodGet, "/api/v1/chains/main/blocks?from=99", nil)
	mustStatus(t, w, http.StatusOK)
	if blocks := decode(t, w)["blocks"].([]any); len(blocks) != 0 {
		t.Errorf("expected empty window, got %v", blocks)
	}
}

func TestGetBlock_errors(t *testing.T) {
	r := setupChainRouter(t, nil)
	mustStatus(t, do(t, r, http.MethodPost, "/api/v1/chains", map[string]string{"name": "main"}), http.StatusCreated)

	mustStatus(t, do(t, r, http.MethodGet, "/api/v1/chains/main/blocks/0", nil), http.StatusOK)
	mustStatus(t, do(t, r, http.MethodGet, "/api/v1/chains/main/blocks/999", nil), http.StatusNotFound)
	mustStatus(t, do(t, r, http.MethodGet, "/api/v1/chains/main/blocks/abc", nil), http.StatusBadRequest)
}

func TestForkAndAncestor(t *testing.T) {
	r := setupChainRouter(t, nil)
	mustStatus(t, do(t, r, http.MethodPost, "/api/v1/chains", map[string]string{"name": "c1"}), http.StatusCreated)
	for _, tx := range []string{"A", "B", "C"} {
		do(t, r, http.MethodPost, "/api/v1/chains/c1/blocks", map[string]string{"transaction": tx})
	}

	w := do(t, r, http.MethodPost, "/api/v1/chains/c1/fork", map[string]any{"name": "c2"})
	mustStatus(t, w, http.StatusCreated)
	if n := decode(t, w)["length"].(float64); n != 3 {
		t.Errorf("whole-chain fork length: got %v", n)
	}

	do(t, r, http.MethodPost, "/api/v1/chains/c1/blocks", map[string]string{"transaction": "X"})
	do(t, r, http.MethodPost, "/api/v1/chains/c2/blocks", map[string]string{"transaction": "Y"})

	w = do(t, r, http.MethodGet, "/api/v1/chains/c1/ancestor/c2", nil)
	mustStatus(t, w, http.StatusOK)
	resp := decode(t, w)
	if resp["length"].(float64) != 3 || len(resp["blocks"].([]any)) != 4 {
		t.Errorf("unexpected ancestor: %v", resp)
	}

	w = do(t, r, http.MethodPost, "/api/v1/chains/c1/ancestor/c2", map[string]string{"name": "root"})
	mustStatus(t, w, http.StatusCreated)
	if decode(t, w)["head"] != resp["head"] {
		t.Error("stored ancestor head differs from the computed one")
	}

	w = do(t, r, http.MethodPost, "/api/v1/chains/c1/fork", map[string]any{"name": "early", "point": 1})
	mustStatus(t, w, http.StatusCreated)
	if n := decode(t, w)["length"].(float64); n != 1 {
		t.Errorf("fork at 1 length: got %v", n)
	}
}

func TestFork_400_outOfRange(t *testing.T) {
	r := setupChainRouter(t, nil)
	mustStatus(t, do(t, r, http.MethodPost, "/api/v1/chains", map[string]string{"name": "main"}), http.StatusCreated)

	w := do(t, r, http.MethodPost, "/api/v1/chains/main/fork", map[string]any{"name": "f", "point": 5})
	mustStatus(t, w, http.StatusBadRequest)
}

func TestDeleteChain(t *testing.T) {
	r := setupChainRouter(t, nil)
	mustStatus(t, do(t, r, http.MethodPost, "/api/v1/chains", map[string]string{"name": "main"}), http.StatusCreated)

	mustStatus(t, do(t, r, http.MethodDelete, "/api/v1/chains/main", nil), http.StatusNoContent)
	mustStatus(t, do(t, r, http.MethodGet, "/api/v1/chains/main", nil), http.StatusNotFound)
	mustStatus(t, do(t, r, http.MethodDelete, "/api/v1/chains/main", nil), http.StatusNotFound)
}

func TestListChains(t *testing.T) {
	r := setupChainRouter(t, nil)
	for _, name := range []string{"b", "a"} {
		mustStatus(t, do(t, r, http.MethodPost, "/api/v1/chains", map[string]string{"name": name}), http.StatusCreated)
	}
	w := do(t, r, http.MethodGet, "/api/v1/chains", nil)
	mustStatus(t, w, http.StatusOK)
	resp := decode(t, w)
	chains := resp["chains"].([]any)
	if resp["count"].(float64) != 2 || chains[0].(map[string]any)["name"] != "a" {
		t.Errorf("unexpected list: %v", resp)
	}
}

func TestWriteRoutes_requireToken(t *testing.T) {
	tokens, err := auth.NewTokenIssuer(bytes.Repeat([]byte("k"), 32), "test", 0)
	if err != nil {
		t.Fatal(err)
	}
	r := setupChainRouter(t, tokens)

	mustStatus(t, do(t, r, http.MethodPost, "/api/v1/chains", map[string]string{"name": "main"}), http.StatusUnauthorized)

	tok, _, _ := tokens.Issue("admin", []string{auth.ScopeWrite})
	mustStatus(t, do(t, r, http.MethodPost, "/api/v1/chains", map[string]string{"name": "main"},
		"Authorization", "Bearer "+tok), http.StatusCreated)

	// Reads stay public.
	mustStatus(t, do(t, r, http.MethodGet, "/api/v1/chains/main/verify", nil), http.StatusOK)
}

func setupLimitedRouter(t *testing.T, maxTx int, bodyCap int64) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handler.BodyLimit(bodyCap))
	svc := service.NewChainService(store.NewMemoryStore(), zap.NewNop())
	svc.SetMaxTransactionBytes(maxTx)
	handler.NewChainHandler(svc, nil, zap.NewNop()).Register(r.Group("/api/v1"))
	mustStatus(t, do(t, r, http.MethodPost, "/api/v1/chains", map[string]string{"name": "main"}), http.StatusCreated)
	return r
}

func TestAppend_limitAboveOneMiB(t *testing.T) {
	const maxTx = 2 << 20
	r := setupLimitedRouter(t, maxTx, handler.MaxBodyBytes(maxTx))

	w := do(t, r, http.MethodPost, "/api/v1/chains/main/blocks",
		map[string]string{"transaction": strings.Repeat("a", maxTx)})
	mustStatus(t, w, http.StatusCreated)

	w = do(t, r, http.MethodPost, "/api/v1/chains/main/blocks",
		map[string]string{"transaction": strings.Repeat("a", maxTx+1)})
	mustStatus(t, w, http.StatusRequestEntityTooLarge)
}

func TestAppend_bodyOverCap413(t *testing.T) {
	r := setupLimitedRouter(t, 1<<20, 64)

	w := do(t, r, http.MethodPost, "/api/v1/chains/main/blocks",
		map[string]string{"transaction": strings.Repeat("a", 1024)})
	mustStatus(t, w, http.StatusRequestEntityTooLarge)
}
