package webhooks_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jmerrifield20/minichain/internal/auth"
	"github.com/jmerrifield20/minichain/internal/webhooks"
)

var ctx = context.Background()

type received struct {
	header http.Header
	body   []byte
}

// sink records every delivery and answers with the next status in codes,
// repeating the last one.
func sink(t *testing.T, codes ...int) (*httptest.Server, func() []received) {
	t.Helper()
	var (
		mu   sync.Mutex
		got  []received
		call int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, received{header: r.Header.Clone(), body: body})
		code := http.StatusOK
		if len(codes) > 0 {
			code = codes[min(call, len(codes)-1)]
		}
		call++
		mu.Unlock()
		w.WriteHeader(code)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []received {
		mu.Lock()
		defer mu.Unlock()
		return append([]received(nil), got...)
	}
}

func newService(t *testing.T) (*webhooks.Service, *webhooks.MemoryRepository) {
	t.Helper()
	repo := webhooks.NewMemoryRepository()
	svc := webhooks.NewService(repo, zap.NewNop())
	svc.SetRetryDelays([]time.Duration{0, time.Millisecond, time.Millisecond})
	return svc, repo
}

func TestDispatch_signedDelivery(t *testing.T) {
	srv, got := sink(t)
	svc, _ := newService(t)

	sub, err := svc.Subscribe(ctx, &webhooks.CreateSubscriptionRequest{
		URL:    srv.URL,
		Events: []string{webhooks.EventBlockAppended},
	})
	require.NoError(t, err)
	require.NotEmpty(t, sub.Secret)

	svc.Dispatch(ctx, webhooks.EventBlockAppended, "main", map[string]string{"index": "1"})
	svc.Dispatch(ctx, webhooks.EventChainDeleted, "main", nil) // not subscribed
	svc.Wait()

	deliveries := got()
	require.Len(t, deliveries, 1)
	d := deliveries[0]
	assert.True(t, webhooks.VerifySignature(d.body, sub.Secret, d.header.Get(webhooks.SignatureHeader)))
	assert.False(t, webhooks.VerifySignature(d.body, "wrong", d.header.Get(webhooks.SignatureHeader)))
	assert.Equal(t, webhooks.EventBlockAppended, d.header.Get(webhooks.EventTypeHeader))

	var ev webhooks.Event
	require.NoError(t, json.Unmarshal(d.body, &ev))
	assert.Equal(t, "main", ev.Chain)
	assert.Equal(t, "1", ev.Payload["index"])
	assert.Equal(t, ev.ID.String(), d.header.Get(webhooks.DeliveryIDHeader))
}

func TestDispatch_wildcard(t *testing.T) {
	srv, got := sink(t)
	svc, _ := newService(t)

	_, err := svc.Subscribe(ctx, &webhooks.CreateSubscriptionRequest{URL: srv.URL, Events: []string{"*"}})
	require.NoError(t, err)

	svc.Dispatch(ctx, webhooks.EventChainCreated, "a", nil)
	svc.Dispatch(ctx, webhooks.EventChainInvalid, "b", nil)
	svc.Wait()
	assert.Len(t, got(), 2)
}

func TestDispatch_retriesUntilSuccess(t *testing.T) {
	srv, got := sink(t, http.StatusInternalServerError, http.StatusBadGateway, http.StatusOK)
	svc, repo := newService(t)
	var ok, failed atomic.Int32
	svc.SetMetricsRecorder(func(success bool) {
		if success {
			ok.Add(1)
		} else {
			failed.Add(1)
		}
	})

	sub, err := svc.Subscribe(ctx, &webhooks.CreateSubscriptionRequest{URL: srv.URL, Events: []string{webhooks.EventChainCreated}})
	require.NoError(t, err)

	svc.Dispatch(ctx, webhooks.EventChainCreated, "main", nil)
	svc.Wait()

	assert.Len(t, got(), 3)
	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(2), failed.Load())

	ds, err := repo.ListDeliveries(ctx, sub.ID, 0)
	require.NoError(t, err)
	require.Len(t, ds, 3)
	assert.True(t, ds[0].Success, "newest first")
	assert.Equal(t, 3, ds[0].Attempt)
	assert.Equal(t, http.StatusInternalServerError, ds[2].StatusCode)
}

func TestDispatch_givesUpAfterLastAttempt(t *testing.T) {
	srv, got := sink(t, http.StatusServiceUnavailable)
	svc, _ := newService(t)
	_, err := svc.Subscribe(ctx, &webhooks.CreateSubscriptionRequest{URL: srv.URL, Events: []string{webhooks.EventChainCreated}})
	require.NoError(t, err)

	svc.Dispatch(ctx, webhooks.EventChainCreated, "main", nil)
	svc.Wait()
	assert.Len(t, got(), 3)
}

func TestDispatch_outlivesRequestContext(t *testing.T) {
	srv, got := sink(t)
	svc, _ := newService(t)
	_, err := svc.Subscribe(ctx, &webhooks.CreateSubscriptionRequest{URL: srv.URL, Events: []string{webhooks.EventChainCreated}})
	require.NoError(t, err)

	reqCtx, cancel := context.WithCancel(ctx)
	svc.Dispatch(reqCtx, webhooks.EventChainCreated, "main", nil)
	cancel()
	svc.Wait()
	assert.Len(t, got(), 1)
}

func TestSubscribe_validation(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.Subscribe(ctx, &webhooks.CreateSubscriptionRequest{URL: "ftp://example.com", Events: []string{"*"}})
	assert.ErrorIs(t, err, webhooks.ErrInvalidURL)

	_, err = svc.Subscribe(ctx, &webhooks.CreateSubscriptionRequest{URL: "https://example.com/hook", Events: []string{"agent.registered"}})
	assert.ErrorIs(t, err, webhooks.ErrUnknownEvent)

	sub, err := svc.Subscribe(ctx, &webhooks.CreateSubscriptionRequest{
		URL:    "https://example.com/hook",
		Events: []string{webhooks.EventChainDeleted, webhooks.EventChainCreated, webhooks.EventChainDeleted},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{webhooks.EventChainCreated, webhooks.EventChainDeleted}, sub.Events)
}

func TestMemoryRepository(t *testing.T) {
	repo := webhooks.NewMemoryRepository()
	a := &webhooks.Subscription{URL: "https://a.example", Events: []string{webhooks.EventChainCreated}}
	b := &webhooks.Subscription{URL: "https://b.example", Events: []string{"*"}}
	require.NoError(t, repo.Create(ctx, a))
	require.NoError(t, repo.Create(ctx, b))

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	subs, err := repo.ListByEvent(ctx, webhooks.EventChainDeleted)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, b.ID, subs[0].ID)

	got, err := repo.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.URL, got.URL)
	assert.True(t, got.Active)

	require.NoError(t, repo.Delete(ctx, a.ID))
	assert.ErrorIs(t, repo.Delete(ctx, a.ID), webhooks.ErrNotFound)
	_, err = repo.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, webhooks.ErrNotFound)
}

func TestHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tokens, err := auth.NewTokenIssuer(bytes.Repeat([]byte("k"), 32), "test", time.Hour)
	require.NoError(t, err)
	svc, _ := newService(t)

	r := gin.New()
	webhooks.NewHandler(svc, tokens, zap.NewNop()).Register(r.Group("/api/v1"))
	tok, _, err := tokens.Issue("admin", []string{auth.ScopeWrite})
	require.NoError(t, err)

	do := func(method, path string, body any, authed bool) *httptest.ResponseRecorder {
		var rd io.Reader
		if body != nil {
			data, _ := json.Marshal(body)
			rd = bytes.NewReader(data)
		}
		req := httptest.NewRequest(method, path, rd)
		req.Header.Set("Content-Type", "application/json")
		if authed {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusUnauthorized, do(http.MethodGet, "/api/v1/webhooks", nil, false).Code)

	w := do(http.MethodPost, "/api/v1/webhooks", map[string]any{
		"url": "https://example.com/hook", "events": []string{"block.appended"},
	}, true)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Subscription struct {
			ID string `json:"id"`
		} `json:"subscription"`
		Secret string `json:"secret"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotEmpty(t, created.Secret)

	w = do(http.MethodGet, "/api/v1/webhooks", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), created.Secret, "secret is shown once")

	assert.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/api/v1/webhooks", map[string]any{
		"url": "https://example.com/hook", "events": []string{"nope"},
	}, true).Code)
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/api/v1/webhooks/"+created.Subscription.ID+"/deliveries", nil, true).Code)
	assert.Equal(t, http.StatusBadRequest, do(http.MethodDelete, "/api/v1/webhooks/not-a-uuid", nil, true).Code)
	assert.Equal(t, http.StatusNoContent, do(http.MethodDelete, "/api/v1/webhooks/"+created.Subscription.ID, nil, true).Code)
	assert.Equal(t, http.StatusNotFound, do(http.MethodDelete, "/api/v1/webhooks/"+created.Subscription.ID, nil, true).Code)
}
