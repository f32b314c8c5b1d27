package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultRetryDelays is the wait before each attempt: 0, 1s, 5s, 25s.
var DefaultRetryDelays = []time.Duration{0, time.Second, 5 * time.Second, 25 * time.Second}

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(success bool)

// Service manages webhook subscriptions and event dispatching.
type Service struct {
	repo      Repository
	rc        *resty.Client
	delays    []time.Duration
	onMetrics MetricsRecorder
	inflight  sync.WaitGroup
	logger    *zap.Logger
}

// NewService creates a new webhook Service.
func NewService(repo Repository, logger *zap.Logger) *Service {
	return &Service{
		repo: repo,
		rc: resty.New().
			SetTimeout(10*time.Second).
			SetHeader("Content-Type", "application/json").
			SetHeader("User-Agent", "ledgerd-webhooks"),
		delays: DefaultRetryDelays,
		logger: logger,
	}
}

// SetMetricsRecorder configures the metrics callback.
func (s *Service) SetMetricsRecorder(fn MetricsRecorder) {
	s.onMetrics = fn
}

// SetRetryDelays replaces the per-attempt delays. The number of delays is
// the number of attempts.
func (s *Service) SetRetryDelays(delays []time.Duration) {
	if len(delays) == 0 {
		delays = []time.Duration{0}
	}
	s.delays = slices.Clone(delays)
}

// Subscribe creates a new subscription with a generated HMAC secret. The
// returned subscription is the only place the secret is exposed.
func (s *Service) Subscribe(ctx context.Context, req *CreateSubscriptionRequest) (*Subscription, error) {
	if err := validateURL(req.URL); err != nil {
		return nil, err
	}
	for _, ev := range req.Events {
		if !slices.Contains(KnownEvents, ev) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, ev)
		}
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	sub := &Subscription{
		URL:    req.URL,
		Events: slices.Compact(slices.Sorted(slices.Values(req.Events))),
		Secret: secret,
	}
	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	s.logger.Info("webhook subscribed",
		zap.String("id", sub.ID.String()),
		zap.String("url", sub.URL),
		zap.Strings("events", sub.Events),
	)
	return sub, nil
}

// Unsubscribe deletes a subscription.
func (s *Service) Unsubscribe(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

// List returns every subscription, oldest first.
func (s *Service) List(ctx context.Context) ([]*Subscription, error) {
	return s.repo.List(ctx)
}

// Deliveries returns recent delivery attempts for a subscription.
func (s *Service) Deliveries(ctx context.Context, id uuid.UUID, limit int) ([]*Delivery, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListDeliveries(ctx, id, limit)
}

// Dispatch fans out an event to all matching subscriptions. Deliveries run
// in the background and outlive ctx's cancellation; use Wait to drain them.
func (s *Service) Dispatch(ctx context.Context, eventType, chainName string, payload map[string]string) {
	ctx = context.WithoutCancel(ctx)

	subs, err := s.repo.ListByEvent(ctx, eventType)
	if err != nil {
		s.logger.Error("webhook: list subscribers", zap.Error(err))
		return
	}
	if len(subs) == 0 {
		return
	}

	event := Event{
		ID:        uuid.New(),
		Type:      eventType,
		Chain:     chainName,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	body, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("webhook: marshal event", zap.Error(err))
		return
	}

	for _, sub := range subs {
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			s.deliver(ctx, sub, event, body)
		}()
	}
}

// Wait blocks until every in-flight delivery has finished.
func (s *Service) Wait() {
	s.inflight.Wait()
}

// deliver sends the event to a single subscription with retries.
func (s *Service) deliver(ctx context.Context, sub *Subscription, event Event, body []byte) {
	signature := Sign(body, sub.Secret)

	for i, delay := range s.delays {
		attempt := i + 1
		if delay > 0 {
			time.Sleep(delay)
		}

		success, statusCode, errMsg := s.post(ctx, sub.URL, event, body, signature)

		delivery := &Delivery{
			SubscriptionID: sub.ID,
			EventID:        event.ID,
			EventType:      event.Type,
			StatusCode:     statusCode,
			Attempt:        attempt,
			Success:        success,
			ErrorMessage:   errMsg,
		}
		if err := s.repo.RecordDelivery(ctx, delivery); err != nil {
			s.logger.Warn("webhook: record delivery", zap.Error(err))
		}
		if s.onMetrics != nil {
			s.onMetrics(success)
		}
		if success {
			return
		}

		s.logger.Warn("webhook: delivery failed",
			zap.String("url", sub.URL),
			zap.String("event", event.Type),
			zap.Int("attempt", attempt),
			zap.String("error", errMsg),
		)
	}
}

// post performs a single delivery.
func (s *Service) post(ctx context.Context, target string, event Event, body []byte, signature string) (bool, int, string) {
	resp, err := s.rc.R().
		SetContext(ctx).
		SetHeader(SignatureHeader, signature).
		SetHeader(EventTypeHeader, event.Type).
		SetHeader(DeliveryIDHeader, event.ID.String()).
		SetBody(body).
		Post(target)
	if err != nil {
		return false, 0, err.Error()
	}
	if resp.IsSuccess() {
		return true, resp.StatusCode(), ""
	}
	return false, resp.StatusCode(), fmt.Sprintf("HTTP %d", resp.StatusCode())
}

// Sign computes the signature header value for body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches body under secret.
// Receivers use it to authenticate deliveries.
func VerifySignature(body []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}

// generateSecret creates a random 32-byte hex-encoded secret.
func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return nil
}
