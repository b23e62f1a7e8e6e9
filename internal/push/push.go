// Package push delivers notifications to users without a live socket through Web Push.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"miyav/internal/models"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
)

const defaultTTL = 12 * time.Hour

var ErrInvalidSubscription = errors.New("invalid push subscription")

type Store interface {
	GetAccount(id string) (models.Account, error)
	UpdateAccount(id string, fn func(*models.Account) error) (models.Account, error)
}

type Config struct {
	PublicKey  string
	PrivateKey string
	// Subject is a mailto: or https: contact for the push service.
	Subject string
	TTL     time.Duration
}

// Enabled reports whether VAPID keys are configured.
func (c Config) Enabled() bool {
	return c.PublicKey != "" && c.PrivateKey != ""
}

type payload struct {
	Title     string                  `json:"title"`
	Body      string                  `json:"body"`
	Type      models.NotificationType `json:"type"`
	Data      any                     `json:"data,omitempty"`
	Timestamp int64                   `json:"timestamp"`
}

type Notifier struct {
	cfg    Config
	store  Store
	client *http.Client
}

func NewNotifier(cfg Config, store Store) *Notifier {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	return &Notifier{
		cfg:    cfg,
		store:  store,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// ParseSubscription validates a browser PushSubscription JSON document and returns it in canonical form.
func ParseSubscription(raw []byte) (string, error) {
	var sub webpush.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSubscription, err)
	}
	if sub.Endpoint == "" || sub.Keys.Auth == "" || sub.Keys.P256dh == "" {
		return "", fmt.Errorf("%w: endpoint and keys are required", ErrInvalidSubscription)
	}
	data, err := json.Marshal(sub)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// NotifyOffline pushes n to the user's stored subscription. Users without one are skipped.
func (p *Notifier) NotifyOffline(ctx context.Context, userID string, n models.Notification) error {
	acc, err := p.store.GetAccount(userID)
	if err != nil {
		return err
	}
	if acc.PushSubscription == "" {
		return nil
	}

	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(acc.PushSubscription), &sub); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSubscription, err)
	}

	msg, err := json.Marshal(payload{
		Title:     n.Title,
		Body:      n.Message,
		Type:      n.Type,
		Data:      n.Data,
		Timestamp: n.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal push payload: %w", err)
	}

	resp, err := webpush.SendNotificationWithContext(ctx, msg, &sub, &webpush.Options{
		HTTPClient:      p.client,
		Subscriber:      p.cfg.Subject,
		VAPIDPublicKey:  p.cfg.PublicKey,
		VAPIDPrivateKey: p.cfg.PrivateKey,
		TTL:             int(p.cfg.TTL.Seconds()),
		Urgency:         webpush.UrgencyNormal,
	})
	if err != nil {
		return fmt.Errorf("failed to send push notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		// Subscription expired on the browser side.
		slog.Info("dropping expired push subscription", "user_id", userID, "status", resp.StatusCode)
		_, err := p.store.UpdateAccount(userID, func(a *models.Account) error {
			a.PushSubscription = ""
			return nil
		})
		return err
	case resp.StatusCode >= http.StatusBadRequest:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push service returned %d: %s", resp.StatusCode, body)
	}
	return nil
}
