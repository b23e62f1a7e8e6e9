package push

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"miyav/internal/models"
	"miyav/internal/storage"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/require"
)

func browserSubscription(t *testing.T, endpoint string) string {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)

	raw, err := json.Marshal(map[string]any{
		"endpoint": endpoint,
		"keys": map[string]string{
			"p256dh": base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
			"auth":   base64.RawURLEncoding.EncodeToString(auth),
		},
	})
	require.NoError(t, err)
	sub, err := ParseSubscription(raw)
	require.NoError(t, err)
	return sub
}

func setup(t *testing.T, status int) (*Notifier, *storage.BboltStorage, *httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Content-Encoding") != "aes128gcm" || !strings.HasPrefix(r.Header.Get("Authorization"), "vapid ") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	store, err := storage.NewBboltStorage(filepath.Join(t.TempDir(), "push.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	priv, pub, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	cfg := Config{PublicKey: pub, PrivateKey: priv, Subject: "mailto:ops@miyav.local"}
	require.True(t, cfg.Enabled())

	return NewNotifier(cfg, store), store, srv, &hits
}

func notification() models.Notification {
	return models.Notification{
		Type:      models.NotificationTypeSystem,
		Title:     "Bakım",
		Message:   "Sunucu 5 dakika içinde yeniden başlayacak",
		Timestamp: time.Now().UnixMilli(),
	}
}

func TestNotifyOffline(t *testing.T) {
	n, store, srv, hits := setup(t, http.StatusCreated)
	require.NoError(t, store.CreateAccount(models.Account{
		User:             models.User{ID: "u1", Username: "ayse"},
		PushSubscription: browserSubscription(t, srv.URL+"/push/abc"),
	}))
	require.NoError(t, store.CreateAccount(models.Account{
		User: models.User{ID: "u2", Username: "mehmet"},
	}))

	require.NoError(t, n.NotifyOffline(context.Background(), "u1", notification()))
	require.EqualValues(t, 1, hits.Load())

	// No subscription, nothing sent.
	require.NoError(t, n.NotifyOffline(context.Background(), "u2", notification()))
	require.EqualValues(t, 1, hits.Load())

	require.ErrorIs(t, n.NotifyOffline(context.Background(), "missing", notification()), models.ErrNotFound)
}

func TestNotifyOffline_Expired(t *testing.T) {
	n, store, srv, _ := setup(t, http.StatusGone)
	require.NoError(t, store.CreateAccount(models.Account{
		User:             models.User{ID: "u1", Username: "ayse"},
		PushSubscription: browserSubscription(t, srv.URL),
	}))

	require.NoError(t, n.NotifyOffline(context.Background(), "u1", notification()))

	acc, err := store.GetAccount("u1")
	require.NoError(t, err)
	require.Empty(t, acc.PushSubscription)
}

func TestNotifyOffline_ServiceError(t *testing.T) {
	n, store, srv, _ := setup(t, http.StatusTooManyRequests)
	require.NoError(t, store.CreateAccount(models.Account{
		User:             models.User{ID: "u1", Username: "ayse"},
		PushSubscription: browserSubscription(t, srv.URL),
	}))

	require.Error(t, n.NotifyOffline(context.Background(), "u1", notification()))
}

func TestParseSubscription(t *testing.T) {
	_, err := ParseSubscription([]byte(`{"endpoint":"https://push.example"}`))
	require.ErrorIs(t, err, ErrInvalidSubscription)

	_, err = ParseSubscription([]byte(`not json`))
	require.ErrorIs(t, err, ErrInvalidSubscription)
}
