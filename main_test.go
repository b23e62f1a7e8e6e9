package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"miyav/internal/api"
	"miyav/internal/auth"
	"miyav/internal/friends"
	"miyav/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestIntegration(t *testing.T) {
	dir := t.TempDir()
	apiAddr := freeAddr(t)
	adminAddr := freeAddr(t)

	t.Setenv("MIYAV_DB", filepath.Join(dir, "integration.db"))
	t.Setenv("UPLOADS_PATH", filepath.Join(dir, "uploads"))
	t.Setenv("API_ADDR", apiAddr)
	t.Setenv("ADMIN_ADDR", adminAddr)
	t.Setenv("JWT_SECRET", "very-secure-test-secret")
	t.Setenv("AUTH_TIMEOUT", "2s")
	t.Setenv("VAPID_PUBLIC_KEY", "")
	t.Setenv("VAPID_PRIVATE_KEY", "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- run(ctx, nil) }()

	baseURL := "http://" + apiAddr
	waitForServer(t, baseURL+"/health", 50)
	waitForServer(t, "http://"+adminAddr+"/admin/connections", 50)

	ayse := registerUser(t, baseURL, "ayse")
	mehmet := registerUser(t, baseURL, "mehmet")

	// mehmet authenticates with a header, ayse with the first frame.
	mehmetWS := dial(t, apiAddr, mehmet.Token)
	defer func() { _ = mehmetWS.Close() }()
	frame := readFrame(t, mehmetWS)
	require.Equal(t, models.ServerMessageTypeAuthenticated, frame.Type)
	require.Equal(t, "mehmet", frame.User.Username)

	// Step 1: friend request reaches the connected receiver.
	resp := postJSON(t, baseURL+"/api/friends/request", ayse.Token, map[string]string{"username": "mehmet"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	frame = readUntil(t, mehmetWS, models.ServerMessageTypeNotification)
	require.Equal(t, models.NotificationTypeFriendRequest, frame.Notification.Type)
	require.Equal(t, "Yeni Arkadaşlık İsteği", frame.Notification.Title)
	require.Contains(t, frame.Notification.Message, "arkadaşlık isteği gönderdi")

	var overview friends.Overview
	getJSON(t, baseURL+"/api/friends", mehmet.Token, &overview)
	require.Len(t, overview.FriendRequests, 1)
	resp = postJSON(t, baseURL+"/api/friends/accept/"+overview.FriendRequests[0].ID, mehmet.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Step 2: ayse comes online and her friend is told.
	ayseWS := dial(t, apiAddr, "")
	defer func() { _ = ayseWS.Close() }()
	require.NoError(t, ayseWS.WriteJSON(models.ClientMessage{Type: models.ClientMessageTypeAuthenticate, Token: ayse.Token}))
	frame = readFrame(t, ayseWS)
	require.Equal(t, models.ServerMessageTypeAuthenticated, frame.Type)

	frame = readUntil(t, mehmetWS, models.ServerMessageTypeNotification)
	require.Equal(t, models.NotificationTypeStatusChange, frame.Notification.Type)

	var conns api.ConnectionsResponse
	getJSON(t, "http://"+adminAddr+"/admin/connections", "", &conns)
	require.Equal(t, 2, conns.Count)
	require.ElementsMatch(t, []string{ayse.User.ID, mehmet.User.ID}, conns.Users)

	// Step 3: room chat with a direct message.
	for _, c := range []*websocket.Conn{mehmetWS, ayseWS} {
		require.NoError(t, c.WriteJSON(models.ClientMessage{Type: models.ClientMessageTypeJoinRoom, Room: "lobby"}))
		readUntil(t, c, models.ServerMessageTypeRoomHistory)
	}
	require.NoError(t, ayseWS.WriteJSON(models.ClientMessage{
		Type:       models.ClientMessageTypeSendMessage,
		Room:       "lobby",
		Message:    "selam **mehmet**",
		ReceiverID: mehmet.User.ID,
	}))

	frame = readUntil(t, mehmetWS, models.ServerMessageTypeReceiveMessage)
	require.Len(t, frame.Messages, 1)
	require.Equal(t, "ayse", frame.Messages[0].Username)
	require.Contains(t, frame.Messages[0].HTML, "<strong>mehmet</strong>")

	frame = readUntil(t, mehmetWS, models.ServerMessageTypeNotification)
	require.Equal(t, models.NotificationTypeMessage, frame.Notification.Type)

	var history struct {
		Messages []models.DirectMessage `json:"messages"`
	}
	getJSON(t, baseURL+"/api/messages/"+ayse.User.ID, mehmet.Token, &history)
	require.Len(t, history.Messages, 1)
	require.Equal(t, ayse.User.ID, history.Messages[0].Sender)

	// Step 4: admin broadcast.
	resp = postJSON(t, "http://"+adminAddr+"/admin/notify", "", api.NotifyRequest{Title: "Bakım", Message: "Sunucu yeniden başlatılıyor"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	frame = readUntil(t, ayseWS, models.ServerMessageTypeNotification)
	require.Equal(t, models.NotificationTypeSystem, frame.Notification.Type)
	require.Equal(t, "Bakım", frame.Notification.Title)

	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("run returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestRunRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	err := run(context.Background(), nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "JWT_SECRET")
}

func registerUser(t *testing.T, baseURL, username string) auth.AuthResponse {
	t.Helper()
	resp := postJSON(t, baseURL+"/api/auth/register", "", auth.RegisterRequest{
		Username:    username,
		DisplayName: "Oyuncu " + username,
		Email:       username + "@example.com",
		Password:    "gizli123",
	})
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out auth.AuthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func postJSON(t *testing.T, url, token string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, url, token string, out any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func dial(t *testing.T, addr, token string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/api/ws", header)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) models.ServerMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var msg models.ServerMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// readUntil skips frames until one of type want arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want models.ServerMessageType) models.ServerMessage {
	t.Helper()
	for range 20 {
		if msg := readFrame(t, conn); msg.Type == want {
			return msg
		}
	}
	t.Fatalf("no %s frame received", want)
	return models.ServerMessage{}
}

func waitForServer(t *testing.T, urlStr string, retries int) {
	client := &http.Client{Timeout: 500 * time.Millisecond}

	for i := 0; i < retries; i++ {
		resp, err := client.Get(urlStr)
		if err == nil {
			_ = resp.Body.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("Server failed to start at %s after %d retries", urlStr, retries)
}
