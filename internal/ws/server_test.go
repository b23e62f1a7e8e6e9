package ws

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"miyav/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type tokenAuth map[string]string

func (a tokenAuth) GetUserID(token string) (string, error) {
	if id, ok := a[token]; ok {
		return id, nil
	}
	return "", errors.New("invalid token")
}

func startServer(t *testing.T) (*hubFixture, string) {
	t.Helper()
	f := newHubFixture()
	srv := NewServer(tokenAuth{"good": "u1", "ghost-token": "ghost"}, f.hub, 500*time.Millisecond)
	ts := httptest.NewServer(http.HandlerFunc(srv.HandleConnections))
	t.Cleanup(ts.Close)
	return f, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) models.ServerMessage {
	t.Helper()
	var msg models.ServerMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestServer_AuthenticateFrame(t *testing.T) {
	f, url := startServer(t)
	conn := dial(t, url, nil)

	require.NoError(t, conn.WriteJSON(models.ClientMessage{Type: models.ClientMessageTypeAuthenticate, Token: "good"}))
	msg := readFrame(t, conn)
	require.Equal(t, models.ServerMessageTypeAuthenticated, msg.Type)
	require.NotNil(t, msg.User)
	require.Equal(t, "u1", msg.User.ID)

	require.Eventually(t, func() bool { return f.reg.Count() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(models.ClientMessage{Type: models.ClientMessageTypeJoinRoom, Room: "lobby"}))
	require.Equal(t, models.ServerMessageTypeRoomHistory, readFrame(t, conn).Type)

	require.NoError(t, conn.WriteJSON(models.ClientMessage{Type: models.ClientMessageTypeSendMessage, Room: "lobby", Message: "selam"}))
	msg = readFrame(t, conn)
	require.Equal(t, models.ServerMessageTypeReceiveMessage, msg.Type)
	require.Equal(t, "selam", msg.Messages[0].Message)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return f.reg.Count() == 0 }, time.Second, 10*time.Millisecond)
}

func TestServer_BearerHeader(t *testing.T) {
	f, url := startServer(t)
	conn := dial(t, url, http.Header{"Authorization": {"Bearer good"}})

	msg := readFrame(t, conn)
	require.Equal(t, models.ServerMessageTypeAuthenticated, msg.Type)
	require.Eventually(t, func() bool { return f.reg.Count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestServer_AuthErrors(t *testing.T) {
	tests := []struct {
		name   string
		first  *models.ClientMessage
		header http.Header
		want   string
	}{
		{"Bad token", &models.ClientMessage{Type: models.ClientMessageTypeAuthenticate, Token: "bad"}, nil, "Invalid token"},
		{"Not an authenticate frame", &models.ClientMessage{Type: models.ClientMessageTypeJoinRoom, Room: "lobby"}, nil, "No token provided"},
		{"Unknown user", &models.ClientMessage{Type: models.ClientMessageTypeAuthenticate, Token: "ghost-token"}, nil, "User not found"},
		{"Bad bearer", nil, http.Header{"Authorization": {"Bearer bad"}}, "Invalid token"},
		{"Timeout", nil, nil, "Invalid token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, url := startServer(t)
			conn := dial(t, url, tt.header)
			if tt.first != nil {
				require.NoError(t, conn.WriteJSON(tt.first))
			}

			msg := readFrame(t, conn)
			require.Equal(t, models.ServerMessageTypeAuthError, msg.Type)
			require.Equal(t, tt.want, msg.Error)

			_, _, err := conn.ReadMessage()
			require.Error(t, err)
			require.Zero(t, f.reg.Count())
		})
	}
}
