package ws

import (
	"errors"
	"log"
	"log/slog"
	"miyav/internal/auth"
	"miyav/internal/models"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const DefaultAuthTimeout = 10 * time.Second

var errNoToken = errors.New("no token provided")

type Authenticator interface {
	GetUserID(token string) (string, error)
}

type Server struct {
	auth        Authenticator
	hub         *Hub
	upgrader    *websocket.Upgrader
	authTimeout time.Duration
}

func NewServer(authenticator Authenticator, hub *Hub, authTimeout time.Duration) *Server {
	if authTimeout <= 0 {
		authTimeout = DefaultAuthTimeout
	}
	return &Server{
		auth: authenticator,
		hub:  hub,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Desktop clients connect without a browser origin.
			},
		},
		authTimeout: authTimeout,
	}
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("error upgrading to websocket: %v", err)
		return
	}

	userID, err := s.authenticate(conn, r)
	if err != nil {
		msg := "Invalid token"
		if errors.Is(err, errNoToken) {
			msg = "No token provided"
		}
		slog.Info("websocket authentication failed", "remote", r.RemoteAddr, "error", err)
		_ = conn.WriteJSON(models.ErrorMessage(models.ServerMessageTypeAuthError, msg))
		_ = conn.Close()
		return
	}

	session, err := s.hub.Session(userID)
	if err != nil {
		slog.Error("failed to load session", "user_id", userID, "error", err)
		_ = conn.WriteJSON(models.ErrorMessage(models.ServerMessageTypeAuthError, "User not found"))
		_ = conn.Close()
		return
	}

	c := NewConnection(s.hub, conn, session)
	c.Send(models.ServerMessage{Type: models.ServerMessageTypeAuthenticated, User: &session})
	s.hub.Register(c)

	if err := c.Handle(r.Context()); err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		slog.Debug("websocket closed", "user_id", userID, "error", err)
	}
}

// authenticate accepts a bearer token from the upgrade request or
// waits for an authenticate frame.
func (s *Server) authenticate(conn *websocket.Conn, r *http.Request) (string, error) {
	if token := auth.TokenFromRequest(r); token != "" {
		return s.auth.GetUserID(token)
	}

	if err := conn.SetReadDeadline(time.Now().Add(s.authTimeout)); err != nil {
		return "", err
	}
	var msg models.ClientMessage
	if err := conn.ReadJSON(&msg); err != nil {
		return "", err
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return "", err
	}

	if msg.Type != models.ClientMessageTypeAuthenticate || msg.Token == "" {
		return "", errNoToken
	}
	return s.auth.GetUserID(msg.Token)
}
