package http

import (
	"context"
	"errors"
	"log"
	"miyav/internal/api"
	"miyav/internal/ws"
	"net/http"
	"sync"
	"time"
)

// server wraps http.Server so Shutdown waits for ListenAndServe to return.
type server struct {
	name   string
	server *http.Server
	wg     sync.WaitGroup
}

func newServer(name, addr string, handler http.Handler) *server {
	return &server{
		name: name,
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (s *server) Start() error {
	log.Printf("%s started on %s", s.name, s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *server) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}

type APIServer struct {
	*server
}

// NewAPIServer serves the REST API and the websocket gateway on /api/ws.
func NewAPIServer(addr string, handlers *api.API, gateway *ws.Server) *APIServer {
	mux := http.NewServeMux()
	handlers.Register(mux)
	mux.HandleFunc("GET /api/ws", gateway.HandleConnections)

	if addr == "" {
		addr = ":8080"
	}
	return &APIServer{server: newServer("Server", addr, mux)}
}
