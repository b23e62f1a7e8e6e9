package http

import (
	"miyav/internal/api"
	"net/http"
)

// AdminServer exposes operator endpoints. Bind it to a loopback address.
type AdminServer struct {
	*server
}

func NewAdminServer(addr string, handler *api.AdminHandler) *AdminServer {
	mux := http.NewServeMux()
	handler.Register(mux)

	if addr == "" {
		addr = "localhost:8081"
	}
	return &AdminServer{server: newServer("Admin API", addr, mux)}
}
