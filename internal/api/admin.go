package api

import (
	"fmt"
	"miyav/internal/models"
	"net/http"
	"strings"
)

type connectionLister interface {
	Count() int
	ConnectedUsers() []string
}

type systemNotifier interface {
	NotifySystem(userIDs []string, title, message string, data any)
}

type AdminHandler struct {
	connections connectionLister
	notifier    systemNotifier
}

func NewAdminHandler(connections connectionLister, notifier systemNotifier) *AdminHandler {
	return &AdminHandler{connections: connections, notifier: notifier}
}

func (h *AdminHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /admin/connections", h.ConnectionsHandler)
	mux.HandleFunc("POST /admin/notify", h.NotifyHandler)
}

type ConnectionsResponse struct {
	Count int      `json:"count"`
	Users []string `json:"users"`
}

type NotifyRequest struct {
	// UserIDs selects the receivers. Empty means every connected user.
	UserIDs []string `json:"userIds,omitempty"`
	Title   string   `json:"title"`
	Message string   `json:"message"`
	Data    any      `json:"data,omitempty"`
}

func (h *AdminHandler) ConnectionsHandler(w http.ResponseWriter, r *http.Request) {
	users := h.connections.ConnectedUsers()
	writeJSON(w, http.StatusOK, ConnectionsResponse{Count: len(users), Users: users})
}

func (h *AdminHandler) NotifyHandler(w http.ResponseWriter, r *http.Request) {
	var req NotifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	req.Message = strings.TrimSpace(req.Message)
	if req.Title == "" || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, models.APIResponse{Success: false, Message: "title and message are required"})
		return
	}

	receivers := req.UserIDs
	if len(receivers) == 0 {
		receivers = h.connections.ConnectedUsers()
	}
	h.notifier.NotifySystem(receivers, req.Title, req.Message, req.Data)

	writeJSON(w, http.StatusOK, models.APIResponse{
		Success: true,
		Message: fmt.Sprintf("Notification sent to %d users", len(receivers)),
	})
}
