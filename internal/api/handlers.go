package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"miyav/internal/auth"
	"miyav/internal/filestore"
	"miyav/internal/friends"
	"miyav/internal/games"
	"miyav/internal/models"
	"miyav/internal/push"
	"miyav/internal/storage"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
)

const (
	DefaultMaxUploadSize = 10 << 20
	defaultHistoryLimit  = 50
	maxHistoryLimit      = 200
)

type Store interface {
	GetAccount(id string) (models.Account, error)
	UpdateAccount(id string, fn func(*models.Account) error) (models.Account, error)
	ListConversation(u1, u2 string, limit int) ([]models.DirectMessage, error)
	UpsertFileMetadata(meta storage.FileMetadata) error
	GetFileMetadata(id string) (storage.FileMetadata, error)
}

type connectionCounter interface {
	Count() int
}

type Config struct {
	MaxUploadSize    int64
	UploadsPerMinute int
	VAPIDPublicKey   string
}

type API struct {
	auth        *auth.AuthService
	friends     *friends.Service
	games       *games.Service
	store       Store
	files       filestore.FileStore
	connections connectionCounter
	cfg         Config
	uploads     *rateLimiter
	startedAt   time.Time
}

func New(
	ctx context.Context,
	authService *auth.AuthService,
	friendService *friends.Service,
	gameService *games.Service,
	store Store,
	files filestore.FileStore,
	connections connectionCounter,
	cfg Config,
) *API {
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = DefaultMaxUploadSize
	}
	return &API{
		auth:        authService,
		friends:     friendService,
		games:       gameService,
		store:       store,
		files:       files,
		connections: connections,
		cfg:         cfg,
		uploads:     newRateLimiter(ctx, cfg.UploadsPerMinute, time.Minute),
		startedAt:   time.Now(),
	}
}

// Register mounts the public API on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/register", a.RegisterHandler)
	mux.HandleFunc("POST /api/auth/login", a.LoginHandler)
	mux.HandleFunc("POST /api/auth/logout", a.LogoutHandler)
	mux.HandleFunc("GET /api/auth/me", a.RequireAuth(a.MeHandler))

	mux.HandleFunc("GET /api/friends", a.RequireAuth(a.FriendsHandler))
	mux.HandleFunc("POST /api/friends/request", a.RequireAuth(a.FriendRequestHandler))
	mux.HandleFunc("POST /api/friends/accept/{id}", a.RequireAuth(a.AcceptFriendHandler))
	mux.HandleFunc("POST /api/friends/reject/{id}", a.RequireAuth(a.RejectFriendHandler))
	mux.HandleFunc("GET /api/friends/search", a.RequireAuth(a.SearchUsersHandler))
	mux.HandleFunc("DELETE /api/friends/{id}", a.RequireAuth(a.RemoveFriendHandler))

	mux.HandleFunc("POST /api/games/status", a.RequireAuth(a.GameStatusHandler))
	mux.HandleFunc("GET /api/games/current", a.RequireAuth(a.CurrentGameHandler))
	mux.HandleFunc("GET /api/games/friends", a.RequireAuth(a.FriendsGamesHandler))
	mux.HandleFunc("GET /api/games/popular", a.PopularGamesHandler)
	mux.HandleFunc("GET /api/games/search", a.SearchGamesHandler)

	mux.HandleFunc("GET /api/messages/{friendId}", a.RequireAuth(a.ConversationHandler))

	mux.HandleFunc("POST /api/upload", a.RequireAuth(a.RateLimit(a.uploads, "Too many file uploads. Please try again later.", a.UploadHandler)))
	mux.HandleFunc("GET /api/files/{id}", a.GetFileHandler)

	mux.HandleFunc("GET /api/push/key", a.PushKeyHandler)
	mux.HandleFunc("POST /api/push/subscribe", a.RequireAuth(a.PushSubscribeHandler))

	mux.HandleFunc("GET /health", a.HealthHandler)
}

// internalError logs err and hides it from the client.
func internalError(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("request failed", "path", r.URL.Path, "user_id", userIDFrom(r), "error", err)
	writeError(w, http.StatusInternalServerError, "Server error")
}

func setTokenCookie(w http.ResponseWriter, resp auth.AuthResponse) {
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    resp.Token,
		HttpOnly: true,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(resp.TokenExpiry, 0),
	})
}

func (a *API) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := a.auth.Register(req)
	switch {
	case errors.Is(err, auth.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case auth.IsConflict(err):
		writeError(w, http.StatusConflict, "Username or email already exists")
		return
	case err != nil:
		internalError(w, r, err)
		return
	}

	setTokenCookie(w, resp)
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := a.auth.Login(req)
	switch {
	case errors.Is(err, auth.ErrThrottled):
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	case errors.Is(err, auth.ErrLoginFailed):
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	case err != nil:
		internalError(w, r, err)
		return
	}

	setTokenCookie(w, resp)
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if token := auth.TokenFromRequest(r); token != "" {
		_ = a.auth.Logoff(token)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		HttpOnly: true,
		Path:     "/",
		MaxAge:   -1,
	})
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true, Message: "Logged out"})
}

func (a *API) MeHandler(w http.ResponseWriter, r *http.Request) {
	acc, err := a.store.GetAccount(userIDFrom(r))
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": acc.User.WithGameDuration(time.Now())})
}

// friendError maps friend service errors to responses.
func friendError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, friends.ErrCannotAddSelf),
		errors.Is(err, friends.ErrAlreadyFriends),
		errors.Is(err, friends.ErrRequestPending),
		errors.Is(err, friends.ErrRequestProcessed),
		errors.Is(err, friends.ErrQueryTooShort):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		internalError(w, r, err)
	}
}

func (a *API) FriendsHandler(w http.ResponseWriter, r *http.Request) {
	overview, err := a.friends.List(userIDFrom(r))
	if err != nil {
		friendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (a *API) FriendRequestHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Username) == "" {
		writeError(w, http.StatusBadRequest, "Username is required")
		return
	}

	if err := a.friends.SendRequest(userIDFrom(r), strings.TrimSpace(req.Username)); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		friendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true, Message: "Friend request sent successfully"})
}

func (a *API) AcceptFriendHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.friends.Accept(userIDFrom(r), r.PathValue("id")); err != nil {
		friendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true, Message: "Friend request accepted"})
}

func (a *API) RejectFriendHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.friends.Reject(userIDFrom(r), r.PathValue("id")); err != nil {
		friendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true, Message: "Friend request rejected"})
}

func (a *API) RemoveFriendHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.friends.Remove(userIDFrom(r), r.PathValue("id")); err != nil {
		friendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true, Message: "Friend removed successfully"})
}

func (a *API) SearchUsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := a.friends.Search(userIDFrom(r), r.URL.Query().Get("query"))
	if err != nil {
		friendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) GameStatusHandler(w http.ResponseWriter, r *http.Request) {
	var req games.StatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := a.games.UpdateStatus(userIDFrom(r), req)
	if errors.Is(err, models.ErrInvalidMessage) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) CurrentGameHandler(w http.ResponseWriter, r *http.Request) {
	game, err := a.games.Current(userIDFrom(r))
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"game": game})
}

func (a *API) FriendsGamesHandler(w http.ResponseWriter, r *http.Request) {
	list, err := a.games.Friends(userIDFrom(r))
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"friends": list})
}

func (a *API) PopularGamesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"games": games.Popular()})
}

func (a *API) SearchGamesHandler(w http.ResponseWriter, r *http.Request) {
	found, err := games.Search(r.URL.Query().Get("query"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"games": found})
}

// ConversationHandler returns the stored direct messages with a friend.
func (a *API) ConversationHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	friendID := r.PathValue("friendId")

	acc, err := a.store.GetAccount(userID)
	if err != nil {
		internalError(w, r, err)
		return
	}
	if !acc.IsFriend(friendID) {
		writeError(w, http.StatusForbidden, "You can only read conversations with friends")
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	messages, err := a.store.ListConversation(userID, friendID, limit)
	if err != nil {
		internalError(w, r, err)
		return
	}
	if messages == nil {
		messages = []models.DirectMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"room":     storage.ConversationID(userID, friendID),
		"messages": messages,
	})
}

type UploadedFile struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"`
	Mime string `json:"mimeType"`
}

func (a *API) UploadHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.cfg.MaxUploadSize+(1<<20))
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer func() { _ = file.Close() }()

	if header.Size > a.cfg.MaxUploadSize {
		writeError(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}

	head := make([]byte, 261)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Failed to read file")
		return
	}
	head = head[:n]

	kind, _ := filetype.Match(head)
	if kind == filetype.Unknown || !(filetype.IsImage(head) || filetype.IsVideo(head) ||
		filetype.IsAudio(head) || filetype.IsDocument(head) || filetype.IsArchive(head)) {
		writeError(w, http.StatusUnsupportedMediaType, "Unsupported file type")
		return
	}

	hash, size, err := a.files.Save(io.MultiReader(bytes.NewReader(head), file))
	if err != nil {
		internalError(w, r, err)
		return
	}

	meta := storage.FileMetadata{
		ID:        uuid.NewString(),
		Hash:      hash,
		Name:      filepath.Base(header.Filename),
		MimeType:  kind.MIME.Value,
		Size:      size,
		CreatedAt: time.Now().Unix(),
		UserID:    userIDFrom(r),
	}
	if err := a.store.UpsertFileMetadata(meta); err != nil {
		internalError(w, r, err)
		return
	}

	fileType := "file"
	if filetype.IsImage(head) {
		fileType = "image"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "File uploaded successfully",
		"file": UploadedFile{
			ID:   meta.ID,
			URL:  "/api/files/" + meta.ID,
			Name: meta.Name,
			Size: meta.Size,
			Type: fileType,
			Mime: meta.MimeType,
		},
	})
}

func (a *API) GetFileHandler(w http.ResponseWriter, r *http.Request) {
	meta, err := a.store.GetFileMetadata(r.PathValue("id"))
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	if err != nil {
		internalError(w, r, err)
		return
	}

	rc, err := a.files.Get(meta.Hash)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeError(w, http.StatusNotFound, "File not found")
			return
		}
		internalError(w, r, err)
		return
	}
	defer func() { _ = rc.Close() }()

	w.Header().Set("Content-Type", meta.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	w.Header().Set("Cache-Control", "private, max-age=31536000, immutable")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if !strings.HasPrefix(meta.MimeType, "image/") {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", meta.Name))
	}
	if _, err := io.Copy(w, rc); err != nil {
		log.Printf("failed to send file %s: %v", meta.ID, err)
	}
}

func (a *API) PushKeyHandler(w http.ResponseWriter, r *http.Request) {
	if a.cfg.VAPIDPublicKey == "" {
		writeError(w, http.StatusNotFound, "Push notifications are not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"publicKey": a.cfg.VAPIDPublicKey})
}

func (a *API) PushSubscribeHandler(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 16<<10))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	sub, err := push.ParseSubscription(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := a.store.UpdateAccount(userIDFrom(r), func(acc *models.Account) error {
		acc.PushSubscription = sub
		return nil
	}); err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true, Message: "Subscribed"})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"timestamp":   time.Now().UTC(),
		"uptime":      time.Since(a.startedAt).Seconds(),
		"connections": a.connections.Count(),
	})
}
