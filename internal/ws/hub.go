package ws

import (
	"log/slog"
	"miyav/internal/chat"
	"miyav/internal/content"
	"miyav/internal/models"
	"miyav/internal/registry"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// client is the hub's view of a connection.
type client interface {
	registry.Handle
	Session() models.UserSummary
}

type Tracker interface {
	Connected(userID string) error
	Disconnected(userID string) error
	SetStatus(userID string, status models.UserStatus) error
	GameStatus(userID, game string, playing bool) (models.Game, error)
}

type MessageNotifier interface {
	NotifyMessage(fromID, toID, text string)
}

type Store interface {
	GetAccount(id string) (models.Account, error)
	SaveMessage(msg models.DirectMessage) error
}

type HubConfig struct {
	Registry    *registry.Registry
	Tracker     Tracker
	Notifier    MessageNotifier
	Store       Store
	HistorySize int
}

type Hub struct {
	registry    *registry.Registry
	tracker     Tracker
	notifier    MessageNotifier
	store       Store
	historySize int

	// Map of room name -> Room
	rooms map[string]*chat.Room
	mu    sync.RWMutex
	// users serialises connect and disconnect of the same user.
	users userLocks
	now   func() time.Time
}

type userLock struct {
	sync.Mutex
	refs int
}

type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

// lock locks userID and returns the unlock func.
func (l *userLocks) lock(userID string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*userLock)
	}
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{}
		l.locks[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.Lock()
	return func() {
		ul.Unlock()
		l.mu.Lock()
		if ul.refs--; ul.refs == 0 {
			delete(l.locks, userID)
		}
		l.mu.Unlock()
	}
}

func NewHub(cfg HubConfig) *Hub {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = chat.DefaultMaxRecords
	}
	return &Hub{
		registry:    cfg.Registry,
		tracker:     cfg.Tracker,
		notifier:    cfg.Notifier,
		store:       cfg.Store,
		historySize: cfg.HistorySize,
		rooms:       make(map[string]*chat.Room),
		now:         time.Now,
	}
}

// Session loads the profile that is attached to a new connection.
func (h *Hub) Session(userID string) (models.UserSummary, error) {
	acc, err := h.store.GetAccount(userID)
	if err != nil {
		return models.UserSummary{}, err
	}
	return acc.Summary(), nil
}

// Register makes c the live connection of its user, closing any older one.
func (h *Hub) Register(c client) {
	userID := c.Session().ID
	unlock := h.users.lock(userID)
	defer unlock()

	if prev := h.registry.Add(userID, c); prev != nil && prev != registry.Handle(c) {
		slog.Info("replacing connection", "user_id", userID)
		_ = prev.Close()
	}
	if err := h.tracker.Connected(userID); err != nil {
		slog.Error("failed to mark user online", "user_id", userID, "error", err)
	}
}

// Unregister is called when c goes away. Nothing happens if a newer
// connection of the same user already took over.
func (h *Hub) Unregister(c client) {
	userID := c.Session().ID
	unlock := h.users.lock(userID)
	defer unlock()

	if !h.registry.Release(userID, c) {
		return
	}

	h.mu.Lock()
	for name, room := range h.rooms {
		room.Leave(userID)
		if room.Empty() {
			delete(h.rooms, name)
		}
	}
	h.mu.Unlock()

	if err := h.tracker.Disconnected(userID); err != nil {
		slog.Error("failed to mark user offline", "user_id", userID, "error", err)
	}
}

func (h *Hub) Dispatch(c client, msg models.ClientMessage) {
	switch msg.Type {
	case models.ClientMessageTypeJoinRoom:
		h.joinRoom(c, msg.Room)
	case models.ClientMessageTypeSendMessage:
		h.sendMessage(c, msg)
	case models.ClientMessageTypeTyping:
		h.typing(c, msg.Room, models.ServerMessageTypeUserTyping)
	case models.ClientMessageTypeStopTyping:
		h.typing(c, msg.Room, models.ServerMessageTypeUserStopTyping)
	case models.ClientMessageTypeStatusUpdate:
		h.statusUpdate(c, msg)
	case models.ClientMessageTypeGameStatus:
		if _, err := h.tracker.GameStatus(c.Session().ID, msg.GameName, msg.IsPlaying); err != nil {
			slog.Error("game status update failed", "user_id", c.Session().ID, "error", err)
			c.Send(models.ErrorMessage(models.ServerMessageTypeError, "game status update failed"))
		}
	case models.ClientMessageTypeAuthenticate:
		// Already authenticated.
	}
}

func (h *Hub) room(name string) (*chat.Room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[name]
	return r, ok
}

// memberRoom returns the room only if c's user has joined it.
func (h *Hub) memberRoom(c client, name string) (*chat.Room, bool) {
	r, ok := h.room(name)
	if !ok || !r.IsMember(c.Session().ID) {
		c.Send(models.ErrorMessage(models.ServerMessageTypeError, "you have not joined room "+name))
		return nil, false
	}
	return r, true
}

func (h *Hub) joinRoom(c client, name string) {
	session := c.Session()

	// Create and join under one lock so Unregister cannot drop the room in between.
	h.mu.Lock()
	r, ok := h.rooms[name]
	if !ok {
		r = chat.New(chat.Config{
			ID:             name,
			MaxRecords:     h.historySize,
			RecordCallback: h.handleRecordCallback,
		})
		h.rooms[name] = r
	}
	joined := r.Join(session.ID)
	h.mu.Unlock()

	records := r.GetLastRecords(h.historySize)
	history := make([]models.RoomMessage, 0, len(records))
	for _, rec := range records {
		history = append(history, roomMessage(rec))
	}
	c.Send(models.ServerMessage{
		Type:     models.ServerMessageTypeRoomHistory,
		Room:     name,
		Messages: history,
	})

	if joined {
		h.broadcast(r, session.ID, models.ServerMessage{
			Type:      models.ServerMessageTypeUserJoined,
			Room:      name,
			Username:  session.Username,
			User:      &session,
			Timestamp: h.now().UnixMilli(),
		})
	}
}

func (h *Hub) sendMessage(c client, msg models.ClientMessage) {
	r, ok := h.memberRoom(c, msg.Room)
	if !ok {
		return
	}
	session := c.Session()

	// Content stays plain text. Only HTML is rendered for display.
	text := strings.TrimSpace(msg.Message)
	if text == "" {
		c.Send(models.ErrorMessage(models.ServerMessageTypeError, "message is empty"))
		return
	}
	direct := msg.ReceiverID != "" && msg.ReceiverID != session.ID
	if direct && !h.isFriend(session.ID, msg.ReceiverID) {
		c.Send(models.ErrorMessage(models.ServerMessageTypeError, "direct messages are only allowed between friends"))
		return
	}
	html, err := content.Render(text)
	if err != nil {
		slog.Warn("markdown render failed", "user_id", session.ID, "error", err)
		html = content.Escape(text)
	}

	now := h.now()
	r.AddRecord(chat.Record{
		Timestamp:   now.UnixMilli(),
		UserID:      session.ID,
		Username:    session.Username,
		DisplayName: session.DisplayName,
		Content:     text,
		HTML:        html,
		Type:        msg.MessageType,
	})

	if !direct {
		return
	}
	if err := h.store.SaveMessage(models.DirectMessage{
		ID:        uuid.NewString(),
		Sender:    session.ID,
		Receiver:  msg.ReceiverID,
		Room:      msg.Room,
		Content:   text,
		Type:      msg.MessageType,
		CreatedAt: now.Unix(),
	}); err != nil {
		slog.Error("failed to save direct message", "user_id", session.ID, "error", err)
	}
	h.notifier.NotifyMessage(session.ID, msg.ReceiverID, text)
}

func (h *Hub) isFriend(userID, otherID string) bool {
	acc, err := h.store.GetAccount(userID)
	if err != nil {
		slog.Error("failed to load sender", "user_id", userID, "error", err)
		return false
	}
	return acc.IsFriend(otherID)
}

func (h *Hub) typing(c client, name string, t models.ServerMessageType) {
	r, ok := h.memberRoom(c, name)
	if !ok {
		return
	}
	session := c.Session()
	h.broadcast(r, session.ID, models.ServerMessage{
		Type:     t,
		Room:     name,
		Username: session.Username,
		User:     &session,
	})
}

func (h *Hub) statusUpdate(c client, msg models.ClientMessage) {
	session := c.Session()
	if err := h.tracker.SetStatus(session.ID, msg.Status); err != nil {
		slog.Error("status update failed", "user_id", session.ID, "error", err)
		c.Send(models.ErrorMessage(models.ServerMessageTypeError, "status update failed"))
		return
	}
	if msg.Room == "" {
		return
	}
	r, ok := h.memberRoom(c, msg.Room)
	if !ok {
		return
	}
	h.broadcast(r, session.ID, models.ServerMessage{
		Type:     models.ServerMessageTypeUserStatusChanged,
		Room:     msg.Room,
		Username: session.Username,
		User:     &session,
		Status:   msg.Status,
	})
}

// broadcast sends msg to every room member except exceptID.
func (h *Hub) broadcast(r *chat.Room, exceptID string, msg models.ServerMessage) {
	for _, id := range r.Members() {
		if id == exceptID {
			continue
		}
		h.sendTo(id, msg)
	}
}

func (h *Hub) sendTo(userID string, msg models.ServerMessage) {
	conn, ok := h.registry.Get(userID)
	if !ok {
		return
	}
	if !conn.Send(msg) {
		slog.Warn("frame dropped", "user_id", userID, "type", msg.Type)
	}
}

func (h *Hub) handleRecordCallback(receiverID string, roomID string, record chat.Record) {
	h.sendTo(receiverID, models.ServerMessage{
		Type:     models.ServerMessageTypeReceiveMessage,
		Room:     roomID,
		Messages: []models.RoomMessage{roomMessage(record)},
	})
}

// Rooms returns the number of active rooms.
func (h *Hub) Rooms() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

func roomMessage(rec chat.Record) models.RoomMessage {
	return models.RoomMessage{
		Seq:         int64(rec.Seq),
		UserID:      rec.UserID,
		Username:    rec.Username,
		DisplayName: rec.DisplayName,
		Message:     rec.Content,
		HTML:        rec.HTML,
		Type:        rec.Type,
		Timestamp:   rec.Timestamp,
	}
}
