// Package notify builds user notifications and delivers them to live connections.
package notify

import (
	"context"
	"log/slog"
	"miyav/internal/models"
	"miyav/internal/registry"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	offlineTimeout = 10 * time.Second
	// offlineWorkers bounds concurrent offline deliveries. Extra ones are dropped.
	offlineWorkers = 16
)

type connections interface {
	Get(userID string) (registry.Handle, bool)
}

type accounts interface {
	GetAccount(id string) (models.Account, error)
}

// OfflineNotifier receives notifications for users without a live connection.
type OfflineNotifier interface {
	NotifyOffline(ctx context.Context, userID string, n models.Notification) error
}

type Dispatcher struct {
	conns   connections
	users   accounts
	offline OfflineNotifier
	pushes  *errgroup.Group
	now     func() time.Time
}

// NewDispatcher creates a dispatcher. offline may be nil, in which case
// notifications for disconnected users are dropped.
func NewDispatcher(conns connections, users accounts, offline OfflineNotifier) *Dispatcher {
	pushes := &errgroup.Group{}
	pushes.SetLimit(offlineWorkers)
	return &Dispatcher{
		conns:   conns,
		users:   users,
		offline: offline,
		pushes:  pushes,
		now:     time.Now,
	}
}

// SendToUser delivers n to the user's live connection.
// There is no queue: if the user is not connected the notification is dropped.
func (d *Dispatcher) SendToUser(userID string, n models.Notification) {
	h, ok := d.conns.Get(userID)
	if !ok {
		if d.offline != nil && !d.pushes.TryGo(func() error {
			d.pushOffline(userID, n)
			return nil
		}) {
			slog.Warn("offline notification dropped", "user_id", userID, "type", n.Type)
		}
		return
	}

	if !h.Send(models.ServerMessage{
		Type:         models.ServerMessageTypeNotification,
		Notification: &n,
	}) {
		slog.Warn("notification dropped", "user_id", userID, "type", n.Type)
	}
}

func (d *Dispatcher) SendToUsers(userIDs []string, n models.Notification) {
	for _, id := range userIDs {
		d.SendToUser(id, n)
	}
}

// Wait blocks until in-flight offline deliveries finish.
func (d *Dispatcher) Wait() {
	_ = d.pushes.Wait()
}

func (d *Dispatcher) pushOffline(userID string, n models.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), offlineTimeout)
	defer cancel()
	if err := d.offline.NotifyOffline(ctx, userID, n); err != nil {
		slog.Error("offline notification failed", "user_id", userID, "error", err)
	}
}

// NotifyFriendRequest tells toID that fromID sent a friend request.
func (d *Dispatcher) NotifyFriendRequest(fromID, toID string) {
	from, err := d.users.GetAccount(fromID)
	if err != nil {
		slog.Error("send friend request notification", "user_id", fromID, "error", err)
		return
	}
	d.SendToUser(toID, FriendRequest(from.User, d.now()))
}

// NotifyMessage tells toID that fromID sent a direct message.
func (d *Dispatcher) NotifyMessage(fromID, toID, text string) {
	from, err := d.users.GetAccount(fromID)
	if err != nil {
		slog.Error("send message notification", "user_id", fromID, "error", err)
		return
	}
	d.SendToUser(toID, Message(from.User, text, d.now()))
}

// NotifyGameStatus tells friendIDs that userID started or stopped playing.
func (d *Dispatcher) NotifyGameStatus(userID string, friendIDs []string, game string, playing bool) {
	if len(friendIDs) == 0 {
		return
	}
	user, err := d.users.GetAccount(userID)
	if err != nil {
		slog.Error("send game status notification", "user_id", userID, "error", err)
		return
	}
	d.SendToUsers(friendIDs, GameStatus(user.User, game, playing, d.now()))
}

// NotifyStatus tells all friends of userID about its new status.
func (d *Dispatcher) NotifyStatus(userID string, status models.UserStatus) {
	user, err := d.users.GetAccount(userID)
	if err != nil {
		slog.Error("send status notification", "user_id", userID, "error", err)
		return
	}
	if len(user.Friends) == 0 {
		return
	}
	d.SendToUsers(user.Friends, StatusChange(user.User, status, d.now()))
}

func (d *Dispatcher) NotifySystem(userIDs []string, title, message string, data any) {
	d.SendToUsers(userIDs, System(title, message, data, d.now()))
}
