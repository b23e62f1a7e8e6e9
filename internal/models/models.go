package models

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
)

type UserStatus string

const (
	UserStatusOnline  UserStatus = "online"
	UserStatusOffline UserStatus = "offline"
	UserStatusBusy    UserStatus = "busy"
)

func (s UserStatus) Valid() bool {
	switch s {
	case UserStatusOnline, UserStatusOffline, UserStatusBusy:
		return true
	}
	return false
}

// Game is the game a user is currently playing.
type Game struct {
	Name      string `json:"name"`
	StartTime int64  `json:"startTime"` // Unix timestamp (seconds)
	Duration  int64  `json:"duration"`  // Seconds played, computed on read
}

// Elapsed returns a copy of the game with Duration set relative to now.
func (g Game) Elapsed(now time.Time) Game {
	if g.StartTime > 0 {
		g.Duration = max(now.Unix()-g.StartTime, 0)
	}
	return g
}

// User is the public profile of a user.
type User struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	DisplayName string     `json:"displayName"`
	Avatar      string     `json:"avatar"`
	Status      UserStatus `json:"status"`
	LastSeen    int64      `json:"lastSeen"` // Unix timestamp (seconds)
	CurrentGame *Game      `json:"currentGame"`
}

// Summary returns the short form of the profile used inside notifications.
func (u User) Summary() UserSummary {
	return UserSummary{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Avatar:      u.Avatar,
	}
}

// WithGameDuration returns a copy of the user whose current game has an up to date duration.
func (u User) WithGameDuration(now time.Time) User {
	if u.CurrentGame != nil {
		g := u.CurrentGame.Elapsed(now)
		u.CurrentGame = &g
	}
	return u
}

type UserSummary struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar"`
}

// Presence represents the connectivity status of a user.
type Presence struct {
	UserID   string     `json:"userId"`
	Status   UserStatus `json:"status"`
	LastSeen int64      `json:"lastSeen"`
}

// Account is the full user record as it is persisted.
type Account struct {
	User
	Email            string          `json:"email"`
	PasswordHash     string          `json:"-"`
	Friends          []string        `json:"friends"`
	FriendRequests   []FriendRequest `json:"friendRequests"`
	PushSubscription string          `json:"-"`
	CreatedAt        int64           `json:"createdAt"`
}

func (a *Account) Presence() Presence {
	return Presence{
		UserID:   a.ID,
		Status:   a.Status,
		LastSeen: a.LastSeen,
	}
}

func (a *Account) IsFriend(userID string) bool {
	for _, id := range a.Friends {
		if id == userID {
			return true
		}
	}
	return false
}

// AddFriend links userID once; it reports whether the list changed.
func (a *Account) AddFriend(userID string) bool {
	if a.IsFriend(userID) {
		return false
	}
	a.Friends = append(a.Friends, userID)
	return true
}

func (a *Account) RemoveFriend(userID string) {
	kept := a.Friends[:0]
	for _, id := range a.Friends {
		if id != userID {
			kept = append(kept, id)
		}
	}
	a.Friends = kept
}

// FriendRequest returns the request with the given id.
func (a *Account) FriendRequest(id string) (*FriendRequest, bool) {
	for i := range a.FriendRequests {
		if a.FriendRequests[i].ID == id {
			return &a.FriendRequests[i], true
		}
	}
	return nil, false
}

// PendingRequestFrom returns the pending request sent by userID, if any.
func (a *Account) PendingRequestFrom(userID string) (*FriendRequest, bool) {
	for i := range a.FriendRequests {
		r := &a.FriendRequests[i]
		if r.From == userID && r.Status == FriendRequestStatusPending {
			return r, true
		}
	}
	return nil, false
}

type FriendRequestStatus string

const (
	FriendRequestStatusPending  FriendRequestStatus = "pending"
	FriendRequestStatusAccepted FriendRequestStatus = "accepted"
	FriendRequestStatusRejected FriendRequestStatus = "rejected"
)

type FriendRequest struct {
	ID        string              `json:"id"`
	From      string              `json:"from"`
	Status    FriendRequestStatus `json:"status"`
	CreatedAt int64               `json:"createdAt"`
}

// DirectMessage is a persisted message between two users.
type DirectMessage struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
	Room      string `json:"room"`
	Content   string `json:"content"`
	Type      string `json:"type"`
	CreatedAt int64  `json:"createdAt"`
}

type NotificationType string

const (
	NotificationTypeFriendRequest NotificationType = "friend_request"
	NotificationTypeMessage       NotificationType = "new_message"
	NotificationTypeGameStatus    NotificationType = "game_status"
	NotificationTypeStatusChange  NotificationType = "status_change"
	NotificationTypeSystem        NotificationType = "system"
)

// Notification is a push event delivered to a single connected user.
// It is fire-and-forget and never persisted.
type Notification struct {
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Data      any              `json:"data,omitempty"`
	Timestamp int64            `json:"timestamp"`
}

type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
