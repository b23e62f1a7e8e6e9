// Package friends manages friend requests and friend lists.
package friends

import (
	"errors"
	"fmt"
	"miyav/internal/models"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	minQueryLength = 2
	searchLimit    = 20
)

var (
	ErrCannotAddSelf    = errors.New("you cannot send friend request to yourself")
	ErrAlreadyFriends   = errors.New("you are already friends with this user")
	ErrRequestPending   = errors.New("friend request already sent")
	ErrRequestProcessed = errors.New("friend request already processed")
	ErrQueryTooShort    = errors.New("search query must be at least 2 characters")
)

type Store interface {
	GetAccount(id string) (models.Account, error)
	GetAccountByUsername(username string) (models.Account, error)
	ListAccounts(ids []string) ([]models.Account, error)
	SearchAccounts(query string, limit int) ([]models.Account, error)
	UpdateAccount(id string, fn func(*models.Account) error) (models.Account, error)
	UpdatePair(idA, idB string, fn func(a, b *models.Account) error) error
}

type Notifier interface {
	NotifyFriendRequest(fromID, toID string)
}

type PendingRequest struct {
	ID        string             `json:"id"`
	From      models.UserSummary `json:"from"`
	CreatedAt int64              `json:"createdAt"`
}

type Overview struct {
	Friends        []models.User    `json:"friends"`
	FriendRequests []PendingRequest `json:"friendRequests"`
}

type Service struct {
	store    Store
	notifier Notifier
	now      func() time.Time
}

func NewService(store Store, notifier Notifier) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		now:      time.Now,
	}
}

// List returns the user's friends with live game durations and the pending requests.
func (s *Service) List(userID string) (Overview, error) {
	acc, err := s.store.GetAccount(userID)
	if err != nil {
		return Overview{}, err
	}

	friends, err := s.Friends(acc)
	if err != nil {
		return Overview{}, err
	}

	var fromIDs []string
	for _, r := range acc.FriendRequests {
		if r.Status == models.FriendRequestStatusPending {
			fromIDs = append(fromIDs, r.From)
		}
	}
	senders, err := s.store.ListAccounts(fromIDs)
	if err != nil {
		return Overview{}, err
	}
	byID := make(map[string]models.User, len(senders))
	for _, a := range senders {
		byID[a.ID] = a.User
	}

	requests := []PendingRequest{}
	for _, r := range acc.FriendRequests {
		from, ok := byID[r.From]
		if r.Status != models.FriendRequestStatusPending || !ok {
			continue
		}
		requests = append(requests, PendingRequest{
			ID:        r.ID,
			From:      from.Summary(),
			CreatedAt: r.CreatedAt,
		})
	}

	return Overview{Friends: friends, FriendRequests: requests}, nil
}

// Friends loads the friend profiles of acc.
func (s *Service) Friends(acc models.Account) ([]models.User, error) {
	accounts, err := s.store.ListAccounts(acc.Friends)
	if err != nil {
		return nil, err
	}
	now := s.now()
	friends := make([]models.User, 0, len(accounts))
	for _, a := range accounts {
		friends = append(friends, a.User.WithGameDuration(now))
	}
	return friends, nil
}

// SendRequest sends a friend request from fromID to the user called username.
func (s *Service) SendRequest(fromID, username string) error {
	target, err := s.store.GetAccountByUsername(username)
	if err != nil {
		return err
	}
	if target.ID == fromID {
		return ErrCannotAddSelf
	}

	_, err = s.store.UpdateAccount(target.ID, func(a *models.Account) error {
		if a.IsFriend(fromID) {
			return ErrAlreadyFriends
		}
		if _, ok := a.PendingRequestFrom(fromID); ok {
			return ErrRequestPending
		}
		a.FriendRequests = append(a.FriendRequests, models.FriendRequest{
			ID:        uuid.NewString(),
			From:      fromID,
			Status:    models.FriendRequestStatusPending,
			CreatedAt: s.now().Unix(),
		})
		return nil
	})
	if err != nil {
		return err
	}

	s.notifier.NotifyFriendRequest(fromID, target.ID)
	return nil
}

func (s *Service) pendingRequest(userID, requestID string) (models.FriendRequest, error) {
	acc, err := s.store.GetAccount(userID)
	if err != nil {
		return models.FriendRequest{}, err
	}
	r, ok := acc.FriendRequest(requestID)
	if !ok {
		return models.FriendRequest{}, fmt.Errorf("friend request %s: %w", requestID, models.ErrNotFound)
	}
	if r.Status != models.FriendRequestStatusPending {
		return models.FriendRequest{}, ErrRequestProcessed
	}
	return *r, nil
}

// Accept accepts the request and links both users as friends.
func (s *Service) Accept(userID, requestID string) error {
	req, err := s.pendingRequest(userID, requestID)
	if err != nil {
		return err
	}
	return s.store.UpdatePair(userID, req.From, func(me, from *models.Account) error {
		r, ok := me.FriendRequest(requestID)
		if !ok || r.Status != models.FriendRequestStatusPending {
			return ErrRequestProcessed
		}
		r.Status = models.FriendRequestStatusAccepted
		me.AddFriend(from.ID)
		from.AddFriend(me.ID)
		return nil
	})
}

func (s *Service) Reject(userID, requestID string) error {
	if _, err := s.pendingRequest(userID, requestID); err != nil {
		return err
	}
	_, err := s.store.UpdateAccount(userID, func(a *models.Account) error {
		r, ok := a.FriendRequest(requestID)
		if !ok || r.Status != models.FriendRequestStatusPending {
			return ErrRequestProcessed
		}
		r.Status = models.FriendRequestStatusRejected
		return nil
	})
	return err
}

// Remove unlinks two friends. A vanished friend account is only removed from userID's list.
func (s *Service) Remove(userID, friendID string) error {
	err := s.store.UpdatePair(userID, friendID, func(me, friend *models.Account) error {
		me.RemoveFriend(friend.ID)
		friend.RemoveFriend(me.ID)
		return nil
	})
	if errors.Is(err, models.ErrNotFound) {
		_, err = s.store.UpdateAccount(userID, func(a *models.Account) error {
			a.RemoveFriend(friendID)
			return nil
		})
	}
	return err
}

// Search finds users by username or display name, excluding the caller and their friends.
func (s *Service) Search(userID, query string) ([]models.User, error) {
	if utf8.RuneCountInString(query) < minQueryLength {
		return nil, ErrQueryTooShort
	}
	me, err := s.store.GetAccount(userID)
	if err != nil {
		return nil, err
	}

	found, err := s.store.SearchAccounts(query, searchLimit+len(me.Friends)+1)
	if err != nil {
		return nil, err
	}

	users := []models.User{}
	for _, a := range found {
		if a.ID == userID || me.IsFriend(a.ID) {
			continue
		}
		u := a.User
		u.CurrentGame = nil
		users = append(users, u)
		if len(users) == searchLimit {
			break
		}
	}
	return users, nil
}
