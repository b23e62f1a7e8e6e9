// Package presence derives a user's online/offline/busy status and tells their friends about it.
package presence

import (
	"fmt"
	"miyav/internal/models"
	"time"
)

type Store interface {
	GetAccount(id string) (models.Account, error)
	UpdateAccount(id string, fn func(*models.Account) error) (models.Account, error)
}

type Notifier interface {
	NotifyStatus(userID string, status models.UserStatus)
	NotifyGameStatus(userID string, friendIDs []string, game string, playing bool)
}

type Tracker struct {
	store    Store
	notifier Notifier
	now      func() time.Time
}

func NewTracker(store Store, notifier Notifier) *Tracker {
	return &Tracker{
		store:    store,
		notifier: notifier,
		now:      time.Now,
	}
}

// Connected marks the user online and notifies friends.
func (t *Tracker) Connected(userID string) error {
	return t.transition(userID, models.UserStatusOnline)
}

// Disconnected marks the user offline and notifies friends.
func (t *Tracker) Disconnected(userID string) error {
	return t.transition(userID, models.UserStatusOffline)
}

// SetStatus applies a status chosen by the user.
func (t *Tracker) SetStatus(userID string, status models.UserStatus) error {
	if !status.Valid() {
		return fmt.Errorf("unknown status %q", status)
	}
	if _, err := t.store.UpdateAccount(userID, func(a *models.Account) error {
		a.Status = status
		return nil
	}); err != nil {
		return fmt.Errorf("update status of %s: %w", userID, err)
	}
	t.notifier.NotifyStatus(userID, status)
	return nil
}

func (t *Tracker) transition(userID string, status models.UserStatus) error {
	now := t.now()
	if _, err := t.store.UpdateAccount(userID, func(a *models.Account) error {
		a.Status = status
		a.LastSeen = now.Unix()
		return nil
	}); err != nil {
		return fmt.Errorf("set %s %s: %w", userID, status, err)
	}
	t.notifier.NotifyStatus(userID, status)
	return nil
}

// GameStatus records that the user started (playing with a game name) or stopped playing.
// Starting makes the user busy; stopping brings them back online and returns the
// finished game with its played duration.
func (t *Tracker) GameStatus(userID, game string, playing bool) (models.Game, error) {
	now := t.now()
	var result models.Game

	acc, err := t.store.UpdateAccount(userID, func(a *models.Account) error {
		if playing && game != "" {
			result = models.Game{Name: game, StartTime: now.Unix()}
			a.CurrentGame = &result
			a.Status = models.UserStatusBusy
			return nil
		}

		if a.CurrentGame != nil {
			result = a.CurrentGame.Elapsed(now)
		}
		if game != "" {
			result.Name = game
		}
		a.CurrentGame = nil
		a.Status = models.UserStatusOnline
		return nil
	})
	if err != nil {
		return models.Game{}, fmt.Errorf("update game status of %s: %w", userID, err)
	}

	t.notifier.NotifyGameStatus(userID, acc.Friends, result.Name, playing && game != "")
	return result, nil
}

func (t *Tracker) Get(userID string) (models.Presence, error) {
	acc, err := t.store.GetAccount(userID)
	if err != nil {
		return models.Presence{}, err
	}
	return acc.Presence(), nil
}
