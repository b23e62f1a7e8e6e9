// Package games tracks what users are playing and serves the game catalogue.
package games

import (
	"errors"
	"miyav/internal/models"
	"strings"
	"time"
	"unicode/utf8"
)

var ErrQueryTooShort = errors.New("search query must be at least 2 characters")

type PopularGame struct {
	Name    string `json:"name"`
	Players int    `json:"players"`
}

var popular = []PopularGame{
	{Name: "Counter-Strike 2", Players: 1250000},
	{Name: "Dota 2", Players: 850000},
	{Name: "League of Legends", Players: 2100000},
	{Name: "Valorant", Players: 950000},
	{Name: "Fortnite", Players: 1800000},
	{Name: "Minecraft", Players: 1200000},
	{Name: "GTA V", Players: 750000},
	{Name: "Call of Duty: Warzone", Players: 1100000},
}

var catalogue = []string{
	"Counter-Strike 2", "Dota 2", "League of Legends", "Valorant",
	"Fortnite", "Minecraft", "GTA V", "Call of Duty: Warzone",
	"Apex Legends", "PUBG", "Overwatch 2", "Rocket League",
	"FIFA 24", "NBA 2K24", "Madden NFL 24", "The Sims 4",
}

type Store interface {
	GetAccount(id string) (models.Account, error)
	ListAccounts(ids []string) ([]models.Account, error)
}

// Tracker applies game status changes and notifies friends.
type Tracker interface {
	GameStatus(userID, game string, playing bool) (models.Game, error)
}

type StatusRequest struct {
	GameName  string `json:"gameName"`
	IsPlaying bool   `json:"isPlaying"`
}

type StatusResponse struct {
	Message  string       `json:"message"`
	Game     *models.Game `json:"game,omitempty"`
	Duration *int64       `json:"duration,omitempty"`
}

type Service struct {
	store   Store
	tracker Tracker
	now     func() time.Time
}

func NewService(store Store, tracker Tracker) *Service {
	return &Service{
		store:   store,
		tracker: tracker,
		now:     time.Now,
	}
}

// UpdateStatus starts or stops the user's current game.
func (s *Service) UpdateStatus(userID string, req StatusRequest) (StatusResponse, error) {
	req.GameName = strings.TrimSpace(req.GameName)
	msg := models.ClientMessage{Type: models.ClientMessageTypeGameStatus, GameName: req.GameName, IsPlaying: req.IsPlaying}
	if err := msg.Validate(); err != nil {
		return StatusResponse{}, err
	}

	game, err := s.tracker.GameStatus(userID, req.GameName, req.IsPlaying)
	if err != nil {
		return StatusResponse{}, err
	}

	if req.IsPlaying {
		return StatusResponse{Message: "Game status updated", Game: &game}, nil
	}
	return StatusResponse{Message: "Game stopped", Duration: &game.Duration}, nil
}

// Current returns the game the user is playing or nil.
func (s *Service) Current(userID string) (*models.Game, error) {
	acc, err := s.store.GetAccount(userID)
	if err != nil {
		return nil, err
	}
	if acc.CurrentGame == nil {
		return nil, nil
	}
	g := acc.CurrentGame.Elapsed(s.now())
	return &g, nil
}

// Friends returns the user's friends together with their current games.
func (s *Service) Friends(userID string) ([]models.User, error) {
	acc, err := s.store.GetAccount(userID)
	if err != nil {
		return nil, err
	}
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

func Popular() []PopularGame {
	return append([]PopularGame(nil), popular...)
}

// Search matches the catalogue case-insensitively.
func Search(query string) ([]string, error) {
	if utf8.RuneCountInString(query) < 2 {
		return nil, ErrQueryTooShort
	}
	q := strings.ToLower(query)
	matches := []string{}
	for _, g := range catalogue {
		if strings.Contains(strings.ToLower(g), q) {
			matches = append(matches, g)
		}
	}
	return matches, nil
}
