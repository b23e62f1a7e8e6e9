package presence

import (
	"errors"
	"miyav/internal/models"
	"testing"
	"time"
)

type memStore struct {
	accounts map[string]*models.Account
	err      error
}

func (s *memStore) GetAccount(id string) (models.Account, error) {
	a, ok := s.accounts[id]
	if !ok {
		return models.Account{}, models.ErrNotFound
	}
	return *a, nil
}

func (s *memStore) UpdateAccount(id string, fn func(*models.Account) error) (models.Account, error) {
	if s.err != nil {
		return models.Account{}, s.err
	}
	a, ok := s.accounts[id]
	if !ok {
		return models.Account{}, models.ErrNotFound
	}
	if err := fn(a); err != nil {
		return models.Account{}, err
	}
	return *a, nil
}

type statusCall struct {
	userID string
	status models.UserStatus
}

type gameCall struct {
	userID  string
	friends []string
	game    string
	playing bool
}

type recordingNotifier struct {
	statuses []statusCall
	games    []gameCall
}

func (n *recordingNotifier) NotifyStatus(userID string, status models.UserStatus) {
	n.statuses = append(n.statuses, statusCall{userID, status})
}

func (n *recordingNotifier) NotifyGameStatus(userID string, friendIDs []string, game string, playing bool) {
	n.games = append(n.games, gameCall{userID, friendIDs, game, playing})
}

var t0 = time.Unix(1700000000, 0)

func newTracker() (*Tracker, *memStore, *recordingNotifier, *time.Time) {
	store := &memStore{accounts: map[string]*models.Account{
		"u1": {
			User:    models.User{ID: "u1", DisplayName: "Ayşe", Status: models.UserStatusOffline},
			Friends: []string{"u2"},
		},
	}}
	n := &recordingNotifier{}
	tr := NewTracker(store, n)
	now := t0
	tr.now = func() time.Time { return now }
	return tr, store, n, &now
}

func TestTracker_ConnectDisconnect(t *testing.T) {
	tr, store, n, now := newTracker()

	if err := tr.Connected("u1"); err != nil {
		t.Fatalf("Connected: %v", err)
	}
	if store.accounts["u1"].Status != models.UserStatusOnline {
		t.Errorf("expected online, got %s", store.accounts["u1"].Status)
	}
	if store.accounts["u1"].LastSeen != t0.Unix() {
		t.Errorf("lastSeen not updated")
	}

	*now = now.Add(time.Minute)
	if err := tr.Disconnected("u1"); err != nil {
		t.Fatalf("Disconnected: %v", err)
	}
	p, err := tr.Get("u1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != models.UserStatusOffline || p.LastSeen != t0.Add(time.Minute).Unix() {
		t.Errorf("unexpected presence: %+v", p)
	}

	want := []statusCall{{"u1", models.UserStatusOnline}, {"u1", models.UserStatusOffline}}
	if len(n.statuses) != len(want) {
		t.Fatalf("expected %d notifications, got %d", len(want), len(n.statuses))
	}
	for i := range want {
		if n.statuses[i] != want[i] {
			t.Errorf("notification %d: expected %+v, got %+v", i, want[i], n.statuses[i])
		}
	}
}

func TestTracker_GameStatus(t *testing.T) {
	tr, store, n, now := newTracker()

	g, err := tr.GameStatus("u1", "Dota 2", true)
	if err != nil {
		t.Fatal(err)
	}
	if g.Name != "Dota 2" || g.StartTime != t0.Unix() {
		t.Errorf("unexpected game: %+v", g)
	}
	acc := store.accounts["u1"]
	if acc.Status != models.UserStatusBusy || acc.CurrentGame == nil {
		t.Fatalf("expected busy with game, got %s %+v", acc.Status, acc.CurrentGame)
	}

	*now = now.Add(90 * time.Second)
	g, err = tr.GameStatus("u1", "", false)
	if err != nil {
		t.Fatal(err)
	}
	if g.Name != "Dota 2" || g.Duration != 90 {
		t.Errorf("unexpected finished game: %+v", g)
	}
	if acc.Status != models.UserStatusOnline || acc.CurrentGame != nil {
		t.Errorf("expected online without game, got %s %+v", acc.Status, acc.CurrentGame)
	}

	if len(n.games) != 2 {
		t.Fatalf("expected 2 game notifications, got %d", len(n.games))
	}
	if !n.games[0].playing || n.games[1].playing {
		t.Errorf("unexpected playing flags: %+v", n.games)
	}
	if n.games[1].game != "Dota 2" || len(n.games[1].friends) != 1 || n.games[1].friends[0] != "u2" {
		t.Errorf("unexpected stop notification: %+v", n.games[1])
	}
}

func TestTracker_PlayingWithoutNameStops(t *testing.T) {
	tr, store, _, _ := newTracker()
	if _, err := tr.GameStatus("u1", "", true); err != nil {
		t.Fatal(err)
	}
	if store.accounts["u1"].Status != models.UserStatusOnline {
		t.Errorf("expected online, got %s", store.accounts["u1"].Status)
	}
}

func TestTracker_SetStatus(t *testing.T) {
	tr, store, n, _ := newTracker()

	if err := tr.SetStatus("u1", models.UserStatusBusy); err != nil {
		t.Fatal(err)
	}
	if store.accounts["u1"].Status != models.UserStatusBusy {
		t.Error("status not persisted")
	}
	if len(n.statuses) != 1 {
		t.Error("friends not notified")
	}

	if err := tr.SetStatus("u1", "away"); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestTracker_Errors(t *testing.T) {
	tr, store, n, _ := newTracker()

	if err := tr.Connected("unknown"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	store.err = errors.New("db down")
	if err := tr.Disconnected("u1"); err == nil {
		t.Error("expected error")
	}
	if len(n.statuses) != 0 {
		t.Error("friends must not be notified when the update fails")
	}
}
